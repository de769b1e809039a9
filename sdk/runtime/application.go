package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ChenBigdata421/jxt-iot/sdk/config"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/dispatcher"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/resilience"
	gormadapter "github.com/ChenBigdata421/jxt-iot/sdk/pkg/resilience/adapters/gorm"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/topic"
)

// maintenanceTimeout 单次维护任务的最长执行时间
const maintenanceTimeout = 30 * time.Second

type Application struct {
	cfg *config.Config

	compiler   *topic.Compiler             //模板编译缓存
	registry   *topic.Registry             //主题路由表
	handlers   *dispatcher.HandlerRegistry //处理器工厂
	router     *dispatcher.TopicRouter     //主题路由
	policies   *resilience.Policies        //容错策略
	dispatcher *dispatcher.Dispatcher      //分区分发器
	crontab    *cron.Cron                  //维护任务

	db    *gorm.DB      //兜底存储（gorm后端）
	redis *redis.Client //幂等记录（redis后端）

	mux     sync.RWMutex           //互斥锁
	configs map[string]interface{} // 系统参数
}

type options struct {
	policyOptions []resilience.PolicyOption
	registerer    prometheus.Registerer
	plugins       []dispatcher.Plugin
}

// Option 应用选项
type Option func(o *options)

// WithPolicyOptions 替换容错策略的默认实现，优先于配置中的后端
func WithPolicyOptions(opts ...resilience.PolicyOption) Option {
	return func(o *options) { o.policyOptions = append(o.policyOptions, opts...) }
}

// WithMetricsRegisterer 启用 Prometheus 指标并注册到 reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPlugins 注册处理器之后执行的插件
func WithPlugins(plugins ...dispatcher.Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, plugins...) }
}

// NewApplication 按配置装配全部组件；cfg 为空时使用 config.AppConfig
func NewApplication(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.AppConfig
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	e := &Application{
		cfg:     cfg,
		configs: make(map[string]interface{}),
	}
	e.compiler = topic.NewCompiler(cfg.Dispatcher.TemplateCacheTTL)
	e.registry = topic.NewRegistry(e.compiler)
	e.handlers = dispatcher.NewHandlerRegistry()
	e.router = dispatcher.NewTopicRouter(e.registry, e.handlers, dispatcher.WithPlugins(o.plugins...))

	policyOptions, err := e.backendOptions()
	if err != nil {
		e.closeBackends()
		return nil, err
	}
	e.policies = resilience.NewPolicies(*cfg.Resilience, append(policyOptions, o.policyOptions...)...)

	dispatcherOptions := []dispatcher.Option{dispatcher.WithLogger(logger.Named("dispatcher"))}
	if e.policies.Fallback != nil {
		dispatcherOptions = append(dispatcherOptions, dispatcher.WithFallbackStore(e.policies.Fallback))
	}
	if o.registerer != nil {
		dispatcherOptions = append(dispatcherOptions,
			dispatcher.WithMetrics(dispatcher.NewPrometheusMetricsCollector(cfg.Application.Name, o.registerer)))
	}
	e.dispatcher, err = dispatcher.New(*cfg.Dispatcher,
		dispatcher.NewResilientRouter(e.router, e.policies, nil), dispatcherOptions...)
	if err != nil {
		e.closeBackends()
		return nil, err
	}

	e.crontab = cron.New(cron.WithLogger(cronLogger{logger.Named("cron").Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{logger.Named("cron").Sugar()})))
	if cfg.Resilience.Maintenance.Enabled {
		if _, err := e.crontab.AddFunc(cfg.Resilience.Maintenance.Spec, e.RunMaintenance); err != nil {
			e.closeBackends()
			return nil, fmt.Errorf("invalid maintenance spec %q: %w", cfg.Resilience.Maintenance.Spec, err)
		}
	}
	return e, nil
}

// backendOptions 连接配置中选择的外部后端
func (e *Application) backendOptions() ([]resilience.PolicyOption, error) {
	cfg := e.cfg
	var opts []resilience.PolicyOption

	if cfg.Resilience.Idempotency.Enabled && cfg.Resilience.Idempotency.Backend == config.BackendRedis {
		client, err := cfg.Redis.NewClient()
		if err != nil {
			return nil, err
		}
		e.redis = client
		opts = append(opts, resilience.WithIdempotencyChecker(resilience.NewRedisIdempotency(
			client, cfg.Resilience.Idempotency.KeyPrefix, cfg.Resilience.Idempotency.TTL)))
	}

	if cfg.Resilience.Fallback.Enabled && cfg.Resilience.Fallback.Backend == config.BackendGorm {
		db, err := cfg.Database.Open(logger.NewGormLogger(logger.Logger, cfg.Logger.GormLoggerLevel))
		if err != nil {
			return nil, err
		}
		e.db = db
		repo := gormadapter.NewGormFallbackRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate fallback table: %w", err)
		}
		opts = append(opts, resilience.WithFallbackStore(repo))
	}
	return opts, nil
}

// RegisterRoute 注册主题模板
func (e *Application) RegisterRoute(entry topic.RouteEntry) error {
	return e.registry.Register(entry)
}

// RegisterHandler 注册处理器构造函数
func (e *Application) RegisterHandler(handlerType string, constructor dispatcher.HandlerConstructor) error {
	return e.handlers.Register(handlerType, constructor)
}

// AddPlugin 追加插件
func (e *Application) AddPlugin(plugin dispatcher.Plugin) {
	e.router.AddPlugin(plugin)
}

// Start 启动分发器，启用维护任务时同时启动 crontab
func (e *Application) Start(ctx context.Context) error {
	if err := e.dispatcher.Start(ctx); err != nil {
		return err
	}
	if e.cfg.Resilience.Maintenance.Enabled {
		e.crontab.Start()
	}
	logger.Named("runtime").Info("application started",
		zap.String("name", e.cfg.Application.Name),
		zap.String("mode", e.cfg.Application.Mode),
		zap.Int("routes", e.registry.Len()),
		zap.Strings("handlers", e.handlers.Types()))
	return nil
}

// Stop 先等待运行中的维护任务结束，再排空分发器，最后关闭外部连接
func (e *Application) Stop() error {
	<-e.crontab.Stop().Done()
	err := e.dispatcher.Stop()
	return errors.Join(err, e.closeBackends())
}

func (e *Application) closeBackends() error {
	var errs []error
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		e.redis = nil
	}
	if e.db != nil {
		if sqlDB, err := e.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		e.db = nil
	}
	return errors.Join(errs...)
}

// Enqueue 投递消息
func (e *Application) Enqueue(ctx context.Context, env *envelope.Envelope) error {
	return e.dispatcher.Enqueue(ctx, env)
}

// RunMaintenance 清理过期的模板缓存和幂等记录
func (e *Application) RunMaintenance() {
	log := logger.Named("maintenance")
	purged := e.compiler.PurgeExpired()

	cleaned := 0
	if e.policies.Idempotency != nil {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
		defer cancel()
		n, err := e.policies.Idempotency.CleanupExpired(ctx)
		if err != nil {
			log.Warn("idempotency cleanup failed", zap.Error(err))
		}
		cleaned = n
	}
	log.Debug("maintenance finished",
		zap.Int("templatesPurged", purged),
		zap.Int("idempotencyCleaned", cleaned))
}

func (e *Application) GetRegistry() *topic.Registry {
	return e.registry
}

func (e *Application) GetDispatcher() *dispatcher.Dispatcher {
	return e.dispatcher
}

func (e *Application) GetPolicies() *resilience.Policies {
	return e.policies
}

// GetCrontab 获取维护任务的 crontab，可追加业务定时任务
func (e *Application) GetCrontab() *cron.Cron {
	return e.crontab
}

// SetLogger 设置日志组件
func (e *Application) SetLogger(l *zap.Logger) {
	logger.Logger = l
}

// GetLogger 获取日志组件
func (e *Application) GetLogger() *zap.Logger {
	return logger.Logger
}

// SetConfig 设置对应key的config
func (e *Application) SetConfig(key string, value interface{}) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.configs[key] = value
}

// GetConfig 获取对应key的config
func (e *Application) GetConfig(key string) interface{} {
	e.mux.RLock()
	defer e.mux.RUnlock()
	return e.configs[key]
}

// cronLogger 把 cron 的日志转到 zap
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

var _ Runtime = (*Application)(nil)
