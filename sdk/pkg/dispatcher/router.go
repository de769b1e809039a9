package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/topic"
	"go.uber.org/zap"
)

// 步骤名
const (
	StepRoute        = "route"
	StepHandler      = "handler"
	StepPluginPrefix = "plugin:"
)

// Outcome 单条消息的路由结果
type Outcome int

const (
	OutcomeRouted    Outcome = iota // 处理器成功
	OutcomeFailed                   // 路由、解析或处理器失败
	OutcomeDuplicate                // 幂等检查命中，跳过
	OutcomeDegraded                 // 熔断或隔离，走降级路径
	OutcomeFallback                 // 重试耗尽，写入兜底存储
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRouted:
		return "routed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// Router 把一条消息交给业务处理器；返回的错误成为该消息的终态错误
type Router interface {
	RouteMessage(ctx context.Context, env *envelope.Envelope) (Outcome, error)
}

// RouterFunc 函数适配器
type RouterFunc func(ctx context.Context, env *envelope.Envelope) (Outcome, error)

func (f RouterFunc) RouteMessage(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	return f(ctx, env)
}

// Result 处理器的解析结果，对分发核心不透明
type Result struct {
	Type  string
	Value interface{}
}

// Handler 业务处理器，每条消息一个实例
type Handler interface {
	Handle(ctx context.Context, env *envelope.Envelope) (Result, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, env *envelope.Envelope) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, env *envelope.Envelope) (Result, error) {
	return f(ctx, env)
}

// HandlerFactory 按路由创建处理器
type HandlerFactory interface {
	Create(route *topic.Route) (Handler, error)
}

// HandlerConstructor 处理器构造函数
type HandlerConstructor func(route topic.RouteEntry) Handler

// HandlerRegistry 处理器类型 → 构造函数
type HandlerRegistry struct {
	mu           sync.RWMutex
	constructors map[string]HandlerConstructor
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{constructors: make(map[string]HandlerConstructor)}
}

// Register 注册或覆盖处理器类型
func (r *HandlerRegistry) Register(handlerType string, ctor HandlerConstructor) error {
	if handlerType == "" || ctor == nil {
		return fmt.Errorf("dispatcher: handler type and constructor are required")
	}
	r.mu.Lock()
	r.constructors[handlerType] = ctor
	r.mu.Unlock()
	return nil
}

// RegisterFunc 注册无状态的函数处理器
func (r *HandlerRegistry) RegisterFunc(handlerType string, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("dispatcher: nil handler func for %q", handlerType)
	}
	return r.Register(handlerType, func(topic.RouteEntry) Handler { return fn })
}

// Create 每次调用返回新的处理器实例
func (r *HandlerRegistry) Create(route *topic.Route) (Handler, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[route.HandlerType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandlerType, route.HandlerType)
	}
	return ctor(route.RouteEntry), nil
}

// Types 已注册的处理器类型
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Plugin 解析成功后的后处理扩展点（存储、转发等）
type Plugin interface {
	Name() string
	Priority() int
	Process(ctx context.Context, env *envelope.Envelope) error
}

// TopicRouter 默认路由器：注册表匹配 → 处理器 → 插件
type TopicRouter struct {
	registry *topic.Registry
	factory  HandlerFactory
	logger   *zap.Logger

	mu      sync.RWMutex
	plugins []Plugin // 按优先级降序
}

// RouterOption 路由器选项
type RouterOption func(r *TopicRouter)

// WithPlugins 追加后处理插件
func WithPlugins(plugins ...Plugin) RouterOption {
	return func(r *TopicRouter) {
		r.plugins = append(r.plugins, plugins...)
	}
}

// NewTopicRouter 创建主题路由器，registry 为 nil 时使用默认注册表
func NewTopicRouter(registry *topic.Registry, factory HandlerFactory, opts ...RouterOption) *TopicRouter {
	if registry == nil {
		registry = topic.DefaultRegistry()
	}
	r := &TopicRouter{
		registry: registry,
		factory:  factory,
		logger:   logger.Logger.Named("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	sortPlugins(r.plugins)
	return r
}

// AddPlugin 运行期追加插件
func (r *TopicRouter) AddPlugin(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plugins := make([]Plugin, 0, len(r.plugins)+1)
	plugins = append(plugins, r.plugins...)
	plugins = append(plugins, p)
	sortPlugins(plugins)
	r.plugins = plugins
}

func sortPlugins(plugins []Plugin) {
	sort.SliceStable(plugins, func(i, j int) bool {
		return plugins[i].Priority() > plugins[j].Priority()
	})
}

// Registry 返回路由注册表
func (r *TopicRouter) Registry() *topic.Registry { return r.registry }

// RouteMessage 重复调用（重试）时占位符只写第一次，步骤结果被覆盖
func (r *TopicRouter) RouteMessage(ctx context.Context, env *envelope.Envelope) (Outcome, error) {
	start := time.Now()
	route, values, ok := r.registry.Match(env.Topic())
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoRoute, env.Topic())
		_ = env.RecordStep(StepRoute, false, time.Since(start), err.Error(), err)
		return OutcomeFailed, err
	}
	_ = env.RecordStep(StepRoute, true, time.Since(start), "", nil)

	if !env.HasPlaceholders() {
		if err := env.SetPlaceholders(values); err != nil {
			return OutcomeFailed, err
		}
	}

	handler, err := r.factory.Create(route)
	if err != nil {
		_ = env.RecordStep(StepHandler, false, 0, err.Error(), err)
		return OutcomeFailed, err
	}

	handleStart := time.Now()
	result, err := r.invoke(ctx, handler, env)
	elapsed := time.Since(handleStart)
	if err != nil {
		if errors.Is(err, ErrParse) {
			_ = env.MarkParseFailed(err.Error(), elapsed, err)
		} else {
			_ = env.RecordStep(StepHandler, false, elapsed, err.Error(), err)
		}
		r.logger.Debug("handler failed",
			zap.String("traceId", env.TraceID()),
			zap.String("topic", env.Topic()),
			zap.String("handlerType", route.HandlerType),
			zap.Error(err))
		return OutcomeFailed, err
	}

	if err := env.MarkParseSuccess(result.Type, result.Value, elapsed); err != nil {
		return OutcomeFailed, err
	}
	_ = env.RecordStep(StepHandler, true, elapsed, "", nil)

	r.runPlugins(ctx, env)
	return OutcomeRouted, nil
}

func (r *TopicRouter) invoke(ctx context.Context, h Handler, env *envelope.Envelope) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, rec)
			r.logger.Error("handler panic",
				zap.String("traceId", env.TraceID()),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return h.Handle(ctx, env)
}

// runPlugins 插件相互隔离，一个失败不影响后续插件
func (r *TopicRouter) runPlugins(ctx context.Context, env *envelope.Envelope) {
	r.mu.RLock()
	plugins := r.plugins
	r.mu.RUnlock()

	for _, p := range plugins {
		start := time.Now()
		err := r.runPlugin(ctx, p, env)
		name := StepPluginPrefix + p.Name()
		if err != nil {
			_ = env.RecordStep(name, false, time.Since(start), err.Error(), err)
			r.logger.Warn("plugin failed",
				zap.String("traceId", env.TraceID()),
				zap.String("plugin", p.Name()),
				zap.Error(err))
			continue
		}
		_ = env.RecordStep(name, true, time.Since(start), "", nil)
	}
}

func (r *TopicRouter) runPlugin(ctx context.Context, p Plugin, env *envelope.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: plugin %s: %v", ErrHandlerPanic, p.Name(), rec)
		}
	}()
	return p.Process(ctx, env)
}
