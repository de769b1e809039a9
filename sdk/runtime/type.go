package runtime

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/dispatcher"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/resilience"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/topic"
)

type Runtime interface {
	// RegisterRoute 注册主题模板及其处理器类型
	RegisterRoute(entry topic.RouteEntry) error
	// RegisterHandler 注册处理器构造函数，每条消息创建一个新实例
	RegisterHandler(handlerType string, constructor dispatcher.HandlerConstructor) error
	// AddPlugin 处理器成功后按优先级执行的插件
	AddPlugin(plugin dispatcher.Plugin)

	// Start 启动分发器和维护任务
	Start(ctx context.Context) error
	// Stop 停止维护任务，排空并停止分发器，关闭外部连接
	Stop() error
	// Enqueue 投递一条消息
	Enqueue(ctx context.Context, env *envelope.Envelope) error

	GetRegistry() *topic.Registry
	GetDispatcher() *dispatcher.Dispatcher
	GetPolicies() *resilience.Policies

	// RunMaintenance 执行一次维护：清理模板缓存和过期的幂等记录
	RunMaintenance()
	GetCrontab() *cron.Cron

	// SetLogger 使用zap
	SetLogger(logger *zap.Logger)
	GetLogger() *zap.Logger

	GetConfig(key string) interface{}
	SetConfig(key string, value interface{})
}
