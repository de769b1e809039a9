package dispatcher

import "errors"

var (
	// ErrDispatcherNotStarted Start 之前调用 Enqueue
	ErrDispatcherNotStarted = errors.New("dispatcher: not started")
	// ErrDispatcherStopped 分发器已停止（或正在停止），拒绝新消息
	ErrDispatcherStopped = errors.New("dispatcher: stopped")

	// ErrNoRoute 没有模板匹配消息主题
	ErrNoRoute = errors.New("dispatcher: no route matches topic")
	// ErrParse 处理器无法解析负载，处理器返回的错误包装它时标记为解析失败
	ErrParse = errors.New("dispatcher: payload parse failed")
	// ErrUnknownHandlerType 处理器类型未注册
	ErrUnknownHandlerType = errors.New("dispatcher: unknown handler type")
	// ErrHandlerPanic 路由或处理器发生 panic
	ErrHandlerPanic = errors.New("dispatcher: handler panic")
)
