package envelope

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidState 状态迁移非法（例如解析结果重复写入）
	ErrInvalidState = errors.New("envelope: invalid state")
	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("envelope: invalid argument")
	// ErrDisposed 包络已释放，禁止再写入
	ErrDisposed = errors.New("envelope: disposed")
)

// ParseState 负载解析状态
type ParseState int32

const (
	ParseUnparsed ParseState = iota
	ParseSuccess
	ParseFailed
)

func (s ParseState) String() string {
	switch s {
	case ParseSuccess:
		return "success"
	case ParseFailed:
		return "failed"
	default:
		return "unparsed"
	}
}

// RawMessage 接入层收到的原始消息，构造后不可变
type RawMessage struct {
	Topic    string
	Payload  []byte
	ClientID string
}

// StepResult 单个处理步骤的执行结果
type StepResult struct {
	Name      string        `json:"name"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Cause     error         `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
}

// Envelope 单条消息的处理上下文：包裹不可变的原始消息，记录路由、解析、各步骤的可变状态。
//
// 生命周期：接入时创建 → 路由器与处理器写入 → 分发器在所在批次结束后 Dispose。
// Dispose 之后的写操作返回 ErrDisposed，读操作仍然可用。
type Envelope struct {
	traceID    string
	receivedAt time.Time
	raw        RawMessage
	identity   DeviceIdentity

	mu           sync.RWMutex
	messageID    string
	placeholders map[string]string

	parseState    ParseState
	parsedType    string
	parsedValue   interface{}
	parseDuration time.Duration
	parseError    string

	steps     map[string]*StepResult
	globalErr error

	attributes map[string]interface{}
	onDispose  []func()
	disposed   atomic.Bool
}

// Option 构造选项
type Option func(e *Envelope)

// WithMessageID 指定消息ID（通常取自负载中的 id 字段）
func WithMessageID(id string) Option {
	return func(e *Envelope) {
		e.messageID = id
	}
}

// WithDeviceIdentity 指定设备身份；不指定时从主题推导
func WithDeviceIdentity(productKey, deviceName string) Option {
	return func(e *Envelope) {
		e.identity = DeviceIdentity{ProductKey: productKey, DeviceName: deviceName}
	}
}

// WithTraceID 指定链路追踪ID；不指定时生成 UUIDv7
func WithTraceID(traceID string) Option {
	return func(e *Envelope) {
		e.traceID = traceID
	}
}

// WithReceivedAt 指定接收时间（测试或回放时使用）
func WithReceivedAt(t time.Time) Option {
	return func(e *Envelope) {
		e.receivedAt = t
	}
}

// New 创建消息包络。payload 会被拷贝，调用方之后修改原切片不影响包络。
func New(raw RawMessage, opts ...Option) *Envelope {
	payload := make([]byte, len(raw.Payload))
	copy(payload, raw.Payload)
	raw.Payload = payload

	e := &Envelope{
		raw:        raw,
		receivedAt: time.Now(),
		steps:      make(map[string]*StepResult),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.traceID == "" {
		e.traceID = newTraceID()
	}
	if e.identity.IsZero() {
		e.identity, _ = ParseDeviceIdentity(raw.Topic)
	}
	return e
}

// newTraceID 使用 UUID v7（按时间排序），时钟异常时回退到 v4
func newTraceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

func (e *Envelope) TraceID() string          { return e.traceID }
func (e *Envelope) ClientID() string         { return e.raw.ClientID }
func (e *Envelope) Topic() string            { return e.raw.Topic }
func (e *Envelope) ReceivedAt() time.Time    { return e.receivedAt }
func (e *Envelope) Identity() DeviceIdentity { return e.identity }

// Payload 返回原始负载，调用方不得修改返回的切片
func (e *Envelope) Payload() []byte { return e.raw.Payload }

// Raw 返回原始消息
func (e *Envelope) Raw() RawMessage { return e.raw }

// Elapsed 自接收以来经过的时间
func (e *Envelope) Elapsed() time.Duration { return time.Since(e.receivedAt) }

// MessageID 返回消息ID，未设置时为空
func (e *Envelope) MessageID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.messageID
}

// SetMessageID 设置消息ID，只允许写一次
func (e *Envelope) SetMessageID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty message id", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.messageID != "" {
		return fmt.Errorf("%w: message id already set", ErrInvalidState)
	}
	e.messageID = id
	return nil
}

// SetPlaceholders 写入从主题中提取的占位符值，只允许写一次
func (e *Envelope) SetPlaceholders(values map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.placeholders != nil {
		return fmt.Errorf("%w: placeholders already set", ErrInvalidState)
	}
	e.placeholders = make(map[string]string, len(values))
	for k, v := range values {
		e.placeholders[k] = v
	}
	return nil
}

// Placeholder 读取单个占位符值
func (e *Envelope) Placeholder(name string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.placeholders[name]
	return v, ok
}

// Placeholders 返回占位符值的拷贝
func (e *Envelope) Placeholders() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.placeholders))
	for k, v := range e.placeholders {
		out[k] = v
	}
	return out
}

// HasPlaceholders 占位符是否已经写入
func (e *Envelope) HasPlaceholders() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.placeholders != nil
}

// MarkParseSuccess 记录解析成功；已有解析结果（成功或失败）时返回 ErrInvalidState
func (e *Envelope) MarkParseSuccess(parsedType string, value interface{}, elapsed time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.parseState != ParseUnparsed {
		return fmt.Errorf("%w: parse already %s", ErrInvalidState, e.parseState)
	}
	e.parseState = ParseSuccess
	e.parsedType = parsedType
	e.parsedValue = value
	e.parseDuration = elapsed
	return nil
}

// MarkParseFailed 记录解析失败并把 cause 作为终态错误；已解析成功时返回 ErrInvalidState。
// 重复标记失败会覆盖错误信息与耗时。
func (e *Envelope) MarkParseFailed(message string, elapsed time.Duration, cause error) error {
	if message == "" && cause == nil {
		return fmt.Errorf("%w: parse failure requires a message", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.parseState == ParseSuccess {
		return fmt.Errorf("%w: parse already %s", ErrInvalidState, e.parseState)
	}
	if message == "" {
		message = cause.Error()
	}
	if cause == nil {
		cause = errors.New(message)
	}
	e.parseState = ParseFailed
	e.parseError = message
	e.parseDuration = elapsed
	e.globalErr = cause
	return nil
}

func (e *Envelope) ParseState() ParseState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parseState
}

// ParsedValue 返回处理器解析出的值，对分发核心而言是不透明的
func (e *Envelope) ParsedValue() (string, interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parsedType, e.parsedValue
}

func (e *Envelope) ParseDuration() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parseDuration
}

func (e *Envelope) ParseError() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parseError
}

// RecordStep 写入（或覆盖）一个步骤结果。失败的步骤必须带错误信息。
func (e *Envelope) RecordStep(name string, success bool, elapsed time.Duration, errMsg string, cause error) error {
	if name == "" {
		return fmt.Errorf("%w: empty step name", ErrInvalidArgument)
	}
	if !success && errMsg == "" {
		return fmt.Errorf("%w: failed step %q requires an error message", ErrInvalidArgument, name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	e.steps[name] = &StepResult{
		Name:      name,
		Success:   success,
		Duration:  elapsed,
		Error:     errMsg,
		Cause:     cause,
		Timestamp: time.Now(),
	}
	return nil
}

// Step 读取单个步骤结果
func (e *Envelope) Step(name string) (StepResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.steps[name]
	if !ok {
		return StepResult{}, false
	}
	return *s, true
}

// Steps 按记录时间返回全部步骤结果
func (e *Envelope) Steps() []StepResult {
	e.mu.RLock()
	out := make([]StepResult, 0, len(e.steps))
	for _, s := range e.steps {
		out = append(out, *s)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Name < out[j].Name
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// SetGlobalError 记录不可恢复的终态错误；已有终态错误时保留第一个
func (e *Envelope) SetGlobalError(err error) error {
	if err == nil {
		return fmt.Errorf("%w: nil error", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.globalErr == nil {
		e.globalErr = err
	}
	return nil
}

func (e *Envelope) GlobalError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.globalErr
}

// IsOverallSuccess 解析成功、所有步骤成功且没有终态错误
func (e *Envelope) IsOverallSuccess() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.parseState != ParseSuccess || e.globalErr != nil {
		return false
	}
	for _, s := range e.steps {
		if !s.Success {
			return false
		}
	}
	return true
}

// SetAttribute 挂载扩展资源；实现了 io.Closer 的值会在 Dispose 时关闭
func (e *Envelope) SetAttribute(key string, value interface{}) error {
	if key == "" {
		return fmt.Errorf("%w: empty attribute key", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	if e.attributes == nil {
		e.attributes = make(map[string]interface{})
	}
	e.attributes[key] = value
	return nil
}

func (e *Envelope) Attribute(key string) (interface{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.attributes[key]
	return v, ok
}

// OnDispose 注册释放回调，按注册的逆序执行
func (e *Envelope) OnDispose(fn func()) error {
	if fn == nil {
		return fmt.Errorf("%w: nil dispose callback", ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkAlive(); err != nil {
		return err
	}
	e.onDispose = append(e.onDispose, fn)
	return nil
}

// Dispose 释放扩展资源，只执行一次；重复调用为空操作
func (e *Envelope) Dispose() error {
	if !e.disposed.CompareAndSwap(false, true) {
		return nil
	}

	e.mu.Lock()
	callbacks := e.onDispose
	attributes := e.attributes
	e.onDispose = nil
	e.attributes = nil
	e.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i]()
	}
	for key, v := range attributes {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close attribute %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Envelope) IsDisposed() bool {
	return e.disposed.Load()
}

// checkAlive 调用方需持有写锁
func (e *Envelope) checkAlive() error {
	if e.disposed.Load() {
		return ErrDisposed
	}
	return nil
}
