package topic

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/logger"
	"go.uber.org/zap"
)

// ErrInvalidRoute 路由条目非法
var ErrInvalidRoute = errors.New("topic: invalid route entry")

// RouteEntry 路由条目：模板 → 处理器类型
type RouteEntry struct {
	Template    string `json:"template"`
	HandlerType string `json:"handlerType"`
	Priority    int    `json:"priority"`
}

// Route 已编译的路由
type Route struct {
	RouteEntry
	Compiled *CompiledTemplate
}

// Registry 主题路由注册表。
// 写操作串行化并发布新的有序快照，读操作无锁访问快照。
type Registry struct {
	compiler *Compiler
	logger   *zap.Logger

	mu     sync.Mutex
	routes map[string]*Route

	snapshot atomic.Pointer[[]*Route]
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry 进程级默认注册表
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(NewCompiler(0))
	})
	return defaultRegistry
}

// NewRegistry 创建注册表，compiler 为 nil 时使用不过期的缓存
func NewRegistry(compiler *Compiler) *Registry {
	if compiler == nil {
		compiler = NewCompiler(0)
	}
	r := &Registry{
		compiler: compiler,
		logger:   logger.Logger.Named("topic"),
		routes:   make(map[string]*Route),
	}
	empty := make([]*Route, 0)
	r.snapshot.Store(&empty)
	return r
}

// Compiler 返回注册表使用的编译器
func (r *Registry) Compiler() *Compiler { return r.compiler }

// Register 注册或覆盖路由
func (r *Registry) Register(entry RouteEntry) error {
	if strings.TrimSpace(entry.Template) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRoute, ErrEmptyTemplate)
	}
	if strings.TrimSpace(entry.HandlerType) == "" {
		return fmt.Errorf("%w: empty handler type for %q", ErrInvalidRoute, entry.Template)
	}
	compiled, err := r.compiler.Compile(entry.Template)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRoute, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.routes[entry.Template]
	r.routes[entry.Template] = &Route{RouteEntry: entry, Compiled: compiled}
	r.publishLocked()

	r.logger.Debug("route registered",
		zap.String("template", entry.Template),
		zap.String("handlerType", entry.HandlerType),
		zap.Int("priority", entry.Priority),
		zap.Bool("replaced", replaced))
	return nil
}

// Unregister 删除路由，不存在时返回 false
func (r *Registry) Unregister(template string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.routes[template]; !ok {
		return false
	}
	delete(r.routes, template)
	r.publishLocked()
	return true
}

// UnregisterByPrefix 删除所有以 prefix 开头的路由，返回删除数量
func (r *Registry) UnregisterByPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for template := range r.routes {
		if strings.HasPrefix(template, prefix) {
			delete(r.routes, template)
			removed++
		}
	}
	if removed > 0 {
		r.publishLocked()
	}
	return removed
}

// RegisteredTemplates 按匹配优先级返回所有模板
func (r *Registry) RegisteredTemplates() []string {
	routes := *r.snapshot.Load()
	out := make([]string, len(routes))
	for i, route := range routes {
		out[i] = route.Template
	}
	return out
}

// SortedTopics 返回有序的路由快照
func (r *Registry) SortedTopics() []RouteEntry {
	routes := *r.snapshot.Load()
	out := make([]RouteEntry, len(routes))
	for i, route := range routes {
		out[i] = route.RouteEntry
	}
	return out
}

// Len 已注册路由数量
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// Match 按优先级查找第一个匹配的路由
func (r *Registry) Match(topic string) (*Route, map[string]string, bool) {
	for _, route := range *r.snapshot.Load() {
		if values, ok := route.Compiled.Match(topic); ok {
			return route, values, true
		}
	}
	return nil, nil, false
}

// publishLocked 重新排序并原子发布快照，调用方需持有 r.mu
func (r *Registry) publishLocked() {
	routes := make([]*Route, 0, len(r.routes))
	for _, route := range r.routes {
		routes = append(routes, route)
	}
	sort.Slice(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Compiled.Levels != b.Compiled.Levels {
			return a.Compiled.Levels > b.Compiled.Levels
		}
		if len(a.Template) != len(b.Template) {
			return len(a.Template) > len(b.Template)
		}
		return a.Template < b.Template
	})
	r.snapshot.Store(&routes)
}
