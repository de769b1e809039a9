package topic

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrEmptyTemplate 模板为空
	ErrEmptyTemplate = errors.New("topic: empty template")
	// ErrBareWildcard 模板只有多级通配符，会吞掉所有主题
	ErrBareWildcard = errors.New("topic: bare '#' wildcard is not allowed")
	// ErrInvalidTemplate 模板语法错误
	ErrInvalidTemplate = errors.New("topic: invalid template")
)

var placeholderName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CompiledTemplate 编译后的主题模板，创建后只读
type CompiledTemplate struct {
	Template     string
	Pattern      *regexp.Regexp
	Placeholders []string
	// Levels 非空且不是 # 的层级数（+ 计入），用于路由排序
	Levels int
	// MultiLevel 是否以 /# 结尾
	MultiLevel bool
}

// Match 全量匹配主题，成功时返回占位符取值
func (c *CompiledTemplate) Match(topic string) (map[string]string, bool) {
	groups := c.Pattern.FindStringSubmatch(topic)
	if groups == nil {
		return nil, false
	}
	values := make(map[string]string, len(c.Placeholders))
	for i, name := range c.Placeholders {
		values[name] = groups[i+1]
	}
	return values, true
}

// Compile 编译主题模板：
//
//	${name} 匹配单个层级并捕获
//	+       匹配单个层级，必须独占一层
//	/#      只能出现在末尾，匹配剩余任意层级（包括零层）
func Compile(template string) (*CompiledTemplate, error) {
	if strings.TrimSpace(template) == "" {
		return nil, ErrEmptyTemplate
	}

	levels := strings.Split(template, "/")
	var (
		sb           strings.Builder
		placeholders []string
		seen         = make(map[string]struct{})
		concrete     int
		multiLevel   bool
	)
	sb.WriteString("^")

	for i, level := range levels {
		last := i == len(levels)-1
		if i > 0 && !(last && level == "#") {
			sb.WriteString("/")
		}

		switch {
		case level == "#":
			if !last {
				return nil, fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTemplate, template)
			}
			if concrete == 0 {
				return nil, fmt.Errorf("%w: %q", ErrBareWildcard, template)
			}
			sb.WriteString("(?:/.*)?")
			multiLevel = true
			continue
		case strings.Contains(level, "#"):
			return nil, fmt.Errorf("%w: '#' must occupy a whole level in %q", ErrInvalidTemplate, template)
		case level == "+":
			sb.WriteString("[^/]+")
		case strings.Contains(level, "+"):
			return nil, fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTemplate, template)
		default:
			names, err := compileLevel(&sb, level, template)
			if err != nil {
				return nil, err
			}
			for _, name := range names {
				if _, dup := seen[name]; dup {
					return nil, fmt.Errorf("%w: duplicate placeholder %q in %q", ErrInvalidTemplate, name, template)
				}
				seen[name] = struct{}{}
				placeholders = append(placeholders, name)
			}
		}
		if level != "" {
			concrete++
		}
	}
	sb.WriteString("$")

	pattern, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return &CompiledTemplate{
		Template:     template,
		Pattern:      pattern,
		Placeholders: placeholders,
		Levels:       concrete,
		MultiLevel:   multiLevel,
	}, nil
}

// compileLevel 处理字面量与 ${name} 混合的单个层级
func compileLevel(sb *strings.Builder, level, template string) ([]string, error) {
	var names []string
	rest := level
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			if strings.Contains(rest, "}") && strings.Contains(rest, "{") {
				return nil, fmt.Errorf("%w: malformed placeholder in %q", ErrInvalidTemplate, template)
			}
			sb.WriteString(regexp.QuoteMeta(rest))
			return names, nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			return nil, fmt.Errorf("%w: unclosed placeholder in %q", ErrInvalidTemplate, template)
		}
		name := rest[start+2 : start+end]
		if !placeholderName.MatchString(name) {
			return nil, fmt.Errorf("%w: invalid placeholder name %q in %q", ErrInvalidTemplate, name, template)
		}
		sb.WriteString(regexp.QuoteMeta(rest[:start]))
		sb.WriteString("([^/]+)")
		names = append(names, name)
		rest = rest[start+end+1:]
	}
}

// CacheStats 编译缓存统计
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

type cacheEntry struct {
	compiled  *CompiledTemplate
	expiresAt time.Time
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Compiler 带缓存的模板编译器，可并发使用。
// ttl 为 0 表示缓存不过期；过期条目只在 PurgeExpired 时删除。
type Compiler struct {
	ttl    time.Duration
	cache  sync.Map // template -> *cacheEntry
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
	now    func() time.Time
}

// NewCompiler 创建编译器
func NewCompiler(ttl time.Duration) *Compiler {
	return &Compiler{ttl: ttl, now: time.Now}
}

// Compile 优先从缓存读取；同一模板的并发编译只执行一次
func (c *Compiler) Compile(template string) (*CompiledTemplate, error) {
	if v, ok := c.cache.Load(template); ok {
		entry := v.(*cacheEntry)
		if !entry.expired(c.now()) {
			c.hits.Inc()
			return entry.compiled, nil
		}
	}
	c.misses.Inc()

	v, err, _ := c.group.Do(template, func() (interface{}, error) {
		compiled, err := Compile(template)
		if err != nil {
			return nil, err
		}
		entry := &cacheEntry{compiled: compiled}
		if c.ttl > 0 {
			entry.expiresAt = c.now().Add(c.ttl)
		}
		c.cache.Store(template, entry)
		return compiled, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CompiledTemplate), nil
}

// PurgeExpired 删除过期条目，返回删除数量
func (c *Compiler) PurgeExpired() int {
	now := c.now()
	purged := 0
	c.cache.Range(func(key, value interface{}) bool {
		if value.(*cacheEntry).expired(now) {
			c.cache.Delete(key)
			purged++
		}
		return true
	})
	return purged
}

// Invalidate 删除单个模板的缓存
func (c *Compiler) Invalidate(template string) {
	c.cache.Delete(template)
}

// Stats 返回缓存统计
func (c *Compiler) Stats() CacheStats {
	size := 0
	c.cache.Range(func(_, _ interface{}) bool {
		size++
		return true
	})
	return CacheStats{Size: size, Hits: c.hits.Load(), Misses: c.misses.Load()}
}
