package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/envelope"
	"github.com/ChenBigdata421/jxt-iot/sdk/pkg/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const propertyPostTemplate = "/sys/${pk}/${dn}/thing/event/property/post"

func newEnv(topicName string, opts ...envelope.Option) *envelope.Envelope {
	return envelope.New(envelope.RawMessage{
		Topic:    topicName,
		Payload:  []byte(`{"id":"1","params":{"temp":21.5}}`),
		ClientID: "client-1",
	}, opts...)
}

type recordingPlugin struct {
	name     string
	priority int
	order    *[]string
	err      error
	panics   bool
}

func (p *recordingPlugin) Name() string  { return p.name }
func (p *recordingPlugin) Priority() int { return p.priority }
func (p *recordingPlugin) Process(ctx context.Context, env *envelope.Envelope) error {
	*p.order = append(*p.order, p.name)
	if p.panics {
		panic("plugin exploded")
	}
	return p.err
}

func newTestRouter(t *testing.T, handler HandlerFunc, opts ...RouterOption) *TopicRouter {
	t.Helper()
	registry := topic.NewRegistry(nil)
	require.NoError(t, registry.Register(topic.RouteEntry{Template: propertyPostTemplate, HandlerType: "property", Priority: 10}))
	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.RegisterFunc("property", handler))
	return NewTopicRouter(registry, handlers, opts...)
}

func TestTopicRouterSuccess(t *testing.T) {
	var order []string
	router := newTestRouter(t, func(ctx context.Context, env *envelope.Envelope) (Result, error) {
		pk, _ := env.Placeholder("pk")
		return Result{Type: "property", Value: pk}, nil
	}, WithPlugins(
		&recordingPlugin{name: "low", priority: 1, order: &order},
		&recordingPlugin{name: "broken", priority: 5, order: &order, err: errors.New("tsdb down")},
		&recordingPlugin{name: "panicky", priority: 3, order: &order, panics: true},
		&recordingPlugin{name: "high", priority: 10, order: &order},
	))

	env := newEnv("/sys/pk1/dev1/thing/event/property/post")
	outcome, err := router.RouteMessage(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRouted, outcome)

	assert.Equal(t, envelope.ParseSuccess, env.ParseState())
	typ, value := env.ParsedValue()
	assert.Equal(t, "property", typ)
	assert.Equal(t, "pk1", value)
	assert.Equal(t, map[string]string{"pk": "pk1", "dn": "dev1"}, env.Placeholders())

	assert.Equal(t, []string{"high", "broken", "panicky", "low"}, order, "按优先级降序执行，失败不影响后续插件")
	step, ok := env.Step("plugin:broken")
	require.True(t, ok)
	assert.False(t, step.Success)
	step, ok = env.Step("plugin:panicky")
	require.True(t, ok)
	assert.False(t, step.Success)
	assert.ErrorIs(t, step.Cause, ErrHandlerPanic)
	step, _ = env.Step("plugin:low")
	assert.True(t, step.Success)
	assert.False(t, env.IsOverallSuccess())
}

func TestTopicRouterNoRoute(t *testing.T) {
	router := newTestRouter(t, func(ctx context.Context, env *envelope.Envelope) (Result, error) {
		t.Fatal("handler must not run")
		return Result{}, nil
	})
	env := newEnv("/unknown/topic")
	outcome, err := router.RouteMessage(context.Background(), env)
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, OutcomeFailed, outcome)
	step, ok := env.Step(StepRoute)
	require.True(t, ok)
	assert.False(t, step.Success)
}

func TestTopicRouterHandlerErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   HandlerFunc
		wantErr   error
		wantParse envelope.ParseState
	}{
		{
			name: "解析错误标记解析失败",
			handler: func(ctx context.Context, env *envelope.Envelope) (Result, error) {
				return Result{}, fmt.Errorf("%w: bad json", ErrParse)
			},
			wantErr:   ErrParse,
			wantParse: envelope.ParseFailed,
		},
		{
			name: "普通错误记录失败步骤",
			handler: func(ctx context.Context, env *envelope.Envelope) (Result, error) {
				return Result{}, errors.New("downstream timeout")
			},
			wantParse: envelope.ParseUnparsed,
		},
		{
			name: "panic 转为错误",
			handler: func(ctx context.Context, env *envelope.Envelope) (Result, error) {
				panic("boom")
			},
			wantErr:   ErrHandlerPanic,
			wantParse: envelope.ParseUnparsed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, tt.handler)
			env := newEnv("/sys/pk1/dev1/thing/event/property/post")
			outcome, err := router.RouteMessage(context.Background(), env)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, OutcomeFailed, outcome)
			assert.Equal(t, tt.wantParse, env.ParseState())
			if tt.wantParse == envelope.ParseUnparsed {
				step, ok := env.Step(StepHandler)
				require.True(t, ok)
				assert.False(t, step.Success)
			}
		})
	}
}

func TestTopicRouterUnknownHandlerType(t *testing.T) {
	registry := topic.NewRegistry(nil)
	require.NoError(t, registry.Register(topic.RouteEntry{Template: "/sys/+/+/ota", HandlerType: "ota"}))
	router := NewTopicRouter(registry, NewHandlerRegistry())

	_, err := router.RouteMessage(context.Background(), newEnv("/sys/pk/dev/ota"))
	assert.ErrorIs(t, err, ErrUnknownHandlerType)
}

// TestHandlerRegistryFreshInstance 每条消息一个处理器实例
func TestHandlerRegistryFreshInstance(t *testing.T) {
	created := 0
	handlers := NewHandlerRegistry()
	require.NoError(t, handlers.Register("property", func(entry topic.RouteEntry) Handler {
		created++
		return HandlerFunc(func(ctx context.Context, env *envelope.Envelope) (Result, error) {
			return Result{Type: entry.HandlerType}, nil
		})
	}))
	assert.Error(t, handlers.Register("", nil))
	assert.Error(t, handlers.RegisterFunc("x", nil))
	assert.Equal(t, []string{"property"}, handlers.Types())

	registry := topic.NewRegistry(nil)
	require.NoError(t, registry.Register(topic.RouteEntry{Template: propertyPostTemplate, HandlerType: "property"}))
	router := NewTopicRouter(registry, handlers)

	for i := 0; i < 3; i++ {
		_, err := router.RouteMessage(context.Background(), newEnv("/sys/pk/dev/thing/event/property/post"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, created)
}

// TestTopicRouterRetryKeepsPlaceholders 重复路由同一包络不会因占位符只写一次而失败
func TestTopicRouterRetryKeepsPlaceholders(t *testing.T) {
	calls := 0
	router := newTestRouter(t, func(ctx context.Context, env *envelope.Envelope) (Result, error) {
		calls++
		if calls == 1 {
			return Result{}, errors.New("transient")
		}
		return Result{Type: "property"}, nil
	})
	env := newEnv("/sys/pk/dev/thing/event/property/post")
	_, err := router.RouteMessage(context.Background(), env)
	require.Error(t, err)
	_, err = router.RouteMessage(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, env.IsOverallSuccess())
}

func TestAddPlugin(t *testing.T) {
	var order []string
	router := newTestRouter(t, func(ctx context.Context, env *envelope.Envelope) (Result, error) {
		return Result{Type: "property"}, nil
	}, WithPlugins(&recordingPlugin{name: "a", priority: 1, order: &order}))
	router.AddPlugin(&recordingPlugin{name: "b", priority: 2, order: &order})

	_, err := router.RouteMessage(context.Background(), newEnv("/sys/pk/dev/thing/event/property/post"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, order)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "routed", OutcomeRouted.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "duplicate", OutcomeDuplicate.String())
	assert.Equal(t, "degraded", OutcomeDegraded.String())
	assert.Equal(t, "fallback", OutcomeFallback.String())
}
