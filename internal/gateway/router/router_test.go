package router

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/llm"
	"github.com/BaSui01/tensorgate/llm/providers/dummy"
	"github.com/BaSui01/tensorgate/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSetup(t *testing.T, modelName string, behaviors map[string]dummy.Behavior, routing []string) (*Router, *config.Model) {
	t.Helper()

	providers := make(map[string]*config.Provider, len(behaviors))
	reg := llm.NewProviderRegistry()
	for name, b := range behaviors {
		providers[name] = &config.Provider{Name: name, Type: "dummy"}
		reg.Register(ProviderKey(modelName, name), dummy.New(dummy.Config{ProviderName: name, Behavior: b}))
	}
	model := &config.Model{Name: modelName, Routing: routing, Providers: providers}
	gwReg := &config.Registry{Models: map[string]*config.Model{modelName: model}}

	return New(gwReg, reg, nil), model
}

func chatReq() *llm.ChatRequest {
	return &llm.ChatRequest{
		Model:    "test",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	}
}

func TestRouteFirstProviderSucceeds(t *testing.T) {
	r, model := testSetup(t, "test", map[string]dummy.Behavior{"good": dummy.Good}, []string{"good"})

	resp, attempts, err := r.Route(context.Background(), model, chatReq())
	require.NoError(t, err)
	assert.Empty(t, attempts)
	assert.Equal(t, "good", resp.Provider)
	assert.NotEmpty(t, resp.Content)
	assert.Greater(t, resp.Usage.InputTokens, 0)
	assert.Equal(t, StopEnd, resp.StopReason)
}

func TestRouteFailsOverInDeclaredOrder(t *testing.T) {
	r, model := testSetup(t, "test", map[string]dummy.Behavior{
		"error1": dummy.Error,
		"error2": dummy.Error,
		"good":   dummy.Good,
	}, []string{"error1", "error2", "good"})

	resp, attempts, err := r.Route(context.Background(), model, chatReq())
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "error1", attempts[0].Provider)
	assert.Equal(t, "error2", attempts[1].Provider)
	assert.Equal(t, types.ErrRetryableTransport, attempts[0].Code)
	assert.Equal(t, "good", resp.Provider)
}

func TestRouteExhaustedAggregatesAttempts(t *testing.T) {
	r, model := testSetup(t, "test", map[string]dummy.Behavior{
		"error1": dummy.Error,
		"error2": dummy.Error,
	}, []string{"error1", "error2"})

	_, attempts, err := r.Route(context.Background(), model, chatReq())
	require.Error(t, err)
	assert.Len(t, attempts, 2)

	gerr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrRetryableTransport, gerr.Code)
	assert.Equal(t, http.StatusBadGateway, gerr.HTTPStatus)
}

func TestRouteStopsOnNonFailoverableError(t *testing.T) {
	reg := llm.NewProviderRegistry()
	reg.Register(ProviderKey("test", "bad"), badRequestProvider{})
	good := dummy.New(dummy.Config{ProviderName: "good", Behavior: dummy.Good})
	reg.Register(ProviderKey("test", "good"), good)

	model := &config.Model{
		Name:    "test",
		Routing: []string{"bad", "good"},
		Providers: map[string]*config.Provider{
			"bad":  {Name: "bad", Type: "dummy"},
			"good": {Name: "good", Type: "dummy"},
		},
	}
	gwReg := &config.Registry{Models: map[string]*config.Model{"test": model}}
	r := New(gwReg, reg, nil)

	_, attempts, err := r.Route(context.Background(), model, chatReq())
	require.Error(t, err)
	// the cascade must stop at the first provider: a bad request stays bad
	// on every other provider too
	assert.Len(t, attempts, 1)
	gerr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrBadRequest, gerr.Code)
}

// badRequestProvider always rejects with a client error.
type badRequestProvider struct{}

func (badRequestProvider) Name() string                        { return "bad" }
func (badRequestProvider) SupportsNativeFunctionCalling() bool { return true }
func (badRequestProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}
func (badRequestProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "bad payload", HTTPStatus: 400}
}
func (badRequestProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "bad payload", HTTPStatus: 400}
}

func TestRouteStreamFailsOverBeforeCommit(t *testing.T) {
	r, model := testSetup(t, "test", map[string]dummy.Behavior{
		"error": dummy.Error,
		"good":  dummy.Good,
	}, []string{"error", "good"})

	handle, err := r.RouteStream(context.Background(), model, chatReq())
	require.NoError(t, err)
	assert.Equal(t, "good", handle.Provider)
	require.Len(t, handle.Attempts, 1)
	assert.Equal(t, "error", handle.Attempts[0].Provider)

	var content string
	var sawFinal bool
	for ev := range handle.Events {
		require.NoError(t, ev.Err)
		content += ev.Content
		if ev.Final {
			sawFinal = true
			require.NotNil(t, ev.Usage)
		}
	}
	assert.True(t, sawFinal)
	assert.NotEmpty(t, content)
}

func TestRouteStreamCommitsOnFirstChunk(t *testing.T) {
	// flaky yields one good chunk then errors; good would succeed, but once
	// a chunk has been emitted no other provider may be tried
	r, model := testSetup(t, "test", map[string]dummy.Behavior{
		"flaky": dummy.Flaky,
		"good":  dummy.Good,
	}, []string{"flaky", "good"})

	handle, err := r.RouteStream(context.Background(), model, chatReq())
	require.NoError(t, err)
	assert.Equal(t, "flaky", handle.Provider)

	var events []StreamEvent
	for ev := range handle.Events {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Error(t, last.Err)
	assert.True(t, last.Final)
	assert.Equal(t, types.ErrRetryableTransport, last.Code)
	for _, ev := range events {
		assert.Equal(t, "flaky", ev.Provider)
	}
}

func TestRouteStreamExhausted(t *testing.T) {
	r, model := testSetup(t, "test", map[string]dummy.Behavior{
		"error1": dummy.Error,
		"error2": dummy.Error,
	}, []string{"error1", "error2"})

	_, err := r.RouteStream(context.Background(), model, chatReq())
	require.Error(t, err)
	gerr, ok := err.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, types.ErrRetryableTransport, gerr.Code)
}

func TestRouteHonorsContextCancellation(t *testing.T) {
	r, model := testSetup(t, "test", map[string]dummy.Behavior{"hang": dummy.Hang}, []string{"hang"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := r.Route(ctx, model, chatReq())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, types.ErrGatewayTimeout},
		{"auth", &llm.Error{Code: llm.ErrUnauthorized}, types.ErrAuth},
		{"rate", &llm.Error{Code: llm.ErrRateLimited}, types.ErrRateLimit},
		{"upstream", &llm.Error{Code: llm.ErrUpstreamError}, types.ErrRetryableTransport},
		{"filter", &llm.Error{Code: llm.ErrContentFiltered}, types.ErrContentFilter},
		{"bad request", &llm.Error{Code: llm.ErrInvalidRequest, Message: "malformed"}, types.ErrBadRequest},
		{
			"context length sniffed from 400",
			&llm.Error{Code: llm.ErrInvalidRequest, Message: "This model's maximum context length is 8192 tokens"},
			types.ErrContextLength,
		},
		{"gateway error passes through", types.NewError(types.ErrOutputValidation, "x"), types.ErrOutputValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
