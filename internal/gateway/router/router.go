package router

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/llm"
	"github.com/BaSui01/tensorgate/llm/circuitbreaker"
	"github.com/BaSui01/tensorgate/types"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ProviderKey names a constructed provider instance in the provider
// registry. Providers are scoped per model: the same vendor type can appear
// under two models with different endpoints or credentials.
func ProviderKey(model, provider string) string {
	return model + "/" + provider
}

// Router tries a model's providers in routing order. Non-streaming calls
// fail over on classified retryable errors until one provider succeeds or
// the list is exhausted; streaming calls commit to the first provider that
// produces a non-error chunk.
type Router struct {
	providers *llm.ProviderRegistry
	breakers  map[string]circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

// New builds a Router over the constructed provider set. One circuit
// breaker is created per (model, provider) pair so a vendor melting down
// under one model does not poison its standing under another.
func New(reg *config.Registry, providers *llm.ProviderRegistry, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	breakers := make(map[string]circuitbreaker.CircuitBreaker)
	for _, m := range reg.Models {
		for _, p := range m.Routing {
			key := ProviderKey(m.Name, p)
			breakers[key] = circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{
				Threshold:        5,
				Timeout:          5 * time.Minute, // request deadline governs; see orchestrator
				ResetTimeout:     30 * time.Second,
				HalfOpenMaxCalls: 3,
			}, logger.Named("breaker."+key))
		}
	}
	return &Router{providers: providers, breakers: breakers, logger: logger}
}

// Route dispatches req through model's providers in declared order and
// returns the first success. Every failed attempt is recorded; a
// non-failoverable classification stops the cascade immediately since trying
// another provider cannot fix a property of the request itself.
func (r *Router) Route(ctx context.Context, model *config.Model, req *llm.ChatRequest) (*NormalizedResponse, []ProviderAttempt, error) {
	var attempts []ProviderAttempt

	for _, name := range model.Routing {
		prov, ok := r.providers.Get(ProviderKey(model.Name, name))
		if !ok {
			attempts = append(attempts, ProviderAttempt{
				Provider: name,
				Code:     types.ErrUnknown,
				Error:    "provider not constructed",
			})
			continue
		}

		start := time.Now()
		var resp *llm.ChatResponse
		err := r.breakerFor(model.Name, name).Call(ctx, func() error {
			var cerr error
			resp, cerr = prov.Completion(ctx, req)
			return cerr
		})
		latency := time.Since(start)

		if err == nil {
			return normalizeResponse(name, resp), attempts, nil
		}

		code := Classify(err)
		attempts = append(attempts, ProviderAttempt{
			Provider: name,
			Code:     code,
			Error:    err.Error(),
			Latency:  latency,
		})
		r.logger.Warn("provider attempt failed",
			zap.String("model", model.Name),
			zap.String("provider", name),
			zap.String("code", string(code)),
			zap.Duration("latency", latency),
			zap.Error(err))

		if !types.IsFailoverable(code) {
			return nil, attempts, types.NewError(code, err.Error()).
				WithProvider(name).
				WithCause(err).
				WithHTTPStatus(types.HTTPStatusForCode(code))
		}
	}

	return nil, attempts, exhausted(model.Name, attempts)
}

// StreamHandle is a committed stream: Provider produced at least one
// non-error chunk and Events forwards the rest of its chunks in vendor
// order. Attempts holds the providers that failed before commitment.
type StreamHandle struct {
	Provider string
	Attempts []ProviderAttempt
	Events   <-chan StreamEvent
}

// RouteStream dispatches a streaming request. Providers are tried in
// routing order until one yields a first chunk without error; from that
// moment the stream is committed and any later failure terminates it with
// an error event instead of trying the next provider — bytes already
// forwarded to the caller cannot be unwound.
func (r *Router) RouteStream(ctx context.Context, model *config.Model, req *llm.ChatRequest) (*StreamHandle, error) {
	var attempts []ProviderAttempt

	for _, name := range model.Routing {
		prov, ok := r.providers.Get(ProviderKey(model.Name, name))
		if !ok {
			attempts = append(attempts, ProviderAttempt{
				Provider: name,
				Code:     types.ErrUnknown,
				Error:    "provider not constructed",
			})
			continue
		}

		if r.breakerFor(model.Name, name).State() == circuitbreaker.StateOpen {
			attempts = append(attempts, ProviderAttempt{
				Provider: name,
				Code:     types.ErrRetryableTransport,
				Error:    "circuit open",
			})
			continue
		}

		start := time.Now()
		ch, err := prov.Stream(ctx, req)
		if err != nil {
			code := Classify(err)
			attempts = append(attempts, ProviderAttempt{
				Provider: name,
				Code:     code,
				Error:    err.Error(),
				Latency:  time.Since(start),
			})
			if !types.IsFailoverable(code) {
				return nil, types.NewError(code, err.Error()).
					WithProvider(name).
					WithCause(err).
					WithHTTPStatus(types.HTTPStatusForCode(code))
			}
			continue
		}

		// The commit decision rides on the first chunk: an error there means
		// the vendor rejected the stream before any content, which is still
		// safe to fail over from.
		first, open := <-ch
		if !open {
			attempts = append(attempts, ProviderAttempt{
				Provider: name,
				Code:     types.ErrParse,
				Error:    "stream closed before first chunk",
				Latency:  time.Since(start),
			})
			continue
		}
		if first.Err != nil {
			code := Classify(first.Err)
			attempts = append(attempts, ProviderAttempt{
				Provider: name,
				Code:     code,
				Error:    first.Err.Error(),
				Latency:  time.Since(start),
			})
			if !types.IsFailoverable(code) {
				return nil, types.NewError(code, first.Err.Message).
					WithProvider(name).
					WithCause(first.Err).
					WithHTTPStatus(types.HTTPStatusForCode(code))
			}
			continue
		}

		events := make(chan StreamEvent)
		go func() {
			defer close(events)
			if !forwardEvent(ctx, events, name, first) {
				return
			}
			for chunk := range ch {
				if !forwardEvent(ctx, events, name, chunk) {
					return
				}
			}
		}()
		return &StreamHandle{Provider: name, Attempts: attempts, Events: events}, nil
	}

	return nil, exhausted(model.Name, attempts)
}

// forwardEvent converts one vendor chunk into a StreamEvent and delivers
// it, honoring cancellation. Returns false when the event was terminal or
// the context is done.
func forwardEvent(ctx context.Context, out chan<- StreamEvent, provider string, chunk llm.StreamChunk) bool {
	ev := StreamEvent{
		Provider: provider,
		Content:  chunk.Delta.Content,
	}
	if len(chunk.Delta.ToolCalls) > 0 {
		tc := chunk.Delta.ToolCalls[0]
		ev.ToolCallDelta = &ToolCallOut{ID: tc.ID, Name: tc.Name, Arguments: string(tc.Arguments)}
	}
	if chunk.Usage != nil {
		ev.Usage = &Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
	}
	if chunk.FinishReason != "" {
		ev.Final = true
	}
	if chunk.Err != nil {
		ev.Err = chunk.Err
		ev.Code = Classify(chunk.Err)
		ev.Final = true
	}

	select {
	case out <- ev:
		return !ev.Final
	case <-ctx.Done():
		return false
	}
}

func (r *Router) breakerFor(model, provider string) circuitbreaker.CircuitBreaker {
	return r.breakers[ProviderKey(model, provider)]
}

// exhausted aggregates the per-provider failures of a fully failed cascade.
// The aggregate code is RATE_LIMIT or AUTH only when every attempt agreed;
// any mix degrades to RETRYABLE_TRANSPORT, which surfaces as 502.
func exhausted(model string, attempts []ProviderAttempt) error {
	var merr *multierror.Error
	for _, a := range attempts {
		merr = multierror.Append(merr, fmt.Errorf("%s: [%s] %s", a.Provider, a.Code, a.Error))
	}

	code := types.ErrRetryableTransport
	if len(attempts) > 0 {
		uniform := true
		for _, a := range attempts[1:] {
			if a.Code != attempts[0].Code {
				uniform = false
				break
			}
		}
		if uniform && (attempts[0].Code == types.ErrRateLimit || attempts[0].Code == types.ErrAuth) {
			code = attempts[0].Code
		}
	}

	return types.NewError(code, fmt.Sprintf("all providers failed for model %q", model)).
		WithCause(merr.ErrorOrNil()).
		WithHTTPStatus(types.HTTPStatusForCode(code))
}
