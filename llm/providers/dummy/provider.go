// Package dummy implements an in-process test provider. The gateway's
// end-to-end tests route models at it instead of a real vendor; each
// instance is configured with a behavior that scripts what the "vendor"
// returns.
package dummy

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/tensorgate/llm"
)

// Behavior selects what a dummy provider does with every request.
type Behavior string

const (
	// Good returns a fixed non-empty completion with usage.
	Good Behavior = "good"
	// Error fails every call with a retryable upstream error.
	Error Behavior = "error"
	// Tool returns a single get_temperature tool call.
	Tool Behavior = "tool"
	// JSON returns a completion whose content is a JSON object with an
	// "answer" field. When the request carries a tool named "respond", the
	// same object is returned as that tool's call arguments instead.
	JSON Behavior = "json"
	// Flaky streams one good chunk and then fails. Non-streaming calls
	// succeed. Exists to exercise the stream commit rule.
	Flaky Behavior = "flaky"
	// Hang blocks until the request context is done.
	Hang Behavior = "hang"
)

const (
	goodContent = "The weather in Tokyo is mild today, with clear skies expected through the evening."
	jsonContent = `{"answer":"Tokyo"}`
	toolArgs    = `{"location":"Tokyo","units":"celsius"}`
)

// Config configures one dummy provider instance.
type Config struct {
	// ProviderName is reported by Name() and stamped on responses.
	ProviderName string
	// Behavior defaults to Good.
	Behavior Behavior
	// Content overrides the fixed completion text when non-empty.
	Content string
}

// Provider is a scripted llm.Provider with no network underneath.
type Provider struct {
	cfg Config
}

// New builds a dummy provider. An unknown behavior falls back to Good so a
// typo in test config shows up as an assertion failure, not a panic.
func New(cfg Config) *Provider {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "dummy"
	}
	if cfg.Behavior == "" {
		cfg.Behavior = Good
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) Name() string                        { return p.cfg.ProviderName }
func (p *Provider) SupportsNativeFunctionCalling() bool { return true }

func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	if p.cfg.Behavior == Error {
		return &llm.HealthStatus{Healthy: false}, p.upstreamError()
	}
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func (p *Provider) upstreamError() *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    "dummy provider scripted failure",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Provider:   p.cfg.ProviderName,
	}
}

func (p *Provider) content() string {
	if p.cfg.Content != "" {
		return p.cfg.Content
	}
	if p.cfg.Behavior == JSON {
		return jsonContent
	}
	return goodContent
}

func hasTool(req *llm.ChatRequest, name string) bool {
	for _, t := range req.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func usageFor(req *llm.ChatRequest, completion string) llm.ChatUsage {
	in := 0
	for _, m := range req.Messages {
		in += len(strings.Fields(m.Content))
	}
	if in == 0 {
		in = 1
	}
	out := len(strings.Fields(completion))
	if out == 0 {
		out = 1
	}
	return llm.ChatUsage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

func (p *Provider) respond(req *llm.ChatRequest) *llm.ChatResponse {
	msg := llm.Message{Role: llm.RoleAssistant}
	finish := "stop"

	switch p.cfg.Behavior {
	case Tool:
		msg.ToolCalls = []llm.ToolCall{{
			ID:        "call_0",
			Name:      "get_temperature",
			Arguments: json.RawMessage(toolArgs),
		}}
		finish = "tool_calls"
	case JSON:
		if hasTool(req, "respond") {
			msg.ToolCalls = []llm.ToolCall{{
				ID:        "call_0",
				Name:      "respond",
				Arguments: json.RawMessage(p.content()),
			}}
			finish = "tool_calls"
		} else {
			msg.Content = p.content()
		}
	default:
		msg.Content = p.content()
	}

	usageBasis := msg.Content
	if usageBasis == "" {
		usageBasis = toolArgs
	}
	return &llm.ChatResponse{
		ID:       "dummy-0",
		Provider: p.cfg.ProviderName,
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message:      msg,
		}},
		Usage:     usageFor(req, usageBasis),
		CreatedAt: time.Now(),
	}
}

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	switch p.cfg.Behavior {
	case Error:
		return nil, p.upstreamError()
	case Hang:
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.respond(req), nil
}

func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	switch p.cfg.Behavior {
	case Error:
		return nil, p.upstreamError()
	case Hang:
		<-ctx.Done()
		return nil, ctx.Err()
	}

	resp := p.respond(req)
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)

		if p.cfg.Behavior == Flaky {
			chunk := llm.StreamChunk{
				Provider: p.cfg.ProviderName,
				Delta:    llm.Message{Role: llm.RoleAssistant, Content: "partial "},
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			select {
			case ch <- llm.StreamChunk{Provider: p.cfg.ProviderName, Err: p.upstreamError()}:
			case <-ctx.Done():
			}
			return
		}

		msg := resp.Choices[0].Message
		words := strings.SplitAfter(msg.Content, " ")
		for _, w := range words {
			if w == "" {
				continue
			}
			select {
			case ch <- llm.StreamChunk{
				Provider: p.cfg.ProviderName,
				Delta:    llm.Message{Role: llm.RoleAssistant, Content: w},
			}:
			case <-ctx.Done():
				return
			}
		}
		final := llm.StreamChunk{
			Provider:     p.cfg.ProviderName,
			FinishReason: resp.Choices[0].FinishReason,
			Usage:        &resp.Usage,
		}
		if len(msg.ToolCalls) > 0 {
			final.Delta = llm.Message{Role: llm.RoleAssistant, ToolCalls: msg.ToolCalls}
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
