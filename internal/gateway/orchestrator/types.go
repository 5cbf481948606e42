// Package orchestrator is the per-request entry point of the inference
// pipeline: sample a variant, render prompts, route through the model's
// providers, validate output, and hand the record to the observability
// pipeline before answering the caller.
package orchestrator

import (
	"encoding/json"

	"github.com/BaSui01/tensorgate/internal/gateway/observability"
	"github.com/BaSui01/tensorgate/internal/gateway/tools"
	"github.com/BaSui01/tensorgate/types"
)

// Input carries the role-scoped inputs of one inference. A role with a
// declared schema takes a JSON object; a role without one takes a JSON
// string (raw passthrough).
type Input struct {
	System    json.RawMessage `json:"system,omitempty"`
	User      json.RawMessage `json:"user,omitempty"`
	Assistant json.RawMessage `json:"assistant,omitempty"`
}

// Request is one inference invocation.
type Request struct {
	FunctionName string `json:"function_name"`
	// EpisodeID pins variant sampling; generated when empty.
	EpisodeID string `json:"episode_id,omitempty"`
	Input     Input  `json:"input"`
	Stream    bool   `json:"stream,omitempty"`
	// ParallelToolCalls overrides the function's default for this request.
	ParallelToolCalls *bool `json:"parallel_tool_calls,omitempty"`
	// AdditionalToolChoice overrides the function's tool_choice.
	AdditionalToolChoice string `json:"additional_tool_choice,omitempty"`
	// Dryrun runs the full pipeline but skips persistence.
	Dryrun bool              `json:"dryrun,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Result is a completed non-streaming inference.
type Result struct {
	InferenceID string                    `json:"inference_id"`
	EpisodeID   string                    `json:"episode_id"`
	VariantName string                    `json:"variant_name"`
	Content     string                    `json:"content,omitempty"`
	ToolCalls   []tools.ValidatedCall     `json:"tool_calls,omitempty"`
	Output      json.RawMessage           `json:"output,omitempty"`
	Usage       observability.RecordUsage `json:"usage"`
}

// StreamEvent is one increment of a streaming inference as delivered to
// the transport layer.
type StreamEvent struct {
	Content  string                     `json:"content,omitempty"`
	ToolCall *tools.ValidatedCall       `json:"tool_call,omitempty"`
	Usage    *observability.RecordUsage `json:"usage,omitempty"`
	Final    bool                       `json:"final,omitempty"`
	Err      error                      `json:"-"`
	Code     types.ErrorCode            `json:"-"`
}

// StreamResult is a committed streaming inference. Events closes after the
// terminal event; the terminal event carries the final usage.
type StreamResult struct {
	InferenceID string
	EpisodeID   string
	VariantName string
	Events      <-chan StreamEvent
}
