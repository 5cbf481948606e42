// Package observability owns everything that happens to an inference after
// the caller has been answered: Prometheus metrics, and the asynchronous
// buffered writer that persists inference and feedback records to the
// analytics sink. The request path only ever enqueues; it never waits on
// persistence.
package observability

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/tensorgate/llm"
)

// RecordUsage is the token accounting persisted with a record. When the
// vendor did not report usage it holds the orchestrator's tokenizer estimate.
type RecordUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AttemptRecord is one failed provider attempt, persisted for diagnosis.
type AttemptRecord struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
	Error    string `json:"error"`
}

// InferenceRecord is the immutable analytics row written once per
// inference, successful or not.
type InferenceRecord struct {
	InferenceID      string            `json:"inference_id"`
	EpisodeID        string            `json:"episode_id"`
	FunctionName     string            `json:"function_name"`
	VariantName      string            `json:"variant_name"`
	ModelName        string            `json:"model_name"`
	ProviderName     string            `json:"provider_name"`
	Input            json.RawMessage   `json:"input,omitempty"`
	RenderedMessages []llm.Message     `json:"rendered_messages,omitempty"`
	RawResponse      json.RawMessage   `json:"raw_response,omitempty"`
	ParsedOutput     json.RawMessage   `json:"parsed_output,omitempty"`
	ToolCalls        json.RawMessage   `json:"tool_calls,omitempty"`
	Usage            RecordUsage       `json:"usage"`
	LatencyMS        int64             `json:"latency_ms"`
	Outcome          string            `json:"outcome"` // success or an error code
	Aborted          bool              `json:"aborted,omitempty"`
	Attempts         []AttemptRecord   `json:"attempts,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// FeedbackRecord is the immutable analytics row written once per accepted
// feedback. TargetID is an inference id or an episode id depending on the
// metric's level.
type FeedbackRecord struct {
	FeedbackID string            `json:"feedback_id"`
	TargetID   string            `json:"target_id"`
	MetricName string            `json:"metric_name"`
	Level      string            `json:"level"`
	Value      json.RawMessage   `json:"value"`
	Tags       map[string]string `json:"tags,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
