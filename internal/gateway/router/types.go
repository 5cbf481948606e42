// Package router tries a model's providers in routing order, classifying
// failures and failing over until one succeeds or the list is exhausted.
package router

import (
	"time"

	"github.com/BaSui01/tensorgate/llm"
	"github.com/BaSui01/tensorgate/types"
)

// StopReason normalizes the many vendor finish-reason strings into the
// gateway's own closed set.
type StopReason string

const (
	StopEnd           StopReason = "end"
	StopLength        StopReason = "length"
	StopToolCall      StopReason = "tool_call"
	StopContentFilter StopReason = "content_filter"
	StopOther         StopReason = "other"
)

// ToolCallOut is a model-requested tool call with its raw JSON arguments,
// not yet validated against the tool's schema — that happens in
// internal/gateway/tools.
type ToolCallOut struct {
	ID        string
	Name      string
	Arguments string
}

// Usage carries token counts; zero when the vendor did not report them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// NormalizedResponse is a provider's response translated into the gateway's
// vendor-independent shape. Raw is kept verbatim for persistence.
type NormalizedResponse struct {
	Provider   string
	Content    string
	ToolCalls  []ToolCallOut
	StopReason StopReason
	Usage      Usage
	Raw        *llm.ChatResponse
}

// ProviderAttempt records one failed (or skipped) routing attempt for the
// caller's error list and the InferenceRecord.
type ProviderAttempt struct {
	Provider string
	Code     types.ErrorCode
	Error    string
	Latency  time.Duration
}

// StreamEvent is one item forwarded to the caller once a provider has been
// committed to. Err set means the stream ended with an error — no further
// events follow, and no cross-provider retry happens at this point.
type StreamEvent struct {
	Provider      string
	Content       string
	ToolCallDelta *ToolCallOut
	Usage         *Usage
	Final         bool
	Err           error
	Code          types.ErrorCode
}

func normalizeResponse(providerName string, resp *llm.ChatResponse) *NormalizedResponse {
	out := &NormalizedResponse{
		Provider: providerName,
		Raw:      resp,
		Usage:    Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		out.StopReason = StopOther
		return out
	}
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCallOut{ID: tc.ID, Name: tc.Name, Arguments: string(tc.Arguments)})
	}
	out.StopReason = classifyStopReason(choice.FinishReason, len(out.ToolCalls) > 0)
	return out
}

func classifyStopReason(finish string, hasToolCalls bool) StopReason {
	switch finish {
	case "stop", "end_turn", "":
		if hasToolCalls {
			return StopToolCall
		}
		return StopEnd
	case "length", "max_tokens":
		return StopLength
	case "tool_calls", "tool_use":
		return StopToolCall
	case "content_filter":
		return StopContentFilter
	default:
		return StopOther
	}
}
