package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/observability"
	"github.com/BaSui01/tensorgate/internal/gateway/router"
	"github.com/BaSui01/tensorgate/internal/gateway/tools"
	"github.com/BaSui01/tensorgate/types"
	"go.uber.org/zap"
)

// InferStream runs one streaming inference. The returned StreamResult is
// already committed to a provider; Events yields deltas in vendor order
// and closes after the terminal event. The inference record is enqueued
// when the stream ends, successful or not.
func (o *Orchestrator) InferStream(ctx context.Context, req *Request) (*StreamResult, error) {
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
	}

	inf, err := o.resolve(req)
	if err != nil {
		cancel()
		return nil, err
	}

	chatReq, err := o.buildChatRequest(inf)
	if err != nil {
		cancel()
		return nil, err
	}

	handle, err := o.router.RouteStream(ctx, inf.model, chatReq)
	if err != nil {
		code := router.Classify(err)
		o.record(inf, "", nil, nil, nil, observability.RecordUsage{}, string(code), nil, false)
		cancel()
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer cancel()
		o.forwardStream(ctx, inf, handle, out)
	}()

	return &StreamResult{
		InferenceID: inf.inferenceID,
		EpisodeID:   inf.episodeID,
		VariantName: inf.variant.Name,
		Events:      out,
	}, nil
}

// forwardStream relays committed provider events to the caller,
// accumulating content, tool-call deltas and usage for the record written
// at stream end.
func (o *Orchestrator) forwardStream(ctx context.Context, inf *inference, handle *router.StreamHandle, out chan<- StreamEvent) {
	defer close(out)

	var (
		content   string
		usage     observability.RecordUsage
		gotUsage  bool
		toolOrder []string
		toolCalls = make(map[string]*router.ToolCallOut)
		streamErr error
		errCode   types.ErrorCode
	)

	for ev := range handle.Events {
		if ev.Err != nil {
			streamErr = ev.Err
			errCode = ev.Code
			break
		}
		if ev.Content != "" {
			content += ev.Content
			if !emit(ctx, out, StreamEvent{Content: ev.Content}) {
				streamErr = ctx.Err()
				errCode = types.ErrGatewayTimeout
				break
			}
		}
		if ev.ToolCallDelta != nil {
			d := ev.ToolCallDelta
			if existing, ok := toolCalls[d.ID]; ok {
				existing.Arguments += d.Arguments
				if d.Name != "" {
					existing.Name = d.Name
				}
			} else {
				toolCalls[d.ID] = &router.ToolCallOut{ID: d.ID, Name: d.Name, Arguments: d.Arguments}
				toolOrder = append(toolOrder, d.ID)
			}
		}
		if ev.Usage != nil {
			usage = observability.RecordUsage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
			gotUsage = true
		}
	}

	provider := handle.Provider
	resp := &router.NormalizedResponse{Provider: provider, Content: content, Usage: router.Usage{
		InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens,
	}}
	if !gotUsage {
		usage = o.ensureUsage(inf, resp)
	}

	if streamErr != nil {
		if errCode == "" {
			errCode = types.ErrUnknown
		}
		o.record(inf, provider, resp, nil, nil, usage, string(errCode), handle.Attempts, true)
		emit(ctx, out, StreamEvent{Final: true, Err: streamErr, Code: errCode})
		o.logger.Warn("stream terminated with error",
			zap.String("inference_id", inf.inferenceID),
			zap.String("provider", provider),
			zap.String("code", string(errCode)),
			zap.Error(streamErr))
		return
	}

	calls := make([]router.ToolCallOut, 0, len(toolOrder))
	for _, id := range toolOrder {
		calls = append(calls, *toolCalls[id])
	}

	output, validated, vErr := o.finishStream(inf, content, calls)
	if vErr != nil {
		code := router.Classify(vErr)
		o.record(inf, provider, resp, nil, nil, usage, string(code), handle.Attempts, false)
		emit(ctx, out, StreamEvent{Final: true, Err: vErr, Code: code})
		return
	}

	for i := range validated {
		if !emit(ctx, out, StreamEvent{ToolCall: &validated[i]}) {
			return
		}
	}

	o.record(inf, provider, resp, output, validated, usage, "success", handle.Attempts, false)
	o.collector.RecordTokens(inf.fn.Name, inf.model.Name, provider, usage.InputTokens, usage.OutputTokens)
	emit(ctx, out, StreamEvent{Final: true, Usage: &usage})
}

// finishStream applies the non-streaming interpretation rules to the
// accumulated stream: output parsing and schema validation for json
// functions, tool-call validation for chat functions.
func (o *Orchestrator) finishStream(inf *inference, content string, calls []router.ToolCallOut) (json.RawMessage, []tools.ValidatedCall, error) {
	fn := inf.fn

	if fn.Kind == config.FunctionJSON {
		var output json.RawMessage
		if inf.variant.JSONMode == config.JSONModeImplicitTool {
			unwrapped, err := tools.UnwrapImplicitTool(calls)
			if err != nil {
				return nil, nil, err
			}
			output = unwrapped
		} else {
			if !json.Valid([]byte(content)) {
				return nil, nil, outputValidation("model output is not valid JSON")
			}
			output = json.RawMessage(content)
		}
		if err := fn.OutputSchema.Validate(output); err != nil {
			return nil, nil, outputValidation(fmt.Sprintf("model output rejected by output_schema: %v", err))
		}
		return output, nil, nil
	}

	if len(calls) == 0 {
		return nil, nil, nil
	}
	parallel := fn.ParallelToolCalls
	if inf.req.ParallelToolCalls != nil {
		parallel = *inf.req.ParallelToolCalls
	}
	validated, err := tools.Validate(o.reg, fn, calls, parallel)
	if err != nil {
		return nil, nil, err
	}
	return nil, validated, nil
}

func emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
