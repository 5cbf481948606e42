package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/observability"
	"github.com/BaSui01/tensorgate/internal/gateway/router"
	"github.com/BaSui01/tensorgate/internal/gateway/tools"
	"github.com/BaSui01/tensorgate/internal/metrics"
	"github.com/BaSui01/tensorgate/llm"
	"github.com/BaSui01/tensorgate/llm/tokenizer"
	"github.com/BaSui01/tensorgate/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultDeadline bounds an inference when the caller's context carries no
// deadline of its own.
const DefaultDeadline = 60 * time.Second

// Orchestrator runs the full inference pipeline for one request at a time.
// It is stateless across requests; everything shared lives in the injected
// registry, router and pipeline.
type Orchestrator struct {
	reg       *config.Registry
	router    *router.Router
	pipeline  *observability.Pipeline
	collector *metrics.Collector
	logger    *zap.Logger
	deadline  time.Duration
}

// New builds an Orchestrator.
func New(reg *config.Registry, rt *router.Router, pipeline *observability.Pipeline, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		reg:       reg,
		router:    rt,
		pipeline:  pipeline,
		collector: collector,
		logger:    logger.Named("orchestrator"),
		deadline:  DefaultDeadline,
	}
}

// WithDeadline overrides the default per-request deadline.
func (o *Orchestrator) WithDeadline(d time.Duration) *Orchestrator {
	if d > 0 {
		o.deadline = d
	}
	return o
}

// inference carries the resolved identities of one request through the
// pipeline stages.
type inference struct {
	req         *Request
	fn          *config.Function
	variant     *config.Variant
	model       *config.Model
	inferenceID string
	episodeID   string
	messages    []llm.Message
	started     time.Time
}

// resolve performs steps 1-3: function lookup, id assignment, variant
// sampling, prompt rendering.
func (o *Orchestrator) resolve(req *Request) (*inference, error) {
	fn, ok := o.reg.Function(req.FunctionName)
	if !ok {
		return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("unknown function %q", req.FunctionName)).
			WithHTTPStatus(types.HTTPStatusForCode(types.ErrBadRequest))
	}

	episodeID := req.EpisodeID
	if episodeID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, internalError("generate episode id", err)
		}
		episodeID = id.String()
	} else if _, err := uuid.Parse(episodeID); err != nil {
		return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("episode_id %q is not a valid id", episodeID)).
			WithHTTPStatus(types.HTTPStatusForCode(types.ErrBadRequest))
	}

	inferenceID, err := uuid.NewV7()
	if err != nil {
		return nil, internalError("generate inference id", err)
	}

	variantName, err := fn.SampleTable.Pick(fn.Name, episodeID)
	if err != nil {
		return nil, err
	}
	variant := fn.Variants[variantName]
	model, ok := o.reg.Model(variant.ModelName)
	if !ok {
		// unreachable after a successful config load
		return nil, internalError(fmt.Sprintf("variant %q references unknown model %q", variantName, variant.ModelName), nil)
	}

	messages, err := renderMessages(fn, variant, req.Input)
	if err != nil {
		return nil, err
	}

	return &inference{
		req:         req,
		fn:          fn,
		variant:     variant,
		model:       model,
		inferenceID: inferenceID.String(),
		episodeID:   episodeID,
		messages:    messages,
		started:     time.Now(),
	}, nil
}

// buildChatRequest performs step 4: the normalized request with tool specs
// and the variant's json-mode hint encoded.
func (o *Orchestrator) buildChatRequest(inf *inference) (*llm.ChatRequest, error) {
	fn, v := inf.fn, inf.variant

	chatReq := &llm.ChatRequest{
		TraceID:  inf.inferenceID,
		Messages: inf.messages,
		Seed:     v.Seed,
	}
	if v.Temperature != nil {
		chatReq.Temperature = float32(*v.Temperature)
	}
	if v.MaxTokens != nil {
		chatReq.MaxTokens = *v.MaxTokens
	}
	if v.TopP != nil {
		chatReq.TopP = float32(*v.TopP)
	}

	parallel := fn.ParallelToolCalls
	if inf.req.ParallelToolCalls != nil {
		parallel = *inf.req.ParallelToolCalls
	}

	if len(fn.Tools) > 0 {
		specs, err := tools.Specs(o.reg, fn)
		if err != nil {
			return nil, err
		}
		for _, s := range specs {
			chatReq.Tools = append(chatReq.Tools, llm.ToolSchema{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			})
		}
		chatReq.ToolChoice = toolChoiceString(fn.ToolChoice)
		if inf.req.AdditionalToolChoice != "" {
			chatReq.ToolChoice = inf.req.AdditionalToolChoice
		}
		chatReq.ParallelToolCalls = &parallel
	}

	if fn.Kind == config.FunctionJSON {
		if err := o.applyJSONMode(chatReq, fn, v); err != nil {
			return nil, err
		}
	}

	return chatReq, nil
}

// applyJSONMode encodes the variant's json_mode into the normalized
// request. implicit_tool synthesizes the reserved respond tool and forces
// the model through the tool-call channel, which buys schema adherence on
// vendors without a native JSON mode.
func (o *Orchestrator) applyJSONMode(chatReq *llm.ChatRequest, fn *config.Function, v *config.Variant) error {
	outputSource, err := fn.OutputSchema.Source()
	if err != nil {
		return internalError("output schema has no source", err)
	}

	switch v.JSONMode {
	case config.JSONModeOff:
	case config.JSONModeOn:
		chatReq.ResponseFormat = &llm.ResponseFormat{Type: "json_object"}
	case config.JSONModeStrict:
		chatReq.ResponseFormat = &llm.ResponseFormat{
			Type:       "json_schema",
			SchemaName: fn.Name,
			Schema:     outputSource,
			Strict:     true,
		}
	case config.JSONModeImplicitTool:
		chatReq.Tools = append(chatReq.Tools, llm.ToolSchema{
			Name:        config.ReservedToolName,
			Description: "Answer with the structured result.",
			Parameters:  outputSource,
		})
		chatReq.ToolChoice = "required"
	}
	return nil
}

func toolChoiceString(tc config.ToolChoice) string {
	switch tc.Mode {
	case config.ToolChoiceNone:
		return "none"
	case config.ToolChoiceRequired:
		return "required"
	case config.ToolChoiceSpecific:
		return tc.Name
	default:
		return "auto"
	}
}

// Infer runs one non-streaming inference end to end. The caller gets a
// result only after the inference record has been enqueued for
// persistence.
func (o *Orchestrator) Infer(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := otel.Tracer("tensorgate/gateway").Start(ctx, "inference")
	defer span.End()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deadline)
		defer cancel()
	}

	inf, err := o.resolve(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("function", inf.fn.Name),
		attribute.String("variant", inf.variant.Name),
		attribute.String("model", inf.model.Name),
	)

	chatReq, err := o.buildChatRequest(inf)
	if err != nil {
		return nil, err
	}

	resp, attempts, err := o.router.Route(ctx, inf.model, chatReq)
	if err != nil {
		code := router.Classify(err)
		o.record(inf, "", nil, nil, nil, observability.RecordUsage{}, string(code), attempts, false)
		return nil, err
	}

	result, vErr := o.interpret(inf, resp)
	usage := o.ensureUsage(inf, resp)

	if vErr != nil {
		code := router.Classify(vErr)
		o.record(inf, resp.Provider, resp, nil, nil, usage, string(code), attempts, false)
		return nil, vErr
	}

	result.InferenceID = inf.inferenceID
	result.EpisodeID = inf.episodeID
	result.VariantName = inf.variant.Name
	result.Usage = usage

	o.record(inf, resp.Provider, resp, result.Output, result.ToolCalls, usage, "success", attempts, false)
	o.collector.RecordTokens(inf.fn.Name, inf.model.Name, resp.Provider, usage.InputTokens, usage.OutputTokens)
	return result, nil
}

// interpret performs step 6: tool-call validation for chat functions,
// output parsing and schema validation for json functions.
func (o *Orchestrator) interpret(inf *inference, resp *router.NormalizedResponse) (*Result, error) {
	fn := inf.fn
	result := &Result{Content: resp.Content}

	if fn.Kind == config.FunctionJSON {
		var output json.RawMessage
		if inf.variant.JSONMode == config.JSONModeImplicitTool {
			unwrapped, err := tools.UnwrapImplicitTool(resp.ToolCalls)
			if err != nil {
				return nil, err
			}
			output = unwrapped
		} else {
			if !json.Valid([]byte(resp.Content)) {
				return nil, outputValidation("model output is not valid JSON")
			}
			output = json.RawMessage(resp.Content)
		}
		if err := fn.OutputSchema.Validate(output); err != nil {
			return nil, outputValidation(fmt.Sprintf("model output rejected by output_schema: %v", err))
		}
		result.Output = output
		return result, nil
	}

	if len(resp.ToolCalls) > 0 {
		parallel := fn.ParallelToolCalls
		if inf.req.ParallelToolCalls != nil {
			parallel = *inf.req.ParallelToolCalls
		}
		validated, err := tools.Validate(o.reg, fn, resp.ToolCalls, parallel)
		if err != nil {
			return nil, err
		}
		result.ToolCalls = validated
	}
	return result, nil
}

// ensureUsage backfills token counts with a tokenizer estimate when the
// vendor did not report usage, so tokens_total and the analytics rows are
// never silently zero for a request that clearly consumed tokens.
func (o *Orchestrator) ensureUsage(inf *inference, resp *router.NormalizedResponse) observability.RecordUsage {
	usage := observability.RecordUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if usage.InputTokens > 0 || usage.OutputTokens > 0 {
		return usage
	}

	tk := tokenizer.GetTokenizerOrEstimator(inf.model.Name)
	msgs := make([]tokenizer.Message, 0, len(inf.messages))
	for _, m := range inf.messages {
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	if n, err := tk.CountMessages(msgs); err == nil {
		usage.InputTokens = n
	}
	if n, err := tk.CountTokens(resp.Content); err == nil {
		usage.OutputTokens = n
	}
	return usage
}

// record assembles the InferenceRecord and enqueues it (step 7). Dryrun
// requests skip the queue but still count in metrics.
func (o *Orchestrator) record(inf *inference, provider string, resp *router.NormalizedResponse,
	output json.RawMessage, toolCalls []tools.ValidatedCall, usage observability.RecordUsage,
	outcome string, attempts []router.ProviderAttempt, aborted bool) {

	latency := time.Since(inf.started)
	o.collector.RecordInference(inf.fn.Name, inf.variant.Name, inf.model.Name, provider, outcome, latency)

	if inf.req.Dryrun {
		return
	}

	rec := &observability.InferenceRecord{
		InferenceID:      inf.inferenceID,
		EpisodeID:        inf.episodeID,
		FunctionName:     inf.fn.Name,
		VariantName:      inf.variant.Name,
		ModelName:        inf.model.Name,
		ProviderName:     provider,
		Input:            marshalInput(inf.req.Input),
		RenderedMessages: inf.messages,
		ParsedOutput:     output,
		Usage:            usage,
		LatencyMS:        latency.Milliseconds(),
		Outcome:          outcome,
		Aborted:          aborted,
		Tags:             inf.req.Tags,
		CreatedAt:        time.Now().UTC(),
	}
	if resp != nil && resp.Raw != nil {
		if raw, err := json.Marshal(resp.Raw); err == nil {
			rec.RawResponse = raw
		}
	}
	if len(toolCalls) > 0 {
		if tc, err := json.Marshal(toolCalls); err == nil {
			rec.ToolCalls = tc
		}
	}
	for _, a := range attempts {
		rec.Attempts = append(rec.Attempts, observability.AttemptRecord{
			Provider: a.Provider,
			Code:     string(a.Code),
			Error:    a.Error,
		})
	}

	o.pipeline.EnqueueInference(rec)
}

func marshalInput(in Input) json.RawMessage {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	return raw
}

func outputValidation(msg string) error {
	return types.NewError(types.ErrOutputValidation, msg).
		WithHTTPStatus(types.HTTPStatusForCode(types.ErrOutputValidation))
}

func internalError(msg string, cause error) error {
	e := types.NewError(types.ErrUnknown, msg).WithHTTPStatus(500)
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}
