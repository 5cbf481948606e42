// Package tools mediates between models and caller-defined tools. The
// gateway never executes a tool: mediation means re-encoding the function's
// tool set into the outgoing request, then validating the model's tool-call
// arguments against each tool's parameters schema before handing the calls
// back to the API caller.
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/router"
	"github.com/BaSui01/tensorgate/types"
	"github.com/tidwall/gjson"
)

// ValidatedCall is a tool call whose arguments passed the tool's schema.
type ValidatedCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Specs builds the outgoing tool declarations for a function, in declared
// order. The JSON-schema source text is re-read from the compiled schema's
// original document so every vendor sees the same parameters the loader
// validated.
func Specs(reg *config.Registry, fn *config.Function) ([]ToolSpec, error) {
	specs := make([]ToolSpec, 0, len(fn.Tools))
	for _, name := range fn.Tools {
		tool, ok := reg.Tools[name]
		if !ok {
			// unreachable after a successful load; guard anyway
			return nil, types.NewError(types.ErrBadRequest, fmt.Sprintf("tool %q is not declared", name))
		}
		raw, err := tool.Parameters.Source()
		if err != nil {
			return nil, err
		}
		specs = append(specs, ToolSpec{Name: tool.Name, Description: tool.Description, Parameters: raw})
	}
	return specs, nil
}

// ToolSpec is a tool declaration ready for vendor re-encoding.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Validate checks every model-returned tool call against its tool's
// parameters schema. A failure is BAD_TOOL_ARGS: the model misbehaved, the
// transport did not, so the error surfaces to the caller without retry.
// When parallel is false the model was told to make at most one call, and a
// multi-call reply is itself a protocol violation.
func Validate(reg *config.Registry, fn *config.Function, calls []router.ToolCallOut, parallel bool) ([]ValidatedCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	if !parallel && len(calls) > 1 {
		return nil, badToolArgs(fmt.Sprintf("model returned %d tool calls but parallel_tool_calls is disabled", len(calls)))
	}

	out := make([]ValidatedCall, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call router.ToolCallOut) {
			defer wg.Done()
			v, err := validateOne(reg, fn, call)
			out[i], errs[i] = v, err
		}(i, call)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func validateOne(reg *config.Registry, fn *config.Function, call router.ToolCallOut) (ValidatedCall, error) {
	declared := false
	for _, name := range fn.Tools {
		if name == call.Name {
			declared = true
			break
		}
	}
	if !declared {
		return ValidatedCall{}, badToolArgs(fmt.Sprintf("model called undeclared tool %q", call.Name))
	}

	tool := reg.Tools[call.Name]
	if !gjson.Valid(call.Arguments) {
		return ValidatedCall{}, badToolArgs(fmt.Sprintf("tool %q arguments are not valid JSON", call.Name))
	}
	if err := tool.Parameters.Validate([]byte(call.Arguments)); err != nil {
		return ValidatedCall{}, badToolArgs(fmt.Sprintf("tool %q arguments rejected by schema: %v", call.Name, err))
	}

	return ValidatedCall{ID: call.ID, Name: call.Name, Arguments: json.RawMessage(call.Arguments)}, nil
}

// UnwrapImplicitTool extracts the synthetic respond call's arguments as the
// function's structured output. Anything other than exactly one respond call
// means the model ignored the forced tool choice.
func UnwrapImplicitTool(calls []router.ToolCallOut) (json.RawMessage, error) {
	if len(calls) != 1 || calls[0].Name != config.ReservedToolName {
		return nil, types.NewError(types.ErrOutputValidation,
			"model did not answer through the structured output channel").
			WithHTTPStatus(types.HTTPStatusForCode(types.ErrOutputValidation))
	}
	if !gjson.Valid(calls[0].Arguments) {
		return nil, types.NewError(types.ErrOutputValidation, "structured output is not valid JSON").
			WithHTTPStatus(types.HTTPStatusForCode(types.ErrOutputValidation))
	}
	return json.RawMessage(calls[0].Arguments), nil
}

func badToolArgs(msg string) error {
	return types.NewError(types.ErrBadToolArgs, msg).
		WithHTTPStatus(types.HTTPStatusForCode(types.ErrBadToolArgs))
}
