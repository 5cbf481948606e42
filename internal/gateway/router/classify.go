package router

import (
	"context"
	"errors"
	"strings"

	"github.com/BaSui01/tensorgate/llm"
	"github.com/BaSui01/tensorgate/llm/circuitbreaker"
	"github.com/BaSui01/tensorgate/types"
)

// Classify maps whatever a provider adapter returned onto the gateway's
// error taxonomy. Adapters report what happened at the wire (llm.Error);
// this is the single place that decides what that means for routing.
func Classify(err error) types.ErrorCode {
	if err == nil {
		return ""
	}

	var ge *types.Error
	if errors.As(err, &ge) && isGatewayCode(ge.Code) {
		return ge.Code
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.ErrGatewayTimeout
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) ||
		errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return types.ErrRetryableTransport
	}

	var le *llm.Error
	if errors.As(err, &le) {
		switch le.Code {
		case llm.ErrUnauthorized, llm.ErrForbidden:
			return types.ErrAuth
		case llm.ErrRateLimited, llm.ErrQuotaExceeded:
			return types.ErrRateLimit
		case llm.ErrContextTooLong:
			return types.ErrContextLength
		case llm.ErrInvalidRequest:
			if looksLikeContextLength(le.Message) {
				return types.ErrContextLength
			}
			return types.ErrBadRequest
		case llm.ErrContentFiltered:
			return types.ErrContentFilter
		case llm.ErrToolValidation:
			return types.ErrBadToolArgs
		case llm.ErrUpstreamTimeout, llm.ErrUpstreamError, llm.ErrModelOverloaded,
			llm.ErrProviderUnavailable, llm.ErrRoutingUnavailable:
			return types.ErrRetryableTransport
		default:
			return types.ErrUnknown
		}
	}

	return types.ErrUnknown
}

func isGatewayCode(code types.ErrorCode) bool {
	switch code {
	case types.ErrRetryableTransport, types.ErrContextLength, types.ErrAuth,
		types.ErrBadRequest, types.ErrRateLimit, types.ErrGatewayTimeout,
		types.ErrContentFilter, types.ErrParse, types.ErrOutputValidation,
		types.ErrInputValidation, types.ErrNoVariant, types.ErrBadToolArgs,
		types.ErrUnknown:
		return true
	}
	return false
}

// looksLikeContextLength sniffs vendor 400 bodies for the phrases vendors
// use when the prompt exceeds the model window. Those come back as generic
// bad-request errors at the wire but must surface as CONTEXT_LENGTH so
// callers know failover cannot help.
func looksLikeContextLength(msg string) bool {
	m := strings.ToLower(msg)
	for _, s := range []string{
		"context length", "context_length", "maximum context",
		"too many tokens", "prompt is too long", "exceeds the model",
	} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}
