package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/tensorgate/api"
	"github.com/BaSui01/tensorgate/internal/gateway/orchestrator"
	"github.com/BaSui01/tensorgate/internal/gateway/tools"
	"github.com/BaSui01/tensorgate/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🚀 推理接口 Handler
// =============================================================================

// InferenceHandler 推理接口处理器
type InferenceHandler struct {
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewInferenceHandler 创建推理处理器
func NewInferenceHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *InferenceHandler {
	return &InferenceHandler{orch: orch, logger: logger}
}

// HandleInference 处理推理请求
// @Summary 推理
// @Description 调用命名函数执行一次推理，stream=true 时以 SSE 返回
// @Tags 推理
// @Accept json
// @Produce json
// @Param request body api.InferenceRequest true "推理请求"
// @Success 200 {object} api.InferenceResponse "推理响应"
// @Failure 400 {object} api.ErrorResponse "无效请求"
// @Failure 408 {object} api.ErrorResponse "超时"
// @Failure 422 {object} api.ErrorResponse "输出/工具参数校验失败"
// @Failure 502 {object} api.ErrorResponse "所有 Provider 失败"
// @Router /inference [post]
func (h *InferenceHandler) HandleInference(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.InferenceRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.FunctionName == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrBadRequest, "function_name is required", h.logger)
		return
	}

	orchReq := &orchestrator.Request{
		FunctionName:         req.FunctionName,
		EpisodeID:            req.EpisodeID,
		Input:                orchestrator.Input(req.Input),
		Stream:               req.Stream,
		ParallelToolCalls:    req.ParallelToolCalls,
		AdditionalToolChoice: req.AdditionalToolChoice,
		Dryrun:               req.Dryrun,
		Tags:                 req.Tags,
	}

	if req.Stream {
		h.handleStream(w, r, orchReq)
		return
	}

	start := time.Now()
	res, err := h.orch.Infer(r.Context(), orchReq)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("inference",
		zap.String("function", req.FunctionName),
		zap.String("inference_id", res.InferenceID),
		zap.String("variant", res.VariantName),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Duration("duration", time.Since(start)),
	)

	WriteJSON(w, http.StatusOK, toInferenceResponse(res))
}

// handleStream 以 SSE 推送事件。承诺规则在 router 层保证：
// 首个事件送出后不再换 Provider，后续失败以 error 事件终止流。
func (h *InferenceHandler) handleStream(w http.ResponseWriter, r *http.Request, orchReq *orchestrator.Request) {
	res, err := h.orch.InferStream(r.Context(), orchReq)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrUnknown, "streaming not supported", h.logger)
		return
	}

	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)

	for ev := range res.Events {
		payload := api.StreamEvent{
			Content: ev.Content,
			Final:   ev.Final,
		}
		if ev.ToolCall != nil {
			payload.ToolCall = toAPIToolCall(*ev.ToolCall)
		}
		if ev.Usage != nil {
			payload.Usage = &api.Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}
		}
		if ev.Final {
			// 终止事件携带 inference_id 与 episode_id
			payload.InferenceID = res.InferenceID
			payload.EpisodeID = res.EpisodeID
		}
		if ev.Err != nil {
			kind := string(ev.Code)
			if kind == "" {
				kind = string(types.ErrUnknown)
			}
			payload.Error = &api.ErrorDetail{Kind: kind, Message: ev.Err.Error()}
			writeSSE(w, "error", payload)
			flusher.Flush()
			return
		}

		writeSSE(w, "", payload)
		flusher.Flush()
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// writeSSE 发送一个 SSE 事件；event 为空时只写 data 行。
func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if event != "" {
		w.Write([]byte("event: " + event + "\n"))
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

func toInferenceResponse(res *orchestrator.Result) *api.InferenceResponse {
	out := &api.InferenceResponse{
		InferenceID: res.InferenceID,
		EpisodeID:   res.EpisodeID,
		VariantName: res.VariantName,
		Content:     res.Content,
		Output:      res.Output,
		Usage:       api.Usage{InputTokens: res.Usage.InputTokens, OutputTokens: res.Usage.OutputTokens},
	}
	for _, tc := range res.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, *toAPIToolCall(tc))
	}
	return out
}

func toAPIToolCall(tc tools.ValidatedCall) *api.ToolCall {
	return &api.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
}
