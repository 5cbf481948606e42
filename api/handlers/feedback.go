package handlers

import (
	"net/http"

	"github.com/BaSui01/tensorgate/api"
	"github.com/BaSui01/tensorgate/internal/gateway/feedback"
	"github.com/BaSui01/tensorgate/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📝 反馈接口 Handler
// =============================================================================

// FeedbackHandler 反馈接口处理器
type FeedbackHandler struct {
	svc    *feedback.Service
	logger *zap.Logger
}

// NewFeedbackHandler 创建反馈处理器
func NewFeedbackHandler(svc *feedback.Service, logger *zap.Logger) *FeedbackHandler {
	return &FeedbackHandler{svc: svc, logger: logger}
}

// HandleFeedback 处理反馈请求
// @Summary 反馈
// @Description 对某次推理或 episode 记录一条指标反馈
// @Tags 反馈
// @Accept json
// @Produce json
// @Param request body api.FeedbackRequest true "反馈请求"
// @Success 200 {object} api.FeedbackResponse "反馈已接受"
// @Failure 400 {object} api.ErrorResponse "无效请求"
// @Router /feedback [post]
func (h *FeedbackHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.FeedbackRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.MetricName == "" || req.TargetID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrBadRequest, "metric_name and target_id are required", h.logger)
		return
	}

	id, err := h.svc.Record(&feedback.Request{
		MetricName: req.MetricName,
		TargetID:   req.TargetID,
		Value:      req.Value,
		Tags:       req.Tags,
	})
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("feedback accepted",
		zap.String("metric", req.MetricName),
		zap.String("target_id", req.TargetID),
		zap.String("feedback_id", id),
	)
	WriteJSON(w, http.StatusOK, api.FeedbackResponse{FeedbackID: id})
}
