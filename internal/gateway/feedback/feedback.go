// Package feedback validates and records caller feedback against declared
// metrics. Feedback may legally arrive before the inference it targets has
// been flushed to the analytics store, so target existence is never
// checked — only the metric definition, the value's type, and the target
// id's shape.
package feedback

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/tensorgate/internal/gateway/config"
	"github.com/BaSui01/tensorgate/internal/gateway/observability"
	"github.com/BaSui01/tensorgate/internal/metrics"
	"github.com/BaSui01/tensorgate/types"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Request is one feedback submission.
type Request struct {
	MetricName string            `json:"metric_name"`
	TargetID   string            `json:"target_id"`
	Value      json.RawMessage   `json:"value"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Service validates feedback and appends records to the observability
// pipeline.
type Service struct {
	reg       *config.Registry
	pipeline  *observability.Pipeline
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewService builds the feedback service.
func NewService(reg *config.Registry, pipeline *observability.Pipeline, collector *metrics.Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{reg: reg, pipeline: pipeline, collector: collector, logger: logger.Named("feedback")}
}

// Record validates req and enqueues a FeedbackRecord. The returned id
// identifies the accepted feedback; persistence is asynchronous.
func (s *Service) Record(req *Request) (string, error) {
	metric, ok := s.reg.Metric(req.MetricName)
	if !ok {
		return "", badRequest(fmt.Sprintf("unknown metric %q", req.MetricName))
	}

	if _, err := uuid.Parse(req.TargetID); err != nil {
		return "", badRequest(fmt.Sprintf("target_id %q is not a valid id", req.TargetID))
	}

	if err := checkValue(metric, req.Value); err != nil {
		return "", err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", types.NewError(types.ErrUnknown, "generate feedback id").WithCause(err).
			WithHTTPStatus(types.HTTPStatusForCode(types.ErrUnknown))
	}

	rec := &observability.FeedbackRecord{
		FeedbackID: id.String(),
		TargetID:   req.TargetID,
		MetricName: metric.Name,
		Level:      string(metric.Level),
		Value:      req.Value,
		Tags:       req.Tags,
		CreatedAt:  time.Now().UTC(),
	}
	s.pipeline.EnqueueFeedback(rec)
	s.collector.RecordFeedback(metric.Name, string(metric.Level))

	return rec.FeedbackID, nil
}

// checkValue enforces the metric's value type: a boolean metric takes JSON
// true/false only — 1.0 is a float, not a boolean — and a float metric
// takes a JSON number only.
func checkValue(metric *config.Metric, value json.RawMessage) error {
	if len(value) == 0 {
		return badRequest(fmt.Sprintf("metric %q: value is required", metric.Name))
	}
	parsed := gjson.ParseBytes(value)
	switch metric.Type {
	case config.MetricBoolean:
		if parsed.Type != gjson.True && parsed.Type != gjson.False {
			return badRequest(fmt.Sprintf("metric %q is boolean, got %s", metric.Name, value))
		}
	case config.MetricFloat:
		if parsed.Type != gjson.Number {
			return badRequest(fmt.Sprintf("metric %q is float, got %s", metric.Name, value))
		}
	}
	return nil
}

func badRequest(msg string) error {
	return types.NewError(types.ErrBadRequest, msg).
		WithHTTPStatus(types.HTTPStatusForCode(types.ErrBadRequest))
}
