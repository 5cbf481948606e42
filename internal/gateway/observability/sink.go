package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/tensorgate/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// Sink is the analytics store's write-only interface. Implementations must
// tolerate replayed batches: the writer retries whole batches on error, so
// an insert that partially succeeded may be seen again.
type Sink interface {
	InsertInferenceRecords(ctx context.Context, records []*InferenceRecord) error
	InsertFeedbackRecords(ctx context.Context, records []*FeedbackRecord) error
}

// inferenceRow is the gorm model for inference records. Structured fields
// are serialized to JSON text columns so the schema evolves additively.
type inferenceRow struct {
	InferenceID  string    `gorm:"column:inference_id;primaryKey"`
	EpisodeID    string    `gorm:"column:episode_id;index"`
	FunctionName string    `gorm:"column:function_name;index"`
	VariantName  string    `gorm:"column:variant_name"`
	ModelName    string    `gorm:"column:model_name"`
	ProviderName string    `gorm:"column:provider_name"`
	Payload      string    `gorm:"column:payload;type:text"`
	Outcome      string    `gorm:"column:outcome"`
	LatencyMS    int64     `gorm:"column:latency_ms"`
	CreatedAt    time.Time `gorm:"column:created_at;index"`
}

func (inferenceRow) TableName() string { return "inference_records" }

type feedbackRow struct {
	FeedbackID string    `gorm:"column:feedback_id;primaryKey"`
	TargetID   string    `gorm:"column:target_id;index"`
	MetricName string    `gorm:"column:metric_name;index"`
	Level      string    `gorm:"column:level"`
	Payload    string    `gorm:"column:payload;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

func (feedbackRow) TableName() string { return "feedback_records" }

// DatabaseSink persists records through a pooled gorm connection. Any of
// the supported drivers (postgres, mysql, sqlite) works; the payload is an
// opaque JSON document either way.
type DatabaseSink struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewDatabaseSink migrates the record tables and wraps the pool.
func NewDatabaseSink(pool *database.PoolManager, logger *zap.Logger) (*DatabaseSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&inferenceRow{}, &feedbackRow{}); err != nil {
		return nil, fmt.Errorf("migrate analytics tables: %w", err)
	}
	return &DatabaseSink{pool: pool, logger: logger}, nil
}

func (s *DatabaseSink) InsertInferenceRecords(ctx context.Context, records []*InferenceRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]inferenceRow, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			s.logger.Error("unencodable inference record skipped",
				zap.String("inference_id", r.InferenceID), zap.Error(err))
			continue
		}
		rows = append(rows, inferenceRow{
			InferenceID:  r.InferenceID,
			EpisodeID:    r.EpisodeID,
			FunctionName: r.FunctionName,
			VariantName:  r.VariantName,
			ModelName:    r.ModelName,
			ProviderName: r.ProviderName,
			Payload:      string(payload),
			Outcome:      r.Outcome,
			LatencyMS:    r.LatencyMS,
			CreatedAt:    r.CreatedAt,
		})
	}
	return s.insert(ctx, &rows)
}

func (s *DatabaseSink) InsertFeedbackRecords(ctx context.Context, records []*FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]feedbackRow, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			s.logger.Error("unencodable feedback record skipped",
				zap.String("feedback_id", r.FeedbackID), zap.Error(err))
			continue
		}
		rows = append(rows, feedbackRow{
			FeedbackID: r.FeedbackID,
			TargetID:   r.TargetID,
			MetricName: r.MetricName,
			Level:      r.Level,
			Payload:    string(payload),
			CreatedAt:  r.CreatedAt,
		})
	}
	return s.insert(ctx, &rows)
}

// insert uses conflict-ignore so a replayed batch does not fail on the
// rows that already landed.
func (s *DatabaseSink) insert(ctx context.Context, rows any) error {
	return s.pool.DB().WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rows).Error
}
