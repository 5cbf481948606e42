package observability

import (
	"context"
	"sync"
)

// MemorySink keeps records in memory. It is the default sink when no
// analytics database is configured, and what tests assert against.
type MemorySink struct {
	mu         sync.Mutex
	inferences []*InferenceRecord
	feedbacks  []*FeedbackRecord

	// FailNext makes the next N insert calls fail, for backoff tests.
	FailNext int
	failErr  error
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// FailWith arms the sink to fail the next n insert calls with err.
func (s *MemorySink) FailWith(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailNext = n
	s.failErr = err
}

func (s *MemorySink) InsertInferenceRecords(ctx context.Context, records []*InferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext > 0 {
		s.FailNext--
		return s.failErr
	}
	s.inferences = append(s.inferences, records...)
	return nil
}

func (s *MemorySink) InsertFeedbackRecords(ctx context.Context, records []*FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailNext > 0 {
		s.FailNext--
		return s.failErr
	}
	s.feedbacks = append(s.feedbacks, records...)
	return nil
}

// Inferences returns a copy of the persisted inference records.
func (s *MemorySink) Inferences() []*InferenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*InferenceRecord, len(s.inferences))
	copy(out, s.inferences)
	return out
}

// Feedbacks returns a copy of the persisted feedback records.
func (s *MemorySink) Feedbacks() []*FeedbackRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FeedbackRecord, len(s.feedbacks))
	copy(out, s.feedbacks)
	return out
}
