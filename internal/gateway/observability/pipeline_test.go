package observability

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/BaSui01/tensorgate/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

var testNamespaceSeq int

func testCollector() *metrics.Collector {
	testNamespaceSeq++
	return metrics.NewCollector(fmt.Sprintf("obs_test_%d", testNamespaceSeq), zap.NewNop())
}

func inferenceRecord(id string) *InferenceRecord {
	return &InferenceRecord{
		InferenceID:  id,
		EpisodeID:    "ep-1",
		FunctionName: "basic_test",
		VariantName:  "test",
		ModelName:    "test",
		ProviderName: "good",
		Outcome:      "success",
		CreatedAt:    time.Now(),
	}
}

func TestPipelineFlushesByBatchSize(t *testing.T) {
	sink := NewMemorySink()
	p := NewPipeline(Config{BufferSize: 16, BatchSize: 2, FlushInterval: time.Hour}, sink, testCollector(), zap.NewNop())

	assert.True(t, p.EnqueueInference(inferenceRecord("a")))
	assert.True(t, p.EnqueueInference(inferenceRecord("b")))

	require.Eventually(t, func() bool {
		return len(sink.Inferences()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	p.Close()
}

func TestPipelineFlushesByInterval(t *testing.T) {
	sink := NewMemorySink()
	p := NewPipeline(Config{BufferSize: 16, BatchSize: 100, FlushInterval: 20 * time.Millisecond}, sink, testCollector(), zap.NewNop())

	p.EnqueueInference(inferenceRecord("a"))

	require.Eventually(t, func() bool {
		return len(sink.Inferences()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	p.Close()
}

func TestPipelineFlushesOnClose(t *testing.T) {
	sink := NewMemorySink()
	p := NewPipeline(Config{BufferSize: 16, BatchSize: 100, FlushInterval: time.Hour}, sink, testCollector(), zap.NewNop())

	p.EnqueueInference(inferenceRecord("a"))
	p.EnqueueFeedback(&FeedbackRecord{FeedbackID: "f1", TargetID: "a", MetricName: "task_success", Level: "inference", CreatedAt: time.Now()})
	p.Close()

	assert.Len(t, sink.Inferences(), 1)
	assert.Len(t, sink.Feedbacks(), 1)
}

func TestPipelineRetriesSinkErrors(t *testing.T) {
	sink := NewMemorySink()
	sink.FailWith(2, errors.New("sink down"))
	p := NewPipeline(Config{BufferSize: 16, BatchSize: 1, FlushInterval: time.Hour}, sink, testCollector(), zap.NewNop())

	p.EnqueueInference(inferenceRecord("a"))

	require.Eventually(t, func() bool {
		return len(sink.Inferences()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	p.Close()
}

func TestPipelineRejectsAfterClose(t *testing.T) {
	sink := NewMemorySink()
	p := NewPipeline(Config{}, sink, testCollector(), zap.NewNop())
	p.Close()

	assert.False(t, p.EnqueueInference(inferenceRecord("late")))
	assert.Empty(t, sink.Inferences())
}

// TestPipelineOverflowNeverBlocks drives arbitrary enqueue volumes against
// a tiny buffer with a stalled consumer: every call must return promptly
// and nothing may panic, regardless of how many records get dropped.
func TestPipelineOverflowNeverBlocks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(t, "records")

		sink := NewMemorySink()
		sink.FailWith(1<<30, errors.New("sink wedged"))
		p := NewPipeline(Config{
			BufferSize:      4,
			BatchSize:       1000,
			FlushInterval:   time.Hour,
			ShutdownTimeout: 50 * time.Millisecond,
		}, sink, testCollector(), zap.NewNop())

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < n; i++ {
				p.EnqueueInference(inferenceRecord(fmt.Sprintf("r%d", i)))
			}
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("enqueue blocked with full buffer")
		}
		p.Close()
	})
}
