package observability

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/tensorgate/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	kindInference = "inference"
	kindFeedback  = "feedback"
)

// envelope carries exactly one record of either kind through the buffer.
type envelope struct {
	kind      string
	inference *InferenceRecord
	feedback  *FeedbackRecord
}

// Config bounds the pipeline's memory and flush cadence.
type Config struct {
	// BufferSize caps the in-memory channel. A full buffer drops the
	// oldest record, never blocks the request path.
	BufferSize int
	// BatchSize triggers a flush regardless of the interval.
	BatchSize int
	// FlushInterval triggers a flush regardless of batch fill.
	FlushInterval time.Duration
	// ShutdownTimeout bounds the final flush during Close.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:      4096,
		BatchSize:       64,
		FlushInterval:   2 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// Pipeline is the single-consumer buffered writer between request handlers
// and the analytics sink. Producers enqueue without ever blocking; one
// background goroutine batches by size and time and flushes with
// exponential backoff on sink errors.
type Pipeline struct {
	cfg       Config
	sink      Sink
	collector *metrics.Collector
	logger    *zap.Logger

	ch   chan envelope
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewPipeline builds the pipeline and starts its consumer goroutine.
func NewPipeline(cfg Config, sink Sink, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:       cfg.withDefaults(),
		sink:      sink,
		collector: collector,
		logger:    logger.Named("observability"),
		done:      make(chan struct{}),
	}
	p.ch = make(chan envelope, p.cfg.BufferSize)
	go p.consume()
	return p
}

// EnqueueInference hands an inference record to the pipeline. Returns false
// when the record (or an older one evicted to make room for it) was
// dropped. A false return is never silent: the drop counter moves and a
// warning is logged.
func (p *Pipeline) EnqueueInference(rec *InferenceRecord) bool {
	return p.enqueue(envelope{kind: kindInference, inference: rec})
}

// EnqueueFeedback hands a feedback record to the pipeline.
func (p *Pipeline) EnqueueFeedback(rec *FeedbackRecord) bool {
	return p.enqueue(envelope{kind: kindFeedback, feedback: rec})
}

func (p *Pipeline) enqueue(env envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.drop(env.kind, "pipeline closed")
		return false
	}

	select {
	case p.ch <- env:
		p.collector.SetBufferFill(len(p.ch))
		return true
	default:
	}

	// Buffer full: evict the oldest record to keep the freshest data, then
	// try once more. The request path never blocks here.
	select {
	case old := <-p.ch:
		p.drop(old.kind, "buffer full, oldest evicted")
	default:
	}
	select {
	case p.ch <- env:
		p.collector.SetBufferFill(len(p.ch))
		return false
	default:
		p.drop(env.kind, "buffer full")
		return false
	}
}

func (p *Pipeline) drop(kind, reason string) {
	p.collector.RecordDrop(kind)
	p.logger.Warn("observability record dropped",
		zap.String("kind", kind),
		zap.String("reason", reason))
}

// Close stops accepting records and flushes what remains, bounded by
// ShutdownTimeout. Safe to call once.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	<-p.done
}

func (p *Pipeline) consume() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []envelope
	for {
		select {
		case env, ok := <-p.ch:
			if !ok {
				ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
				p.flush(ctx, &batch)
				cancel()
				return
			}
			batch = append(batch, env)
			p.collector.SetBufferFill(len(p.ch))
			if len(batch) >= p.cfg.BatchSize {
				p.flush(context.Background(), &batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(context.Background(), &batch)
			}
		}
	}
}

// flush writes the batch to the sink with jittered exponential backoff. On
// persistent failure the batch is kept for the next flush, capped at the
// buffer size with oldest-first eviction so a dead sink cannot grow memory
// without bound.
func (p *Pipeline) flush(ctx context.Context, batch *[]envelope) {
	if len(*batch) == 0 {
		return
	}

	var inferences []*InferenceRecord
	var feedbacks []*FeedbackRecord
	for _, env := range *batch {
		switch env.kind {
		case kindInference:
			inferences = append(inferences, env.inference)
		case kindFeedback:
			feedbacks = append(feedbacks, env.feedback)
		}
	}

	op := func() (struct{}, error) {
		if err := p.sink.InsertInferenceRecords(ctx, inferences); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, p.sink.InsertFeedbackRecords(ctx, feedbacks)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(5),
		backoff.WithMaxElapsedTime(15*time.Second))
	if err != nil {
		p.collector.RecordFlushError()
		p.logger.Error("analytics sink flush failed, batch retained",
			zap.Int("inference_records", len(inferences)),
			zap.Int("feedback_records", len(feedbacks)),
			zap.Error(err))
		if excess := len(*batch) - p.cfg.BufferSize; excess > 0 {
			for _, env := range (*batch)[:excess] {
				p.drop(env.kind, "sink unavailable, retained batch over capacity")
			}
			*batch = (*batch)[excess:]
		}
		return
	}

	p.collector.RecordFlush(kindInference, len(inferences))
	p.collector.RecordFlush(kindFeedback, len(feedbacks))
	*batch = (*batch)[:0]
}
