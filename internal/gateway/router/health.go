package router

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/tensorgate/llm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProviderHealth is one provider's last probe outcome.
type ProviderHealth struct {
	Key       string
	Healthy   bool
	Latency   time.Duration
	CheckedAt time.Time
}

// Prober polls every constructed provider's HealthCheck on an interval and
// keeps the latest result in memory. It informs operators via Warn logs and
// Snapshot (/status does not report these results); it does not gate routing — the circuit breakers do that from real
// traffic, which is a better signal than a synthetic probe.
type Prober struct {
	providers *llm.ProviderRegistry
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	mu     sync.RWMutex
	status map[string]ProviderHealth
}

// NewProber builds a prober over the provider registry. interval <= 0
// disables probing (Start returns immediately).
func NewProber(providers *llm.ProviderRegistry, interval time.Duration, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		providers: providers,
		interval:  interval,
		timeout:   5 * time.Second,
		logger:    logger,
		status:    make(map[string]ProviderHealth),
	}
}

// Start blocks, probing on every tick until ctx is cancelled. Run it in its
// own goroutine.
func (p *Prober) Start(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, key := range p.providers.List() {
		prov, ok := p.providers.Get(key)
		if !ok {
			continue
		}
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
			st, err := prov.HealthCheck(probeCtx)
			cancel()

			h := ProviderHealth{Key: key, CheckedAt: time.Now()}
			if err == nil && st != nil && st.Healthy {
				h.Healthy = true
				h.Latency = st.Latency
			} else {
				p.logger.Warn("provider health probe failed",
					zap.String("provider", key),
					zap.Error(err))
			}

			p.mu.Lock()
			p.status[key] = h
			p.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

// Snapshot returns a copy of the latest probe results.
func (p *Prober) Snapshot() map[string]ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]ProviderHealth, len(p.status))
	for k, v := range p.status {
		out[k] = v
	}
	return out
}
