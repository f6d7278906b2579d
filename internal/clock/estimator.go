// Package clock estimates "authoritative now": a time comparable across
// clients that reason against the same backend, despite local clock skew and
// network latency. It is deliberately cruder than NTP; a trimmed median over
// a few round trips is enough to keep playback drift inside the corrector's
// threshold.
package clock

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrNoProbes = errors.New("all latency probes failed")

type iProbe interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

type Config struct {
	// ProbeCount round trips per refresh.
	ProbeCount int
	// Window of refresh medians kept for the rolling mean.
	Window int
	// Cadence between background refreshes.
	Cadence time.Duration
	// DefaultLatency used until the first successful refresh.
	DefaultLatency time.Duration
}

func (cfg *Config) withDefaults() {
	if cfg.ProbeCount == 0 {
		cfg.ProbeCount = 5
	}
	if cfg.Window == 0 {
		cfg.Window = 10
	}
	if cfg.Cadence == 0 {
		cfg.Cadence = 3 * time.Second
	}
	if cfg.DefaultLatency == 0 {
		cfg.DefaultLatency = 50 * time.Millisecond
	}
}

type Estimator struct {
	probe  iProbe
	clock  clockwork.Clock
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	medians []time.Duration
	latency time.Duration
	offset  time.Duration
}

func NewEstimator(probe iProbe, clk clockwork.Clock, cfg Config, logger *slog.Logger) *Estimator {
	cfg.withDefaults()

	return &Estimator{
		probe:   probe,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
		latency: cfg.DefaultLatency,
	}
}

// Refresh runs a probe burst and folds the result into the rolling latency
// window and the server offset. A fully failed burst keeps the previous
// estimate, so session operations never stall on a probe outage.
func (e *Estimator) Refresh(ctx context.Context) error {
	rtts := make([]time.Duration, 0, e.cfg.ProbeCount)
	offsets := make([]time.Duration, 0, e.cfg.ProbeCount)

	for i := 0; i < e.cfg.ProbeCount; i++ {
		start := e.clock.Now()
		serverTime, err := e.probe.ServerTime(ctx)
		if err != nil {
			continue
		}
		rtt := e.clock.Now().Sub(start)

		rtts = append(rtts, rtt)
		// the server's reading corresponds to the round trip's midpoint
		offsets = append(offsets, serverTime.Sub(start.Add(rtt/2)))
	}

	if len(rtts) == 0 {
		return ErrNoProbes
	}

	median := trimmedMedian(rtts) / 2

	e.mu.Lock()
	defer e.mu.Unlock()

	e.medians = append(e.medians, median)
	if len(e.medians) > e.cfg.Window {
		e.medians = e.medians[len(e.medians)-e.cfg.Window:]
	}

	var sum time.Duration
	for _, m := range e.medians {
		sum += m
	}
	e.latency = sum / time.Duration(len(e.medians))
	e.offset = trimmedMedian(offsets)

	return nil
}

// AuthoritativeNow projects the shared backend's clock as seen after the
// estimated one-way delivery delay.
func (e *Estimator) AuthoritativeNow() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.clock.Now().Add(e.offset + e.latency)
}

func (e *Estimator) Latency() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.latency
}

func (e *Estimator) Offset() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.offset
}

// Run refreshes on the configured cadence until ctx is done. Individual
// failed refreshes are logged and retried on the next tick.
func (e *Estimator) Run(ctx context.Context) {
	ticker := e.clock.NewTicker(e.cfg.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := e.Refresh(ctx); err != nil {
				e.logger.Warn("latency refresh failed, keeping previous estimate", "error", err)
			}
		}
	}
}

// trimmedMedian sorts the samples, drops the minimum and maximum when there
// are enough of them, and returns the median of the rest. A single stalled
// probe cannot move the result.
func trimmedMedian(samples []time.Duration) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if len(sorted) > 2 {
		sorted = sorted[1 : len(sorted)-1]
	}

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}

	return sorted[mid]
}
