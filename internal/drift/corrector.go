// Package drift keeps a participant's local playback position converging
// toward the host's projected position. Corrections are bounded per cycle so
// convergence never sounds like skipping; the one exception is the catch-up
// seek at join or track change, where the gap can be arbitrarily large.
package drift

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// TargetFunc is supplied by the coordinator. ok is false when no correction
// applies: not in a session, or this client is the host (the host is truth).
type TargetFunc func() (target float64, playing bool, ok bool)

type iPlayer interface {
	Position() float64
	Seek(seconds float64) error
}

type Config struct {
	// Interval between correction cycles.
	Interval time.Duration
	// Threshold in seconds below which drift is left alone.
	Threshold float64
	// MaxAdjustment in seconds a single cycle may seek.
	MaxAdjustment float64
}

func (cfg *Config) withDefaults() {
	if cfg.Interval == 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MaxAdjustment == 0 {
		cfg.MaxAdjustment = 2
	}
}

type Corrector struct {
	player iPlayer
	target TargetFunc
	clock  clockwork.Clock
	cfg    Config
	logger *slog.Logger
}

func NewCorrector(player iPlayer, target TargetFunc, clk clockwork.Clock, cfg Config, logger *slog.Logger) *Corrector {
	cfg.withDefaults()

	return &Corrector{
		player: player,
		target: target,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
	}
}

// CorrectOnce runs one bounded correction cycle and reports the applied
// adjustment in seconds (zero when drift is within the threshold or no
// target applies). The seek never overshoots the target.
func (c *Corrector) CorrectOnce() (float64, error) {
	target, playing, ok := c.target()
	if !ok || !playing {
		return 0, nil
	}

	local := c.player.Position()
	drift := target - local
	if math.Abs(drift) <= c.cfg.Threshold {
		return 0, nil
	}

	step := math.Min(math.Abs(drift), c.cfg.MaxAdjustment)
	adjustment := math.Copysign(step, drift)

	if err := c.player.Seek(local + adjustment); err != nil {
		return 0, err
	}

	return adjustment, nil
}

// CatchUp seeks straight to the target with no adjustment cap. Used once at
// session join and on song change, where drift may be minutes.
func (c *Corrector) CatchUp() error {
	target, _, ok := c.target()
	if !ok {
		return nil
	}

	return c.player.Seek(target)
}

// Run executes correction cycles on the configured interval until ctx is
// done. A failed cycle is logged and retried on the next tick.
func (c *Corrector) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := c.CorrectOnce(); err != nil {
				c.logger.Warn("drift correction failed", "error", err)
			}
		}
	}
}
