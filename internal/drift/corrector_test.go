package drift

import (
	"log/slog"
	"math"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlayer struct {
	position float64
	seeks    []float64
}

func (p *stubPlayer) Position() float64 {
	return p.position
}

func (p *stubPlayer) Seek(seconds float64) error {
	p.position = seconds
	p.seeks = append(p.seeks, seconds)
	return nil
}

func fixedTarget(target float64, playing, ok bool) TargetFunc {
	return func() (float64, bool, bool) {
		return target, playing, ok
	}
}

func TestConvergenceWithinBoundedCycles(t *testing.T) {
	const (
		delta         = 7.3
		threshold     = 0.5
		maxAdjustment = 2.0
	)

	player := &stubPlayer{position: 10}
	c := NewCorrector(player, fixedTarget(10+delta, true, true), clockwork.NewFakeClock(), Config{
		Threshold:     threshold,
		MaxAdjustment: maxAdjustment,
	}, slog.Default())

	maxCycles := int(math.Ceil(delta / maxAdjustment))
	cycles := 0
	for ; cycles < maxCycles; cycles++ {
		adjustment, err := c.CorrectOnce()
		require.NoError(t, err)

		assert.LessOrEqual(t, math.Abs(adjustment), maxAdjustment,
			"a single cycle must never exceed the adjustment cap")

		if math.Abs(10+delta-player.position) <= threshold {
			break
		}
	}

	assert.LessOrEqual(t, math.Abs(10+delta-player.position), threshold,
		"must converge within ceil(delta/maxAdjustment) cycles")
}

func TestNoOvershoot(t *testing.T) {
	player := &stubPlayer{position: 0}
	c := NewCorrector(player, fixedTarget(1.2, true, true), clockwork.NewFakeClock(), Config{
		Threshold:     0.5,
		MaxAdjustment: 2,
	}, slog.Default())

	adjustment, err := c.CorrectOnce()
	require.NoError(t, err)

	assert.InDelta(t, 1.2, adjustment, 0.001, "step smaller than cap seeks exactly to target")
	assert.InDelta(t, 1.2, player.position, 0.001)
}

func TestBackwardCorrection(t *testing.T) {
	player := &stubPlayer{position: 20}
	c := NewCorrector(player, fixedTarget(15, true, true), clockwork.NewFakeClock(), Config{
		Threshold:     0.5,
		MaxAdjustment: 2,
	}, slog.Default())

	adjustment, err := c.CorrectOnce()
	require.NoError(t, err)

	assert.InDelta(t, -2.0, adjustment, 0.001)
	assert.InDelta(t, 18.0, player.position, 0.001)
}

func TestWithinThresholdIsLeftAlone(t *testing.T) {
	player := &stubPlayer{position: 10.3}
	c := NewCorrector(player, fixedTarget(10.0, true, true), clockwork.NewFakeClock(), Config{
		Threshold:     0.5,
		MaxAdjustment: 2,
	}, slog.Default())

	adjustment, err := c.CorrectOnce()
	require.NoError(t, err)

	assert.Zero(t, adjustment)
	assert.Empty(t, player.seeks)
}

func TestPausedSessionIsNotCorrected(t *testing.T) {
	player := &stubPlayer{position: 0}
	c := NewCorrector(player, fixedTarget(42, false, true), clockwork.NewFakeClock(), Config{}, slog.Default())

	adjustment, err := c.CorrectOnce()
	require.NoError(t, err)

	assert.Zero(t, adjustment)
	assert.Empty(t, player.seeks)
}

func TestCatchUpIsUncapped(t *testing.T) {
	player := &stubPlayer{position: 0}
	c := NewCorrector(player, fixedTarget(300, true, true), clockwork.NewFakeClock(), Config{}, slog.Default())

	require.NoError(t, c.CatchUp())

	assert.InDelta(t, 300.0, player.position, 0.001)
}

func TestNoTargetNoSeek(t *testing.T) {
	player := &stubPlayer{position: 0}
	c := NewCorrector(player, fixedTarget(0, false, false), clockwork.NewFakeClock(), Config{}, slog.Default())

	adjustment, err := c.CorrectOnce()
	require.NoError(t, err)
	assert.Zero(t, adjustment)

	require.NoError(t, c.CatchUp())
	assert.Empty(t, player.seeks)
}
