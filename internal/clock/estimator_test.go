package clock

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProbe advances the fake clock to simulate a round trip and answers
// with a server clock shifted by a fixed skew.
type fakeProbe struct {
	clock clockwork.Clock
	rtts  []time.Duration
	skew  time.Duration
	calls int
	err   error
}

func (p *fakeProbe) ServerTime(ctx context.Context) (time.Time, error) {
	if p.err != nil {
		return time.Time{}, p.err
	}

	rtt := p.rtts[p.calls%len(p.rtts)]
	p.calls++

	half := rtt / 2
	p.clock.(*clockwork.FakeClock).Advance(half)
	serverTime := p.clock.Now().Add(p.skew)
	p.clock.(*clockwork.FakeClock).Advance(half)

	return serverTime, nil
}

func TestRefreshTrimsOutliers(t *testing.T) {
	clk := clockwork.NewFakeClock()
	// one stalled probe among steady 100ms round trips
	probe := &fakeProbe{
		clock: clk,
		rtts: []time.Duration{
			100 * time.Millisecond,
			100 * time.Millisecond,
			2 * time.Second,
			100 * time.Millisecond,
			100 * time.Millisecond,
		},
	}
	e := NewEstimator(probe, clk, Config{}, slog.Default())

	require.NoError(t, e.Refresh(context.Background()))

	assert.Equal(t, 50*time.Millisecond, e.Latency(), "outlier must not move the one-way estimate")
}

func TestRefreshTracksServerOffset(t *testing.T) {
	clk := clockwork.NewFakeClock()
	probe := &fakeProbe{
		clock: clk,
		rtts:  []time.Duration{100 * time.Millisecond},
		skew:  42 * time.Second,
	}
	e := NewEstimator(probe, clk, Config{}, slog.Default())

	require.NoError(t, e.Refresh(context.Background()))

	assert.Equal(t, 42*time.Second, e.Offset())

	now := e.AuthoritativeNow()
	want := clk.Now().Add(42*time.Second + e.Latency())
	assert.Equal(t, want, now)
}

func TestRefreshFailureKeepsPreviousEstimate(t *testing.T) {
	clk := clockwork.NewFakeClock()
	probe := &fakeProbe{
		clock: clk,
		rtts:  []time.Duration{100 * time.Millisecond},
	}
	e := NewEstimator(probe, clk, Config{}, slog.Default())

	require.NoError(t, e.Refresh(context.Background()))
	before := e.Latency()

	probe.err = errors.New("directory unreachable")
	err := e.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoProbes)

	assert.Equal(t, before, e.Latency(), "failed burst must not change the estimate")
}

func TestDefaultLatencyBeforeFirstRefresh(t *testing.T) {
	clk := clockwork.NewFakeClock()
	e := NewEstimator(&fakeProbe{clock: clk}, clk, Config{}, slog.Default())

	assert.Equal(t, 50*time.Millisecond, e.Latency())
}

func TestRollingWindowMean(t *testing.T) {
	clk := clockwork.NewFakeClock()
	probe := &fakeProbe{
		clock: clk,
		rtts:  []time.Duration{100 * time.Millisecond},
	}
	e := NewEstimator(probe, clk, Config{Window: 3}, slog.Default())

	require.NoError(t, e.Refresh(context.Background()))

	probe.rtts = []time.Duration{200 * time.Millisecond}
	require.NoError(t, e.Refresh(context.Background()))
	require.NoError(t, e.Refresh(context.Background()))

	// window holds medians 50, 100, 100
	assert.Equal(t, (50*time.Millisecond+100*time.Millisecond+100*time.Millisecond)/3, e.Latency())
}
