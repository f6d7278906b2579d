package heartbeat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

type stubDirectory struct {
	heartbeats   []*directory.HeartbeatParams
	participants []directory.Participant
}

func (d *stubDirectory) UpdateParticipantHeartbeat(ctx context.Context, params *directory.HeartbeatParams) error {
	d.heartbeats = append(d.heartbeats, params)
	return nil
}

func (d *stubDirectory) ListParticipants(ctx context.Context, sessionID string) ([]directory.Participant, error) {
	return d.participants, nil
}

type stubEstimator struct {
	clock   clockwork.Clock
	latency time.Duration
}

func (e *stubEstimator) Refresh(ctx context.Context) error { return nil }
func (e *stubEstimator) Latency() time.Duration            { return e.latency }
func (e *stubEstimator) AuthoritativeNow() time.Time       { return e.clock.Now() }

func TestBeatWritesOwnLivenessRow(t *testing.T) {
	clk := clockwork.NewFakeClock()
	dir := &stubDirectory{}
	est := &stubEstimator{clock: clk, latency: 80 * time.Millisecond}

	m := NewMonitor(dir, est, clk, Config{}, "s1", "me", nil, slog.Default())

	require.NoError(t, m.Beat(context.Background()))

	require.Len(t, dir.heartbeats, 1)
	hb := dir.heartbeats[0]
	assert.Equal(t, "me", hb.ParticipantID)
	assert.Equal(t, 80.0, hb.LatencyMs)
	assert.Equal(t, string(domain.ParticipantStatusConnected), hb.Status)
	assert.Equal(t, clk.Now().UnixMilli(), hb.LastSeen)
}

func TestStalePeerShownDisconnected(t *testing.T) {
	clk := clockwork.NewFakeClock()
	now := clk.Now()

	dir := &stubDirectory{
		participants: []directory.Participant{
			{ID: "me", Status: string(domain.ParticipantStatusConnected), LastSeen: now.UnixMilli()},
			{ID: "fresh", Status: string(domain.ParticipantStatusConnected), LastSeen: now.Add(-2 * time.Second).UnixMilli()},
			{ID: "silent", Status: string(domain.ParticipantStatusConnected), LastSeen: now.Add(-20 * time.Second).UnixMilli()},
		},
	}
	est := &stubEstimator{clock: clk}

	var observed []Peer
	m := NewMonitor(dir, est, clk, Config{Interval: 3 * time.Second, StaleIntervals: 3}, "s1", "me",
		func(peers []Peer) { observed = peers }, slog.Default())

	require.NoError(t, m.Beat(context.Background()))

	byID := make(map[string]Peer)
	for _, p := range observed {
		byID[p.ParticipantID] = p
	}

	assert.Equal(t, domain.ParticipantStatusConnected, byID["fresh"].Status)
	assert.Equal(t, domain.ParticipantStatusDisconnected, byID["silent"].Status,
		"a peer silent for 3 intervals must be shown as disconnected")
	assert.Equal(t, domain.ParticipantStatusConnected, byID["me"].Status,
		"own row is never marked stale")

	assert.Len(t, dir.participants, 3, "staleness must not mutate the directory")
}
