// Package heartbeat reports this participant's liveness and latency to the
// session directory on a fixed interval, and keeps a local view of every
// peer's freshness. Staleness is advisory: a silent peer is shown as
// disconnected but never removed; only an explicit leave or a host kick
// mutates the directory's participant set.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

type iDirectory interface {
	UpdateParticipantHeartbeat(ctx context.Context, params *directory.HeartbeatParams) error
	ListParticipants(ctx context.Context, sessionID string) ([]directory.Participant, error)
}

type iEstimator interface {
	Refresh(ctx context.Context) error
	Latency() time.Duration
	AuthoritativeNow() time.Time
}

type Config struct {
	Interval time.Duration
	// StaleIntervals missed before a peer is shown as disconnected.
	StaleIntervals int
}

func (cfg *Config) withDefaults() {
	if cfg.Interval == 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.StaleIntervals == 0 {
		cfg.StaleIntervals = 3
	}
}

type Peer struct {
	ParticipantID string
	DisplayName   string
	DeviceID      string
	IsHost        bool
	IsCohost      bool
	IsMuted       bool
	LatencyMs     float64
	Status        domain.ParticipantStatus
	LastSeen      time.Time
}

type Monitor struct {
	dir           iDirectory
	est           iEstimator
	clock         clockwork.Clock
	cfg           Config
	sessionID     string
	participantID string
	onPeers       func([]Peer)
	logger        *slog.Logger

	mu    sync.Mutex
	peers []Peer
}

func NewMonitor(dir iDirectory, est iEstimator, clk clockwork.Clock, cfg Config, sessionID, participantID string, onPeers func([]Peer), logger *slog.Logger) *Monitor {
	cfg.withDefaults()

	return &Monitor{
		dir:           dir,
		est:           est,
		clock:         clk,
		cfg:           cfg,
		sessionID:     sessionID,
		participantID: participantID,
		onPeers:       onPeers,
		logger:        logger,
	}
}

// Beat runs one heartbeat cycle: re-measure latency, write our own liveness
// row, refresh the peer view.
func (m *Monitor) Beat(ctx context.Context) error {
	if err := m.est.Refresh(ctx); err != nil {
		m.logger.Warn("latency refresh failed during heartbeat", "error", err)
	}

	now := m.est.AuthoritativeNow()
	if err := m.dir.UpdateParticipantHeartbeat(ctx, &directory.HeartbeatParams{
		ParticipantID: m.participantID,
		LatencyMs:     float64(m.est.Latency()) / float64(time.Millisecond),
		Status:        string(domain.ParticipantStatusConnected),
		LastSeen:      now.UnixMilli(),
	}); err != nil {
		return err
	}

	participants, err := m.dir.ListParticipants(ctx, m.sessionID)
	if err != nil {
		return err
	}

	staleAfter := time.Duration(m.cfg.StaleIntervals) * m.cfg.Interval
	peers := make([]Peer, 0, len(participants))
	for _, p := range participants {
		lastSeen := time.UnixMilli(p.LastSeen)
		status := domain.ParticipantStatus(p.Status)
		if p.ID != m.participantID && now.Sub(lastSeen) > staleAfter {
			status = domain.ParticipantStatusDisconnected
		}

		peers = append(peers, Peer{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			DeviceID:      p.DeviceID,
			IsHost:        p.IsHost,
			IsCohost:      p.IsCohost,
			IsMuted:       p.IsMuted,
			LatencyMs:     p.LatencyMs,
			Status:        status,
			LastSeen:      lastSeen,
		})
	}

	m.mu.Lock()
	m.peers = peers
	m.mu.Unlock()

	if m.onPeers != nil {
		m.onPeers(peers)
	}

	return nil
}

// Peers is the latest advisory view; never authoritative.
func (m *Monitor) Peers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()

	peers := make([]Peer, len(m.peers))
	copy(peers, m.peers)

	return peers
}

// Run beats on the configured interval until ctx is done. A failed cycle is
// logged and retried on the next tick.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := m.Beat(ctx); err != nil {
				m.logger.Warn("heartbeat cycle failed", "error", err)
			}
		}
	}
}
