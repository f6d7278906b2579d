// Package session holds the coordinator: the engine's public API and the
// owner of the in-memory session model. It applies the host-authority rule
// (only the host, a cohost, or anyone in an unlocked session may touch
// transport state) and drives the periodic latency, heartbeat and drift
// tasks whose lifetimes are bound to the session.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/synclisten/server/internal/channel"
	"github.com/synclisten/server/internal/clock"
	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
	"github.com/synclisten/server/internal/drift"
	"github.com/synclisten/server/internal/heartbeat"
	"github.com/synclisten/server/pkg/synckey"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrTrackRequired    = errors.New("track required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionFull      = errors.New("session full")
	ErrSessionEnded     = errors.New("session ended")
	ErrAlreadyInSession = errors.New("already in a session")
)

const (
	syncKeyAttempts = 5

	// joinReplayEvents bounds the directory event log read that closes the
	// gap between a joiner's snapshot read and its subscription.
	joinReplayEvents = 50
)

type iDirectory interface {
	// session
	CreateSession(context.Context, *directory.CreateSessionParams) error
	GetSession(ctx context.Context, sessionID string) (directory.Session, error)
	GetSessionIDBySyncKey(ctx context.Context, syncKey string) (string, error)
	UpdateSessionTransport(context.Context, *directory.UpdateTransportParams) error
	UpdateSessionHost(ctx context.Context, sessionID string, hostParticipantID string) error
	UpdateSessionLocked(ctx context.Context, sessionID string, isLocked bool) error
	EndSession(ctx context.Context, sessionID string) error
	AddCohost(ctx context.Context, sessionID string, participantID string) error
	RemoveCohost(ctx context.Context, sessionID string, participantID string) error
	GetCohostIDs(ctx context.Context, sessionID string) ([]string, error)
	// participant
	GetParticipant(ctx context.Context, participantID string) (directory.Participant, error)
	SetParticipant(context.Context, *directory.SetParticipantParams) error
	ListParticipants(ctx context.Context, sessionID string) ([]directory.Participant, error)
	CountParticipants(ctx context.Context, sessionID string) (int, error)
	RemoveParticipant(context.Context, *directory.RemoveParticipantParams) error
	UpdateParticipantHeartbeat(context.Context, *directory.HeartbeatParams) error
	UpdateParticipantStatus(ctx context.Context, participantID string, status string) error
	UpdateParticipantIsHost(ctx context.Context, participantID string, isHost bool) error
	UpdateParticipantIsCohost(ctx context.Context, participantID string, isCohost bool) error
	UpdateParticipantIsMuted(ctx context.Context, participantID string, isMuted bool) error
	// events & chat
	AppendEvent(ctx context.Context, sessionID string, event domain.SyncEvent) error
	RecentEvents(ctx context.Context, sessionID string, limit int) ([]domain.SyncEvent, error)
	AppendChatMessage(ctx context.Context, sessionID string, message domain.ChatMessage) error
	RecentChat(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)
	// queue
	AddQueueItem(context.Context, *directory.AddQueueItemParams) error
	RemoveQueueItem(context.Context, *directory.RemoveQueueItemParams) error
	ClearQueue(ctx context.Context, sessionID string) error
	GetQueue(ctx context.Context, sessionID string) ([]directory.QueueItem, error)
	AddVote(context.Context, *directory.AddVoteParams) (bool, int, error)
	PromoteQueueItem(context.Context, *directory.PromoteQueueItemParams) error
	// latency probe
	ServerTime(ctx context.Context) (time.Time, error)
}

type iChannel interface {
	Subscribe(ctx context.Context, sessionID string, handler channel.Handler) error
	Unsubscribe(ctx context.Context, sessionID string) error
	Publish(ctx context.Context, sessionID string, event domain.SyncEvent) error
}

type iKeyGenerator interface {
	Generate() string
}

type Config struct {
	// DeviceID is the caller-supplied stable device identity. The engine
	// never reads ambient storage for it.
	DeviceID    string
	UserID      string
	DisplayName string

	MembersLimit int
	ChatLimit    int

	DriftInterval     time.Duration
	DriftThreshold    float64
	MaxSeekAdjustment float64

	HeartbeatInterval time.Duration
	StaleIntervals    int

	LatencyProbeCount int
	LatencyWindow     int
	LatencyCadence    time.Duration
	DefaultLatency    time.Duration
}

func (cfg *Config) withDefaults() {
	if cfg.MembersLimit == 0 {
		cfg.MembersLimit = 30
	}
	if cfg.ChatLimit == 0 {
		cfg.ChatLimit = 100
	}
	if cfg.DriftInterval == 0 {
		cfg.DriftInterval = 2 * time.Second
	}
	if cfg.DriftThreshold == 0 {
		cfg.DriftThreshold = 0.5
	}
	if cfg.MaxSeekAdjustment == 0 {
		cfg.MaxSeekAdjustment = 2
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.StaleIntervals == 0 {
		cfg.StaleIntervals = 3
	}
}

type coordinator struct {
	cfg    Config
	dir    iDirectory
	ch     iChannel
	player domain.Player
	clock  clockwork.Clock
	est    *clock.Estimator
	keygen iKeyGenerator
	logger *slog.Logger

	mu        sync.Mutex
	st        *state
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	corrector *drift.Corrector
	monitor   *heartbeat.Monitor
	observers []func(Snapshot)
}

func NewCoordinator(dir iDirectory, ch iChannel, player domain.Player, clk clockwork.Clock, cfg *Config, logger *slog.Logger) *coordinator {
	c := coordinator{
		cfg:    *cfg,
		dir:    dir,
		ch:     ch,
		player: player,
		clock:  clk,
		keygen: synckey.NewGenerator(),
		logger: logger,
	}
	c.cfg.withDefaults()

	c.est = clock.NewEstimator(dir, clk, clock.Config{
		ProbeCount:     c.cfg.LatencyProbeCount,
		Window:         c.cfg.LatencyWindow,
		Cadence:        c.cfg.LatencyCadence,
		DefaultLatency: c.cfg.DefaultLatency,
	}, logger)

	c.corrector = drift.NewCorrector(player, c.playbackTarget, clk, drift.Config{
		Interval:      c.cfg.DriftInterval,
		Threshold:     c.cfg.DriftThreshold,
		MaxAdjustment: c.cfg.MaxSeekAdjustment,
	}, logger)

	return &c
}

// OnStateChange registers an observer called with an immutable snapshot
// after every applied mutation. Observers run on the mutating goroutine and
// must not call back into the coordinator.
func (c *coordinator) OnStateChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observers = append(c.observers, fn)
}

func (c *coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

func (c *coordinator) canControlLocked() bool {
	return c.st.isHost || c.st.isCohost || !c.st.isLocked
}

// playbackTarget feeds the drift corrector. The host is exempt: the host's
// transport is the truth everyone else converges toward.
func (c *coordinator) playbackTarget() (float64, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || c.st.isHost || c.st.status != domain.SessionStatusActive {
		return 0, false, false
	}

	return c.projectedPositionLocked(), c.st.isPlaying, true
}

// projectedPositionLocked derives the authoritative position: while playing
// it is the persisted position plus authoritative time elapsed since the
// persisted start timestamp.
func (c *coordinator) projectedPositionLocked() float64 {
	if !c.st.isPlaying || c.st.startTimestamp == 0 {
		return c.st.currentPos
	}

	elapsed := float64(c.est.AuthoritativeNow().UnixMilli()-c.st.startTimestamp) / 1000

	return c.st.currentPos + elapsed
}

func (c *coordinator) startTasksLocked() {
	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel

	c.monitor = heartbeat.NewMonitor(c.dir, c.est, c.clock, heartbeat.Config{
		Interval:       c.cfg.HeartbeatInterval,
		StaleIntervals: c.cfg.StaleIntervals,
	}, c.st.sessionID, c.st.participantID, c.applyPeers, c.logger)

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.est.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.monitor.Run(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.corrector.Run(runCtx)
	}()
}

func (c *coordinator) applyPeers(peers []heartbeat.Peer) {
	c.mu.Lock()

	if c.st == nil {
		c.mu.Unlock()
		return
	}

	views := make(map[string]ParticipantView, len(peers))
	for _, p := range peers {
		views[p.ParticipantID] = ParticipantView{
			ID:          p.ParticipantID,
			DeviceID:    p.DeviceID,
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
			IsCohost:    p.IsCohost,
			IsMuted:     p.IsMuted,
			LatencyMs:   p.LatencyMs,
			Status:      p.Status,
		}
	}
	c.st.participants = views

	c.notifyLocked()
	c.mu.Unlock()
}
