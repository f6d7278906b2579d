package session

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/synclisten/server/internal/domain"
)

// state is the local replica of the session. It exists only while joined and
// is always mutated under coordinator.mu. Directory writes are authoritative;
// this copy is what observers and the drift corrector read.
type state struct {
	sessionID     string
	syncKey       string
	participantID string
	isHost        bool
	isCohost      bool
	hostID        string
	cohostIDs     map[string]struct{}

	track          domain.TrackRef
	startTimestamp int64
	currentPos     float64
	isPlaying      bool
	isLocked       bool
	votingPolicy   domain.VotingPolicy
	status         domain.SessionStatus

	participants map[string]ParticipantView
	queue        []domain.QueueItem
	chat         []domain.ChatMessage
}

type ParticipantView struct {
	ID          string
	DeviceID    string
	DisplayName string
	IsHost      bool
	IsCohost    bool
	IsMuted     bool
	LatencyMs   float64
	Status      domain.ParticipantStatus
}

// Snapshot is an immutable view of the coordinator handed to observers.
type Snapshot struct {
	InSession     bool
	SessionID     string
	SyncKey       string
	ParticipantID string
	IsHost        bool
	IsCohost      bool
	HostID        string
	CohostIDs     []string

	Track          domain.TrackRef
	StartTimestamp int64
	Position       float64
	IsPlaying      bool
	IsLocked       bool
	VotingPolicy   domain.VotingPolicy
	Status         domain.SessionStatus

	Participants []ParticipantView
	Queue        []domain.QueueItem
	Chat         []domain.ChatMessage
}

type CreateSessionOpts struct {
	VotingPolicy domain.VotingPolicy
	IsLocked     bool
}

func (c *coordinator) snapshotLocked() Snapshot {
	if c.st == nil {
		return Snapshot{}
	}

	cohosts := maps.Keys(c.st.cohostIDs)
	slices.Sort(cohosts)

	participants := maps.Values(c.st.participants)
	slices.SortFunc(participants, func(a, b ParticipantView) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	queue := make([]domain.QueueItem, len(c.st.queue))
	copy(queue, c.st.queue)

	chat := make([]domain.ChatMessage, len(c.st.chat))
	copy(chat, c.st.chat)

	return Snapshot{
		InSession:      true,
		SessionID:      c.st.sessionID,
		SyncKey:        c.st.syncKey,
		ParticipantID:  c.st.participantID,
		IsHost:         c.st.isHost,
		IsCohost:       c.st.isCohost,
		HostID:         c.st.hostID,
		CohostIDs:      cohosts,
		Track:          c.st.track,
		StartTimestamp: c.st.startTimestamp,
		Position:       c.projectedPositionLocked(),
		IsPlaying:      c.st.isPlaying,
		IsLocked:       c.st.isLocked,
		VotingPolicy:   c.st.votingPolicy,
		Status:         c.st.status,
		Participants:   participants,
		Queue:          queue,
		Chat:           chat,
	}
}

func (c *coordinator) notifyLocked() {
	if len(c.observers) == 0 {
		return
	}

	snap := c.snapshotLocked()
	for _, fn := range c.observers {
		fn(snap)
	}
}
