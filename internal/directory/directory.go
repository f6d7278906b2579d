// Package directory defines the contract for the shared session directory:
// the authoritative store every participant reads session, participant, queue
// and chat state from. Implementations live in the redis and postgres
// subpackages.
package directory

import (
	"context"
	"time"

	"github.com/synclisten/server/internal/domain"
)

type Directory interface {
	CreateSession(context.Context, *CreateSessionParams) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetSessionIDBySyncKey(ctx context.Context, syncKey string) (string, error)
	UpdateSessionTransport(context.Context, *UpdateTransportParams) error
	UpdateSessionHost(ctx context.Context, sessionID string, hostParticipantID string) error
	UpdateSessionLocked(ctx context.Context, sessionID string, isLocked bool) error
	EndSession(ctx context.Context, sessionID string) error
	AddCohost(ctx context.Context, sessionID string, participantID string) error
	RemoveCohost(ctx context.Context, sessionID string, participantID string) error
	GetCohostIDs(ctx context.Context, sessionID string) ([]string, error)

	SetParticipant(context.Context, *SetParticipantParams) error
	GetParticipant(ctx context.Context, participantID string) (Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	CountParticipants(ctx context.Context, sessionID string) (int, error)
	RemoveParticipant(context.Context, *RemoveParticipantParams) error
	UpdateParticipantHeartbeat(context.Context, *HeartbeatParams) error
	UpdateParticipantStatus(ctx context.Context, participantID string, status string) error
	UpdateParticipantIsHost(ctx context.Context, participantID string, isHost bool) error
	UpdateParticipantIsCohost(ctx context.Context, participantID string, isCohost bool) error
	UpdateParticipantIsMuted(ctx context.Context, participantID string, isMuted bool) error

	AppendEvent(ctx context.Context, sessionID string, event domain.SyncEvent) error
	RecentEvents(ctx context.Context, sessionID string, limit int) ([]domain.SyncEvent, error)
	AppendChatMessage(ctx context.Context, sessionID string, message domain.ChatMessage) error
	RecentChat(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error)

	AddQueueItem(context.Context, *AddQueueItemParams) error
	RemoveQueueItem(context.Context, *RemoveQueueItemParams) error
	ClearQueue(ctx context.Context, sessionID string) error
	GetQueue(ctx context.Context, sessionID string) ([]QueueItem, error)
	AddVote(context.Context, *AddVoteParams) (bool, int, error)
	PromoteQueueItem(context.Context, *PromoteQueueItemParams) error

	// ServerTime reads the store's clock; the latency estimator probes it.
	ServerTime(ctx context.Context) (time.Time, error)
}
