package directory

type CreateSessionParams struct {
	SessionID         string
	SyncKey           string
	HostParticipantID string
	TrackID           string
	TrackTitle        string
	TrackArtist       string
	TrackDuration     float64
	TrackSourceURL    string
	VotingPolicy      string
	CreatedAt         int64
}

type UpdateTransportParams struct {
	SessionID       string
	TrackID         string
	TrackTitle      string
	TrackArtist     string
	TrackDuration   float64
	TrackSourceURL  string
	StartTimestamp  int64
	CurrentPosition float64
	IsPlaying       bool
}

type SetParticipantParams struct {
	ParticipantID string
	SessionID     string
	DeviceID      string
	UserID        string
	DisplayName   string
	IsHost        bool
	IsCohost      bool
	IsMuted       bool
	Role          string
	LatencyMs     float64
	Status        string
	JoinedAt      int64
	LastSeen      int64
}

type RemoveParticipantParams struct {
	ParticipantID string
	SessionID     string
}

type HeartbeatParams struct {
	ParticipantID string
	LatencyMs     float64
	Status        string
	LastSeen      int64
}

type AddQueueItemParams struct {
	SessionID      string
	ItemID         string
	TrackID        string
	TrackTitle     string
	TrackArtist    string
	TrackDuration  float64
	TrackSourceURL string
	AddedBy        string
	AddedAt        int64
}

type RemoveQueueItemParams struct {
	SessionID string
	ItemID    string
}

type AddVoteParams struct {
	SessionID string
	ItemID    string
	VoterID   string
}

type PromoteQueueItemParams struct {
	SessionID string
	ItemID    string
}
