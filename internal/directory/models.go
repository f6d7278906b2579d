package directory

// Session is the authoritative session record. Transport-state fields are
// written only by the host or a cohost; the engine enforces that at the call
// site, the directory does not.
type Session struct {
	ID                string  `redis:"id" json:"id"`
	SyncKey           string  `redis:"sync_key" json:"sync_key"`
	HostParticipantID string  `redis:"host_participant_id" json:"host_participant_id"`
	TrackID           string  `redis:"track_id" json:"track_id"`
	TrackTitle        string  `redis:"track_title" json:"track_title"`
	TrackArtist       string  `redis:"track_artist" json:"track_artist"`
	TrackDuration     float64 `redis:"track_duration" json:"track_duration"`
	TrackSourceURL    string  `redis:"track_source_url" json:"track_source_url"`
	// StartTimestamp is authoritative time in unix milliseconds; zero while
	// paused.
	StartTimestamp  int64   `redis:"start_timestamp" json:"start_timestamp"`
	CurrentPosition float64 `redis:"current_position" json:"current_position"`
	IsPlaying       bool    `redis:"is_playing" json:"is_playing"`
	Status          string  `redis:"status" json:"status"`
	IsLocked        bool    `redis:"is_locked" json:"is_locked"`
	VotingPolicy    string  `redis:"voting_policy" json:"voting_policy"`
	CreatedAt       int64   `redis:"created_at" json:"created_at"`
}

type Participant struct {
	ID          string  `redis:"id" json:"id"`
	SessionID   string  `redis:"session_id" json:"session_id"`
	DeviceID    string  `redis:"device_id" json:"device_id"`
	UserID      string  `redis:"user_id" json:"user_id"`
	DisplayName string  `redis:"display_name" json:"display_name"`
	IsHost      bool    `redis:"is_host" json:"is_host"`
	IsCohost    bool    `redis:"is_cohost" json:"is_cohost"`
	IsMuted     bool    `redis:"is_muted" json:"is_muted"`
	Role        string  `redis:"role" json:"role"`
	LatencyMs   float64 `redis:"latency_ms" json:"latency_ms"`
	Status      string  `redis:"status" json:"status"`
	JoinedAt    int64   `redis:"joined_at" json:"joined_at"`
	LastSeen    int64   `redis:"last_seen" json:"last_seen"`
}

type QueueItem struct {
	ID             string  `redis:"id" json:"id"`
	TrackID        string  `redis:"track_id" json:"track_id"`
	TrackTitle     string  `redis:"track_title" json:"track_title"`
	TrackArtist    string  `redis:"track_artist" json:"track_artist"`
	TrackDuration  float64 `redis:"track_duration" json:"track_duration"`
	TrackSourceURL string  `redis:"track_source_url" json:"track_source_url"`
	AddedBy        string  `redis:"added_by" json:"added_by"`
	AddedAt        int64   `redis:"added_at" json:"added_at"`

	Votes    int      `redis:"-" json:"votes"`
	VoterIDs []string `redis:"-" json:"voter_ids"`
}
