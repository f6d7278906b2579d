package domain

type EventType string

const (
	EventPlay          EventType = "play"
	EventPause         EventType = "pause"
	EventSeek          EventType = "seek"
	EventStop          EventType = "stop"
	EventSongChange    EventType = "song_change"
	EventHeartbeat     EventType = "heartbeat"
	EventQueueAdd      EventType = "queue_add"
	EventQueueRemove   EventType = "queue_remove"
	EventQueueReorder  EventType = "queue_reorder"
	EventQueueClear    EventType = "queue_clear"
	EventVoteCast      EventType = "vote_cast"
	EventChatMessage   EventType = "chat_message"
	EventReaction      EventType = "reaction"
	EventHostTransfer  EventType = "host_transfer"
	EventCohostAdd     EventType = "cohost_add"
	EventCohostRemove  EventType = "cohost_remove"
	EventMemberUpdate  EventType = "member_update"
	EventSessionLock   EventType = "session_lock"
	EventSessionUnlock EventType = "session_unlock"
	EventMemberKick    EventType = "member_kick"
)

// SyncEvent is an immutable fact broadcast to every participant of a session.
// All transport effects carry absolute state, never deltas, so duplicate
// delivery and cross-sender interleaving are harmless.
type SyncEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Position  *float64       `json:"position,omitempty"`
	Track     *TrackRef      `json:"track,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`

	// SenderDeviceID lets a consumer drop its own echo: the channel fans an
	// event back to the device that published it.
	SenderDeviceID string `json:"sender_device_id"`
}
