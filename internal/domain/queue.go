package domain

type QueueItem struct {
	ID       string   `json:"id"`
	Track    TrackRef `json:"track"`
	AddedBy  string   `json:"added_by"`
	AddedAt  int64    `json:"added_at"`
	Votes    int      `json:"votes"`
	VoterIDs []string `json:"voter_ids"`
}

type ChatMessageType string

const (
	ChatMessageTypeText     ChatMessageType = "text"
	ChatMessageTypeReaction ChatMessageType = "reaction"
	ChatMessageTypeSystem   ChatMessageType = "system"
)

type ChatMessage struct {
	ID         string          `json:"id"`
	SenderID   string          `json:"sender_id"`
	SenderName string          `json:"sender_name"`
	Text       string          `json:"text"`
	Timestamp  int64           `json:"timestamp"`
	Type       ChatMessageType `json:"type"`
}
