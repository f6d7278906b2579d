package domain

// TrackRef identifies a playable media item. The engine never interprets
// SourceURL; it is handed verbatim to the playback transport.
type TrackRef struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Duration  float64 `json:"duration"`
	SourceURL string  `json:"source_url"`
}

func (t TrackRef) IsZero() bool {
	return t.ID == ""
}
