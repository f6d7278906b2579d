package session

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
	"github.com/synclisten/server/pkg/synckey"
)

func (c *coordinator) normalizeKey(raw string) string {
	key := synckey.Normalize(raw)
	if !synckey.Valid(key) {
		return ""
	}

	return key
}

func (c *coordinator) newEvent(sessionID string, eventType domain.EventType) domain.SyncEvent {
	return domain.SyncEvent{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Type:           eventType,
		Timestamp:      c.est.AuthoritativeNow().UnixMilli(),
		SenderDeviceID: c.cfg.DeviceID,
	}
}

// emit appends the event to the session's durable log and fans it out. The
// append happens first; a publish failure is logged but not surfaced, since
// the directory already holds the state a late joiner would recover from.
func (c *coordinator) emit(ctx context.Context, sessionID string, event domain.SyncEvent) {
	if err := c.dir.AppendEvent(ctx, sessionID, event); err != nil {
		c.logger.Warn("failed to append event", "type", event.Type, "error", err)
	}
	if err := c.ch.Publish(ctx, sessionID, event); err != nil {
		c.logger.Warn("failed to publish event", "type", event.Type, "error", err)
	}
}

func (c *coordinator) loadQueue(ctx context.Context, sessionID string) ([]domain.QueueItem, error) {
	rows, err := c.dir.GetQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	queue := make([]domain.QueueItem, 0, len(rows))
	for _, row := range rows {
		queue = append(queue, queueItemView(row))
	}

	return queue, nil
}

func queueItemView(row directory.QueueItem) domain.QueueItem {
	return domain.QueueItem{
		ID: row.ID,
		Track: domain.TrackRef{
			ID:        row.TrackID,
			Title:     row.TrackTitle,
			Artist:    row.TrackArtist,
			Duration:  row.TrackDuration,
			SourceURL: row.TrackSourceURL,
		},
		AddedBy:  row.AddedBy,
		AddedAt:  row.AddedAt,
		Votes:    row.Votes,
		VoterIDs: row.VoterIDs,
	}
}

func participantView(p directory.Participant) ParticipantView {
	return ParticipantView{
		ID:          p.ID,
		DeviceID:    p.DeviceID,
		DisplayName: p.DisplayName,
		IsHost:      p.IsHost,
		IsCohost:    p.IsCohost,
		IsMuted:     p.IsMuted,
		LatencyMs:   p.LatencyMs,
		Status:      domain.ParticipantStatus(p.Status),
	}
}

// payloadAs decodes an event payload into a typed struct via the json
// round trip; payloads arrive as map[string]any after transport decoding.
func payloadAs[T any](payload map[string]any) (T, bool) {
	var out T
	if payload == nil {
		return out, false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false
	}

	return out, true
}
