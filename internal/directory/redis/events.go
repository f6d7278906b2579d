package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/synclisten/server/internal/domain"
)

func (r repo) getEventsKey(sessionID string) string {
	return "session:" + sessionID + ":events"
}

func (r repo) getChatKey(sessionID string) string {
	return "session:" + sessionID + ":chat"
}

// AppendEvent records an event in the session's capped log. The log exists
// for late-joiner catch-up reads and diagnostics, not replay: live delivery
// goes through the event channel.
func (r repo) AppendEvent(ctx context.Context, sessionID string, event domain.SyncEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventsKey := r.getEventsKey(sessionID)
	pipe := r.rc.TxPipeline()
	pipe.LPush(ctx, eventsKey, raw)
	pipe.LTrim(ctx, eventsKey, 0, eventLogLimit-1)
	pipe.Expire(ctx, eventsKey, r.expireDuration)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// RecentEvents returns up to limit events, newest first.
func (r repo) RecentEvents(ctx context.Context, sessionID string, limit int) ([]domain.SyncEvent, error) {
	raws, err := r.rc.LRange(ctx, r.getEventsKey(sessionID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}

	events := make([]domain.SyncEvent, 0, len(raws))
	for _, raw := range raws {
		var event domain.SyncEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}

		events = append(events, event)
	}

	return events, nil
}

func (r repo) AppendChatMessage(ctx context.Context, sessionID string, message domain.ChatMessage) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	chatKey := r.getChatKey(sessionID)
	pipe := r.rc.TxPipeline()
	pipe.LPush(ctx, chatKey, raw)
	pipe.LTrim(ctx, chatKey, 0, chatLogLimit-1)
	pipe.Expire(ctx, chatKey, r.expireDuration)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	return nil
}

// RecentChat returns up to limit messages in chronological order.
func (r repo) RecentChat(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	raws, err := r.rc.LRange(ctx, r.getChatKey(sessionID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent chat: %w", err)
	}

	messages := make([]domain.ChatMessage, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var message domain.ChatMessage
		if err := json.Unmarshal([]byte(raws[i]), &message); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}

		messages = append(messages, message)
	}

	return messages, nil
}
