package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/synclisten/server/internal/domain"
)

// SendChatMessage posts a text message to the session. Muted participants
// get a silent no-op. The local log keeps the most recent messages only.
func (c *coordinator) SendChatMessage(ctx context.Context, text string) error {
	return c.sendChat(ctx, text, domain.ChatMessageTypeText, domain.EventChatMessage)
}

// SendReaction posts an ephemeral reaction (an emoji or short token).
func (c *coordinator) SendReaction(ctx context.Context, reaction string) error {
	return c.sendChat(ctx, reaction, domain.ChatMessageTypeReaction, domain.EventReaction)
}

func (c *coordinator) sendChat(ctx context.Context, text string, msgType domain.ChatMessageType, eventType domain.EventType) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil {
		return nil
	}
	if self, ok := c.st.participants[c.st.participantID]; ok && self.IsMuted {
		return nil
	}

	msg := domain.ChatMessage{
		ID:         uuid.NewString(),
		SenderID:   c.st.participantID,
		SenderName: c.cfg.DisplayName,
		Text:       text,
		Timestamp:  c.est.AuthoritativeNow().UnixMilli(),
		Type:       msgType,
	}

	if err := c.dir.AppendChatMessage(ctx, c.st.sessionID, msg); err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	c.appendChatLocked(msg)

	event := c.newEvent(c.st.sessionID, eventType)
	event.Payload = map[string]any{
		"id":          msg.ID,
		"sender_id":   msg.SenderID,
		"sender_name": msg.SenderName,
		"text":        msg.Text,
		"msg_type":    string(msg.Type),
	}
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

func (c *coordinator) appendChatLocked(msg domain.ChatMessage) {
	c.st.chat = append(c.st.chat, msg)
	if over := len(c.st.chat) - c.cfg.ChatLimit; over > 0 {
		c.st.chat = c.st.chat[over:]
	}
}
