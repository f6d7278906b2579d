package session

import (
	"context"

	"github.com/synclisten/server/internal/domain"
)

// handleEvent runs on the channel's reader goroutine. Self-echo is dropped
// first: every applier assumes the event came from another device. Teardown
// paths (session end, being kicked) leave asynchronously because LeaveSession
// waits for this very goroutine to exit.
func (c *coordinator) handleEvent(event domain.SyncEvent) {
	if event.SenderDeviceID == c.cfg.DeviceID {
		return
	}

	c.mu.Lock()

	if c.st == nil || c.st.sessionID != event.SessionID {
		c.mu.Unlock()
		return
	}

	catchUp := false
	switch event.Type {
	case domain.EventPlay:
		c.applyPlay(event)
	case domain.EventPause:
		c.applyPause(event)
	case domain.EventSeek:
		c.applySeek(event)
	case domain.EventSongChange:
		catchUp = c.applySongChange(event)
	case domain.EventStop:
		if ended, _ := event.Payload["session_ended"].(bool); ended {
			c.st.status = domain.SessionStatusEnded
			c.mu.Unlock()
			go c.LeaveSession(context.Background())
			return
		}
		c.applyStop()
	case domain.EventQueueAdd, domain.EventQueueRemove, domain.EventQueueReorder, domain.EventQueueClear, domain.EventVoteCast:
		c.refreshQueueLocked()
	case domain.EventChatMessage, domain.EventReaction:
		c.applyChat(event)
	case domain.EventHostTransfer:
		c.applyHostTransfer(event)
	case domain.EventCohostAdd:
		c.applyCohost(event, true)
	case domain.EventCohostRemove:
		c.applyCohost(event, false)
	case domain.EventMemberUpdate:
		c.applyMemberUpdate(event)
	case domain.EventSessionLock:
		c.st.isLocked = true
	case domain.EventSessionUnlock:
		c.st.isLocked = false
	case domain.EventMemberKick:
		id, _ := event.Payload["participant_id"].(string)
		if id == c.st.participantID {
			c.mu.Unlock()
			go c.LeaveSession(context.Background())
			return
		}
		delete(c.st.participants, id)
		delete(c.st.cohostIDs, id)
	case domain.EventHeartbeat:
		// liveness flows through the directory, not the channel
		c.mu.Unlock()
		return
	default:
		c.logger.Debug("ignoring unknown event type", "type", event.Type)
		c.mu.Unlock()
		return
	}

	c.notifyLocked()
	c.mu.Unlock()

	// The new track can be minutes behind or ahead of the sender's start;
	// snap to it without the per-cycle adjustment cap.
	if catchUp {
		if err := c.corrector.CatchUp(); err != nil {
			c.logger.Warn("failed to align new track", "error", err)
		}
	}
}

// Transport events carry absolute state: position at the event's timestamp.
// The applier projects that forward to local authoritative now and snaps the
// player, so duplicates and reordering across senders cannot accumulate
// error.

func (c *coordinator) applyPlay(event domain.SyncEvent) {
	if event.Position != nil {
		c.st.currentPos = *event.Position
	}
	c.st.startTimestamp = event.Timestamp
	c.st.isPlaying = true

	if err := c.player.Resume(); err != nil {
		c.logger.Warn("failed to resume playback", "error", err)
	}
	if err := c.player.Seek(c.projectedPositionLocked()); err != nil {
		c.logger.Warn("failed to align playback", "error", err)
	}
}

func (c *coordinator) applyPause(event domain.SyncEvent) {
	if event.Position != nil {
		c.st.currentPos = *event.Position
	}
	c.st.startTimestamp = 0
	c.st.isPlaying = false

	if err := c.player.Pause(); err != nil {
		c.logger.Warn("failed to pause playback", "error", err)
	}
	if err := c.player.Seek(c.st.currentPos); err != nil {
		c.logger.Warn("failed to align playback", "error", err)
	}
}

func (c *coordinator) applySeek(event domain.SyncEvent) {
	if event.Position != nil {
		c.st.currentPos = *event.Position
	}
	if c.st.isPlaying {
		c.st.startTimestamp = event.Timestamp
	} else {
		c.st.startTimestamp = 0
	}

	if err := c.player.Seek(c.projectedPositionLocked()); err != nil {
		c.logger.Warn("failed to seek playback", "error", err)
	}
}

// applySongChange reports whether a catch-up seek should follow once the
// state lock is released.
func (c *coordinator) applySongChange(event domain.SyncEvent) bool {
	if event.Track == nil {
		return false
	}

	c.st.track = *event.Track
	c.st.currentPos = 0
	c.st.startTimestamp = event.Timestamp
	c.st.isPlaying = true

	if err := c.player.Play(c.st.track); err != nil {
		c.logger.Warn("failed to start new track", "error", err)
		return false
	}

	return true
}

func (c *coordinator) applyStop() {
	c.st.currentPos = 0
	c.st.startTimestamp = 0
	c.st.isPlaying = false

	if err := c.player.Stop(); err != nil {
		c.logger.Warn("failed to stop playback", "error", err)
	}
}

// refreshQueueLocked reloads the queue from the directory. Queue events are
// notifications; the directory holds the order and the votes.
func (c *coordinator) refreshQueueLocked() {
	queue, err := c.loadQueue(context.Background(), c.st.sessionID)
	if err != nil {
		c.logger.Warn("failed to refresh queue", "error", err)
		return
	}
	c.st.queue = queue
}

func (c *coordinator) applyChat(event domain.SyncEvent) {
	msg, ok := payloadAs[struct {
		ID         string `json:"id"`
		SenderID   string `json:"sender_id"`
		SenderName string `json:"sender_name"`
		Text       string `json:"text"`
		MsgType    string `json:"msg_type"`
	}](event.Payload)
	if !ok || msg.Text == "" {
		return
	}

	c.appendChatLocked(domain.ChatMessage{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Timestamp:  event.Timestamp,
		Type:       domain.ChatMessageType(msg.MsgType),
	})
}

func (c *coordinator) applyHostTransfer(event domain.SyncEvent) {
	newHostID, _ := event.Payload["participant_id"].(string)
	if newHostID == "" {
		return
	}

	if p, ok := c.st.participants[c.st.hostID]; ok {
		p.IsHost = false
		c.st.participants[c.st.hostID] = p
	}
	c.st.hostID = newHostID
	c.st.isHost = newHostID == c.st.participantID
	if p, ok := c.st.participants[newHostID]; ok {
		p.IsHost = true
		c.st.participants[newHostID] = p
	}
}

func (c *coordinator) applyCohost(event domain.SyncEvent, added bool) {
	id, _ := event.Payload["participant_id"].(string)
	if id == "" {
		return
	}

	if added {
		c.st.cohostIDs[id] = struct{}{}
	} else {
		delete(c.st.cohostIDs, id)
	}
	if id == c.st.participantID {
		c.st.isCohost = added
	}
	if p, ok := c.st.participants[id]; ok {
		p.IsCohost = added
		c.st.participants[id] = p
	}
}

func (c *coordinator) applyMemberUpdate(event domain.SyncEvent) {
	id, _ := event.Payload["participant_id"].(string)
	if id == "" {
		return
	}

	if muted, ok := event.Payload["is_muted"].(bool); ok {
		if p, exists := c.st.participants[id]; exists {
			p.IsMuted = muted
			c.st.participants[id] = p
		}
	}
}
