package session

import (
	"context"
	"fmt"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

// Governance operations are host-only. A non-host call is a silent no-op, the
// same contract the transport surface uses for participants without control.
// For every operation the directory write is the authority; the emitted event
// only tells peers to refresh their local replica.

// TransferHost hands the host role to another participant. The caller stays
// in the session as a regular listener.
func (c *coordinator) TransferHost(ctx context.Context, participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.st.isHost || participantID == c.st.participantID {
		return nil
	}
	if _, ok := c.st.participants[participantID]; !ok {
		return nil
	}

	if err := c.dir.UpdateSessionHost(ctx, c.st.sessionID, participantID); err != nil {
		return fmt.Errorf("failed to transfer host: %w", err)
	}
	if err := c.dir.UpdateParticipantIsHost(ctx, c.st.participantID, false); err != nil {
		c.logger.Warn("failed to clear host flag", "error", err)
	}
	if err := c.dir.UpdateParticipantIsHost(ctx, participantID, true); err != nil {
		c.logger.Warn("failed to set host flag", "error", err)
	}

	c.st.isHost = false
	c.st.hostID = participantID
	if p, ok := c.st.participants[c.st.participantID]; ok {
		p.IsHost = false
		c.st.participants[c.st.participantID] = p
	}
	if p, ok := c.st.participants[participantID]; ok {
		p.IsHost = true
		c.st.participants[participantID] = p
	}

	event := c.newEvent(c.st.sessionID, domain.EventHostTransfer)
	event.Payload = map[string]any{"participant_id": participantID}
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

func (c *coordinator) AddCohost(ctx context.Context, participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.st.isHost {
		return nil
	}

	if err := c.dir.AddCohost(ctx, c.st.sessionID, participantID); err != nil {
		return fmt.Errorf("failed to add cohost: %w", err)
	}
	if err := c.dir.UpdateParticipantIsCohost(ctx, participantID, true); err != nil {
		c.logger.Warn("failed to set cohost flag", "error", err)
	}

	c.st.cohostIDs[participantID] = struct{}{}
	if p, ok := c.st.participants[participantID]; ok {
		p.IsCohost = true
		c.st.participants[participantID] = p
	}

	event := c.newEvent(c.st.sessionID, domain.EventCohostAdd)
	event.Payload = map[string]any{"participant_id": participantID}
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

func (c *coordinator) RemoveCohost(ctx context.Context, participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.st.isHost {
		return nil
	}

	if err := c.dir.RemoveCohost(ctx, c.st.sessionID, participantID); err != nil {
		return fmt.Errorf("failed to remove cohost: %w", err)
	}
	if err := c.dir.UpdateParticipantIsCohost(ctx, participantID, false); err != nil {
		c.logger.Warn("failed to clear cohost flag", "error", err)
	}

	delete(c.st.cohostIDs, participantID)
	if p, ok := c.st.participants[participantID]; ok {
		p.IsCohost = false
		c.st.participants[participantID] = p
	}

	event := c.newEvent(c.st.sessionID, domain.EventCohostRemove)
	event.Payload = map[string]any{"participant_id": participantID}
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

// KickMember removes a participant from the session. The kicked client sees
// its own ID in the event and tears itself down.
func (c *coordinator) KickMember(ctx context.Context, participantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.st.isHost || participantID == c.st.participantID {
		return nil
	}

	// Remove the row here as well: the kicked client tears itself down on the
	// event, but it may already be gone.
	if err := c.dir.RemoveParticipant(ctx, &directory.RemoveParticipantParams{
		ParticipantID: participantID,
		SessionID:     c.st.sessionID,
	}); err != nil {
		c.logger.Warn("failed to remove kicked participant", "error", err)
	}

	event := c.newEvent(c.st.sessionID, domain.EventMemberKick)
	event.Payload = map[string]any{"participant_id": participantID}
	c.emit(ctx, c.st.sessionID, event)

	delete(c.st.participants, participantID)
	delete(c.st.cohostIDs, participantID)

	c.notifyLocked()

	return nil
}

func (c *coordinator) MuteMember(ctx context.Context, participantID string) error {
	return c.setMuted(ctx, participantID, true)
}

func (c *coordinator) UnmuteMember(ctx context.Context, participantID string) error {
	return c.setMuted(ctx, participantID, false)
}

func (c *coordinator) setMuted(ctx context.Context, participantID string, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.st.isHost {
		return nil
	}

	if err := c.dir.UpdateParticipantIsMuted(ctx, participantID, muted); err != nil {
		return fmt.Errorf("failed to update mute flag: %w", err)
	}

	if p, ok := c.st.participants[participantID]; ok {
		p.IsMuted = muted
		c.st.participants[participantID] = p
	}

	event := c.newEvent(c.st.sessionID, domain.EventMemberUpdate)
	event.Payload = map[string]any{"participant_id": participantID, "is_muted": muted}
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

// LockSession restricts transport control to the host and cohosts.
func (c *coordinator) LockSession(ctx context.Context) error {
	return c.setLocked(ctx, true)
}

// UnlockSession restores transport control to every participant.
func (c *coordinator) UnlockSession(ctx context.Context) error {
	return c.setLocked(ctx, false)
}

func (c *coordinator) setLocked(ctx context.Context, locked bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.st.isHost || c.st.isLocked == locked {
		return nil
	}

	if err := c.dir.UpdateSessionLocked(ctx, c.st.sessionID, locked); err != nil {
		return fmt.Errorf("failed to update session lock: %w", err)
	}

	c.st.isLocked = locked

	eventType := domain.EventSessionUnlock
	if locked {
		eventType = domain.EventSessionLock
	}
	c.emit(ctx, c.st.sessionID, c.newEvent(c.st.sessionID, eventType))

	c.notifyLocked()

	return nil
}
