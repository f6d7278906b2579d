package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

// AddToQueue appends a track to the shared queue. Any participant may add;
// removal and reordering are gated like transport control.
func (c *coordinator) AddToQueue(ctx context.Context, track domain.TrackRef) error {
	if track.IsZero() {
		return ErrTrackRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil {
		return nil
	}

	item := domain.QueueItem{
		ID:      uuid.NewString(),
		Track:   track,
		AddedBy: c.st.participantID,
		AddedAt: c.est.AuthoritativeNow().UnixMilli(),
	}

	if err := c.dir.AddQueueItem(ctx, &directory.AddQueueItemParams{
		SessionID:      c.st.sessionID,
		ItemID:         item.ID,
		TrackID:        track.ID,
		TrackTitle:     track.Title,
		TrackArtist:    track.Artist,
		TrackDuration:  track.Duration,
		TrackSourceURL: track.SourceURL,
		AddedBy:        item.AddedBy,
		AddedAt:        item.AddedAt,
	}); err != nil {
		return fmt.Errorf("failed to add queue item: %w", err)
	}

	c.st.queue = append(c.st.queue, item)

	event := c.newEvent(c.st.sessionID, domain.EventQueueAdd)
	t := track
	event.Track = &t
	event.Payload = map[string]any{"item_id": item.ID}
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

func (c *coordinator) RemoveFromQueue(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.canControlLocked() {
		return nil
	}

	if err := c.dir.RemoveQueueItem(ctx, &directory.RemoveQueueItemParams{
		SessionID: c.st.sessionID,
		ItemID:    itemID,
	}); err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}

	c.st.queue = removeQueueItem(c.st.queue, itemID)

	event := c.newEvent(c.st.sessionID, domain.EventQueueRemove)
	event.Payload = map[string]any{"item_id": itemID}
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

func (c *coordinator) ClearQueue(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.canControlLocked() {
		return nil
	}

	if err := c.dir.ClearQueue(ctx, c.st.sessionID); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	c.st.queue = nil

	c.emit(ctx, c.st.sessionID, c.newEvent(c.st.sessionID, domain.EventQueueClear))

	c.notifyLocked()

	return nil
}

// VoteForSong casts this participant's vote on a queue item. Votes are
// idempotent per participant. Under the majority policy an item whose votes
// exceed half the connected participants moves to the head of the queue.
func (c *coordinator) VoteForSong(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil {
		return nil
	}

	added, votes, err := c.dir.AddVote(ctx, &directory.AddVoteParams{
		SessionID: c.st.sessionID,
		ItemID:    itemID,
		VoterID:   c.st.participantID,
	})
	if err != nil {
		return fmt.Errorf("failed to add vote: %w", err)
	}
	if !added {
		return nil
	}

	for i := range c.st.queue {
		if c.st.queue[i].ID == itemID {
			c.st.queue[i].Votes = votes
			c.st.queue[i].VoterIDs = append(c.st.queue[i].VoterIDs, c.st.participantID)
			break
		}
	}

	event := c.newEvent(c.st.sessionID, domain.EventVoteCast)
	event.Payload = map[string]any{"item_id": itemID, "votes": votes}
	c.emit(ctx, c.st.sessionID, event)

	if c.st.votingPolicy == domain.VotingPolicyMajority && votes > c.connectedCountLocked()/2 {
		if err := c.promoteLocked(ctx, itemID); err != nil {
			c.logger.Warn("failed to promote queue item", "error", err)
		}
	}

	c.notifyLocked()

	return nil
}

// ReorderQueue moves an item to the head of the queue. Under the free policy
// anyone may reorder; otherwise only participants with transport control.
func (c *coordinator) ReorderQueue(ctx context.Context, itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil {
		return nil
	}
	if c.st.votingPolicy != domain.VotingPolicyFree && !c.canControlLocked() {
		return nil
	}

	if err := c.promoteLocked(ctx, itemID); err != nil {
		return err
	}

	c.notifyLocked()

	return nil
}

func (c *coordinator) promoteLocked(ctx context.Context, itemID string) error {
	if err := c.dir.PromoteQueueItem(ctx, &directory.PromoteQueueItemParams{
		SessionID: c.st.sessionID,
		ItemID:    itemID,
	}); err != nil {
		return fmt.Errorf("failed to promote queue item: %w", err)
	}

	for i := range c.st.queue {
		if c.st.queue[i].ID == itemID {
			item := c.st.queue[i]
			c.st.queue = append(c.st.queue[:i], c.st.queue[i+1:]...)
			c.st.queue = append([]domain.QueueItem{item}, c.st.queue...)
			break
		}
	}

	event := c.newEvent(c.st.sessionID, domain.EventQueueReorder)
	event.Payload = map[string]any{"item_id": itemID}
	c.emit(ctx, c.st.sessionID, event)

	return nil
}

func (c *coordinator) connectedCountLocked() int {
	count := 0
	for _, p := range c.st.participants {
		if p.Status == domain.ParticipantStatusConnected {
			count++
		}
	}

	return count
}

func removeQueueItem(queue []domain.QueueItem, itemID string) []domain.QueueItem {
	for i := range queue {
		if queue[i].ID == itemID {
			return append(queue[:i], queue[i+1:]...)
		}
	}

	return queue
}
