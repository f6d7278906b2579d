package redis

import (
	"context"
	"fmt"

	"github.com/synclisten/server/internal/directory"
)

func (r repo) getQueueKey(sessionID string) string {
	return "session:" + sessionID + ":queue"
}

func (r repo) getQueueItemKey(sessionID, itemID string) string {
	return "session:" + sessionID + ":queue:" + itemID
}

func (r repo) getQueueVotersKey(sessionID, itemID string) string {
	return "session:" + sessionID + ":queue:" + itemID + ":voters"
}

func (r repo) AddQueueItem(ctx context.Context, params *directory.AddQueueItemParams) error {
	item := directory.QueueItem{
		ID:             params.ItemID,
		TrackID:        params.TrackID,
		TrackTitle:     params.TrackTitle,
		TrackArtist:    params.TrackArtist,
		TrackDuration:  params.TrackDuration,
		TrackSourceURL: params.TrackSourceURL,
		AddedBy:        params.AddedBy,
		AddedAt:        params.AddedAt,
	}

	queueKey := r.getQueueKey(params.SessionID)
	itemKey := r.getQueueItemKey(params.SessionID, params.ItemID)

	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, itemKey, item)
	pipe.Expire(ctx, itemKey, r.expireDuration)
	pipe.RPush(ctx, queueKey, params.ItemID)
	pipe.Expire(ctx, queueKey, r.expireDuration)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to add queue item: %w", err)
	}

	return nil
}

func (r repo) RemoveQueueItem(ctx context.Context, params *directory.RemoveQueueItemParams) error {
	removed, err := r.rc.LRem(ctx, r.getQueueKey(params.SessionID), 0, params.ItemID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}

	if removed == 0 {
		return directory.ErrQueueItemNotFound
	}

	pipe := r.rc.TxPipeline()
	pipe.Del(ctx, r.getQueueItemKey(params.SessionID, params.ItemID))
	pipe.Del(ctx, r.getQueueVotersKey(params.SessionID, params.ItemID))
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}

	return nil
}

func (r repo) ClearQueue(ctx context.Context, sessionID string) error {
	queueKey := r.getQueueKey(sessionID)
	ids, err := r.rc.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get queue item ids: %w", err)
	}

	pipe := r.rc.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.getQueueItemKey(sessionID, id))
		pipe.Del(ctx, r.getQueueVotersKey(sessionID, id))
	}
	pipe.Del(ctx, queueKey)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	return nil
}

func (r repo) GetQueue(ctx context.Context, sessionID string) ([]directory.QueueItem, error) {
	ids, err := r.rc.LRange(ctx, r.getQueueKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item ids: %w", err)
	}

	items := make([]directory.QueueItem, 0, len(ids))
	for _, id := range ids {
		var item directory.QueueItem
		if err := r.rc.HGetAll(ctx, r.getQueueItemKey(sessionID, id)).Scan(&item); err != nil {
			return nil, fmt.Errorf("failed to get queue item: %w", err)
		}

		if item.ID == "" {
			continue
		}

		voters, err := r.rc.SMembers(ctx, r.getQueueVotersKey(sessionID, id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get queue item voters: %w", err)
		}

		item.Votes = len(voters)
		item.VoterIDs = voters
		items = append(items, item)
	}

	return items, nil
}

// AddVote registers a voter once per item. The voter set makes a repeated
// vote a no-op, reported through the added flag.
func (r repo) AddVote(ctx context.Context, params *directory.AddVoteParams) (bool, int, error) {
	exists, err := r.rc.Exists(ctx, r.getQueueItemKey(params.SessionID, params.ItemID)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to check queue item exists: %w", err)
	}
	if exists == 0 {
		return false, 0, directory.ErrQueueItemNotFound
	}

	votersKey := r.getQueueVotersKey(params.SessionID, params.ItemID)
	added, err := r.rc.SAdd(ctx, votersKey, params.VoterID).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to add vote: %w", err)
	}

	r.rc.Expire(ctx, votersKey, r.expireDuration)

	votes, err := r.rc.SCard(ctx, votersKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to count votes: %w", err)
	}

	return added > 0, int(votes), nil
}

func (r repo) PromoteQueueItem(ctx context.Context, params *directory.PromoteQueueItemParams) error {
	queueKey := r.getQueueKey(params.SessionID)
	removed, err := r.rc.LRem(ctx, queueKey, 0, params.ItemID).Result()
	if err != nil {
		return fmt.Errorf("failed to promote queue item: %w", err)
	}

	if removed == 0 {
		return directory.ErrQueueItemNotFound
	}

	if err := r.rc.LPush(ctx, queueKey, params.ItemID).Err(); err != nil {
		return fmt.Errorf("failed to promote queue item: %w", err)
	}

	return nil
}
