package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

func (r repo) getSessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (r repo) getSyncKeyKey(syncKey string) string {
	return "synckey:" + syncKey
}

func (r repo) getCohostsKey(sessionID string) string {
	return "session:" + sessionID + ":cohosts"
}

func (r repo) CreateSession(ctx context.Context, params *directory.CreateSessionParams) error {
	// claim the sync key first so two hosts can never share one
	ok, err := r.rc.SetNX(ctx, r.getSyncKeyKey(params.SyncKey), params.SessionID, r.expireDuration).Result()
	if err != nil {
		return fmt.Errorf("failed to claim sync key: %w", err)
	}
	if !ok {
		return directory.ErrSyncKeyTaken
	}

	session := directory.Session{
		ID:                params.SessionID,
		SyncKey:           params.SyncKey,
		HostParticipantID: params.HostParticipantID,
		TrackID:           params.TrackID,
		TrackTitle:        params.TrackTitle,
		TrackArtist:       params.TrackArtist,
		TrackDuration:     params.TrackDuration,
		TrackSourceURL:    params.TrackSourceURL,
		StartTimestamp:    0,
		CurrentPosition:   0,
		IsPlaying:         false,
		Status:            string(domain.SessionStatusActive),
		IsLocked:          false,
		VotingPolicy:      params.VotingPolicy,
		CreatedAt:         params.CreatedAt,
	}

	sessionKey := r.getSessionKey(params.SessionID)
	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, sessionKey, session)
	pipe.Expire(ctx, sessionKey, r.expireDuration)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r repo) GetSession(ctx context.Context, sessionID string) (directory.Session, error) {
	sessionKey := r.getSessionKey(sessionID)

	var session directory.Session
	if err := r.rc.HGetAll(ctx, sessionKey).Scan(&session); err != nil {
		return directory.Session{}, fmt.Errorf("failed to get session: %w", err)
	}

	if session.ID == "" {
		return directory.Session{}, directory.ErrSessionNotFound
	}

	r.rc.Expire(ctx, sessionKey, r.expireDuration)

	return session, nil
}

func (r repo) GetSessionIDBySyncKey(ctx context.Context, syncKey string) (string, error) {
	sessionID, err := r.rc.Get(ctx, r.getSyncKeyKey(syncKey)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", directory.ErrSessionNotFound
		}

		return "", fmt.Errorf("failed to get session id by sync key: %w", err)
	}

	return sessionID, nil
}

func (r repo) UpdateSessionTransport(ctx context.Context, params *directory.UpdateTransportParams) error {
	sessionKey := r.getSessionKey(params.SessionID)
	if err := r.checkSessionExists(ctx, sessionKey); err != nil {
		return err
	}

	if err := r.rc.HSet(ctx, sessionKey,
		"track_id", params.TrackID,
		"track_title", params.TrackTitle,
		"track_artist", params.TrackArtist,
		"track_duration", params.TrackDuration,
		"track_source_url", params.TrackSourceURL,
		"start_timestamp", params.StartTimestamp,
		"current_position", params.CurrentPosition,
		"is_playing", params.IsPlaying,
	).Err(); err != nil {
		return fmt.Errorf("failed to update session transport: %w", err)
	}

	r.rc.Expire(ctx, sessionKey, r.expireDuration)

	return nil
}

func (r repo) UpdateSessionHost(ctx context.Context, sessionID string, hostParticipantID string) error {
	sessionKey := r.getSessionKey(sessionID)
	if err := r.checkSessionExists(ctx, sessionKey); err != nil {
		return err
	}

	if err := r.rc.HSet(ctx, sessionKey, "host_participant_id", hostParticipantID).Err(); err != nil {
		return fmt.Errorf("failed to update session host: %w", err)
	}

	return nil
}

func (r repo) UpdateSessionLocked(ctx context.Context, sessionID string, isLocked bool) error {
	sessionKey := r.getSessionKey(sessionID)
	if err := r.checkSessionExists(ctx, sessionKey); err != nil {
		return err
	}

	if err := r.rc.HSet(ctx, sessionKey, "is_locked", isLocked).Err(); err != nil {
		return fmt.Errorf("failed to update session locked: %w", err)
	}

	return nil
}

// EndSession flips the status and releases the sync key so it can be reused
// by a future session. Remaining keys age out via their expirations.
func (r repo) EndSession(ctx context.Context, sessionID string) error {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, r.getSessionKey(sessionID), "status", string(domain.SessionStatusEnded))
	pipe.Del(ctx, r.getSyncKeyKey(session.SyncKey))
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	return nil
}

func (r repo) AddCohost(ctx context.Context, sessionID string, participantID string) error {
	cohostsKey := r.getCohostsKey(sessionID)
	pipe := r.rc.TxPipeline()
	pipe.SAdd(ctx, cohostsKey, participantID)
	pipe.Expire(ctx, cohostsKey, r.expireDuration)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to add cohost: %w", err)
	}

	return nil
}

func (r repo) RemoveCohost(ctx context.Context, sessionID string, participantID string) error {
	if err := r.rc.SRem(ctx, r.getCohostsKey(sessionID), participantID).Err(); err != nil {
		return fmt.Errorf("failed to remove cohost: %w", err)
	}

	return nil
}

func (r repo) GetCohostIDs(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := r.rc.SMembers(ctx, r.getCohostsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cohost ids: %w", err)
	}

	return ids, nil
}

func (r repo) checkSessionExists(ctx context.Context, sessionKey string) error {
	cmd := r.rc.Exists(ctx, sessionKey)
	if err := cmd.Err(); err != nil {
		return err
	}

	if cmd.Val() == 0 {
		return directory.ErrSessionNotFound
	}

	return nil
}
