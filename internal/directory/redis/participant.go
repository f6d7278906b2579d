package redis

import (
	"context"
	"fmt"

	"github.com/synclisten/server/internal/directory"
)

func (r repo) getParticipantKey(participantID string) string {
	return "participant:" + participantID
}

func (r repo) getParticipantsKey(sessionID string) string {
	return "session:" + sessionID + ":participants"
}

func (r repo) SetParticipant(ctx context.Context, params *directory.SetParticipantParams) error {
	participant := directory.Participant{
		ID:          params.ParticipantID,
		SessionID:   params.SessionID,
		DeviceID:    params.DeviceID,
		UserID:      params.UserID,
		DisplayName: params.DisplayName,
		IsHost:      params.IsHost,
		IsCohost:    params.IsCohost,
		IsMuted:     params.IsMuted,
		Role:        params.Role,
		LatencyMs:   params.LatencyMs,
		Status:      params.Status,
		JoinedAt:    params.JoinedAt,
		LastSeen:    params.LastSeen,
	}

	participantKey := r.getParticipantKey(params.ParticipantID)
	participantsKey := r.getParticipantsKey(params.SessionID)

	pipe := r.rc.TxPipeline()
	pipe.HSet(ctx, participantKey, participant)
	pipe.Expire(ctx, participantKey, r.expireDuration)
	pipe.SAdd(ctx, participantsKey, params.ParticipantID)
	pipe.Expire(ctx, participantsKey, r.expireDuration)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set participant: %w", err)
	}

	return nil
}

func (r repo) GetParticipant(ctx context.Context, participantID string) (directory.Participant, error) {
	var participant directory.Participant
	if err := r.rc.HGetAll(ctx, r.getParticipantKey(participantID)).Scan(&participant); err != nil {
		return directory.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}

	if participant.ID == "" {
		return directory.Participant{}, directory.ErrParticipantNotFound
	}

	return participant, nil
}

func (r repo) ListParticipants(ctx context.Context, sessionID string) ([]directory.Participant, error) {
	ids, err := r.rc.SMembers(ctx, r.getParticipantsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participant ids: %w", err)
	}

	participants := make([]directory.Participant, 0, len(ids))
	for _, id := range ids {
		participant, err := r.GetParticipant(ctx, id)
		if err != nil {
			if err == directory.ErrParticipantNotFound {
				// row expired but the set entry survived
				r.rc.SRem(ctx, r.getParticipantsKey(sessionID), id)
				continue
			}

			return nil, err
		}

		participants = append(participants, participant)
	}

	return participants, nil
}

func (r repo) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	count, err := r.rc.SCard(ctx, r.getParticipantsKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}

	return int(count), nil
}

func (r repo) RemoveParticipant(ctx context.Context, params *directory.RemoveParticipantParams) error {
	pipe := r.rc.TxPipeline()
	pipe.Del(ctx, r.getParticipantKey(params.ParticipantID))
	pipe.SRem(ctx, r.getParticipantsKey(params.SessionID), params.ParticipantID)
	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	return nil
}

func (r repo) UpdateParticipantHeartbeat(ctx context.Context, params *directory.HeartbeatParams) error {
	participantKey := r.getParticipantKey(params.ParticipantID)
	if err := r.rc.HSet(ctx, participantKey,
		"latency_ms", params.LatencyMs,
		"status", params.Status,
		"last_seen", params.LastSeen,
	).Err(); err != nil {
		return fmt.Errorf("failed to update participant heartbeat: %w", err)
	}

	r.rc.Expire(ctx, participantKey, r.expireDuration)

	return nil
}

func (r repo) UpdateParticipantStatus(ctx context.Context, participantID string, status string) error {
	if err := r.rc.HSet(ctx, r.getParticipantKey(participantID), "status", status).Err(); err != nil {
		return fmt.Errorf("failed to update participant status: %w", err)
	}

	return nil
}

func (r repo) UpdateParticipantIsHost(ctx context.Context, participantID string, isHost bool) error {
	if err := r.rc.HSet(ctx, r.getParticipantKey(participantID), "is_host", isHost).Err(); err != nil {
		return fmt.Errorf("failed to update participant is host: %w", err)
	}

	return nil
}

func (r repo) UpdateParticipantIsCohost(ctx context.Context, participantID string, isCohost bool) error {
	if err := r.rc.HSet(ctx, r.getParticipantKey(participantID), "is_cohost", isCohost).Err(); err != nil {
		return fmt.Errorf("failed to update participant is cohost: %w", err)
	}

	return nil
}

func (r repo) UpdateParticipantIsMuted(ctx context.Context, participantID string, isMuted bool) error {
	if err := r.rc.HSet(ctx, r.getParticipantKey(participantID), "is_muted", isMuted).Err(); err != nil {
		return fmt.Errorf("failed to update participant is muted: %w", err)
	}

	return nil
}
