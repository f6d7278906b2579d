// Package postgres is the relational SessionDirectory. It expects the
// following schema:
//
//	create table sync_sessions (
//	    id text primary key,
//	    sync_key text,
//	    host_participant_id text not null,
//	    track_id text not null default '',
//	    track_title text not null default '',
//	    track_artist text not null default '',
//	    track_duration double precision not null default 0,
//	    track_source_url text not null default '',
//	    start_timestamp bigint not null default 0,
//	    current_position double precision not null default 0,
//	    is_playing boolean not null default false,
//	    status text not null default 'active',
//	    is_locked boolean not null default false,
//	    voting_policy text not null default 'majority',
//	    cohost_ids text[] not null default '{}',
//	    created_at bigint not null
//	);
//	create unique index sync_sessions_sync_key on sync_sessions (sync_key)
//	    where status = 'active';
//
//	create table sync_participants (
//	    id text primary key,
//	    session_id text not null references sync_sessions (id) on delete cascade,
//	    device_id text not null,
//	    user_id text not null default '',
//	    display_name text not null,
//	    is_host boolean not null default false,
//	    is_cohost boolean not null default false,
//	    is_muted boolean not null default false,
//	    role text not null default 'listener',
//	    latency_ms double precision not null default 0,
//	    status text not null default 'syncing',
//	    joined_at bigint not null,
//	    last_seen bigint not null,
//	    unique (session_id, device_id)
//	);
//
//	create table sync_events (
//	    seq bigserial primary key,
//	    session_id text not null,
//	    body jsonb not null
//	);
//
//	create table sync_queue_items (
//	    id text primary key,
//	    session_id text not null,
//	    position serial,
//	    track_id text not null,
//	    track_title text not null default '',
//	    track_artist text not null default '',
//	    track_duration double precision not null default 0,
//	    track_source_url text not null default '',
//	    added_by text not null,
//	    added_at bigint not null,
//	    voter_ids text[] not null default '{}'
//	);
//
//	create table sync_chat_messages (
//	    seq bigserial primary key,
//	    session_id text not null,
//	    body jsonb not null
//	);
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

const (
	eventLogLimit = 500
	chatLogLimit  = 100
)

type repo struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) *repo {
	return &repo{pool: pool}
}

func (r repo) ServerTime(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := r.pool.QueryRow(ctx, `select now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to get server time: %w", err)
	}

	return now, nil
}

func (r repo) CreateSession(ctx context.Context, params *directory.CreateSessionParams) error {
	_, err := r.pool.Exec(ctx, `
		insert into sync_sessions (
			id, sync_key, host_participant_id,
			track_id, track_title, track_artist, track_duration, track_source_url,
			voting_policy, created_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		params.SessionID, params.SyncKey, params.HostParticipantID,
		params.TrackID, params.TrackTitle, params.TrackArtist, params.TrackDuration, params.TrackSourceURL,
		params.VotingPolicy, params.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return directory.ErrSyncKeyTaken
		}

		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r repo) GetSession(ctx context.Context, sessionID string) (directory.Session, error) {
	var s directory.Session
	err := r.pool.QueryRow(ctx, `
		select id, coalesce(sync_key, ''), host_participant_id,
			track_id, track_title, track_artist, track_duration, track_source_url,
			start_timestamp, current_position, is_playing,
			status, is_locked, voting_policy, created_at
		from sync_sessions where id = $1`,
		sessionID,
	).Scan(
		&s.ID, &s.SyncKey, &s.HostParticipantID,
		&s.TrackID, &s.TrackTitle, &s.TrackArtist, &s.TrackDuration, &s.TrackSourceURL,
		&s.StartTimestamp, &s.CurrentPosition, &s.IsPlaying,
		&s.Status, &s.IsLocked, &s.VotingPolicy, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return directory.Session{}, directory.ErrSessionNotFound
		}

		return directory.Session{}, fmt.Errorf("failed to get session: %w", err)
	}

	return s, nil
}

func (r repo) GetSessionIDBySyncKey(ctx context.Context, syncKey string) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`select id from sync_sessions where sync_key = $1 and status = 'active'`,
		syncKey,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", directory.ErrSessionNotFound
		}

		return "", fmt.Errorf("failed to get session id by sync key: %w", err)
	}

	return id, nil
}

func (r repo) UpdateSessionTransport(ctx context.Context, params *directory.UpdateTransportParams) error {
	tag, err := r.pool.Exec(ctx, `
		update sync_sessions set
			track_id = $2, track_title = $3, track_artist = $4,
			track_duration = $5, track_source_url = $6,
			start_timestamp = $7, current_position = $8, is_playing = $9
		where id = $1`,
		params.SessionID,
		params.TrackID, params.TrackTitle, params.TrackArtist,
		params.TrackDuration, params.TrackSourceURL,
		params.StartTimestamp, params.CurrentPosition, params.IsPlaying,
	)
	if err != nil {
		return fmt.Errorf("failed to update session transport: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return directory.ErrSessionNotFound
	}

	return nil
}

func (r repo) UpdateSessionHost(ctx context.Context, sessionID string, hostParticipantID string) error {
	tag, err := r.pool.Exec(ctx,
		`update sync_sessions set host_participant_id = $2 where id = $1`,
		sessionID, hostParticipantID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session host: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return directory.ErrSessionNotFound
	}

	return nil
}

func (r repo) UpdateSessionLocked(ctx context.Context, sessionID string, isLocked bool) error {
	tag, err := r.pool.Exec(ctx,
		`update sync_sessions set is_locked = $2 where id = $1`,
		sessionID, isLocked,
	)
	if err != nil {
		return fmt.Errorf("failed to update session locked: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return directory.ErrSessionNotFound
	}

	return nil
}

func (r repo) EndSession(ctx context.Context, sessionID string) error {
	// sync_key is nulled so the partial unique index frees the key for reuse
	tag, err := r.pool.Exec(ctx,
		`update sync_sessions set status = 'ended', sync_key = null where id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return directory.ErrSessionNotFound
	}

	return nil
}

func (r repo) AddCohost(ctx context.Context, sessionID string, participantID string) error {
	_, err := r.pool.Exec(ctx, `
		update sync_sessions
		set cohost_ids = array_append(array_remove(cohost_ids, $2), $2)
		where id = $1`,
		sessionID, participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to add cohost: %w", err)
	}

	return nil
}

func (r repo) RemoveCohost(ctx context.Context, sessionID string, participantID string) error {
	_, err := r.pool.Exec(ctx,
		`update sync_sessions set cohost_ids = array_remove(cohost_ids, $2) where id = $1`,
		sessionID, participantID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove cohost: %w", err)
	}

	return nil
}

func (r repo) GetCohostIDs(ctx context.Context, sessionID string) ([]string, error) {
	var ids []string
	err := r.pool.QueryRow(ctx,
		`select cohost_ids from sync_sessions where id = $1`,
		sessionID,
	).Scan(&ids)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrSessionNotFound
		}

		return nil, fmt.Errorf("failed to get cohost ids: %w", err)
	}

	return ids, nil
}

func (r repo) SetParticipant(ctx context.Context, params *directory.SetParticipantParams) error {
	_, err := r.pool.Exec(ctx, `
		insert into sync_participants (
			id, session_id, device_id, user_id, display_name,
			is_host, is_cohost, is_muted, role,
			latency_ms, status, joined_at, last_seen
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		on conflict (session_id, device_id) do update set
			display_name = excluded.display_name,
			status = excluded.status,
			last_seen = excluded.last_seen`,
		params.ParticipantID, params.SessionID, params.DeviceID, params.UserID, params.DisplayName,
		params.IsHost, params.IsCohost, params.IsMuted, params.Role,
		params.LatencyMs, params.Status, params.JoinedAt, params.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to set participant: %w", err)
	}

	return nil
}

func (r repo) GetParticipant(ctx context.Context, participantID string) (directory.Participant, error) {
	var p directory.Participant
	err := r.pool.QueryRow(ctx, `
		select id, session_id, device_id, user_id, display_name,
			is_host, is_cohost, is_muted, role,
			latency_ms, status, joined_at, last_seen
		from sync_participants where id = $1`,
		participantID,
	).Scan(
		&p.ID, &p.SessionID, &p.DeviceID, &p.UserID, &p.DisplayName,
		&p.IsHost, &p.IsCohost, &p.IsMuted, &p.Role,
		&p.LatencyMs, &p.Status, &p.JoinedAt, &p.LastSeen,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return directory.Participant{}, directory.ErrParticipantNotFound
		}

		return directory.Participant{}, fmt.Errorf("failed to get participant: %w", err)
	}

	return p, nil
}

func (r repo) ListParticipants(ctx context.Context, sessionID string) ([]directory.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		select id, session_id, device_id, user_id, display_name,
			is_host, is_cohost, is_muted, role,
			latency_ms, status, joined_at, last_seen
		from sync_participants where session_id = $1 order by joined_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []directory.Participant
	for rows.Next() {
		var p directory.Participant
		if err := rows.Scan(
			&p.ID, &p.SessionID, &p.DeviceID, &p.UserID, &p.DisplayName,
			&p.IsHost, &p.IsCohost, &p.IsMuted, &p.Role,
			&p.LatencyMs, &p.Status, &p.JoinedAt, &p.LastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}

		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (r repo) CountParticipants(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`select count(*) from sync_participants where session_id = $1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}

	return count, nil
}

func (r repo) RemoveParticipant(ctx context.Context, params *directory.RemoveParticipantParams) error {
	_, err := r.pool.Exec(ctx,
		`delete from sync_participants where id = $1 and session_id = $2`,
		params.ParticipantID, params.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	return nil
}

func (r repo) UpdateParticipantHeartbeat(ctx context.Context, params *directory.HeartbeatParams) error {
	_, err := r.pool.Exec(ctx,
		`update sync_participants set latency_ms = $2, status = $3, last_seen = $4 where id = $1`,
		params.ParticipantID, params.LatencyMs, params.Status, params.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant heartbeat: %w", err)
	}

	return nil
}

func (r repo) UpdateParticipantStatus(ctx context.Context, participantID string, status string) error {
	return r.updateParticipantField(ctx, participantID, "status", status)
}

func (r repo) UpdateParticipantIsHost(ctx context.Context, participantID string, isHost bool) error {
	return r.updateParticipantField(ctx, participantID, "is_host", isHost)
}

func (r repo) UpdateParticipantIsCohost(ctx context.Context, participantID string, isCohost bool) error {
	return r.updateParticipantField(ctx, participantID, "is_cohost", isCohost)
}

func (r repo) UpdateParticipantIsMuted(ctx context.Context, participantID string, isMuted bool) error {
	return r.updateParticipantField(ctx, participantID, "is_muted", isMuted)
}

func (r repo) updateParticipantField(ctx context.Context, participantID, field string, value any) error {
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`update sync_participants set %s = $2 where id = $1`, field),
		participantID, value,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant %s: %w", field, err)
	}

	if tag.RowsAffected() == 0 {
		return directory.ErrParticipantNotFound
	}

	return nil
}

func (r repo) AppendEvent(ctx context.Context, sessionID string, event domain.SyncEvent) error {
	_, err := r.pool.Exec(ctx,
		`insert into sync_events (session_id, body) values ($1, $2)`,
		sessionID, event,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Trimmed in a second statement: a CTE's delete shares the insert's
	// snapshot and would never see the row just written.
	_, err = r.pool.Exec(ctx, `
		delete from sync_events where session_id = $1 and seq not in (
			select seq from sync_events where session_id = $1
			order by seq desc limit $2
		)`,
		sessionID, eventLogLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to trim event log: %w", err)
	}

	return nil
}

func (r repo) RecentEvents(ctx context.Context, sessionID string, limit int) ([]domain.SyncEvent, error) {
	rows, err := r.pool.Query(ctx,
		`select body from sync_events where session_id = $1 order by seq desc limit $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}
	defer rows.Close()

	var events []domain.SyncEvent
	for rows.Next() {
		var event domain.SyncEvent
		if err := rows.Scan(&event); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func (r repo) AddQueueItem(ctx context.Context, params *directory.AddQueueItemParams) error {
	_, err := r.pool.Exec(ctx, `
		insert into sync_queue_items (
			id, session_id, track_id, track_title, track_artist,
			track_duration, track_source_url, added_by, added_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		params.ItemID, params.SessionID, params.TrackID, params.TrackTitle, params.TrackArtist,
		params.TrackDuration, params.TrackSourceURL, params.AddedBy, params.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add queue item: %w", err)
	}

	return nil
}

func (r repo) RemoveQueueItem(ctx context.Context, params *directory.RemoveQueueItemParams) error {
	tag, err := r.pool.Exec(ctx,
		`delete from sync_queue_items where id = $1 and session_id = $2`,
		params.ItemID, params.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return directory.ErrQueueItemNotFound
	}

	return nil
}

func (r repo) ClearQueue(ctx context.Context, sessionID string) error {
	_, err := r.pool.Exec(ctx,
		`delete from sync_queue_items where session_id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	return nil
}

func (r repo) GetQueue(ctx context.Context, sessionID string) ([]directory.QueueItem, error) {
	rows, err := r.pool.Query(ctx, `
		select id, track_id, track_title, track_artist, track_duration,
			track_source_url, added_by, added_at, voter_ids
		from sync_queue_items where session_id = $1 order by position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}
	defer rows.Close()

	var items []directory.QueueItem
	for rows.Next() {
		var item directory.QueueItem
		if err := rows.Scan(
			&item.ID, &item.TrackID, &item.TrackTitle, &item.TrackArtist, &item.TrackDuration,
			&item.TrackSourceURL, &item.AddedBy, &item.AddedAt, &item.VoterIDs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}

		item.Votes = len(item.VoterIDs)
		items = append(items, item)
	}

	return items, rows.Err()
}

func (r repo) AddVote(ctx context.Context, params *directory.AddVoteParams) (bool, int, error) {
	// Membership is checked in the update itself so a repeat vote touches no
	// row and added comes straight from RowsAffected.
	tag, err := r.pool.Exec(ctx, `
		update sync_queue_items
		set voter_ids = array_append(voter_ids, $3)
		where id = $1 and session_id = $2 and not voter_ids @> array[$3::text]`,
		params.ItemID, params.SessionID, params.VoterID,
	)
	if err != nil {
		return false, 0, fmt.Errorf("failed to add vote: %w", err)
	}

	var votes int
	err = r.pool.QueryRow(ctx,
		`select cardinality(voter_ids) from sync_queue_items where id = $1 and session_id = $2`,
		params.ItemID, params.SessionID,
	).Scan(&votes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, directory.ErrQueueItemNotFound
		}

		return false, 0, fmt.Errorf("failed to count votes: %w", err)
	}

	return tag.RowsAffected() > 0, votes, nil
}

func (r repo) PromoteQueueItem(ctx context.Context, params *directory.PromoteQueueItemParams) error {
	tag, err := r.pool.Exec(ctx, `
		update sync_queue_items
		set position = (select min(position) - 1 from sync_queue_items where session_id = $2)
		where id = $1 and session_id = $2`,
		params.ItemID, params.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to promote queue item: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return directory.ErrQueueItemNotFound
	}

	return nil
}

func (r repo) AppendChatMessage(ctx context.Context, sessionID string, message domain.ChatMessage) error {
	_, err := r.pool.Exec(ctx,
		`insert into sync_chat_messages (session_id, body) values ($1, $2)`,
		sessionID, message,
	)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		delete from sync_chat_messages where session_id = $1 and seq not in (
			select seq from sync_chat_messages where session_id = $1
			order by seq desc limit $2
		)`,
		sessionID, chatLogLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to trim chat log: %w", err)
	}

	return nil
}

func (r repo) RecentChat(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, `
		select body from (
			select seq, body from sync_chat_messages
			where session_id = $1 order by seq desc limit $2
		) recent order by seq`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent chat: %w", err)
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		var message domain.ChatMessage
		if err := rows.Scan(&message); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}

		messages = append(messages, message)
	}

	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
