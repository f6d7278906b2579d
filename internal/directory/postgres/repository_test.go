package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

// newTestRepo connects to the database named by POSTGRES_TEST_DSN and makes
// sure the tables the tests touch exist. Without the variable the tests skip.
func newTestRepo(t *testing.T) *repo {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN is not set")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	for _, stmt := range []string{
		`create table if not exists sync_queue_items (
			id text primary key,
			session_id text not null,
			position serial,
			track_id text not null,
			track_title text not null default '',
			track_artist text not null default '',
			track_duration double precision not null default 0,
			track_source_url text not null default '',
			added_by text not null,
			added_at bigint not null,
			voter_ids text[] not null default '{}'
		)`,
		`create table if not exists sync_events (
			seq bigserial primary key,
			session_id text not null,
			body jsonb not null
		)`,
		`create table if not exists sync_chat_messages (
			seq bigserial primary key,
			session_id text not null,
			body jsonb not null
		)`,
	} {
		_, err := pool.Exec(context.Background(), stmt)
		require.NoError(t, err)
	}

	return NewRepo(pool)
}

func addTestQueueItem(t *testing.T, r *repo, sessionID, itemID string) {
	t.Helper()

	require.NoError(t, r.AddQueueItem(context.Background(), &directory.AddQueueItemParams{
		ItemID:     itemID,
		SessionID:  sessionID,
		TrackID:    "track-1",
		TrackTitle: "Avril 14th",
		AddedBy:    "p1",
		AddedAt:    1700000000000,
	}))
}

func TestAddVote(t *testing.T) {
	t.Run("repeat vote is a no-op", func(t *testing.T) {
		r := newTestRepo(t)
		sessionID := uuid.NewString()
		addTestQueueItem(t, r, sessionID, "q1")

		added, votes, err := r.AddVote(context.Background(), &directory.AddVoteParams{
			ItemID: "q1", SessionID: sessionID, VoterID: "voter-a",
		})
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, 1, votes)

		added, votes, err = r.AddVote(context.Background(), &directory.AddVoteParams{
			ItemID: "q1", SessionID: sessionID, VoterID: "voter-a",
		})
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, 1, votes)

		added, votes, err = r.AddVote(context.Background(), &directory.AddVoteParams{
			ItemID: "q1", SessionID: sessionID, VoterID: "voter-b",
		})
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, 2, votes)

		items, err := r.GetQueue(context.Background(), sessionID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.ElementsMatch(t, []string{"voter-a", "voter-b"}, items[0].VoterIDs)
	})

	t.Run("missing item", func(t *testing.T) {
		r := newTestRepo(t)

		_, _, err := r.AddVote(context.Background(), &directory.AddVoteParams{
			ItemID: "nope", SessionID: uuid.NewString(), VoterID: "voter-a",
		})
		assert.ErrorIs(t, err, directory.ErrQueueItemNotFound)
	})
}

func TestEventLogTrim(t *testing.T) {
	r := newTestRepo(t)
	sessionID := uuid.NewString()

	for i := 0; i < eventLogLimit+10; i++ {
		require.NoError(t, r.AppendEvent(context.Background(), sessionID, domain.SyncEvent{
			ID:        fmt.Sprintf("event-%d", i),
			SessionID: sessionID,
			Type:      domain.EventSeek,
			Timestamp: int64(1700000000000 + i),
		}))
	}

	events, err := r.RecentEvents(context.Background(), sessionID, eventLogLimit+10)
	require.NoError(t, err)
	require.Len(t, events, eventLogLimit)
	assert.Equal(t, fmt.Sprintf("event-%d", eventLogLimit+9), events[0].ID)
}

func TestChatLogTrim(t *testing.T) {
	r := newTestRepo(t)
	sessionID := uuid.NewString()

	for i := 0; i < chatLogLimit+20; i++ {
		require.NoError(t, r.AppendChatMessage(context.Background(), sessionID, domain.ChatMessage{
			ID:       fmt.Sprintf("msg-%d", i),
			SenderID: "p1",
			Text:     fmt.Sprintf("message %d", i),
			Type:     domain.ChatMessageTypeText,
		}))
	}

	messages, err := r.RecentChat(context.Background(), sessionID, chatLogLimit+20)
	require.NoError(t, err)
	require.Len(t, messages, chatLogLimit)
	assert.Equal(t, "msg-20", messages[0].ID)
	assert.Equal(t, fmt.Sprintf("msg-%d", chatLogLimit+19), messages[len(messages)-1].ID)
}
