package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synclisten/server/internal/channel/redispubsub"
	"github.com/synclisten/server/internal/directory"
	redisdir "github.com/synclisten/server/internal/directory/redis"
	"github.com/synclisten/server/internal/domain"
	"github.com/synclisten/server/internal/player/memory"
)

const waitFor = 3 * time.Second

var testTrack = domain.TrackRef{
	ID:       "track-1",
	Title:    "Windowlicker",
	Artist:   "Aphex Twin",
	Duration: 368,
}

type rig struct {
	co  *coordinator
	dir iDirectory
	rc  *redis.Client
}

func newRig(t *testing.T, mr *miniredis.Miniredis, deviceID, name string, tweak func(*Config)) *rig {
	t.Helper()

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := redisdir.NewRepo(rc, time.Hour)
	ch := redispubsub.New(rc, logger)
	player := memory.NewPlayer(clockwork.NewRealClock())

	cfg := Config{
		DeviceID:          deviceID,
		UserID:            "user-" + deviceID,
		DisplayName:       name,
		HeartbeatInterval: 100 * time.Millisecond,
		DriftInterval:     100 * time.Millisecond,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	co := NewCoordinator(dir, ch, player, clockwork.NewRealClock(), &cfg, logger)
	t.Cleanup(func() { co.LeaveSession(context.Background()) })

	return &rig{co: co, dir: dir, rc: rc}
}

func TestCreateSession(t *testing.T) {
	t.Run("returns a valid sync key and registers the host", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		require.Len(t, key, 9)

		snap := host.co.Snapshot()
		assert.True(t, snap.InSession)
		assert.True(t, snap.IsHost)
		assert.Equal(t, key, snap.SyncKey)
		assert.False(t, snap.IsPlaying)
		assert.Equal(t, testTrack, snap.Track)

		sessionID, err := host.dir.GetSessionIDBySyncKey(context.Background(), key)
		require.NoError(t, err)
		sess, err := host.dir.GetSession(context.Background(), sessionID)
		require.NoError(t, err)
		assert.Equal(t, string(domain.SessionStatusActive), sess.Status)
		assert.Equal(t, string(domain.VotingPolicyMajority), sess.VotingPolicy)
	})

	t.Run("requires a device identity", func(t *testing.T) {
		mr := miniredis.RunT(t)
		anon := newRig(t, mr, "", "nobody", nil)

		_, err := anon.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("requires a track", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)

		_, err := host.co.CreateSession(context.Background(), domain.TrackRef{}, CreateSessionOpts{})
		assert.ErrorIs(t, err, ErrTrackRequired)
	})

	t.Run("rejects a second session", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)

		_, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)

		_, err = host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		assert.ErrorIs(t, err, ErrAlreadyInSession)
	})
}

func TestJoinSession(t *testing.T) {
	t.Run("normalizes the sync key", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)

		require.NoError(t, guest.co.JoinSession(context.Background(), "  "+strings.ToLower(key)+"  "))

		snap := guest.co.Snapshot()
		assert.True(t, snap.InSession)
		assert.False(t, snap.IsHost)
		assert.Equal(t, key, snap.SyncKey)
		assert.Equal(t, testTrack, snap.Track)
	})

	t.Run("unknown key", func(t *testing.T) {
		mr := miniredis.RunT(t)
		guest := newRig(t, mr, "device-b", "bob", nil)

		err := guest.co.JoinSession(context.Background(), "ZZ-ZZZZZZ")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("malformed key", func(t *testing.T) {
		mr := miniredis.RunT(t)
		guest := newRig(t, mr, "device-b", "bob", nil)

		err := guest.co.JoinSession(context.Background(), "not a key")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("ended session", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		require.NoError(t, host.co.EndSession(context.Background()))

		// the key is released on end, so the guest sees not-found
		_, err = host.dir.GetSessionIDBySyncKey(context.Background(), key)
		assert.ErrorIs(t, err, directory.ErrSessionNotFound)

		err = guest.co.JoinSession(context.Background(), key)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("full session", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", func(cfg *Config) {
			cfg.MembersLimit = 3
		})

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		sessionID := host.co.Snapshot().SessionID

		for i := 0; i < 2; i++ {
			require.NoError(t, host.dir.SetParticipant(context.Background(), &directory.SetParticipantParams{
				ParticipantID: uuid.NewString(),
				SessionID:     sessionID,
				DeviceID:      fmt.Sprintf("filler-%d", i),
				DisplayName:   fmt.Sprintf("filler %d", i),
				Role:          string(domain.RoleListener),
				Status:        string(domain.ParticipantStatusConnected),
			}))
		}

		err = guest.co.JoinSession(context.Background(), key)
		assert.ErrorIs(t, err, ErrSessionFull)
		assert.False(t, guest.co.Snapshot().InSession)
	})
}

func TestTransport(t *testing.T) {
	t.Run("pause propagates the exact position", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		require.NoError(t, host.co.BroadcastPlay(context.Background()))
		require.NoError(t, guest.co.JoinSession(context.Background(), key))

		require.NoError(t, host.co.BroadcastPause(context.Background(), 42))

		hostSnap := host.co.Snapshot()
		assert.False(t, hostSnap.IsPlaying)
		assert.Equal(t, float64(42), hostSnap.Position)
		assert.Zero(t, hostSnap.StartTimestamp)

		require.Eventually(t, func() bool {
			snap := guest.co.Snapshot()
			return snap.InSession && !snap.IsPlaying && snap.Position == 42
		}, waitFor, 10*time.Millisecond)

		sess, err := host.dir.GetSession(context.Background(), hostSnap.SessionID)
		require.NoError(t, err)
		assert.False(t, sess.IsPlaying)
		assert.Equal(t, float64(42), sess.CurrentPosition)
		assert.Zero(t, sess.StartTimestamp)
	})

	t.Run("locked session ignores non-host transport calls", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{IsLocked: true})
		require.NoError(t, err)
		require.NoError(t, host.co.BroadcastPlay(context.Background()))
		require.NoError(t, guest.co.JoinSession(context.Background(), key))

		require.NoError(t, guest.co.BroadcastPause(context.Background(), 5))
		require.NoError(t, guest.co.BroadcastSeek(context.Background(), 99))

		sess, err := host.dir.GetSession(context.Background(), host.co.Snapshot().SessionID)
		require.NoError(t, err)
		assert.True(t, sess.IsPlaying)
		assert.NotEqual(t, float64(99), sess.CurrentPosition)

		// a cohost regains control
		guestID := guest.co.Snapshot().ParticipantID
		require.NoError(t, host.co.AddCohost(context.Background(), guestID))
		require.Eventually(t, func() bool {
			return guest.co.Snapshot().IsCohost
		}, waitFor, 10*time.Millisecond)

		require.NoError(t, guest.co.BroadcastPause(context.Background(), 7))
		sess, err = host.dir.GetSession(context.Background(), sess.ID)
		require.NoError(t, err)
		assert.False(t, sess.IsPlaying)
		assert.Equal(t, float64(7), sess.CurrentPosition)
	})

	t.Run("lock and unlock at runtime", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		require.NoError(t, host.co.BroadcastPlay(context.Background()))
		require.NoError(t, guest.co.JoinSession(context.Background(), key))

		// only the host may lock
		require.NoError(t, guest.co.LockSession(context.Background()))
		assert.False(t, host.co.Snapshot().IsLocked)

		require.NoError(t, host.co.LockSession(context.Background()))
		require.Eventually(t, func() bool {
			return guest.co.Snapshot().IsLocked
		}, waitFor, 10*time.Millisecond)

		require.NoError(t, guest.co.BroadcastPause(context.Background(), 5))
		sess, err := host.dir.GetSession(context.Background(), host.co.Snapshot().SessionID)
		require.NoError(t, err)
		assert.True(t, sess.IsPlaying)

		require.NoError(t, host.co.UnlockSession(context.Background()))
		require.Eventually(t, func() bool {
			return !guest.co.Snapshot().IsLocked
		}, waitFor, 10*time.Millisecond)

		require.NoError(t, guest.co.BroadcastPause(context.Background(), 5))
		sess, err = host.dir.GetSession(context.Background(), sess.ID)
		require.NoError(t, err)
		assert.False(t, sess.IsPlaying)
		assert.Equal(t, float64(5), sess.CurrentPosition)
	})

	t.Run("song change restarts everyone from zero", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		require.NoError(t, guest.co.JoinSession(context.Background(), key))

		next := domain.TrackRef{ID: "track-2", Title: "Flim", Artist: "Aphex Twin", Duration: 177}
		require.NoError(t, host.co.BroadcastSongChange(context.Background(), next))

		require.Eventually(t, func() bool {
			snap := guest.co.Snapshot()
			return snap.Track.ID == "track-2" && snap.IsPlaying
		}, waitFor, 10*time.Millisecond)
	})
}

func TestSelfEcho(t *testing.T) {
	mr := miniredis.RunT(t)
	host := newRig(t, mr, "device-a", "alice", nil)
	guest := newRig(t, mr, "device-b", "bob", nil)

	key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
	require.NoError(t, err)
	require.NoError(t, guest.co.JoinSession(context.Background(), key))

	require.NoError(t, host.co.SendChatMessage(context.Background(), "hello"))

	require.Eventually(t, func() bool {
		return len(guest.co.Snapshot().Chat) == 1
	}, waitFor, 10*time.Millisecond)

	// the fan-out includes the sender; the echo must not duplicate the entry
	time.Sleep(100 * time.Millisecond)
	chat := host.co.Snapshot().Chat
	require.Len(t, chat, 1)
	assert.Equal(t, "hello", chat[0].Text)
}

func TestVoting(t *testing.T) {
	t.Run("votes are idempotent per participant", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)

		_, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)

		require.NoError(t, host.co.AddToQueue(context.Background(), domain.TrackRef{ID: "q1", Title: "Xtal"}))
		itemID := host.co.Snapshot().Queue[0].ID

		require.NoError(t, host.co.VoteForSong(context.Background(), itemID))
		require.NoError(t, host.co.VoteForSong(context.Background(), itemID))

		queue, err := host.dir.GetQueue(context.Background(), host.co.Snapshot().SessionID)
		require.NoError(t, err)
		require.Len(t, queue, 1)
		assert.Equal(t, 1, queue[0].Votes)
	})

	t.Run("majority vote promotes the item", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)

		_, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)

		require.NoError(t, host.co.AddToQueue(context.Background(), domain.TrackRef{ID: "q1", Title: "Xtal"}))
		require.NoError(t, host.co.AddToQueue(context.Background(), domain.TrackRef{ID: "q2", Title: "Tha"}))

		second := host.co.Snapshot().Queue[1].ID
		// one connected participant: a single vote is a majority
		require.NoError(t, host.co.VoteForSong(context.Background(), second))

		snap := host.co.Snapshot()
		require.Len(t, snap.Queue, 2)
		assert.Equal(t, second, snap.Queue[0].ID)

		queue, err := host.dir.GetQueue(context.Background(), snap.SessionID)
		require.NoError(t, err)
		assert.Equal(t, second, queue[0].ID)
	})
}

func TestChatLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	host := newRig(t, mr, "device-a", "alice", nil)

	_, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
	require.NoError(t, err)

	for i := 0; i < 110; i++ {
		require.NoError(t, host.co.SendChatMessage(context.Background(), fmt.Sprintf("message %d", i)))
	}

	snap := host.co.Snapshot()
	require.Len(t, snap.Chat, 100)
	assert.Equal(t, "message 10", snap.Chat[0].Text)
	assert.Equal(t, "message 109", snap.Chat[99].Text)

	stored, err := host.dir.RecentChat(context.Background(), snap.SessionID, 200)
	require.NoError(t, err)
	assert.Len(t, stored, 100)
}

func TestMutedParticipantCannotChat(t *testing.T) {
	mr := miniredis.RunT(t)
	host := newRig(t, mr, "device-a", "alice", nil)
	guest := newRig(t, mr, "device-b", "bob", nil)

	key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
	require.NoError(t, err)
	require.NoError(t, guest.co.JoinSession(context.Background(), key))

	guestID := guest.co.Snapshot().ParticipantID
	require.NoError(t, host.co.MuteMember(context.Background(), guestID))

	require.Eventually(t, func() bool {
		for _, p := range guest.co.Snapshot().Participants {
			if p.ID == guestID && p.IsMuted {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, guest.co.SendChatMessage(context.Background(), "muted"))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, host.co.Snapshot().Chat)
}

func TestEndSession(t *testing.T) {
	t.Run("host ends for everyone", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		require.NoError(t, guest.co.JoinSession(context.Background(), key))

		require.NoError(t, host.co.EndSession(context.Background()))
		assert.False(t, host.co.Snapshot().InSession)

		require.Eventually(t, func() bool {
			return !guest.co.Snapshot().InSession
		}, waitFor, 10*time.Millisecond)
	})

	t.Run("non-host end is a no-op", func(t *testing.T) {
		mr := miniredis.RunT(t)
		host := newRig(t, mr, "device-a", "alice", nil)
		guest := newRig(t, mr, "device-b", "bob", nil)

		key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
		require.NoError(t, err)
		require.NoError(t, guest.co.JoinSession(context.Background(), key))

		require.NoError(t, guest.co.EndSession(context.Background()))

		assert.True(t, guest.co.Snapshot().InSession)
		sess, err := host.dir.GetSession(context.Background(), host.co.Snapshot().SessionID)
		require.NoError(t, err)
		assert.Equal(t, string(domain.SessionStatusActive), sess.Status)
	})
}

func TestKickMember(t *testing.T) {
	mr := miniredis.RunT(t)
	host := newRig(t, mr, "device-a", "alice", nil)
	guest := newRig(t, mr, "device-b", "bob", nil)

	key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
	require.NoError(t, err)
	require.NoError(t, guest.co.JoinSession(context.Background(), key))

	guestID := guest.co.Snapshot().ParticipantID
	require.NoError(t, host.co.KickMember(context.Background(), guestID))

	require.Eventually(t, func() bool {
		return !guest.co.Snapshot().InSession
	}, waitFor, 10*time.Millisecond)

	count, err := host.dir.CountParticipants(context.Background(), host.co.Snapshot().SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHostTransfer(t *testing.T) {
	mr := miniredis.RunT(t)
	host := newRig(t, mr, "device-a", "alice", nil)
	guest := newRig(t, mr, "device-b", "bob", nil)

	key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
	require.NoError(t, err)
	require.NoError(t, guest.co.JoinSession(context.Background(), key))

	guestID := guest.co.Snapshot().ParticipantID

	// the host learns of the guest through the heartbeat peer view
	require.Eventually(t, func() bool {
		for _, p := range host.co.Snapshot().Participants {
			if p.ID == guestID {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)

	require.NoError(t, host.co.TransferHost(context.Background(), guestID))

	assert.False(t, host.co.Snapshot().IsHost)
	require.Eventually(t, func() bool {
		return guest.co.Snapshot().IsHost
	}, waitFor, 10*time.Millisecond)

	sess, err := host.dir.GetSession(context.Background(), host.co.Snapshot().SessionID)
	require.NoError(t, err)
	assert.Equal(t, guestID, sess.HostParticipantID)
}

func TestRejoinSameDevice(t *testing.T) {
	mr := miniredis.RunT(t)
	host := newRig(t, mr, "device-a", "alice", nil)
	first := newRig(t, mr, "device-b", "bob", nil)
	second := newRig(t, mr, "device-b", "bob", nil)

	key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
	require.NoError(t, err)
	require.NoError(t, first.co.JoinSession(context.Background(), key))

	// a second client on the same device takes over the device's seat
	require.NoError(t, second.co.JoinSession(context.Background(), key))

	sessionID := host.co.Snapshot().SessionID
	rows, err := host.dir.ListParticipants(context.Background(), sessionID)
	require.NoError(t, err)

	devices := map[string]int{}
	for _, p := range rows {
		devices[p.DeviceID]++
	}
	assert.Equal(t, 1, devices["device-a"])
	assert.Equal(t, 1, devices["device-b"])

	count, err := host.dir.CountParticipants(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = host.dir.GetParticipant(context.Background(), second.co.Snapshot().ParticipantID)
	assert.NoError(t, err)
}

func TestJoinReplaysRecentEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	host := newRig(t, mr, "device-a", "alice", nil)
	guest := newRig(t, mr, "device-b", "bob", nil)

	key, err := host.co.CreateSession(context.Background(), testTrack, CreateSessionOpts{})
	require.NoError(t, err)
	sessionID := host.co.Snapshot().SessionID

	// An event logged after the joiner's snapshot read but before its
	// subscription takes effect must still reach it, via the directory's
	// event log rather than the channel.
	pos := 99.0
	require.NoError(t, host.dir.AppendEvent(context.Background(), sessionID, domain.SyncEvent{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		Type:           domain.EventSeek,
		Timestamp:      time.Now().Add(time.Second).UnixMilli(),
		Position:       &pos,
		SenderDeviceID: "device-a",
	}))

	require.NoError(t, guest.co.JoinSession(context.Background(), key))
	assert.Equal(t, 99.0, guest.co.Snapshot().Position)
}
