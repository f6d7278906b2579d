package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

// CreateSession starts hosting a new session around the given track and
// returns the sync key other listeners join with. The creator becomes host
// and playback starts paused at position zero.
func (c *coordinator) CreateSession(ctx context.Context, track domain.TrackRef, opts CreateSessionOpts) (string, error) {
	if c.cfg.DeviceID == "" {
		return "", ErrNotAuthenticated
	}
	if track.IsZero() {
		return "", ErrTrackRequired
	}

	c.mu.Lock()
	if c.st != nil {
		c.mu.Unlock()
		return "", ErrAlreadyInSession
	}
	c.mu.Unlock()

	if err := c.est.Refresh(ctx); err != nil {
		c.logger.Warn("initial latency probe failed, using default", "error", err)
	}

	if opts.VotingPolicy == "" {
		opts.VotingPolicy = domain.VotingPolicyMajority
	}

	sessionID := uuid.NewString()
	participantID := uuid.NewString()
	now := c.est.AuthoritativeNow().UnixMilli()

	var key string
	for attempt := 0; ; attempt++ {
		key = c.keygen.Generate()
		err := c.dir.CreateSession(ctx, &directory.CreateSessionParams{
			SessionID:         sessionID,
			SyncKey:           key,
			HostParticipantID: participantID,
			TrackID:           track.ID,
			TrackTitle:        track.Title,
			TrackArtist:       track.Artist,
			TrackDuration:     track.Duration,
			TrackSourceURL:    track.SourceURL,
			VotingPolicy:      string(opts.VotingPolicy),
			CreatedAt:         now,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, directory.ErrSyncKeyTaken) || attempt+1 >= syncKeyAttempts {
			return "", fmt.Errorf("failed to create session: %w", err)
		}
	}

	if opts.IsLocked {
		if err := c.dir.UpdateSessionLocked(ctx, sessionID, true); err != nil {
			return "", fmt.Errorf("failed to lock session: %w", err)
		}
	}

	if err := c.dir.SetParticipant(ctx, &directory.SetParticipantParams{
		ParticipantID: participantID,
		SessionID:     sessionID,
		DeviceID:      c.cfg.DeviceID,
		UserID:        c.cfg.UserID,
		DisplayName:   c.cfg.DisplayName,
		IsHost:        true,
		Role:          string(domain.RoleController),
		LatencyMs:     float64(c.est.Latency().Milliseconds()),
		Status:        string(domain.ParticipantStatusConnected),
		JoinedAt:      now,
		LastSeen:      now,
	}); err != nil {
		return "", fmt.Errorf("failed to register host participant: %w", err)
	}

	if err := c.ch.Subscribe(ctx, sessionID, c.handleEvent); err != nil {
		return "", fmt.Errorf("failed to subscribe to session channel: %w", err)
	}

	c.mu.Lock()
	c.st = &state{
		sessionID:     sessionID,
		syncKey:       key,
		participantID: participantID,
		isHost:        true,
		hostID:        participantID,
		cohostIDs:     map[string]struct{}{},
		track:         track,
		isLocked:      opts.IsLocked,
		votingPolicy:  opts.VotingPolicy,
		status:        domain.SessionStatusActive,
		participants: map[string]ParticipantView{
			participantID: {
				ID:          participantID,
				DeviceID:    c.cfg.DeviceID,
				DisplayName: c.cfg.DisplayName,
				IsHost:      true,
				LatencyMs:   float64(c.est.Latency().Milliseconds()),
				Status:      domain.ParticipantStatusConnected,
			},
		},
	}
	c.startTasksLocked()
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info("session created", "session_id", sessionID, "sync_key", key)

	return key, nil
}

// JoinSession joins an existing session by sync key. The key is normalized
// before lookup, so case and surrounding whitespace do not matter. On success
// local playback has already been snapped to the host's projected position.
func (c *coordinator) JoinSession(ctx context.Context, rawKey string) error {
	if c.cfg.DeviceID == "" {
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.st != nil {
		c.mu.Unlock()
		return ErrAlreadyInSession
	}
	c.mu.Unlock()

	key := c.normalizeKey(rawKey)
	if key == "" {
		return ErrSessionNotFound
	}

	if err := c.est.Refresh(ctx); err != nil {
		c.logger.Warn("initial latency probe failed, using default", "error", err)
	}

	sessionID, err := c.dir.GetSessionIDBySyncKey(ctx, key)
	if err != nil {
		if errors.Is(err, directory.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to resolve sync key: %w", err)
	}

	// Cutoff for the post-subscribe event replay, taken before the session
	// snapshot read so nothing broadcast in between is missed.
	joinStart := c.est.AuthoritativeNow().UnixMilli()

	sess, err := c.dir.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, directory.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sess.Status != string(domain.SessionStatusActive) {
		return ErrSessionEnded
	}

	// One seat per device: a crashed or superseded client on this device may
	// have left a row behind. Evict it before the capacity check so a rejoin
	// neither duplicates the device nor counts against the limit twice.
	stale, err := c.dir.ListParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list participants: %w", err)
	}
	for _, p := range stale {
		if p.DeviceID != c.cfg.DeviceID {
			continue
		}
		if err := c.dir.RemoveParticipant(ctx, &directory.RemoveParticipantParams{
			ParticipantID: p.ID,
			SessionID:     sessionID,
		}); err != nil {
			return fmt.Errorf("failed to evict stale participant: %w", err)
		}
	}

	count, err := c.dir.CountParticipants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to count participants: %w", err)
	}
	if count >= c.cfg.MembersLimit {
		return ErrSessionFull
	}

	participantID := uuid.NewString()
	now := c.est.AuthoritativeNow().UnixMilli()

	if err := c.dir.SetParticipant(ctx, &directory.SetParticipantParams{
		ParticipantID: participantID,
		SessionID:     sessionID,
		DeviceID:      c.cfg.DeviceID,
		UserID:        c.cfg.UserID,
		DisplayName:   c.cfg.DisplayName,
		Role:          string(domain.RoleListener),
		LatencyMs:     float64(c.est.Latency().Milliseconds()),
		Status:        string(domain.ParticipantStatusSyncing),
		JoinedAt:      now,
		LastSeen:      now,
	}); err != nil {
		return fmt.Errorf("failed to register participant: %w", err)
	}

	if err := c.ch.Subscribe(ctx, sessionID, c.handleEvent); err != nil {
		_ = c.dir.RemoveParticipant(ctx, &directory.RemoveParticipantParams{
			ParticipantID: participantID,
			SessionID:     sessionID,
		})
		return fmt.Errorf("failed to subscribe to session channel: %w", err)
	}

	cohostIDs, err := c.dir.GetCohostIDs(ctx, sessionID)
	if err != nil {
		c.logger.Warn("failed to load cohosts on join", "error", err)
	}
	cohosts := make(map[string]struct{}, len(cohostIDs))
	for _, id := range cohostIDs {
		cohosts[id] = struct{}{}
	}

	queue, err := c.loadQueue(ctx, sessionID)
	if err != nil {
		c.logger.Warn("failed to load queue on join", "error", err)
	}

	chat, err := c.dir.RecentChat(ctx, sessionID, c.cfg.ChatLimit)
	if err != nil {
		c.logger.Warn("failed to load chat on join", "error", err)
	}

	participants := map[string]ParticipantView{}
	if rows, err := c.dir.ListParticipants(ctx, sessionID); err == nil {
		for _, p := range rows {
			participants[p.ID] = participantView(p)
		}
	} else {
		c.logger.Warn("failed to list participants on join", "error", err)
	}

	track := domain.TrackRef{
		ID:        sess.TrackID,
		Title:     sess.TrackTitle,
		Artist:    sess.TrackArtist,
		Duration:  sess.TrackDuration,
		SourceURL: sess.TrackSourceURL,
	}

	c.mu.Lock()
	c.st = &state{
		sessionID:      sessionID,
		syncKey:        key,
		participantID:  participantID,
		hostID:         sess.HostParticipantID,
		cohostIDs:      cohosts,
		track:          track,
		startTimestamp: sess.StartTimestamp,
		currentPos:     sess.CurrentPosition,
		isPlaying:      sess.IsPlaying,
		isLocked:       sess.IsLocked,
		votingPolicy:   domain.VotingPolicy(sess.VotingPolicy),
		status:         domain.SessionStatus(sess.Status),
		participants:   participants,
		queue:          queue,
		chat:           chat,
	}
	c.mu.Unlock()

	// Replay what was broadcast between the session snapshot read and the
	// subscription taking effect. Transport events carry absolute state, so
	// applying one that the snapshot already reflected changes nothing.
	if events, err := c.dir.RecentEvents(ctx, sessionID, joinReplayEvents); err != nil {
		c.logger.Warn("failed to replay recent events", "error", err)
	} else {
		// newest-first from the directory
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Timestamp >= joinStart {
				c.handleEvent(events[i])
			}
		}
	}

	c.mu.Lock()
	if c.st == nil || c.st.status != domain.SessionStatusActive {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	track = c.st.track
	playing := c.st.isPlaying
	c.mu.Unlock()

	// Catch-up seek: uncapped, since the gap at join can be minutes.
	if !track.IsZero() {
		if err := c.player.Play(track); err != nil {
			c.logger.Warn("failed to start playback on join", "error", err)
		} else {
			if err := c.corrector.CatchUp(); err != nil {
				c.logger.Warn("failed to seek on join", "error", err)
			}
			if !playing {
				if err := c.player.Pause(); err != nil {
					c.logger.Warn("failed to pause on join", "error", err)
				}
			}
		}
	}

	if err := c.dir.UpdateParticipantStatus(ctx, participantID, string(domain.ParticipantStatusConnected)); err != nil {
		c.logger.Warn("failed to mark participant connected", "error", err)
	}

	c.mu.Lock()
	if c.st != nil {
		if p, ok := c.st.participants[participantID]; ok {
			p.Status = domain.ParticipantStatusConnected
			c.st.participants[participantID] = p
		} else {
			c.st.participants[participantID] = ParticipantView{
				ID:          participantID,
				DeviceID:    c.cfg.DeviceID,
				DisplayName: c.cfg.DisplayName,
				Status:      domain.ParticipantStatusConnected,
			}
		}
		c.startTasksLocked()
		c.notifyLocked()
	}
	c.mu.Unlock()

	c.logger.Info("session joined", "session_id", sessionID, "sync_key", key)

	return nil
}

// LeaveSession tears down the local session: background tasks stop, the
// channel subscription closes, and the participant row is removed. Calling it
// while not in a session is a no-op.
func (c *coordinator) LeaveSession(ctx context.Context) error {
	c.mu.Lock()
	st := c.st
	cancel := c.runCancel
	c.st = nil
	c.runCancel = nil
	c.mu.Unlock()

	if st == nil {
		return nil
	}

	// Cancel and drain outside the lock: task callbacks take c.mu, and the
	// channel reader goroutine must be free to exit before Unsubscribe
	// returns.
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	if err := c.player.Stop(); err != nil {
		c.logger.Warn("failed to stop playback on leave", "error", err)
	}

	if err := c.ch.Unsubscribe(ctx, st.sessionID); err != nil {
		c.logger.Warn("failed to unsubscribe from session channel", "error", err)
	}

	if err := c.dir.RemoveParticipant(ctx, &directory.RemoveParticipantParams{
		ParticipantID: st.participantID,
		SessionID:     st.sessionID,
	}); err != nil {
		c.logger.Warn("failed to remove participant", "error", err)
	}

	c.mu.Lock()
	c.notifyLocked()
	c.mu.Unlock()

	c.logger.Info("session left", "session_id", st.sessionID)

	return nil
}

// EndSession ends the session for everyone. Host only; a non-host call is a
// silent no-op.
func (c *coordinator) EndSession(ctx context.Context) error {
	c.mu.Lock()
	if c.st == nil || !c.st.isHost {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.st.sessionID
	c.st.status = domain.SessionStatusEnded
	c.mu.Unlock()

	if err := c.dir.EndSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	event := c.newEvent(sessionID, domain.EventStop)
	event.Payload = map[string]any{"session_ended": true}
	c.emit(ctx, sessionID, event)

	return c.LeaveSession(ctx)
}
