package session

import (
	"context"
	"fmt"

	"github.com/synclisten/server/internal/directory"
	"github.com/synclisten/server/internal/domain"
)

// Transport operations follow one shape: check control, persist the new
// transport state to the directory, apply it to the local player, then emit
// the event. Peers converge from the event; late joiners from the directory.
// A caller without control gets a silent no-op, matching how a disabled
// control surface behaves.

func (c *coordinator) BroadcastPlay(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.canControlLocked() || c.st.isPlaying {
		return nil
	}

	now := c.est.AuthoritativeNow().UnixMilli()
	if err := c.updateTransportLocked(ctx, c.st.track, now, c.st.currentPos, true); err != nil {
		return err
	}

	if err := c.player.Resume(); err != nil {
		c.logger.Warn("failed to resume local playback", "error", err)
	}

	event := c.newEvent(c.st.sessionID, domain.EventPlay)
	pos := c.st.currentPos
	event.Position = &pos
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

// BroadcastPause freezes the transport at the given position. The position
// comes from the caller's player, which is the authority while it controls
// the transport.
func (c *coordinator) BroadcastPause(ctx context.Context, position float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.canControlLocked() || !c.st.isPlaying {
		return nil
	}

	if err := c.updateTransportLocked(ctx, c.st.track, 0, position, false); err != nil {
		return err
	}

	if err := c.player.Pause(); err != nil {
		c.logger.Warn("failed to pause local playback", "error", err)
	}
	if err := c.player.Seek(position); err != nil {
		c.logger.Warn("failed to align local position", "error", err)
	}

	event := c.newEvent(c.st.sessionID, domain.EventPause)
	event.Position = &position
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

func (c *coordinator) BroadcastSeek(ctx context.Context, position float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.canControlLocked() {
		return nil
	}
	if position < 0 {
		position = 0
	}

	start := int64(0)
	if c.st.isPlaying {
		start = c.est.AuthoritativeNow().UnixMilli()
	}
	if err := c.updateTransportLocked(ctx, c.st.track, start, position, c.st.isPlaying); err != nil {
		return err
	}

	if err := c.player.Seek(position); err != nil {
		c.logger.Warn("failed to seek local playback", "error", err)
	}

	event := c.newEvent(c.st.sessionID, domain.EventSeek)
	event.Position = &position
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

// BroadcastSongChange swaps the current track and starts it playing from the
// beginning.
func (c *coordinator) BroadcastSongChange(ctx context.Context, track domain.TrackRef) error {
	if track.IsZero() {
		return ErrTrackRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.canControlLocked() {
		return nil
	}

	now := c.est.AuthoritativeNow().UnixMilli()
	if err := c.updateTransportLocked(ctx, track, now, 0, true); err != nil {
		return err
	}

	if err := c.player.Play(track); err != nil {
		c.logger.Warn("failed to start local playback", "error", err)
	}

	event := c.newEvent(c.st.sessionID, domain.EventSongChange)
	t := track
	event.Track = &t
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

func (c *coordinator) BroadcastStop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.st == nil || !c.canControlLocked() {
		return nil
	}

	if err := c.updateTransportLocked(ctx, c.st.track, 0, 0, false); err != nil {
		return err
	}

	if err := c.player.Stop(); err != nil {
		c.logger.Warn("failed to stop local playback", "error", err)
	}

	event := c.newEvent(c.st.sessionID, domain.EventStop)
	c.emit(ctx, c.st.sessionID, event)

	c.notifyLocked()

	return nil
}

// updateTransportLocked persists the transport state and mirrors it into the
// local replica. The directory write comes first so a crash between the two
// never leaves peers converging on state the directory does not hold.
func (c *coordinator) updateTransportLocked(ctx context.Context, track domain.TrackRef, startTimestamp int64, position float64, isPlaying bool) error {
	if err := c.dir.UpdateSessionTransport(ctx, &directory.UpdateTransportParams{
		SessionID:       c.st.sessionID,
		TrackID:         track.ID,
		TrackTitle:      track.Title,
		TrackArtist:     track.Artist,
		TrackDuration:   track.Duration,
		TrackSourceURL:  track.SourceURL,
		StartTimestamp:  startTimestamp,
		CurrentPosition: position,
		IsPlaying:       isPlaying,
	}); err != nil {
		return fmt.Errorf("failed to update session transport: %w", err)
	}

	c.st.track = track
	c.st.startTimestamp = startTimestamp
	c.st.currentPos = position
	c.st.isPlaying = isPlaying

	return nil
}
