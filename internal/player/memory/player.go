// Package memory is a playback transport that renders nothing: position
// simply advances with the clock while playing. It backs tests and the demo
// listener binary.
package memory

import (
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/synclisten/server/internal/domain"
)

type Player struct {
	clock clockwork.Clock

	mu        sync.Mutex
	track     domain.TrackRef
	base      float64
	startedAt int64
	playing   bool
}

func NewPlayer(clk clockwork.Clock) *Player {
	return &Player{clock: clk}
}

func (p *Player) Play(track domain.TrackRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track = track
	p.base = 0
	p.startedAt = p.clock.Now().UnixMilli()
	p.playing = true

	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = p.positionLocked()
	p.playing = false

	return nil
}

func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		p.startedAt = p.clock.Now().UnixMilli()
		p.playing = true
	}

	return nil
}

func (p *Player) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.base = seconds
	p.startedAt = p.clock.Now().UnixMilli()

	return nil
}

func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.track = domain.TrackRef{}
	p.base = 0
	p.playing = false

	return nil
}

func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.positionLocked()
}

func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.playing
}

func (p *Player) Track() domain.TrackRef {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.track
}

func (p *Player) positionLocked() float64 {
	if !p.playing {
		return p.base
	}

	return p.base + float64(p.clock.Now().UnixMilli()-p.startedAt)/1000
}
