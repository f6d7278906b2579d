package domain

// Player is the playback transport the engine drives. Decode, buffering and
// rendering live behind it; the engine only issues these operations and
// reads position.
type Player interface {
	Play(track TrackRef) error
	Pause() error
	Resume() error
	Seek(seconds float64) error
	Stop() error
	Position() float64
	IsPlaying() bool
}
