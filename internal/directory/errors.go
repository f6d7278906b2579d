package directory

import "errors"

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrSyncKeyTaken        = errors.New("sync key already taken")
	ErrQueueItemNotFound   = errors.New("queue item not found")
)
