package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventLogLimit = 500
	chatLogLimit  = 100
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
}

func NewRepo(rc *redis.Client, expireDuration time.Duration) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
	}
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil && err != redis.Nil {
				return err
			}
		}

		return err
	}

	return nil
}

// ServerTime is the latency-probe target: one cheap round trip that returns
// the backend's own clock.
func (r repo) ServerTime(ctx context.Context) (time.Time, error) {
	return r.rc.Time(ctx).Result()
}
