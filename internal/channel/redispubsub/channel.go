// Package redispubsub delivers sync events over Redis pub/sub, one channel
// per session.
package redispubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/synclisten/server/internal/channel"
	"github.com/synclisten/server/internal/domain"
)

type subscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

type Channel struct {
	rc     *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

func New(rc *redis.Client, logger *slog.Logger) *Channel {
	return &Channel{
		rc:     rc,
		logger: logger,
		subs:   make(map[string]*subscription),
	}
}

func (c *Channel) getChannelName(sessionID string) string {
	return "session:" + sessionID + ":events"
}

// Subscribe is idempotent per session: a re-subscribe replaces the prior
// subscription instead of duplicating it.
func (c *Channel) Subscribe(ctx context.Context, sessionID string, handler channel.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.subs[sessionID]; ok {
		prev.pubsub.Close()
		<-prev.done
	}

	pubsub := c.rc.Subscribe(ctx, c.getChannelName(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	sub := &subscription{pubsub: pubsub, done: make(chan struct{})}
	c.subs[sessionID] = sub

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			var event domain.SyncEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.logger.Warn("failed to unmarshal event", "error", err)
				continue
			}

			handler(event)
		}
	}()

	return nil
}

func (c *Channel) Unsubscribe(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[sessionID]
	if !ok {
		return nil
	}

	delete(c.subs, sessionID)
	if err := sub.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	<-sub.done

	return nil
}

func (c *Channel) Publish(ctx context.Context, sessionID string, event domain.SyncEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.rc.Publish(ctx, c.getChannelName(sessionID), raw).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sessionID, sub := range c.subs {
		sub.pubsub.Close()
		<-sub.done
		delete(c.subs, sessionID)
	}

	return nil
}
