// Package natschan delivers sync events over NATS core subjects, one subject
// per session. NATS preserves per-publisher ordering, which is all the
// engine requires.
package natschan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/synclisten/server/internal/channel"
	"github.com/synclisten/server/internal/domain"
)

type Channel struct {
	nc     *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

func New(nc *nats.Conn, logger *slog.Logger) *Channel {
	return &Channel{
		nc:     nc,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}
}

func (c *Channel) getSubject(sessionID string) string {
	return "syncsession." + sessionID
}

func (c *Channel) Subscribe(ctx context.Context, sessionID string, handler channel.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.subs[sessionID]; ok {
		prev.Unsubscribe()
	}

	sub, err := c.nc.Subscribe(c.getSubject(sessionID), func(msg *nats.Msg) {
		var event domain.SyncEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Warn("failed to unmarshal event", "error", err)
			return
		}

		handler(event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.subs[sessionID] = sub

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
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	return nil
}

func (c *Channel) Publish(ctx context.Context, sessionID string, event domain.SyncEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.nc.Publish(c.getSubject(sessionID), raw); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sessionID, sub := range c.subs {
		sub.Unsubscribe()
		delete(c.subs, sessionID)
	}

	return nil
}
