package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/synclisten/server/internal/channel"
	"github.com/synclisten/server/internal/domain"
)

type clientConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

// Client implements the event channel against a Hub. One websocket
// connection per subscribed session carries both directions.
type Client struct {
	baseURL string
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[string]*clientConn
}

// NewClient takes the hub's websocket base URL, e.g. "ws://hub:8080".
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		logger:  logger,
		conns:   make(map[string]*clientConn),
	}
}

func (c *Client) getEndpoint(sessionID string) string {
	return c.baseURL + "/sessions/" + sessionID + "/ws"
}

func (c *Client) Subscribe(ctx context.Context, sessionID string, handler channel.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.conns[sessionID]; ok {
		prev.conn.Close()
		<-prev.done
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.getEndpoint(sessionID), nil)
	if err != nil {
		return fmt.Errorf("failed to dial hub: %w", err)
	}

	cc := &clientConn{conn: conn, done: make(chan struct{})}
	c.conns[sessionID] = cc

	go func() {
		defer close(cc.done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var event domain.SyncEvent
			if err := json.Unmarshal(data, &event); err != nil {
				c.logger.Warn("failed to unmarshal event", "error", err)
				continue
			}

			handler(event)
		}
	}()

	return nil
}

func (c *Client) Unsubscribe(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, ok := c.conns[sessionID]
	if !ok {
		return nil
	}

	delete(c.conns, sessionID)
	if err := cc.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	<-cc.done

	return nil
}

func (c *Client) Publish(ctx context.Context, sessionID string, event domain.SyncEvent) error {
	c.mu.Lock()
	cc, ok := c.conns[sessionID]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("not subscribed to session %s", sessionID)
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if err := cc.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sessionID, cc := range c.conns {
		cc.conn.Close()
		<-cc.done
		delete(c.conns, sessionID)
	}

	return nil
}
