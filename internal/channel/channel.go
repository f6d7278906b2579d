// Package channel defines the publish/subscribe contract the engine needs
// from an event transport. Delivery is at-least-once and ordered per sender;
// no ordering across senders is promised. The transport fans an event back
// to its own publisher, so consumers must drop self-echoes.
package channel

import "github.com/synclisten/server/internal/domain"

// Handler receives every event delivered on a subscribed session scope,
// including the subscriber's own echoes.
type Handler func(event domain.SyncEvent)
