// Package notification turns committed lifecycle events into best-effort
// outbound messages. Delivery failure is logged and never fails the
// operation that produced the event.
package notification

import (
	"context"

	"github.com/taskdesk/taskdesk/internal/chat"
)

// Notification is a personal message addressed to a registered user by
// display name. The transport resolves the name to a deliverable address
// and silently skips users it cannot reach.
type Notification struct {
	UserName string
	Text     string
	Keyboard chat.Keyboard
}

// Broadcast is an unaddressed announcement fanned out to every configured
// broadcast channel.
type Broadcast struct {
	Title string
	Text  string
	Color string
}

// Notifier delivers personal notifications.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// Broadcaster delivers announcements to a channel-wide audience.
type Broadcaster interface {
	Broadcast(ctx context.Context, b *Broadcast) error
}

// NopNotifier discards personal notifications. Used when no chat transport
// is configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, n *Notification) error {
	return nil
}
