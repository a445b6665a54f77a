// Package notify delivers operator notifications and receives inbound
// commands over the Telegram Bot API. The Notifier interface keeps the
// trading core independent of the channel; a no-op implementation stands
// in when no token is configured.
package notify

import "context"

// Notifier delivers a notification with a title and message body.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the channel.
	Name() string
}

// Nop is a Notifier that silently drops everything. It keeps the core
// running when Telegram is not configured.
type Nop struct{}

func (Nop) Send(context.Context, string, string) error { return nil }

func (Nop) Name() string { return "nop" }

var _ Notifier = Nop{}
