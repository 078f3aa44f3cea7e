// Package notifier delivers operator notifications about failed downloads
// and failed sync cycles.
package notifier

import (
	"context"
	"net/http"
)

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// New returns a Discord notifier for webhookURL, or a Nop notifier when no
// webhook is configured.
func New(webhookURL string, client *http.Client) Notifier {
	if webhookURL == "" {
		return Nop{}
	}

	return NewDiscordNotifier(webhookURL, client)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }
