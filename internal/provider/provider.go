// Package provider defines the interface for mail delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// Provider is the interface that mail delivery backends must implement.
// Each provider handles submission of composed messages to its host
// (Microsoft Graph, AWS SES, an SMTP smarthost, or stdout for dry runs).
//
// Providers apply the message's delivery flags on a best-effort basis:
// a flag the backend cannot honor is logged as a warning and the message
// is still submitted.
type Provider interface {
	// Send delivers one message through this provider.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
