// Package stdout implements a Provider that prints messages to standard
// output instead of sending them. Used for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// Provider prints messages to stdout in a human-readable format.
type Provider struct {
	writer io.Writer
}

// New creates a stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the message in a readable format. It always succeeds.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	var b strings.Builder

	b.WriteString("========================================\n")
	if msg.OnBehalf() {
		b.WriteString(fmt.Sprintf("From: %s (on behalf, via %s)\n", msg.From, msg.OnBehalfOf))
	} else if msg.From != "" {
		b.WriteString(fmt.Sprintf("From: %s\n", msg.From))
	} else {
		b.WriteString("From: <host default>\n")
	}
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(msg.To, ", ")))
	b.WriteString(fmt.Sprintf("Subject: %s\n", msg.Subject))

	var flags []string
	if msg.HighImportance {
		flags = append(flags, "high-importance")
	}
	if msg.DeliveryReceipt {
		flags = append(flags, "delivery-receipt")
	}
	if msg.ReadReceipt {
		flags = append(flags, "read-receipt")
	}
	if len(flags) > 0 {
		b.WriteString(fmt.Sprintf("Flags: %s\n", strings.Join(flags, ", ")))
	}

	b.WriteString("Body:\n")
	b.WriteString(msg.HTMLBody + "\n")

	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			names = append(names, fmt.Sprintf("%s (%d B)", att.Filename, len(att.Content)))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(names, ", ")))
	}

	b.WriteString("========================================\n")

	_, _ = fmt.Fprint(p.writer, b.String())
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}
