// Package dispatch drives a bulk personalized send over a recipient list.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/identity"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/recipients"
)

// DefaultThrottle is the pause between consecutive sends. It is deliberate
// pacing against host-side rate limits, not a retry delay.
const DefaultThrottle = 500 * time.Millisecond

// Options configures a dispatch run.
type Options struct {
	Subject         string
	AttachmentPath  string
	HighImportance  bool
	DeliveryReceipt bool
	ReadReceipt     bool

	// Throttle is the pause after each send attempt, successful or not.
	// Zero means DefaultThrottle.
	Throttle time.Duration
}

// Failure records one recipient whose send failed.
type Failure struct {
	Email  string
	Reason string
}

// Report summarizes a dispatch run.
type Report struct {
	Attempted int
	Succeeded int
	Failures  []Failure
}

// Dispatcher sends one personalized message per recipient through a
// provider. A failed recipient never stops the run.
type Dispatcher struct {
	provider provider.Provider
	log      *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher sending through the given provider.
func New(p provider.Provider, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		provider: p,
		log:      log,
		sleep:    sleepWithContext,
	}
}

// Run sends the personalized body to every recipient. The attachment, if
// configured, is loaded once up front; a load failure is logged and the run
// proceeds without it. The throttle pause applies after every attempt so a
// burst of failures cannot speed up the send rate.
func (d *Dispatcher) Run(ctx context.Context, body string, recips []recipients.Recipient, ident identity.SenderIdentity, opts Options) Report {
	throttle := opts.Throttle
	if throttle == 0 {
		throttle = DefaultThrottle
	}

	var attachments []email.Attachment
	if opts.AttachmentPath != "" {
		att, err := loadAttachment(opts.AttachmentPath)
		if err != nil {
			d.log.Warn("attachment could not be loaded; sending without it",
				"path", opts.AttachmentPath,
				"error", err,
			)
		} else {
			attachments = []email.Attachment{att}
		}
	}

	if ident.IsAlias {
		d.log.Warn("requested sender is not a configured account; sending on its behalf",
			"alias", ident.Address,
			"account", ident.Account,
		)
	}

	body = wrapHTML(body)

	var report Report
	for i, rcpt := range recips {
		report.Attempted++

		msg := &email.Message{
			From:            ident.Address,
			To:              []string{rcpt.Email},
			Subject:         opts.Subject,
			HTMLBody:        personalize(body, rcpt),
			Attachments:     attachments,
			HighImportance:  opts.HighImportance,
			DeliveryReceipt: opts.DeliveryReceipt,
			ReadReceipt:     opts.ReadReceipt,
		}
		if ident.IsAlias {
			msg.OnBehalfOf = ident.Account
		}

		if err := d.provider.Send(ctx, msg); err != nil {
			d.log.Error("send failed",
				"recipient", rcpt.Email,
				"error", err,
			)
			report.Failures = append(report.Failures, Failure{
				Email:  rcpt.Email,
				Reason: err.Error(),
			})
		} else {
			report.Succeeded++
			d.log.Info("sent",
				"recipient", rcpt.Email,
				"progress", fmt.Sprintf("%d/%d", i+1, len(recips)),
			)
		}

		if err := d.sleep(ctx, throttle); err != nil {
			d.log.Warn("dispatch interrupted", "error", err)
			return report
		}
	}
	return report
}

// personalize substitutes recipient fields into the body. Placeholders use
// the bracketed column names from the recipient file.
func personalize(body string, rcpt recipients.Recipient) string {
	return strings.NewReplacer(
		"[Name]", rcpt.Name,
		"[GivenName]", rcpt.GivenName,
		"[Surname]", rcpt.Surname,
		"[Email]", rcpt.Email,
	).Replace(body)
}

// wrapHTML ensures the body carries the minimal envelope mail clients need
// to render it with a consistent charset and font. Documents that already
// declare a doctype are left alone. Sanitized templates arrive as full
// <html> documents without one, so an existing head gets the envelope
// injected instead of a second wrapper; bare fragments are wrapped whole.
func wrapHTML(body string) string {
	lower := strings.ToLower(body)
	if strings.Contains(lower, "<!doctype") {
		return body
	}

	const envelope = `<meta charset="utf-8"><style>body { font-family: Calibri, Arial, sans-serif; font-size: 11pt; }</style>`

	if at := tagEnd(lower, "<head"); at >= 0 {
		return "<!DOCTYPE html>\n" + body[:at] + envelope + body[at:]
	}
	if at := tagEnd(lower, "<html"); at >= 0 {
		return "<!DOCTYPE html>\n" + body[:at] + "<head>" + envelope + "</head>" + body[at:]
	}
	return "<!DOCTYPE html>\n<html>\n<head>" + envelope + "</head>\n<body>\n" + body + "\n</body>\n</html>"
}

// tagEnd returns the index just past the named opening tag, or -1 when the
// tag is not present.
func tagEnd(lower, tag string) int {
	i := strings.Index(lower, tag)
	if i < 0 {
		return -1
	}
	rest := lower[i+len(tag):]
	if !strings.HasPrefix(rest, ">") && !strings.HasPrefix(rest, " ") {
		return -1
	}
	j := strings.Index(rest, ">")
	if j < 0 {
		return -1
	}
	return i + len(tag) + j + 1
}

// loadAttachment reads the file once and guesses its content type from the
// extension.
func loadAttachment(path string) (email.Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return email.Attachment{}, err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return email.Attachment{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Content:     content,
	}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
