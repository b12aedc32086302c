package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/identity"
	"github.com/shineum/mailmerge-lite/internal/recipients"
	"github.com/shineum/mailmerge-lite/internal/template"
)

// fakeProvider records sent messages and can fail selected recipients.
type fakeProvider struct {
	sent    []*email.Message
	failFor map[string]error
}

func (f *fakeProvider) Send(_ context.Context, msg *email.Message) error {
	f.sent = append(f.sent, msg)
	if err, ok := f.failFor[msg.To[0]]; ok {
		return err
	}
	return nil
}

func (f *fakeProvider) Name() string { return "fake" }

func newTestDispatcher(p *fakeProvider) (*Dispatcher, *[]time.Duration) {
	d := New(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var pauses []time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		pauses = append(pauses, dur)
		return nil
	}
	return d, &pauses
}

func testRecipients(emails ...string) []recipients.Recipient {
	out := make([]recipients.Recipient, 0, len(emails))
	for _, e := range emails {
		name, _, _ := strings.Cut(e, "@")
		out = append(out, recipients.Recipient{
			Name:      name,
			GivenName: strings.ToUpper(name[:1]) + name[1:],
			Surname:   "Tester",
			Email:     e,
		})
	}
	return out
}

func TestRun_PersonalizesEachMessage(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)

	report := d.Run(context.Background(),
		"<p>Dear [GivenName] [Surname]</p>",
		testRecipients("alice@example.com", "bob@example.com"),
		identity.SenderIdentity{IsValid: true, Address: "owner@example.com"},
		Options{Subject: "hi"},
	)

	if report.Attempted != 2 || report.Succeeded != 2 {
		t.Fatalf("report: got %+v, want 2/2", report)
	}
	if !strings.Contains(p.sent[0].HTMLBody, "Dear Alice Tester") {
		t.Errorf("first body not personalized:\n%s", p.sent[0].HTMLBody)
	}
	if !strings.Contains(p.sent[1].HTMLBody, "Dear Bob Tester") {
		t.Errorf("second body not personalized:\n%s", p.sent[1].HTMLBody)
	}
}

func TestRun_FailureDoesNotStopRun(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failFor: map[string]error{
		"bob@example.com": errors.New("mailbox full"),
	}}
	d, _ := newTestDispatcher(p)

	report := d.Run(context.Background(), "<p>x</p>",
		testRecipients("alice@example.com", "bob@example.com", "carol@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi"},
	)

	if report.Attempted != 3 {
		t.Errorf("Attempted: got %d, want 3", report.Attempted)
	}
	if report.Succeeded != 2 {
		t.Errorf("Succeeded: got %d, want 2", report.Succeeded)
	}
	if len(report.Failures) != 1 || report.Failures[0].Email != "bob@example.com" {
		t.Errorf("Failures: got %+v, want bob only", report.Failures)
	}
	if len(p.sent) != 3 {
		t.Errorf("sends: got %d, want all recipients attempted", len(p.sent))
	}
}

func TestRun_ThrottleAppliesAfterFailuresToo(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{failFor: map[string]error{
		"alice@example.com": errors.New("boom"),
		"bob@example.com":   errors.New("boom"),
	}}
	d, pauses := newTestDispatcher(p)

	d.Run(context.Background(), "<p>x</p>",
		testRecipients("alice@example.com", "bob@example.com", "carol@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi", Throttle: 25 * time.Millisecond},
	)

	if len(*pauses) != 3 {
		t.Fatalf("pauses: got %d, want one after each attempt", len(*pauses))
	}
	for _, pause := range *pauses {
		if pause != 25*time.Millisecond {
			t.Errorf("pause: got %v, want 25ms", pause)
		}
	}
}

func TestRun_AliasSetsOnBehalf(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)

	d.Run(context.Background(), "<p>x</p>",
		testRecipients("alice@example.com"),
		identity.SenderIdentity{
			IsValid: true,
			IsAlias: true,
			Address: "newsletter@example.com",
			Account: "owner@example.com",
		},
		Options{Subject: "hi"},
	)

	msg := p.sent[0]
	if msg.From != "newsletter@example.com" {
		t.Errorf("From: got %q, want alias", msg.From)
	}
	if msg.OnBehalfOf != "owner@example.com" {
		t.Errorf("OnBehalfOf: got %q, want account", msg.OnBehalfOf)
	}
}

func TestRun_WrapsFragmentBodies(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)

	d.Run(context.Background(), "<p>fragment</p>",
		testRecipients("alice@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi"},
	)

	body := p.sent[0].HTMLBody
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Errorf("fragment not wrapped:\n%s", body)
	}
	if !strings.Contains(body, `<meta charset="utf-8">`) {
		t.Errorf("missing charset meta:\n%s", body)
	}
}

func TestRun_DocumentWithoutDoctypeGetsEnvelopeInjected(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)

	doc := "<html><head></head><body><p>full</p></body></html>"
	d.Run(context.Background(), doc,
		testRecipients("alice@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi"},
	)

	body := p.sent[0].HTMLBody
	if strings.Count(body, "<html") != 1 {
		t.Errorf("document wrapped twice:\n%s", body)
	}
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Errorf("missing doctype:\n%s", body)
	}
	if !strings.Contains(body, `<meta charset="utf-8">`) {
		t.Errorf("missing charset meta:\n%s", body)
	}
	if !strings.Contains(body, "Calibri") {
		t.Errorf("missing default font:\n%s", body)
	}
}

func TestRun_DoctypeDocumentLeftAlone(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)

	doc := "<!DOCTYPE html><html><head><meta charset=\"iso-8859-1\"></head><body><p>full</p></body></html>"
	d.Run(context.Background(), doc,
		testRecipients("alice@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi"},
	)

	if p.sent[0].HTMLBody != doc {
		t.Errorf("document with doctype altered:\n%s", p.sent[0].HTMLBody)
	}
}

func TestRun_RenderedTemplateGetsEnvelope(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "letter.html")
	if err := os.WriteFile(path, []byte("<p>Hi [GivenName],</p>"), 0644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
	r := template.NewRenderer("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	rendered, err := r.Render(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected render error: %v", err)
	}

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)
	d.Run(context.Background(), rendered,
		testRecipients("alice@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi"},
	)

	body := p.sent[0].HTMLBody
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Errorf("missing doctype:\n%s", body)
	}
	if !strings.Contains(body, `<meta charset="utf-8">`) {
		t.Errorf("missing charset meta:\n%s", body)
	}
	if !strings.Contains(body, "Calibri") {
		t.Errorf("missing default font:\n%s", body)
	}
	if strings.Count(body, "<html") != 1 {
		t.Errorf("sanitized document wrapped twice:\n%s", body)
	}
	if !strings.Contains(body, "Hi Alice,") {
		t.Errorf("body not personalized:\n%s", body)
	}
}

func TestRun_AttachmentLoadedOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("pdf-bytes"), 0644); err != nil {
		t.Fatalf("failed to write attachment: %v", err)
	}

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)

	d.Run(context.Background(), "<p>x</p>",
		testRecipients("alice@example.com", "bob@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi", AttachmentPath: path},
	)

	for _, msg := range p.sent {
		if len(msg.Attachments) != 1 {
			t.Fatalf("attachments: got %d, want 1", len(msg.Attachments))
		}
		att := msg.Attachments[0]
		if att.Filename != "report.pdf" {
			t.Errorf("filename: got %q, want %q", att.Filename, "report.pdf")
		}
		if att.ContentType != "application/pdf" {
			t.Errorf("content type: got %q, want %q", att.ContentType, "application/pdf")
		}
	}
}

func TestRun_MissingAttachmentIsNonFatal(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d, _ := newTestDispatcher(p)

	report := d.Run(context.Background(), "<p>x</p>",
		testRecipients("alice@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi", AttachmentPath: filepath.Join(t.TempDir(), "absent.pdf")},
	)

	if report.Succeeded != 1 {
		t.Errorf("Succeeded: got %d, want send without attachment", report.Succeeded)
	}
	if len(p.sent[0].Attachments) != 0 {
		t.Errorf("attachments: got %d, want none", len(p.sent[0].Attachments))
	}
}

func TestRun_CancelledContextStopsRun(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d := New(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	report := d.Run(context.Background(), "<p>x</p>",
		testRecipients("alice@example.com", "bob@example.com", "carol@example.com"),
		identity.SenderIdentity{IsValid: true},
		Options{Subject: "hi"},
	)

	if report.Attempted != 1 {
		t.Errorf("Attempted: got %d, want stop after first attempt", report.Attempted)
	}
}
