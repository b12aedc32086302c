// Package session manages the lifecycle of host application sessions: the
// mail host the tools automate and the document host used for template
// conversion. It is the single point of lifecycle truth: acquire before
// first use, release exactly once on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Kind distinguishes the two host applications.
type Kind int

const (
	KindMail Kind = iota
	KindDocument
)

// String returns the kind name for logging.
func (k Kind) String() string {
	if k == KindDocument {
		return "document"
	}
	return "mail"
}

// ErrInit indicates the host application is unreachable or misconfigured.
// It is fatal: the run cannot proceed.
var ErrInit = errors.New("host session initialization failed")

// Session is an acquired, release-required reference to a host instance.
type Session interface {
	Kind() Kind
	Close(ctx context.Context) error
}

// Verifier is implemented by mail sessions that can confirm they are backed
// by a configured account, typically by probing the well-known Inbox folder.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Connector knows how to reach one host application. Probe attaches to an
// already-reachable instance; Start establishes a new one. Acquire selects
// between the two, keeping both strategies independently testable.
type Connector interface {
	Kind() Kind
	Probe(ctx context.Context) (Session, error)
	Start(ctx context.Context) (Session, error)
}

// Handle wraps an acquired session and guarantees its release runs at most
// once, no matter how many exit paths attempt it.
type Handle struct {
	session  Session
	log      *slog.Logger
	attached bool
	once     sync.Once
}

// Session returns the underlying session.
func (h *Handle) Session() Session {
	return h.session
}

// Attached reports whether the handle reused an already-running instance.
func (h *Handle) Attached() bool {
	return h.attached
}

// Release closes the session. It never propagates failures (release errors
// are logged, not returned) and repeated calls are no-ops.
func (h *Handle) Release(ctx context.Context) {
	h.once.Do(func() {
		if err := h.session.Close(ctx); err != nil {
			h.log.Warn("host session release failed",
				"kind", h.session.Kind().String(),
				"error", err,
			)
			return
		}
		h.log.Debug("host session released", "kind", h.session.Kind().String())
	})
}

// Acquire obtains a session from the connector, preferring attachment to an
// already-running instance and falling back to starting a new one. Mail-kind
// sessions are additionally verified against their default folder; a failed
// verification closes the session and is fatal.
func Acquire(ctx context.Context, log *slog.Logger, c Connector) (*Handle, error) {
	sess, attached, err := connect(ctx, log, c)
	if err != nil {
		return nil, err
	}

	if c.Kind() == KindMail {
		if v, ok := sess.(Verifier); ok {
			if err := v.Verify(ctx); err != nil {
				_ = sess.Close(ctx)
				return nil, fmt.Errorf("%w: default folder probe failed: %w", ErrInit, err)
			}
		}
	}

	return &Handle{session: sess, log: log, attached: attached}, nil
}

// connect runs the attach-then-spawn strategy selection.
func connect(ctx context.Context, log *slog.Logger, c Connector) (Session, bool, error) {
	if sess, err := c.Probe(ctx); err == nil {
		log.Debug("attached to running host instance", "kind", c.Kind().String())
		return sess, true, nil
	} else {
		log.Debug("no reachable host instance, starting a new one",
			"kind", c.Kind().String(),
			"probe_error", err,
		)
	}

	sess, err := c.Start(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInit, err)
	}
	log.Debug("started new host instance", "kind", c.Kind().String())
	return sess, false, nil
}
