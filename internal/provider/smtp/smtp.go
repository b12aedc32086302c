// Package smtp implements a Provider that submits mail to an SMTP relay.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/session"
)

// TLS modes accepted by Config.TLSMode.
const (
	TLSModeNone     = "plain"
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "tls"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	TLSMode  string
	Sender   string

	// TLSConfig is used for the starttls and tls modes.
	TLSConfig *tls.Config
}

// Provider submits mail through an SMTP relay. Each Send dials a fresh
// connection; the relay is expected to be close by, typically a corporate
// submission host.
type Provider struct {
	cfg Config
	log *slog.Logger
}

// New creates a Provider with the given configuration.
func New(cfg Config, log *slog.Logger) *Provider {
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeStartTLS
	}
	return &Provider{cfg: cfg, log: log}
}

// Send submits a message to the relay. Delivery receipts use an envelope
// DSN request (NOTIFY=SUCCESS) when the relay advertises the DSN extension,
// and fall back to the Return-Receipt-To header otherwise. Read receipts
// and importance always travel as message headers.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	c, err := p.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP relay: %w", err)
	}
	defer c.Close()

	if err := p.auth(c); err != nil {
		return fmt.Errorf("SMTP authentication failed: %w", err)
	}

	dsnOK, _ := c.Extension("DSN")
	if msg.DeliveryReceipt && !dsnOK {
		p.log.Warn("relay does not support DSN; falling back to Return-Receipt-To header")
	}

	// The envelope sender is the authenticated account even for alias
	// sends; the alias only appears in the From header.
	envFrom := msg.From
	if msg.OnBehalf() {
		envFrom = msg.OnBehalfOf
	}
	if envFrom == "" {
		envFrom = p.cfg.Sender
	}

	if err := c.Mail(envFrom, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}

	var rcptOpts *gosmtp.RcptOptions
	if msg.DeliveryReceipt && dsnOK {
		rcptOpts = &gosmtp.RcptOptions{
			Notify: []gosmtp.DSNNotify{gosmtp.DSNNotifySuccess},
		}
	}
	for _, to := range msg.To {
		if err := c.Rcpt(to, rcptOpts); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", to, err)
		}
	}

	raw, err := email.BuildMIME(msg, email.MIMEOptions{
		FallbackFrom:        p.cfg.Sender,
		ReturnReceiptHeader: !dsnOK,
	})
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message rejected by relay: %w", err)
	}

	return c.Quit()
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

func (p *Provider) addr() string {
	return net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
}

func (p *Provider) dial() (*gosmtp.Client, error) {
	switch p.cfg.TLSMode {
	case TLSModeImplicit:
		return gosmtp.DialTLS(p.addr(), p.cfg.TLSConfig)
	case TLSModeStartTLS:
		return gosmtp.DialStartTLS(p.addr(), p.cfg.TLSConfig)
	case TLSModeNone:
		return gosmtp.Dial(p.addr())
	default:
		return nil, fmt.Errorf("unknown TLS mode %q", p.cfg.TLSMode)
	}
}

func (p *Provider) auth(c *gosmtp.Client) error {
	if p.cfg.Username == "" {
		return nil
	}
	return c.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password))
}

// Connector returns the session connector for this provider. SMTP keeps no
// long-lived host process to attach to, so Probe always reports nothing to
// attach; Start dials the relay and authenticates, surfacing credential and
// reachability problems before any message is sent.
func (p *Provider) Connector() session.Connector {
	return &connector{p: p}
}

type connector struct {
	p *Provider
}

func (c *connector) Kind() session.Kind { return session.KindMail }

func (c *connector) Probe(ctx context.Context) (session.Session, error) {
	return nil, fmt.Errorf("no existing SMTP session")
}

func (c *connector) Start(ctx context.Context) (session.Session, error) {
	client, err := c.p.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP relay: %w", err)
	}
	if err := c.p.auth(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("SMTP authentication failed: %w", err)
	}
	return &mailSession{client: client}, nil
}

// mailSession holds the probe connection opened by Start. Message
// submission dials its own connections; this one exists to validate the
// relay and is torn down on Close.
type mailSession struct {
	client *gosmtp.Client
}

func (s *mailSession) Kind() session.Kind { return session.KindMail }

func (s *mailSession) Close(context.Context) error {
	return s.client.Quit()
}

// Verify checks the relay still answers on the probe connection.
func (s *mailSession) Verify(ctx context.Context) error {
	if err := s.client.Noop(); err != nil {
		return fmt.Errorf("relay did not answer NOOP: %w", err)
	}
	return nil
}
