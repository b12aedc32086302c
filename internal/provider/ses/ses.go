// Package ses implements a Provider that sends mail via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/session"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// API is the subset of the SES v2 client the provider uses.
// Kept as an interface so tests can substitute a mock.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// Provider sends mail via the AWS SES v2 API.
type Provider struct {
	sender string
	client API
	log    *slog.Logger
}

// New creates a Provider with the given configuration.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		sender: cfg.Sender,
		client: sesv2.NewFromConfig(awsCfg),
		log:    log,
	}, nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(sender string, client API, log *slog.Logger) *Provider {
	return &Provider{
		sender: sender,
		client: client,
		log:    log,
	}
}

// Send delivers a message via AWS SES v2. Messages that only need a subject
// and HTML body use the SES simple format; anything that needs wire-level
// headers (attachments, receipt flags, importance, on-behalf identity) is
// sent as a raw MIME message. SES has no API-level DSN request, so delivery
// receipts ride on the Return-Receipt-To header.
func (s *Provider) Send(ctx context.Context, msg *email.Message) error {
	input, err := s.buildInput(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			s.log.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			delay := backoffDelay(attempt)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		s.log.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (s *Provider) Name() string {
	return "ses"
}

func (s *Provider) buildInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	// SES only sends from verified identities, so on-behalf aliases cannot
	// be honored; the configured sender is used instead.
	if msg.OnBehalf() {
		s.log.Warn("SES cannot submit on behalf of another address; using the configured sender",
			"alias", msg.From,
			"sender", s.sender,
		)
		clone := *msg
		clone.From = ""
		clone.OnBehalfOf = ""
		msg = &clone
	}

	if !needsRaw(msg) {
		return buildSimpleInput(s.sender, msg), nil
	}

	if msg.DeliveryReceipt {
		s.log.Warn("SES cannot request an envelope delivery receipt; falling back to Return-Receipt-To header")
	}

	raw, err := email.BuildMIME(msg, email.MIMEOptions{
		FallbackFrom:        s.sender,
		ReturnReceiptHeader: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}, nil
}

// needsRaw reports whether the message carries anything the SES simple
// format cannot express.
func needsRaw(msg *email.Message) bool {
	return len(msg.Attachments) > 0 ||
		msg.HighImportance ||
		msg.DeliveryReceipt ||
		msg.ReadReceipt
}

// buildSimpleInput creates a SendEmailInput for plain HTML messages.
func buildSimpleInput(sender string, msg *email.Message) *sesv2.SendEmailInput {
	from := msg.From
	if from == "" {
		from = sender
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Html: &types.Content{
						Data:    aws.String(msg.HTMLBody),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}

// Connector returns the session connector for this provider. SES keeps no
// client-side session state, so there is never an existing session to attach
// to; starting one is a local no-op that succeeds once the client exists.
func (s *Provider) Connector() session.Connector {
	return &connector{s: s}
}

type connector struct {
	s *Provider
}

func (c *connector) Kind() session.Kind { return session.KindMail }

func (c *connector) Probe(ctx context.Context) (session.Session, error) {
	return nil, fmt.Errorf("no attachable SES session")
}

func (c *connector) Start(ctx context.Context) (session.Session, error) {
	if c.s.client == nil {
		return nil, fmt.Errorf("SES client not configured")
	}
	return &mailSession{p: c.s}, nil
}

type mailSession struct {
	p *Provider
}

func (s *mailSession) Kind() session.Kind { return session.KindMail }

func (s *mailSession) Close(context.Context) error { return nil }

// Verify confirms the credentials reach the SES account and sending is not
// paused. SES has no mailbox to probe, so the account is the closest
// equivalent of the default-folder check the other backends perform.
func (s *mailSession) Verify(ctx context.Context) error {
	out, err := s.p.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return fmt.Errorf("SES account probe failed: %w", err)
	}
	if !out.SendingEnabled {
		return fmt.Errorf("SES sending is disabled for this account")
	}
	return nil
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
