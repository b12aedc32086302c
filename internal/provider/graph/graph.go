package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/session"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// defaultBaseURL is the Graph API root.
const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
	TokenCache   string
}

// Provider sends mail via the Microsoft Graph API using OAuth2 client
// credentials authentication.
type Provider struct {
	sender     string
	baseURL    string
	httpClient *http.Client
	token      *TokenSource
	log        *slog.Logger
}

// New creates a Provider with the given configuration.
func New(cfg Config, log *slog.Logger) *Provider {
	client := &http.Client{Timeout: 30 * time.Second}

	return &Provider{
		sender:     cfg.Sender,
		baseURL:    defaultBaseURL,
		httpClient: client,
		token:      NewTokenSource(TokenURL(cfg.TenantID), cfg.ClientID, cfg.ClientSecret, cfg.TokenCache, client),
		log:        log,
	}
}

// NewWithEndpoints creates a Provider against custom API and token URLs.
// Used for tests and for sovereign-cloud Graph endpoints.
func NewWithEndpoints(cfg Config, baseURL, tokenURL string, client *http.Client, log *slog.Logger) *Provider {
	return &Provider{
		sender:     cfg.Sender,
		baseURL:    baseURL,
		httpClient: client,
		token:      NewTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, cfg.TokenCache, client),
		log:        log,
	}
}

// TokenSource exposes the provider's token source so the Graph mailstore can
// share the same authenticated session.
func (g *Provider) TokenSource() *TokenSource {
	return g.token
}

// BaseURL returns the Graph API root this provider talks to.
func (g *Provider) BaseURL() string {
	return g.baseURL
}

// HTTPClient returns the underlying HTTP client.
func (g *Provider) HTTPClient() *http.Client {
	return g.httpClient
}

// Send delivers a message via the Graph API sendMail endpoint.
// It includes retry logic with exponential backoff for transient failures,
// Retry-After header respect for HTTP 429, and automatic token refresh for HTTP 401.
func (g *Provider) Send(ctx context.Context, msg *email.Message) error {
	reqBody := buildSendMailRequest(msg)
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	// sendMail submits through the authenticated account; the "from" field
	// carries the alias. Whether the host honors it depends on send-on-behalf
	// permissions we cannot verify up front.
	if msg.OnBehalf() {
		g.log.Warn("sending on behalf of unverified alias",
			"alias", msg.From,
			"account", msg.OnBehalfOf,
		)
	}

	// The submission mailbox is the account the message is bound to: the
	// on-behalf account for aliases, the matched account for a direct From,
	// the configured sender otherwise.
	mailbox := g.sender
	switch {
	case msg.OnBehalfOf != "":
		mailbox = msg.OnBehalfOf
	case msg.From != "":
		mailbox = msg.From
	}
	sendURL := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(mailbox))

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			g.log.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := g.doSendRequest(ctx, sendURL, bodyJSON)
		if err == nil {
			return nil
		}

		lastErr = err

		graphErr, ok := err.(*sendError)
		if !ok {
			return err
		}

		switch {
		case graphErr.permanent:
			return graphErr
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			// Refresh token once and retry immediately
			g.log.Info("refreshing Graph API token after 401")
			if _, refreshErr := g.token.ForceRefresh(); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		case graphErr.statusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(graphErr.retryAfter, attempt)
			g.log.Info("rate limited by Graph API", "retry_after", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		case graphErr.transient:
			delay := backoffDelay(attempt)
			g.log.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		default:
			return graphErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *Provider) doSendRequest(ctx context.Context, sendURL string, bodyJSON []byte) error {
	token, err := g.token.Token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// Connector returns the session connector for this provider. Probing
// succeeds when a still-valid cached token exists; starting performs a
// fresh credential exchange.
func (g *Provider) Connector() session.Connector {
	return &connector{g: g}
}

type connector struct {
	g *Provider
}

func (c *connector) Kind() session.Kind { return session.KindMail }

func (c *connector) Probe(ctx context.Context) (session.Session, error) {
	if _, ok := c.g.token.Cached(); !ok {
		return nil, fmt.Errorf("no cached Graph session")
	}
	return &mailSession{g: c.g}, nil
}

func (c *connector) Start(ctx context.Context) (session.Session, error) {
	if _, err := c.g.token.ForceRefresh(); err != nil {
		return nil, fmt.Errorf("Graph authentication failed: %w", err)
	}
	return &mailSession{g: c.g}, nil
}

// mailSession is the acquired Graph mail session. The underlying transport
// is stateless HTTP, so Close has nothing to tear down beyond idle
// connections.
type mailSession struct {
	g *Provider
}

func (s *mailSession) Kind() session.Kind { return session.KindMail }

func (s *mailSession) Close(context.Context) error {
	s.g.httpClient.CloseIdleConnections()
	return nil
}

// Verify probes the sender's well-known Inbox folder to confirm the session
// is backed by a configured mail account.
func (s *mailSession) Verify(ctx context.Context) error {
	token, err := s.g.token.Token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	probeURL := fmt.Sprintf("%s/users/%s/mailFolders/inbox", s.g.baseURL, s.g.sender)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inbox probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("inbox probe returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// sendError represents an error from the Graph API send operation with
// classification for retry logic.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses the Retry-After header value and returns the appropriate delay.
// Falls back to exponential backoff if the header is missing or unparseable.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return backoffDelay(attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return backoffDelay(attempt)
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
// Delays are: 1s, 2s, 4s
func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
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
