package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// tokenExpiryBuffer is the time before actual expiry when we consider a token expired.
// This prevents using a token that is about to expire during a request.
const tokenExpiryBuffer = 5 * time.Minute

// TokenSource manages OAuth2 access tokens with thread-safe caching and
// automatic refresh before expiration. With a cache file configured, tokens
// survive process restarts, so a later run can attach to the existing
// authenticated session instead of requesting a new one.
type TokenSource struct {
	mu           sync.Mutex
	accessToken  string
	expiresAt    time.Time
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	cacheFile    string
	httpClient   *http.Client
}

// TokenURL returns the v2.0 client-credentials token endpoint for a tenant.
func TokenURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID)
}

// NewTokenSource creates a token source for the given OAuth2 client
// credentials. cacheFile may be empty to keep tokens in memory only.
func NewTokenSource(tokenURL, clientID, clientSecret, cacheFile string, httpClient *http.Client) *TokenSource {
	return &TokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		scope:        "https://graph.microsoft.com/.default",
		cacheFile:    cacheFile,
		httpClient:   httpClient,
	}
}

// Token returns a valid access token, refreshing it if necessary.
// This method is safe for concurrent use.
func (tc *TokenSource) Token() (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.validLocked() {
		return tc.accessToken, nil
	}
	if tc.loadCacheLocked() {
		return tc.accessToken, nil
	}

	return tc.refresh()
}

// Cached returns the current token without any network round trip. The
// second return value reports whether a still-valid token was available;
// session acquisition uses it as the "already reachable" probe.
func (tc *TokenSource) Cached() (string, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.validLocked() || tc.loadCacheLocked() {
		return tc.accessToken, true
	}
	return "", false
}

// ForceRefresh discards the current token and acquires a new one.
// This is used when a 401 response indicates the token is invalid.
func (tc *TokenSource) ForceRefresh() (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.accessToken = ""
	tc.expiresAt = time.Time{}

	return tc.refresh()
}

// validLocked reports whether the in-memory token is usable. Caller holds tc.mu.
func (tc *TokenSource) validLocked() bool {
	return tc.accessToken != "" && time.Now().Before(tc.expiresAt)
}

// cachedToken is the on-disk token cache format.
type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// loadCacheLocked tries to adopt a still-valid token from the cache file.
// Caller holds tc.mu.
func (tc *TokenSource) loadCacheLocked() bool {
	if tc.cacheFile == "" {
		return false
	}
	data, err := os.ReadFile(tc.cacheFile)
	if err != nil {
		return false
	}
	var ct cachedToken
	if err := json.Unmarshal(data, &ct); err != nil {
		return false
	}
	if ct.AccessToken == "" || !time.Now().Before(ct.ExpiresAt) {
		return false
	}
	tc.accessToken = ct.AccessToken
	tc.expiresAt = ct.ExpiresAt
	return true
}

// saveCacheLocked persists the current token. Failures are ignored: the
// cache is an optimization, not a requirement. Caller holds tc.mu.
func (tc *TokenSource) saveCacheLocked() {
	if tc.cacheFile == "" {
		return
	}
	data, err := json.Marshal(cachedToken{
		AccessToken: tc.accessToken,
		ExpiresAt:   tc.expiresAt,
	})
	if err != nil {
		return
	}
	_ = os.WriteFile(tc.cacheFile, data, 0600)
}

// refresh acquires a new token from the OAuth2 token endpoint.
// The caller must hold tc.mu.
func (tc *TokenSource) refresh() (string, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tc.clientID},
		"client_secret": {tc.clientSecret},
		"scope":         {tc.scope},
	}

	req, err := http.NewRequest(http.MethodPost, tc.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	tc.accessToken = tokenResp.AccessToken
	tc.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - tokenExpiryBuffer)
	tc.saveCacheLocked()

	return tc.accessToken, nil
}
