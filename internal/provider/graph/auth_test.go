package graph

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.FormValue("grant_type") != "client_credentials" {
			t.Errorf("grant_type: got %q, want %q", r.FormValue("grant_type"), "client_credentials")
		}
		if r.FormValue("scope") != "https://graph.microsoft.com/.default" {
			t.Errorf("scope: got %q, want Graph default scope", r.FormValue("scope"))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "test-access-token",
			ExpiresIn:   3600,
			TokenType:   "Bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTokenSource_AcquiresToken(t *testing.T) {
	t.Parallel()

	server := newTokenServer(t, nil)
	tc := NewTokenSource(server.URL, "cid", "secret", "", server.Client())

	token, err := tc.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "test-access-token" {
		t.Errorf("token: got %q, want %q", token, "test-access-token")
	}
}

func TestTokenSource_CachesInMemory(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTokenServer(t, &calls)
	tc := NewTokenSource(server.URL, "cid", "secret", "", server.Client())

	for i := 0; i < 3; i++ {
		if _, err := tc.Token(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint calls: got %d, want 1", calls.Load())
	}
}

func TestTokenSource_CachedProbe(t *testing.T) {
	t.Parallel()

	server := newTokenServer(t, nil)
	tc := NewTokenSource(server.URL, "cid", "secret", "", server.Client())

	if _, ok := tc.Cached(); ok {
		t.Error("Cached: got true before any token exchange")
	}
	if _, err := tc.Token(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := tc.Cached(); !ok {
		t.Error("Cached: got false after successful exchange")
	}
}

func TestTokenSource_DiskCacheSurvivesNewSource(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTokenServer(t, &calls)
	cacheFile := filepath.Join(t.TempDir(), "token.json")

	tc1 := NewTokenSource(server.URL, "cid", "secret", cacheFile, server.Client())
	if _, err := tc1.Token(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh source simulating a later process run: it should attach to the
	// persisted token without hitting the endpoint again.
	tc2 := NewTokenSource(server.URL, "cid", "secret", cacheFile, server.Client())
	if _, ok := tc2.Cached(); !ok {
		t.Error("Cached: got false, want attach via disk cache")
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint calls: got %d, want 1", calls.Load())
	}
}

func TestTokenSource_ForceRefreshDiscardsToken(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTokenServer(t, &calls)
	tc := NewTokenSource(server.URL, "cid", "secret", "", server.Client())

	if _, err := tc.Token(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tc.ForceRefresh(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("token endpoint calls: got %d, want 2", calls.Load())
	}
}

func TestTokenSource_ErrorResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	t.Cleanup(server.Close)

	tc := NewTokenSource(server.URL, "cid", "bad-secret", "", server.Client())
	if _, err := tc.Token(); err == nil {
		t.Fatal("expected error for rejected credentials")
	}
}

func TestTokenSource_ExpiredDiskCacheIgnored(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTokenServer(t, &calls)
	cacheFile := filepath.Join(t.TempDir(), "token.json")

	data, _ := json.Marshal(cachedToken{
		AccessToken: "stale-token",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})
	if err := os.WriteFile(cacheFile, data, 0600); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	tc := NewTokenSource(server.URL, "cid", "secret", cacheFile, server.Client())
	if _, ok := tc.Cached(); ok {
		t.Error("Cached: got true for expired disk cache")
	}

	token, err := tc.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "test-access-token" {
		t.Errorf("token: got %q, want fresh token", token)
	}
	if calls.Load() != 1 {
		t.Errorf("token endpoint calls: got %d, want 1", calls.Load())
	}
}
