package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shineum/mailmerge-lite/internal/mailstore"
	"github.com/shineum/mailmerge-lite/internal/provider/graph"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600,"token_type":"Bearer"}`)
	}))
	t.Cleanup(tokenServer.Close)

	graphServer := httptest.NewServer(handler)
	t.Cleanup(graphServer.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := graph.NewWithEndpoints(graph.Config{
		TenantID: "tid", ClientID: "cid", ClientSecret: "secret",
		Sender: "work@example.com",
	}, graphServer.URL, tokenServer.URL, graphServer.Client(), log)

	return New(p, []string{"work@example.com"}, log)
}

func TestMailboxes_ComeFromConfiguration(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("mailbox listing must not hit the API")
	})

	got, err := s.Mailboxes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "work@example.com" {
		t.Errorf("mailboxes: got %v", got)
	}
}

func TestRootFolders_FollowsPagination(t *testing.T) {
	t.Parallel()

	var base string
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"f2","displayName":"Sent","totalItemCount":5}]}`)
			return
		}
		if r.URL.Path != "/users/work@example.com/mailFolders" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"value": []map[string]any{
				{"id": "f1", "displayName": "Inbox", "totalItemCount": 3},
			},
			"@odata.nextLink": base + "/users/work@example.com/mailFolders?page=2",
		})
	})
	base = s.graph.BaseURL()

	got, err := s.RootFolders(context.Background(), "work@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("folders: got %d, want 2 across pages", len(got))
	}
	if got[0].Name != "Inbox" || got[0].ItemCount != 3 {
		t.Errorf("first folder: got %+v", got[0])
	}
	if got[1].Name != "Sent" || got[1].ID != "f2" {
		t.Errorf("second folder: got %+v", got[1])
	}
}

func TestChildFolders_TargetsParentID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/work@example.com/mailFolders/f1/childFolders" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[{"id":"f3","displayName":"Projects","totalItemCount":1}]}`)
	})

	got, err := s.ChildFolders(context.Background(), "work@example.com", mailstore.Folder{ID: "f1", Name: "Inbox"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Projects" {
		t.Errorf("children: got %+v", got)
	}
}

func TestChildFolders_EscapesFolderID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		want := "/users/work@example.com/mailFolders/AQMkAD%2FZQ==/childFolders"
		if r.URL.EscapedPath() != want {
			t.Errorf("path: got %q, want %q", r.URL.EscapedPath(), want)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[]}`)
	})

	if _, err := s.ChildFolders(context.Background(), "work@example.com", mailstore.Folder{ID: "AQMkAD/ZQ=="}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSenders_SelectsFromAndSkipsDraftsWithoutSender(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/work@example.com/mailFolders/f1/messages" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if r.URL.Query().Get("$select") != "from" {
			t.Errorf("$select: got %q, want from", r.URL.Query().Get("$select"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"value":[
			{"from":{"emailAddress":{"name":"Alice","address":"alice@example.com"}}},
			{},
			{"from":{"emailAddress":{"name":"Bob","address":"bob@example.com"}}}
		]}`)
	})

	var got []mailstore.Contact
	err := s.Senders(context.Background(), "work@example.com", mailstore.Folder{ID: "f1"}, func(c mailstore.Contact) error {
		got = append(got, c)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("contacts: got %+v, want 2", got)
	}
	if got[0].Name != "Alice" || got[0].Email != "alice@example.com" {
		t.Errorf("first contact: got %+v", got[0])
	}
}

func TestSenders_ErrorSurfaces(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"ErrorAccessDenied"}}`)
	})

	err := s.Senders(context.Background(), "work@example.com", mailstore.Folder{ID: "f1"}, func(mailstore.Contact) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error for denied folder")
	}
}
