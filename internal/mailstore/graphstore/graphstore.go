// Package graphstore reads folder trees and senders via the Microsoft
// Graph API, reusing the authenticated session of the Graph provider.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/shineum/mailmerge-lite/internal/mailstore"
	"github.com/shineum/mailmerge-lite/internal/provider/graph"
)

// pageSize caps how many entries one Graph page returns.
const pageSize = 100

// Store implements mailstore.Store on top of Graph mailFolders.
type Store struct {
	graph     *graph.Provider
	mailboxes []string
	log       *slog.Logger
}

// New creates a Store sharing the provider's token source and HTTP client.
// The mailbox list comes from configuration; app-only Graph credentials can
// read any mailbox the application was granted, so the host cannot tell us
// which ones the operator cares about.
func New(p *graph.Provider, mailboxes []string, log *slog.Logger) *Store {
	return &Store{graph: p, mailboxes: mailboxes, log: log}
}

// Mailboxes lists the configured account mailboxes.
func (s *Store) Mailboxes(ctx context.Context) ([]string, error) {
	if len(s.mailboxes) == 0 {
		return nil, fmt.Errorf("no mailboxes configured")
	}
	return s.mailboxes, nil
}

// RootFolders lists the top-level folders of a mailbox.
func (s *Store) RootFolders(ctx context.Context, mailbox string) ([]mailstore.Folder, error) {
	u := fmt.Sprintf("%s/users/%s/mailFolders?$top=%d", s.graph.BaseURL(), url.PathEscape(mailbox), pageSize)
	return s.collectFolders(ctx, u)
}

// ChildFolders lists the direct children of a folder.
func (s *Store) ChildFolders(ctx context.Context, mailbox string, parent mailstore.Folder) ([]mailstore.Folder, error) {
	u := fmt.Sprintf("%s/users/%s/mailFolders/%s/childFolders?$top=%d",
		s.graph.BaseURL(), url.PathEscape(mailbox), url.PathEscape(parent.ID), pageSize)
	return s.collectFolders(ctx, u)
}

// Senders streams the sender of every message in a folder, following
// @odata.nextLink pagination.
func (s *Store) Senders(ctx context.Context, mailbox string, folder mailstore.Folder, fn func(mailstore.Contact) error) error {
	next := fmt.Sprintf("%s/users/%s/mailFolders/%s/messages?$select=from&$top=%d",
		s.graph.BaseURL(), url.PathEscape(mailbox), url.PathEscape(folder.ID), pageSize)

	for next != "" {
		var page messagePage
		if err := s.get(ctx, next, &page); err != nil {
			return err
		}
		for _, m := range page.Value {
			if m.From == nil {
				continue
			}
			c := mailstore.Contact{
				Name:  m.From.EmailAddress.Name,
				Email: m.From.EmailAddress.Address,
			}
			if err := fn(c); err != nil {
				return err
			}
		}
		next = page.NextLink
	}
	return nil
}

func (s *Store) collectFolders(ctx context.Context, next string) ([]mailstore.Folder, error) {
	var folders []mailstore.Folder
	for next != "" {
		var page folderPage
		if err := s.get(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, f := range page.Value {
			folders = append(folders, mailstore.Folder{
				ID:        f.ID,
				Name:      f.DisplayName,
				ItemCount: f.TotalItemCount,
			})
		}
		next = page.NextLink
	}
	return folders, nil
}

// get performs one authenticated Graph GET and decodes the JSON response.
func (s *Store) get(ctx context.Context, rawURL string, out any) error {
	token, err := s.graph.TokenSource().Token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.graph.HTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("Graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Graph returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode Graph response: %w", err)
	}
	return nil
}

type folderPage struct {
	Value []struct {
		ID             string `json:"id"`
		DisplayName    string `json:"displayName"`
		TotalItemCount int    `json:"totalItemCount"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type messagePage struct {
	Value []struct {
		From *struct {
			EmailAddress struct {
				Name    string `json:"name"`
				Address string `json:"address"`
			} `json:"emailAddress"`
		} `json:"from"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}
