// Package imapstore reads folder trees and senders over IMAP, one
// connection per configured account.
package imapstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/shineum/mailmerge-lite/internal/mailstore"
	"github.com/shineum/mailmerge-lite/internal/session"
)

// Account describes one IMAP account the store can read.
type Account struct {
	// Name is the mailbox identity shown in output, usually the address.
	Name string

	Host     string
	Port     int
	Username string
	Password string
	StartTLS bool

	// TLSConfig applies to both implicit TLS and STARTTLS connections.
	TLSConfig *tls.Config
}

// Store implements mailstore.Store over IMAP. Connections are opened
// lazily per account and reused until Close.
type Store struct {
	accounts []Account
	log      *slog.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

type conn struct {
	client *imapclient.Client
	delim  string
}

// New creates a Store over the given accounts.
func New(accounts []Account, log *slog.Logger) *Store {
	return &Store{
		accounts: accounts,
		log:      log,
		conns:    make(map[string]*conn),
	}
}

// Mailboxes lists the configured account names.
func (s *Store) Mailboxes(ctx context.Context) ([]string, error) {
	if len(s.accounts) == 0 {
		return nil, fmt.Errorf("no IMAP accounts configured")
	}
	names := make([]string, 0, len(s.accounts))
	for _, a := range s.accounts {
		names = append(names, a.Name)
	}
	return names, nil
}

// RootFolders lists the top-level folders of a mailbox. The LIST response
// carries per-folder STATUS so item counts arrive in one round trip.
func (s *Store) RootFolders(ctx context.Context, mailbox string) ([]mailstore.Folder, error) {
	return s.list(ctx, mailbox, "%")
}

// ChildFolders lists the direct children of a folder.
func (s *Store) ChildFolders(ctx context.Context, mailbox string, parent mailstore.Folder) ([]mailstore.Folder, error) {
	c, err := s.conn(mailbox)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, mailbox, parent.ID+c.delim+"%")
}

func (s *Store) list(ctx context.Context, mailbox, pattern string) ([]mailstore.Folder, error) {
	c, err := s.conn(mailbox)
	if err != nil {
		return nil, err
	}

	listCmd := c.client.List("", pattern, &imap.ListOptions{
		ReturnStatus: &imap.StatusOptions{NumMessages: true},
	})
	entries, err := listCmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("LIST %q failed: %w", pattern, err)
	}

	folders := make([]mailstore.Folder, 0, len(entries))
	for _, e := range entries {
		if c.delim == "" && e.Delim != 0 {
			c.delim = string(e.Delim)
		}

		count := 0
		if e.Status != nil && e.Status.NumMessages != nil {
			count = int(*e.Status.NumMessages)
		} else if sd, err := c.client.Status(e.Mailbox, &imap.StatusOptions{NumMessages: true}).Wait(); err == nil && sd.NumMessages != nil {
			count = int(*sd.NumMessages)
		}

		folders = append(folders, mailstore.Folder{
			ID:        e.Mailbox,
			Name:      leafName(e.Mailbox, c.delim),
			ItemCount: count,
		})
	}
	return folders, nil
}

// Senders fetches the envelope of every message in the folder and streams
// the From addresses.
func (s *Store) Senders(ctx context.Context, mailbox string, folder mailstore.Folder, fn func(mailstore.Contact) error) error {
	c, err := s.conn(mailbox)
	if err != nil {
		return err
	}

	sel, err := c.client.Select(folder.ID, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("SELECT %q failed: %w", folder.ID, err)
	}
	if sel.NumMessages == 0 {
		return nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, sel.NumMessages)

	fetchCmd := c.client.Fetch(seqSet, &imap.FetchOptions{Envelope: true})
	defer fetchCmd.Close()

	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		if buf.Envelope == nil || len(buf.Envelope.From) == 0 {
			continue
		}
		from := buf.Envelope.From[0]
		contact := mailstore.Contact{
			Name:  from.Name,
			Email: from.Addr(),
		}
		if err := fn(contact); err != nil {
			return err
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return fmt.Errorf("fetching envelopes of %q: %w", folder.ID, err)
	}
	return nil
}

// Close logs out every open connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, c := range s.conns {
		if err := c.client.Logout().Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("logout of %s failed: %w", name, err)
		}
		delete(s.conns, name)
	}
	return firstErr
}

// conn returns the cached connection for the mailbox, dialing it if needed.
func (s *Store) conn(mailbox string) (*conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conns[mailbox]; ok {
		return c, nil
	}

	acct, ok := s.account(mailbox)
	if !ok {
		return nil, fmt.Errorf("unknown mailbox %q", mailbox)
	}

	client, err := dial(acct)
	if err != nil {
		return nil, err
	}
	if err := client.Login(acct.Username, acct.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("IMAP login for %s failed: %w", acct.Name, err)
	}

	s.log.Debug("IMAP connection established", "account", acct.Name, "host", acct.Host)
	c := &conn{client: client}
	s.conns[mailbox] = c
	return c, nil
}

func (s *Store) account(name string) (Account, bool) {
	for _, a := range s.accounts {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Account{}, false
}

func dial(acct Account) (*imapclient.Client, error) {
	port := acct.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(acct.Host, strconv.Itoa(port))
	opts := &imapclient.Options{TLSConfig: acct.TLSConfig}

	var (
		client *imapclient.Client
		err    error
	)
	if acct.StartTLS {
		client, err = imapclient.DialStartTLS(addr, opts)
	} else {
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return client, nil
}

func leafName(full, delim string) string {
	if delim == "" {
		return full
	}
	if i := strings.LastIndex(full, delim); i >= 0 {
		return full[i+len(delim):]
	}
	return full
}

// Connector returns the session connector for this store. Probing attaches
// to an already-pooled live connection when one answers NOOP; Start dials
// and logs in the first account fresh.
func (s *Store) Connector() session.Connector {
	return &connector{s: s}
}

type connector struct {
	s *Store
}

func (c *connector) Kind() session.Kind { return session.KindMail }

func (c *connector) Probe(ctx context.Context) (session.Session, error) {
	if len(c.s.accounts) == 0 {
		return nil, fmt.Errorf("no IMAP accounts configured")
	}

	c.s.mu.Lock()
	pooled, ok := c.s.conns[c.s.accounts[0].Name]
	c.s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pooled IMAP connection")
	}
	if err := pooled.client.Noop().Wait(); err != nil {
		return nil, fmt.Errorf("pooled IMAP connection is dead: %w", err)
	}
	return &storeSession{s: c.s}, nil
}

func (c *connector) Start(ctx context.Context) (session.Session, error) {
	if len(c.s.accounts) == 0 {
		return nil, fmt.Errorf("no IMAP accounts configured")
	}
	if _, err := c.s.conn(c.s.accounts[0].Name); err != nil {
		return nil, err
	}
	return &storeSession{s: c.s}, nil
}

type storeSession struct {
	s *Store
}

func (ss *storeSession) Kind() session.Kind { return session.KindMail }

func (ss *storeSession) Close(context.Context) error {
	return ss.s.Close()
}

// Verify checks the first account answers a STATUS on its Inbox.
func (ss *storeSession) Verify(ctx context.Context) error {
	c, err := ss.s.conn(ss.s.accounts[0].Name)
	if err != nil {
		return err
	}
	if _, err := c.client.Status("INBOX", &imap.StatusOptions{NumMessages: true}).Wait(); err != nil {
		return fmt.Errorf("INBOX status probe failed: %w", err)
	}
	return nil
}
