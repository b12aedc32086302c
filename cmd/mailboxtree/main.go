// Package main is the entry point for the mailbox folder tooling: folder
// tree listings and per-folder contact extraction, both exported as CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/csvio"
	"github.com/shineum/mailmerge-lite/internal/logging"
	"github.com/shineum/mailmerge-lite/internal/mailstore"
	"github.com/shineum/mailmerge-lite/internal/mailstore/graphstore"
	"github.com/shineum/mailmerge-lite/internal/mailstore/imapstore"
	"github.com/shineum/mailmerge-lite/internal/provider/graph"
	"github.com/shineum/mailmerge-lite/internal/session"
	"github.com/shineum/mailmerge-lite/internal/tlsutil"
)

func main() {
	var (
		configPath    = flag.String("config", "", "path to YAML configuration file (optional)")
		listFolders   = flag.Bool("list-folders", false, "export the folder tree of every mailbox")
		extractEmails = flag.Bool("extract-emails", false, "export the unique senders of one folder")
		mailbox       = flag.String("mailbox", "", "restrict to one mailbox (required with -extract-emails)")
		folder        = flag.String("folder", "", `folder path for -extract-emails, e.g. Inbox\Projects`)
		outPath       = flag.String("out", "", "output CSV path (default under the configured output dir)")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logRun, err := logging.New(cfg.Logging.Dir, "mailboxtree", cfg.Logging.Level)
	if err != nil {
		slog.Error("failed to open run log", "error", err)
		os.Exit(1)
	}
	defer logRun.Close()
	log := logRun.Logger

	if *listFolders == *extractEmails {
		fmt.Fprintln(os.Stderr, "exactly one of -list-folders or -extract-emails is required")
		flag.Usage()
		os.Exit(1)
	}
	if *extractEmails && (*mailbox == "" || *folder == "") {
		log.Error("missing required flags", "required", "-mailbox and -folder with -extract-emails")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, connector := selectStore(cfg, log)
	handle, err := session.Acquire(ctx, log, connector)
	if err != nil {
		log.Error("mail session unavailable", "error", err)
		os.Exit(1)
	}
	defer handle.Release(ctx)

	var runErr error
	if *listFolders {
		runErr = runListFolders(ctx, cfg, log, store, *mailbox, *outPath)
	} else {
		runErr = runExtractEmails(ctx, cfg, log, store, *mailbox, *folder, *outPath)
	}
	if runErr != nil {
		log.Error("run failed", "error", runErr)
		os.Exit(1)
	}
}

func runListFolders(ctx context.Context, cfg *config.Config, log *slog.Logger, store mailstore.Store, mailbox, outPath string) error {
	var nodes []mailstore.FolderNode
	stats, err := mailstore.NewWalker(store, log).Walk(ctx, mailbox, func(n mailstore.FolderNode) error {
		nodes = append(nodes, n)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("folder walk finished",
		"mailboxes", stats.Mailboxes,
		"folders", stats.Folders,
		"failed_branches", stats.FailedBranches,
	)

	target := resolveOut(cfg, outPath, "mailbox_folders.csv")
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer f.Close()

	if err := csvio.WriteFolders(f, nodes); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	fmt.Printf("Wrote %d folders to %s\n", len(nodes), target)
	return nil
}

func runExtractEmails(ctx context.Context, cfg *config.Config, log *slog.Logger, store mailstore.Store, mailbox, folder, outPath string) error {
	contacts, err := mailstore.ExtractContacts(ctx, store, mailbox, folder)
	if err != nil {
		return err
	}
	log.Info("contacts extracted", "mailbox", mailbox, "folder", folder, "count", len(contacts))

	target := resolveOut(cfg, outPath, "contacts.csv")
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer f.Close()

	if err := csvio.WriteContacts(f, contacts); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	fmt.Printf("Wrote %d contacts to %s\n", len(contacts), target)
	return nil
}

// resolveOut picks the output path, asking before overwriting an existing
// file and diverting to a timestamped name when declined.
func resolveOut(cfg *config.Config, outPath, defaultName string) string {
	if outPath == "" {
		outPath = filepath.Join(cfg.Output.Dir, defaultName)
	}
	return csvio.ResolveTarget(outPath, csvio.PromptOverwrite(os.Stdin, os.Stdout), time.Now())
}

// selectStore chooses the mailstore backend based on configuration.
func selectStore(cfg *config.Config, log *slog.Logger) (mailstore.Store, session.Connector) {
	store := cfg.Store
	if store == "" {
		if cfg.GraphConfigured() {
			store = "graph"
		} else if cfg.IMAPConfigured() {
			store = "imap"
		}
	}

	switch store {
	case "graph":
		if !cfg.GraphConfigured() {
			log.Error("Graph store selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
			os.Exit(1)
		}
		log.Info("using Microsoft Graph mailstore")
		p := graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
			TokenCache:   cfg.Graph.TokenCache,
		}, log)
		mailboxes := cfg.Accounts
		if len(mailboxes) == 0 {
			mailboxes = []string{cfg.Graph.Sender}
		}
		return graphstore.New(p, mailboxes, log), p.Connector()

	case "imap":
		if !cfg.IMAPConfigured() {
			log.Error("IMAP store selected but no IMAP accounts are configured")
			os.Exit(1)
		}
		log.Info("using IMAP mailstore", "accounts", len(cfg.IMAP))
		accounts := make([]imapstore.Account, 0, len(cfg.IMAP))
		for _, a := range cfg.IMAP {
			tlsCfg, err := tlsutil.ClientConfig(a.Host, cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
			if err != nil {
				log.Error("failed to build TLS configuration", "host", a.Host, "error", err)
				os.Exit(1)
			}
			accounts = append(accounts, imapstore.Account{
				Name:      a.Name,
				Host:      a.Host,
				Port:      a.Port,
				Username:  a.Username,
				Password:  a.Password,
				StartTLS:  a.StartTLS,
				TLSConfig: tlsCfg,
			})
		}
		s := imapstore.New(accounts, log)
		return s, s.Connector()

	default:
		log.Error("no mailstore configured; set MAILSTORE or configure Graph or IMAP access")
		os.Exit(1)
		return nil, nil
	}
}

// loadConfig loads configuration from the specified path (YAML + env
// override) or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
