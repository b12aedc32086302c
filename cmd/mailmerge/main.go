// Package main is the entry point for the bulk mail merge tool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/dispatch"
	"github.com/shineum/mailmerge-lite/internal/identity"
	"github.com/shineum/mailmerge-lite/internal/logging"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/provider/graph"
	"github.com/shineum/mailmerge-lite/internal/provider/ses"
	"github.com/shineum/mailmerge-lite/internal/provider/smtp"
	"github.com/shineum/mailmerge-lite/internal/provider/stdout"
	"github.com/shineum/mailmerge-lite/internal/recipients"
	"github.com/shineum/mailmerge-lite/internal/session"
	"github.com/shineum/mailmerge-lite/internal/template"
	"github.com/shineum/mailmerge-lite/internal/tlsutil"
)

func main() {
	var (
		configPath      = flag.String("config", "", "path to YAML configuration file (optional)")
		templatePath    = flag.String("template", "", "mail template file (html, docx, odt, ...)")
		subject         = flag.String("subject", "", "message subject")
		recipientsPath  = flag.String("recipients", "", "recipient CSV file (Name, GivenName, Surname, Email)")
		from            = flag.String("from", "", "sender address; empty uses the host default")
		attach          = flag.String("attach", "", "file to attach to every message (optional)")
		highImportance  = flag.Bool("high-importance", false, "flag messages as high importance")
		deliveryReceipt = flag.Bool("delivery-receipt", false, "request a delivery receipt per message")
		readReceipt     = flag.Bool("read-receipt", false, "request a read receipt per message")
		dryRun          = flag.Bool("dry-run", false, "print messages instead of sending")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logRun, err := logging.New(cfg.Logging.Dir, "mailmerge", cfg.Logging.Level)
	if err != nil {
		slog.Error("failed to open run log", "error", err)
		os.Exit(1)
	}
	defer logRun.Close()
	log := logRun.Logger

	// Validate inputs before touching any session.
	if *templatePath == "" || *recipientsPath == "" || *subject == "" {
		log.Error("missing required flags", "required", "-template, -subject, -recipients")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*templatePath); err != nil {
		log.Error("template file not accessible", "path", *templatePath, "error", err)
		os.Exit(1)
	}

	result, err := recipients.LoadFile(*recipientsPath)
	if err != nil {
		log.Error("failed to load recipients", "path", *recipientsPath, "error", err)
		os.Exit(1)
	}
	for _, rej := range result.Rejected {
		log.Warn("skipping recipient row", "line", rej.Line, "reason", rej.Reason)
	}
	if len(result.Recipients) == 0 {
		log.Error("no valid recipients", "path", *recipientsPath)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document session first: rendering must succeed before any mail
	// session is opened.
	renderer := template.NewRenderer(cfg.Template.ConverterCmd, log)
	docHandle, err := session.Acquire(ctx, log, renderer.Connector(*templatePath))
	if err != nil {
		log.Error("document session unavailable", "error", err)
		os.Exit(1)
	}
	defer docHandle.Release(ctx)

	body, err := renderer.Render(ctx, *templatePath)
	if err != nil {
		log.Error("failed to render template", "path", *templatePath, "error", err)
		os.Exit(1)
	}

	prov, connector := selectProvider(ctx, cfg, log, *dryRun)
	if connector != nil {
		mailHandle, err := session.Acquire(ctx, log, connector)
		if err != nil {
			log.Error("mail session unavailable", "error", err)
			os.Exit(1)
		}
		defer mailHandle.Release(ctx)
	}

	ident := identity.Resolve(ctx, identity.StaticDirectory(cfg.Accounts), *from)
	if !ident.IsValid {
		log.Warn("no configured account matches the requested sender; using the host default",
			"requested", *from,
		)
		ident = identity.SenderIdentity{IsValid: true}
	}

	report := dispatch.New(prov, log).Run(ctx, body, result.Recipients, ident, dispatch.Options{
		Subject:         *subject,
		AttachmentPath:  *attach,
		HighImportance:  *highImportance,
		DeliveryReceipt: *deliveryReceipt,
		ReadReceipt:     *readReceipt,
		Throttle:        time.Duration(cfg.Dispatch.ThrottleMS) * time.Millisecond,
	})

	log.Info("dispatch finished",
		"provider", prov.Name(),
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"failed", len(report.Failures),
		"log", logRun.Path,
	)
	fmt.Printf("Sent %d/%d messages", report.Succeeded, report.Attempted)
	if len(report.Failures) > 0 {
		fmt.Printf(" (%d failed, see %s)", len(report.Failures), logRun.Path)
	}
	fmt.Println()
}

// loadConfig loads configuration from the specified path (YAML + env
// override) or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// selectProvider chooses the delivery backend based on configuration. The
// returned connector is nil for backends with no session to manage.
func selectProvider(ctx context.Context, cfg *config.Config, log *slog.Logger, dryRun bool) (provider.Provider, session.Connector) {
	if dryRun {
		log.Info("dry run, printing messages to stdout")
		return stdout.New(), nil
	}

	switch cfg.Provider {
	case "graph":
		if !cfg.GraphConfigured() {
			log.Error("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
			os.Exit(1)
		}
		return newGraphProvider(cfg, log)

	case "ses":
		if !cfg.SESConfigured() {
			log.Error("SES provider selected but SES_REGION and SES_SENDER are required")
			os.Exit(1)
		}
		return newSESProvider(ctx, cfg, log)

	case "smtp":
		if !cfg.SMTPConfigured() {
			log.Error("SMTP provider selected but SMTP_HOST is required")
			os.Exit(1)
		}
		return newSMTPProvider(cfg, log)

	case "stdout":
		log.Info("using stdout provider")
		return stdout.New(), nil

	case "":
		// Auto-detection: prefer the richest configured backend.
		if cfg.GraphConfigured() {
			return newGraphProvider(cfg, log)
		}
		if cfg.SESConfigured() {
			return newSESProvider(ctx, cfg, log)
		}
		if cfg.SMTPConfigured() {
			return newSMTPProvider(cfg, log)
		}
		log.Info("no provider configured, using stdout provider")
		return stdout.New(), nil

	default:
		log.Error("unknown provider", "provider", cfg.Provider)
		os.Exit(1)
		return nil, nil
	}
}

func newGraphProvider(cfg *config.Config, log *slog.Logger) (provider.Provider, session.Connector) {
	log.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
	p := graph.New(graph.Config{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Sender:       cfg.Graph.Sender,
		TokenCache:   cfg.Graph.TokenCache,
	}, log)
	return p, p.Connector()
}

func newSESProvider(ctx context.Context, cfg *config.Config, log *slog.Logger) (provider.Provider, session.Connector) {
	log.Info("using AWS SES provider", "region", cfg.SES.Region, "sender", cfg.SES.Sender)
	p, err := ses.New(ctx, ses.Config{
		Region:          cfg.SES.Region,
		AccessKeyID:     cfg.SES.AccessKeyID,
		SecretAccessKey: cfg.SES.SecretAccessKey,
		Sender:          cfg.SES.Sender,
	}, log)
	if err != nil {
		log.Error("failed to create SES provider", "error", err)
		os.Exit(1)
	}
	return p, p.Connector()
}

func newSMTPProvider(cfg *config.Config, log *slog.Logger) (provider.Provider, session.Connector) {
	log.Info("using SMTP provider", "host", cfg.SMTP.Host, "port", cfg.SMTP.Port)
	tlsCfg, err := tlsutil.ClientConfig(cfg.SMTP.Host, cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
	if err != nil {
		log.Error("failed to build TLS configuration", "error", err)
		os.Exit(1)
	}
	p := smtp.New(smtp.Config{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		Username:  cfg.SMTP.Username,
		Password:  cfg.SMTP.Password,
		TLSMode:   cfg.SMTP.TLSMode,
		Sender:    cfg.PrimaryAccount(),
		TLSConfig: tlsCfg,
	}, log)
	return p, p.Connector()
}
