// Package template turns a mail template file into a sanitized HTML body.
//
// HTML templates are read directly. Anything else (docx, odt, rtf) is handed
// to an external document converter; LibreOffice writes the converted file
// asynchronously, so the read is retried on a short backoff schedule.
package template

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/shineum/mailmerge-lite/internal/retry"
	"github.com/shineum/mailmerge-lite/internal/session"
)

// DefaultConverter is the document converter binary used when none is
// configured.
const DefaultConverter = "soffice"

// readAttempts bounds how often the converted output file is polled.
const readAttempts = 5

// readRetryBase is the initial delay between output file reads.
const readRetryBase = 200 * time.Millisecond

// Renderer converts template files into sanitized HTML bodies.
type Renderer struct {
	converterCmd string
	log          *slog.Logger
}

// NewRenderer creates a Renderer using the given converter command.
func NewRenderer(converterCmd string, log *slog.Logger) *Renderer {
	if converterCmd == "" {
		converterCmd = DefaultConverter
	}
	return &Renderer{converterCmd: converterCmd, log: log}
}

// Render loads the template at path and returns its sanitized HTML body.
func (r *Renderer) Render(ctx context.Context, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if isHTML(path) {
		data, err = os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read template: %w", err)
		}
	} else {
		data, err = r.convert(ctx, path)
		if err != nil {
			return "", err
		}
	}

	decoded, err := decode(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode template: %w", err)
	}

	clean, err := Sanitize(string(decoded))
	if err != nil {
		return "", fmt.Errorf("failed to sanitize template: %w", err)
	}
	return clean, nil
}

// isHTML reports whether the template can be used without conversion.
func isHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// convert runs the external converter and collects the produced HTML file.
func (r *Renderer) convert(ctx context.Context, path string) ([]byte, error) {
	if _, err := exec.LookPath(r.converterCmd); err != nil {
		return nil, fmt.Errorf("document converter %q not found in PATH: %w", r.converterCmd, err)
	}

	outDir, err := os.MkdirTemp("", "mailmerge-render-")
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, r.converterCmd,
		"--headless", "--convert-to", "html", "--outdir", outDir, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("conversion failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	base := filepath.Base(path)
	outFile := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".html")

	// The converter may report success before the output file is flushed.
	var data []byte
	err = retry.Do(ctx, readAttempts, retry.Backoff(readRetryBase), func(ctx context.Context) error {
		b, err := os.ReadFile(outFile)
		if err != nil {
			return err
		}
		if len(b) == 0 {
			return fmt.Errorf("converted file %s is empty", outFile)
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("converted output never materialized: %w", err)
	}

	r.log.Debug("template converted", "template", path, "bytes", len(data))
	return data, nil
}

// decode normalizes the template bytes to UTF-8, sniffing the charset from
// the content itself.
func decode(data []byte) ([]byte, error) {
	reader, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

// Connector returns the document session connector for the given template.
// HTML templates need no converter, so probing attaches immediately;
// starting a session for anything else checks the converter binary exists.
func (r *Renderer) Connector(templatePath string) session.Connector {
	return &docConnector{r: r, path: templatePath}
}

type docConnector struct {
	r    *Renderer
	path string
}

func (c *docConnector) Kind() session.Kind { return session.KindDocument }

func (c *docConnector) Probe(ctx context.Context) (session.Session, error) {
	if !isHTML(c.path) {
		return nil, fmt.Errorf("template %s requires the document converter", filepath.Base(c.path))
	}
	return &docSession{}, nil
}

func (c *docConnector) Start(ctx context.Context) (session.Session, error) {
	if _, err := exec.LookPath(c.r.converterCmd); err != nil {
		return nil, fmt.Errorf("document converter %q not found in PATH: %w", c.r.converterCmd, err)
	}
	return &docSession{}, nil
}

// docSession represents access to the document conversion step. The
// converter runs per invocation, so Close has nothing to tear down.
type docSession struct{}

func (*docSession) Kind() session.Kind { return session.KindDocument }

func (*docSession) Close(context.Context) error { return nil }
