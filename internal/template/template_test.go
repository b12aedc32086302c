package template

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/shineum/mailmerge-lite/internal/session"
)

func testRenderer(converterCmd string) *Renderer {
	return NewRenderer(converterCmd, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeTemplate(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
	return path
}

func TestRender_HTMLPassthrough(t *testing.T) {
	t.Parallel()

	path := writeTemplate(t, "body.html", `<html><body><p style="color:red">Hello [GivenName]</p></body></html>`)

	got, err := testRenderer("").Render(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "Hello [GivenName]") {
		t.Errorf("placeholder lost in:\n%s", got)
	}
	if !strings.Contains(got, `style="color:red"`) {
		t.Errorf("inline style lost in:\n%s", got)
	}
}

func TestRender_MissingTemplate(t *testing.T) {
	t.Parallel()

	_, err := testRenderer("").Render(context.Background(), filepath.Join(t.TempDir(), "absent.html"))
	if err == nil {
		t.Fatal("expected error for missing template")
	}
}

// fakeConverter writes a small shell script that mimics the converter CLI:
// it ignores the flags and drops a fixed HTML file into the --outdir.
func fakeConverter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script converter stub")
	}

	script := `#!/bin/sh
# $1=--headless $2=--convert-to $3=html $4=--outdir $5=dir $6=file
dir="$5"
file="$6"
name=$(basename "$file")
printf '%s' '` + body + `' > "$dir/${name%.*}.html"
`
	path := filepath.Join(t.TempDir(), "fake-soffice")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write converter stub: %v", err)
	}
	return path
}

func TestRender_ExternalConversion(t *testing.T) {
	t.Parallel()

	conv := fakeConverter(t, "<p>converted body</p>")
	path := writeTemplate(t, "letter.docx", "binary-ish")

	got, err := testRenderer(conv).Render(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "converted body") {
		t.Errorf("converted content missing in:\n%s", got)
	}
}

func TestRender_ConverterProducesNothing(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("shell script converter stub")
	}
	script := "#!/bin/sh\nexit 0\n"
	conv := filepath.Join(t.TempDir(), "noop-soffice")
	if err := os.WriteFile(conv, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write converter stub: %v", err)
	}

	path := writeTemplate(t, "letter.docx", "x")
	_, err := testRenderer(conv).Render(context.Background(), path)
	if err == nil {
		t.Fatal("expected error when output never materializes")
	}
}

func TestSanitize_StripsActiveContent(t *testing.T) {
	t.Parallel()

	src := `<html><body>
<script>alert(1)</script>
<iframe src="https://evil.example"></iframe>
<p onclick="steal()">Click</p>
<a href="javascript:alert(1)">link</a>
<img src="data:image/png;base64,AAAA" alt="logo">
<style>p { color: blue; }</style>
</body></html>`

	got, err := Sanitize(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, banned := range []string{"<script", "<iframe", "onclick", "javascript:"} {
		if strings.Contains(got, banned) {
			t.Errorf("sanitized output still contains %q:\n%s", banned, got)
		}
	}
	for _, kept := range []string{"data:image/png", "<style>", "Click", "link"} {
		if !strings.Contains(got, kept) {
			t.Errorf("sanitized output lost %q:\n%s", kept, got)
		}
	}
}

func TestConnector_HTMLAttaches(t *testing.T) {
	t.Parallel()

	r := testRenderer("")
	c := r.Connector("body.html")

	if c.Kind() != session.KindDocument {
		t.Errorf("Kind: got %v, want KindDocument", c.Kind())
	}
	sess, err := c.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: unexpected error for HTML template: %v", err)
	}
	if err := sess.Close(context.Background()); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
}

func TestConnector_DocumentNeedsConverter(t *testing.T) {
	t.Parallel()

	r := testRenderer(filepath.Join(t.TempDir(), "missing-converter"))
	c := r.Connector("letter.docx")

	if _, err := c.Probe(context.Background()); err == nil {
		t.Error("Probe: expected error for non-HTML template")
	}
	if _, err := c.Start(context.Background()); err == nil {
		t.Error("Start: expected error for missing converter binary")
	}
}

func TestConnector_StartFindsConverter(t *testing.T) {
	t.Parallel()

	conv := fakeConverter(t, "<p>x</p>")
	c := testRenderer(conv).Connector("letter.docx")

	sess, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	if sess.Kind() != session.KindDocument {
		t.Errorf("Kind: got %v, want KindDocument", sess.Kind())
	}
}
