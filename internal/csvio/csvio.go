// Package csvio writes folder listings and contact exports as CSV files.
package csvio

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailmerge-lite/internal/mailstore"
)

// WriteFolders writes one row per folder node.
func WriteFolders(w io.Writer, nodes []mailstore.FolderNode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Mailbox", "FolderPath", "ItemCount"}); err != nil {
		return err
	}
	for _, n := range nodes {
		if err := cw.Write([]string{n.Mailbox, n.FolderPath, strconv.Itoa(n.ItemCount)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteContacts writes one row per contact.
func WriteContacts(w io.Writer, contacts []mailstore.Contact) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Name", "Email"}); err != nil {
		return err
	}
	for _, c := range contacts {
		if err := cw.Write([]string{c.Name, c.Email}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ResolveTarget decides where an export may be written. A fresh path is
// used as-is. When the path already exists the confirm callback is asked
// whether to overwrite; a declined overwrite diverts to a timestamped
// sibling so the existing file survives.
func ResolveTarget(path string, confirm func(path string) bool, now time.Time) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	if confirm != nil && confirm(path) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%s%s", base, now.Format("20060102_150405"), ext)
}

// PromptOverwrite returns a confirm callback that asks on out and reads the
// answer from in. Anything but an explicit yes declines.
func PromptOverwrite(in io.Reader, out io.Writer) func(string) bool {
	reader := bufio.NewReader(in)
	return func(path string) bool {
		fmt.Fprintf(out, "%s already exists. Overwrite? [y/N]: ", path)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}
