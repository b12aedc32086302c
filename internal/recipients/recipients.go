// Package recipients validates and loads the tabular recipient list that
// drives a bulk dispatch run.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrSchema indicates the recipient file is missing a required column.
// Schema validation happens before any host session is acquired.
var ErrSchema = errors.New("recipient file schema invalid")

// requiredColumns is the header contract, matched case-insensitively and
// in any order.
var requiredColumns = []string{"Name", "GivenName", "Surname", "Email"}

// Recipient is one row of the recipient list. Instances are read-only and
// discarded after their send attempt.
type Recipient struct {
	Name      string
	GivenName string
	Surname   string
	Email     string
}

// Result holds the validated rows plus per-row rejections.
// A rejected row never aborts loading; it is reported and skipped.
type Result struct {
	Recipients []Recipient
	Rejected   []RowError
}

// RowError records why one input row was rejected.
type RowError struct {
	Line   int
	Reason string
}

// LoadFile reads and validates a recipient CSV from disk.
func LoadFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load reads and validates recipient rows from r. The first record must be
// a header containing all required columns; otherwise ErrSchema is returned
// and no rows are read.
func Load(r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: file is empty", ErrSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Rejected = append(result.Rejected, RowError{
				Line:   line,
				Reason: fmt.Sprintf("malformed row: %v", err),
			})
			continue
		}

		rec := Recipient{
			Name:      field(record, index["name"]),
			GivenName: field(record, index["givenname"]),
			Surname:   field(record, index["surname"]),
			Email:     field(record, index["email"]),
		}

		if reason := validate(rec); reason != "" {
			result.Rejected = append(result.Rejected, RowError{Line: line, Reason: reason})
			continue
		}

		result.Recipients = append(result.Recipients, rec)
	}

	return result, nil
}

// columnIndex maps required column names to their positions in the header.
func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(requiredColumns))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing column(s) %s", ErrSchema, strings.Join(missing, ", "))
	}

	return index, nil
}

// validate returns a rejection reason for an unusable row, or "" when valid.
func validate(r Recipient) string {
	email := strings.TrimSpace(r.Email)
	switch {
	case email == "":
		return "empty email address"
	case !strings.Contains(email, "@"):
		return fmt.Sprintf("implausible email address %q", email)
	}
	return ""
}

// field returns the trimmed value at idx, or "" for short records.
func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
