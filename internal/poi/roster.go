package poi

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// Static errors for roster parsing.
var (
	// ErrNoNameColumn is returned when the roster header has no Name column.
	ErrNoNameColumn = errors.New("poi: roster has no Name column")
)

// Entry is one roster row.
type Entry struct {
	// Line is the 1-based line of the row in the roster file.
	Line int
	// DisplayName is the Name column as written.
	DisplayName string
	// Name is the sanitized identity key.
	Name string `validate:"notblank"`
	// URLs lists the media links of the row, when a Urls column exists.
	URLs []string
}

// SkippedRow records a roster row that was not turned into an Entry.
type SkippedRow struct {
	Line   int
	Name   string
	Reason string
}

// Roster is the parsed list of POIs in file order.
type Roster struct {
	Entries []Entry
	Skipped []SkippedRow
	// HasURLs reports whether the roster carries a Urls column.
	HasURLs bool
}

// ReadRosterFile reads the CSV roster at path.
func ReadRosterFile(path string) (*Roster, error) {
	f, err := os.Open(path) // #nosec G304 - roster path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	return ReadRoster(f)
}

// ReadRoster parses a CSV roster with a header row. A Name column is
// required; a Urls column is optional. Rows whose name is blank after
// sanitization are skipped. Rows without media links are kept: their
// recordings may already be on disk.
func ReadRoster(r io.Reader) (*Roster, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}

	nameCol, urlsCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "Name":
			nameCol = i
		case "Urls":
			urlsCol = i
		}
	}
	if nameCol < 0 {
		return nil, ErrNoNameColumn
	}

	validate := validator.New()
	if err := validate.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, fmt.Errorf("register roster validation: %w", err)
	}
	roster := &Roster{HasURLs: urlsCol >= 0}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		line, _ := cr.FieldPos(0)

		raw := field(record, nameCol)
		display := strings.TrimSpace(raw)
		entry := Entry{Line: line, DisplayName: display, Name: Sanitize(raw)}

		if err := validate.Struct(entry); err != nil {
			roster.Skipped = append(roster.Skipped, SkippedRow{Line: line, Name: display, Reason: "empty name"})
			continue
		}

		if urlsCol >= 0 {
			entry.URLs = parseURLs(cell(record, urlsCol))
		}

		roster.Entries = append(roster.Entries, entry)
	}

	return roster, nil
}

// field returns the i-th value of record as written.
func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return record[i]
}

func cell(record []string, i int) string {
	return strings.TrimSpace(field(record, i))
}

// parseURLs accepts a bare URL, a whitespace or comma separated list, or
// a bracketed list literal such as ['a', 'b'].
func parseURLs(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	var urls []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	}) {
		f = strings.Trim(f, `'"`)
		if f != "" {
			urls = append(urls, f)
		}
	}
	return urls
}
