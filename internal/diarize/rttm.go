package diarize

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/maauso/poiclip/internal/media"
)

// RTTMDiarizer reads turns from precomputed RTTM files, one file per
// recording named {basename}.rttm inside a folder. Only SPEAKER records
// are used:
//
//	SPEAKER <file> <chan> <start> <duration> <NA> <NA> <label> <NA> <NA>
type RTTMDiarizer struct {
	folder string
}

// NewRTTMDiarizer creates a diarizer reading from folder.
func NewRTTMDiarizer(folder string) *RTTMDiarizer {
	return &RTTMDiarizer{folder: folder}
}

// Path returns the RTTM file consulted for the recording at path.
func (d *RTTMDiarizer) Path(recording string) string {
	return filepath.Join(d.folder, media.Basename(recording)+".rttm")
}

// Diarize implements Diarizer.Diarize.
func (d *RTTMDiarizer) Diarize(ctx context.Context, path string) iter.Seq2[Turn, error] {
	return func(yield func(Turn, error) bool) {
		rttm := d.Path(path)
		f, err := os.Open(rttm) // #nosec G304 - path is derived from configured folder
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = fmt.Errorf("%w: %s", ErrNotFound, rttm)
			}
			yield(Turn{}, fmt.Errorf("diarize %s: %w", path, err))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for n := 1; scanner.Scan(); n++ {
			if err := ctx.Err(); err != nil {
				yield(Turn{}, fmt.Errorf("diarize %s: %w", path, err))
				return
			}

			turn, ok, err := parseRTTMLine(scanner.Text())
			if err != nil {
				yield(Turn{}, fmt.Errorf("diarize %s: %s:%d: %w", path, filepath.Base(rttm), n, err))
				return
			}
			if !ok {
				continue
			}
			if !yield(turn, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Turn{}, fmt.Errorf("diarize %s: read %s: %w", path, rttm, err))
		}
	}
}

// parseRTTMLine returns ok=false for blank lines, comments and
// non-SPEAKER records.
func parseRTTMLine(s string) (Turn, bool, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || strings.HasPrefix(fields[0], ";") || fields[0] != "SPEAKER" {
		return Turn{}, false, nil
	}
	if len(fields) < 8 {
		return Turn{}, false, fmt.Errorf("%w: want at least 8 fields, got %d", ErrMalformedTurn, len(fields))
	}

	start, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Turn{}, false, fmt.Errorf("%w: start %q", ErrMalformedTurn, fields[3])
	}
	dur, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return Turn{}, false, fmt.Errorf("%w: duration %q", ErrMalformedTurn, fields[4])
	}

	turn := Turn{Start: start, End: start + dur, Speaker: fields[7]}
	if err := turn.Validate(); err != nil {
		return Turn{}, false, err
	}
	return turn, true, nil
}

// Verify interface implementation at compile time.
var _ Diarizer = (*RTTMDiarizer)(nil)
