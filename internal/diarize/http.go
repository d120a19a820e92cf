package diarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/maauso/poiclip/internal/oracle"
)

// HTTPDiarizer streams turns from a diarization service. The recording
// is uploaded as the "audio" field of POST /diarize; the service answers
// with NDJSON, one turn object per line, which is decoded as it arrives.
type HTTPDiarizer struct {
	client *oracle.Client
}

// NewHTTPDiarizer creates a diarizer backed by the given service client.
func NewHTTPDiarizer(client *oracle.Client) *HTTPDiarizer {
	return &HTTPDiarizer{client: client}
}

// line is one NDJSON record. A record carrying Error aborts the stream.
type line struct {
	Turn
	Error string `json:"error,omitempty"`
}

// Diarize implements Diarizer.Diarize.
func (d *HTTPDiarizer) Diarize(ctx context.Context, path string) iter.Seq2[Turn, error] {
	return func(yield func(Turn, error) bool) {
		body, err := d.client.StreamMultipart(ctx, "/diarize", []oracle.Part{oracle.File("audio", path)})
		if err != nil {
			yield(Turn{}, fmt.Errorf("diarize %s: %w", path, err))
			return
		}
		defer func() { _ = body.Close() }()

		dec := json.NewDecoder(body)
		for n := 1; ; n++ {
			var l line
			err := dec.Decode(&l)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				} else {
					err = fmt.Errorf("%w: record %d: %v", ErrMalformedTurn, n, err)
				}
				yield(Turn{}, fmt.Errorf("diarize %s: %w", path, err))
				return
			}

			if l.Error != "" {
				yield(Turn{}, fmt.Errorf("diarize %s: %w: %s", path, ErrStreamFailed, l.Error))
				return
			}
			if err := l.Turn.Validate(); err != nil {
				yield(Turn{}, fmt.Errorf("diarize %s: record %d: %w", path, n, err))
				return
			}

			if !yield(l.Turn, nil) {
				return
			}
		}
	}
}

// Verify interface implementation at compile time.
var _ Diarizer = (*HTTPDiarizer)(nil)
