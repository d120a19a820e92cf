// Package diarize turns a recording into a lazy, ordered stream of speaker
// turns. Turns are pulled one at a time so the consumer can fully process
// and clean up after each turn before the next one is produced.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
)

// Static errors for diarization.
var (
	// ErrNotFound is returned when no diarization exists for a recording.
	ErrNotFound = errors.New("diarize: no diarization for recording")
	// ErrMalformedTurn is returned when a turn cannot be parsed or has
	// a negative start or an end that is not after its start.
	ErrMalformedTurn = errors.New("diarize: malformed turn")
	// ErrStreamFailed is returned when the diarization service reports
	// a failure in the middle of a stream.
	ErrStreamFailed = errors.New("diarize: stream failed")
)

// Turn is one homogeneous speaker interval of a recording, in seconds.
// Speaker labels are opaque and scoped to a single recording.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Duration returns End - Start.
func (t Turn) Duration() float64 {
	return t.End - t.Start
}

// Midpoint returns the timestamp halfway through the turn.
func (t Turn) Midpoint() float64 {
	return (t.Start + t.End) / 2
}

// Validate checks that 0 <= Start < End.
func (t Turn) Validate() error {
	if math.IsNaN(t.Start) || math.IsNaN(t.End) || math.IsInf(t.End, 0) {
		return fmt.Errorf("%w: non-finite bounds", ErrMalformedTurn)
	}
	if t.Start < 0 {
		return fmt.Errorf("%w: negative start %.3f", ErrMalformedTurn, t.Start)
	}
	if t.End <= t.Start {
		return fmt.Errorf("%w: end %.3f not after start %.3f", ErrMalformedTurn, t.End, t.Start)
	}
	return nil
}

func (t Turn) String() string {
	return fmt.Sprintf("[%.3f, %.3f) %s", t.Start, t.End, t.Speaker)
}

// Diarizer produces the speaker turns of a recording.
type Diarizer interface {
	// Diarize returns the turns of the recording at path in start order.
	// Turns from different speakers may overlap. The sequence stops after
	// the first non-nil error; any error is fatal for the recording.
	// Iterating again restarts diarization from the beginning.
	Diarize(ctx context.Context, path string) iter.Seq2[Turn, error]
}
