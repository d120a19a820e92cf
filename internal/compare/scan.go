package compare

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/maauso/poiclip/internal/diarize"
	"github.com/maauso/poiclip/internal/media"
	"github.com/maauso/poiclip/internal/storage"
)

// ErrInvalidResolution is returned when the window length is not positive.
var ErrInvalidResolution = errors.New("compare: window resolution must be positive")

// Window is one scored slice of a speaker turn.
type Window struct {
	Turn       diarize.Turn
	Start, End float64
	Result
}

// Scanner slices every diarized turn of a recording into fixed windows
// and scores each window against the references.
type Scanner struct {
	diarizer   diarize.Diarizer
	clipper    media.Clipper
	scorer     *Scorer
	resolution float64
}

// NewScanner creates a Scanner with windows of resolution seconds.
func NewScanner(diarizer diarize.Diarizer, clipper media.Clipper, scorer *Scorer, resolution float64) (*Scanner, error) {
	if resolution <= 0 || math.IsNaN(resolution) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResolution, resolution)
	}
	return &Scanner{diarizer: diarizer, clipper: clipper, scorer: scorer, resolution: resolution}, nil
}

// Scan yields the windows of recording in turn order. Window i of a turn
// covers [start+i*resolution, min(start+(i+1)*resolution, end)). Windows
// whose clip no reference could score are skipped. Window audio is
// extracted into ns and removed after scoring.
func (s *Scanner) Scan(ctx context.Context, recording string, references []string, ns *storage.Namespace) iter.Seq2[Window, error] {
	return func(yield func(Window, error) bool) {
		basename := media.Basename(recording)

		for turn, err := range s.diarizer.Diarize(ctx, recording) {
			if err != nil {
				yield(Window{}, err)
				return
			}

			for start := turn.Start; start < turn.End; start += s.resolution {
				w := Window{Turn: turn, Start: start, End: math.Min(start+s.resolution, turn.End)}

				res, err := s.scoreWindow(ctx, recording, basename, w, references, ns)
				if errors.Is(err, ErrNoScores) {
					continue
				}
				if err != nil {
					yield(w, err)
					return
				}
				w.Result = res
				if !yield(w, nil) {
					return
				}
			}
		}
	}
}

func (s *Scanner) scoreWindow(ctx context.Context, recording, basename string, w Window, references []string, ns *storage.Namespace) (Result, error) {
	scope := ns.NewScope(basename)
	defer func() { _ = scope.Release(ctx) }()

	if err := s.clipper.ExtractAudioRange(ctx, recording, scope.AudioPath, w.Start, w.End); err != nil {
		return Result{}, fmt.Errorf("extract window [%.3f, %.3f): %w", w.Start, w.End, err)
	}
	return s.scorer.Score(ctx, scope.AudioPath, references)
}
