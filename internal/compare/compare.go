// Package compare scores audio against every reference clip of a POI.
// It backs the verify and scan commands, which are used to tune
// VOICE_THRESHOLD by hand.
package compare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/poiclip/internal/voice"
)

// Method aggregates per-reference scores into one score.
type Method string

const (
	// MethodMax keeps the best reference score.
	MethodMax Method = "max"
	// MethodMean averages the reference scores.
	MethodMean Method = "mean"
)

// Static errors for comparisons.
var (
	// ErrUnknownMethod is returned for an aggregation method other than max or mean.
	ErrUnknownMethod = errors.New("compare: unknown aggregation method")
	// ErrNoReferences is returned when there is nothing to compare against.
	ErrNoReferences = errors.New("compare: no reference clips")
	// ErrNoScores is returned when no reference produced a score.
	ErrNoScores = errors.New("compare: no reference could score the clip")
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodMax, MethodMean:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Reference is the verdict of one reference clip.
type Reference struct {
	Path  string
	Score float64
	Same  bool
	// Err is set when the reference could not score the clip.
	Err error
}

// Result is a clip compared against a set of references.
type Result struct {
	References []Reference
	// Score is the aggregate of the scored references.
	Score float64
}

// Scorer compares clips with a voice matcher.
type Scorer struct {
	matcher voice.Matcher
	method  Method
	logger  *slog.Logger
}

// NewScorer creates a Scorer. A nil logger uses slog.Default().
func NewScorer(matcher voice.Matcher, method Method, logger *slog.Logger) (*Scorer, error) {
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{matcher: matcher, method: method, logger: logger}, nil
}

// Score compares clip with every reference. Unscorable pairs are recorded
// in the result and left out of the aggregate; any other matcher error
// aborts the comparison.
func (s *Scorer) Score(ctx context.Context, clip string, references []string) (Result, error) {
	if len(references) == 0 {
		return Result{}, ErrNoReferences
	}

	var res Result
	var scores []float64
	for _, ref := range references {
		score, same, err := s.matcher.Verify(ctx, ref, clip)
		switch {
		case err == nil:
			scores = append(scores, score)
		case errors.Is(err, voice.ErrUnscorable):
			s.logger.Warn("reference could not score clip",
				slog.String("reference", ref),
				slog.String("error", err.Error()),
			)
		default:
			return res, fmt.Errorf("compare %s with %s: %w", clip, ref, err)
		}
		res.References = append(res.References, Reference{Path: ref, Score: score, Same: same, Err: err})
	}

	if len(scores) == 0 {
		return res, ErrNoScores
	}
	res.Score = aggregate(s.method, scores)
	return res, nil
}

func aggregate(method Method, scores []float64) float64 {
	if method == MethodMax {
		best := scores[0]
		for _, v := range scores[1:] {
			best = max(best, v)
		}
		return best
	}

	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}
