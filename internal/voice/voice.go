// Package voice scores whether two audio clips come from the same speaker.
package voice

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/maauso/poiclip/internal/oracle"
)

// ErrUnscorable is returned when the service rejects the candidate clip
// itself (too short, silent, undecodable). Callers treat it as a
// non-match rather than a failure of the recording.
var ErrUnscorable = errors.New("voice: candidate cannot be scored")

// Matcher compares a candidate clip with a reference clip.
type Matcher interface {
	// Verify returns the similarity score and the same-speaker verdict.
	Verify(ctx context.Context, reference, candidate string) (score float64, same bool, err error)
}

// HTTPMatcher calls a speaker verification service:
// POST /verify with "reference" and "candidate" files, answered with
// {"score": float, "prediction": bool}.
type HTTPMatcher struct {
	client *oracle.Client
}

// NewHTTPMatcher creates a matcher backed by the given service client.
func NewHTTPMatcher(client *oracle.Client) *HTTPMatcher {
	return &HTTPMatcher{client: client}
}

type verifyResponse struct {
	Score      *float64 `json:"score"`
	Prediction bool     `json:"prediction"`
}

// Verify implements Matcher.Verify.
func (m *HTTPMatcher) Verify(ctx context.Context, reference, candidate string) (float64, bool, error) {
	var resp verifyResponse
	err := m.client.PostMultipart(ctx, "/verify", []oracle.Part{
		oracle.File("reference", reference),
		oracle.File("candidate", candidate),
	}, &resp)
	if err != nil {
		if errors.Is(err, oracle.ErrRequestFailed) {
			return 0, false, fmt.Errorf("%w: %v", ErrUnscorable, err)
		}
		return 0, false, fmt.Errorf("voice verify: %w", err)
	}

	if resp.Score == nil || math.IsNaN(*resp.Score) || math.IsInf(*resp.Score, 0) {
		return 0, false, fmt.Errorf("%w: response carries no finite score", ErrUnscorable)
	}
	return *resp.Score, resp.Prediction, nil
}

// Verify interface implementation at compile time.
var _ Matcher = (*HTTPMatcher)(nil)
