// Package face decides whether two images show the same person.
package face

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/poiclip/internal/oracle"
)

// ErrInvalidModel is returned when a ModelConfig fails validation.
var ErrInvalidModel = errors.New("face: invalid model config")

// ModelConfig selects the verification model. It is fixed per deployment.
type ModelConfig struct {
	ModelName       string `validate:"required"`
	DistanceMetric  string `validate:"required,oneof=cosine euclidean euclidean_l2"`
	DetectorBackend string `validate:"required"`
}

// DefaultModelConfig returns the Facenet512 / euclidean_l2 / dlib setup.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		ModelName:       "Facenet512",
		DistanceMetric:  "euclidean_l2",
		DetectorBackend: "dlib",
	}
}

// Validate checks the model config.
func (m ModelConfig) Validate() error {
	if err := validator.New().Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	return nil
}

// Matcher compares a candidate image with a reference image.
type Matcher interface {
	// Verify returns true when both images show the same person.
	Verify(ctx context.Context, reference, candidate string) (bool, error)
}

// HTTPMatcher calls a face verification service:
// POST /verify with "img1", "img2" files and the model fields, answered
// with {"verified": bool, "distance": float}.
type HTTPMatcher struct {
	client *oracle.Client
	model  ModelConfig
}

// NewHTTPMatcher creates a matcher backed by the given service client.
func NewHTTPMatcher(client *oracle.Client, model ModelConfig) (*HTTPMatcher, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &HTTPMatcher{client: client, model: model}, nil
}

type verifyResponse struct {
	Verified bool    `json:"verified"`
	Distance float64 `json:"distance"`
}

// Verify implements Matcher.Verify.
func (m *HTTPMatcher) Verify(ctx context.Context, reference, candidate string) (bool, error) {
	var resp verifyResponse
	err := m.client.PostMultipart(ctx, "/verify", []oracle.Part{
		oracle.File("img1", reference),
		oracle.File("img2", candidate),
		oracle.Field("model_name", m.model.ModelName),
		oracle.Field("distance_metric", m.model.DistanceMetric),
		oracle.Field("detector_backend", m.model.DetectorBackend),
	}, &resp)
	if err != nil {
		return false, fmt.Errorf("face verify: %w", err)
	}
	return resp.Verified, nil
}

// Lenient wraps a Matcher so that failures become a negative verdict.
// Only an expired or cancelled context is passed through, since it
// means the caller's time budget is gone rather than that the images
// could not be compared.
type Lenient struct {
	inner  Matcher
	logger *slog.Logger
}

// NewLenient wraps inner. A nil logger uses slog.Default().
func NewLenient(inner Matcher, logger *slog.Logger) *Lenient {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lenient{inner: inner, logger: logger}
}

// Verify implements Matcher.Verify.
func (l *Lenient) Verify(ctx context.Context, reference, candidate string) (bool, error) {
	same, err := l.inner.Verify(ctx, reference, candidate)
	if err == nil {
		return same, nil
	}
	if ctx.Err() != nil {
		return false, err
	}

	l.logger.Warn("face verification failed, treating as mismatch",
		slog.String("candidate", candidate),
		slog.String("error", err.Error()),
	)
	return false, nil
}

// Verify interface implementations at compile time.
var (
	_ Matcher = (*HTTPMatcher)(nil)
	_ Matcher = (*Lenient)(nil)
)
