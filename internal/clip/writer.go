package clip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/poiclip/internal/audio"
	"github.com/maauso/poiclip/internal/diarize"
	"github.com/maauso/poiclip/internal/media"
	"github.com/maauso/poiclip/internal/poi"
	"github.com/maauso/poiclip/internal/storage"
)

// ErrInvalidLength is returned when the max or chunk length is not positive.
var ErrInvalidLength = errors.New("clip: segment lengths must be positive")

// Destination is the POI output folder a turn is committed to.
type Destination struct {
	// POI is the sanitized POI name, used as the S3 key component.
	POI string
	// Dir is the POI output folder. It must already exist.
	Dir string
}

// Result lists what a commit wrote.
type Result struct {
	// Files are the audio clips, in chunk order.
	Files []string
	// Videos are the paired video clips that were exported.
	Videos []string
	// Moved reports that the temp audio itself became the single output
	// file. The caller must not remove it afterwards.
	Moved bool
}

type span struct {
	start, end float64
}

// Writer materializes accepted turns.
type Writer struct {
	store    storage.Storage
	splitter audio.Splitter
	maxLen   float64
	chunkLen float64

	clipper      media.Clipper
	videoTimeout time.Duration
	mirror       bool
	prefix       string
	logger       *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithVideoExport enables paired video export through clipper. Each
// extraction is bounded by timeout; zero disables the bound.
func WithVideoExport(clipper media.Clipper, timeout time.Duration) Option {
	return func(w *Writer) {
		w.clipper = clipper
		w.videoTimeout = timeout
	}
}

// WithS3Mirror uploads every committed file through the store's
// UploadToS3 under {prefix}/{poi}/{file}.
func WithS3Mirror(prefix string) Option {
	return func(w *Writer) {
		w.mirror = true
		w.prefix = strings.Trim(prefix, "/")
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWriter creates a Writer. Turns shorter than maxLen are moved as a
// single file; longer ones are split into chunks of chunkLen seconds.
func NewWriter(store storage.Storage, splitter audio.Splitter, maxLen, chunkLen float64, opts ...Option) (*Writer, error) {
	if maxLen <= 0 || chunkLen <= 0 {
		return nil, fmt.Errorf("%w: max %.3f, chunk %.3f", ErrInvalidLength, maxLen, chunkLen)
	}
	w := &Writer{
		store:    store,
		splitter: splitter,
		maxLen:   maxLen,
		chunkLen: chunkLen,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Commit writes the accepted turn, whose audio was extracted to
// tempAudio, into dest. When the returned Result is not Moved the temp
// audio has been removed or is still owned by the caller; on error
// nothing is guaranteed about partial output.
//
// Video export and S3 mirroring failures are logged and never returned.
func (w *Writer) Commit(ctx context.Context, turn diarize.Turn, tempAudio string, rec poi.Recording, dest Destination) (Result, error) {
	var res Result
	var spans []span

	if turn.Duration() < w.maxLen {
		dst := filepath.Join(dest.Dir, Name(rec.Basename, turn.Start, turn.End)+".wav")
		if err := w.store.Move(ctx, tempAudio, dst); err != nil {
			return res, fmt.Errorf("commit %s: %w", turn, err)
		}
		res.Moved = true
		res.Files = []string{dst}
		spans = []span{{turn.Start, turn.End}}
	} else {
		files, err := w.splitter.Split(ctx, tempAudio, w.chunkLen, func(i int) string {
			return filepath.Join(dest.Dir, ChunkName(rec.Basename, turn.Start, turn.End, i)+".wav")
		})
		if err != nil {
			return res, fmt.Errorf("commit %s: %w", turn, err)
		}
		res.Files = files

		if err := w.store.CleanupTemp(ctx, []string{tempAudio}); err != nil {
			w.logger.Warn("failed to remove split temp audio",
				slog.String("path", tempAudio),
				slog.String("error", err.Error()),
			)
		}
		for i := range files {
			start := turn.Start + float64(i)*w.chunkLen
			spans = append(spans, span{start, math.Min(start+w.chunkLen, turn.End)})
		}
	}

	if w.clipper != nil {
		res.Videos = w.exportVideo(ctx, rec, res.Files, spans)
	}
	if w.mirror {
		w.mirrorFiles(ctx, dest.POI, res.Files)
		w.mirrorFiles(ctx, dest.POI, res.Videos)
	}

	w.logger.Debug("turn committed",
		slog.String("recording", rec.Basename),
		slog.String("turn", turn.String()),
		slog.Int("files", len(res.Files)),
		slog.Bool("moved", res.Moved),
	)
	return res, nil
}

func (w *Writer) exportVideo(ctx context.Context, rec poi.Recording, files []string, spans []span) []string {
	if rec.Video == "" {
		w.logger.Warn("video export skipped, recording has no paired video",
			slog.String("recording", rec.Basename),
		)
		return nil
	}

	var videos []string
	for i, s := range spans {
		if s.end <= s.start {
			continue
		}
		out := strings.TrimSuffix(files[i], filepath.Ext(files[i])) + ".mp4"

		callCtx, cancel := withTimeout(ctx, w.videoTimeout)
		err := w.clipper.ExtractVideoRange(callCtx, rec.Video, out, s.start, s.end)
		cancel()
		if err != nil {
			w.logger.Warn("video export failed",
				slog.String("output", out),
				slog.String("error", err.Error()),
			)
			continue
		}
		videos = append(videos, out)
	}
	return videos
}

func (w *Writer) mirrorFiles(ctx context.Context, poiName string, files []string) {
	for _, file := range files {
		key := path.Join(w.prefix, poiName, filepath.Base(file))
		url, err := w.upload(ctx, key, file)
		if err != nil {
			w.logger.Warn("S3 mirror failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		w.logger.Debug("clip mirrored", slog.String("url", url))
	}
}

func (w *Writer) upload(ctx context.Context, key, file string) (string, error) {
	f, err := os.Open(file) // #nosec G304 - file was just written by this writer
	if err != nil {
		return "", err
	}
	defer f.Close()
	return w.store.UploadToS3(ctx, key, f)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
