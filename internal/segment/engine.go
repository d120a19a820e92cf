package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/poiclip/internal/clip"
	"github.com/maauso/poiclip/internal/diarize"
	"github.com/maauso/poiclip/internal/face"
	"github.com/maauso/poiclip/internal/media"
	"github.com/maauso/poiclip/internal/poi"
	"github.com/maauso/poiclip/internal/storage"
	"github.com/maauso/poiclip/internal/voice"
)

// Committer writes an accepted turn to its destination.
type Committer interface {
	Commit(ctx context.Context, turn diarize.Turn, tempAudio string, rec poi.Recording, dest clip.Destination) (clip.Result, error)
}

// Settings are the tunables of the decision engine.
type Settings struct {
	// MinSegmentLen is the shortest turn, in seconds, worth scoring.
	MinSegmentLen float64
	// VoiceThreshold is the minimum voice score of an accepted turn.
	VoiceThreshold float64
	// CallTimeout bounds every extraction and matcher call.
	// Zero disables the bound.
	CallTimeout time.Duration
}

// Input is the per-recording context a turn is processed in.
type Input struct {
	Recording  poi.Recording
	References poi.References
	Dest       clip.Destination
	// Namespace provides the turn's temp paths.
	Namespace *storage.Namespace
}

// Engine runs turns through extraction, scoring, fusion and commit.
type Engine struct {
	clipper   media.Clipper
	voice     voice.Matcher
	face      face.Matcher
	committer Committer
	settings  Settings
	logger    *slog.Logger
}

// NewEngine creates an Engine. faceMatcher is wrapped in face.Lenient so
// face failures become a negative verdict; only an expired or cancelled
// call is fatal for the recording.
func NewEngine(
	clipper media.Clipper,
	voiceMatcher voice.Matcher,
	faceMatcher face.Matcher,
	committer Committer,
	settings Settings,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if _, ok := faceMatcher.(*face.Lenient); !ok {
		faceMatcher = face.NewLenient(faceMatcher, logger)
	}
	return &Engine{
		clipper:   clipper,
		voice:     voiceMatcher,
		face:      faceMatcher,
		committer: committer,
		settings:  settings,
		logger:    logger,
	}
}

// Process runs one turn to a terminal state.
//
// A returned error means the recording cannot continue: audio extraction
// failed, the voice service failed, or a call ran out of time. Rejections
// and commit failures are not errors; they are reported in the Outcome.
// Temp files of the turn are removed before Process returns, except the
// audio clip when it was moved into the POI folder.
func (e *Engine) Process(ctx context.Context, turn diarize.Turn, in Input) (Outcome, error) {
	out := Outcome{Turn: turn, State: StatePending}
	rec := in.Recording

	if turn.Duration() < e.settings.MinSegmentLen {
		err := out.TransitionTo(StateFiltered)
		return out, err
	}

	scope := in.Namespace.NewScope(rec.Basename)
	defer func() {
		if err := scope.Release(ctx); err != nil {
			e.logger.Warn("failed to remove turn temp files",
				slog.String("recording", rec.Basename),
				slog.String("error", err.Error()),
			)
		}
	}()

	err := e.call(ctx, func(ctx context.Context) error {
		return e.clipper.ExtractAudioRange(ctx, rec.Audio, scope.AudioPath, turn.Start, turn.End)
	})
	if err != nil {
		return out, fmt.Errorf("extract audio %s: %w", turn, err)
	}
	hasFrame, err := e.extractFrame(ctx, rec, scope.FramePath, turn)
	if err != nil {
		return out, err
	}
	if err := out.TransitionTo(StateExtracted); err != nil {
		return out, err
	}

	if err := e.score(ctx, &out, in.References, scope, hasFrame); err != nil {
		return out, err
	}
	if err := out.TransitionTo(StateScored); err != nil {
		return out, err
	}

	out.Decision = Decide(out.Evidence, e.settings.VoiceThreshold)
	if err := out.TransitionTo(StateDecided); err != nil {
		return out, err
	}
	e.logger.Debug("turn decided",
		slog.String("recording", rec.Basename),
		slog.String("turn", turn.String()),
		slog.Float64("score", out.Evidence.Score),
		slog.Bool("voice", out.Evidence.Voice),
		slog.Bool("face", out.Evidence.Face),
		slog.String("decision", string(out.Decision)),
	)
	if out.Decision != DecisionAccept {
		return out, nil
	}

	res, err := e.committer.Commit(ctx, turn, scope.AudioPath, rec, in.Dest)
	if res.Moved {
		scope.Transfer(scope.AudioPath)
	}
	if err != nil {
		out.CommitErr = err
		e.logger.Error("failed to commit accepted turn",
			slog.String("recording", rec.Basename),
			slog.String("turn", turn.String()),
			slog.String("error", err.Error()),
		)
		return out, nil
	}
	out.Files = res.Files
	out.Videos = res.Videos
	err = out.TransitionTo(StateCommitted)
	return out, err
}

// extractFrame writes the midpoint frame of the turn. A missing video or
// a failed extraction only costs the face verdict; running out of time
// is fatal.
func (e *Engine) extractFrame(ctx context.Context, rec poi.Recording, out string, turn diarize.Turn) (bool, error) {
	if rec.Video == "" {
		e.logger.Debug("no paired video, face verdict is negative",
			slog.String("recording", rec.Basename),
		)
		return false, nil
	}

	err := e.call(ctx, func(ctx context.Context) error {
		return e.clipper.ExtractFrame(ctx, rec.Video, out, turn.Midpoint())
	})
	if err == nil {
		return true, nil
	}
	if isTimeout(err) {
		return false, fmt.Errorf("extract frame %s: %w", turn, err)
	}
	e.logger.Warn("frame extraction failed, face verdict is negative",
		slog.String("recording", rec.Basename),
		slog.String("turn", turn.String()),
		slog.String("error", err.Error()),
	)
	return false, nil
}

func (e *Engine) score(ctx context.Context, out *Outcome, refs poi.References, scope *storage.Scope, hasFrame bool) error {
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		out.Evidence.Score, out.Evidence.Voice, err = e.voice.Verify(ctx, refs.Audio, scope.AudioPath)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, voice.ErrUnscorable):
		out.Evidence.Score, out.Evidence.Voice = 0, false
		e.logger.Warn("voice clip unscorable, rejecting turn",
			slog.String("turn", out.Turn.String()),
			slog.String("error", err.Error()),
		)
	default:
		return fmt.Errorf("score voice %s: %w", out.Turn, err)
	}

	if !hasFrame {
		return nil
	}
	err = e.call(ctx, func(ctx context.Context) error {
		var err error
		out.Evidence.Face, err = e.face.Verify(ctx, refs.Image, scope.FramePath)
		return err
	})
	if err != nil {
		out.Evidence.Face = false
		return fmt.Errorf("score face %s: %w", out.Turn, err)
	}
	return nil
}

// call runs fn under the per-call timeout.
func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	if e.settings.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
