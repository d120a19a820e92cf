// Package pipeline drives the per-POI workflow: claim the output folder,
// resolve reference assets, then stream every recording's turns through
// the segment engine. Failures are contained to the recording or POI they
// happen in and reported as explicit results.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/poiclip/internal/clip"
	"github.com/maauso/poiclip/internal/diarize"
	"github.com/maauso/poiclip/internal/poi"
	"github.com/maauso/poiclip/internal/segment"
	"github.com/maauso/poiclip/internal/storage"
)

// ErrDiarizeStalled is the cause recorded when a diarization stream takes
// longer than the configured bound to produce its next turn.
var ErrDiarizeStalled = fmt.Errorf("pipeline: diarization stalled: %w", context.DeadlineExceeded)

// TurnProcessor runs a single turn to a terminal state.
type TurnProcessor interface {
	Process(ctx context.Context, turn diarize.Turn, in segment.Input) (segment.Outcome, error)
}

// Observer receives progress events. Calls may come from several workers
// at once.
type Observer interface {
	POIStarted(name string, recordings int)
	RecordingDone(poiName string, result RecordingResult)
	POIDone(result POIResult)
}

type nopObserver struct{}

func (nopObserver) POIStarted(string, int)               {}
func (nopObserver) RecordingDone(string, RecordingResult) {}
func (nopObserver) POIDone(POIResult)                     {}

// Driver processes roster entries.
type Driver struct {
	layout   poi.Layout
	diarizer diarize.Diarizer
	engine   TurnProcessor
	store    storage.Storage
	workers  int
	observer Observer
	logger   *slog.Logger

	diarizeTimeout time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithWorkers sets how many POIs are processed concurrently. Values below
// one are ignored.
func WithWorkers(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithDiarizeTimeout bounds how long a single pull from a recording's
// diarization stream may take. Time spent processing a turn between pulls
// is not counted. Zero disables the bound.
func WithDiarizeTimeout(d time.Duration) Option {
	return func(dr *Driver) {
		dr.diarizeTimeout = d
	}
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDriver creates a Driver. store provides one temp namespace per worker.
func NewDriver(layout poi.Layout, diarizer diarize.Diarizer, engine TurnProcessor, store storage.Storage, opts ...Option) *Driver {
	d := &Driver{
		layout:   layout,
		diarizer: diarizer,
		engine:   engine,
		store:    store,
		workers:  1,
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type work struct {
	index int
	entry poi.Entry
}

// Run processes entries and returns the report. Within a POI recordings
// are processed one after another; POIs are spread over the configured
// workers. When ctx is cancelled Run stops dispatching, waits for the
// workers, and returns the partial report together with ctx.Err().
func (d *Driver) Run(ctx context.Context, entries []poi.Entry) (*Report, error) {
	report := &Report{StartedAt: time.Now()}
	results := make([]POIResult, len(entries))
	done := make([]bool, len(entries))

	workers := max(min(d.workers, len(entries)), 1)
	namespaces := make([]*storage.Namespace, 0, workers)
	defer func() {
		for _, ns := range namespaces {
			if err := ns.Close(); err != nil {
				d.logger.Warn("failed to remove temp namespace", slog.String("error", err.Error()))
			}
		}
	}()
	for range workers {
		ns, err := d.store.NewNamespace(ctx)
		if err != nil {
			return report, fmt.Errorf("allocate temp namespace: %w", err)
		}
		namespaces = append(namespaces, ns)
	}

	d.logger.Info("pipeline started",
		slog.Int("pois", len(entries)),
		slog.Int("workers", workers),
	)

	jobs := make(chan work)
	var wg sync.WaitGroup
	for _, ns := range namespaces {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range jobs {
				results[w.index] = d.processPOI(ctx, w.entry, ns)
				done[w.index] = true
			}
		}()
	}

dispatch:
	for i, e := range entries {
		select {
		case jobs <- work{index: i, entry: e}:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	for i, r := range results {
		if done[i] {
			report.POIs = append(report.POIs, r)
		}
	}
	report.FinishedAt = time.Now()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (d *Driver) processPOI(ctx context.Context, entry poi.Entry, ns *storage.Namespace) POIResult {
	name := entry.Name
	res := POIResult{Name: name}
	logger := d.logger.With(slog.String("poi", name))
	defer func() { d.observer.POIDone(res) }()

	claimed, err := d.layout.Claim(name)
	if err != nil {
		res.Status, res.Reason = POIFailed, err.Error()
		logger.Error("failed to create output folder", slog.String("error", err.Error()))
		return res
	}
	if !claimed {
		res.Status, res.Reason = POISkipped, "output folder exists"
		logger.Info("POI already processed, skipping")
		return res
	}

	refs, err := d.layout.References(name)
	if err != nil {
		res.Status, res.Reason = POIFailed, err.Error()
		logger.Error("missing reference asset", slog.String("error", err.Error()))
		return res
	}
	if refs.IgnoredAudio > 0 || refs.IgnoredImages > 0 {
		logger.Warn("multiple reference candidates, using the first",
			slog.String("audio", refs.Audio),
			slog.Int("ignored_audio", refs.IgnoredAudio),
			slog.String("image", refs.Image),
			slog.Int("ignored_images", refs.IgnoredImages),
		)
	}

	recs, err := d.layout.Recordings(name)
	if err != nil {
		res.Status, res.Reason = POIFailed, err.Error()
		logger.Error("failed to list recordings", slog.String("error", err.Error()))
		return res
	}

	d.observer.POIStarted(name, len(recs))
	logger.Info("processing POI", slog.Int("recordings", len(recs)))

	dest := clip.Destination{POI: name, Dir: d.layout.OutputFolder(name)}
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		r := d.processRecording(ctx, segment.Input{
			Recording:  rec,
			References: refs,
			Dest:       dest,
			Namespace:  ns,
		}, logger)
		res.Recordings = append(res.Recordings, r)
		d.observer.RecordingDone(name, r)
	}

	res.Status = POIProcessed
	return res
}

func (d *Driver) processRecording(ctx context.Context, in segment.Input, logger *slog.Logger) RecordingResult {
	start := time.Now()
	res := RecordingResult{Recording: in.Recording.Basename, Status: StatusSucceeded}
	logger = logger.With(slog.String("recording", in.Recording.Basename))

	diarizeCtx, pulls := newPullTimer(ctx, d.diarizeTimeout)
	defer pulls.stop()

	for turn, err := range d.diarizer.Diarize(diarizeCtx, in.Recording.Audio) {
		pulls.pause()
		if err != nil {
			if cause := context.Cause(diarizeCtx); errors.Is(cause, ErrDiarizeStalled) {
				err = fmt.Errorf("%w: %w", cause, err)
			}
			res.Reason = err.Error()
			res.Status = StatusFailed
			if errors.Is(err, diarize.ErrNotFound) {
				res.Status = StatusSkipped
			}
			break
		}

		out, err := d.engine.Process(ctx, turn, in)
		res.count(out)
		if err != nil {
			res.Status, res.Reason = StatusFailed, err.Error()
			break
		}
		pulls.resume()
	}
	res.Elapsed = time.Since(start)

	attrs := []any{
		slog.String("status", string(res.Status)),
		slog.Int("turns", res.Turns),
		slog.Int("accepted", res.Accepted),
		slog.Int("files", res.FilesWritten),
		slog.Duration("elapsed", res.Elapsed),
	}
	switch res.Status {
	case StatusFailed:
		logger.Error("recording failed", append(attrs, slog.String("error", res.Reason))...)
	case StatusSkipped:
		logger.Warn("recording skipped", append(attrs, slog.String("reason", res.Reason))...)
	default:
		logger.Info("recording processed", attrs...)
	}
	return res
}

func (r *RecordingResult) count(out segment.Outcome) {
	r.Turns++
	switch {
	case out.State == segment.StateFiltered:
		r.Filtered++
	case out.Decision == segment.DecisionAccept:
		r.Accepted++
		if out.CommitErr != nil {
			r.CommitFailed++
		}
	case out.Decision == segment.DecisionReject:
		r.Rejected++
	}
	r.FilesWritten += len(out.Files)
	r.VideosWritten += len(out.Videos)
}

// pullTimer cancels a diarization stream whose next turn takes longer than
// its bound to arrive. The clock only runs while the consumer waits on the
// stream.
type pullTimer struct {
	d      time.Duration
	timer  *time.Timer
	cancel context.CancelCauseFunc
}

func newPullTimer(ctx context.Context, d time.Duration) (context.Context, *pullTimer) {
	ctx, cancel := context.WithCancelCause(ctx)
	pt := &pullTimer{d: d, cancel: cancel}
	if d > 0 {
		pt.timer = time.AfterFunc(d, func() {
			cancel(fmt.Errorf("%w after %s", ErrDiarizeStalled, d))
		})
	}
	return ctx, pt
}

func (pt *pullTimer) pause() {
	if pt.timer != nil {
		pt.timer.Stop()
	}
}

func (pt *pullTimer) resume() {
	if pt.timer != nil {
		pt.timer.Reset(pt.d)
	}
}

func (pt *pullTimer) stop() {
	pt.pause()
	pt.cancel(nil)
}
