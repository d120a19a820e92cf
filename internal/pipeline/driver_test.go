package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/poiclip/internal/diarize"
	"github.com/maauso/poiclip/internal/poi"
	"github.com/maauso/poiclip/internal/segment"
	"github.com/maauso/poiclip/internal/storage"
)

// script is what the fake diarizer yields for one recording.
type script struct {
	turns []diarize.Turn
	err   error
	// delay is how long each turn takes to arrive.
	delay time.Duration
}

type fakeDiarizer struct {
	mu      sync.Mutex
	scripts map[string]script
	calls   []string
}

func (f *fakeDiarizer) Diarize(ctx context.Context, path string) iter.Seq2[diarize.Turn, error] {
	return func(yield func(diarize.Turn, error) bool) {
		f.mu.Lock()
		f.calls = append(f.calls, filepath.Base(path))
		s := f.scripts[filepath.Base(path)]
		f.mu.Unlock()

		for _, t := range s.turns {
			select {
			case <-ctx.Done():
				yield(diarize.Turn{}, fmt.Errorf("diarize %s: %w", path, ctx.Err()))
				return
			case <-time.After(s.delay):
			}
			if !yield(t, nil) {
				return
			}
		}
		if s.err != nil {
			yield(diarize.Turn{}, s.err)
		}
	}
}

// fakeEngine accepts turns of speaker "POI", rejects everything else and
// fails on speaker "BOOM".
type fakeEngine struct {
	mu         sync.Mutex
	calls      int
	namespaces map[string]bool
	// delay is how long each turn takes to process.
	delay time.Duration
}

func (f *fakeEngine) Process(_ context.Context, turn diarize.Turn, in segment.Input) (segment.Outcome, error) {
	time.Sleep(f.delay)

	f.mu.Lock()
	f.calls++
	if f.namespaces == nil {
		f.namespaces = make(map[string]bool)
	}
	f.namespaces[in.Namespace.Dir()] = true
	f.mu.Unlock()

	out := segment.Outcome{Turn: turn, State: segment.StateDecided}
	switch turn.Speaker {
	case "BOOM":
		return segment.Outcome{Turn: turn, State: segment.StateExtracted}, errors.New("voice service unavailable")
	case "SHORT":
		out.State = segment.StateFiltered
	case "POI":
		out.State = segment.StateCommitted
		out.Decision = segment.DecisionAccept
		out.Files = []string{filepath.Join(in.Dest.Dir, fmt.Sprintf("%s_%.3f.wav", in.Recording.Basename, turn.Start))}
	default:
		out.Decision = segment.DecisionReject
	}
	return out, nil
}

type recordingObserver struct {
	mu         sync.Mutex
	started    []string
	recordings int
	done       []string
}

func (o *recordingObserver) POIStarted(name string, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, name)
}

func (o *recordingObserver) RecordingDone(string, RecordingResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recordings++
}

func (o *recordingObserver) POIDone(r POIResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = append(o.done, r.Name)
}

type env struct {
	layout   poi.Layout
	store    *storage.LocalStorage
	diarizer *fakeDiarizer
	engine   *fakeEngine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(root, "tmp"))
	require.NoError(t, err)
	return &env{
		layout: poi.Layout{
			RecordingsDir: filepath.Join(root, "videos"),
			OutputDir:     filepath.Join(root, "diarization"),
			RefAudioDir:   filepath.Join(root, "ref_audio"),
			RefImagesDir:  filepath.Join(root, "ref_images"),
		},
		store:    store,
		diarizer: &fakeDiarizer{scripts: make(map[string]script)},
		engine:   &fakeEngine{},
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0600))
}

// addPOI creates reference assets and the named recordings for a POI.
func (e *env) addPOI(t *testing.T, name string, recordings ...string) poi.Entry {
	t.Helper()
	touch(t, filepath.Join(e.layout.RefAudioDir, name, "ref.wav"))
	touch(t, filepath.Join(e.layout.RefImagesDir, name+".jpg"))
	for _, r := range recordings {
		touch(t, filepath.Join(e.layout.RecordingsDir, name, r+".wav"))
	}
	return poi.Entry{DisplayName: name, Name: name}
}

func (e *env) driver(opts ...Option) *Driver {
	return NewDriver(e.layout, e.diarizer, e.engine, e.store, opts...)
}

func TestRun_ProcessesRecordings(t *testing.T) {
	e := newEnv(t)
	entry := e.addPOI(t, "Jane Doe", "talk1")
	e.diarizer.scripts["talk1.wav"] = script{turns: []diarize.Turn{
		{Start: 0, End: 2, Speaker: "SHORT"},
		{Start: 2, End: 9, Speaker: "POI"},
		{Start: 9, End: 15, Speaker: "OTHER"},
		{Start: 15, End: 21, Speaker: "POI"},
	}}

	report, err := e.driver().Run(context.Background(), []poi.Entry{entry})
	require.NoError(t, err)

	require.Len(t, report.POIs, 1)
	p := report.POIs[0]
	assert.Equal(t, POIProcessed, p.Status)
	require.Len(t, p.Recordings, 1)
	r := p.Recordings[0]
	assert.Equal(t, StatusSucceeded, r.Status)
	assert.Equal(t, Counters{Turns: 4, Filtered: 1, Rejected: 1, Accepted: 2, FilesWritten: 2}, r.Counters)
	assert.DirExists(t, e.layout.OutputFolder("Jane Doe"))
}

func TestRun_SkipsProcessedPOI(t *testing.T) {
	e := newEnv(t)
	entry := e.addPOI(t, "Jane Doe", "talk1")
	e.diarizer.scripts["talk1.wav"] = script{turns: []diarize.Turn{{Start: 2, End: 9, Speaker: "POI"}}}
	require.NoError(t, os.MkdirAll(e.layout.OutputFolder("Jane Doe"), 0755))

	report, err := e.driver().Run(context.Background(), []poi.Entry{entry})
	require.NoError(t, err)

	require.Len(t, report.POIs, 1)
	assert.Equal(t, POISkipped, report.POIs[0].Status)
	assert.Empty(t, e.diarizer.calls)
	assert.Zero(t, e.engine.calls)

	entries, err := os.ReadDir(e.layout.OutputFolder("Jane Doe"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	e := newEnv(t)
	entry := e.addPOI(t, "Jane Doe", "talk1")
	e.diarizer.scripts["talk1.wav"] = script{turns: []diarize.Turn{{Start: 2, End: 9, Speaker: "POI"}}}

	_, err := e.driver().Run(context.Background(), []poi.Entry{entry})
	require.NoError(t, err)
	calls := e.engine.calls

	report, err := e.driver().Run(context.Background(), []poi.Entry{entry})
	require.NoError(t, err)
	assert.Equal(t, POISkipped, report.POIs[0].Status)
	assert.Equal(t, calls, e.engine.calls)
	assert.Len(t, e.diarizer.calls, 1)
}

func TestRun_RecordingFailuresAreIsolated(t *testing.T) {
	e := newEnv(t)
	entry := e.addPOI(t, "Jane Doe", "a", "b", "c", "d")
	e.diarizer.scripts["a.wav"] = script{
		turns: []diarize.Turn{{Start: 0, End: 6, Speaker: "POI"}},
		err:   fmt.Errorf("%w: connection reset", diarize.ErrStreamFailed),
	}
	e.diarizer.scripts["b.wav"] = script{err: fmt.Errorf("%w: b.rttm", diarize.ErrNotFound)}
	e.diarizer.scripts["c.wav"] = script{turns: []diarize.Turn{
		{Start: 0, End: 6, Speaker: "BOOM"},
		{Start: 6, End: 12, Speaker: "POI"},
	}}
	e.diarizer.scripts["d.wav"] = script{turns: []diarize.Turn{{Start: 0, End: 6, Speaker: "POI"}}}

	report, err := e.driver().Run(context.Background(), []poi.Entry{entry})
	require.NoError(t, err)

	recs := report.POIs[0].Recordings
	require.Len(t, recs, 4)

	assert.Equal(t, StatusFailed, recs[0].Status)
	assert.Contains(t, recs[0].Reason, "connection reset")
	assert.Equal(t, 1, recs[0].Accepted, "clips committed before the failure are kept")

	assert.Equal(t, StatusSkipped, recs[1].Status)

	assert.Equal(t, StatusFailed, recs[2].Status)
	assert.Equal(t, 1, recs[2].Turns, "processing stops at the failing turn")

	assert.Equal(t, StatusSucceeded, recs[3].Status)
	assert.Equal(t, 1, recs[3].Accepted)
	assert.Equal(t, POIProcessed, report.POIs[0].Status)
}

func TestRun_DiarizeTimeoutExcludesTurnProcessing(t *testing.T) {
	e := newEnv(t)
	e.engine.delay = 40 * time.Millisecond
	entry := e.addPOI(t, "Jane Doe", "long")
	var turns []diarize.Turn
	for i := range 5 {
		start := float64(i * 10)
		turns = append(turns, diarize.Turn{Start: start, End: start + 6, Speaker: "POI"})
	}
	e.diarizer.scripts["long.wav"] = script{turns: turns}

	report, err := e.driver(WithDiarizeTimeout(100*time.Millisecond)).Run(context.Background(), []poi.Entry{entry})
	require.NoError(t, err)

	r := report.POIs[0].Recordings[0]
	assert.Equal(t, StatusSucceeded, r.Status, r.Reason)
	assert.Equal(t, 5, r.Turns)
	assert.Equal(t, 5, r.Accepted)
}

func TestRun_StalledDiarizerFailsRecording(t *testing.T) {
	e := newEnv(t)
	entry := e.addPOI(t, "Jane Doe", "slow", "fast")
	e.diarizer.scripts["slow.wav"] = script{
		turns: []diarize.Turn{{Start: 0, End: 6, Speaker: "POI"}},
		delay: time.Second,
	}
	e.diarizer.scripts["fast.wav"] = script{turns: []diarize.Turn{{Start: 0, End: 6, Speaker: "POI"}}}

	report, err := e.driver(WithDiarizeTimeout(50*time.Millisecond)).Run(context.Background(), []poi.Entry{entry})
	require.NoError(t, err)

	recs := report.POIs[0].Recordings
	require.Len(t, recs, 2)
	assert.Equal(t, "fast", recs[0].Recording)
	assert.Equal(t, StatusSucceeded, recs[0].Status)
	assert.Equal(t, "slow", recs[1].Recording)
	assert.Equal(t, StatusFailed, recs[1].Status)
	assert.Contains(t, recs[1].Reason, "diarization stalled")
	assert.Zero(t, recs[1].Turns)
}

func TestPullTimer_OnlyCountsWaitingTime(t *testing.T) {
	ctx, pt := newPullTimer(context.Background(), 50*time.Millisecond)
	defer pt.stop()

	pt.pause()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, ctx.Err(), "paused timer must not fire")

	pt.resume()
	<-ctx.Done()
	assert.ErrorIs(t, context.Cause(ctx), ErrDiarizeStalled)
	assert.ErrorIs(t, context.Cause(ctx), context.DeadlineExceeded)
}

func TestRun_MissingReferencesFailPOIOnly(t *testing.T) {
	e := newEnv(t)
	touch(t, filepath.Join(e.layout.RefImagesDir, "No Audio.jpg"))
	broken := poi.Entry{Name: "No Audio"}
	ok := e.addPOI(t, "Jane Doe", "talk1")
	e.diarizer.scripts["talk1.wav"] = script{turns: []diarize.Turn{{Start: 2, End: 9, Speaker: "POI"}}}

	report, err := e.driver().Run(context.Background(), []poi.Entry{broken, ok})
	require.NoError(t, err)

	require.Len(t, report.POIs, 2)
	assert.Equal(t, POIFailed, report.POIs[0].Status)
	assert.Contains(t, report.POIs[0].Reason, "no reference audio")
	assert.Equal(t, POIProcessed, report.POIs[1].Status)
	assert.Equal(t, 1, e.engine.calls)
}

func TestRun_Workers(t *testing.T) {
	e := newEnv(t)
	var entries []poi.Entry
	for i := range 6 {
		name := fmt.Sprintf("POI %d", i)
		entries = append(entries, e.addPOI(t, name, fmt.Sprintf("rec%d", i)))
		e.diarizer.scripts[fmt.Sprintf("rec%d.wav", i)] = script{turns: []diarize.Turn{{Start: 0, End: 6, Speaker: "POI"}}}
	}
	observer := &recordingObserver{}

	report, err := e.driver(WithWorkers(3), WithObserver(observer)).Run(context.Background(), entries)
	require.NoError(t, err)

	require.Len(t, report.POIs, 6)
	for i, p := range report.POIs {
		assert.Equal(t, fmt.Sprintf("POI %d", i), p.Name, "report keeps roster order")
		assert.Equal(t, POIProcessed, p.Status)
	}
	assert.LessOrEqual(t, len(e.engine.namespaces), 3)
	assert.Len(t, observer.started, 6)
	assert.Len(t, observer.done, 6)
	assert.Equal(t, 6, observer.recordings)

	tmp, err := os.ReadDir(e.store.TempDir())
	require.NoError(t, err)
	assert.Empty(t, tmp, "worker namespaces are removed")
}

func TestRun_CancelledContext(t *testing.T) {
	e := newEnv(t)
	entry := e.addPOI(t, "Jane Doe", "talk1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.driver().Run(ctx, []poi.Entry{entry})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.POIs)
	assert.Zero(t, e.engine.calls)
}

func TestReport_Summary(t *testing.T) {
	report := &Report{POIs: []POIResult{
		{Name: "A", Status: POIProcessed, Recordings: []RecordingResult{
			{Recording: "r1", Status: StatusSucceeded, Counters: Counters{Turns: 3, Accepted: 1, Rejected: 2, FilesWritten: 2}},
			{Recording: "r2", Status: StatusFailed, Reason: "voice service unavailable", Counters: Counters{Turns: 1}},
		}},
		{Name: "B", Status: POISkipped},
		{Name: "C", Status: POIFailed, Reason: "poi: no reference image: C"},
	}}

	s := report.Summary()
	assert.Equal(t, 1, s.POIs[POIProcessed])
	assert.Equal(t, 1, s.POIs[POISkipped])
	assert.Equal(t, 1, s.POIs[POIFailed])
	assert.Equal(t, 1, s.Recordings[StatusSucceeded])
	assert.Equal(t, 1, s.Recordings[StatusFailed])
	assert.Equal(t, 4, s.Turns)
	assert.Equal(t, 2, s.FilesWritten)

	var buf bytes.Buffer
	report.Print(&buf)
	assert.Contains(t, buf.String(), "POIs: 1 processed, 1 skipped, 1 failed")
	assert.Contains(t, buf.String(), "A/r2 failed: voice service unavailable")
	assert.Contains(t, buf.String(), `POI "C" failed`)
}
