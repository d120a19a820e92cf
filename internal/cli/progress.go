package cli

import (
	"context"
	"io"
	"sync"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/maauso/poiclip/internal/pipeline"
)

// progress renders pipeline events as one overall POI bar plus a bar per
// POI in flight.
type progress struct {
	p     *mpb.Progress
	total *mpb.Bar

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newProgress(ctx context.Context, w io.Writer, pois int) *progress {
	p := mpb.NewWithContext(ctx, mpb.WithOutput(w), mpb.WithWidth(64))
	total := p.AddBar(int64(pois),
		mpb.PrependDecorators(
			decor.Name("POIs: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Name(" "),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)
	return &progress{p: p, total: total, bars: make(map[string]*mpb.Bar)}
}

func (pr *progress) POIStarted(name string, recordings int) {
	if recordings == 0 {
		return
	}
	bar := pr.p.AddBar(int64(recordings),
		mpb.BarRemoveOnComplete(),
		mpb.PrependDecorators(
			decor.Name(name+": "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)

	pr.mu.Lock()
	pr.bars[name] = bar
	pr.mu.Unlock()
}

func (pr *progress) RecordingDone(name string, _ pipeline.RecordingResult) {
	pr.mu.Lock()
	bar := pr.bars[name]
	pr.mu.Unlock()

	if bar != nil {
		bar.Increment()
	}
}

func (pr *progress) POIDone(_ pipeline.POIResult) {
	pr.total.Increment()
}

// Wait drops unfinished bars and waits for rendering to stop.
func (pr *progress) Wait() {
	pr.mu.Lock()
	for name, bar := range pr.bars {
		if !bar.Completed() {
			bar.Abort(true)
		}
		delete(pr.bars, name)
	}
	pr.mu.Unlock()

	if !pr.total.Completed() {
		pr.total.Abort(false)
	}
	pr.p.Wait()
}

var _ pipeline.Observer = (*progress)(nil)
