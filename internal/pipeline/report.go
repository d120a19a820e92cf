package pipeline

import (
	"fmt"
	"io"
	"time"
)

// Status is the outcome of processing one recording.
type Status string

const (
	// StatusSucceeded means every turn of the recording was processed.
	StatusSucceeded Status = "succeeded"
	// StatusSkipped means the recording had no diarization to work from.
	StatusSkipped Status = "skipped"
	// StatusFailed means processing stopped early. Clips committed before
	// the failure are kept.
	StatusFailed Status = "failed"
)

// POIStatus is the outcome of processing one POI.
type POIStatus string

const (
	// POIProcessed means the POI's recordings were processed. Individual
	// recordings may still have failed.
	POIProcessed POIStatus = "processed"
	// POISkipped means the POI's output folder already existed.
	POISkipped POIStatus = "skipped"
	// POIFailed means the POI could not be processed at all, typically
	// because a reference asset is missing.
	POIFailed POIStatus = "failed"
)

// Counters tally turn outcomes.
type Counters struct {
	Turns         int
	Filtered      int
	Rejected      int
	Accepted      int
	CommitFailed  int
	FilesWritten  int
	VideosWritten int
}

func (c *Counters) add(o Counters) {
	c.Turns += o.Turns
	c.Filtered += o.Filtered
	c.Rejected += o.Rejected
	c.Accepted += o.Accepted
	c.CommitFailed += o.CommitFailed
	c.FilesWritten += o.FilesWritten
	c.VideosWritten += o.VideosWritten
}

// RecordingResult is the explicit result of one recording.
type RecordingResult struct {
	Recording string
	Status    Status
	// Reason explains a skipped or failed recording.
	Reason string
	Counters
	Elapsed time.Duration
}

// POIResult is the result of one POI.
type POIResult struct {
	Name       string
	Status     POIStatus
	Reason     string
	Recordings []RecordingResult
}

// Totals sums the counters of all recordings.
func (r POIResult) Totals() Counters {
	var c Counters
	for _, rec := range r.Recordings {
		c.add(rec.Counters)
	}
	return c
}

// Report aggregates a run.
type Report struct {
	// POIs holds one result per roster entry, in roster order.
	POIs       []POIResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Summary counts POIs and recordings by status.
type Summary struct {
	POIs       map[POIStatus]int
	Recordings map[Status]int
	Counters
}

// Summary computes the report's totals.
func (r *Report) Summary() Summary {
	s := Summary{
		POIs:       make(map[POIStatus]int),
		Recordings: make(map[Status]int),
	}
	for _, p := range r.POIs {
		s.POIs[p.Status]++
		for _, rec := range p.Recordings {
			s.Recordings[rec.Status]++
		}
		s.add(p.Totals())
	}
	return s
}

// Print writes a human readable summary of the report to w.
func (r *Report) Print(w io.Writer) {
	s := r.Summary()
	fmt.Fprintf(w, "POIs: %d processed, %d skipped, %d failed\n",
		s.POIs[POIProcessed], s.POIs[POISkipped], s.POIs[POIFailed])
	fmt.Fprintf(w, "Recordings: %d succeeded, %d skipped, %d failed\n",
		s.Recordings[StatusSucceeded], s.Recordings[StatusSkipped], s.Recordings[StatusFailed])
	fmt.Fprintf(w, "Turns: %d total, %d filtered, %d rejected, %d accepted (%d commit failures)\n",
		s.Turns, s.Filtered, s.Rejected, s.Accepted, s.CommitFailed)
	fmt.Fprintf(w, "Files written: %d audio, %d video\n", s.FilesWritten, s.VideosWritten)

	for _, p := range r.POIs {
		if p.Status == POIFailed {
			fmt.Fprintf(w, "  POI %q failed: %s\n", p.Name, p.Reason)
		}
		for _, rec := range p.Recordings {
			if rec.Status == StatusFailed {
				fmt.Fprintf(w, "  %s/%s failed: %s\n", p.Name, rec.Recording, rec.Reason)
			}
		}
	}
	fmt.Fprintf(w, "Elapsed: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
}
