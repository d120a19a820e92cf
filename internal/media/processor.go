// Package media provides audio, frame and video extraction on top of ffmpeg.
package media

import (
	"context"
	"path/filepath"
	"strings"
)

// Audio extraction defaults expected by the voice and diarization models.
const (
	SampleRate = 16000
	Channels   = 1
)

// Clipper defines the extraction operations the segment pipeline needs.
// All timestamps are in seconds from the start of the input file.
type Clipper interface {
	// ExtractAudioRange writes the [start, end) range of in to out as
	// 16 kHz mono PCM WAV.
	ExtractAudioRange(ctx context.Context, in, out string, start, end float64) error

	// ExtractFrame writes the single video frame at timestamp ts to out.
	// The image format follows the extension of out.
	ExtractFrame(ctx context.Context, in, out string, ts float64) error

	// ExtractVideoRange re-encodes the [start, end) range of in to out.
	ExtractVideoRange(ctx context.Context, in, out string, start, end float64) error
}

// Basename returns the recording name of path: the file name up to its
// first ".". "talk.2019.wav" yields "talk".
func Basename(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}
