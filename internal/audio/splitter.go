// Package audio provides interfaces and implementations for audio processing.
package audio

import (
	"context"
	"errors"
)

// Static errors for audio splitting.
var (
	// ErrInvalidChunkLen is returned when the chunk length is not positive.
	ErrInvalidChunkLen = errors.New("audio: chunk length must be positive")
	// ErrInvalidWAV is returned when the input is not a readable PCM WAV file.
	ErrInvalidWAV = errors.New("audio: not a valid PCM wav file")
	// ErrEmptyAudio is returned when the input holds no samples.
	ErrEmptyAudio = errors.New("audio: input has no samples")
)

// PathFunc returns the output path for the chunk with the given zero-based index.
type PathFunc func(index int) string

// Splitter defines the interface for re-slicing an audio file into
// consecutive fixed-length chunks.
type Splitter interface {
	// Split divides inputWav into consecutive chunks of chunkSec seconds.
	// The final chunk holds whatever remains and may be shorter. Chunks
	// cover the input exactly: no sample is dropped or duplicated.
	//
	// Chunk i is written to outPath(i). Returns the written paths in order.
	// The input file is left untouched; the caller owns its removal.
	Split(ctx context.Context, inputWav string, chunkSec float64, outPath PathFunc) ([]string, error)
}
