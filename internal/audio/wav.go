package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSplitter implements Splitter by slicing decoded PCM frames, so chunk
// boundaries fall on exact sample positions and no re-encoding takes place.
type WAVSplitter struct{}

// NewWAVSplitter creates a new WAVSplitter.
func NewWAVSplitter() *WAVSplitter {
	return &WAVSplitter{}
}

// Split implements Splitter.Split.
func (s *WAVSplitter) Split(ctx context.Context, inputWav string, chunkSec float64, outPath PathFunc) ([]string, error) {
	if chunkSec <= 0 || math.IsNaN(chunkSec) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChunkLen, chunkSec)
	}

	buf, bitDepth, err := readPCM(inputWav)
	if err != nil {
		return nil, err
	}

	channels := buf.Format.NumChannels
	totalFrames := len(buf.Data) / channels
	if totalFrames == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyAudio, inputWav)
	}

	framesPerChunk := int(math.Round(chunkSec * float64(buf.Format.SampleRate)))
	if framesPerChunk < 1 {
		framesPerChunk = 1
	}

	var written []string
	for i, first := 0, 0; first < totalFrames; i, first = i+1, first+framesPerChunk {
		if err := ctx.Err(); err != nil {
			removeAll(written)
			return nil, err
		}

		last := min(first+framesPerChunk, totalFrames)
		chunk := &goaudio.IntBuffer{
			Format:         buf.Format,
			Data:           buf.Data[first*channels : last*channels],
			SourceBitDepth: bitDepth,
		}

		path := outPath(i)
		if err := writePCM(path, chunk, bitDepth); err != nil {
			removeAll(written)
			return nil, fmt.Errorf("write chunk %d: %w", i, err)
		}
		written = append(written, path)
	}

	return written, nil
}

func readPCM(path string) (*goaudio.IntBuffer, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return nil, 0, fmt.Errorf("%w: missing format in %s", ErrInvalidWAV, path)
	}

	return buf, int(dec.BitDepth), nil
}

func writePCM(path string, buf *goaudio.IntBuffer, bitDepth int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, buf.Format.SampleRate, bitDepth, buf.Format.NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func removeAll(paths []string) {
	for _, p := range paths {
		os.Remove(p)
	}
}

// Verify interface implementation at compile time.
var _ Splitter = (*WAVSplitter)(nil)
