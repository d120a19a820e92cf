// Package audiotest writes and inspects synthetic PCM WAV files for tests.
package audiotest

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

// SampleRate of the files written by WriteWAV.
const SampleRate = 16000

// WriteWAV writes a 16-bit mono 440 Hz tone of the given length to path
// and returns path.
func WriteWAV(t testing.TB, path string, seconds float64) string {
	t.Helper()

	frames := int(math.Round(seconds * SampleRate))
	data := make([]int, frames)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	require.NoError(t, enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())

	return path
}

// Duration returns the playback length of the WAV file at path in seconds.
func Duration(t testing.TB, path string) float64 {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile(), "not a wav file: %s", path)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	return float64(len(buf.Data)/buf.Format.NumChannels) / float64(buf.Format.SampleRate)
}
