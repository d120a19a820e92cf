// Package clip commits accepted speaker turns to a POI's output folder:
// short turns are moved into place, long turns are re-sliced into bounded
// chunks, and each committed span can be paired with a video clip and
// mirrored to S3.
package clip

import "fmt"

// Name returns the file stem of a committed turn:
// {basename}_{start}_{end} with both bounds in seconds to three decimals.
func Name(basename string, start, end float64) string {
	return fmt.Sprintf("%s_%.3f_%.3f", basename, start, end)
}

// ChunkName returns the file stem of chunk index of a re-sliced turn.
// Indices are zero-based.
func ChunkName(basename string, start, end float64, index int) string {
	return fmt.Sprintf("%s_%d", Name(basename, start, end), index)
}
