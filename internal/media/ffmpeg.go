package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Static errors for media operations.
var (
	// ErrInvalidRange is returned when end is not after start or start is negative.
	ErrInvalidRange = errors.New("media: invalid range: need 0 <= start < end")
	// ErrInvalidTimestamp is returned when a frame timestamp is negative.
	ErrInvalidTimestamp = errors.New("media: invalid timestamp: must not be negative")
)

// FFmpegClipper implements Clipper using the ffmpeg CLI.
type FFmpegClipper struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegClipper creates a new FFmpegClipper.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegClipper(ffmpegPath string) *FFmpegClipper {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegClipper{ffmpegPath: ffmpegPath}
}

// ExtractAudioRange writes [start, end) of in to out as 16 kHz mono PCM WAV.
func (c *FFmpegClipper) ExtractAudioRange(ctx context.Context, in, out string, start, end float64) error {
	if err := checkRange(start, end); err != nil {
		return err
	}

	args := []string{
		"-y",
		"-ss", fmtSeconds(start), // Input seeking
		"-i", in,
		"-t", fmtSeconds(end - start),
		"-vn",
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", "pcm_s16le",
		"-hide_banner", "-loglevel", "error",
		out,
	}

	return c.runFFmpeg(ctx, args)
}

// ExtractFrame writes the frame at ts to out.
func (c *FFmpegClipper) ExtractFrame(ctx context.Context, in, out string, ts float64) error {
	if ts < 0 {
		return fmt.Errorf("%w: %.3f", ErrInvalidTimestamp, ts)
	}

	args := []string{
		"-y",
		"-ss", fmtSeconds(ts),
		"-i", in,
		"-frames:v", "1", // Single frame
		"-hide_banner", "-loglevel", "error",
		out,
	}

	return c.runFFmpeg(ctx, args)
}

// ExtractVideoRange re-encodes [start, end) of in to out with libx264/aac.
func (c *FFmpegClipper) ExtractVideoRange(ctx context.Context, in, out string, start, end float64) error {
	if err := checkRange(start, end); err != nil {
		return err
	}

	args := []string{
		"-y",
		"-ss", fmtSeconds(start),
		"-i", in,
		"-t", fmtSeconds(end - start),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "18",
		"-c:a", "aac",
		"-b:a", "192k",
		"-hide_banner", "-loglevel", "error",
		out,
	}

	return c.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (c *FFmpegClipper) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

func checkRange(start, end float64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: start=%.3f end=%.3f", ErrInvalidRange, start, end)
	}
	return nil
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// Verify interface implementation at compile time.
var _ Clipper = (*FFmpegClipper)(nil)
