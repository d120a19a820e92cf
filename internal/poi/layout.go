package poi

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maauso/poiclip/internal/media"
)

// Static errors for asset resolution.
var (
	// ErrNoReferenceAudio is returned when a POI has no reference audio clip.
	ErrNoReferenceAudio = errors.New("poi: no reference audio")
	// ErrNoReferenceImage is returned when a POI has no reference image.
	ErrNoReferenceImage = errors.New("poi: no reference image")
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Layout locates POI files on disk.
//
//	{RecordingsDir}/{poi}/{basename}.wav (+ optional {basename}.mp4)
//	{RefAudioDir}/{poi}/*.wav
//	{RefImagesDir}/{poi}.{jpg,png,...} or {RefImagesDir}/{poi}/*
//	{OutputDir}/{poi}/
type Layout struct {
	RecordingsDir string
	OutputDir     string
	RefAudioDir   string
	RefImagesDir  string
}

// References are the assets a POI's recordings are compared against.
type References struct {
	Audio string
	Image string
	// IgnoredAudio and IgnoredImages count matches beyond the first.
	IgnoredAudio  int
	IgnoredImages int
}

// Recording is one source recording of a POI.
type Recording struct {
	// Audio is the raw audio file.
	Audio string
	// Video is the paired video file, empty when none exists.
	Video string
	// Basename is the file name of Audio up to its first ".".
	Basename string
}

// OutputFolder returns the output folder of the POI.
func (l Layout) OutputFolder(name string) string {
	return filepath.Join(l.OutputDir, name)
}

// Claim creates the POI's output folder. It returns false without error
// when the folder already exists, in which case the POI was processed by
// an earlier run (or is being processed by another worker) and must be
// skipped. Creation is atomic, so exactly one caller claims a POI.
func (l Layout) Claim(name string) (bool, error) {
	if err := os.MkdirAll(l.OutputDir, 0755); err != nil {
		return false, fmt.Errorf("create output root: %w", err)
	}
	err := os.Mkdir(l.OutputFolder(name), 0755)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	return false, fmt.Errorf("create output folder: %w", err)
}

// References resolves the POI's reference audio and image. Candidates are
// taken in lexical order and only the first of each kind is used.
func (l Layout) References(name string) (References, error) {
	var refs References

	audio, err := l.ReferenceAudio(name)
	if err != nil {
		return refs, err
	}
	if len(audio) == 0 {
		return refs, fmt.Errorf("%w: %s", ErrNoReferenceAudio, name)
	}
	refs.Audio, refs.IgnoredAudio = audio[0], len(audio)-1

	images, err := l.ReferenceImages(name)
	if err != nil {
		return refs, err
	}
	if len(images) == 0 {
		return refs, fmt.Errorf("%w: %s", ErrNoReferenceImage, name)
	}
	refs.Image, refs.IgnoredImages = images[0], len(images)-1

	return refs, nil
}

// ReferenceAudio lists every reference audio clip of the POI in lexical
// order.
func (l Layout) ReferenceAudio(name string) ([]string, error) {
	return glob(filepath.Join(l.RefAudioDir, name, "*.wav"), nil)
}

// ReferenceImages lists the POI's reference images: {name}.* first, then
// the files of the {name} folder, each group in lexical order. Files
// without an image extension are ignored.
func (l Layout) ReferenceImages(name string) ([]string, error) {
	isImage := func(p string) bool { return imageExts[strings.ToLower(filepath.Ext(p))] }
	images, err := glob(filepath.Join(l.RefImagesDir, name+".*"), isImage)
	if err != nil {
		return nil, err
	}
	nested, err := glob(filepath.Join(l.RefImagesDir, name, "*"), isImage)
	if err != nil {
		return nil, err
	}
	return append(images, nested...), nil
}

// Recordings lists the POI's source recordings in lexical order. A POI
// without a recordings folder has no recordings.
func (l Layout) Recordings(name string) ([]Recording, error) {
	dir := filepath.Join(l.RecordingsDir, name)
	wavs, err := glob(filepath.Join(dir, "*.wav"), nil)
	if err != nil {
		return nil, err
	}

	recs := make([]Recording, 0, len(wavs))
	for _, w := range wavs {
		rec := Recording{Audio: w, Basename: media.Basename(w)}
		video := filepath.Join(dir, rec.Basename+".mp4")
		if info, err := os.Stat(video); err == nil && !info.IsDir() {
			rec.Video = video
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// glob returns the regular files matching pattern that pass keep, sorted.
// Only the final element of pattern is treated as a pattern; directory
// components are matched literally.
func glob(pattern string, keep func(string) bool) ([]string, error) {
	dir, base := filepath.Split(pattern)
	matches, err := filepath.Glob(filepath.Join(escapeGlob(filepath.Clean(dir)), base))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	var files []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if keep != nil && !keep(m) {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}
