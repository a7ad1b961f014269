package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aelira-dev/aelira/internal/audio"
	"github.com/aelira-dev/aelira/internal/track"
)

// Compile-time interface assertion.
var _ Source = (*LocalSource)(nil)

var localPattern = regexp.MustCompile(`^(local|file):`)

// LocalSource serves audio files from the gateway's own filesystem, with or
// without a `local:`/`file:` prefix.
type LocalSource struct{}

// NewLocalSource returns the filesystem source.
func NewLocalSource() *LocalSource {
	return &LocalSource{}
}

func (s *LocalSource) Name() string               { return "local" }
func (s *LocalSource) Priority() uint32           { return 20 }
func (s *LocalSource) SearchPrefixes() []string   { return []string{"local", "file"} }
func (s *LocalSource) Patterns() []*regexp.Regexp { return []*regexp.Regexp{localPattern} }

// Resolve probes the file behind the identifier and synthesizes track info
// from it: the file name becomes the title and the stripped path doubles as
// identifier and URI.
func (s *LocalSource) Resolve(_ context.Context, identifier string) ([]track.Track, error) {
	path := stripPrefix(identifier)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	defer f.Close()

	length, err := probeDuration(f, path)
	if err != nil {
		return nil, err
	}

	uri := path
	info := track.Info{
		Title:      filepath.Base(path),
		Author:     "unknown",
		Length:     length,
		Identifier: path,
		URI:        &uri,
		SourceName: "local",
	}
	return []track.Track{track.New(info)}, nil
}

// Search is a no-op: local files are addressed by path, not by query.
func (s *LocalSource) Search(context.Context, string, string) ([]track.Track, error) {
	return nil, nil
}

// OpenStream opens the file and reports its container format from the
// extension. Unknown extensions are assumed to be WebM/Opus.
func (s *LocalSource) OpenStream(_ context.Context, identifier string) (io.ReadCloser, string, error) {
	path := stripPrefix(identifier)
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("source: open %s: %w", path, err)
	}
	return f, formatForPath(path), nil
}

func stripPrefix(identifier string) string {
	return localPattern.ReplaceAllString(identifier, "")
}

// formatForPath maps a file extension to the declared container format.
func formatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm", ".mkv":
		return "webm/opus"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".mp4", ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	default:
		return "webm/opus"
	}
}

// probeDuration reads the container headers and reports the duration in
// milliseconds. Formats without a cheap duration probe report 0.
func probeDuration(f *os.File, path string) (uint64, error) {
	switch formatForPath(path) {
	case "webm/opus":
		return audio.WebmDuration(f)
	case "audio/ogg":
		return audio.OggDuration(f)
	case "audio/mpeg":
		return audio.MP3Duration(f)
	case "audio/wav":
		return audio.WAVDuration(f)
	case "audio/flac":
		return audio.FLACDuration(f)
	default:
		return 0, nil
	}
}
