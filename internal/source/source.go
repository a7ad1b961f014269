// Package source resolves track identifiers to playable tracks. Sources
// register themselves with a priority and URL patterns; the registry picks
// the right one per identifier and falls back to search.
package source

import (
	"context"
	"io"
	"regexp"

	"github.com/aelira-dev/aelira/internal/track"
)

// LoadType labels the outcome of a loadtracks request.
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

// LoadResult is the wire shape of a loadtracks response: the data payload
// depends on the load type (a single track, a track list, or an exception).
type LoadResult struct {
	LoadType LoadType `json:"loadType"`
	Data     any      `json:"data"`
}

// Exception is the error payload of a failed load.
type Exception struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause"`
}

// TrackResult wraps a single resolved track.
func TrackResult(t track.Track) LoadResult {
	return LoadResult{LoadType: LoadTypeTrack, Data: t}
}

// SearchResult wraps a list of search hits.
func SearchResult(tracks []track.Track) LoadResult {
	return LoadResult{LoadType: LoadTypeSearch, Data: tracks}
}

// EmptyResult reports that nothing matched the identifier.
func EmptyResult() LoadResult {
	return LoadResult{LoadType: LoadTypeEmpty, Data: nil}
}

// ErrorResult reports a matched source that failed to resolve.
func ErrorResult(err error) LoadResult {
	return LoadResult{
		LoadType: LoadTypeError,
		Data: Exception{
			Message:  "Track resolution failed",
			Severity: "common",
			Cause:    err.Error(),
		},
	}
}

// Source is one track provider. Implementations are registered once at
// startup and must be safe for concurrent use.
type Source interface {
	// Name identifies the source in TrackInfo.SourceName.
	Name() string

	// Priority orders pattern matching; higher wins.
	Priority() uint32

	// SearchPrefixes lists the identifier prefixes (before a colon) that
	// route searches to this source.
	SearchPrefixes() []string

	// Patterns returns the compiled identifier patterns this source claims.
	Patterns() []*regexp.Regexp

	// Resolve loads the tracks behind a matched identifier.
	Resolve(ctx context.Context, identifier string) ([]track.Track, error)

	// Search performs a free-text lookup. kind is "track" for now.
	Search(ctx context.Context, query, kind string) ([]track.Track, error)

	// OpenStream opens the raw byte stream of a previously resolved track
	// and reports its declared container format.
	OpenStream(ctx context.Context, identifier string) (io.ReadCloser, string, error)
}
