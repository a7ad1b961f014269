package source

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/aelira-dev/aelira/internal/track"
)

// Registry holds the registered sources, ordered by descending priority.
type Registry struct {
	mu       sync.RWMutex
	ordered  []Source
	byName   map[string]Source
	byPrefix map[string]Source
	log      *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		byName:   make(map[string]Source),
		byPrefix: make(map[string]Source),
		log:      log.With("component", "AudioStream"),
	}
}

// Register adds a source and re-sorts the match order.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ordered = append(r.ordered, s)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		return r.ordered[i].Priority() > r.ordered[j].Priority()
	})
	r.byName[s.Name()] = s
	for _, prefix := range s.SearchPrefixes() {
		r.byPrefix[prefix] = s
	}
}

// Lookup returns a source by name.
func (r *Registry) Lookup(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Names returns the registered source names in match order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.ordered))
	for i, s := range r.ordered {
		names[i] = s.Name()
	}
	return names
}

// LoadTracks resolves an identifier to a load result. Resolution order:
// existing local paths go to the "local" source, then identifier patterns
// by priority, then registered search prefixes, then a unified search
// across every source. A source that matched but failed yields an error
// result rather than an empty one.
func (r *Registry) LoadTracks(ctx context.Context, identifier string) LoadResult {
	r.mu.RLock()
	ordered := make([]Source, len(r.ordered))
	copy(ordered, r.ordered)
	local := r.byName["local"]
	byPrefix := make(map[string]Source, len(r.byPrefix))
	for prefix, s := range r.byPrefix {
		byPrefix[prefix] = s
	}
	r.mu.RUnlock()

	if local != nil {
		if _, err := os.Stat(identifier); err == nil {
			tracks, err := local.Resolve(ctx, identifier)
			if err != nil {
				r.log.Warn("local path resolution failed", "identifier", identifier, "error", err)
				return ErrorResult(err)
			}
			if len(tracks) > 0 {
				return TrackResult(tracks[0])
			}
		}
	}

	for _, s := range ordered {
		for _, pattern := range s.Patterns() {
			if !pattern.MatchString(identifier) {
				continue
			}
			tracks, err := s.Resolve(ctx, identifier)
			if err != nil {
				r.log.Warn("source resolution failed",
					"source", s.Name(), "identifier", identifier, "error", err)
				return ErrorResult(err)
			}
			if len(tracks) == 1 {
				return TrackResult(tracks[0])
			}
			if len(tracks) > 0 {
				return SearchResult(tracks)
			}
		}
	}

	if prefix, query, ok := strings.Cut(identifier, ":"); ok {
		if s, found := byPrefix[prefix]; found {
			tracks, err := s.Search(ctx, query, "track")
			if err != nil {
				return ErrorResult(err)
			}
			if len(tracks) > 0 {
				return SearchResult(tracks)
			}
			return EmptyResult()
		}
	}

	var hits []track.Track
	for _, s := range ordered {
		tracks, err := s.Search(ctx, identifier, "track")
		if err != nil {
			r.log.Debug("unified search failed", "source", s.Name(), "error", err)
			continue
		}
		hits = append(hits, tracks...)
	}
	if len(hits) == 0 {
		return EmptyResult()
	}
	return SearchResult(hits)
}
