package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters events using glob patterns over the two halves of the
// oplog namespace
type GlobFilter struct {
	collectionGlobs []glob.Glob
	databaseGlobs   []glob.Glob
}

// NewGlobFilter creates a new glob-based filter
// Empty patterns match everything
func NewGlobFilter(collectionPatterns, dbPatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		collectionGlobs: make([]glob.Glob, 0, len(collectionPatterns)),
		databaseGlobs:   make([]glob.Glob, 0, len(dbPatterns)),
	}

	for _, pattern := range collectionPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid collection pattern %q: %w", pattern, err)
		}
		filter.collectionGlobs = append(filter.collectionGlobs, g)
	}

	for _, pattern := range dbPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid database pattern %q: %w", pattern, err)
		}
		filter.databaseGlobs = append(filter.databaseGlobs, g)
	}

	return filter, nil
}

// Match returns true if the database and collection match the configured
// patterns. If no patterns are configured, all events match.
func (f *GlobFilter) Match(database, collection string) bool {
	dbMatch := len(f.databaseGlobs) == 0
	if !dbMatch {
		for _, g := range f.databaseGlobs {
			if g.Match(database) {
				dbMatch = true
				break
			}
		}
	}

	if !dbMatch {
		return false
	}

	collMatch := len(f.collectionGlobs) == 0
	if !collMatch {
		for _, g := range f.collectionGlobs {
			if g.Match(collection) {
				collMatch = true
				break
			}
		}
	}

	return collMatch
}
