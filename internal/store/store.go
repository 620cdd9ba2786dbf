// Package store defines the episode persistence contract. Backends are
// pluggable: in-memory, SQLite, or a GORM-managed database all satisfy the
// same interface, and the segmenter and session manager never depend on
// which one is wired in.
package store

import (
	"context"
	"time"

	"github.com/convoke/episodic/pkg/models"
)

// Default result limits for retrieval queries.
const (
	DefaultRetrieveLimit = 50
	DefaultNotableLimit  = 10
)

// Query filters episode retrieval. All set filters combine with AND
// semantics; results are ordered by creation time descending.
type Query struct {
	SessionID   string    // empty matches all sessions
	MinScore    float64   // inclusive lower bound on aggregate score
	Since       time.Time // zero matches any creation time
	NotableOnly bool
	Limit       int // 0 means DefaultRetrieveLimit; negative normalizes to 0
}

// Normalize corrects malformed filter values instead of raising: a negative
// limit clamps to 0 (an empty result), the zero value takes the default, and
// the score bound clamps into [0,1].
func (q Query) Normalize() Query {
	if q.Limit < 0 {
		q.Limit = 0
	} else if q.Limit == 0 {
		q.Limit = DefaultRetrieveLimit
	}
	if q.MinScore < 0 {
		q.MinScore = 0
	} else if q.MinScore > 1 {
		q.MinScore = 1
	}
	return q
}

// EpisodeStore is the persistence boundary for episodes. Implementations
// must be safe for use from multiple sessions; the only cross-writer
// guarantee is last-write-wins per episode ID.
type EpisodeStore interface {
	// StoreEpisode persists an episode and returns its ID. Re-storing an
	// existing ID overwrites the previous record. The owning session's
	// episode index is updated as a side effect.
	StoreEpisode(ctx context.Context, episode *models.Episode) (string, error)

	// RetrieveEpisodes returns episodes matching the query, newest first.
	// No match yields an empty slice, never an error.
	RetrieveEpisodes(ctx context.Context, q Query) ([]*models.Episode, error)

	// RetrieveNotable returns the newest notable episodes across all
	// sessions. A non-positive limit takes DefaultNotableLimit.
	RetrieveNotable(ctx context.Context, limit int) ([]*models.Episode, error)

	// Close releases backend resources.
	Close() error
}

// NotableLimit normalizes the limit for RetrieveNotable.
func NotableLimit(limit int) int {
	if limit <= 0 {
		return DefaultNotableLimit
	}
	return limit
}
