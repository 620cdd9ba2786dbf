// Package memory provides an in-memory EpisodeStore, used in tests and as
// the zero-setup backend. Records are copied on the way in and out so
// callers can never mutate stored state.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/pkg/models"
)

// Store keeps episodes in a map guarded by a RWMutex. Writes to the same
// episode ID are last-write-wins, matching the persistence contract.
type Store struct {
	mu           sync.RWMutex
	episodes     map[string]*models.Episode
	sessionIndex map[string][]string // session_id -> episode IDs in store order
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		episodes:     make(map[string]*models.Episode),
		sessionIndex: make(map[string][]string),
	}
}

// StoreEpisode stores or overwrites an episode.
func (s *Store) StoreEpisode(ctx context.Context, episode *models.Episode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.episodes[episode.ID]
	s.episodes[episode.ID] = copyEpisode(episode)
	if !existed {
		s.sessionIndex[episode.SessionID] = append(s.sessionIndex[episode.SessionID], episode.ID)
	}
	return episode.ID, nil
}

// RetrieveEpisodes returns matching episodes, newest first.
func (s *Store) RetrieveEpisodes(ctx context.Context, q store.Query) ([]*models.Episode, error) {
	q = q.Normalize()
	if q.Limit == 0 {
		return []*models.Episode{}, nil
	}

	s.mu.RLock()
	matched := make([]*models.Episode, 0, len(s.episodes))
	for _, e := range s.episodes {
		if q.SessionID != "" && e.SessionID != q.SessionID {
			continue
		}
		if e.AggregateScore < q.MinScore {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAtEpoch < q.Since.UnixMilli() {
			continue
		}
		if q.NotableOnly && !e.Notable {
			continue
		}
		matched = append(matched, copyEpisode(e))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAtEpoch != matched[j].CreatedAtEpoch {
			return matched[i].CreatedAtEpoch > matched[j].CreatedAtEpoch
		}
		// Stable tie-break so identical timestamps keep a deterministic order.
		return matched[i].EpisodeNumber > matched[j].EpisodeNumber
	})

	if len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// RetrieveNotable returns the newest notable episodes across all sessions.
func (s *Store) RetrieveNotable(ctx context.Context, limit int) ([]*models.Episode, error) {
	return s.RetrieveEpisodes(ctx, store.Query{NotableOnly: true, Limit: store.NotableLimit(limit)})
}

// SessionEpisodeCount reports how many episodes a session has stored.
func (s *Store) SessionEpisodeCount(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessionIndex[sessionID])
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

func copyEpisode(e *models.Episode) *models.Episode {
	c := *e
	if e.KeyExcerpts != nil {
		c.KeyExcerpts = append([]models.KeyExcerpt(nil), e.KeyExcerpts...)
	}
	return &c
}
