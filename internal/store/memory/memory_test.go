package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/pkg/models"
)

func storedEpisode(t *testing.T, s *Store, sessionID string, number int, score float64, notable bool) *models.Episode {
	t.Helper()
	e := models.NewEpisode(sessionID, "test", "Q?", number, (number-1)*3+1, number*3, score, notable, 5)
	// Spread creation times so ordering is deterministic.
	e.CreatedAtEpoch += int64(number)
	_, err := s.StoreEpisode(context.Background(), e)
	require.NoError(t, err)
	return e
}

func TestStoreAndRetrieve(t *testing.T) {
	s := New()
	ctx := context.Background()

	low := storedEpisode(t, s, "s1", 1, 0.5, false)
	high := storedEpisode(t, s, "s1", 2, 0.8, false)

	t.Run("min score filter", func(t *testing.T) {
		got, err := s.RetrieveEpisodes(ctx, store.Query{SessionID: "s1", MinScore: 0.7})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, high.ID, got[0].ID)
	})

	t.Run("all episodes newest first", func(t *testing.T) {
		got, err := s.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, high.ID, got[0].ID)
		assert.Equal(t, low.ID, got[1].ID)
	})

	t.Run("unknown session is empty not error", func(t *testing.T) {
		got, err := s.RetrieveEpisodes(ctx, store.Query{SessionID: "missing"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestLastWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := storedEpisode(t, s, "s1", 1, 0.5, false)

	updated := *e
	updated.AggregateScore = 0.9
	_, err := s.StoreEpisode(ctx, &updated)
	require.NoError(t, err)

	got, err := s.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].AggregateScore, 1e-9)

	// Overwrite does not double-count in the session index.
	assert.Equal(t, 1, s.SessionEpisodeCount("s1"))
}

func TestNotableOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	storedEpisode(t, s, "s1", 1, 0.5, false)
	notable := storedEpisode(t, s, "s1", 2, 0.9, true)

	got, err := s.RetrieveNotable(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, notable.ID, got[0].ID)
}

func TestSinceFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := models.NewEpisode("s1", "test", "Q?", 1, 1, 3, 0.5, false, 5)
	old.CreatedAtEpoch = time.Now().Add(-2 * time.Hour).UnixMilli()
	_, err := s.StoreEpisode(ctx, old)
	require.NoError(t, err)

	recent := storedEpisode(t, s, "s1", 2, 0.5, false)

	got, err := s.RetrieveEpisodes(ctx, store.Query{Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}

func TestLimits(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		storedEpisode(t, s, "s1", i, 0.5, false)
	}

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"truncates", 2, 2},
		{"larger than result", 100, 5},
		{"negative normalizes to empty", -3, 0},
		{"zero takes default", 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.RetrieveEpisodes(ctx, store.Query{Limit: tt.limit})
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestCopiesAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := models.NewEpisode("s1", "test", "Q?", 1, 1, 3, 0.9, true, 5)
	e.KeyExcerpts = []models.KeyExcerpt{{VoiceID: "a", Round: 1, Text: "insight", Score: 0.9}}
	_, err := s.StoreEpisode(ctx, e)
	require.NoError(t, err)

	// Mutating the caller's copy must not affect the stored record.
	e.KeyExcerpts[0].Text = "mutated"
	e.AggregateScore = 0

	got, err := s.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "insight", got[0].KeyExcerpts[0].Text)
	assert.InDelta(t, 0.9, got[0].AggregateScore, 1e-9)

	// And mutating a retrieved record must not leak back.
	got[0].KeyExcerpts[0].Text = "also mutated"
	again, err := s.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "insight", again[0].KeyExcerpts[0].Text)
}
