package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/convoke/episodic/internal/segmenter"
	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/internal/store/memory"
	"github.com/convoke/episodic/pkg/models"
)

// ManagerSuite exercises the session lifecycle over an in-memory store.
type ManagerSuite struct {
	suite.Suite
	store   *memory.Store
	manager *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.store = memory.New()
	s.manager = NewManager(segmenter.New(segmenter.Config{
		MinRoundsPerEpisode: 3,
		MaxRoundsPerEpisode: 10,
		NotableThreshold:    0.85,
	}), s.store)
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) round(n int, score float64, emergence bool) *models.RoundSummary {
	return &models.RoundSummary{
		Round: n,
		Responses: map[string]models.RoundResponse{
			"voice-a": {VoiceID: "voice-a", Round: n, Text: "thoughts on round", Score: score},
		},
		AggregateScore:    score,
		EmergenceDetected: emergence,
		DurationSeconds:   1,
	}
}

func (s *ManagerSuite) TestProcessRoundRequiresSession() {
	_, err := s.manager.ProcessRound(context.Background(), s.round(1, 0.5, false))
	var noSession *models.NoActiveSessionError
	s.ErrorAs(err, &noSession)
}

func (s *ManagerSuite) TestBeginWhileActive() {
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	err := s.manager.Begin("s2", "test", "Q?", nil)
	var active *models.ActiveSessionError
	s.Require().ErrorAs(err, &active)
	s.Equal("s1", active.SessionID)
}

func (s *ManagerSuite) TestEmergenceClosesEpisode() {
	ctx := context.Background()
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	episode, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
	s.Require().NoError(err)
	s.Nil(episode)

	episode, err = s.manager.ProcessRound(ctx, s.round(2, 0.6, false))
	s.Require().NoError(err)
	s.Nil(episode)

	episode, err = s.manager.ProcessRound(ctx, s.round(3, 0.9, true))
	s.Require().NoError(err)
	s.Require().NotNil(episode)

	s.Equal("s1", episode.SessionID)
	s.Equal(1, episode.StartRound)
	s.Equal(3, episode.EndRound)
	s.InDelta(0.6667, episode.AggregateScore, 1e-4)
	s.False(episode.Notable)

	// The episode was persisted, not just returned.
	stored, err := s.store.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal(episode.ID, stored[0].ID)
}

func (s *ManagerSuite) TestNotableEpisodeGetsExcerpts() {
	ctx := context.Background()
	s.manager = NewManager(segmenter.New(segmenter.Config{
		MinRoundsPerEpisode: 3,
		NotableThreshold:    0.6,
	}), s.store)
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	_, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
	s.Require().NoError(err)
	_, err = s.manager.ProcessRound(ctx, s.round(2, 0.6, false))
	s.Require().NoError(err)

	episode, err := s.manager.ProcessRound(ctx, s.round(3, 0.9, true))
	s.Require().NoError(err)
	s.Require().NotNil(episode)
	s.Require().True(episode.Notable)

	s.Require().NotEmpty(episode.KeyExcerpts)
	s.LessOrEqual(len(episode.KeyExcerpts), MaxKeyExcerpts)
	// Highest-scoring response leads.
	s.Equal(3, episode.KeyExcerpts[0].Round)
	s.InDelta(0.9, episode.KeyExcerpts[0].Score, 1e-9)
}

func (s *ManagerSuite) TestForcedEpisodeCoversAllRounds() {
	ctx := context.Background()
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	// No boundary ever fires for low, non-emergent rounds under the cap.
	for n := 1; n <= 5; n++ {
		episode, err := s.manager.ProcessRound(ctx, s.round(n, 0.3, false))
		s.Require().NoError(err)
		s.Nil(episode)
	}

	episodes, err := s.manager.End(ctx, true)
	s.Require().NoError(err)
	s.Require().Len(episodes, 1)
	s.Equal(1, episodes[0].StartRound)
	s.Equal(5, episodes[0].EndRound)
}

func (s *ManagerSuite) TestSingleRoundSession() {
	ctx := context.Background()
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	episode, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
	s.Require().NoError(err)
	s.Nil(episode)

	episodes, err := s.manager.End(ctx, true)
	s.Require().NoError(err)
	s.Require().Len(episodes, 1)
	s.Equal(1, episodes[0].StartRound)
	s.Equal(1, episodes[0].EndRound)
}

func (s *ManagerSuite) TestEndWithoutForceDiscardsBuffer() {
	ctx := context.Background()
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	_, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
	s.Require().NoError(err)

	episodes, err := s.manager.End(ctx, false)
	s.Require().NoError(err)
	s.Empty(episodes)

	stored, err := s.store.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
	s.Require().NoError(err)
	s.Empty(stored)
}

func (s *ManagerSuite) TestEndIsIdempotent() {
	ctx := context.Background()

	// End with no session ever begun.
	episodes, err := s.manager.End(ctx, true)
	s.Require().NoError(err)
	s.Empty(episodes)

	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))
	_, err = s.manager.End(ctx, true)
	s.Require().NoError(err)

	// Second end in a row returns empty, never errors.
	episodes, err = s.manager.End(ctx, true)
	s.Require().NoError(err)
	s.Empty(episodes)
}

func (s *ManagerSuite) TestOrderingViolationSurfaces() {
	ctx := context.Background()
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	_, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
	s.Require().NoError(err)
	_, err = s.manager.ProcessRound(ctx, s.round(2, 0.5, false))
	s.Require().NoError(err)

	// Round 3 skipped.
	_, err = s.manager.ProcessRound(ctx, s.round(4, 0.5, false))
	var ordErr *models.OrderingError
	s.Require().ErrorAs(err, &ordErr)
	s.Equal("s1", ordErr.SessionID)
	s.Equal(4, ordErr.Got)
	s.Equal(3, ordErr.Want)
}

// flakyStore fails StoreEpisode while fail is set and otherwise behaves as
// the in-memory store.
type flakyStore struct {
	*memory.Store
	fail bool
}

func (f *flakyStore) StoreEpisode(ctx context.Context, e *models.Episode) (string, error) {
	if f.fail {
		return "", &models.StorageUnavailableError{
			Op:        "store_episode",
			SessionID: e.SessionID,
			EpisodeID: e.ID,
			Err:       errors.New("database is locked"),
		}
	}
	return f.Store.StoreEpisode(ctx, e)
}

func (s *ManagerSuite) TestStoreFailureKeepsRoundResubmittable() {
	ctx := context.Background()
	flaky := &flakyStore{Store: s.store, fail: true}
	s.manager = NewManager(segmenter.New(segmenter.Config{
		MinRoundsPerEpisode: 3,
		NotableThreshold:    0.85,
	}), flaky)
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	_, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
	s.Require().NoError(err)
	_, err = s.manager.ProcessRound(ctx, s.round(2, 0.6, false))
	s.Require().NoError(err)

	// Round 3 closes the episode, but the store is down.
	_, err = s.manager.ProcessRound(ctx, s.round(3, 0.9, true))
	var unavailable *models.StorageUnavailableError
	s.Require().ErrorAs(err, &unavailable)
	s.Contains(err.Error(), "s1")
	s.True(s.manager.Active())

	// Nothing was persisted and the round was not consumed.
	stored, err := s.store.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
	s.Require().NoError(err)
	s.Empty(stored)

	// After the store recovers, the same round goes through.
	flaky.fail = false
	episode, err := s.manager.ProcessRound(ctx, s.round(3, 0.9, true))
	s.Require().NoError(err)
	s.Require().NotNil(episode)
	s.Equal(1, episode.StartRound)
	s.Equal(3, episode.EndRound)

	stored, err = s.store.RetrieveEpisodes(ctx, store.Query{SessionID: "s1"})
	s.Require().NoError(err)
	s.Len(stored, 1)
}

func (s *ManagerSuite) TestStoreFailureKeepsSessionOpenOnEnd() {
	ctx := context.Background()
	flaky := &flakyStore{Store: s.store, fail: true}
	s.manager = NewManager(segmenter.New(segmenter.Config{
		MinRoundsPerEpisode: 3,
	}), flaky)
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	_, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
	s.Require().NoError(err)

	_, err = s.manager.End(ctx, true)
	var unavailable *models.StorageUnavailableError
	s.Require().ErrorAs(err, &unavailable)
	s.True(s.manager.Active())

	// Retrying the flush after recovery closes the session.
	flaky.fail = false
	episodes, err := s.manager.End(ctx, true)
	s.Require().NoError(err)
	s.Require().Len(episodes, 1)
	s.False(s.manager.Active())
}

func (s *ManagerSuite) TestSequentialSessionsShareStore() {
	ctx := context.Background()

	for _, sessionID := range []string{"s1", "s2"} {
		s.Require().NoError(s.manager.Begin(sessionID, "test", "Q?", nil))
		_, err := s.manager.ProcessRound(ctx, s.round(1, 0.5, false))
		s.Require().NoError(err)
		_, err = s.manager.End(ctx, true)
		s.Require().NoError(err)
	}

	all, err := s.manager.Recall(ctx, store.Query{})
	s.Require().NoError(err)
	s.Len(all, 2)

	one, err := s.manager.Recall(ctx, store.Query{SessionID: "s2"})
	s.Require().NoError(err)
	s.Require().Len(one, 1)
	s.Equal("s2", one[0].SessionID)
}

func (s *ManagerSuite) TestEpisodeNumbersIncrement() {
	ctx := context.Background()
	s.manager = NewManager(segmenter.New(segmenter.Config{
		MinRoundsPerEpisode: 2,
		MaxRoundsPerEpisode: 2,
	}), s.store)
	s.Require().NoError(s.manager.Begin("s1", "test", "Q?", nil))

	var numbers []int
	for n := 1; n <= 6; n++ {
		episode, err := s.manager.ProcessRound(ctx, s.round(n, 0.3, false))
		s.Require().NoError(err)
		if episode != nil {
			numbers = append(numbers, episode.EpisodeNumber)
		}
	}
	s.Equal([]int{1, 2, 3}, numbers)
}

func TestExtractExcerpts(t *testing.T) {
	long := strings.Repeat("x", 500)
	rounds := []*models.RoundSummary{
		{
			Round: 1,
			Responses: map[string]models.RoundResponse{
				"a": {VoiceID: "a", Text: "low", Score: 0.2},
				"b": {VoiceID: "b", Text: long, Score: 0.95},
			},
		},
		{
			Round: 2,
			Responses: map[string]models.RoundResponse{
				"a": {VoiceID: "a", Text: "mid", Score: 0.6},
				"b": {VoiceID: "b", Text: "", Score: 0.99}, // empty text skipped
				"c": {VoiceID: "c", Text: "high", Score: 0.9},
			},
		},
	}

	excerpts := extractExcerpts(rounds)

	if len(excerpts) != 3 {
		t.Fatalf("got %d excerpts, want 3", len(excerpts))
	}
	if excerpts[0].VoiceID != "b" || excerpts[0].Round != 1 {
		t.Errorf("top excerpt should be voice b round 1, got %s round %d", excerpts[0].VoiceID, excerpts[0].Round)
	}
	if len([]rune(excerpts[0].Text)) != maxExcerptRunes {
		t.Errorf("long excerpt not truncated: %d runes", len([]rune(excerpts[0].Text)))
	}
	if excerpts[1].VoiceID != "c" {
		t.Errorf("second excerpt should be voice c, got %s", excerpts[1].VoiceID)
	}
}
