// Package session ties the segmenter and the episode store together behind a
// single session lifecycle. A Manager handles one session at a time;
// concurrent sessions each get their own Manager sharing one store.
package session

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/convoke/episodic/internal/segmenter"
	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/pkg/models"
)

// MaxKeyExcerpts is how many top-scoring voice responses are attached to a
// notable episode for later contextual injection.
const MaxKeyExcerpts = 3

// maxExcerptRunes caps the length of a stored excerpt.
const maxExcerptRunes = 280

// Manager is the only entry point external callers use. It owns the round
// buffer for the active session exclusively; the store behind it may be
// shared with other managers.
type Manager struct {
	seg    *segmenter.Segmenter
	store  store.EpisodeStore
	sess   *models.SessionContext
	buffer []*models.RoundSummary
}

// NewManager creates a Manager in the idle state.
func NewManager(seg *segmenter.Segmenter, st store.EpisodeStore) *Manager {
	return &Manager{seg: seg, store: st}
}

// Active reports whether a session is in progress.
func (m *Manager) Active() bool { return m.sess != nil }

// SessionID returns the active session's ID, or "" when idle.
func (m *Manager) SessionID() string {
	if m.sess == nil {
		return ""
	}
	return m.sess.SessionID
}

// Begin starts a new session. Only one session may be active per Manager.
func (m *Manager) Begin(sessionID, domain, question string, extra map[string]any) error {
	if m.sess != nil {
		return &models.ActiveSessionError{SessionID: m.sess.SessionID}
	}
	m.sess = models.NewSessionContext(sessionID, domain, question, extra)
	m.buffer = nil
	log.Debug().Str("session_id", sessionID).Str("domain", domain).Msg("Session started")
	return nil
}

// ProcessRound feeds one round into the active session. When the round
// completes an episode, the episode is persisted and returned; otherwise the
// round is buffered and nil is returned.
//
// On a storage failure the round is not consumed: the buffer is left intact
// and the same round may be resubmitted after the caller deals with the
// store.
func (m *Manager) ProcessRound(ctx context.Context, round *models.RoundSummary) (*models.Episode, error) {
	if m.sess == nil {
		return nil, &models.NoActiveSessionError{Op: "process_round"}
	}

	episode, err := m.seg.ProcessRound(m.sess, m.buffer, round)
	if err != nil {
		return nil, err
	}
	if episode == nil {
		m.buffer = append(m.buffer, round)
		m.sess.LastRound = round.Round
		return nil, nil
	}

	if episode.Notable {
		episode.KeyExcerpts = extractExcerpts(append(append([]*models.RoundSummary{}, m.buffer...), round))
	}
	if _, err := m.store.StoreEpisode(ctx, episode); err != nil {
		return nil, err
	}

	m.sess.LastRound = round.Round
	m.sess.EpisodeCount++
	m.buffer = nil
	log.Debug().
		Str("session_id", m.sess.SessionID).
		Str("episode_id", episode.ID).
		Int("start_round", episode.StartRound).
		Int("end_round", episode.EndRound).
		Bool("notable", episode.Notable).
		Msg("Episode stored")
	return episode, nil
}

// End closes the active session. With force set, any buffered rounds are
// flushed into one final episode regardless of the minimum-rounds rule.
// Returns the episodes created during the close, typically zero or one.
// Calling End when no session is active returns an empty slice.
func (m *Manager) End(ctx context.Context, force bool) ([]*models.Episode, error) {
	if m.sess == nil {
		return []*models.Episode{}, nil
	}

	created := []*models.Episode{}
	if force {
		if episode := m.seg.ForceEpisode(m.sess, m.buffer); episode != nil {
			if episode.Notable {
				episode.KeyExcerpts = extractExcerpts(m.buffer)
			}
			if _, err := m.store.StoreEpisode(ctx, episode); err != nil {
				// Session stays open so the caller can retry the flush.
				return nil, err
			}
			m.sess.EpisodeCount++
			created = append(created, episode)
		}
	}

	log.Debug().
		Str("session_id", m.sess.SessionID).
		Int("episodes", m.sess.EpisodeCount).
		Float64("duration_seconds", time.Since(m.sess.StartTime).Seconds()).
		Msg("Session ended")
	m.sess = nil
	m.buffer = nil
	return created, nil
}

// Recall retrieves previously stored episodes for injection into a new
// session's context. It is valid in any state and simply delegates to the
// shared store.
func (m *Manager) Recall(ctx context.Context, q store.Query) ([]*models.Episode, error) {
	return m.store.RetrieveEpisodes(ctx, q)
}

// RecallNotable retrieves the newest notable episodes across all sessions.
func (m *Manager) RecallNotable(ctx context.Context, limit int) ([]*models.Episode, error) {
	return m.store.RetrieveNotable(ctx, limit)
}

// extractExcerpts picks the highest-scoring voice responses across the
// episode's rounds, truncated for storage.
func extractExcerpts(rounds []*models.RoundSummary) []models.KeyExcerpt {
	var all []models.KeyExcerpt
	for _, r := range rounds {
		for _, resp := range r.Responses {
			if resp.Text == "" {
				continue
			}
			all = append(all, models.KeyExcerpt{
				VoiceID: resp.VoiceID,
				Round:   r.Round,
				Text:    truncateRunes(resp.Text, maxExcerptRunes),
				Score:   models.ClampScore(resp.Score),
			})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Round < all[j].Round
	})

	if len(all) > MaxKeyExcerpts {
		all = all[:MaxKeyExcerpts]
	}
	return all
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
