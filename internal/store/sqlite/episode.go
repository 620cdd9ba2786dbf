package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/pkg/models"
)

// EpisodeStore provides episode persistence over the SQLite store.
type EpisodeStore struct {
	store *Store
}

// NewEpisodeStore creates a new episode store.
func NewEpisodeStore(s *Store) *EpisodeStore {
	return &EpisodeStore{store: s}
}

// StoreEpisode persists an episode, overwriting any record with the same ID
// (last write wins). The owning session row is created on first contact and
// its episode counter incremented for every new episode ID.
func (s *EpisodeStore) StoreEpisode(ctx context.Context, episode *models.Episode) (string, error) {
	if err := s.ensureSessionExists(ctx, episode.SessionID, episode.Domain, episode.Question); err != nil {
		return "", &models.StorageUnavailableError{Op: "store_episode", SessionID: episode.SessionID, EpisodeID: episode.ID, Err: err}
	}

	var existing int
	err := s.store.QueryRowContext(ctx,
		`SELECT 1 FROM episodes WHERE episode_id = ?`, episode.ID,
	).Scan(&existing)
	isNew := err == sql.ErrNoRows
	if err != nil && err != sql.ErrNoRows {
		return "", &models.StorageUnavailableError{Op: "store_episode", SessionID: episode.SessionID, EpisodeID: episode.ID, Err: err}
	}

	var excerptsJSON sql.NullString
	if len(episode.KeyExcerpts) > 0 {
		data, err := json.Marshal(episode.KeyExcerpts)
		if err != nil {
			return "", &models.StorageUnavailableError{Op: "store_episode", SessionID: episode.SessionID, EpisodeID: episode.ID, Err: err}
		}
		excerptsJSON = sql.NullString{String: string(data), Valid: true}
	}

	const query = `
		INSERT OR REPLACE INTO episodes
		(episode_id, session_id, episode_number, domain, question,
		 start_round, end_round, aggregate_score, notable, duration_seconds,
		 key_excerpts, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.store.ExecContext(ctx, query,
		episode.ID, episode.SessionID, episode.EpisodeNumber,
		episode.Domain, episode.Question,
		episode.StartRound, episode.EndRound,
		episode.AggregateScore, boolToInt(episode.Notable), episode.DurationSeconds,
		excerptsJSON, episode.CreatedAt, episode.CreatedAtEpoch,
	)
	if err != nil {
		return "", &models.StorageUnavailableError{Op: "store_episode", SessionID: episode.SessionID, EpisodeID: episode.ID, Err: err}
	}

	if isNew {
		const bump = `UPDATE sessions SET episode_count = episode_count + 1 WHERE session_id = ?`
		if _, err := s.store.ExecContext(ctx, bump, episode.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", episode.SessionID).Msg("Failed to bump session episode counter")
		}
	}
	return episode.ID, nil
}

// ensureSessionExists creates a session row if it doesn't exist.
func (s *EpisodeStore) ensureSessionExists(ctx context.Context, sessionID, domain, question string) error {
	now := time.Now()
	const query = `
		INSERT OR IGNORE INTO sessions
		(session_id, domain, question, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.store.ExecContext(ctx, query,
		sessionID, domain, question,
		now.Format(time.RFC3339), now.UnixMilli(),
	)
	return err
}

// RetrieveEpisodes returns episodes matching the query, newest first. Filters
// combine with AND; no match yields an empty slice.
func (s *EpisodeStore) RetrieveEpisodes(ctx context.Context, q store.Query) ([]*models.Episode, error) {
	q = q.Normalize()
	if q.Limit == 0 {
		return []*models.Episode{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT episode_id, session_id, episode_number, domain, question,
		       start_round, end_round, aggregate_score, notable, duration_seconds,
		       key_excerpts, created_at, created_at_epoch
		FROM episodes
		WHERE aggregate_score >= ?
	`)
	args := []any{q.MinScore}

	if q.SessionID != "" {
		sb.WriteString(" AND session_id = ?")
		args = append(args, q.SessionID)
	}
	if !q.Since.IsZero() {
		sb.WriteString(" AND created_at_epoch >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	if q.NotableOnly {
		sb.WriteString(" AND notable = 1")
	}

	sb.WriteString(" ORDER BY created_at_epoch DESC, episode_number DESC LIMIT ?")
	args = append(args, q.Limit)

	rows, err := s.store.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, &models.StorageUnavailableError{Op: "retrieve_episodes", SessionID: q.SessionID, Err: err}
	}
	defer rows.Close()

	episodes := []*models.Episode{}
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, &models.StorageUnavailableError{Op: "retrieve_episodes", SessionID: q.SessionID, Err: err}
		}
		episodes = append(episodes, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageUnavailableError{Op: "retrieve_episodes", SessionID: q.SessionID, Err: err}
	}
	return episodes, nil
}

// RetrieveNotable returns the newest notable episodes across all sessions.
func (s *EpisodeStore) RetrieveNotable(ctx context.Context, limit int) ([]*models.Episode, error) {
	return s.RetrieveEpisodes(ctx, store.Query{NotableOnly: true, Limit: store.NotableLimit(limit)})
}

// GetEpisode retrieves a single episode by ID. Returns (nil, nil) when the
// episode does not exist.
func (s *EpisodeStore) GetEpisode(ctx context.Context, episodeID string) (*models.Episode, error) {
	const query = `
		SELECT episode_id, session_id, episode_number, domain, question,
		       start_round, end_round, aggregate_score, notable, duration_seconds,
		       key_excerpts, created_at, created_at_epoch
		FROM episodes
		WHERE episode_id = ?
		LIMIT 1
	`
	row := s.store.QueryRowContext(ctx, query, episodeID)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StorageUnavailableError{Op: "get_episode", EpisodeID: episodeID, Err: err}
	}
	return e, nil
}

// SessionEpisodeCount reports the stored episode counter for a session.
// Returns 0 for an unknown session.
func (s *EpisodeStore) SessionEpisodeCount(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT episode_count FROM sessions WHERE session_id = ? LIMIT 1`
	var count int
	err := s.store.QueryRowContext(ctx, query, sessionID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, &models.StorageUnavailableError{Op: "session_episode_count", SessionID: sessionID, Err: err}
	}
	return count, nil
}

// Close closes the underlying store.
func (s *EpisodeStore) Close() error {
	return s.store.Close()
}

// scanner abstracts *sql.Row and *sql.Rows for scanEpisode.
type scanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row scanner) (*models.Episode, error) {
	var e models.Episode
	var notable int
	var excerptsJSON sql.NullString
	err := row.Scan(
		&e.ID, &e.SessionID, &e.EpisodeNumber, &e.Domain, &e.Question,
		&e.StartRound, &e.EndRound, &e.AggregateScore, &notable, &e.DurationSeconds,
		&excerptsJSON, &e.CreatedAt, &e.CreatedAtEpoch,
	)
	if err != nil {
		return nil, err
	}
	e.Notable = notable != 0
	if excerptsJSON.Valid && excerptsJSON.String != "" {
		if err := json.Unmarshal([]byte(excerptsJSON.String), &e.KeyExcerpts); err != nil {
			log.Warn().Err(err).Str("episode_id", e.ID).Msg("Failed to decode key excerpts")
		}
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
