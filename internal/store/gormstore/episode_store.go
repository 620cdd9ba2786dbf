package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/convoke/episodic/internal/store"
	"github.com/convoke/episodic/pkg/models"
)

// EpisodeStore provides episode persistence over the GORM store.
type EpisodeStore struct {
	store *Store
}

// NewEpisodeStore creates a new episode store.
func NewEpisodeStore(s *Store) *EpisodeStore {
	return &EpisodeStore{store: s}
}

// StoreEpisode persists an episode, overwriting any record with the same ID.
func (s *EpisodeStore) StoreEpisode(ctx context.Context, episode *models.Episode) (string, error) {
	db := s.store.DB.WithContext(ctx)

	if err := s.ensureSessionExists(db, episode); err != nil {
		return "", &models.StorageUnavailableError{Op: "store_episode", SessionID: episode.SessionID, EpisodeID: episode.ID, Err: err}
	}

	var count int64
	if err := db.Model(&Episode{}).Where("episode_id = ?", episode.ID).Count(&count).Error; err != nil {
		return "", &models.StorageUnavailableError{Op: "store_episode", SessionID: episode.SessionID, EpisodeID: episode.ID, Err: err}
	}

	row := fromModel(episode)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "episode_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return "", &models.StorageUnavailableError{Op: "store_episode", SessionID: episode.SessionID, EpisodeID: episode.ID, Err: err}
	}

	if count == 0 {
		err := db.Model(&Session{}).
			Where("session_id = ?", episode.SessionID).
			UpdateColumn("episode_count", gorm.Expr("episode_count + 1")).Error
		if err != nil {
			log.Warn().Err(err).Str("session_id", episode.SessionID).Msg("Failed to bump session episode counter")
		}
	}
	return episode.ID, nil
}

func (s *EpisodeStore) ensureSessionExists(db *gorm.DB, episode *models.Episode) error {
	now := time.Now()
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&Session{
		SessionID:      episode.SessionID,
		Domain:         episode.Domain,
		Question:       episode.Question,
		CreatedAt:      now.Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}).Error
}

// RetrieveEpisodes returns episodes matching the query, newest first.
func (s *EpisodeStore) RetrieveEpisodes(ctx context.Context, q store.Query) ([]*models.Episode, error) {
	q = q.Normalize()
	if q.Limit == 0 {
		return []*models.Episode{}, nil
	}

	db := s.store.DB.WithContext(ctx).
		Model(&Episode{}).
		Where("aggregate_score >= ?", q.MinScore)

	if q.SessionID != "" {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if !q.Since.IsZero() {
		db = db.Where("created_at_epoch >= ?", q.Since.UnixMilli())
	}
	if q.NotableOnly {
		db = db.Where("notable = ?", true)
	}

	var rows []Episode
	err := db.Order("created_at_epoch DESC, episode_number DESC").
		Limit(q.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, &models.StorageUnavailableError{Op: "retrieve_episodes", SessionID: q.SessionID, Err: err}
	}

	episodes := make([]*models.Episode, 0, len(rows))
	for i := range rows {
		episodes = append(episodes, rows[i].toModel())
	}
	return episodes, nil
}

// RetrieveNotable returns the newest notable episodes across all sessions.
func (s *EpisodeStore) RetrieveNotable(ctx context.Context, limit int) ([]*models.Episode, error) {
	return s.RetrieveEpisodes(ctx, store.Query{NotableOnly: true, Limit: store.NotableLimit(limit)})
}

// GetEpisode retrieves one episode by ID. Returns (nil, nil) when missing.
func (s *EpisodeStore) GetEpisode(ctx context.Context, episodeID string) (*models.Episode, error) {
	var row Episode
	err := s.store.DB.WithContext(ctx).
		Where("episode_id = ?", episodeID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.StorageUnavailableError{Op: "get_episode", EpisodeID: episodeID, Err: err}
	}
	return row.toModel(), nil
}

// Close closes the underlying store.
func (s *EpisodeStore) Close() error {
	return s.store.Close()
}
