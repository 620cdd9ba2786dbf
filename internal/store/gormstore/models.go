// Package gormstore provides a GORM-backed EpisodeStore. It targets SQLite
// for embedded deployments and Postgres when many writers share one store.
package gormstore

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/convoke/episodic/pkg/models"
)

// ExcerptList stores key excerpts as a JSON text column.
type ExcerptList []models.KeyExcerpt

// Value implements driver.Valuer.
func (l ExcerptList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *ExcerptList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into ExcerptList", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

// Session tracks per-session episode counters.
type Session struct {
	SessionID      string `gorm:"primaryKey"`
	Domain         string `gorm:"index"`
	Question       string
	EpisodeCount   int    `gorm:"default:0"`
	CreatedAt      string `gorm:"not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
}

func (Session) TableName() string { return "sessions" }

// Episode is the persisted episode row.
type Episode struct {
	EpisodeID       string `gorm:"primaryKey"`
	SessionID       string `gorm:"index;not null"`
	EpisodeNumber   int    `gorm:"not null"`
	Domain          string
	Question        string
	StartRound      int         `gorm:"not null"`
	EndRound        int         `gorm:"not null"`
	AggregateScore  float64     `gorm:"type:real;index;not null"`
	Notable         bool        `gorm:"index:idx_episodes_notable,priority:1;default:false"`
	DurationSeconds float64     `gorm:"type:real;default:0"`
	KeyExcerpts     ExcerptList `gorm:"type:text"`
	CreatedAt       string      `gorm:"not null"`
	CreatedAtEpoch  int64       `gorm:"index:idx_episodes_created,sort:desc;index:idx_episodes_notable,priority:2,sort:desc;not null"`
}

func (Episode) TableName() string { return "episodes" }

// BeforeCreate hook to ensure timestamps are set.
func (e *Episode) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAtEpoch == 0 {
		e.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// toModel converts a row to the domain model.
func (e *Episode) toModel() *models.Episode {
	return &models.Episode{
		ID:              e.EpisodeID,
		SessionID:       e.SessionID,
		EpisodeNumber:   e.EpisodeNumber,
		Domain:          e.Domain,
		Question:        e.Question,
		StartRound:      e.StartRound,
		EndRound:        e.EndRound,
		AggregateScore:  e.AggregateScore,
		Notable:         e.Notable,
		DurationSeconds: e.DurationSeconds,
		KeyExcerpts:     []models.KeyExcerpt(e.KeyExcerpts),
		CreatedAt:       e.CreatedAt,
		CreatedAtEpoch:  e.CreatedAtEpoch,
	}
}

// fromModel converts a domain episode to its row form.
func fromModel(m *models.Episode) *Episode {
	return &Episode{
		EpisodeID:       m.ID,
		SessionID:       m.SessionID,
		EpisodeNumber:   m.EpisodeNumber,
		Domain:          m.Domain,
		Question:        m.Question,
		StartRound:      m.StartRound,
		EndRound:        m.EndRound,
		AggregateScore:  m.AggregateScore,
		Notable:         m.Notable,
		DurationSeconds: m.DurationSeconds,
		KeyExcerpts:     ExcerptList(m.KeyExcerpts),
		CreatedAt:       m.CreatedAt,
		CreatedAtEpoch:  m.CreatedAtEpoch,
	}
}
