package models

import (
	"time"

	"github.com/google/uuid"
)

// KeyExcerpt is a short quote pulled from a notable episode's best-scoring
// voice responses, kept for contextual injection into later sessions.
type KeyExcerpt struct {
	VoiceID string  `json:"voice_id"`
	Round   int     `json:"round_number"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Episode is a contiguous span of rounds closed by a detected boundary or by
// forced session termination. Episodes are immutable once created and stored
// exactly once.
type Episode struct {
	ID              string       `db:"episode_id" json:"episode_id"`
	SessionID       string       `db:"session_id" json:"session_id"`
	EpisodeNumber   int          `db:"episode_number" json:"episode_number"`
	Domain          string       `db:"domain" json:"domain"`
	Question        string       `db:"question" json:"question"`
	StartRound      int          `db:"start_round" json:"start_round"`
	EndRound        int          `db:"end_round" json:"end_round"`
	AggregateScore  float64      `db:"aggregate_score" json:"aggregate_score"`
	Notable         bool         `db:"notable" json:"notable"`
	DurationSeconds float64      `db:"duration_seconds" json:"duration_seconds"`
	KeyExcerpts     []KeyExcerpt `db:"-" json:"key_excerpts,omitempty"`
	CreatedAt       string       `db:"created_at" json:"created_at"`
	CreatedAtEpoch  int64        `db:"created_at_epoch" json:"created_at_epoch"`
}

// NewEpisode creates an Episode covering rounds [startRound, endRound] with a
// fresh ID and creation timestamps.
func NewEpisode(sessionID, domain, question string, episodeNumber, startRound, endRound int, aggregateScore float64, notable bool, durationSeconds float64) *Episode {
	now := time.Now()
	return &Episode{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		EpisodeNumber:   episodeNumber,
		Domain:          domain,
		Question:        question,
		StartRound:      startRound,
		EndRound:        endRound,
		AggregateScore:  ClampScore(aggregateScore),
		Notable:         notable,
		DurationSeconds: durationSeconds,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// RoundCount returns the number of rounds the episode spans.
func (e *Episode) RoundCount() int {
	if e.EndRound < e.StartRound {
		return 0
	}
	return e.EndRound - e.StartRound + 1
}
