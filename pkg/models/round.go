// Package models contains domain models for episodic.
package models

import (
	"github.com/rs/zerolog/log"
)

// RoundResponse is a single voice's contribution to one deliberation round.
// Text is opaque to the core; no semantic analysis happens here.
type RoundResponse struct {
	VoiceID string  `db:"voice_id" json:"voice_id"`
	Round   int     `db:"round_number" json:"round_number"`
	Text    string  `db:"text" json:"text"`
	Score   float64 `db:"score" json:"score"`
}

// RoundSummary aggregates all voice responses for one round.
// Immutable after construction; the producer computes the aggregate before
// handing the summary to the segmenter.
type RoundSummary struct {
	Round             int                      `json:"round_number"`
	Responses         map[string]RoundResponse `json:"responses"`
	AggregateScore    float64                  `json:"aggregate_score"`
	EmergenceDetected bool                     `json:"emergence_detected"`
	DurationSeconds   float64                  `json:"duration_seconds"`
}

// ClampScore normalizes a score into [0,1]. Out-of-range inputs are logged
// and corrected rather than rejected; they never invalidate a round.
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		log.Warn().Float64("score", score).Msg("Score below range, clamping to 0")
		return 0
	case score > 1:
		log.Warn().Float64("score", score).Msg("Score above range, clamping to 1")
		return 1
	}
	return score
}

// NewRoundSummary builds a RoundSummary from the responses collected for one
// round. Response scores are clamped to [0,1]; the aggregate is their mean.
// A round with no responses aggregates to 0 and never detects emergence.
func NewRoundSummary(round int, responses []RoundResponse, durationSeconds, emergenceThreshold float64) *RoundSummary {
	byVoice := make(map[string]RoundResponse, len(responses))
	for _, r := range responses {
		r.Round = round
		r.Score = ClampScore(r.Score)
		byVoice[r.VoiceID] = r
	}

	// Sum over the deduplicated map: a producer repeating a voice ID must not
	// inflate the mean past the true per-voice average.
	sum := 0.0
	for _, r := range byVoice {
		sum += r.Score
	}

	aggregate := 0.0
	if len(byVoice) > 0 {
		aggregate = sum / float64(len(byVoice))
	}

	return &RoundSummary{
		Round:             round,
		Responses:         byVoice,
		AggregateScore:    aggregate,
		EmergenceDetected: len(byVoice) > 0 && aggregate >= emergenceThreshold,
		DurationSeconds:   durationSeconds,
	}
}

// EffectiveScore returns the round's aggregate clamped to [0,1].
// An empty round always scores 0.
func (r *RoundSummary) EffectiveScore() float64 {
	if len(r.Responses) == 0 {
		return 0
	}
	return ClampScore(r.AggregateScore)
}
