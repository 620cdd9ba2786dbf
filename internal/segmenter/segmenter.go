// Package segmenter decides where episode boundaries fall in a stream of
// deliberation rounds. It is stateless: the caller owns the round buffer and
// clears it whenever an episode is emitted.
package segmenter

import (
	"github.com/convoke/episodic/pkg/models"
)

// Default boundary tuning. These are heuristics, not load-bearing constants;
// every value is overridable through Config.
const (
	DefaultMinRoundsPerEpisode = 2
	DefaultMaxRoundsPerEpisode = 10
	DefaultEmergenceThreshold  = 0.7
	DefaultNotableThreshold    = 0.85
)

// Config holds the boundary-detection thresholds.
type Config struct {
	MinRoundsPerEpisode int
	MaxRoundsPerEpisode int
	EmergenceThreshold  float64
	NotableThreshold    float64
}

// DefaultConfig returns the default boundary tuning.
func DefaultConfig() Config {
	return Config{
		MinRoundsPerEpisode: DefaultMinRoundsPerEpisode,
		MaxRoundsPerEpisode: DefaultMaxRoundsPerEpisode,
		EmergenceThreshold:  DefaultEmergenceThreshold,
		NotableThreshold:    DefaultNotableThreshold,
	}
}

// withDefaults fills unset fields so a zero Config behaves sensibly.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinRoundsPerEpisode <= 0 {
		c.MinRoundsPerEpisode = d.MinRoundsPerEpisode
	}
	if c.MaxRoundsPerEpisode <= 0 {
		c.MaxRoundsPerEpisode = d.MaxRoundsPerEpisode
	}
	if c.EmergenceThreshold <= 0 {
		c.EmergenceThreshold = d.EmergenceThreshold
	}
	if c.NotableThreshold <= 0 {
		c.NotableThreshold = d.NotableThreshold
	}
	return c
}

// Segmenter evaluates boundary conditions over a caller-owned round buffer.
// Deterministic: identical buffer and config always produce the same result.
type Segmenter struct {
	cfg Config
}

// New creates a Segmenter with the given config. Zero-valued fields fall
// back to defaults.
func New(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// ProcessRound evaluates whether appending round to the buffer completes an
// episode. The buffer holds the rounds accumulated since the last boundary,
// excluding round itself. On a boundary the returned episode covers the
// buffered rounds plus round, and the caller must clear its buffer; on nil
// the caller appends round and continues.
//
// Rounds must arrive in strictly increasing order: round.Round has to be
// exactly sess.LastRound+1, otherwise an OrderingError is returned and the
// session cannot continue.
func (s *Segmenter) ProcessRound(sess *models.SessionContext, buffer []*models.RoundSummary, round *models.RoundSummary) (*models.Episode, error) {
	want := sess.LastRound + 1
	if round.Round != want {
		return nil, &models.OrderingError{SessionID: sess.SessionID, Got: round.Round, Want: want}
	}

	total := len(buffer) + 1
	if total < s.cfg.MinRoundsPerEpisode {
		return nil, nil
	}

	// A round nobody answered counts toward the minimum but cannot carry an
	// emergence signal, whatever the producer claims.
	emergence := round.EmergenceDetected && len(round.Responses) > 0

	if !emergence && total < s.cfg.MaxRoundsPerEpisode {
		return nil, nil
	}

	return s.buildEpisode(sess, append(append([]*models.RoundSummary{}, buffer...), round)), nil
}

// ForceEpisode closes out whatever rounds remain in the buffer at session
// end, ignoring the minimum-rounds requirement. Returns nil for an empty
// buffer.
func (s *Segmenter) ForceEpisode(sess *models.SessionContext, buffer []*models.RoundSummary) *models.Episode {
	if len(buffer) == 0 {
		return nil
	}
	return s.buildEpisode(sess, buffer)
}

func (s *Segmenter) buildEpisode(sess *models.SessionContext, rounds []*models.RoundSummary) *models.Episode {
	sum := 0.0
	duration := 0.0
	for _, r := range rounds {
		sum += r.EffectiveScore()
		duration += r.DurationSeconds
	}
	aggregate := sum / float64(len(rounds))

	return models.NewEpisode(
		sess.SessionID,
		sess.Domain,
		sess.Question,
		sess.EpisodeCount+1,
		rounds[0].Round,
		rounds[len(rounds)-1].Round,
		aggregate,
		aggregate >= s.cfg.NotableThreshold,
		duration,
	)
}
