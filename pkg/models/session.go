package models

import "time"

// SessionContext is the mutable state of one in-progress deliberation
// session. It is owned exclusively by the session manager and is not
// persisted; only the episodes it produces survive the session.
type SessionContext struct {
	SessionID    string
	Domain       string
	Question     string
	Extra        map[string]any
	EpisodeCount int
	LastRound    int
	StartTime    time.Time
}

// NewSessionContext creates the context for a freshly begun session.
func NewSessionContext(sessionID, domain, question string, extra map[string]any) *SessionContext {
	return &SessionContext{
		SessionID: sessionID,
		Domain:    domain,
		Question:  question,
		Extra:     extra,
		StartTime: time.Now(),
	}
}
