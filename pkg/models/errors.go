package models

import (
	"fmt"
	"strings"
)

// OrderingError reports a round submitted out of sequence. It is fatal to
// the current session; the caller must restart the session.
type OrderingError struct {
	SessionID string
	Got       int
	Want      int
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("session %s: round %d out of order, expected %d", e.SessionID, e.Got, e.Want)
}

// NoActiveSessionError reports an operation that requires an active session
// when none has been begun. Always a caller bug, never retried internally.
type NoActiveSessionError struct {
	Op string
}

func (e *NoActiveSessionError) Error() string {
	return fmt.Sprintf("%s: no active session", e.Op)
}

// ActiveSessionError reports a begin attempt while another session is still
// active on the same manager instance.
type ActiveSessionError struct {
	SessionID string
}

func (e *ActiveSessionError) Error() string {
	return fmt.Sprintf("session %s is still active, end it first", e.SessionID)
}

// StorageUnavailableError wraps a backend failure during a store read or
// write. The core performs no retry; callers decide on retry or backoff.
// SessionID and EpisodeID identify the affected records where the operation
// has them, so failures are diagnosable without inspecting internal buffers.
type StorageUnavailableError struct {
	Op        string
	SessionID string
	EpisodeID string
	Err       error
}

func (e *StorageUnavailableError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "storage unavailable during %s", e.Op)
	if e.SessionID != "" {
		fmt.Fprintf(&b, ", session %s", e.SessionID)
	}
	if e.EpisodeID != "" {
		fmt.Fprintf(&b, ", episode %s", e.EpisodeID)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }
