package session

import "errors"

var (
	// ErrMeetingNotFound is returned when the meeting record does not exist.
	// Start joins it with ErrConfigNotReady.
	ErrMeetingNotFound = errors.New("meeting not found")

	// ErrConfigNotReady is returned by Start when the meeting or the assistant
	// config could not be loaded. No provider call is attempted.
	ErrConfigNotReady = errors.New("session config not ready")

	ErrSessionActive   = errors.New("session already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrShuttingDown    = errors.New("supervisor shutting down")

	ErrSummarizerUnavailable = errors.New("summarizer not configured")
	ErrEmptyTranscript       = errors.New("meeting has no transcript")
)
