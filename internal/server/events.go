package server

import (
	"time"

	"github.com/sjawhar/meetroom/internal/transcript"
)

const EventVersion = 1

type Event struct {
	Type      string    `json:"type"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

type EntryAddedEvent struct {
	Event
	MeetingID string           `json:"meeting_id"`
	Entry     transcript.Entry `json:"entry"`
}

type SessionStateEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
	State     string `json:"state"`
	Muted     bool   `json:"muted"`
	Error     string `json:"error,omitempty"`
}

type SpeechEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
	Speaking  bool   `json:"speaking"`
}

type VolumeEvent struct {
	Event
	MeetingID string  `json:"meeting_id"`
	Level     float64 `json:"level"`
}

type SummaryReadyEvent struct {
	Event
	MeetingID string `json:"meeting_id"`
	Summary   string `json:"summary"`
	Status    string `json:"status"`
	Preset    string `json:"preset,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, ts time.Time) Event {
	return Event{Type: eventType, Version: EventVersion, Timestamp: ts}
}
