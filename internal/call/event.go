package call

import (
	"time"

	"github.com/sjawhar/meetroom/internal/transcript"
)

type EventKind string

const (
	EventSpeechStart EventKind = "speech-start"
	EventSpeechEnd   EventKind = "speech-end"
	EventCallStart   EventKind = "call-start"
	EventCallEnd     EventKind = "call-end"
	EventVolume      EventKind = "volume-level"
	EventError       EventKind = "error"
	EventTranscript  EventKind = "transcript"
)

// Event is a single observation from the voice provider. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind    EventKind
	At      time.Time
	CallID  string
	Text    string
	Speaker transcript.Speaker
	Volume  float64
	Err     error
	Fatal   bool
}

// EventSink receives provider events. Providers call Emit from their own
// goroutines.
type EventSink interface {
	Emit(Event)
}
