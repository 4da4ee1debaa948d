package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ParseSpeaker maps a provider role onto a transcript speaker. Anything that
// is neither the caller nor the assistant (system, tool, function) is rejected.
func ParseSpeaker(role string) (Speaker, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return SpeakerUser, true
	case "assistant", "bot":
		return SpeakerAssistant, true
	default:
		return "", false
	}
}

type Kind string

const (
	KindSingleUtterance      Kind = "single-utterance"
	KindConversationSnapshot Kind = "conversation-snapshot"
)

type Entry struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Speaker   Speaker `json:"speaker"`
	Timestamp int64   `json:"timestamp"`
	Kind      Kind    `json:"kind"`
}

// NewEntry trims text and stamps a fresh identity. It returns false when the
// text is empty after trimming.
func NewEntry(text string, speaker Speaker, kind Kind, at time.Time) (Entry, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, false
	}
	return Entry{
		ID:        uuid.NewString(),
		Text:      text,
		Speaker:   speaker,
		Timestamp: at.UnixMilli(),
		Kind:      kind,
	}, true
}

func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

func (e Entry) FormatMarkdown() string {
	ts := e.Time().Format("15:04:05")
	return fmt.Sprintf("**[%s] %s:** %s", ts, e.Speaker, strings.TrimSpace(e.Text))
}

// PlainText renders entries one per line as "speaker: text", the form handed
// to summarizers.
func PlainText(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		b.WriteString(string(e.Speaker))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteString("\n")
	}
	return b.String()
}
