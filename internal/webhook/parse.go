package webhook

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sjawhar/meetroom/internal/transcript"
)

const (
	TypeTranscript           = "transcript"
	TypeTranscriptFinal      = `transcript[transcriptType="final"]`
	TypeTranscriptFinalAlias = "transcript-final"
	TypeConversationUpdate   = "conversation-update"
)

// Event is one normalized transcript entry addressed to a session. At least
// one of MeetingID and CallID is set when the payload carried routing data.
type Event struct {
	MeetingID string
	CallID    string
	Entry     transcript.Entry
}

// Parse validates a provider callback and normalizes it into events. A
// *ValidationError is returned for payloads that must be rejected. A valid
// payload may still yield no events (blank text, roles that are not part of
// the conversation).
func Parse(body []byte, receivedAt time.Time) ([]Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, invalid("Invalid JSON payload")
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, invalid("Invalid message format - not an object")
	}

	typ := root.Get("type")
	if typ.Type != gjson.String || typ.Str == "" {
		return nil, invalid("Invalid message format - missing or invalid type")
	}

	var entries []transcript.Entry
	switch typ.Str {
	case TypeTranscript, TypeTranscriptFinal, TypeTranscriptFinalAlias:
		if e, ok := parseTranscript(root, receivedAt); ok {
			entries = append(entries, e)
		}
	case TypeConversationUpdate:
		entries = parseConversation(root, receivedAt)
	default:
		return nil, invalid("Invalid message type: " + typ.Str)
	}

	meetingID := strings.TrimSpace(root.Get("call.metadata.meetingId").String())
	callID := strings.TrimSpace(root.Get("call.id").String())

	events := make([]Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, Event{MeetingID: meetingID, CallID: callID, Entry: e})
	}
	return events, nil
}

func parseTranscript(root gjson.Result, receivedAt time.Time) (transcript.Entry, bool) {
	speaker, ok := transcript.ParseSpeaker(root.Get("role").String())
	if !ok {
		return transcript.Entry{}, false
	}
	return transcript.NewEntry(root.Get("transcript").String(), speaker, transcript.KindSingleUtterance, receivedAt)
}

func parseConversation(root gjson.Result, receivedAt time.Time) []transcript.Entry {
	var entries []transcript.Entry
	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		speaker, ok := transcript.ParseSpeaker(msg.Get("role").String())
		if !ok {
			return true
		}

		at := receivedAt
		if ts := msg.Get("time"); ts.Type == gjson.Number && ts.Float() > 0 {
			at = time.UnixMilli(int64(ts.Float()))
		}

		if e, ok := transcript.NewEntry(msg.Get("message").String(), speaker, transcript.KindConversationSnapshot, at); ok {
			entries = append(entries, e)
		}
		return true
	})
	return entries
}
