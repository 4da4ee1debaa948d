package session

import (
	"context"

	"github.com/sjawhar/meetroom/internal/call"
	"github.com/sjawhar/meetroom/internal/storage"
	"github.com/sjawhar/meetroom/internal/transcript"
)

// Gateway is the slice of the meeting store the supervisor depends on.
type Gateway interface {
	LoadMeeting(ctx context.Context, id string) (storage.Meeting, error)
	LoadAssistantConfig(ctx context.Context, userID string) (storage.AssistantConfig, error)
	SaveSessionResult(ctx context.Context, meetingID string, entries []transcript.Entry, status storage.MeetingStatus) error
	UpdateMeetingStatus(ctx context.Context, id string, status storage.MeetingStatus) error
	UpdateSummary(ctx context.Context, meetingID, summary, status, preset string) error
	SetRecordingPath(ctx context.Context, meetingID, path string) error
}

// ProviderFactory returns a fresh provider for each call.
type ProviderFactory func() call.Provider

type Recorder interface {
	StartSession(sessionID string) error
	EndSession() (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, meetingID, transcript string) (string, string, error)
	SummarizeWithPreset(ctx context.Context, meetingID, transcript, preset string) (string, error)
}

type Exporter interface {
	Export(ctx context.Context, meeting storage.Meeting) error
}

type EventBroadcaster interface {
	BroadcastEntryAdded(meetingID string, entry transcript.Entry)
	BroadcastSessionState(meetingID, state string, muted bool, errText string)
	BroadcastSpeech(meetingID string, speaking bool)
	BroadcastVolume(meetingID string, level float64)
	BroadcastSummaryReady(meetingID, summary, status, preset string)
}
