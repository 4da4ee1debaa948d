package gdrive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/sjawhar/meetroom/internal/storage"
	"github.com/sjawhar/meetroom/internal/transcript"
)

const (
	docMimeType     = "application/vnd.google-apps.document"
	meetingProperty = "meetroomMeetingId"
)

// TranscriptWriter renders a transcript to a local file and returns its path.
type TranscriptWriter interface {
	WriteTranscript(meeting storage.Meeting, entries []transcript.Entry) (string, error)
}

// Uploader exports finished meeting transcripts to a Google Drive folder as
// Google Docs, one document per meeting. Re-exporting a meeting replaces the
// document's content.
type Uploader struct {
	service  *drive.Service
	folderID string
	local    TranscriptWriter

	mu      sync.Mutex
	fileIDs map[string]string
}

func NewUploader(ctx context.Context, credPath, folderID string, local TranscriptWriter) (*Uploader, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return newUploader(svc, folderID, local), nil
}

func newUploader(svc *drive.Service, folderID string, local TranscriptWriter) *Uploader {
	return &Uploader{
		service:  svc,
		folderID: folderID,
		local:    local,
		fileIDs:  make(map[string]string),
	}
}

// Export writes the meeting's transcript locally, then uploads it.
func (u *Uploader) Export(ctx context.Context, meeting storage.Meeting) error {
	path, err := u.local.WriteTranscript(meeting, meeting.Transcript)
	if err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	fileID, err := u.lookup(ctx, meeting.ID)
	if err != nil {
		return err
	}

	if fileID != "" {
		_, err = u.service.Files.Update(fileID, &drive.File{Name: docName(meeting)}).Media(f).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("drive update: %w", err)
		}
		return nil
	}

	doc, err := u.service.Files.Create(&drive.File{
		Name:          docName(meeting),
		MimeType:      docMimeType,
		Parents:       []string{u.folderID},
		AppProperties: map[string]string{meetingProperty: meeting.ID},
	}).Media(f).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create: %w", err)
	}

	u.fileIDs[meeting.ID] = doc.Id
	return nil
}

// lookup finds the meeting's document, first in memory and then by the app
// property set on create, so restarts keep updating the same document.
func (u *Uploader) lookup(ctx context.Context, meetingID string) (string, error) {
	if id, ok := u.fileIDs[meetingID]; ok {
		return id, nil
	}

	q := fmt.Sprintf("appProperties has { key='%s' and value='%s' } and trashed = false",
		meetingProperty, strings.ReplaceAll(meetingID, "'", `\'`))
	list, err := u.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive list: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}

	u.fileIDs[meetingID] = list.Files[0].Id
	return list.Files[0].Id, nil
}

func docName(m storage.Meeting) string {
	if m.ScheduledAt.IsZero() {
		return "meetroom - " + m.Title
	}
	return fmt.Sprintf("meetroom - %s - %s", m.Title, m.ScheduledAt.Format("2006-01-02"))
}
