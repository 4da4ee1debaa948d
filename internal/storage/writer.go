package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sjawhar/meetroom/internal/transcript"
)

// Writer exports meeting transcripts as markdown files, one file per meeting.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// WriteTranscript overwrites the meeting's markdown export and returns its path.
func (w *Writer) WriteTranscript(meeting Meeting, entries []transcript.Entry) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.PathFor(meeting.ID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "# %s\n\n", meeting.Title); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if !meeting.ScheduledAt.IsZero() {
		if _, err := fmt.Fprintf(f, "_%s_\n\n", meeting.ScheduledAt.Format("2006-01-02 15:04")); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(f, e.FormatMarkdown()); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}

	return path, nil
}

// Export writes the meeting's persisted transcript.
func (w *Writer) Export(_ context.Context, meeting Meeting) error {
	_, err := w.WriteTranscript(meeting, meeting.Transcript)
	return err
}

func (w *Writer) PathFor(meetingID string) string {
	return filepath.Join(w.dir, meetingID+".md")
}
