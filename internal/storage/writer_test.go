package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/meetroom/internal/transcript"
)

func TestWriterExportsMeetingTranscript(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	ts := time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local).UnixMilli()
	meeting := Meeting{ID: "m1", Title: "Weekly sync", ScheduledAt: time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)}

	path, err := w.WriteTranscript(meeting, []transcript.Entry{
		{Speaker: transcript.SpeakerUser, Text: "Hello world.", Timestamp: ts},
		{Speaker: transcript.SpeakerAssistant, Text: "Hi there.", Timestamp: ts},
	})
	if err != nil {
		t.Fatalf("WriteTranscript failed: %v", err)
	}
	if path != filepath.Join(dir, "m1.md") {
		t.Fatalf("unexpected export path %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "# Weekly sync") {
		t.Errorf("expected title heading, got: %s", content)
	}
	if !strings.Contains(content, "user:** Hello world.") {
		t.Errorf("expected user line, got: %s", content)
	}
	if !strings.Contains(content, "assistant:** Hi there.") {
		t.Errorf("expected assistant line, got: %s", content)
	}
}

func TestWriterOverwritesPreviousExport(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	meeting := Meeting{ID: "m1", Title: "Sync"}

	_, _ = w.WriteTranscript(meeting, []transcript.Entry{{Speaker: transcript.SpeakerUser, Text: "First."}})
	path, _ := w.WriteTranscript(meeting, []transcript.Entry{{Speaker: transcript.SpeakerUser, Text: "Second."}})

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "First.") {
		t.Fatalf("expected previous export to be replaced, got: %s", string(data))
	}
}

func TestWriterExportUsesPersistedTranscript(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	meeting := Meeting{
		ID:         "m2",
		Title:      "Retro",
		Transcript: []transcript.Entry{{Speaker: transcript.SpeakerAssistant, Text: "Gracias a todos."}},
	}

	if err := w.Export(context.Background(), meeting); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	data, err := os.ReadFile(w.PathFor("m2"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(data), "Gracias a todos.") {
		t.Fatalf("expected transcript in export, got: %s", string(data))
	}
}
