package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sjawhar/meetroom/internal/call"
	"github.com/sjawhar/meetroom/internal/session"
	"github.com/sjawhar/meetroom/internal/storage"
	"github.com/sjawhar/meetroom/internal/webhook"
)

const maxRequestBytes = 1 << 20

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MeetingStore is the slice of the meeting store the HTTP API serves.
type MeetingStore interface {
	CreateMeeting(ctx context.Context, m storage.Meeting) (storage.Meeting, error)
	LoadMeeting(ctx context.Context, id string) (storage.Meeting, error)
	ListMeetings(ctx context.Context, userID string) ([]storage.Meeting, error)
	LoadAssistantConfig(ctx context.Context, userID string) (storage.AssistantConfig, error)
	SaveAssistantConfig(ctx context.Context, userID string, cfg storage.AssistantConfig) error
}

// SessionControl drives live sessions. session.Supervisor implements it.
type SessionControl interface {
	Start(ctx context.Context, userID, meetingID string) (session.Status, error)
	End(ctx context.Context, meetingID string) error
	SetMuted(meetingID string, muted bool) error
	Cleanup(meetingID string)
	Status(meetingID string) session.Status
	Resummarize(ctx context.Context, meetingID, preset string) error
	Dispatch(ev webhook.Event)
}

type createMeetingRequest struct {
	UserID          string                  `json:"user_id"`
	Title           string                  `json:"title"`
	ScheduledAt     time.Time               `json:"scheduled_at"`
	DurationMinutes int                     `json:"duration_minutes"`
	AssistantConfig storage.AssistantConfig `json:"assistant_config"`
}

type assistantRequest struct {
	UserID string `json:"user_id"`
	storage.AssistantConfig
}

func registerAPIRoutes(mux *http.ServeMux, store MeetingStore, sessions SessionControl, controls ControlHooks) {
	mux.Handle("POST /api/webhook", webhook.NewHandler(sessions))

	mux.HandleFunc("GET /api/meetings", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if !validID(userID) {
			writeJSONError(w, http.StatusBadRequest, "user query parameter is required")
			return
		}

		meetings, err := store.ListMeetings(r.Context(), userID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list meetings: %v", err))
			return
		}
		if meetings == nil {
			meetings = []storage.Meeting{}
		}
		writeJSON(w, http.StatusOK, meetings)
	})

	mux.HandleFunc("POST /api/meetings", func(w http.ResponseWriter, r *http.Request) {
		var req createMeetingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validID(req.UserID) {
			writeJSONError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			writeJSONError(w, http.StatusBadRequest, "title is required")
			return
		}
		if req.DurationMinutes < 0 {
			writeJSONError(w, http.StatusBadRequest, "duration_minutes must not be negative")
			return
		}

		meeting, err := store.CreateMeeting(r.Context(), storage.Meeting{
			UserID:          req.UserID,
			Title:           req.Title,
			ScheduledAt:     req.ScheduledAt,
			DurationMinutes: req.DurationMinutes,
			AssistantConfig: req.AssistantConfig,
		})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("create meeting: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, meeting)
	})

	mux.HandleFunc("GET /api/meetings/{id}", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}

		meeting, err := store.LoadMeeting(r.Context(), meetingID)
		if err != nil {
			writeStoreError(w, "get meeting", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"meeting": meeting,
			"session": sessions.Status(meetingID),
		})
	})

	mux.HandleFunc("GET /api/meetings/{id}/recording", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}

		meeting, err := store.LoadMeeting(r.Context(), meetingID)
		if err != nil {
			writeStoreError(w, "get meeting", err)
			return
		}
		if meeting.RecordingPath == "" {
			writeJSONError(w, http.StatusNotFound, "recording not available")
			return
		}

		cleanPath := filepath.Clean(meeting.RecordingPath)
		if cleanPath == "." || strings.Contains(cleanPath, "..") {
			writeJSONError(w, http.StatusForbidden, "invalid recording path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "recording file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat recording: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", contentTypeForAudio(cleanPath))
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	mux.HandleFunc("POST /api/meetings/{id}/resummarize", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}

		var req struct {
			Preset string `json:"preset"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Preset != "" && controls.Presets != nil {
			if _, known := controls.Presets()[req.Preset]; !known {
				writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown preset %q", req.Preset))
				return
			}
		}

		if err := sessions.Resummarize(r.Context(), meetingID, req.Preset); err != nil {
			writeJSONError(w, sessionErrorStatus(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /api/assistant", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if !validID(userID) {
			writeJSONError(w, http.StatusBadRequest, "user query parameter is required")
			return
		}

		cfg, err := store.LoadAssistantConfig(r.Context(), userID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get assistant config: %v", err))
			return
		}
		if cfg.Links == nil {
			cfg.Links = []string{}
		}
		writeJSON(w, http.StatusOK, cfg)
	})

	mux.HandleFunc("PUT /api/assistant", func(w http.ResponseWriter, r *http.Request) {
		var req assistantRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !validID(req.UserID) {
			writeJSONError(w, http.StatusBadRequest, "user_id is required")
			return
		}

		if err := store.SaveAssistantConfig(r.Context(), req.UserID, req.AssistantConfig); err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("save assistant config: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	registerSessionRoutes(mux, store, sessions)

	mux.HandleFunc("GET /api/presets", func(w http.ResponseWriter, r *http.Request) {
		out := map[string]string{}
		if controls.Presets != nil {
			for name, preset := range controls.Presets() {
				out[name] = preset.Description
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
	})
}

func registerSessionRoutes(mux *http.ServeMux, store MeetingStore, sessions SessionControl) {
	mux.HandleFunc("POST /api/meetings/{id}/session", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}

		var req struct {
			UserID string `json:"user_id"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		userID := req.UserID
		if userID == "" {
			meeting, err := store.LoadMeeting(r.Context(), meetingID)
			if err != nil {
				writeStoreError(w, "get meeting", err)
				return
			}
			userID = meeting.UserID
		}

		status, err := sessions.Start(r.Context(), userID, meetingID)
		if err != nil {
			writeJSONError(w, sessionErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("GET /api/meetings/{id}/session", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, sessions.Status(meetingID))
	})

	mux.HandleFunc("POST /api/meetings/{id}/session/end", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}
		if err := sessions.End(r.Context(), meetingID); err != nil {
			writeJSONError(w, sessionErrorStatus(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/meetings/{id}/session/mute", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}

		var req struct {
			Muted *bool `json:"muted"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Muted == nil {
			writeJSONError(w, http.StatusBadRequest, "muted is required")
			return
		}

		if err := sessions.SetMuted(meetingID, *req.Muted); err != nil {
			writeJSONError(w, sessionErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, sessions.Status(meetingID))
	})

	mux.HandleFunc("DELETE /api/meetings/{id}/session", func(w http.ResponseWriter, r *http.Request) {
		meetingID, ok := meetingIDFrom(w, r)
		if !ok {
			return
		}
		sessions.Cleanup(meetingID)
		w.WriteHeader(http.StatusNoContent)
	})
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrMeetingNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrConfigNotReady),
		errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrEmptyTranscript):
		return http.StatusConflict
	case errors.Is(err, call.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, session.ErrShuttingDown), errors.Is(err, session.ErrSummarizerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeStoreError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSONError(w, status, fmt.Sprintf("%s: %v", op, err))
}

func meetingIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !validID(id) {
		writeJSONError(w, http.StatusBadRequest, "invalid meeting id")
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func validID(id string) bool {
	return idPattern.MatchString(id)
}

func contentTypeForAudio(path string) string {
	switch filepath.Ext(path) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
