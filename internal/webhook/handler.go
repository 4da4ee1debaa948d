package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// MaxBodyBytes caps provider callback bodies.
const MaxBodyBytes = 1 << 20

// Sink receives normalized events. Dispatch must tolerate events for
// sessions that no longer exist.
type Sink interface {
	Dispatch(Event)
}

// Handler is the provider callback endpoint. It holds no session state:
// payloads are validated, normalized, and handed to the Sink on a separate
// goroutine so the provider is acknowledged without waiting on the session.
type Handler struct {
	sink Sink
	now  func() time.Time
}

func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink, now: time.Now}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "Payload too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	events, err := Parse(body, h.now())
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			slog.Warn("webhook rejected", "reason", verr.Message)
			writeJSONError(w, http.StatusBadRequest, verr.Message)
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "Internal server error processing webhook")
		return
	}

	if meetingID := strings.TrimSpace(r.URL.Query().Get("meeting")); meetingID != "" {
		for i := range events {
			if events[i].MeetingID == "" {
				events[i].MeetingID = meetingID
			}
		}
	}

	if len(events) > 0 && h.sink != nil {
		go h.deliver(events)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) deliver(events []Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("webhook dispatch panic", "panic", r)
		}
	}()

	for _, ev := range events {
		h.sink.Dispatch(ev)
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
