package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/meetroom/internal/call"
	"github.com/sjawhar/meetroom/internal/config"
	"github.com/sjawhar/meetroom/internal/session"
	"github.com/sjawhar/meetroom/internal/storage"
	"github.com/sjawhar/meetroom/internal/webhook"
)

type apiStoreStub struct {
	mu        sync.Mutex
	meetings  map[string]storage.Meeting
	assistant map[string]storage.AssistantConfig
	created   []storage.Meeting
}

func newAPIStoreStub() *apiStoreStub {
	return &apiStoreStub{
		meetings: map[string]storage.Meeting{
			"m1": {ID: "m1", UserID: "u1", Title: "Kickoff", Status: storage.StatusScheduled},
		},
		assistant: map[string]storage.AssistantConfig{},
	}
}

func (s *apiStoreStub) CreateMeeting(_ context.Context, m storage.Meeting) (storage.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = fmt.Sprintf("new-%d", len(s.created)+1)
	m.Status = storage.StatusScheduled
	s.created = append(s.created, m)
	s.meetings[m.ID] = m
	return m, nil
}

func (s *apiStoreStub) LoadMeeting(_ context.Context, id string) (storage.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return storage.Meeting{}, fmt.Errorf("load meeting %s: %w", id, storage.ErrNotFound)
	}
	return m, nil
}

func (s *apiStoreStub) ListMeetings(_ context.Context, userID string) ([]storage.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Meeting
	for _, m := range s.meetings {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *apiStoreStub) LoadAssistantConfig(_ context.Context, userID string) (storage.AssistantConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistant[userID], nil
}

func (s *apiStoreStub) SaveAssistantConfig(_ context.Context, userID string, cfg storage.AssistantConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistant[userID] = cfg
	return nil
}

type sessionStub struct {
	mu          sync.Mutex
	startErr    error
	endErr      error
	muteErr     error
	resumErr    error
	startedBy   string
	muted       *bool
	cleaned     []string
	resummaries []string
	dispatched  chan webhook.Event
}

func newSessionStub() *sessionStub {
	return &sessionStub{dispatched: make(chan webhook.Event, 4)}
}

func (s *sessionStub) Start(_ context.Context, userID, meetingID string) (session.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return session.Status{}, s.startErr
	}
	s.startedBy = userID
	return session.Status{MeetingID: meetingID, CallID: "call-1", State: session.StateActive}, nil
}

func (s *sessionStub) End(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

func (s *sessionStub) SetMuted(_ string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muteErr != nil {
		return s.muteErr
	}
	s.muted = &muted
	return nil
}

func (s *sessionStub) Cleanup(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = append(s.cleaned, meetingID)
}

func (s *sessionStub) Status(meetingID string) session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := session.Status{MeetingID: meetingID, State: session.StateIdle}
	if s.muted != nil {
		st.State = session.StateActive
		st.Muted = *s.muted
	}
	return st
}

func (s *sessionStub) Resummarize(_ context.Context, meetingID, preset string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumErr != nil {
		return s.resumErr
	}
	s.resummaries = append(s.resummaries, meetingID+":"+preset)
	return nil
}

func (s *sessionStub) Dispatch(ev webhook.Event) {
	s.dispatched <- ev
}

func testStaticFS(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write index.html failed: %v", err)
	}
	return os.DirFS(dir)
}

func newTestHandler(t *testing.T, store *apiStoreStub, sessions *sessionStub, controls ControlHooks) http.Handler {
	t.Helper()
	h, err := Handler(testStaticFS(t), NewHub(), store, sessions, controls)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	return h
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerRequiresDependencies(t *testing.T) {
	if _, err := Handler(nil, NewHub(), nil, newSessionStub(), ControlHooks{}); err == nil {
		t.Fatal("expected error without a meeting store")
	}
}

func TestAPIMeetingsList(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), newSessionStub(), ControlHooks{})

	rr := do(h, http.MethodGet, "/api/meetings?user=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected json content type, got %q", got)
	}

	var meetings []storage.Meeting
	if err := json.NewDecoder(rr.Body).Decode(&meetings); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(meetings) != 1 || meetings[0].ID != "m1" {
		t.Fatalf("unexpected meetings %#v", meetings)
	}

	rr = do(h, http.MethodGet, "/api/meetings?user=nobody", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}

	rr = do(h, http.MethodGet, "/api/meetings", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user, got %d", rr.Code)
	}
}

func TestAPICreateMeeting(t *testing.T) {
	store := newAPIStoreStub()
	h := newTestHandler(t, store, newSessionStub(), ControlHooks{})

	rr := do(h, http.MethodPost, "/api/meetings", `{"user_id":"u1","title":"Planning","duration_minutes":30,"scheduled_at":"2026-03-04T10:00:00Z","assistant_config":{"objective":"Agree on budget"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}

	store.mu.Lock()
	created := store.created
	store.mu.Unlock()
	if len(created) != 1 {
		t.Fatalf("expected one meeting created, got %d", len(created))
	}
	got := created[0]
	if got.Title != "Planning" || got.DurationMinutes != 30 || got.AssistantConfig.Objective != "Agree on budget" {
		t.Fatalf("unexpected meeting %#v", got)
	}
	if !got.ScheduledAt.Equal(time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected scheduled time %v", got.ScheduledAt)
	}
}

func TestAPICreateMeetingValidation(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), newSessionStub(), ControlHooks{})

	for _, body := range []string{
		`{"title":"No owner"}`,
		`{"user_id":"u1","title":"   "}`,
		`{"user_id":"u1","title":"Negative","duration_minutes":-5}`,
		`{"user_id":`,
	} {
		rr := do(h, http.MethodPost, "/api/meetings", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestAPIMeetingDetail(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), newSessionStub(), ControlHooks{})

	rr := do(h, http.MethodGet, "/api/meetings/m1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload struct {
		Meeting storage.Meeting `json:"meeting"`
		Session session.Status  `json:"session"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.Meeting.Title != "Kickoff" || payload.Session.State != session.StateIdle {
		t.Fatalf("unexpected detail %#v", payload)
	}

	if rr := do(h, http.MethodGet, "/api/meetings/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/api/meetings/bad.id", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rr.Code)
	}
}

func TestAPIAssistantConfig(t *testing.T) {
	store := newAPIStoreStub()
	h := newTestHandler(t, store, newSessionStub(), ControlHooks{})

	rr := do(h, http.MethodGet, "/api/assistant?user=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"links":[]`) {
		t.Fatalf("expected empty links array, got %s", rr.Body.String())
	}

	rr = do(h, http.MethodPut, "/api/assistant", `{"user_id":"u1","objective":"Cerrar ventas","opening_phrase":"Hola","links":["https://example.com"]}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
	}

	store.mu.Lock()
	cfg := store.assistant["u1"]
	store.mu.Unlock()
	if cfg.Objective != "Cerrar ventas" || cfg.OpeningPhrase != "Hola" || len(cfg.Links) != 1 {
		t.Fatalf("unexpected saved config %#v", cfg)
	}

	if rr := do(h, http.MethodPut, "/api/assistant", `{"objective":"x"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without user_id, got %d", rr.Code)
	}
}

func TestAPISessionStart(t *testing.T) {
	sessions := newSessionStub()
	h := newTestHandler(t, newAPIStoreStub(), sessions, ControlHooks{})

	rr := do(h, http.MethodPost, "/api/meetings/m1/session", `{"user_id":"u7"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var st session.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if st.State != session.StateActive || st.CallID != "call-1" {
		t.Fatalf("unexpected status %#v", st)
	}
	if sessions.startedBy != "u7" {
		t.Fatalf("expected user from body, got %q", sessions.startedBy)
	}
}

func TestAPISessionStartDefaultsToMeetingOwner(t *testing.T) {
	sessions := newSessionStub()
	h := newTestHandler(t, newAPIStoreStub(), sessions, ControlHooks{})

	rr := do(h, http.MethodPost, "/api/meetings/m1/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if sessions.startedBy != "u1" {
		t.Fatalf("expected meeting owner, got %q", sessions.startedBy)
	}

	if rr := do(h, http.MethodPost, "/api/meetings/missing/session", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown meeting, got %d", rr.Code)
	}
}

func TestAPISessionErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: %w", session.ErrConfigNotReady, session.ErrMeetingNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: assistant config: boom", session.ErrConfigNotReady), http.StatusConflict},
		{session.ErrSessionActive, http.StatusConflict},
		{fmt.Errorf("%w: dial refused", call.ErrProviderUnavailable), http.StatusBadGateway},
		{session.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		sessions := newSessionStub()
		sessions.startErr = tc.err
		h := newTestHandler(t, newAPIStoreStub(), sessions, ControlHooks{})

		rr := do(h, http.MethodPost, "/api/meetings/m1/session", `{"user_id":"u1"}`)
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
		var payload map[string]string
		if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if payload["error"] == "" {
			t.Fatalf("%v: expected error message", tc.err)
		}
	}
}

func TestAPISessionEnd(t *testing.T) {
	sessions := newSessionStub()
	h := newTestHandler(t, newAPIStoreStub(), sessions, ControlHooks{})

	if rr := do(h, http.MethodPost, "/api/meetings/m1/session/end", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	sessions.endErr = session.ErrNoActiveSession
	if rr := do(h, http.MethodPost, "/api/meetings/m1/session/end", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a session, got %d", rr.Code)
	}
}

func TestAPISessionMute(t *testing.T) {
	sessions := newSessionStub()
	h := newTestHandler(t, newAPIStoreStub(), sessions, ControlHooks{})

	rr := do(h, http.MethodPost, "/api/meetings/m1/session/mute", `{"muted":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var st session.Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !st.Muted {
		t.Fatalf("expected muted status, got %#v", st)
	}

	if rr := do(h, http.MethodPost, "/api/meetings/m1/session/mute", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without muted, got %d", rr.Code)
	}

	sessions.muteErr = fmt.Errorf("%w: %w", session.ErrNoActiveSession, call.ErrNoActiveCall)
	if rr := do(h, http.MethodPost, "/api/meetings/m1/session/mute", `{"muted":false}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 when no call, got %d", rr.Code)
	}
}

func TestAPISessionCleanupAndStatus(t *testing.T) {
	sessions := newSessionStub()
	h := newTestHandler(t, newAPIStoreStub(), sessions, ControlHooks{})

	if rr := do(h, http.MethodDelete, "/api/meetings/m1/session", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(sessions.cleaned) != 1 || sessions.cleaned[0] != "m1" {
		t.Fatalf("expected cleanup for m1, got %v", sessions.cleaned)
	}

	rr := do(h, http.MethodGet, "/api/meetings/m1/session", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"state":"idle"`) {
		t.Fatalf("expected idle status, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAPIWebhookRoute(t *testing.T) {
	sessions := newSessionStub()
	h := newTestHandler(t, newAPIStoreStub(), sessions, ControlHooks{})

	rr := do(h, http.MethodPost, "/api/webhook?meeting=m1", `{"type":"transcript","role":"user","transcript":"hola"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	select {
	case ev := <-sessions.dispatched:
		if ev.MeetingID != "m1" || ev.Entry.Text != "hola" {
			t.Fatalf("unexpected dispatched event %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for webhook dispatch")
	}

	if rr := do(h, http.MethodPost, "/api/webhook", `{"type":"bogus"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid webhook, got %d", rr.Code)
	}
}

func TestAPIRecording(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m1.wav")
	if err := os.WriteFile(path, []byte("RIFF0123456789"), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	store := newAPIStoreStub()
	store.meetings["m1"] = storage.Meeting{ID: "m1", UserID: "u1", Title: "Kickoff", RecordingPath: path}
	store.meetings["m2"] = storage.Meeting{ID: "m2", UserID: "u1", Title: "Retro"}
	store.meetings["m3"] = storage.Meeting{ID: "m3", UserID: "u1", Title: "Escape", RecordingPath: "../../etc/passwd"}
	h := newTestHandler(t, store, newSessionStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/api/meetings/m1/recording", nil)
	req.Header.Set("Range", "bytes=0-3")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Code)
	}
	if rr.Body.String() != "RIFF" {
		t.Fatalf("expected ranged body, got %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/wav" {
		t.Fatalf("expected audio/wav, got %q", got)
	}

	if rr := do(h, http.MethodGet, "/api/meetings/m2/recording", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without recording, got %d", rr.Code)
	}
	if rr := do(h, http.MethodGet, "/api/meetings/m3/recording", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for traversal, got %d", rr.Code)
	}
}

func TestAPIStatusWithWarnings(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), newSessionStub(), ControlHooks{
		Warnings: func() []string {
			return []string{"VOICE_API_KEY not set"}
		},
	})

	rr := do(h, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "VOICE_API_KEY not set") {
		t.Fatalf("expected warning message in response, got %s", rr.Body.String())
	}
}

func TestAPIStatusNoWarnings(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), newSessionStub(), ControlHooks{})

	rr := do(h, http.MethodGet, "/api/status", "")
	if !strings.Contains(rr.Body.String(), `"warnings":[]`) {
		t.Fatalf("expected empty warnings array in response, got %s", rr.Body.String())
	}
}

func presetHooks() ControlHooks {
	return ControlHooks{
		Presets: func() map[string]config.Preset {
			return map[string]config.Preset{
				"brief":    {Description: "Short summary", SystemPrompt: "ignore"},
				"detailed": {Description: "Long summary", SystemPrompt: "ignore"},
			}
		},
	}
}

func TestGetPresets(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), newSessionStub(), presetHooks())

	rr := do(h, http.MethodGet, "/api/presets", "")
	var got map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if len(got) != 2 || got["brief"] != "Short summary" || got["detailed"] != "Long summary" {
		t.Fatalf("unexpected presets %#v", got)
	}
}

func TestResummarize(t *testing.T) {
	sessions := newSessionStub()
	h := newTestHandler(t, newAPIStoreStub(), sessions, presetHooks())

	rr := do(h, http.MethodPost, "/api/meetings/m1/resummarize", `{"preset":"brief"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(sessions.resummaries) != 1 || sessions.resummaries[0] != "m1:brief" {
		t.Fatalf("unexpected resummarize calls %v", sessions.resummaries)
	}

	if rr := do(h, http.MethodPost, "/api/meetings/m1/resummarize", `{"preset":"nope"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown preset, got %d", rr.Code)
	}
	if rr := do(h, http.MethodPost, "/api/meetings/m1/resummarize", `{bad`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rr.Code)
	}

	sessions.resumErr = session.ErrSummarizerUnavailable
	if rr := do(h, http.MethodPost, "/api/meetings/m1/resummarize", `{"preset":"brief"}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without summarizer, got %d", rr.Code)
	}
}

func TestSPAFallback(t *testing.T) {
	h := newTestHandler(t, newAPIStoreStub(), newSessionStub(), ControlHooks{})

	rr := do(h, http.MethodGet, "/meetings/m1", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "<html>ok</html>") {
		t.Fatalf("expected index.html for client route, got %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(h, http.MethodGet, "/api/unknown", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown api route, got %d", rr.Code)
	}
}
