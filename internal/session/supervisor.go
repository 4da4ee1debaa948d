package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/meetroom/internal/call"
	"github.com/sjawhar/meetroom/internal/storage"
	"github.com/sjawhar/meetroom/internal/summary"
	"github.com/sjawhar/meetroom/internal/transcript"
	"github.com/sjawhar/meetroom/internal/webhook"
)

type State string

const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateEnding  State = "ending"
	StateClosed  State = "closed"
	StateErrored State = "errored"
)

const (
	DefaultGracePeriod  = time.Second
	DefaultAnnouncement = "Finalizando la llamada"

	persistTimeout   = 5 * time.Second
	postCloseTimeout = 2 * time.Minute
)

// Status is a point-in-time view of a meeting's session.
type Status struct {
	MeetingID  string             `json:"meeting_id"`
	CallID     string             `json:"call_id,omitempty"`
	State      State              `json:"state"`
	Muted      bool               `json:"muted"`
	Error      string             `json:"error,omitempty"`
	Transcript []transcript.Entry `json:"transcript"`
}

type Option func(*Supervisor)

// WithDedupWindow sets how close identical utterances from the two sources
// must be to count as one.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithGracePeriod sets the pause between the closing announcement and the
// hard stop. Zero disables the pause.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithAnnouncement(text string) Option {
	return func(s *Supervisor) {
		if strings.TrimSpace(text) != "" {
			s.announcement = text
		}
	}
}

func WithProviderTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithCallDefaults(d call.Defaults) Option {
	return func(s *Supervisor) {
		s.defaults = d
	}
}

func WithExporter(e Exporter) Option {
	return func(s *Supervisor) {
		s.exporter = e
	}
}

type session struct {
	meetingID    string
	ctrl         *call.Controller
	rec          *Reconciler
	teardown     chan struct{}
	teardownOnce sync.Once

	mu        sync.Mutex
	state     State
	callID    string
	muted     bool
	errText   string
	recording bool
	callEnded bool
	// fatal provider error seen before the call was marked active
	pendingFatal *call.Event
}

// interrupt releases anything waiting on the session, such as the grace
// period of an ending call.
func (ss *session) interrupt() {
	ss.teardownOnce.Do(func() { close(ss.teardown) })
}

func (ss *session) transition(to State, from ...State) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, f := range from {
		if ss.state == f {
			ss.state = to
			return true
		}
	}
	return false
}

func (ss *session) current() State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

func (ss *session) setError(text string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.errText = text
}

func (ss *session) takeRecording() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	recording := ss.recording
	ss.recording = false
	return recording
}

func (ss *session) status() Status {
	ss.mu.Lock()
	st := Status{
		MeetingID: ss.meetingID,
		CallID:    ss.callID,
		State:     ss.state,
		Muted:     ss.muted,
		Error:     ss.errText,
	}
	ss.mu.Unlock()
	st.Transcript = ss.rec.Snapshot()
	return st
}

// Supervisor owns the live sessions, at most one per meeting. Each session
// pairs a call controller with a reconciler; provider events are consumed on
// one goroutine per session and webhook events are routed in by Dispatch.
type Supervisor struct {
	gateway    Gateway
	providers  ProviderFactory
	recorder   Recorder
	summarizer Summarizer
	hub        EventBroadcaster
	exporter   Exporter
	defaults   call.Defaults

	window       time.Duration
	grace        time.Duration
	timeout      time.Duration
	announcement string

	mu       sync.Mutex
	sessions map[string]*session
	calls    map[string]string
	closed   bool
	wg       sync.WaitGroup
}

func NewSupervisor(gateway Gateway, providers ProviderFactory, recorder Recorder, summarizer Summarizer, hub EventBroadcaster, opts ...Option) *Supervisor {
	s := &Supervisor{
		gateway:      gateway,
		providers:    providers,
		recorder:     recorder,
		summarizer:   summarizer,
		hub:          hub,
		window:       transcript.DefaultDedupWindow,
		grace:        DefaultGracePeriod,
		timeout:      call.DefaultTimeout,
		announcement: DefaultAnnouncement,
		sessions:     make(map[string]*session),
		calls:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// enter registers an in-flight operation so Shutdown can wait for it. It
// reports false once shutdown has begun.
func (s *Supervisor) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// Start loads the meeting and the user's assistant config, places the call
// and makes the session active. Nothing is sent to the provider unless both
// records load.
func (s *Supervisor) Start(ctx context.Context, userID, meetingID string) (Status, error) {
	if !s.enter() {
		return Status{}, ErrShuttingDown
	}
	defer s.wg.Done()

	ss := &session{
		meetingID: meetingID,
		ctrl:      call.NewController(s.providers(), call.WithTimeout(s.timeout)),
		rec:       NewReconciler(s.window),
		teardown:  make(chan struct{}),
		state:     StateIdle,
	}

	s.mu.Lock()
	if _, ok := s.sessions[meetingID]; ok {
		s.mu.Unlock()
		return Status{}, ErrSessionActive
	}
	s.sessions[meetingID] = ss
	s.mu.Unlock()

	meeting, cfg, err := s.loadConfig(ctx, userID, meetingID)
	if err != nil {
		s.release(ss)
		return Status{}, err
	}

	if ss.current() != StateIdle {
		return Status{}, ErrNoActiveSession
	}

	if cfg.RecordingEnabled && s.recorder != nil {
		if err := s.recorder.StartSession(meetingID); err != nil {
			slog.Warn("start call recording", "meeting_id", meetingID, "error", err)
		} else {
			ss.mu.Lock()
			ss.recording = true
			ss.mu.Unlock()
		}
	}

	if err := s.gateway.UpdateMeetingStatus(ctx, meetingID, storage.StatusInProgress); err != nil {
		slog.Warn("mark meeting in progress", "meeting_id", meetingID, "error", err)
	}

	s.wg.Add(1)
	go s.consume(ss)

	callID, err := ss.ctrl.Start(ctx, cfg)
	if err != nil {
		slog.Error("start call", "meeting_id", meetingID, "error", err)
		s.restoreStatus(meeting)
		s.release(ss)
		return Status{}, err
	}

	s.mu.Lock()
	ss.mu.Lock()
	activated := ss.state == StateIdle
	if activated {
		ss.state = StateActive
		ss.callID = callID
		if callID != "" {
			s.calls[callID] = meetingID
		}
	}
	ended := ss.callEnded
	fatal := ss.pendingFatal
	ss.pendingFatal = nil
	ss.mu.Unlock()
	s.mu.Unlock()

	if !activated {
		s.stop(ss)
		return Status{}, ErrNoActiveSession
	}

	slog.Info("session started", "meeting_id", meetingID, "call_id", callID)
	s.broadcastState(meetingID, StateActive, false, "")

	switch {
	case fatal != nil:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.providerError(ss, *fatal)
		}()
	case ended:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.providerEnded(ss)
		}()
	}
	return ss.status(), nil
}

func (s *Supervisor) loadConfig(ctx context.Context, userID, meetingID string) (storage.Meeting, call.Config, error) {
	meeting, err := s.gateway.LoadMeeting(ctx, meetingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Meeting{}, call.Config{}, fmt.Errorf("%w: %w", ErrConfigNotReady, ErrMeetingNotFound)
		}
		return storage.Meeting{}, call.Config{}, fmt.Errorf("%w: load meeting: %v", ErrConfigNotReady, err)
	}

	if strings.TrimSpace(userID) == "" {
		userID = meeting.UserID
	}
	assistant, err := s.gateway.LoadAssistantConfig(ctx, userID)
	if err != nil {
		return storage.Meeting{}, call.Config{}, fmt.Errorf("%w: load assistant config: %v", ErrConfigNotReady, err)
	}

	return meeting, call.BuildConfig(meeting, assistant, s.defaults), nil
}

// release drops a session that never became active.
func (s *Supervisor) release(ss *session) {
	ss.transition(StateClosed, StateIdle)
	ss.interrupt()
	ss.rec.Close()
	if ss.takeRecording() {
		if _, err := s.recorder.EndSession(); err != nil {
			slog.Warn("end call recording", "meeting_id", ss.meetingID, "error", err)
		}
	}

	s.mu.Lock()
	if s.sessions[ss.meetingID] == ss {
		delete(s.sessions, ss.meetingID)
	}
	s.mu.Unlock()
}

func (s *Supervisor) restoreStatus(meeting storage.Meeting) {
	if meeting.Status == "" || meeting.Status == storage.StatusInProgress {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.gateway.UpdateMeetingStatus(ctx, meeting.ID, meeting.Status); err != nil {
		slog.Warn("restore meeting status", "meeting_id", meeting.ID, "error", err)
	}
}

// End runs the closing sequence: save the transcript, announce the end,
// wait the grace period and hang up. Every step is attempted even if an
// earlier one failed, and the session always ends up closed.
func (s *Supervisor) End(ctx context.Context, meetingID string) error {
	if !s.enter() {
		return ErrNoActiveSession
	}
	defer s.wg.Done()

	ss := s.lookup(meetingID)
	if ss == nil || !ss.transition(StateEnding, StateActive) {
		return ErrNoActiveSession
	}
	s.broadcastState(meetingID, StateEnding, false, "")

	s.persist(meetingID, ss.rec.Close())

	if err := ss.ctrl.Say(ctx, s.announcement, true); err != nil {
		slog.Warn("closing announcement", "meeting_id", meetingID, "error", err)
	}

	if s.grace > 0 {
		timer := time.NewTimer(s.grace)
		select {
		case <-timer.C:
		case <-ss.teardown:
			timer.Stop()
		}
	}

	s.stop(ss)
	s.finish(ss, StateClosed, nil, false)
	slog.Info("session ended", "meeting_id", meetingID)
	return nil
}

// SetMuted mutes or unmutes the caller. It only applies to an active
// session; failures are recorded as the session's error text.
func (s *Supervisor) SetMuted(meetingID string, muted bool) error {
	ss := s.lookup(meetingID)
	if ss == nil {
		return ErrNoActiveSession
	}
	if ss.current() != StateActive {
		ss.setError(ErrNoActiveSession.Error())
		return ErrNoActiveSession
	}

	if err := ss.ctrl.SetMuted(muted); err != nil {
		ss.setError(err.Error())
		st := ss.status()
		s.broadcastState(meetingID, st.State, st.Muted, st.Error)
		if errors.Is(err, call.ErrNoActiveCall) {
			return fmt.Errorf("%w: %w", ErrNoActiveSession, err)
		}
		return fmt.Errorf("set muted: %w", err)
	}

	ss.mu.Lock()
	if ss.state == StateActive {
		ss.muted = muted
	}
	state, current := ss.state, ss.muted
	ss.mu.Unlock()

	s.broadcastState(meetingID, state, current, "")
	return nil
}

// Cleanup tears a session down without the closing sequence. The call is
// stopped synchronously; the transcript is saved in the background. It
// never panics and is a no-op for unknown meetings.
func (s *Supervisor) Cleanup(meetingID string) {
	if !s.enter() {
		return
	}
	defer s.wg.Done()
	s.cleanup(meetingID)
}

func (s *Supervisor) cleanup(meetingID string) {
	defer guard("cleanup", meetingID)

	ss := s.lookup(meetingID)
	if ss == nil {
		return
	}
	ss.interrupt()

	ss.mu.Lock()
	prev := ss.state
	if prev == StateActive {
		ss.state = StateClosed
	}
	ss.mu.Unlock()

	switch prev {
	case StateActive:
		slog.Info("forced session cleanup", "meeting_id", meetingID)
		s.stop(ss)
		s.finish(ss, StateClosed, ss.rec.Close(), true)
	case StateIdle:
		// Start owns the controller until the call is placed.
		s.release(ss)
	case StateEnding:
		// End finishes once the grace wait is interrupted.
		s.stop(ss)
	}
}

// Shutdown cleans up every session and waits for background work, such as
// summaries, until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.wg.Add(1)
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.cleanup(id)
	}
	s.wg.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch routes a webhook entry to its session. Entries for unknown or
// finished sessions are dropped.
func (s *Supervisor) Dispatch(ev webhook.Event) {
	ss := s.route(ev.MeetingID, ev.CallID)
	if ss == nil {
		slog.Debug("webhook entry dropped", "meeting_id", ev.MeetingID, "call_id", ev.CallID)
		return
	}
	s.accept(ss, ev.Entry)
}

// Status reports the meeting's session. Meetings without a live session
// report idle.
func (s *Supervisor) Status(meetingID string) Status {
	ss := s.lookup(meetingID)
	if ss == nil {
		return Status{MeetingID: meetingID, State: StateIdle}
	}
	return ss.status()
}

// Write fans caller audio out to every live call.
func (s *Supervisor) Write(p []byte) (int, error) {
	s.mu.Lock()
	ctrls := make([]*call.Controller, 0, len(s.sessions))
	for _, ss := range s.sessions {
		ctrls = append(ctrls, ss.ctrl)
	}
	s.mu.Unlock()

	for _, c := range ctrls {
		if _, err := c.Write(p); err != nil {
			slog.Debug("forward audio", "error", err)
		}
	}
	return len(p), nil
}

func (s *Supervisor) lookup(meetingID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[meetingID]
}

func (s *Supervisor) route(meetingID, callID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meetingID != "" {
		return s.sessions[meetingID]
	}
	if id, ok := s.calls[callID]; ok && callID != "" {
		return s.sessions[id]
	}
	return nil
}

func (s *Supervisor) consume(ss *session) {
	defer s.wg.Done()
	for {
		select {
		case ev := <-ss.ctrl.Events():
			s.handleEvent(ss, ev)
		case <-ss.ctrl.Done():
			return
		}
	}
}

func (s *Supervisor) handleEvent(ss *session, ev call.Event) {
	defer guard("provider event", ss.meetingID)

	switch ev.Kind {
	case call.EventTranscript:
		if entry, ok := transcript.NewEntry(ev.Text, ev.Speaker, transcript.KindSingleUtterance, ev.At); ok {
			s.accept(ss, entry)
		}
	case call.EventSpeechStart, call.EventSpeechEnd:
		if s.hub != nil {
			s.hub.BroadcastSpeech(ss.meetingID, ev.Kind == call.EventSpeechStart)
		}
	case call.EventVolume:
		if s.hub != nil {
			s.hub.BroadcastVolume(ss.meetingID, ev.Volume)
		}
	case call.EventCallEnd:
		s.providerEnded(ss)
	case call.EventError:
		s.providerError(ss, ev)
	}
}

func (s *Supervisor) accept(ss *session, e transcript.Entry) {
	if ss.rec.Accept(e) && s.hub != nil {
		s.hub.BroadcastEntryAdded(ss.meetingID, e)
	}
}

// providerEnded handles a call the provider hung up. There is no call left
// to speak through, so the transcript is saved and the session closed.
func (s *Supervisor) providerEnded(ss *session) {
	ss.mu.Lock()
	switch ss.state {
	case StateIdle:
		ss.callEnded = true
		ss.mu.Unlock()
		return
	case StateActive:
		ss.state = StateEnding
		ss.mu.Unlock()
	default:
		ss.mu.Unlock()
		return
	}

	slog.Info("call ended by provider", "meeting_id", ss.meetingID)
	s.persist(ss.meetingID, ss.rec.Close())
	s.stop(ss)
	s.finish(ss, StateClosed, nil, false)
}

func (s *Supervisor) providerError(ss *session, ev call.Event) {
	msg := "voice provider error"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}

	ss.mu.Lock()
	ss.errText = msg
	if ev.Fatal && ss.state == StateIdle {
		ss.pendingFatal = &ev
		ss.mu.Unlock()
		slog.Warn("fatal provider error before call start", "meeting_id", ss.meetingID, "error", msg)
		return
	}
	if !ev.Fatal || ss.state != StateActive {
		state, muted := ss.state, ss.muted
		ss.mu.Unlock()
		slog.Warn("provider error", "meeting_id", ss.meetingID, "error", msg)
		s.broadcastState(ss.meetingID, state, muted, msg)
		return
	}
	ss.state = StateErrored
	ss.mu.Unlock()

	slog.Error("fatal provider error", "meeting_id", ss.meetingID, "error", msg)
	ss.interrupt()
	s.stop(ss)
	s.finish(ss, StateErrored, ss.rec.Close(), true)
}

func (s *Supervisor) stop(ss *session) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := ss.ctrl.Stop(ctx); err != nil {
		slog.Warn("stop call", "meeting_id", ss.meetingID, "error", err)
	}
}

func (s *Supervisor) persist(meetingID string, entries []transcript.Entry) {
	defer guard("persist", meetingID)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.gateway.SaveSessionResult(ctx, meetingID, entries, storage.StatusCompleted); err != nil {
		slog.Error("save session result", "meeting_id", meetingID, "entries", len(entries), "error", err)
	}
}

// finish clears the session's local state, forgets it and schedules the
// post-session work. With flush set the transcript is saved first, off the
// caller's goroutine.
func (s *Supervisor) finish(ss *session, final State, pending []transcript.Entry, flush bool) {
	ss.mu.Lock()
	ss.state = final
	errText := ss.errText
	ss.errText = ""
	ss.muted = false
	callID := ss.callID
	ss.mu.Unlock()
	ss.interrupt()

	recordingPath := ""
	if ss.takeRecording() {
		path, err := s.recorder.EndSession()
		if err != nil {
			slog.Warn("end call recording", "meeting_id", ss.meetingID, "error", err)
		}
		recordingPath = path
	}

	s.mu.Lock()
	if s.sessions[ss.meetingID] == ss {
		delete(s.sessions, ss.meetingID)
	}
	if callID != "" && s.calls[callID] == ss.meetingID {
		delete(s.calls, callID)
	}
	s.mu.Unlock()

	s.broadcastState(ss.meetingID, final, false, errText)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if flush {
			s.persist(ss.meetingID, pending)
		}
		s.afterClose(ss.meetingID, recordingPath)
	}()
}

func (s *Supervisor) afterClose(meetingID, recordingPath string) {
	defer guard("post-session", meetingID)

	ctx, cancel := context.WithTimeout(context.Background(), postCloseTimeout)
	defer cancel()

	if recordingPath != "" {
		if err := s.gateway.SetRecordingPath(ctx, meetingID, recordingPath); err != nil {
			slog.Warn("save recording path", "meeting_id", meetingID, "error", err)
		}
	}

	meeting, err := s.gateway.LoadMeeting(ctx, meetingID)
	if err != nil {
		slog.Warn("load meeting after session", "meeting_id", meetingID, "error", err)
		_ = s.gateway.UpdateSummary(ctx, meetingID, "", storage.SummaryFailed, "")
		s.broadcastSummaryStatus(meetingID, "", storage.SummaryFailed, "")
		return
	}

	if s.exporter != nil {
		if err := s.exporter.Export(ctx, meeting); err != nil {
			slog.Warn("export transcript", "meeting_id", meetingID, "error", err)
		}
	}

	s.generateSummary(ctx, meeting)
}

func (s *Supervisor) generateSummary(ctx context.Context, meeting storage.Meeting) {
	meetingID := meeting.ID
	text := transcript.PlainText(meeting.Transcript)
	if s.summarizer == nil || strings.TrimSpace(text) == "" {
		_ = s.gateway.UpdateSummary(ctx, meetingID, "", storage.SummaryCompleted, "")
		return
	}

	_ = s.gateway.UpdateSummary(ctx, meetingID, "", storage.SummaryRunning, "")
	s.broadcastSummaryStatus(meetingID, "", storage.SummaryRunning, "")

	summaryText, preset, err := s.summarizer.Summarize(ctx, meetingID, text)
	if errors.Is(err, summary.ErrAlreadySummarized) {
		_ = s.gateway.UpdateSummary(ctx, meetingID, meeting.Summary, meeting.SummaryStatus, meeting.SummaryPreset)
		s.broadcastSummaryStatus(meetingID, meeting.Summary, meeting.SummaryStatus, meeting.SummaryPreset)
		return
	}
	if err != nil {
		slog.Warn("summarize meeting", "meeting_id", meetingID, "error", err)
		_ = s.gateway.UpdateSummary(ctx, meetingID, "", storage.SummaryFailed, preset)
		s.broadcastSummaryStatus(meetingID, "", storage.SummaryFailed, preset)
		return
	}

	if err := s.gateway.UpdateSummary(ctx, meetingID, summaryText, storage.SummaryCompleted, preset); err != nil {
		_ = s.gateway.UpdateSummary(ctx, meetingID, "", storage.SummaryFailed, preset)
		s.broadcastSummaryStatus(meetingID, "", storage.SummaryFailed, preset)
		return
	}

	s.broadcastSummaryStatus(meetingID, summaryText, storage.SummaryCompleted, preset)
}

// Resummarize regenerates a finished meeting's summary with the named preset.
// The summary runs in the background; progress is broadcast as summary events.
func (s *Supervisor) Resummarize(ctx context.Context, meetingID, preset string) error {
	if !s.enter() {
		return ErrShuttingDown
	}
	started := false
	defer func() {
		if !started {
			s.wg.Done()
		}
	}()

	if s.summarizer == nil {
		return ErrSummarizerUnavailable
	}
	if s.lookup(meetingID) != nil {
		return ErrSessionActive
	}

	meeting, err := s.gateway.LoadMeeting(ctx, meetingID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
	}
	if err != nil {
		return fmt.Errorf("load meeting %s: %w", meetingID, err)
	}
	text := transcript.PlainText(meeting.Transcript)
	if strings.TrimSpace(text) == "" {
		return ErrEmptyTranscript
	}

	started = true
	go func() {
		defer s.wg.Done()
		defer guard("resummarize", meetingID)

		ctx, cancel := context.WithTimeout(context.Background(), postCloseTimeout)
		defer cancel()

		_ = s.gateway.UpdateSummary(ctx, meetingID, "", storage.SummaryRunning, preset)
		s.broadcastSummaryStatus(meetingID, "", storage.SummaryRunning, preset)

		summaryText, err := s.summarizer.SummarizeWithPreset(ctx, meetingID, text, preset)
		if errors.Is(err, summary.ErrAlreadySummarized) {
			_ = s.gateway.UpdateSummary(ctx, meetingID, meeting.Summary, meeting.SummaryStatus, meeting.SummaryPreset)
			s.broadcastSummaryStatus(meetingID, meeting.Summary, meeting.SummaryStatus, meeting.SummaryPreset)
			return
		}
		if err != nil {
			slog.Warn("resummarize meeting", "meeting_id", meetingID, "preset", preset, "error", err)
			_ = s.gateway.UpdateSummary(ctx, meetingID, "", storage.SummaryFailed, preset)
			s.broadcastSummaryStatus(meetingID, "", storage.SummaryFailed, preset)
			return
		}
		if err := s.gateway.UpdateSummary(ctx, meetingID, summaryText, storage.SummaryCompleted, preset); err != nil {
			slog.Warn("save summary", "meeting_id", meetingID, "error", err)
			return
		}
		s.broadcastSummaryStatus(meetingID, summaryText, storage.SummaryCompleted, preset)
	}()
	return nil
}

func (s *Supervisor) broadcastState(meetingID string, state State, muted bool, errText string) {
	if s.hub != nil {
		s.hub.BroadcastSessionState(meetingID, string(state), muted, errText)
	}
}

func (s *Supervisor) broadcastSummaryStatus(meetingID, text, status, preset string) {
	if s.hub != nil {
		s.hub.BroadcastSummaryReady(meetingID, text, status, preset)
	}
}

func guard(op, meetingID string) {
	if r := recover(); r != nil {
		slog.Error("session step panic", "op", op, "meeting_id", meetingID, "panic", r)
	}
}
