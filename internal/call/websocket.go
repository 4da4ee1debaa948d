package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/meetroom/internal/transcript"
)

const wsCloseTimeout = 2 * time.Second

// WSProvider talks to a voice assistant service over a websocket. Control
// messages are JSON text frames; caller audio is sent as binary PCM frames.
type WSProvider struct {
	url    string
	apiKey string
	dialer *websocket.Dialer

	conn      atomic.Pointer[websocket.Conn]
	sink      EventSink
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	ended     atomic.Bool
	looping   atomic.Bool
	done      chan struct{}
}

func NewWSProvider(url, apiKey string) *WSProvider {
	return &WSProvider{
		url:    url,
		apiKey: apiKey,
		dialer: websocket.DefaultDialer,
		done:   make(chan struct{}),
	}
}

type wsStartFrame struct {
	Type        string            `json:"type"`
	AssistantID string            `json:"assistantId,omitempty"`
	Overrides   wsOverrides       `json:"assistantOverrides"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type wsOverrides struct {
	Model                  wsModel           `json:"model"`
	Transcriber            Transcriber       `json:"transcriber"`
	RecordingEnabled       bool              `json:"recordingEnabled"`
	EndCallFunctionEnabled bool              `json:"endCallFunctionEnabled"`
	VariableValues         map[string]string `json:"variableValues,omitempty"`
}

type wsModel struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

type wsControlFrame struct {
	Type               string `json:"type"`
	Muted              *bool  `json:"muted,omitempty"`
	Message            string `json:"message,omitempty"`
	EndCallAfterSpoken bool   `json:"endCallAfterSpoken,omitempty"`
}

// wsEventFrame is the union of inbound frames.
type wsEventFrame struct {
	Type           string  `json:"type"`
	CallID         string  `json:"callId"`
	Role           string  `json:"role"`
	Transcript     string  `json:"transcript"`
	TranscriptType string  `json:"transcriptType"`
	Volume         float64 `json:"volume"`
	Message        string  `json:"message"`
	Fatal          bool    `json:"fatal"`
}

func (p *WSProvider) Start(ctx context.Context, cfg Config, sink EventSink) (string, error) {
	if strings.TrimSpace(p.url) == "" {
		return "", errors.New("provider url is not configured")
	}

	headers := make(http.Header)
	if p.apiKey != "" {
		headers.Set("Authorization", "Bearer "+p.apiKey)
	}

	conn, resp, err := p.dialer.DialContext(ctx, p.url, headers)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("dial voice provider (status %d): %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("dial voice provider: %w", err)
	}
	p.sink = sink
	p.conn.Store(conn)

	start := wsStartFrame{
		Type:        "start",
		AssistantID: cfg.AssistantID,
		Overrides: wsOverrides{
			Model: wsModel{
				Provider:     "vapi",
				Model:        cfg.LanguageModel,
				SystemPrompt: "{{systemPrompt}}",
			},
			Transcriber:            cfg.Transcriber,
			RecordingEnabled:       cfg.RecordingEnabled,
			EndCallFunctionEnabled: cfg.EndCallFunctionEnabled,
			VariableValues:         cfg.Variables,
		},
	}
	if cfg.MeetingID != "" {
		start.Metadata = map[string]string{"meetingId": cfg.MeetingID}
	}
	if err := p.writeJSON(ctx, start); err != nil {
		p.abort(conn)
		return "", fmt.Errorf("send start: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		frame, err := readFrame(conn)
		if err != nil {
			p.abort(conn)
			return "", fmt.Errorf("await call start: %w", err)
		}
		switch frame.Type {
		case "call-start":
			_ = conn.SetReadDeadline(time.Time{})
			sink.Emit(Event{Kind: EventCallStart, CallID: frame.CallID})
			p.looping.Store(true)
			go p.readLoop(conn)
			return frame.CallID, nil
		case "error":
			p.abort(conn)
			return "", fmt.Errorf("voice provider: %s", frame.Message)
		case "call-end":
			p.abort(conn)
			return "", errors.New("call ended before it started")
		default:
			p.dispatch(frame)
		}
	}
}

func (p *WSProvider) SetMuted(ctx context.Context, muted bool) error {
	return p.writeJSON(ctx, wsControlFrame{Type: "set-muted", Muted: &muted})
}

func (p *WSProvider) Say(ctx context.Context, text string, endAfter bool) error {
	return p.writeJSON(ctx, wsControlFrame{Type: "say", Message: text, EndCallAfterSpoken: endAfter})
}

// Stop ends the call if it is still running and closes the connection. It
// waits for the read loop to exit or ctx to expire.
func (p *WSProvider) Stop(ctx context.Context) error {
	conn := p.conn.Load()
	if conn == nil {
		return nil
	}

	p.closeOnce.Do(func() {
		if !p.ended.Load() {
			_ = p.writeJSON(ctx, wsControlFrame{Type: "end-call"})
		}
		p.closed.Store(true)
		p.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsCloseTimeout))
		p.writeMu.Unlock()
		_ = conn.Close()
	})

	if !p.looping.Load() {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write sends caller audio as a binary frame.
func (p *WSProvider) Write(b []byte) (int, error) {
	conn := p.conn.Load()
	if conn == nil || p.closed.Load() || p.ended.Load() {
		return len(b), nil
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, fmt.Errorf("send audio: %w", err)
	}
	return len(b), nil
}

func (p *WSProvider) writeJSON(ctx context.Context, v any) error {
	conn := p.conn.Load()
	if conn == nil {
		return ErrNoActiveCall
	}
	if p.closed.Load() {
		return errors.New("voice provider connection is closed")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}
	return conn.WriteJSON(v)
}

func readFrame(conn *websocket.Conn) (wsEventFrame, error) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return wsEventFrame{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame wsEventFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return wsEventFrame{}, fmt.Errorf("decode provider frame: %w", err)
		}
		return frame, nil
	}
}

func (p *WSProvider) readLoop(conn *websocket.Conn) {
	defer close(p.done)

	for {
		frame, err := readFrame(conn)
		if err != nil {
			if p.closed.Load() || p.ended.Load() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.markEnded()
				return
			}
			p.sink.Emit(Event{Kind: EventError, Err: fmt.Errorf("voice provider connection lost: %w", err), Fatal: true})
			return
		}
		p.dispatch(frame)
	}
}

func (p *WSProvider) dispatch(frame wsEventFrame) {
	switch frame.Type {
	case "speech-start":
		p.sink.Emit(Event{Kind: EventSpeechStart})
	case "speech-end":
		p.sink.Emit(Event{Kind: EventSpeechEnd})
	case "volume-level":
		p.sink.Emit(Event{Kind: EventVolume, Volume: frame.Volume})
	case "call-end":
		p.markEnded()
	case "transcript":
		speaker, ok := transcript.ParseSpeaker(frame.Role)
		if !ok {
			return
		}
		p.sink.Emit(Event{Kind: EventTranscript, Text: frame.Transcript, Speaker: speaker})
	case "error":
		p.sink.Emit(Event{Kind: EventError, Err: errors.New(frame.Message), Fatal: frame.Fatal})
	}
}

func (p *WSProvider) markEnded() {
	if p.ended.CompareAndSwap(false, true) {
		p.sink.Emit(Event{Kind: EventCallEnd})
	}
}

// abort closes a connection that never reached the read loop.
func (p *WSProvider) abort(conn *websocket.Conn) {
	p.closed.Store(true)
	_ = conn.Close()
}
