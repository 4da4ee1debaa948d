package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/meetroom/internal/transcript"
)

const subscriberBuffer = 64

// Hub fans live session events out to websocket subscribers. Slow subscribers
// miss messages rather than stalling the session.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	_, ok := h.clients[ch]
	delete(h.clients, ch)
	h.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastEntryAdded(meetingID string, entry transcript.Entry) {
	h.broadcastEvent(EntryAddedEvent{
		Event:     newEvent("entry_added", time.UnixMilli(entry.Timestamp).UTC()),
		MeetingID: meetingID,
		Entry:     entry,
	})
}

func (h *Hub) BroadcastSessionState(meetingID, state string, muted bool, errText string) {
	h.broadcastEvent(SessionStateEvent{
		Event:     newEvent("session_state", time.Now().UTC()),
		MeetingID: meetingID,
		State:     state,
		Muted:     muted,
		Error:     errText,
	})
}

func (h *Hub) BroadcastSpeech(meetingID string, speaking bool) {
	h.broadcastEvent(SpeechEvent{
		Event:     newEvent("speech", time.Now().UTC()),
		MeetingID: meetingID,
		Speaking:  speaking,
	})
}

func (h *Hub) BroadcastVolume(meetingID string, level float64) {
	h.broadcastEvent(VolumeEvent{
		Event:     newEvent("volume", time.Now().UTC()),
		MeetingID: meetingID,
		Level:     level,
	})
}

func (h *Hub) BroadcastSummaryReady(meetingID, summary, status, preset string) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:     newEvent("summary_ready", time.Now().UTC()),
		MeetingID: meetingID,
		Summary:   summary,
		Status:    status,
		Preset:    preset,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal error", "error", err)
		return
	}
	h.Broadcast(payload)
}
