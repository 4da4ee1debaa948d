package session

import (
	"sync"
	"time"

	"github.com/sjawhar/meetroom/internal/transcript"
)

// Reconciler merges the controller's transcript fragments and the webhook's
// entries into one buffer. Both producers call Accept concurrently; once
// closed, late arrivals are dropped.
type Reconciler struct {
	mu     sync.Mutex
	buf    *transcript.Buffer
	closed bool
}

func NewReconciler(window time.Duration) *Reconciler {
	return &Reconciler{buf: transcript.NewBuffer(window)}
}

// Accept appends e unless the reconciler is closed or e duplicates an entry
// already in the buffer.
func (r *Reconciler) Accept(e transcript.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	return r.buf.Append(e)
}

// Close stops accepting entries and returns the final transcript. The
// buffer is released; later calls return nil.
func (r *Reconciler) Close() []transcript.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	entries := r.buf.Entries()
	r.buf = nil
	return entries
}

func (r *Reconciler) Snapshot() []transcript.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	return r.buf.Entries()
}

func (r *Reconciler) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
