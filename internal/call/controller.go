package call

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTimeout     = 10 * time.Second
	defaultEventBuffer = 64
)

// Provider is a voice provider connection. A Provider serves a single call.
// Stop must be safe to call on a call that already ended.
type Provider interface {
	Start(ctx context.Context, cfg Config, sink EventSink) (callID string, err error)
	SetMuted(ctx context.Context, muted bool) error
	Say(ctx context.Context, text string, endAfter bool) error
	Stop(ctx context.Context) error
}

type Option func(*Controller)

// WithTimeout bounds every provider operation.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithEventBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.events = make(chan Event, n)
		}
	}
}

// Controller owns one outbound call. It serializes control operations onto
// the provider and turns provider callbacks into a typed event stream.
type Controller struct {
	provider Provider
	timeout  time.Duration
	now      func() time.Time

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	started bool
	active  bool
	muted   bool
	stopped bool
	callID  string
}

func NewController(provider Provider, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		timeout:  DefaultTimeout,
		now:      time.Now,
		events:   make(chan Event, defaultEventBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the provider event stream. It is never closed; stop reading
// once Done is closed.
func (c *Controller) Events() <-chan Event { return c.events }

// Done is closed once Stop has been called.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start places the call. There is a single attempt; on failure the returned
// error wraps ErrProviderUnavailable and the controller is finished.
func (c *Controller) Start(ctx context.Context, cfg Config) (string, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return "", ErrAlreadyStarted
	}
	if c.stopped {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: controller stopped", ErrProviderUnavailable)
	}
	c.started = true
	c.mu.Unlock()

	var callID string
	err := c.bounded(ctx, "start call", func(ctx context.Context) error {
		id, err := c.provider.Start(ctx, cfg, c)
		if err != nil {
			return err
		}
		callID = id
		return nil
	})
	if err != nil {
		_ = c.Stop(context.Background())
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	c.mu.Lock()
	c.active = !c.stopped
	if c.callID == "" {
		c.callID = callID
	}
	callID = c.callID
	c.mu.Unlock()

	return callID, nil
}

func (c *Controller) SetMuted(muted bool) error {
	if !c.Active() {
		return ErrNoActiveCall
	}

	err := c.bounded(context.Background(), "set muted", func(ctx context.Context) error {
		return c.provider.SetMuted(ctx, muted)
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.muted = muted
	c.mu.Unlock()
	return nil
}

// Say asks the assistant to speak text. With endAfter the provider ends the
// call once the utterance has been spoken.
func (c *Controller) Say(ctx context.Context, text string, endAfter bool) error {
	if !c.Active() {
		return ErrNoActiveCall
	}
	return c.bounded(ctx, "say", func(ctx context.Context) error {
		return c.provider.Say(ctx, text, endAfter)
	})
}

// Stop ends the call and releases the provider. It is idempotent.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.active = false
	c.mu.Unlock()

	// Unblocks provider goroutines parked in Emit.
	c.doneOnce.Do(func() { close(c.done) })

	return c.bounded(ctx, "stop call", func(ctx context.Context) error {
		return c.provider.Stop(ctx)
	})
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Controller) CallID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// Write forwards caller audio to providers that take audio. Audio is dropped
// while muted or when no call is active.
func (c *Controller) Write(p []byte) (int, error) {
	c.mu.Lock()
	forward := c.active && !c.muted
	c.mu.Unlock()

	w, ok := c.provider.(io.Writer)
	if !forward || !ok {
		return len(p), nil
	}
	return w.Write(p)
}

// Emit implements EventSink.
func (c *Controller) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = c.now()
	}

	switch ev.Kind {
	case EventTranscript:
		ev.Text = strings.TrimSpace(ev.Text)
		if ev.Text == "" {
			return
		}
	case EventCallStart:
		c.mu.Lock()
		if ev.CallID != "" && c.callID == "" {
			c.callID = ev.CallID
		}
		c.mu.Unlock()
	case EventCallEnd:
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	case EventVolume:
		select {
		case c.events <- ev:
		default:
		}
		return
	}

	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) bounded(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("voice provider panic", "op", op, "panic", r)
				result <- fmt.Errorf("provider panic: %v", r)
			}
		}()
		result <- fn(ctx)
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
