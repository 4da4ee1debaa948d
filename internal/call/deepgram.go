package call

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/google/uuid"

	"github.com/sjawhar/meetroom/internal/transcript"
)

type deepgramStream interface {
	Connect() bool
	Stop()
	Write(p []byte) (int, error)
}

type deepgramDialFunc func(ctx context.Context, apiKey string, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (deepgramStream, error)

var initDeepgram sync.Once

func dialDeepgram(ctx context.Context, apiKey string, opts *interfaces.LiveTranscriptionOptions, cb api.LiveMessageCallback) (deepgramStream, error) {
	initDeepgram.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	dg, err := client.NewWSUsingCallback(ctx, apiKey, cOptions, opts, cb)
	if err != nil {
		return nil, err
	}
	return dg, nil
}

// DeepgramProvider is a transcription-only provider: caller audio is streamed
// to Deepgram live transcription and final results come back as user
// transcript events. There is no assistant voice, so Say is unsupported.
type DeepgramProvider struct {
	apiKey     string
	sampleRate int
	dial       deepgramDialFunc

	mu     sync.Mutex
	stream deepgramStream
	sink   EventSink
	cancel context.CancelFunc

	muted    atomic.Bool
	stopping atomic.Bool
	ended    atomic.Bool
}

func NewDeepgramProvider(apiKey string, sampleRate int) *DeepgramProvider {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &DeepgramProvider{apiKey: apiKey, sampleRate: sampleRate, dial: dialDeepgram}
}

func (p *DeepgramProvider) Start(ctx context.Context, cfg Config, sink EventSink) (string, error) {
	if p.apiKey == "" {
		return "", errors.New("deepgram api key is not configured")
	}

	model := cfg.Transcriber.Model
	if model == "" {
		model = "nova-2"
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       model,
		Language:    cfg.Transcriber.Language,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  p.sampleRate,
		Channels:    1,
	}

	// The SDK ties the connection's lifetime to the dial context, so it gets
	// one owned by the provider rather than the caller's request deadline.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p.mu.Lock()
	p.sink = sink
	p.cancel = cancel
	p.mu.Unlock()

	stream, err := p.dial(streamCtx, p.apiKey, tOptions, deepgramCallback{provider: p})
	if err != nil {
		cancel()
		return "", fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := stream.Connect(); !ok {
		stream.Stop()
		cancel()
		return "", errors.New("deepgram connect failed")
	}

	p.mu.Lock()
	if p.stopping.Load() {
		p.mu.Unlock()
		stream.Stop()
		cancel()
		return "", errors.New("deepgram stopped while connecting")
	}
	p.stream = stream
	p.mu.Unlock()

	callID := uuid.NewString()
	sink.Emit(Event{Kind: EventCallStart, CallID: callID})
	return callID, nil
}

func (p *DeepgramProvider) SetMuted(_ context.Context, muted bool) error {
	p.muted.Store(muted)
	return nil
}

func (p *DeepgramProvider) Say(context.Context, string, bool) error {
	return ErrSayUnsupported
}

func (p *DeepgramProvider) Stop(context.Context) error {
	if !p.stopping.CompareAndSwap(false, true) {
		return nil
	}

	p.mu.Lock()
	stream, cancel := p.stream, p.cancel
	p.stream, p.cancel = nil, nil
	p.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Write streams PCM16-LE audio to Deepgram and reports its level.
func (p *DeepgramProvider) Write(b []byte) (int, error) {
	if p.muted.Load() || p.stopping.Load() {
		return len(b), nil
	}

	p.mu.Lock()
	stream := p.stream
	sink := p.sink
	p.mu.Unlock()

	if stream == nil {
		return len(b), nil
	}
	if sink != nil {
		sink.Emit(Event{Kind: EventVolume, Volume: pcmLevel(b)})
	}
	return stream.Write(b)
}

func (p *DeepgramProvider) emit(ev Event) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()

	if sink != nil {
		sink.Emit(ev)
	}
}

// pcmLevel returns the RMS level of little-endian 16-bit samples in [0, 1].
func pcmLevel(b []byte) float64 {
	samples := len(b) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(b[i*2:]))) / math.MaxInt16
		sum += s * s
	}
	return math.Min(1, math.Sqrt(sum/float64(samples)))
}

type deepgramCallback struct {
	provider *DeepgramProvider
}

func (c deepgramCallback) Open(*api.OpenResponse) error {
	slog.Info("connected to Deepgram")
	return nil
}

func (c deepgramCallback) Message(mr *api.MessageResponse) error {
	if !mr.IsFinal || len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if text == "" {
		return nil
	}

	c.provider.emit(Event{Kind: EventTranscript, Text: text, Speaker: transcript.SpeakerUser})
	return nil
}

func (c deepgramCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c deepgramCallback) SpeechStarted(*api.SpeechStartedResponse) error {
	c.provider.emit(Event{Kind: EventSpeechStart})
	return nil
}

func (c deepgramCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.provider.emit(Event{Kind: EventSpeechEnd})
	return nil
}

func (c deepgramCallback) Close(*api.CloseResponse) error {
	slog.Info("disconnected from Deepgram")
	if c.provider.stopping.Load() {
		return nil
	}
	if c.provider.ended.CompareAndSwap(false, true) {
		c.provider.emit(Event{Kind: EventCallEnd})
	}
	return nil
}

func (c deepgramCallback) Error(er *api.ErrorResponse) error {
	c.provider.emit(Event{Kind: EventError, Err: fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.Description)})
	return nil
}

func (c deepgramCallback) UnhandledEvent([]byte) error { return nil }
