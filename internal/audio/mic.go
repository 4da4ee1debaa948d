package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	DefaultFramesPerBuffer = 1024
	overflowBackoff        = 250 * time.Millisecond
)

// Init loads PortAudio. Call the returned function on shutdown.
func Init() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return func() { _ = portaudio.Terminate() }, nil
}

// Mic captures mono PCM16 from the default input device.
type Mic struct {
	stream     *portaudio.Stream
	buf        []int16
	out        []byte
	sampleRate int
}

// OpenMic opens the default input at the first sample rate the device
// accepts.
func OpenMic(rates []int, framesPerBuffer int) (*Mic, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}

	var errs []error
	for _, rate := range rates {
		buf := make([]int16, framesPerBuffer)
		stream, err := portaudio.OpenDefaultStream(pcmChannels, 0, float64(rate), framesPerBuffer, buf)
		if err != nil {
			slog.Debug("microphone rate rejected", "sample_rate", rate, "error", err)
			errs = append(errs, fmt.Errorf("%d Hz: %w", rate, err))
			continue
		}
		return &Mic{
			stream:     stream,
			buf:        buf,
			out:        make([]byte, len(buf)*2),
			sampleRate: rate,
		}, nil
	}
	if len(errs) == 0 {
		return nil, errors.New("open microphone: no sample rates to try")
	}
	return nil, fmt.Errorf("open microphone: %w", errors.Join(errs...))
}

func (m *Mic) SampleRate() int { return m.sampleRate }
func (m *Mic) Start() error    { return m.stream.Start() }

func (m *Mic) Close() error {
	_ = m.stream.Stop()
	return m.stream.Close()
}

// Stream writes little-endian PCM16 to w until ctx is done or a read fails.
func (m *Mic) Stream(ctx context.Context, w io.Writer) error {
	for ctx.Err() == nil {
		if err := m.stream.Read(); err != nil {
			return err
		}
		for i, s := range m.buf {
			binary.LittleEndian.PutUint16(m.out[i*2:], uint16(s))
		}
		if _, err := w.Write(m.out); err != nil {
			return err
		}
	}
	return nil
}

type streamer interface {
	Stream(ctx context.Context, w io.Writer) error
}

// StreamWithRetry keeps audio flowing across input overflows, which happen
// when the host stalls long enough for the device buffer to fill.
func StreamWithRetry(ctx context.Context, src streamer, w io.Writer, wait func(time.Duration)) error {
	for {
		err := src.Stream(ctx, w)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("stream microphone: %w", err)
		}
		slog.Warn("mic input overflow, restarting stream")
		wait(overflowBackoff)
	}
}
