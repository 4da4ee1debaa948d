package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultSampleRate = 16000
	pcmChannels       = 1
	pcmBitDepth       = 16

	encodeTimeout = 2 * time.Minute
)

var (
	// ErrRecordingActive is returned by StartSession while another meeting is
	// being recorded. There is one capture device, so one recording at a time.
	ErrRecordingActive = errors.New("recording already in progress")
	ErrInvalidName     = errors.New("invalid recording name")
)

// encoder turns raw PCM into a playable file. It returns the output path.
type encoder struct {
	name string
	run  func(ctx context.Context, rawPath, base string, sampleRate int) (string, error)
}

// Recorder captures caller audio for a meeting. Raw PCM is spooled to disk
// while the call runs and encoded once it ends.
type Recorder struct {
	dir string

	mu         sync.Mutex
	meetingID  string
	rawPath    string
	rawFile    *os.File
	writeErr   error
	sampleRate int

	encoders []encoder
}

func NewRecorder(dir string) *Recorder {
	if dir == "" {
		dir = filepath.Join("data", "recordings")
	}
	return &Recorder{
		dir:        dir,
		sampleRate: DefaultSampleRate,
		encoders: []encoder{
			{name: "ffmpeg", run: encodeWithFFmpeg},
			{name: "lame", run: encodeWithLame},
			{name: "wav", run: encodeWAV},
		},
	}
}

// SetSampleRate records the capture rate negotiated with the microphone.
func (r *Recorder) SetSampleRate(sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sampleRate > 0 {
		r.sampleRate = sampleRate
	}
}

// Writer returns a writer that records audio and forwards it to dst.
// Recording problems never block forwarding; they surface from EndSession.
func (r *Recorder) Writer(dst io.Writer) io.Writer {
	return &teeWriter{recorder: r, dst: dst}
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rawFile != nil
}

func (r *Recorder) StartSession(meetingID string) error {
	if meetingID == "" || filepath.Base(meetingID) != meetingID || meetingID == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, meetingID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile != nil {
		return fmt.Errorf("%w: meeting %s", ErrRecordingActive, r.meetingID)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	rawPath := filepath.Join(r.dir, meetingID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	r.meetingID = meetingID
	r.rawPath = rawPath
	r.rawFile = rawFile
	r.writeErr = nil
	return nil
}

// EndSession closes the current recording and encodes it, returning the path
// of the encoded file. It returns "" when nothing is being recorded.
func (r *Recorder) EndSession() (string, error) {
	r.mu.Lock()
	if r.rawFile == nil {
		r.mu.Unlock()
		return "", nil
	}

	meetingID := r.meetingID
	rawPath := r.rawPath
	rawFile := r.rawFile
	writeErr := r.writeErr
	sampleRate := r.sampleRate

	r.meetingID = ""
	r.rawPath = ""
	r.rawFile = nil
	r.writeErr = nil
	r.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return "", fmt.Errorf("close raw pcm file: %w", err)
	}
	defer func() { _ = os.Remove(rawPath) }()

	if writeErr != nil {
		return "", fmt.Errorf("record meeting %s: %w", meetingID, writeErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), encodeTimeout)
	defer cancel()

	base := filepath.Join(r.dir, meetingID)
	var errs []error
	for _, enc := range r.encoders {
		path, err := enc.run(ctx, rawPath, base, sampleRate)
		if err == nil {
			return path, nil
		}
		slog.Debug("recording encoder failed", "encoder", enc.name, "meeting_id", meetingID, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", enc.name, err))
	}
	return "", fmt.Errorf("encode recording %s: %w", meetingID, errors.Join(errs...))
}

func (r *Recorder) writePCM(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile == nil || r.writeErr != nil {
		return
	}
	if _, err := r.rawFile.Write(data); err != nil {
		r.writeErr = err
		slog.Warn("recording write failed; recording stopped", "meeting_id", r.meetingID, "error", err)
	}
}

func encodeWithFFmpeg(ctx context.Context, rawPath, base string, sampleRate int) (string, error) {
	out := base + ".mp3"
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(pcmChannels),
		"-i", rawPath,
		out,
	)
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out, nil
}

func encodeWithLame(ctx context.Context, rawPath, base string, sampleRate int) (string, error) {
	out := base + ".mp3"
	khz := strconv.FormatFloat(float64(sampleRate)/1000.0, 'f', -1, 64)
	cmd := exec.CommandContext(ctx,
		"lame",
		"-r",
		"-s", khz,
		"--bitwidth", strconv.Itoa(pcmBitDepth),
		"-m", "m",
		rawPath,
		out,
	)
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out, nil
}

// wavHeader is the canonical 44-byte RIFF header for uncompressed PCM.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(dataSize, sampleRate int) wavHeader {
	blockAlign := pcmChannels * pcmBitDepth / 8
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      pcmChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: pcmBitDepth,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}
}

func encodeWAV(_ context.Context, rawPath, base string, sampleRate int) (string, error) {
	in, err := os.Open(rawPath)
	if err != nil {
		return "", fmt.Errorf("open raw pcm: %w", err)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("stat raw pcm: %w", err)
	}

	wavPath := base + ".wav"
	out, err := os.OpenFile(wavPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open wav output: %w", err)
	}

	if err := binary.Write(out, binary.LittleEndian, newWAVHeader(int(info.Size()), sampleRate)); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("write wav header: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("write wav payload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close wav output: %w", err)
	}
	return wavPath, nil
}

type teeWriter struct {
	recorder *Recorder
	dst      io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.recorder.writePCM(p)
	return w.dst.Write(p)
}
