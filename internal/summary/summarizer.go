package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sjawhar/meetroom/internal/config"
	"github.com/sjawhar/meetroom/internal/llm"
)

// MinWords is the shortest transcript worth summarizing. Shorter meetings
// get an empty summary without calling a model.
const MinWords = 20

// ErrAlreadySummarized is returned when the same transcript has already
// been sent for summarization with the same preset.
var ErrAlreadySummarized = errors.New("transcript already summarized")

type ClientFactory func(provider, model string) (llm.Client, error)

// ClaimStore records which prompts have been sent so a meeting reopened
// without new conversation is not summarized twice.
type ClaimStore interface {
	ClaimSummaryRequest(meetingID, promptHash string) (bool, error)
}

type Option func(*Summarizer)

func WithClaimStore(store ClaimStore) Option {
	return func(s *Summarizer) {
		s.claims = store
	}
}

type Summarizer struct {
	cfg     config.Summarization
	factory ClientFactory
	router  *Router
	claims  ClaimStore
	sleep   func(time.Duration)
	now     func() time.Time
}

func New(cfg config.Summarization, factory ClientFactory, opts ...Option) *Summarizer {
	var router *Router
	if len(cfg.Presets) > 1 {
		router = NewRouter(cfg, factory)
	}
	s := &Summarizer{
		cfg:     cfg,
		factory: factory,
		router:  router,
		sleep:   time.Sleep,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize picks a preset for the transcript and summarizes the meeting
// with it. It returns the summary and the preset used.
func (s *Summarizer) Summarize(ctx context.Context, meetingID, transcript string) (string, string, error) {
	presetName, err := s.selectPreset(ctx, transcript)
	if err != nil {
		return "", "", fmt.Errorf("select preset: %w", err)
	}
	summary, err := s.SummarizeWithPreset(ctx, meetingID, transcript, presetName)
	return summary, presetName, err
}

func (s *Summarizer) SummarizeWithPreset(ctx context.Context, meetingID, transcript, presetName string) (string, error) {
	if len(strings.Fields(transcript)) < MinWords {
		return "", nil
	}

	preset, ok := s.cfg.Presets[presetName]
	if !ok {
		return "", fmt.Errorf("unknown preset %q", presetName)
	}

	modelStr := preset.Model
	if modelStr == "" {
		modelStr = s.cfg.Model
	}

	provider, model, err := llm.ParseModel(modelStr)
	if err != nil {
		return "", err
	}

	date := s.now().UTC().Format("2006-01-02")
	userContent := strings.ReplaceAll(preset.UserTemplate, "{{transcript}}", transcript)
	userContent = strings.ReplaceAll(userContent, "{{date}}", date)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: preset.SystemPrompt},
		{Role: llm.RoleUser, Content: userContent},
	}

	if err := s.claim(meetingID, presetName, messages); err != nil {
		return "", err
	}

	client, err := s.factory(provider, model)
	if err != nil {
		return "", fmt.Errorf("create llm client: %w", err)
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("summarize failed after retries: %w", lastErr)
}

// claim hashes the prompt with the preset name; the date is part of the
// prompt, so the same transcript may be summarized again on another day.
func (s *Summarizer) claim(meetingID, presetName string, messages []llm.Message) error {
	if s.claims == nil {
		return nil
	}

	h := sha256.New()
	h.Write([]byte(presetName))
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	promptHash := hex.EncodeToString(h.Sum(nil))

	claimed, err := s.claims.ClaimSummaryRequest(meetingID, promptHash)
	if err != nil {
		return fmt.Errorf("claim summary request: %w", err)
	}
	if !claimed {
		return ErrAlreadySummarized
	}
	return nil
}

func (s *Summarizer) selectPreset(ctx context.Context, transcript string) (string, error) {
	if s.router == nil {
		for name := range s.cfg.Presets {
			return name, nil
		}
		return "default", nil
	}
	return s.router.SelectPreset(ctx, transcript)
}

// PresetNames lists the configured presets in name order.
func (s *Summarizer) PresetNames() []string {
	names := make([]string, 0, len(s.cfg.Presets))
	for name := range s.cfg.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
