package summary

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/meetroom/internal/config"
	"github.com/sjawhar/meetroom/internal/llm"
)

type mockLLMClient struct {
	calls        int
	response     string
	err          error
	lastMessages []llm.Message
}

func (m *mockLLMClient) Complete(_ context.Context, messages []llm.Message) (string, error) {
	m.calls++
	m.lastMessages = append([]llm.Message(nil), messages...)
	if m.err != nil && m.calls < 3 {
		return "", m.err
	}
	return m.response, nil
}

func TestSummarizeSinglePreset(t *testing.T) {
	transcript := buildTranscript(25)
	client := &mockLLMClient{response: "## Summary"}
	factoryCalls := 0

	cfg := config.Summarization{
		Model: "openai/gpt-4o-mini",
		Presets: map[string]config.Preset{
			"default": {
				Description:  "general",
				SystemPrompt: "system",
				UserTemplate: "{{transcript}}",
			},
		},
	}

	s := New(cfg, func(provider, model string) (llm.Client, error) {
		if provider != "openai" {
			t.Fatalf("expected provider openai, got %q", provider)
		}
		if model != "gpt-4o-mini" {
			t.Fatalf("expected model gpt-4o-mini, got %q", model)
		}
		factoryCalls++
		return client, nil
	})
	s.sleep = func(time.Duration) {}

	summaryText, preset, err := s.Summarize(context.Background(), "meeting-1", transcript)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summaryText != "## Summary" {
		t.Fatalf("expected summary ## Summary, got %q", summaryText)
	}
	if preset != "default" {
		t.Fatalf("expected preset default, got %q", preset)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 llm call, got %d", client.calls)
	}
	if factoryCalls != 1 {
		t.Fatalf("expected 1 factory call, got %d", factoryCalls)
	}
}

func TestSummarizeSkipsShortTranscript(t *testing.T) {
	client := &mockLLMClient{response: "should-not-be-used"}

	cfg := config.Summarization{
		Model: "openai/gpt-4o-mini",
		Presets: map[string]config.Preset{
			"default": {
				Description:  "general",
				SystemPrompt: "system",
				UserTemplate: "{{transcript}}",
			},
		},
	}

	s := New(cfg, func(_, _ string) (llm.Client, error) {
		return client, nil
	})

	summaryText, preset, err := s.Summarize(context.Background(), "meeting-1", "too short")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if summaryText != "" {
		t.Fatalf("expected empty summary, got %q", summaryText)
	}
	if preset != "default" {
		t.Fatalf("expected default preset, got %q", preset)
	}
	if client.calls != 0 {
		t.Fatalf("expected zero llm calls, got %d", client.calls)
	}
}

func TestSummarizeRendersTemplate(t *testing.T) {
	transcript := buildTranscript(25)
	client := &mockLLMClient{response: "ok"}

	cfg := config.Summarization{
		Model: "openai/gpt-4o-mini",
		Presets: map[string]config.Preset{
			"default": {
				Description:  "general",
				SystemPrompt: "system",
				UserTemplate: "Date={{date}}\nBody={{transcript}}",
			},
		},
	}

	s := New(cfg, func(_, _ string) (llm.Client, error) {
		return client, nil
	})
	s.now = func() time.Time { return time.Date(2026, 3, 4, 22, 0, 0, 0, time.UTC) }

	_, err := s.SummarizeWithPreset(context.Background(), "meeting-1", transcript, "default")
	if err != nil {
		t.Fatalf("SummarizeWithPreset failed: %v", err)
	}

	if len(client.lastMessages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(client.lastMessages))
	}
	if client.lastMessages[0].Role != llm.RoleSystem {
		t.Fatalf("expected system prompt first, got %q", client.lastMessages[0].Role)
	}
	if !strings.Contains(client.lastMessages[1].Content, "Date=2026-03-04") {
		t.Fatalf("expected rendered date in user content, got %q", client.lastMessages[1].Content)
	}
	if !strings.Contains(client.lastMessages[1].Content, "Body="+transcript) {
		t.Fatalf("expected rendered transcript in user content, got %q", client.lastMessages[1].Content)
	}
}

func TestSummarizeWithPreset(t *testing.T) {
	transcript := buildTranscript(25)
	client := &mockLLMClient{response: "preset-summary"}

	cfg := config.Summarization{
		Model: "not/a-valid/global-model",
		Presets: map[string]config.Preset{
			"default": {
				Description:  "general",
				SystemPrompt: "system",
				UserTemplate: "{{transcript}}",
				Model:        "openai/gpt-4o-mini",
			},
			"detailed": {
				Description:  "detailed",
				SystemPrompt: "system",
				UserTemplate: "{{transcript}}",
				Model:        "openai/gpt-4o-mini",
			},
		},
	}

	s := New(cfg, func(_, _ string) (llm.Client, error) {
		return client, nil
	})

	summaryText, err := s.SummarizeWithPreset(context.Background(), "meeting-1", transcript, "detailed")
	if err != nil {
		t.Fatalf("SummarizeWithPreset failed: %v", err)
	}
	if summaryText != "preset-summary" {
		t.Fatalf("expected preset-summary, got %q", summaryText)
	}
	if client.calls != 1 {
		t.Fatalf("expected one llm call, got %d", client.calls)
	}
}

func TestSummarizeRetries(t *testing.T) {
	transcript := buildTranscript(25)
	client := &mockLLMClient{response: "retry-success", err: errors.New("temporary")}
	var sleeps []time.Duration

	cfg := config.Summarization{
		Model: "openai/gpt-4o-mini",
		Presets: map[string]config.Preset{
			"default": {
				Description:  "general",
				SystemPrompt: "system",
				UserTemplate: "{{transcript}}",
			},
		},
	}

	s := New(cfg, func(_, _ string) (llm.Client, error) {
		return client, nil
	})
	s.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
	}

	summaryText, err := s.SummarizeWithPreset(context.Background(), "meeting-1", transcript, "default")
	if err != nil {
		t.Fatalf("SummarizeWithPreset failed: %v", err)
	}
	if summaryText != "retry-success" {
		t.Fatalf("expected retry-success, got %q", summaryText)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 llm calls, got %d", client.calls)
	}
	if len(sleeps) != 2 {
		t.Fatalf("expected 2 sleep calls, got %d", len(sleeps))
	}
	if sleeps[0] != time.Second || sleeps[1] != 4*time.Second {
		t.Fatalf("unexpected sleep durations: %#v", sleeps)
	}
}

func TestSummarizeUnknownPreset(t *testing.T) {
	cfg := config.Summarization{
		Model: "openai/gpt-4o-mini",
		Presets: map[string]config.Preset{
			"default": {
				Description:  "general",
				SystemPrompt: "system",
				UserTemplate: "{{transcript}}",
			},
		},
	}

	s := New(cfg, func(_, _ string) (llm.Client, error) {
		return &mockLLMClient{response: "ok"}, nil
	})

	_, err := s.SummarizeWithPreset(context.Background(), "meeting-1", buildTranscript(25), "missing")
	if err == nil {
		t.Fatal("expected unknown preset error")
	}
	if !strings.Contains(err.Error(), "unknown preset") {
		t.Fatalf("expected unknown preset error, got %v", err)
	}
}

type claimStoreMock struct {
	claimed map[string]bool
	err     error
	calls   int
}

func (c *claimStoreMock) ClaimSummaryRequest(meetingID, promptHash string) (bool, error) {
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	key := meetingID + ":" + promptHash
	if c.claimed[key] {
		return false, nil
	}
	c.claimed[key] = true
	return true, nil
}

func singlePresetConfig() config.Summarization {
	return config.Summarization{
		Model: "openai/gpt-4o-mini",
		Presets: map[string]config.Preset{
			"default": {Description: "general", SystemPrompt: "system", UserTemplate: "{{transcript}}"},
		},
	}
}

func TestSummarizeClaimsPromptOnce(t *testing.T) {
	client := &mockLLMClient{response: "## Resumen"}
	claims := &claimStoreMock{claimed: map[string]bool{}}
	s := New(singlePresetConfig(), func(_, _ string) (llm.Client, error) {
		return client, nil
	}, WithClaimStore(claims))

	transcript := buildTranscript(25)
	if _, _, err := s.Summarize(context.Background(), "meeting-1", transcript); err != nil {
		t.Fatalf("first Summarize failed: %v", err)
	}
	_, _, err := s.Summarize(context.Background(), "meeting-1", transcript)
	if !errors.Is(err, ErrAlreadySummarized) {
		t.Fatalf("expected ErrAlreadySummarized, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected one llm call, got %d", client.calls)
	}

	if _, _, err := s.Summarize(context.Background(), "meeting-1", transcript+" extra words"); err != nil {
		t.Fatalf("expected new transcript to be summarized, got %v", err)
	}
}

func TestSummarizeClaimErrorSkipsModel(t *testing.T) {
	client := &mockLLMClient{response: "unused"}
	s := New(singlePresetConfig(), func(_, _ string) (llm.Client, error) {
		return client, nil
	}, WithClaimStore(&claimStoreMock{err: errors.New("database is locked")}))

	if _, _, err := s.Summarize(context.Background(), "meeting-1", buildTranscript(25)); err == nil {
		t.Fatal("expected claim error")
	}
	if client.calls != 0 {
		t.Fatalf("expected no llm calls, got %d", client.calls)
	}
}

func TestSummarizeShortTranscriptDoesNotClaim(t *testing.T) {
	claims := &claimStoreMock{claimed: map[string]bool{}}
	s := New(singlePresetConfig(), func(_, _ string) (llm.Client, error) {
		return &mockLLMClient{response: "unused"}, nil
	}, WithClaimStore(claims))

	if _, _, err := s.Summarize(context.Background(), "meeting-1", "user: hola"); err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if claims.calls != 0 {
		t.Fatalf("expected no claim for a short transcript, got %d", claims.calls)
	}
}

func TestPresetNamesSorted(t *testing.T) {
	cfg := config.Summarization{Presets: map[string]config.Preset{"sales": {}, "default": {}, "interview": {}}}
	s := New(cfg, nil)

	got := strings.Join(s.PresetNames(), ",")
	if got != "default,interview,sales" {
		t.Fatalf("unexpected preset order %q", got)
	}
}

func buildTranscript(wordCount int) string {
	words := make([]string, 0, wordCount)
	for i := 0; i < wordCount; i++ {
		words = append(words, "word")
	}
	return strings.Join(words, " ")
}
