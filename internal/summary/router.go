package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sjawhar/meetroom/internal/config"
	"github.com/sjawhar/meetroom/internal/llm"
)

// Excerpt sizes, in words, sent to the router model.
const (
	excerptHead   = 300
	excerptMiddle = 200
	excerptTail   = 200
)

// Router asks a model which preset suits a meeting. It never fails: any
// problem falls back to the default preset.
type Router struct {
	cfg     config.Summarization
	factory ClientFactory
}

func NewRouter(cfg config.Summarization, factory ClientFactory) *Router {
	return &Router{cfg: cfg, factory: factory}
}

// SampleTranscript keeps the opening, the middle and the close of a long
// transcript, joined by omission markers.
func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

func (r *Router) SelectPreset(ctx context.Context, transcript string) (string, error) {
	sampled := SampleTranscript(transcript, excerptHead, excerptMiddle, excerptTail)

	names := r.presetNames()
	var presetList strings.Builder
	for _, name := range names {
		fmt.Fprintf(&presetList, "- %s: %s\n", name, r.cfg.Presets[name].Description)
	}

	prompt := fmt.Sprintf(`Below is an excerpt of a meeting between a person and a voice assistant. Choose the single summarization preset that best fits the meeting.

Meeting excerpt:
%s

Available presets:
%s
Reply with ONLY the preset name, nothing else.`, sampled, presetList.String())

	provider, model, err := llm.ParseModel(r.cfg.Model)
	if err != nil {
		slog.Warn("router: falling back to default preset", "reason", "parse model failed", "error", err)
		return r.fallbackPreset(), nil
	}

	client, err := r.factory(provider, model)
	if err != nil {
		slog.Warn("router: falling back to default preset", "reason", "create client failed", "error", err)
		return r.fallbackPreset(), nil
	}

	result, err := client.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		slog.Warn("router: falling back to default preset", "reason", "llm complete failed", "error", err)
		return r.fallbackPreset(), nil
	}

	chosen := strings.Trim(strings.TrimSpace(result), "`\"'.")
	if _, ok := r.cfg.Presets[chosen]; ok {
		return chosen, nil
	}
	for _, name := range names {
		if strings.EqualFold(name, chosen) {
			return name, nil
		}
	}

	slog.Warn("router: falling back to default preset", "reason", "chosen preset not found", "chosen", chosen)
	return r.fallbackPreset(), nil
}

func (r *Router) presetNames() []string {
	keys := make([]string, 0, len(r.cfg.Presets))
	for k := range r.cfg.Presets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Router) fallbackPreset() string {
	if _, ok := r.cfg.Presets["default"]; ok {
		return "default"
	}
	return r.presetNames()[0]
}
