package call

import (
	"strings"

	"github.com/sjawhar/meetroom/internal/storage"
)

// Config is the per-call assistant configuration sent to the provider when a
// call starts. It is composed once from the meeting and the user's
// assistant settings and never changes for the life of the call.
type Config struct {
	MeetingID              string
	AssistantID            string
	LanguageModel          string
	Transcriber            Transcriber
	Instructions           string
	Variables              map[string]string
	RecordingEnabled       bool
	EndCallFunctionEnabled bool
}

type Transcriber struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

// Defaults carries the deployment-wide values that are not stored per
// meeting.
type Defaults struct {
	AssistantID      string
	LanguageModel    string
	Transcriber      Transcriber
	RecordingEnabled bool
}

// BuildConfig composes the call configuration for a meeting. Assistant
// fields set on the meeting win; blank ones fall back to the user's
// assistant config.
func BuildConfig(meeting storage.Meeting, user storage.AssistantConfig, defaults Defaults) Config {
	assistant := mergeAssistant(meeting.AssistantConfig, user)

	name := strings.TrimSpace(meeting.Title)
	if name == "" {
		name = assistant.Name
	}

	instructions := buildInstructions(assistant)

	return Config{
		MeetingID:     meeting.ID,
		AssistantID:   defaults.AssistantID,
		LanguageModel: defaults.LanguageModel,
		Transcriber:   defaults.Transcriber,
		Instructions:  instructions,
		Variables: map[string]string{
			"name":          name,
			"objective":     assistant.Objective,
			"openingPhrase": assistant.OpeningPhrase,
			"systemPrompt":  instructions,
		},
		RecordingEnabled:       defaults.RecordingEnabled,
		EndCallFunctionEnabled: true,
	}
}

func mergeAssistant(meeting, user storage.AssistantConfig) storage.AssistantConfig {
	merged := user
	if v := strings.TrimSpace(meeting.Name); v != "" {
		merged.Name = v
	}
	if v := strings.TrimSpace(meeting.Objective); v != "" {
		merged.Objective = v
	}
	if v := strings.TrimSpace(meeting.OpeningPhrase); v != "" {
		merged.OpeningPhrase = v
	}
	if v := strings.TrimSpace(meeting.KnowledgeBase); v != "" {
		merged.KnowledgeBase = v
	}
	if len(meeting.Links) > 0 {
		merged.Links = meeting.Links
	}
	return merged
}

func buildInstructions(a storage.AssistantConfig) string {
	links := make([]string, 0, len(a.Links))
	for _, link := range a.Links {
		if trimmed := strings.TrimSpace(link); trimmed != "" {
			links = append(links, trimmed)
		}
	}

	sections := []string{
		"Objetivo: " + a.Objective,
		"Frase de apertura: " + a.OpeningPhrase,
		"Base de conocimientos: " + a.KnowledgeBase,
		"Enlaces de referencia: " + strings.Join(links, "\n"),
	}
	return strings.Join(sections, "\n\n")
}
