package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all meetroom environment variables.
const EnvPrefix = "MEETROOM_"

const (
	ProviderWebsocket = "websocket"
	ProviderDeepgram  = "deepgram"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	DBPath           string        `yaml:"db_path"`
	RecordingDir     string        `yaml:"recording_dir"`
	ExportDir        string        `yaml:"export_dir"`
	Provider         string        `yaml:"provider"`
	ProviderURL      string        `yaml:"provider_url"`
	AssistantID      string        `yaml:"assistant_id"`
	LanguageModel    string        `yaml:"language_model"`
	Transcriber      Transcriber   `yaml:"transcriber"`
	RecordingEnabled bool          `yaml:"recording_enabled"`
	Announcement     string        `yaml:"announcement"`
	DedupWindow      string        `yaml:"dedup_window"`
	GracePeriod      string        `yaml:"grace_period"`
	ProviderTimeout  string        `yaml:"provider_timeout"`
	MicSampleRate    int           `yaml:"mic_sample_rate"`
	MicSampleRates   []int         `yaml:"mic_sample_rates"`
	GDriveFolderID   string        `yaml:"gdrive_folder_id"`
	GoogleCredsFile  string        `yaml:"google_credentials_file"`
	Summarization    Summarization `yaml:"summarization"`

	// Secrets: env vars only, never serialized to YAML.
	VoiceAPIKey     string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

type Transcriber struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// Summarization configures post-meeting summaries. Model is "provider/model".
type Summarization struct {
	Model   string            `yaml:"model"`
	Presets map[string]Preset `yaml:"presets"`
}

type Preset struct {
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	UserTemplate string `yaml:"user_template"`
	Model        string `yaml:"model"`
}

const (
	defaultDedupWindow     = time.Second
	defaultGracePeriod     = time.Second
	defaultProviderTimeout = 10 * time.Second
)

func defaults() Config {
	return Config{
		ListenAddr:      ":8080",
		DBPath:          "data/meetroom.db",
		RecordingDir:    "data/recordings",
		ExportDir:       "data/transcripts",
		Provider:        ProviderWebsocket,
		LanguageModel:   "gpt-3.5-turbo",
		Transcriber:     Transcriber{Provider: "deepgram", Model: "nova-2", Language: "es"},
		Announcement:    "Finalizando la llamada",
		DedupWindow:     "1s",
		GracePeriod:     "1s",
		ProviderTimeout: "10s",
		MicSampleRate:   16000,
		MicSampleRates:  []int{48000, 44100, 32000, 24000},
		GoogleCredsFile: "./service-account.json",
		Summarization: Summarization{
			Model: "openai/gpt-4o-mini",
			Presets: map[string]Preset{
				"default": {
					Description:  "General meeting summary",
					SystemPrompt: "Summarize the following meeting transcript between a user and an AI assistant concisely in markdown. Include key topics, decisions made, and action items if any.",
					UserTemplate: "Meeting date: {{date}}\n\n{{transcript}}",
				},
			},
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedDedupWindow returns DedupWindow as a time.Duration, falling back to
// 1s if the value is invalid.
func (c *Config) ParsedDedupWindow() time.Duration {
	return parseDurationOr(c.DedupWindow, defaultDedupWindow)
}

// ParsedGracePeriod returns GracePeriod as a time.Duration, falling back to
// 1s if the value is invalid.
func (c *Config) ParsedGracePeriod() time.Duration {
	return parseDurationOr(c.GracePeriod, defaultGracePeriod)
}

// ParsedProviderTimeout returns ProviderTimeout as a time.Duration, falling
// back to 10s if the value is invalid.
func (c *Config) ParsedProviderTimeout() time.Duration {
	return parseDurationOr(c.ProviderTimeout, defaultProviderTimeout)
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

// APIKeyFor returns the LLM API key for a provider name used in a
// "provider/model" string.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDING_DIR"); v != "" {
		cfg.RecordingDir = v
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv(EnvPrefix + "PROVIDER"); v != "" {
		cfg.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvPrefix + "PROVIDER_URL"); v != "" {
		cfg.ProviderURL = v
	}
	if v := os.Getenv(EnvPrefix + "ASSISTANT_ID"); v != "" {
		cfg.AssistantID = v
	}
	if v := os.Getenv(EnvPrefix + "LANGUAGE_MODEL"); v != "" {
		cfg.LanguageModel = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIBER_LANGUAGE"); v != "" {
		cfg.Transcriber.Language = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.RecordingEnabled = enabled
		}
	}
	if v := os.Getenv(EnvPrefix + "ANNOUNCEMENT"); v != "" {
		cfg.Announcement = v
	}
	if v := os.Getenv(EnvPrefix + "DEDUP_WINDOW"); v != "" {
		cfg.DedupWindow = v
	}
	if v := os.Getenv(EnvPrefix + "GRACE_PERIOD"); v != "" {
		cfg.GracePeriod = v
	}
	if v := os.Getenv(EnvPrefix + "PROVIDER_TIMEOUT"); v != "" {
		cfg.ProviderTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.Summarization.Model = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.VoiceAPIKey = os.Getenv(EnvPrefix + "VOICE_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch cfg.Provider {
	case ProviderWebsocket:
		if cfg.ProviderURL == "" {
			warnings = append(warnings, "Voice provider URL not configured \u2014 meetings cannot start. Set provider_url or "+EnvPrefix+"PROVIDER_URL.")
		}
		if cfg.VoiceAPIKey == "" {
			warnings = append(warnings, "Voice provider API key not configured \u2014 meetings cannot start. Set "+EnvPrefix+"VOICE_API_KEY.")
		}
	case ProviderDeepgram:
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured \u2014 meetings cannot start. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown provider %q \u2014 using %s.", cfg.Provider, ProviderWebsocket))
		cfg.Provider = ProviderWebsocket
	}

	if provider, _, ok := strings.Cut(cfg.Summarization.Model, "/"); ok && cfg.APIKeyFor(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for summary provider %q \u2014 meeting summaries are disabled.", provider))
	}
	if len(cfg.Summarization.Presets) == 0 {
		warnings = append(warnings, "No summarization presets configured \u2014 meeting summaries are disabled.")
	}

	for _, d := range []struct{ name, value, fallback string }{
		{"dedup_window", cfg.DedupWindow, "1s"},
		{"grace_period", cfg.GracePeriod, "1s"},
		{"provider_timeout", cfg.ProviderTimeout, "10s"},
	} {
		if parsed, err := time.ParseDuration(d.value); err != nil || parsed <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q \u2014 using default %s.", d.name, d.value, d.fallback))
		}
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
