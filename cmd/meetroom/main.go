package main

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sjawhar/meetroom/internal/audio"
	"github.com/sjawhar/meetroom/internal/call"
	"github.com/sjawhar/meetroom/internal/config"
	"github.com/sjawhar/meetroom/internal/gdrive"
	"github.com/sjawhar/meetroom/internal/llm"
	"github.com/sjawhar/meetroom/internal/server"
	"github.com/sjawhar/meetroom/internal/session"
	"github.com/sjawhar/meetroom/internal/storage"
	"github.com/sjawhar/meetroom/internal/summary"
)

//go:embed static/*
var staticFiles embed.FS

const shutdownTimeout = 10 * time.Second

func main() {
	log.Println("meetroom: starting")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg, warnings, err := config.Load(envOrDefault("MEETROOM_CONFIG", "meetroom.yaml"))
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static assets init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub()
	recorder := audio.NewRecorder(cfg.RecordingDir)

	mic, closeAudio := openMic(cfg)
	sampleRate := audio.DefaultSampleRate
	if mic != nil {
		sampleRate = mic.SampleRate()
		recorder.SetSampleRate(sampleRate)
	}

	var summarizer session.Summarizer
	if provider, _, err := llm.ParseModel(cfg.Summarization.Model); err != nil {
		log.Printf("warning: summaries disabled: %v", err)
	} else if cfg.APIKeyFor(provider) == "" {
		log.Printf("warning: summaries disabled: no API key for %s", provider)
	} else {
		factory := llm.NewFactory(cfg.APIKeyFor)
		summarizer = summary.New(cfg.Summarization, factory.Client, summary.WithClaimStore(store))
	}

	sup := session.NewSupervisor(store, providerFactory(cfg, sampleRate), recorder, summarizer, hub,
		session.WithDedupWindow(cfg.ParsedDedupWindow()),
		session.WithGracePeriod(cfg.ParsedGracePeriod()),
		session.WithProviderTimeout(cfg.ParsedProviderTimeout()),
		session.WithAnnouncement(cfg.Announcement),
		session.WithCallDefaults(call.Defaults{
			AssistantID:   cfg.AssistantID,
			LanguageModel: cfg.LanguageModel,
			Transcriber: call.Transcriber{
				Provider: cfg.Transcriber.Provider,
				Model:    cfg.Transcriber.Model,
				Language: cfg.Transcriber.Language,
			},
			RecordingEnabled: cfg.RecordingEnabled,
		}),
		session.WithExporter(newExporter(ctx, cfg)),
	)

	handler, err := server.Handler(assets, hub, store, sup, server.ControlHooks{
		Warnings: func() []string { return warnings },
		Presets:  func() map[string]config.Preset { return cfg.Summarization.Presets },
	})
	if err != nil {
		log.Fatalf("build http handler failed: %v", err)
	}

	if mic != nil {
		go func() {
			if err := audio.StreamWithRetry(ctx, mic, recorder.Writer(sup), time.Sleep); err != nil {
				log.Printf("mic stream error: %v", err)
			}
		}()
	}

	if err := server.Serve(ctx, cfg.ListenAddr, handler); err != nil {
		log.Printf("http server error: %v", err)
	}

	log.Println("meetroom: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: session cleanup incomplete: %v", err)
	}

	if mic != nil {
		_ = mic.Close()
	}
	if closeAudio != nil {
		closeAudio()
	}
}

// openMic returns nil when no input device is usable; the service then runs
// with provider-side audio only.
func openMic(cfg config.Config) (*audio.Mic, func()) {
	closeAudio, err := audio.Init()
	if err != nil {
		log.Printf("warning: audio unavailable: %v", err)
		return nil, nil
	}

	mic, err := audio.OpenMic(cfg.SampleRateCandidates(), audio.DefaultFramesPerBuffer)
	if err != nil {
		log.Printf("warning: microphone unavailable, running API/UI only: %v", err)
		return nil, closeAudio
	}
	if err := mic.Start(); err != nil {
		log.Printf("warning: microphone start failed at %d Hz, running API/UI only: %v", mic.SampleRate(), err)
		_ = mic.Close()
		return nil, closeAudio
	}

	log.Printf("microphone started at %d Hz", mic.SampleRate())
	return mic, closeAudio
}

func providerFactory(cfg config.Config, sampleRate int) session.ProviderFactory {
	if cfg.Provider == config.ProviderDeepgram {
		return func() call.Provider { return call.NewDeepgramProvider(cfg.DeepgramAPIKey, sampleRate) }
	}
	return func() call.Provider { return call.NewWSProvider(cfg.ProviderURL, cfg.VoiceAPIKey) }
}

func newExporter(ctx context.Context, cfg config.Config) session.Exporter {
	writer := storage.NewWriter(cfg.ExportDir)
	if cfg.GDriveFolderID == "" {
		return writer
	}

	uploader, err := gdrive.NewUploader(ctx, cfg.GoogleCredsFile, cfg.GDriveFolderID, writer)
	if err != nil {
		log.Printf("warning: gdrive export disabled: %v", err)
		return writer
	}
	return uploader
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
