package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kaiwa/bookmark"
	"kaiwa/config"
	"kaiwa/conversation"
	"kaiwa/gateway"
	"kaiwa/playback"
	"kaiwa/session"
	gemini "kaiwa/services/gemini/tts"
	"kaiwa/services/openai/tutor"
	"kaiwa/store"
)

func main() {
	// Local development overrides; absence is not an error.
	godotenv.Load(".env.local")

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load environment config", zap.Error(err))
	}

	settings, err := config.SettingsFromFile(cfg.SettingsPath)
	if err != nil {
		logger.Warn("failed to load settings, using defaults",
			zap.String("path", cfg.SettingsPath), zap.Error(err))
		settings = config.DefaultSettings()
	}
	settings.InjectAPIKeys(config.APIKeys{
		OpenAI:        cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		Gemini:        cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
	})
	if settings.Tutor.APIKey == "" {
		logger.Fatal("OPENAI_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(cfg)
	if err != nil {
		logger.Fatal("failed to open store backend",
			zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer backend.Close()
	logger.Info("store backend ready", zap.String("backend", cfg.StoreBackend))

	sessions := session.NewStore(settings.Session, backend, logger)
	sessions.Load(ctx)
	bookmarks := bookmark.NewStore(backend, logger)
	bookmarks.Load(ctx)

	tut := tutor.NewService(settings.Tutor, logger)
	if err := tut.Initialize(ctx); err != nil {
		logger.Fatal("failed to initialize tutor", zap.Error(err))
	}
	defer tut.Cleanup()

	hub := gateway.NewHub(logger)

	var speaker playback.Speaker
	var acker gateway.Acker
	if settings.TTS.APIKey != "" {
		tts := gemini.NewService(settings.TTS, logger)
		if err := tts.Initialize(ctx); err != nil {
			logger.Fatal("failed to initialize voice service", zap.Error(err))
		}
		defer tts.Cleanup()
		cloud := gateway.NewCloudSpeaker(tts, hub, logger)
		speaker, acker = cloud, cloud
		logger.Info("voice: cloud synthesis", zap.String("voice", settings.TTS.Voice))
	} else {
		client := gateway.NewClientSpeaker(hub, logger)
		speaker, acker = client, client
		logger.Info("voice: client-side synthesis (no GEMINI_API_KEY)")
	}

	controller := playback.NewController(speaker, hub.NotifySpeaking, logger)
	engine := conversation.NewEngine(settings.Conversation, sessions, tut, controller, logger)
	server := gateway.NewServer(gateway.DefaultConfig(), engine, sessions, bookmarks, hub, acker, logger)

	if err := server.Run(ctx, ":"+cfg.HTTPPort); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func openBackend(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewFileStore(cfg.DataDir)
	}
}
