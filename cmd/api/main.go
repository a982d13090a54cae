package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"homeraAi/internal/auth"
	"homeraAi/internal/billing"
	"homeraAi/internal/config"
	"homeraAi/internal/events"
	"homeraAi/internal/logging"
	"homeraAi/internal/media"
	"homeraAi/internal/pipeline"
	"homeraAi/internal/plans"
	"homeraAi/internal/server"
	"homeraAi/internal/storage"
	"homeraAi/internal/studio"
	"homeraAi/internal/vision"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Init("info", true)
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Pretty)

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init store")
	}
	defer store.Close()

	uploader, err := media.NewUploader(ctx, media.Config{
		Bucket:         cfg.Media.Bucket,
		Region:         cfg.Media.Region,
		Endpoint:       cfg.Media.Endpoint,
		PublicURL:      cfg.Media.PublicURL,
		KeyPrefix:      cfg.Media.KeyPrefix,
		ForcePathStyle: cfg.Media.ForcePathStyle,
		LocalDir:       cfg.Media.LocalDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init media uploader")
	}
	var mediaFS http.Handler
	if local, ok := uploader.(*media.LocalUploader); ok {
		mediaFS = http.FileServer(http.Dir(local.BaseDir))
		log.Info().Str("dir", local.BaseDir).Msg("media uploader: local storage")
	}

	interpreter, renderer := visionStack(ctx, cfg.AI)
	eventBroker := events.NewBroker()
	var pipe *pipeline.Pipeline
	if renderer != nil {
		pipe = pipeline.New(interpreter, renderer, eventBroker)
	}

	sessions := auth.SessionManager{
		Secret:       []byte(cfg.Session.Secret),
		Duration:     cfg.Session.Duration,
		SecureCookie: cfg.Session.SecureCookie,
	}
	visionHandler := vision.Handler{
		Interpreter: interpreter,
		Tier: func(r *http.Request) plans.Tier {
			if user, ok := auth.UserFromContext(r.Context()); ok {
				return user.Tier
			}
			return plans.DefaultTier
		},
	}
	if renderer != nil {
		visionHandler.Renderer = renderer
	}

	srv := server.New(cfg.Port, server.Handlers{
		Auth:       auth.Handler{Store: store, Sessions: sessions},
		Middleware: auth.Middleware{Store: store, Sessions: sessions},
		Studio: studio.Handler{
			Store:    store,
			Pipeline: pipe,
			Broker:   eventBroker,
			Billing:  billing.NewService(store),
			Uploader: uploader,
		},
		Vision: visionHandler,
		Media:  mediaFS,
	})

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownChan
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// visionStack picks the hosted models when configured. Without them the
// heuristic interpreter still serves /api/vision/interpret and rendering is off.
func visionStack(ctx context.Context, ai config.AIConfig) (vision.Interpreter, *vision.GeminiRenderer) {
	if !ai.HasAI() {
		log.Warn().Msg("no AI credentials: heuristic interpreter only, rendering disabled")
		return vision.HeuristicInterpreter{}, nil
	}
	client, err := vision.NewClient(ctx, vision.ClientOptions{
		APIKey:   ai.APIKey,
		Project:  ai.Project,
		Location: ai.Location,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init AI client")
	}
	log.Info().Str("interpreter_model", ai.InterpreterModel).Msg("vision ready: Gemini")
	return vision.NewGeminiInterpreter(client, ai.InterpreterModel), vision.NewGeminiRenderer(client)
}
