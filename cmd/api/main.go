package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"redline/api/internal/app"
	"redline/api/internal/config"
	"redline/api/internal/coordinator"
	"redline/api/internal/document"
	"redline/api/internal/export"
	"redline/api/internal/hub"
	"redline/api/internal/nlp"
	"redline/api/internal/rategate"
)

func main() {
	cfg := config.Load()

	policies := map[rategate.Class]rategate.Policy{
		rategate.ClassAPI:        {Limit: cfg.APICallLimit, Window: cfg.APICallWindow},
		rategate.ClassVoice:      {Limit: cfg.VoiceLimit, Window: cfg.VoiceWindow},
		rategate.ClassSuggestion: {Limit: cfg.SuggestLimit, Window: cfg.SuggestWindow},
		rategate.ClassMessage:    {Limit: cfg.MessageLimit, Window: cfg.MessageWindow},
	}

	// Rate windows live in Redis when configured so multiple instances share
	// admission state; otherwise in process memory.
	var gate *rategate.Gate
	var redisStore *rategate.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for rate windows")
		store, err := rategate.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer store.Close()
		redisStore = store
		gate = rategate.NewWithStore(policies, store)
	} else {
		gate = rategate.New(policies)
	}

	var backend nlp.Backend
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		openaiBackend, err := nlp.NewOpenAI(nlp.Settings{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			SuggestModel:    cfg.SuggestModel,
			TranscribeModel: cfg.TranscribeModel,
		})
		if err != nil {
			log.Fatalf("nlp backend setup failed: %v", err)
		}
		backend = openaiBackend
	} else {
		log.Printf("WARNING: no OpenAI API key configured, using mock NLP backend")
		backend = nlp.Mock{}
	}

	store := document.NewStore(cfg.SupportedDocTypes)
	sessionHub := hub.New()
	service := coordinator.New(coordinator.Config{
		RetryAttempts:  cfg.RetryAttempts,
		RetryDelay:     cfg.RetryDelay,
		BackendTimeout: cfg.BackendTimeout,
		MaxSuggestions: cfg.MaxSuggestions,
		DefaultDocType: cfg.DefaultDocType,
	}, gate, store, sessionHub, backend)

	exportService := export.NewService(store)
	sockets := app.NewWSHandler(service, gate)
	httpServer := app.NewHTTPServer(cfg, service, store, exportService, sockets)
	if redisStore != nil {
		httpServer.SetReadyCheck(redisStore.Ping)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Redline API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
