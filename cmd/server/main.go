package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nadmax/harvest/internal/api"
	"github.com/nadmax/harvest/internal/config"
	"github.com/nadmax/harvest/internal/llm"
	"github.com/nadmax/harvest/internal/notifier"
	"github.com/nadmax/harvest/internal/runner"
	"github.com/nadmax/harvest/internal/store"
	"github.com/nadmax/harvest/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	taskStore := store.NewFallbackStore(cfg.RedisAddr, cfg.RedisRetention, task.Defaults{
		Model:   cfg.OllamaModel,
		Timeout: cfg.DefaultTimeout,
	})

	defer func() {
		if err := taskStore.Close(); err != nil {
			log.Printf("failed to close task store: %v", err)
		}
	}()

	gateway := llm.NewClient(cfg.OllamaURL)
	r := runner.New(taskStore, gateway, notifier.NewWebhookNotifier())
	handler := api.New(taskStore, r, gateway, cfg)

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: handler,
	}

	go func() {
		log.Printf("Harvest API v%s starting on :%d", api.Version, cfg.Port)
		log.Printf("Using Ollama at %s (default model: %s)", cfg.OllamaURL, cfg.OllamaModel)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down Harvest API...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("failed to shut down server cleanly: %v", err)
	}
}
