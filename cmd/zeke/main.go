// Command zeke runs the provider orchestrator as a long-lived process:
// it registers the configured backends, probes their health, and keeps the
// registry and response cache maintained until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghostkellz/zeke/cache"
	"github.com/ghostkellz/zeke/config"
	"github.com/ghostkellz/zeke/internal/version"
	"github.com/ghostkellz/zeke/orchestrator"
	"github.com/ghostkellz/zeke/provider"
)

var configPath = flag.String("config", "zeke.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting zeke",
		"version", version.Version,
		"commit", version.Commit,
	)

	manager := provider.NewManager(logger)
	for _, pc := range cfg.Providers {
		client, err := buildClient(pc)
		if err != nil {
			log.Fatalf("Failed to configure provider %s: %v", pc.Provider, err)
		}
		manager.Register(client)
	}

	respCache, closeCache, err := buildCache(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open response cache: %v", err)
	}
	defer closeCache()

	var exec orchestrator.Executor = orchestrator.AsyncExecutor{}
	if cfg.Orchestrator.Workers > 0 {
		pool := orchestrator.NewPoolExecutor(cfg.Orchestrator.Workers)
		defer pool.Close()
		exec = pool
	}

	orch := orchestrator.New(orchestrator.Options{
		Executor:   exec,
		Cache:      respCache,
		CleanupAge: time.Duration(cfg.Orchestrator.CleanupAfterSeconds) * time.Second,
		Logger:     logger,
	})

	janitor, err := orchestrator.NewJanitor(orch, respCache, cfg.Orchestrator.CleanupSchedule, logger)
	if err != nil {
		log.Fatalf("Failed to schedule cleanup: %v", err)
	}
	janitor.Start()
	defer janitor.Stop()

	probeProviders(orch, manager, logger)

	fmt.Printf("Zeke orchestrator running (providers: %d)\n", len(manager.Registered()))
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
}

// probeProviders health-checks every registered backend and feeds the
// results into the manager's health records.
func probeProviders(orch *orchestrator.Orchestrator, manager *provider.Manager, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var ids []int64
	for _, id := range manager.Registered() {
		client, ok := manager.Client(id)
		if !ok {
			continue
		}
		taskID := orch.SubmitHealthCheck(client, orchestrator.RequestOptions{Timeout: 10 * time.Second}, nil)
		ids = append(ids, taskID)
	}

	tasks, err := orch.WaitForAllRequests(ctx, ids)
	if err != nil {
		logger.Warn("health probe interrupted", "error", err)
		return
	}
	for _, t := range tasks {
		if hr, ok := t.Result.(orchestrator.HealthResult); ok {
			manager.UpdateHealth(hr.Provider, true, hr.ResponseTime)
			logger.Info("provider healthy", "provider", hr.Provider, "response_time", hr.ResponseTime)
			continue
		}
		manager.UpdateHealth(t.Provider, false, 0)
		logger.Warn("provider unhealthy", "provider", t.Provider, "error", t.ErrorInfo)
	}
}

func buildClient(pc config.ProviderConfig) (provider.Client, error) {
	id, err := provider.Parse(pc.Provider)
	if err != nil {
		return nil, err
	}
	switch id {
	case provider.Claude:
		return provider.NewClaudeClient(provider.ClaudeConfig{
			APIKey: pc.APIKey, Model: pc.Model, BaseURL: pc.BaseURL,
		}), nil
	case provider.OpenAI:
		return provider.NewOpenAIClient(provider.OpenAIConfig{
			APIKey: pc.APIKey, Model: pc.Model, BaseURL: pc.BaseURL,
		}), nil
	case provider.DeepSeek:
		return provider.NewDeepSeekClient(provider.OpenAIConfig{
			APIKey: pc.APIKey, Model: pc.Model, BaseURL: pc.BaseURL,
		}), nil
	case provider.GhostLLM:
		return provider.NewGhostLLMClient(provider.GhostLLMConfig{
			APIKey: pc.APIKey, Model: pc.Model, BaseURL: pc.BaseURL,
		}), nil
	case provider.Ollama:
		return provider.NewOllamaClient(provider.OllamaConfig{
			Model: pc.Model, BaseURL: pc.BaseURL,
		}), nil
	default:
		return nil, fmt.Errorf("provider %s has no client implementation", id)
	}
}

func buildCache(cfg *config.Config, logger *slog.Logger) (*cache.ResponseCache, func(), error) {
	if !cfg.Cache.Enabled {
		return nil, func() {}, nil
	}

	var store *cache.Store
	closeFn := func() {}
	if cfg.Cache.Path != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, nil, err
		}
		s, err := cache.NewStore(cfg.Cache.Path)
		if err != nil {
			return nil, nil, err
		}
		store = s
		closeFn = func() { _ = s.Close() }
	}

	c := cache.New(cache.Config{
		TTL:        time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		MaxEntries: cfg.Cache.MaxEntries,
		Store:      store,
		Logger:     logger,
	})
	return c, closeFn, nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
