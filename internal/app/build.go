// Package app assembles the service from its parts so the entrypoint and
// integration tests share one composition root.
package app

import (
	"context"
	"fmt"

	"sonara/internal/config"
	"sonara/internal/httpapi"
	"sonara/internal/jobs"
	"sonara/internal/keepalive"
	"sonara/internal/observability"
	"sonara/internal/playback"
	"sonara/internal/protocol"
	"sonara/internal/store"
	"sonara/internal/tts"
)

type BuildResult struct {
	Config      config.Config
	API         *httpapi.Server
	Store       store.Store
	Runner      *jobs.Runner
	Logs        *jobs.LogStore
	Registry    *jobs.Registry
	Supervisor  *keepalive.Supervisor
	Coordinator *playback.Coordinator
	Hub         *httpapi.Hub
	Metrics     *observability.Metrics

	// Cleanup releases external resources (store connections, the playback
	// host, keep-alive timers). Call it on shutdown.
	Cleanup func() error
}

// StoreMode reports which backend Build selected, for startup logging.
func (b *BuildResult) StoreMode() string {
	if b.Config.DatabaseURL == "" {
		return "in-memory"
	}
	return "postgres"
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	hub := httpapi.NewHub()
	registry := jobs.NewRegistry()
	logStore := jobs.NewLogStore(st)

	supervisor := keepalive.NewSupervisor(keepalive.Config{
		HeartbeatInterval: cfg.KeepAliveHeartbeat,
		WakeInterval:      cfg.KeepAliveWake,
	}, keepalive.Hooks{
		// A resident process has no platform to ping; the heartbeat's work
		// here is the storage touch and the observer notification.
		Touch: st.Touch,
		Notify: func(counter int) {
			hub.Broadcast(protocol.KeepAlivePing{
				Type:    protocol.TypeKeepAlivePing,
				Counter: counter,
			})
		},
		Pending: registry.ActiveCount,
	})

	newClient := func(apiKey string) tts.Client {
		return tts.NewOpenAIClient(tts.OpenAIConfig{
			APIKey:         apiKey,
			BaseURL:        cfg.OpenAIBaseURL,
			MaxAttempts:    cfg.RetryMaxAttempts,
			BaseBackoff:    cfg.RetryBaseDelay,
			AttemptTimeout: cfg.ChunkRequestTimeout,
		})
	}

	runner := jobs.NewRunner(jobs.Config{
		MaxChunkChars:    cfg.MaxChunkChars,
		InterChunkDelay:  cfg.InterChunkDelay,
		JobTimeout:       cfg.JobTimeout,
		TimeoutRetryWait: cfg.TimeoutRetryWait,
		DefaultAPIKey:    cfg.OpenAIAPIKey,
		DefaultVoice:     cfg.OpenAIVoice,
	}, newClient, registry, logStore, st, supervisor, metrics, hub)

	coordinator := playback.NewCoordinator(nil, st.LoadAudio, hub)

	api := httpapi.New(cfg, runner, logStore, st, coordinator, hub, metrics)

	cleanup := func() error {
		supervisor.Stop()
		coordinator.Close()
		return st.Close()
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Store:       st,
		Runner:      runner,
		Logs:        logStore,
		Registry:    registry,
		Supervisor:  supervisor,
		Coordinator: coordinator,
		Hub:         hub,
		Metrics:     metrics,
		Cleanup:     cleanup,
	}, nil
}
