// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mail ingestion service
//
// Entry point for the ingestion service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to the store (PostgreSQL or SQLite) and Redis
//  3. Seeds configured accounts and their custom labels
//  4. Serves the event webhook (JWT-authenticated pushes)
//  5. Runs the Redis event consumer and the pending-event poller
//  6. Serves /health and /metrics
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/bcem/mailingest/internal/bodycache"
	"github.com/bcem/mailingest/internal/config"
	"github.com/bcem/mailingest/internal/decrypt"
	"github.com/bcem/mailingest/internal/dedup"
	"github.com/bcem/mailingest/internal/events"
	"github.com/bcem/mailingest/internal/ingest"
	"github.com/bcem/mailingest/internal/metrics"
	"github.com/bcem/mailingest/internal/models"
	"github.com/bcem/mailingest/internal/queue"
	"github.com/bcem/mailingest/internal/remote"
	"github.com/bcem/mailingest/internal/store"
	"github.com/bcem/mailingest/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mail ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"database", cfg.DatabaseDriver,
		"poll_interval", cfg.PollInterval,
		"workers", cfg.ConsumerWorkers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to the store ---
	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.DatabaseDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("connected to store", "driver", cfg.DatabaseDriver)

	for _, a := range cfg.Accounts {
		acct := models.Account{ID: a.ID, Email: a.Email, Name: a.Name, JWT: a.JWT, DeviceID: a.DeviceID}
		if err := st.UpsertAccount(ctx, acct); err != nil {
			slog.Error("failed to seed account", "account", a.ID, "error", err)
			os.Exit(1)
		}

		labels := make([]models.Label, 0, len(a.Labels))
		for _, l := range a.Labels {
			labels = append(labels, models.Label{Text: l.Text, Color: l.Color})
		}
		created, err := store.EnsureLabels(ctx, st, a.ID, labels)
		if err != nil {
			slog.Error("failed to seed labels", "account", a.ID, "error", err)
			os.Exit(1)
		}
		if created > 0 {
			slog.Info("created custom labels", "account", a.ID, "count", created)
		}
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.IngestedQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Pipeline ---
	httpClient := &http.Client{Timeout: 30 * time.Second}
	api := remote.NewClient(httpClient, cfg.APIBaseURL, cfg.APIVersion)

	pipeline := ingest.New(ingest.Deps{
		Store:    st,
		Fetcher:  api,
		Cache:    bodycache.NewDisk(afero.NewOsFs(), cfg.BodyCacheDir),
		Session:  decrypt.NewSessionClient(httpClient, cfg.SessionsURL),
		Claims:   dedup.NewFilter(rdb, cfg.ClaimTTL),
		Notifier: publisher,
	}, ingest.Config{
		SpamThreshold:    cfg.Pipeline.SpamThreshold,
		ExternalIdentity: cfg.Pipeline.ExternalIdentity,
		Placeholder:      cfg.Pipeline.Placeholder,
		DefaultDomain:    cfg.Pipeline.DefaultDomain,
	})

	// --- Webhook ---
	if cfg.JWTSecret == "" {
		slog.Warn("webhook.jwt_secret not set, webhook disabled")
	} else {
		ready, err := webhook.Serve(ctx, cfg.WebhookPort, webhook.NewHandler(pipeline, cfg.JWTSecret))
		if err != nil {
			slog.Error("failed to start webhook server", "error", err)
			os.Exit(1)
		}
		<-ready
	}

	// --- Redis consumer ---
	consumer := queue.NewConsumer(rdb, pipeline, queue.ConsumerConfig{
		QueueName: cfg.EventsQueue,
		Workers:   cfg.ConsumerWorkers,
	})
	go func() {
		if err := consumer.Run(ctx); err != nil {
			slog.Error("event consumer stopped with error", "error", err)
		}
	}()

	// --- Pending-event poller ---
	poller := events.NewPoller(api, st, pipeline, events.Options{Interval: cfg.PollInterval})
	go poller.Run(ctx)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check the store
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stop all background goroutines

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
	}()

	slog.Info("ingestion service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}

// openStore connects the configured storage backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.DatabaseDriver == "sqlite" {
		return store.NewSQLite(cfg.DatabaseURL)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	pg, err := store.NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return pg, nil
}
