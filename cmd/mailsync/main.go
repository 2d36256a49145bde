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

// mailsync — job application mailbox sync
//
// Entry point for the sync driver. It:
//  1. Loads configuration from .env, config.yaml and the environment
//  2. Opens the store (SQLite file or Postgres) and applies migrations
//  3. Connects to Redis when configured (run lease and status events)
//  4. Builds the mail source: Microsoft Graph (device code or client
//     credentials, optionally cached in the OS keyring) or IMAP
//  5. Runs one sync, or syncs periodically until SIGTERM/SIGINT
//  6. Optionally serves /health while running
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"github.com/jobtrail/mailsync/internal/auth"
	"github.com/jobtrail/mailsync/internal/config"
	"github.com/jobtrail/mailsync/internal/delta"
	"github.com/jobtrail/mailsync/internal/graph"
	"github.com/jobtrail/mailsync/internal/imapfeed"
	"github.com/jobtrail/mailsync/internal/lock"
	"github.com/jobtrail/mailsync/internal/normalize"
	"github.com/jobtrail/mailsync/internal/queue"
	"github.com/jobtrail/mailsync/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML (default $CONFIG_PATH or ./config.yaml)")
	once := flag.Bool("once", false, "run a single sync and exit, ignoring the configured interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(setupLogger(cfg.LogLevel, cfg.LogFormat))

	slog.Info("configuration loaded",
		"provider", cfg.Provider,
		"mailbox", cfg.Mailbox,
		"auth_mode", cfg.AuthMode,
		"redis", cfg.RedisURL != "",
		"sync_interval", cfg.SyncInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		slog.Error("mailsync failed", "error", err)
		os.Exit(1)
	}
	slog.Info("mailsync stopped")
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	// --- Store ---
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	checks := []healthCheck{{name: "store", ping: st.Ping}}

	// --- Redis (optional) ---
	var (
		locker    delta.Locker
		publisher delta.Publisher
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		pub := queue.NewPublisher(rdb, cfg.EventsQueue)
		if err := pub.Ping(ctx); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("connected to redis")

		locker = lock.NewLocker(rdb, cfg.LockTTL)
		publisher = pub
		checks = append(checks, healthCheck{name: "redis", ping: pub.Ping})
	}

	// --- Pipeline ---
	classifier, err := cfg.Classifier()
	if err != nil {
		return err
	}
	extractor, err := cfg.Extractor()
	if err != nil {
		return err
	}

	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}

	syncer := delta.NewSyncer(delta.SyncerConfig{
		Mailbox:      cfg.Mailbox,
		Fetcher:      fetcher,
		Store:        st,
		Normalizer:   normalize.New(),
		Classifier:   classifier,
		Extractor:    extractor,
		Locker:       locker,
		Publisher:    publisher,
		SyncInterval: cfg.SyncInterval,
	})

	// --- Health Check Server ---
	if cfg.Port > 0 {
		server := startHealthServer(cfg.Port, checks)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "error", err)
			}
		}()
	}

	if once || cfg.SyncInterval == 0 {
		res, err := syncer.SyncMailbox(ctx)
		if err != nil {
			return err
		}
		slog.Info("sync finished",
			"pages", res.Pages,
			"messages", res.Messages,
			"removed", res.Removed,
			"created", res.Created,
			"updated", res.Updated,
			"emails_inserted", res.EmailsInserted,
			"history_appended", res.HistoryAppended,
			"events_published", res.EventsPublished,
			"resynced", res.Resynced,
		)
		return nil
	}

	syncer.StartPeriodicSync(ctx)
	<-ctx.Done()
	slog.Info("received shutdown signal")
	syncer.Stop()
	return nil
}

// newFetcher builds the configured mail source. For Graph this runs the
// sign-in flow.
func newFetcher(ctx context.Context, cfg *config.Config) (delta.PageFetcher, error) {
	if cfg.Provider == config.ProviderIMAP {
		return imapfeed.New(imapfeed.Config{
			Addr:     cfg.IMAP.Addr,
			Username: cfg.IMAP.Username,
			Password: cfg.IMAP.Password,
			Folder:   cfg.IMAP.Folder,
			Insecure: cfg.IMAP.Insecure,
			PageSize: cfg.PageSize,
		}), nil
	}

	authCfg := cfg.AuthConfig()
	authCfg.Prompt = os.Stderr
	if cfg.AuthMode == auth.ModeDeviceCode && cfg.TokenCache != auth.CacheNone {
		cache, err := auth.OpenKeyringCache(cfg.TokenCache, cfg.TokenCacheDir, cfg.TokenCachePassphrase, cfg.ClientID)
		if err != nil {
			return nil, err
		}
		authCfg.Cache = cache
	}

	httpClient, err := auth.HTTPClient(ctx, authCfg)
	if err != nil {
		return nil, err
	}
	httpClient.Timeout = 60 * time.Second
	return graph.NewClient(httpClient, cfg.GraphBaseURL, cfg.PageSize), nil
}

// healthCheck is one dependency probed by /health.
type healthCheck struct {
	name string
	ping func(context.Context) error
}

func healthHandler(checks []healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, c := range checks {
			if err := c.ping(r.Context()); err != nil {
				http.Error(w, c.name+" unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	}
}

func startHealthServer(port int, checks []healthCheck) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(checks))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()
	return server
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
