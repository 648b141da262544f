package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"reddalert/internal/config"
	"reddalert/internal/dedup"
	"reddalert/internal/dispatcher"
	"reddalert/internal/email"
	"reddalert/internal/matchengine"
	"reddalert/internal/metrics"
	"reddalert/internal/poller"
	"reddalert/internal/ratelimit"
	"reddalert/internal/scheduler"
	"reddalert/internal/source"
	"reddalert/internal/storage"
	"reddalert/internal/tenantconfig"
)

// outboundCallsPerMinute bounds the token bucket shared by every
// outbound call to the forum source.
const outboundCallsPerMinute = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	cfgReader := tenantconfig.New(store, 60*time.Second, log)
	limiter := ratelimit.New(outboundCallsPerMinute)
	redditSource := source.New(httpClient, cfg.ForumUserAgent)
	dedupSet := dedup.NewMatchSet()
	m := metrics.New()
	emailSink := email.New(log)
	sender := dispatcher.NewHTTPWebhookSender(httpClient)

	p := poller.New(redditSource, store, cfgReader, limiter, log)
	e := matchengine.New(store, cfgReader, dedupSet, log)
	d := dispatcher.New(store, cfgReader, sender, emailSink, m, log)

	sched := scheduler.New(p, e, d, cfgReader, store, dedupSet, log)
	sched.SetRetentionDays(cfg.RetentionDays)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go serveMetrics(ctx, cfg.MetricsAddr, m, log)

	log.Info("starting worker", "database", cfg.DatabasePath, "poll_interval", cfg.PollIntervalMinutes)
	sched.Run(ctx)
	log.Info("worker stopped")
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log *slog.Logger) {
	srv := &http.Server{Addr: addr, Handler: m.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
