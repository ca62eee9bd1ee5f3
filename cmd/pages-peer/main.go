package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pagewire/pages/internal/config"
	"github.com/pagewire/pages/internal/journal"
	"github.com/pagewire/pages/internal/peer"
	"github.com/pagewire/pages/internal/presence"
	"github.com/pagewire/pages/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup happens before exit.
func run() int {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override peer port")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// .env is optional; the environment may already carry the overrides.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		telemetry.NewLogger(os.Stderr, "text", "info").Error(err, "failed to load config", "path", *configPath)
		return 1
	}
	if *port > 0 {
		cfg.Peer.Port = *port
	}

	logger := telemetry.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)

	opts := []peer.Option{
		peer.WithLogger(logger),
		peer.WithAllowedOrigins(cfg.Peer.AllowedOrigins),
		peer.WithMaxConnections(cfg.Peer.MaxConnections),
		peer.WithSendBuffer(cfg.Peer.SendBuffer),
	}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, peer.WithMetrics(telemetry.NewPeerMetrics(reg)), peer.WithGatherer(reg))
	}

	if cfg.Presence.RedisURL != "" {
		store, err := presence.OpenRedis(ctx, cfg.Presence.RedisURL, cfg.Presence.TTL)
		if err != nil {
			logger.Error(err, "redis presence unavailable, using memory")
			opts = append(opts, peer.WithPresence(presence.NewMemoryStore(cfg.Presence.TTL)))
		} else {
			defer store.Close()
			logger.Info("presence backed by redis")
			opts = append(opts, peer.WithPresence(store))
		}
	} else {
		opts = append(opts, peer.WithPresence(presence.NewMemoryStore(cfg.Presence.TTL)))
	}

	if cfg.Journal.DSN != "" {
		j, err := journal.Open(ctx, cfg.Journal.DSN)
		if err != nil {
			logger.Error(err, "journal disabled")
		} else {
			defer j.Close()
			logger.Info("journaling envelopes to postgres")
			opts = append(opts, peer.WithJournal(j))
		}
	}

	server := peer.NewServer(opts...)
	defer server.Close()

	srv := &http.Server{
		Addr:              cfg.PeerAddr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("peer listening", "addr", srv.Addr)
	if err := runServer(ctx, srv, server); err != nil {
		logger.Error(err, "server error")
		return 1
	}
	logger.Info("peer stopped")
	return 0
}

func runServer(ctx context.Context, srv *http.Server, server *peer.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		// Hijacked page sockets are not tracked by Shutdown.
		server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
