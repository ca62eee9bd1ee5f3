package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/pagewire/pages/internal/app"
	"github.com/pagewire/pages/internal/client"
	"github.com/pagewire/pages/internal/config"
	"github.com/pagewire/pages/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	pageURL := flag.String("url", "", "Page URL to open (overrides config)")
	logPath := flag.String("log", "", "Also write session logs to this file")
	metricsAddr := flag.String("metrics-addr", "", "Serve session metrics on this address, e.g. :9101")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *pageURL != "" {
		cfg.Client.PageURL = *pageURL
	}

	bridge := app.NewBridge(0)

	// The alt screen owns the terminal, so session logs reach the event log
	// through the bridge and, with -log, a file.
	var logger telemetry.Logger = bridge.Logger()
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		defer f.Close()
		fileLogger := telemetry.NewLogger(f, cfg.Log.Format, cfg.Log.Level)
		fileLogger.Slog().Info("terminal page starting", "url", cfg.Client.PageURL)
		logger = telemetry.Tee(fileLogger, logger)
	}

	opts := append(bridge.Options(),
		client.WithLogger(logger),
		client.WithScripts(cfg.Client.Scripts),
		client.WithWriteTimeout(cfg.Client.WriteTimeout),
		client.WithDialer(&websocket.Dialer{HandshakeTimeout: cfg.Client.HandshakeTimeout}),
	)

	if *metricsAddr != "" && cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts = append(opts, client.WithMetrics(telemetry.NewPageMetrics(reg, nil)))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, telemetry.Handler(reg)); err != nil {
				logger.Error(err, "metrics listener stopped", "addr", *metricsAddr)
			}
		}()
	}

	session, err := client.New(cfg.Client.PageURL, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	p := tea.NewProgram(app.New(session, bridge), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
