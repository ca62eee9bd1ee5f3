package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pagewire/pages/internal/protocol"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Client   ClientConfig   `yaml:"client"`
	Peer     PeerConfig     `yaml:"peer"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Presence PresenceConfig `yaml:"presence"`
	Journal  JournalConfig  `yaml:"journal"`
}

type ClientConfig struct {
	PageURL          string        `yaml:"page_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Scripts          bool          `yaml:"scripts"`
}

type PeerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
	MaxConnections int      `yaml:"max_connections"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type PresenceConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

func defaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			PageURL:          "http://127.0.0.1:8080/",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
			Scripts:          true,
		},
		Peer: PeerConfig{
			Host:       "127.0.0.1",
			Port:       8080,
			SendBuffer: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Presence: PresenceConfig{
			TTL: 24 * time.Hour,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := getEnv("PAGES_URL"); v != "" {
		c.Client.PageURL = v
	}
	if v := getEnv("PAGES_PEER_ADDR"); v != "" {
		host, port, err := splitAddr(v)
		if err != nil {
			return fmt.Errorf("invalid PAGES_PEER_ADDR value %q: %w", v, err)
		}
		if host != "" {
			c.Peer.Host = host
		}
		c.Peer.Port = port
	}
	if v := getEnv("PAGES_REDIS_URL"); v != "" {
		c.Presence.RedisURL = v
	}
	if v := getEnv("PAGES_JOURNAL_DSN"); v != "" {
		c.Journal.DSN = v
	}
	if v := getEnv("PAGES_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getEnv("PAGES_SCRIPTS"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PAGES_SCRIPTS value %q: %w", v, err)
		}
		c.Client.Scripts = enabled
	}
	return nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if _, err := protocol.SocketURL(c.Client.PageURL); err != nil {
		return fmt.Errorf("client.page_url: %w", err)
	}
	if c.Peer.Port <= 0 || c.Peer.Port > 65535 {
		return fmt.Errorf("peer.port: %d out of range", c.Peer.Port)
	}
	if c.Peer.SendBuffer <= 0 {
		return fmt.Errorf("peer.send_buffer: must be positive, got %d", c.Peer.SendBuffer)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

// PeerAddr returns the host:port the peer listens on.
func (c *Config) PeerAddr() string {
	return fmt.Sprintf("%s:%d", c.Peer.Host, c.Peer.Port)
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// splitAddr accepts "8080", ":8080" or "host:8080".
func splitAddr(v string) (string, int, error) {
	host, portStr := "", v
	if i := strings.LastIndex(v, ":"); i >= 0 {
		host, portStr = v[:i], v[i+1:]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
