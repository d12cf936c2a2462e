package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Auth         AuthConfig
	Ingest       IngestConfig
	Cache        CacheConfig
	Aircall      AircallConfig
	WhatConverts WhatConvertsConfig
	ISN          ISNConfig
	ElevenLabs   ElevenLabsConfig
	LLM          LLMConfig
	Log          LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// URL is the base URL the CLI uses to reach a running server.
func (s ServerConfig) URL() string {
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

type StorageConfig struct {
	DataDir string
	// DSN selects Postgres when it is a postgres:// URL. Empty means the
	// SQLite database under DataDir.
	DSN string
}

// Target is the argument for storage.Open.
func (s StorageConfig) Target() string {
	if s.DSN != "" {
		return s.DSN
	}
	return s.DataDir
}

type AuthConfig struct {
	APIToken string
}

type IngestConfig struct {
	RequestTimeout        time.Duration
	PageSize              int
	MaxPages              int
	ScheduleInterval      time.Duration
	StaleRunAfter         time.Duration
	AllowUnsignedWebhooks bool
}

type CacheConfig struct {
	TTL time.Duration
	// FetchTimeout bounds one full multi-page connector pull behind a miss.
	FetchTimeout time.Duration
}

type AircallConfig struct {
	BaseURL      string
	APIID        string
	APIToken     string
	WebhookToken string
}

type WhatConvertsConfig struct {
	BaseURL      string
	APIKey       string
	WebhookToken string
}

type ISNConfig struct {
	BaseURL      string
	APIKey       string
	CompanyKey   string
	WebhookToken string
}

type ElevenLabsConfig struct {
	BaseURL string
	APIKey  string
	AgentID string
	VoiceID string
}

type LLMConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

type LogConfig struct {
	Level string
}

// ErrMissingAPIToken is returned by Load when no bearer token is configured.
var ErrMissingAPIToken = errors.New("missing required config: auth.api_token. " +
	"Set it via environment variable EXECDASH_API_TOKEN")

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ingest: IngestConfig{
			RequestTimeout:   30 * time.Second,
			PageSize:         100,
			MaxPages:         50,
			ScheduleInterval: 24 * time.Hour,
			StaleRunAfter:    6 * time.Hour,
		},
		Cache: CacheConfig{
			TTL:          30 * time.Second,
			FetchTimeout: 2 * time.Minute,
		},
		LLM: LLMConfig{
			BaseURL:   "https://openrouter.ai/api/v1",
			Model:     "anthropic/claude-3.5-sonnet",
			MaxTokens: 4096,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from defaults, the YAML file, and environment
// variables (EXECDASH_* and the legacy vendor names), in that order of
// precedence from lowest to highest. Secrets are read from the environment
// only. Load fails when auth.api_token is empty.
func Load() (Config, error) {
	cfg, err := LoadUnchecked()
	if err != nil {
		return Config{}, err
	}
	if cfg.Auth.APIToken == "" {
		return Config{}, ErrMissingAPIToken
	}
	return cfg, nil
}

// LoadUnchecked is Load without the required-key check, for commands that
// never serve or call the API.
func LoadUnchecked() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return cfg, nil
}

// FilePath is $EXECDASH_CONFIG, or config.yaml under the XDG config dir.
func FilePath() string {
	if p := os.Getenv("EXECDASH_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "execdash", "config.yaml")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "execdash-data"
		}
	}
	return filepath.Join(dir, "execdash")
}
