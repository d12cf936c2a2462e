package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key string
	typ keyType
	env string
	// legacy lists older environment names, consulted when env is unset.
	legacy  []string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "EXECDASH_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "EXECDASH_SERVER_PORT", legacy: []string{"PORT"},
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "EXECDASH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.dsn", typ: kString, env: "EXECDASH_STORAGE_DSN", legacy: []string{"DATABASE_URL"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DSN },
	},
	{
		key: "auth.api_token", typ: kString, env: "EXECDASH_API_TOKEN", legacy: []string{"CRON_SECRET"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.APIToken },
	},
	{
		key: "ingest.request_timeout", typ: kDuration, env: "EXECDASH_INGEST_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ingest.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.RequestTimeout },
	},
	{
		key: "ingest.page_size", typ: kInt, env: "EXECDASH_INGEST_PAGE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.PageSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.PageSize },
	},
	{
		key: "ingest.max_pages", typ: kInt, env: "EXECDASH_INGEST_MAX_PAGES",
		apply:   func(cfg *Config, v any) { cfg.Ingest.MaxPages = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.MaxPages },
	},
	{
		key: "ingest.schedule_interval", typ: kDuration, env: "EXECDASH_INGEST_SCHEDULE_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ScheduleInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.ScheduleInterval },
	},
	{
		key: "ingest.stale_run_after", typ: kDuration, env: "EXECDASH_INGEST_STALE_RUN_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Ingest.StaleRunAfter = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.StaleRunAfter },
	},
	{
		key: "ingest.allow_unsigned_webhooks", typ: kBool, env: "EXECDASH_INGEST_ALLOW_UNSIGNED_WEBHOOKS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.AllowUnsignedWebhooks = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ingest.AllowUnsignedWebhooks },
	},
	{
		key: "cache.ttl", typ: kDuration, env: "EXECDASH_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TTL },
	},
	{
		key: "cache.fetch_timeout", typ: kDuration, env: "EXECDASH_CACHE_FETCH_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Cache.FetchTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.FetchTimeout },
	},
	{
		key: "aircall.base_url", typ: kString, env: "EXECDASH_AIRCALL_BASE_URL", legacy: []string{"AIRCALL_BASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.Aircall.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Aircall.BaseURL },
	},
	{
		key: "aircall.api_id", typ: kString, env: "EXECDASH_AIRCALL_API_ID", legacy: []string{"AIRCALL_API_ID"},
		apply:   func(cfg *Config, v any) { cfg.Aircall.APIID = v.(string) },
		extract: func(cfg Config) any { return cfg.Aircall.APIID },
	},
	{
		key: "aircall.api_token", typ: kString, env: "EXECDASH_AIRCALL_API_TOKEN", legacy: []string{"AIRCALL_API_TOKEN"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Aircall.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Aircall.APIToken },
	},
	{
		key: "aircall.webhook_token", typ: kString, env: "EXECDASH_AIRCALL_WEBHOOK_TOKEN", legacy: []string{"AIRCALL_WEBHOOK_TOKEN"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Aircall.WebhookToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Aircall.WebhookToken },
	},
	{
		key: "whatconverts.base_url", typ: kString, env: "EXECDASH_WHATCONVERTS_BASE_URL", legacy: []string{"WHATCONVERTS_BASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.WhatConverts.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.WhatConverts.BaseURL },
	},
	{
		key: "whatconverts.api_key", typ: kString, env: "EXECDASH_WHATCONVERTS_API_KEY", legacy: []string{"WHATCONVERTS_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.WhatConverts.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.WhatConverts.APIKey },
	},
	{
		key: "whatconverts.webhook_token", typ: kString, env: "EXECDASH_WHATCONVERTS_WEBHOOK_TOKEN", legacy: []string{"WHATCONVERTS_WEBHOOK_TOKEN"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.WhatConverts.WebhookToken = v.(string) },
		extract: func(cfg Config) any { return cfg.WhatConverts.WebhookToken },
	},
	{
		key: "isn.base_url", typ: kString, env: "EXECDASH_ISN_BASE_URL", legacy: []string{"ISN_BASE_URL"},
		apply:   func(cfg *Config, v any) { cfg.ISN.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.ISN.BaseURL },
	},
	{
		key: "isn.api_key", typ: kString, env: "EXECDASH_ISN_API_KEY", legacy: []string{"ISN_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ISN.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.ISN.APIKey },
	},
	{
		key: "isn.company_key", typ: kString, env: "EXECDASH_ISN_COMPANY_KEY", legacy: []string{"ISN_COMPANY_KEY"},
		apply:   func(cfg *Config, v any) { cfg.ISN.CompanyKey = v.(string) },
		extract: func(cfg Config) any { return cfg.ISN.CompanyKey },
	},
	{
		key: "isn.webhook_token", typ: kString, env: "EXECDASH_ISN_WEBHOOK_TOKEN", legacy: []string{"ISN_WEBHOOK_TOKEN"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ISN.WebhookToken = v.(string) },
		extract: func(cfg Config) any { return cfg.ISN.WebhookToken },
	},
	{
		key: "elevenlabs.base_url", typ: kString, env: "EXECDASH_ELEVENLABS_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.ElevenLabs.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.ElevenLabs.BaseURL },
	},
	{
		key: "elevenlabs.api_key", typ: kString, env: "EXECDASH_ELEVENLABS_API_KEY", legacy: []string{"ELEVENLABS_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.ElevenLabs.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.ElevenLabs.APIKey },
	},
	{
		key: "elevenlabs.agent_id", typ: kString, env: "EXECDASH_ELEVENLABS_AGENT_ID", legacy: []string{"ELEVENLABS_AGENT_ID"},
		apply:   func(cfg *Config, v any) { cfg.ElevenLabs.AgentID = v.(string) },
		extract: func(cfg Config) any { return cfg.ElevenLabs.AgentID },
	},
	{
		key: "elevenlabs.voice_id", typ: kString, env: "EXECDASH_ELEVENLABS_VOICE_ID", legacy: []string{"ELEVENLABS_VOICE_ID"},
		apply:   func(cfg *Config, v any) { cfg.ElevenLabs.VoiceID = v.(string) },
		extract: func(cfg Config) any { return cfg.ElevenLabs.VoiceID },
	},
	{
		key: "llm.base_url", typ: kString, env: "EXECDASH_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "EXECDASH_LLM_API_KEY", legacy: []string{"OPENROUTER_API_KEY"},
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.model", typ: kString, env: "EXECDASH_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "EXECDASH_LLM_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "log.level", typ: kString, env: "EXECDASH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool, kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

// lookupEnv returns the first non-empty value among the key's env var and
// its legacy names.
func (s keySpec) lookupEnv() (name, value string) {
	for _, n := range append([]string{s.env}, s.legacy...) {
		if v := os.Getenv(n); v != "" {
			return n, v
		}
	}
	return "", ""
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.lookupEnv()
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
