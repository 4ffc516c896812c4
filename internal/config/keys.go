package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "APPLYD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "APPLYD_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "driver.base_url", typ: kString, env: "APPLYD_DRIVER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Driver.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Driver.BaseURL },
	},
	{
		key: "oracle.openrouter_api_key", typ: kString, env: "APPLYD_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Oracle.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.OpenRouterAPIKey },
	},
	{
		key: "oracle.model", typ: kString, env: "APPLYD_ORACLE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Oracle.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Oracle.Model },
	},
	{
		key: "storage.data_dir", typ: kString, env: "APPLYD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "apply.artifacts_dir", typ: kString, env: "APPLYD_APPLY_ARTIFACTS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Apply.ArtifactsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Apply.ArtifactsDir },
	},
	{
		key: "apply.mode", typ: kString, env: "APPLYD_APPLY_MODE",
		apply:   func(cfg *Config, v any) { cfg.Apply.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Apply.Mode },
	},
	{
		key: "queue.poll_interval", typ: kString, env: "APPLYD_QUEUE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Queue.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Queue.PollInterval },
	},
	{
		key: "log.level", typ: kString, env: "APPLYD_LOG_LEVEL",
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
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
