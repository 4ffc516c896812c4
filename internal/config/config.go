package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Driver  DriverConfig
	Oracle  OracleConfig
	Storage StorageConfig
	Apply   ApplyConfig
	Queue   QueueConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type DriverConfig struct {
	BaseURL string
}

type OracleConfig struct {
	OpenRouterAPIKey string
	Model            string
}

type StorageConfig struct {
	DataDir string
}

type ApplyConfig struct {
	ArtifactsDir string
	Mode         string // "auto" or "confirm"
}

type QueueConfig struct {
	PollInterval string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4004,
		},
		Driver: DriverConfig{
			BaseURL: "http://localhost:4444",
		},
		Oracle: OracleConfig{
			Model: "anthropic/claude-3.5-haiku",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Apply: ApplyConfig{
			ArtifactsDir: filepath.Join(dataDir, "artifacts"),
			Mode:         "auto",
		},
		Queue: QueueConfig{
			PollInterval: "5s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.swipeapply.applyd) and
// secrets fall back to macOS Keychain. On Linux the backend is a JSON file at
// $XDG_CONFIG_HOME/applyd/config.json and secrets come from a file at
// $XDG_DATA_HOME/applyd/secrets.json.
//
// Environment variables (APPLYD_*) override backend values on all platforms.
//
// The OpenRouter API key is optional: without it the daemon still runs, but
// answer synthesis is disabled and unanswerable fields stay empty.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret-store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for secrets still unset.
	if cfg.Server.Token == "" {
		if tok, err := kc.Get("applyd", "server_token"); err == nil && tok != "" {
			cfg.Server.Token = tok
		}
	}
	if cfg.Oracle.OpenRouterAPIKey == "" {
		if key, err := kc.Get("applyd", "openrouter_api_key"); err == nil && key != "" {
			cfg.Oracle.OpenRouterAPIKey = key
		}
	}

	if cfg.Server.Token == "" {
		msg := "missing required config: server API token. " +
			"Set it via environment variable APPLYD_SERVER_TOKEN" +
			secretHint("server_token")
		return Config{}, fmt.Errorf("%s", msg)
	}

	if cfg.Apply.Mode != "auto" && cfg.Apply.Mode != "confirm" {
		return Config{}, fmt.Errorf("invalid apply.mode %q: must be auto or confirm", cfg.Apply.Mode)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
