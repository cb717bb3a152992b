package config

import (
	"fmt"
	"time"

	"github.com/quizmill/quizmill/internal/extract"
)

// Config holds quizmill configuration.
// Stored at: ~/.quizmill/config.yaml
type Config struct {
	Server     ServerCfg     `mapstructure:"server" yaml:"server"`
	Store      StoreCfg      `mapstructure:"store" yaml:"store"`
	Ingest     IngestCfg     `mapstructure:"ingest" yaml:"ingest"`
	Extraction ExtractionCfg `mapstructure:"extraction" yaml:"extraction"`
	Client     ClientCfg     `mapstructure:"client" yaml:"client"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      string `mapstructure:"port" yaml:"port"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`   // "debug", "info", "warn", "error"
	LogFormat string `mapstructure:"log_format" yaml:"log_format"` // "text", "json"
}

// ListenAddr returns the host:port the server binds.
func (s ServerCfg) ListenAddr() string {
	return fmt.Sprintf("%s:%s", s.Host, s.Port)
}

// StoreCfg configures the SQLite job store.
type StoreCfg struct {
	StaleLockTimeout time.Duration `mapstructure:"stale_lock_timeout" yaml:"stale_lock_timeout"` // lock age before reclaim
	JobTTL           time.Duration `mapstructure:"job_ttl" yaml:"job_ttl"`                       // job lifetime from creation
	FailureCeiling   int           `mapstructure:"failure_ceiling" yaml:"failure_ceiling"`       // consecutive failures before abort
	SweepInterval    time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`         // expired-job sweep cadence
}

// IngestCfg configures document chunking.
type IngestCfg struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"` // pages per chunk
	Overlap   int `mapstructure:"overlap" yaml:"overlap"`       // pages shared by adjacent chunks
}

// EngineCfg configures one extraction engine.
type EngineCfg struct {
	Type      string   `mapstructure:"type" yaml:"type"`   // "openai", "gemini", "mock"
	Model     string   `mapstructure:"model" yaml:"model"` // model name
	APIKeys   []string `mapstructure:"api_keys" yaml:"api_keys"`
	BaseURL   string   `mapstructure:"base_url" yaml:"base_url,omitempty"`
	RateLimit int      `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per minute
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
}

// ExtractionCfg configures the extraction engine registry.
type ExtractionCfg struct {
	Default string               `mapstructure:"default" yaml:"default"`
	Engines map[string]EngineCfg `mapstructure:"engines" yaml:"engines"`
}

// ClientCfg configures the job-driving client side.
type ClientCfg struct {
	ServerURL      string        `mapstructure:"server_url" yaml:"server_url"`
	RetryBase      time.Duration `mapstructure:"retry_base" yaml:"retry_base"`
	RetryMax       time.Duration `mapstructure:"retry_max" yaml:"retry_max"`
	ChunkDelay     time.Duration `mapstructure:"chunk_delay" yaml:"chunk_delay"` // pause between chunks
	FailureCeiling int           `mapstructure:"failure_ceiling" yaml:"failure_ceiling"`
	SyncInterval   time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host:      "127.0.0.1",
			Port:      "8080",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Store: StoreCfg{
			StaleLockTimeout: 5 * time.Minute,
			JobTTL:           24 * time.Hour,
			FailureCeiling:   3,
			SweepInterval:    time.Hour,
		},
		Ingest: IngestCfg{
			ChunkSize: 10,
			Overlap:   2,
		},
		Extraction: ExtractionCfg{
			Default: "openai",
			Engines: map[string]EngineCfg{
				"openai": {
					Type:      "openai",
					Model:     "gpt-4o-mini",
					APIKeys:   []string{"${OPENAI_API_KEY}"},
					RateLimit: 60,
					Enabled:   true,
				},
				"gemini": {
					Type:      "gemini",
					Model:     "gemini-1.5-flash",
					APIKeys:   []string{"${GEMINI_API_KEY}"},
					RateLimit: 60,
					Enabled:   true,
				},
			},
		},
		Client: ClientCfg{
			ServerURL:      "http://127.0.0.1:8080",
			RetryBase:      2 * time.Second,
			RetryMax:       60 * time.Second,
			ChunkDelay:     time.Second,
			FailureCeiling: 3,
			SyncInterval:   30 * time.Second,
		},
	}
}

// GetEngine returns an engine config by name.
func (c *Config) GetEngine(name string) (EngineCfg, bool) {
	cfg, ok := c.Extraction.Engines[name]
	return cfg, ok
}

// EnabledEngines returns all enabled engine configs.
func (c *Config) EnabledEngines() map[string]EngineCfg {
	result := make(map[string]EngineCfg)
	for name, cfg := range c.Extraction.Engines {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// ToRegistryConfig converts the extraction section to a format suitable
// for extract.NewRegistryFromConfig. It resolves all ${ENV_VAR}
// references in API keys and drops keys that resolve to nothing, so an
// engine with no usable key stays unregistered.
func (c *Config) ToRegistryConfig() extract.RegistryConfig {
	cfg := extract.RegistryConfig{
		Default: c.Extraction.Default,
		Engines: make(map[string]extract.EngineConfig),
	}
	for name, eng := range c.Extraction.Engines {
		keys := make([]string, 0, len(eng.APIKeys))
		for _, key := range eng.APIKeys {
			if resolved := ResolveEnvVars(key); resolved != "" {
				keys = append(keys, resolved)
			}
		}
		cfg.Engines[name] = extract.EngineConfig{
			Type:      eng.Type,
			Model:     eng.Model,
			APIKeys:   keys,
			BaseURL:   eng.BaseURL,
			RateLimit: eng.RateLimit,
			Enabled:   eng.Enabled,
		}
	}
	return cfg
}
