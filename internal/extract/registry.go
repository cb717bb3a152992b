package extract

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds extraction engines keyed by name. It supports
// config-driven instantiation, hot reload, and thread-safe access.
type Registry struct {
	mu          sync.RWMutex
	engines     map[string]Engine
	defaultName string
	logger      *slog.Logger
}

// NewRegistry creates a new empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers an engine by name.
func (r *Registry) Register(name string, engine Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = engine
	if r.defaultName == "" {
		r.defaultName = name
	}
	if r.logger != nil {
		r.logger.Info("registered extraction engine", "name", name, "model", engine.Model())
	}
}

// Unregister removes an engine by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, name)
	if r.logger != nil {
		r.logger.Info("unregistered extraction engine", "name", name)
	}
}

// Get returns an engine by name. An empty name resolves to the default
// engine.
func (r *Registry) Get(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	engine, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("extraction engine not found: %s", name)
	}
	return engine, nil
}

// Has checks if an engine is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.engines[name]
	return ok
}

// Names returns all registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the default engine name.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// SetDefault sets the default engine name.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// EngineConfig defines one engine to instantiate from config.
type EngineConfig struct {
	Type      string   // "openai", "gemini", "mock"
	Model     string   // Model name
	APIKeys   []string // Resolved API keys, rotated round-robin
	BaseURL   string   // Optional API base override (openai-compatible hosts)
	RateLimit int      // Requests per minute
	Enabled   bool
}

// RegistryConfig defines the engines to instantiate from config.
type RegistryConfig struct {
	Default string
	Engines map[string]EngineConfig
}

// NewRegistryFromConfig creates a registry with engines based on
// configuration. Only enabled engines with at least one API key are
// registered (the mock engine needs no key).
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.applyConfig(cfg)
	return r
}

// Reload updates the registry based on new configuration. Engines no
// longer configured are unregistered; engines with changed settings are
// recreated.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, engCfg := range cfg.Engines {
		if !usable(engCfg) {
			continue
		}
		want[name] = true

		existing, hasExisting := r.engines[name]
		if !hasExisting || needsUpdate(existing, engCfg) {
			engine := createEngine(engCfg)
			if engine != nil {
				r.engines[name] = engine
				if r.logger != nil {
					if hasExisting {
						r.logger.Info("updated extraction engine", "name", name, "type", engCfg.Type)
					} else {
						r.logger.Info("registered extraction engine", "name", name, "type", engCfg.Type)
					}
				}
			}
		}
	}

	for name := range r.engines {
		if !want[name] {
			delete(r.engines, name)
			if r.logger != nil {
				r.logger.Info("unregistered extraction engine", "name", name)
			}
		}
	}

	if cfg.Default != "" {
		r.defaultName = cfg.Default
	}
	if _, ok := r.engines[r.defaultName]; !ok {
		for _, name := range sortedKeys(r.engines) {
			r.defaultName = name
			break
		}
	}
}

// applyConfig applies configuration without locking (used during init).
func (r *Registry) applyConfig(cfg RegistryConfig) {
	for name, engCfg := range cfg.Engines {
		if !usable(engCfg) {
			continue
		}
		engine := createEngine(engCfg)
		if engine != nil {
			r.engines[name] = engine
		}
	}
	r.defaultName = cfg.Default
	if _, ok := r.engines[r.defaultName]; !ok {
		for _, name := range sortedKeys(r.engines) {
			r.defaultName = name
			break
		}
	}
}

func usable(cfg EngineConfig) bool {
	if !cfg.Enabled {
		return false
	}
	if cfg.Type == "mock" {
		return true
	}
	return len(cfg.APIKeys) > 0
}

// createEngine creates an engine based on its type.
func createEngine(cfg EngineConfig) Engine {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEngine(OpenAIConfig{
			Keys:      NewKeyRing(cfg.APIKeys...),
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
			BaseURL:   cfg.BaseURL,
		})
	case "gemini":
		return NewGeminiEngine(GeminiConfig{
			Keys:      NewKeyRing(cfg.APIKeys...),
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
		})
	case "mock":
		return NewMockEngine()
	default:
		return nil
	}
}

// needsUpdate checks if an engine must be recreated for new config.
func needsUpdate(engine Engine, cfg EngineConfig) bool {
	switch e := engine.(type) {
	case *OpenAIEngine:
		return cfg.Type != "openai" ||
			e.model != cfg.Model ||
			e.baseURL != cfg.BaseURL ||
			!sameKeys(e.keys, cfg.APIKeys) ||
			e.limiter.Limit() != effectiveLimit(cfg.RateLimit)
	case *GeminiEngine:
		return cfg.Type != "gemini" ||
			e.model != cfg.Model ||
			!sameKeys(e.keys, cfg.APIKeys) ||
			e.limiter.Limit() != effectiveLimit(cfg.RateLimit)
	case *MockEngine:
		return cfg.Type != "mock"
	default:
		return true
	}
}

func effectiveLimit(rpm int) int {
	if rpm <= 0 {
		return 60
	}
	return rpm
}

func sameKeys(ring *KeyRing, keys []string) bool {
	want := NewKeyRing(keys...)
	a, b := ring.Keys(), want.Keys()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]Engine) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
