package config

import (
	"fmt"
	"os"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
)

// SignalConfig describes the signal-cli REST/WebSocket endpoint and
// the account the bot runs as.
type SignalConfig struct {
	// Service is the host:port of the signal-cli REST API container.
	Service string `json:"service"`
	// Number is the bot's own Signal number in E.164 form.
	Number string `json:"number"`
}

// StorageConfig locates the state backends.
type StorageConfig struct {
	// DBPath is the SQLite file holding the durable conversation state.
	DBPath string `json:"db_path"`
	// RedisAddr is the host:port of the shared cache. Empty disables
	// the warm tier.
	RedisAddr string `json:"redis_addr"`
}

// Config defines the global application configuration structure.
// It maps directly to the config.json file and holds business-level
// settings: the Signal account, model providers and storage locations.
type Config struct {
	// Signal configures the transport endpoint and account.
	Signal SignalConfig `json:"signal"`
	// LLM holds the provider group configuration in raw JSON.
	LLM jsoniter.RawMessage `json:"llm"`
	// Storage locates the durable database and the shared cache.
	Storage StorageConfig `json:"storage"`
	// SystemPrompt is the persona/instruction string sent to the model
	// with every generation.
	SystemPrompt string `json:"system_prompt"`
	// BotName is the display name users mention in gated group chats.
	BotName string `json:"bot_name"`
}

// Validate ensures the configuration contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	if c.Signal.Service == "" {
		return fmt.Errorf("mandatory 'signal.service' configuration is missing")
	}
	if c.Signal.Number == "" {
		return fmt.Errorf("mandatory 'signal.number' configuration is missing")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("mandatory 'storage.db_path' configuration is missing")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings live in system.json and control performance and
// reliability rather than business behavior.
type SystemConfig struct {
	// MaxSteps bounds the reasoning loop: the number of model calls
	// allowed per user message before the engine gives up.
	MaxSteps int `json:"max_steps"`
	// HistoryWindow is the number of transcript entries kept per
	// conversation.
	HistoryWindow int `json:"history_window"`
	// HotCacheSize is the capacity of the in-process context cache.
	HotCacheSize int `json:"hot_cache_size"`
	// Workers is the number of concurrent message processors.
	Workers int `json:"workers"`
	// QueueSize bounds the inbound message backlog.
	QueueSize int `json:"queue_size"`
	// MaxRetries is the number of retry attempts after a transient
	// model or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the initial backoff delay between retries, in
	// milliseconds.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for one whole reasoning loop,
	// in milliseconds.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// SearchTimeoutMs is the timeout for web search requests.
	SearchTimeoutMs int `json:"search_timeout_ms"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error".
	LogLevel string `json:"log_level"`
	// EnableMonitor toggles the terminal conversation monitor.
	EnableMonitor bool `json:"enable_monitor"`
}

// DefaultSystemConfig returns a SystemConfig with safe defaults. It is
// the fallback when system.json is missing or corrupt, so the engine
// can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxSteps:        10,
		HistoryWindow:   50,
		HotCacheSize:    100,
		Workers:         4,
		QueueSize:       100,
		MaxRetries:      3,
		RetryDelayMs:    500,
		LLMTimeoutMs:    600000,
		SearchTimeoutMs: 10000,
		LogLevel:        "info",
		EnableMonitor:   true,
	}
}

// SystemConfigRef publishes the live SystemConfig. Hot reloads swap
// whole values with Store; concurrent readers snapshot with Load and
// never observe a struct mid-mutation.
type SystemConfigRef struct {
	p atomic.Pointer[SystemConfig]
}

// NewSystemConfigRef wraps cfg as the initial value.
func NewSystemConfigRef(cfg *SystemConfig) *SystemConfigRef {
	r := &SystemConfigRef{}
	r.p.Store(cfg)
	return r
}

// Load returns the current snapshot. Callers must not mutate it.
func (r *SystemConfigRef) Load() *SystemConfig { return r.p.Load() }

// Store replaces the published configuration.
func (r *SystemConfigRef) Store(cfg *SystemConfig) { r.p.Store(cfg) }

// Load reads and parses the JSON configuration files from the current
// working directory. config.json is mandatory; system.json falls back
// to defaults when absent or unparsable.
func Load() (*Config, *SystemConfig, error) {
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returning defaults
// if the file is missing or fails to parse.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg
	}

	return cfg
}
