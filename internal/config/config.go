package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// DefaultProject is the memory project used when none is configured
const DefaultProject = "openclaw"

// Config represents the main nocl configuration
type Config struct {
	// Project scopes every memory record
	Project string `json:"project" mapstructure:"project"`

	// Data directory for databases, sessions and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace exposed to the built-in file tools
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`

	Memory      MemoryConfig      `json:"memory" mapstructure:"memory"`
	Summarizer  SummarizerConfig  `json:"summarizer" mapstructure:"summarizer"`
	Assembler   AssemblerConfig   `json:"assembler" mapstructure:"assembler"`
	Compressor  CompressorConfig  `json:"compressor" mapstructure:"compressor"`
	CachePolicy CachePolicyConfig `json:"cache_policy" mapstructure:"cache_policy"`
	Sessions    SessionsConfig    `json:"sessions" mapstructure:"sessions"`
	Telemetry   TelemetryConfig   `json:"telemetry" mapstructure:"telemetry"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
}

// MemoryConfig selects and configures the memory backend
type MemoryConfig struct {
	Backend       string `json:"backend" mapstructure:"backend"` // sqlite, redis, none
	DBPath        string `json:"db_path" mapstructure:"db_path"`
	RedisAddr     string `json:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `json:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `json:"redis_db" mapstructure:"redis_db"`
	PruneSchedule string `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// SummarizerConfig holds the LLM used for session compression
type SummarizerConfig struct {
	Provider   string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey     string `json:"api_key" mapstructure:"api_key"`
	Model      string `json:"model" mapstructure:"model"`
	MaxTokens  int    `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries int    `json:"max_retries" mapstructure:"max_retries"`
}

// AssemblerConfig holds the context budget
type AssemblerConfig struct {
	MaxTokens    int    `json:"max_tokens" mapstructure:"max_tokens"`
	Tokenizer    string `json:"tokenizer" mapstructure:"tokenizer"` // heuristic, tiktoken
	Model        string `json:"model" mapstructure:"model"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
}

// CompressorConfig holds session compression settings
type CompressorConfig struct {
	Threshold          int `json:"threshold" mapstructure:"threshold"`
	RecentWindow       int `json:"recent_window" mapstructure:"recent_window"`
	SummaryExpiryHours int `json:"summary_expiry_hours" mapstructure:"summary_expiry_hours"`
	MaxMessageChars    int `json:"max_message_chars" mapstructure:"max_message_chars"`
}

// CachePolicyConfig points at an optional tool policy file
type CachePolicyConfig struct {
	File string `json:"file" mapstructure:"file"`
}

// SessionsConfig holds conversation storage settings
type SessionsConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// TelemetryConfig holds tracing and metrics settings
type TelemetryConfig struct {
	Tracing     bool   `json:"tracing" mapstructure:"tracing"`
	ServiceName string `json:"service_name" mapstructure:"service_name"`
	MetricsAddr string `json:"metrics_addr" mapstructure:"metrics_addr"`
	// SampleRatio is the fraction of root traces recorded, in [0,1]
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Project: DefaultProject,
		Memory: MemoryConfig{
			Backend:       "sqlite",
			RedisAddr:     "localhost:6379",
			PruneSchedule: "@every 1h",
		},
		Summarizer: SummarizerConfig{
			Provider:   "anthropic",
			MaxTokens:  512,
			MaxRetries: 3,
		},
		Assembler: AssemblerConfig{
			MaxTokens: 1500,
			Tokenizer: "heuristic",
		},
		Compressor: CompressorConfig{
			Threshold:          20,
			RecentWindow:       5,
			SummaryExpiryHours: 48,
			MaxMessageChars:    300,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "nocl",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:     "warn",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// MemoryDBPath returns the SQLite path, keyed by project when not set explicitly
func (c *Config) MemoryDBPath() string {
	if c.Memory.DBPath != "" {
		return c.Memory.DBPath
	}
	return filepath.Join(c.DataDir, c.Project+"_memory.db")
}

// SessionsDir returns the directory holding conversation files
func (c *Config) SessionsDir() string {
	if c.Sessions.Dir != "" {
		return c.Sessions.Dir
	}
	return filepath.Join(c.DataDir, "sessions")
}

// SummaryExpiry returns the compressor summary lifetime
func (c *Config) SummaryExpiry() time.Duration {
	return time.Duration(c.Compressor.SummaryExpiryHours) * time.Hour
}

// SummarizerAPIKey returns the configured key, falling back to the
// provider's conventional environment variable.
func (c *Config) SummarizerAPIKey() string {
	if c.Summarizer.APIKey != "" {
		return c.Summarizer.APIKey
	}
	switch c.Summarizer.Provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Summarizer.APIKey != "" {
		masked.Summarizer.APIKey = "********"
	}
	if masked.Memory.RedisPassword != "" {
		masked.Memory.RedisPassword = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
