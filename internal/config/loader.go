package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. NOCL_MEMORY_BACKEND
const EnvPrefix = "NOCL"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// newViper returns a viper instance seeded with every default so that
// environment overrides reach keys absent from the config file.
func newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	d := DefaultConfig()
	defaults := map[string]interface{}{
		"project":                         d.Project,
		"data_dir":                        d.DataDir,
		"workspace_path":                  d.WorkspacePath,
		"memory.backend":                  d.Memory.Backend,
		"memory.db_path":                  d.Memory.DBPath,
		"memory.redis_addr":               d.Memory.RedisAddr,
		"memory.redis_password":           d.Memory.RedisPassword,
		"memory.redis_db":                 d.Memory.RedisDB,
		"memory.prune_schedule":           d.Memory.PruneSchedule,
		"summarizer.provider":             d.Summarizer.Provider,
		"summarizer.api_key":              d.Summarizer.APIKey,
		"summarizer.model":                d.Summarizer.Model,
		"summarizer.max_tokens":           d.Summarizer.MaxTokens,
		"summarizer.max_retries":          d.Summarizer.MaxRetries,
		"assembler.max_tokens":            d.Assembler.MaxTokens,
		"assembler.tokenizer":             d.Assembler.Tokenizer,
		"assembler.model":                 d.Assembler.Model,
		"assembler.system_prompt":         d.Assembler.SystemPrompt,
		"compressor.threshold":            d.Compressor.Threshold,
		"compressor.recent_window":        d.Compressor.RecentWindow,
		"compressor.summary_expiry_hours": d.Compressor.SummaryExpiryHours,
		"compressor.max_message_chars":    d.Compressor.MaxMessageChars,
		"cache_policy.file":               d.CachePolicy.File,
		"sessions.dir":                    d.Sessions.Dir,
		"telemetry.tracing":               d.Telemetry.Tracing,
		"telemetry.service_name":          d.Telemetry.ServiceName,
		"telemetry.metrics_addr":          d.Telemetry.MetricsAddr,
		"telemetry.sample_ratio":          d.Telemetry.SampleRatio,
		"logging.level":                   d.Logging.Level,
		"logging.file":                    d.Logging.File,
		"logging.max_size":                d.Logging.MaxSize,
		"logging.max_age":                 d.Logging.MaxAge,
		"logging.compress":                d.Logging.Compress,
		"logging.redaction":               d.Logging.Redaction,
		"logging.audit_file":              d.Logging.AuditFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load loads the configuration from file and environment. A missing file
// yields the defaults with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	v := newViper(configPath)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("project", cfg.Project)
	v.Set("data_dir", cfg.DataDir)
	v.Set("workspace_path", cfg.WorkspacePath)
	v.Set("memory", cfg.Memory)
	v.Set("summarizer", cfg.Summarizer)
	v.Set("assembler", cfg.Assembler)
	v.Set("compressor", cfg.Compressor)
	v.Set("cache_policy", cfg.CachePolicy)
	v.Set("sessions", cfg.Sessions)
	v.Set("telemetry", cfg.Telemetry)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(configPath, 0600)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	p, _ := l.path()
	return p
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".nocl", "nocl.json"), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
