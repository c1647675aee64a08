package config

import (
	"fmt"
	"strings"

	"github.com/harun/nocl/pkg/memory"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(kind, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("invalid %s: %s (must be one of: %s)", kind, value, strings.Join(valid, ", "))
}

// ValidateProject validates a project name
func (v *Validator) ValidateProject(project string) error {
	if strings.TrimSpace(project) == "" {
		return fmt.Errorf("project cannot be empty")
	}
	if strings.ContainsAny(project, `/\`) || strings.Contains(project, "..") {
		return fmt.Errorf("project %q cannot contain path separators", project)
	}
	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateBackend validates a memory backend name
func (v *Validator) ValidateBackend(backend string) error {
	return oneOf("memory backend", backend, memory.BackendSQLite, memory.BackendRedis, memory.BackendNone)
}

// ValidateProvider validates a summarizer provider name
func (v *Validator) ValidateProvider(provider string) error {
	return oneOf("summarizer provider", provider, "anthropic", "openai")
}

// ValidateTokenizer validates an assembler tokenizer name
func (v *Validator) ValidateTokenizer(tokenizer string) error {
	if tokenizer == "" {
		return nil
	}
	return oneOf("tokenizer", tokenizer, "heuristic", "tiktoken")
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateWindow validates compressor window settings
func (v *Validator) ValidateWindow(threshold, recent int) error {
	if recent <= 0 || recent >= threshold {
		return fmt.Errorf("compressor recent_window must be positive and below threshold, got %d/%d", recent, threshold)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	return oneOf("log level", level, "debug", "info", "warn", "error")
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(v.ValidateProject(cfg.Project))

	add(v.ValidateBackend(cfg.Memory.Backend))
	if cfg.Memory.Backend == memory.BackendRedis && cfg.Memory.RedisAddr == "" {
		add(fmt.Errorf("memory.redis_addr is required for the redis backend"))
	}
	if cfg.Memory.RedisDB < 0 {
		add(fmt.Errorf("memory.redis_db must be >= 0"))
	}
	if cfg.Memory.PruneSchedule != "" {
		if _, err := memory.ParseSchedule(cfg.Memory.PruneSchedule); err != nil {
			add(fmt.Errorf("memory.prune_schedule: %w", err))
		}
	}

	add(v.ValidateProvider(cfg.Summarizer.Provider))
	if cfg.Summarizer.APIKey != "" {
		add(v.ValidateAPIKey(cfg.Summarizer.APIKey, cfg.Summarizer.Provider))
	}
	if cfg.Summarizer.MaxTokens != 0 {
		add(v.ValidateMaxTokens(cfg.Summarizer.MaxTokens))
	}
	if cfg.Summarizer.MaxRetries < 0 {
		add(fmt.Errorf("summarizer.max_retries must be >= 0"))
	}

	add(v.ValidateMaxTokens(cfg.Assembler.MaxTokens))
	add(v.ValidateTokenizer(cfg.Assembler.Tokenizer))

	add(v.ValidateWindow(cfg.Compressor.Threshold, cfg.Compressor.RecentWindow))
	if cfg.Compressor.SummaryExpiryHours <= 0 {
		add(fmt.Errorf("compressor.summary_expiry_hours must be positive"))
	}
	if cfg.Compressor.MaxMessageChars <= 0 {
		add(fmt.Errorf("compressor.max_message_chars must be positive"))
	}

	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		add(fmt.Errorf("telemetry.sample_ratio must be between 0 and 1"))
	}

	add(v.ValidateLogLevel(cfg.Logging.Level))
	if cfg.Logging.MaxSize < 0 || cfg.Logging.MaxAge < 0 {
		add(fmt.Errorf("logging.max_size and logging.max_age must be >= 0"))
	}

	return errs
}
