package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/harun/nocl/internal/config"
	"github.com/harun/nocl/internal/logger"
	"github.com/harun/nocl/internal/observability"
	"github.com/harun/nocl/internal/tracing"
	"github.com/harun/nocl/pkg/agent"
	"github.com/harun/nocl/pkg/assembler"
	"github.com/harun/nocl/pkg/cachepolicy"
	"github.com/harun/nocl/pkg/compressor"
	"github.com/harun/nocl/pkg/coretools"
	"github.com/harun/nocl/pkg/memory"
	"github.com/harun/nocl/pkg/session"
	"github.com/harun/nocl/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// runtime is the set of components one command invocation works with
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	layer   *memory.Layer
	tracing bool
}

// loadConfig reads the config file and applies flag overrides
func (o *options) loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(o.cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if o.project != "" {
		cfg.Project = o.project
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, loader, nil
}

// open loads configuration and connects the memory layer. A backend that
// cannot be reached leaves the layer in mock mode.
func (o *options) open(ctx context.Context) (*runtime, error) {
	cfg, _, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	rt := &runtime{
		cfg:    cfg,
		log:    log,
		logger: log.Zerolog().With().Str("project", cfg.Project).Logger(),
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			rt.logger.Warn().Err(err).Msg("Audit log unavailable")
		}
	}
	if cfg.Telemetry.Tracing {
		if err := tracing.InitOpenTelemetry(cfg.Telemetry.ServiceName,
			tracing.WithServiceVersion(version),
			tracing.WithSampleRatio(cfg.Telemetry.SampleRatio),
		); err != nil {
			rt.logger.Warn().Err(err).Msg("Tracing unavailable")
		} else {
			rt.tracing = true
		}
	}

	rt.layer = rt.openLayer(ctx)
	return rt, nil
}

func (rt *runtime) openLayer(ctx context.Context) *memory.Layer {
	cfg := rt.cfg
	memLogger := rt.logger.With().Str("component", "memory").Logger()

	backend, err := memory.Open(memory.OpenConfig{
		Backend:   cfg.Memory.Backend,
		Project:   cfg.Project,
		DBPath:    cfg.MemoryDBPath(),
		RedisAddr: cfg.Memory.RedisAddr,
		RedisPass: cfg.Memory.RedisPassword,
		RedisDB:   cfg.Memory.RedisDB,
		Logger:    memLogger,
	})
	if err != nil {
		rt.logger.Warn().Err(err).Msg("Memory backend unavailable, running in mock mode")
		backend = nil
	}

	layer := memory.NewLayer(memory.LayerConfig{Project: cfg.Project, Backend: backend, Logger: memLogger})
	if err := layer.Initialize(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("Memory backend failed to initialize, running in mock mode")
		_ = layer.Close()
		layer = memory.NewLayer(memory.LayerConfig{Project: cfg.Project, Logger: memLogger})
		_ = layer.Initialize(ctx)
	}
	return layer
}

// newAgent wires an agent around the runtime's memory layer. Compression
// is enabled only when a summarizer API key is available.
func (rt *runtime) newAgent(workspace string) (*agent.Agent, error) {
	cfg := rt.cfg

	policy, err := cachepolicy.LoadFile(cfg.CachePolicy.File)
	if err != nil {
		return nil, err
	}

	est, err := assembler.NewEstimator(cfg.Assembler.Tokenizer, cfg.Assembler.Model)
	if err != nil {
		return nil, err
	}

	tools := toolexecutor.New(toolexecutor.Config{Logger: rt.logger.With().Str("component", "tools").Logger()})
	if workspace == "" {
		workspace = cfg.WorkspacePath
	}
	if workspace == "" {
		workspace = "."
	}
	if err := coretools.RegisterCoreTools(tools, coretools.Options{WorkspaceRoot: workspace}); err != nil {
		return nil, err
	}

	sessions, err := session.NewFileStore(cfg.SessionsDir(), rt.logger.With().Str("component", "sessions").Logger())
	if err != nil {
		return nil, err
	}

	var comp *compressor.Compressor
	if key := cfg.SummarizerAPIKey(); key != "" {
		summarizer, err := agent.NewSummarizer(cfg.Summarizer.Provider, key, cfg.Summarizer.Model, cfg.Summarizer.MaxTokens)
		if err != nil {
			return nil, err
		}
		comp, err = compressor.New(compressor.Config{
			Threshold:       cfg.Compressor.Threshold,
			RecentWindow:    cfg.Compressor.RecentWindow,
			SummaryExpiry:   cfg.SummaryExpiry(),
			MaxMessageChars: cfg.Compressor.MaxMessageChars,
			Logger:          rt.logger.With().Str("component", "compressor").Logger(),
		}, rt.layer, agent.WithRetry(summarizer, cfg.Summarizer.MaxRetries, rt.logger))
		if err != nil {
			return nil, err
		}
	} else {
		rt.logger.Warn().Str("provider", cfg.Summarizer.Provider).Msg("No summarizer API key configured, session compression disabled")
	}

	return agent.New(agent.Config{
		Memory:       rt.layer,
		Policy:       policy,
		Assembler:    assembler.New(cfg.Assembler.MaxTokens, est),
		Compressor:   comp,
		Sessions:     sessions,
		Tools:        tools,
		SystemPrompt: cfg.Assembler.SystemPrompt,
		Logger:       rt.logger.With().Str("component", "agent").Logger(),
	})
}

func (rt *runtime) close(ctx context.Context) {
	if err := rt.layer.Close(); err != nil {
		rt.logger.Warn().Err(err).Msg("Failed to close memory backend")
	}
	if rt.tracing {
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}
	_ = rt.log.Close()
}

// withRuntime opens a runtime for the duration of fn
func (o *options) withRuntime(ctx context.Context, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	ctx = tracing.NewRequestContext(ctx, rt.cfg.Project)
	return fn(ctx, rt)
}
