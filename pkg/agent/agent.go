package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/nocl/internal/observability"
	"github.com/harun/nocl/internal/tracing"
	"github.com/harun/nocl/pkg/assembler"
	"github.com/harun/nocl/pkg/cachepolicy"
	"github.com/harun/nocl/pkg/compressor"
	"github.com/harun/nocl/pkg/memory"
	"github.com/harun/nocl/pkg/router"
	"github.com/harun/nocl/pkg/session"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// TaskOutcomeExpiry is the lifetime of task completion records
const TaskOutcomeExpiry = 72 * time.Hour

// ErrNoToolCaller is returned by SmartToolCall when no tool backend is configured
var ErrNoToolCaller = errors.New("no tool caller configured")

// Agent wires routing, caching, context assembly and compression around
// a memory layer.
type Agent struct {
	memory       *memory.Layer
	policy       *cachepolicy.Policy
	router       *router.Router
	assembler    *assembler.Assembler
	compressor   *compressor.Compressor
	sessions     session.Store
	tools        ToolCaller
	retriever    Retriever
	systemPrompt string
	logger       zerolog.Logger

	sessionMu    sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// Config holds agent collaborators. Only Memory is required.
type Config struct {
	Memory     *memory.Layer
	Policy     *cachepolicy.Policy
	Router     *router.Router
	Assembler  *assembler.Assembler
	Compressor *compressor.Compressor // nil disables compression
	Sessions   session.Store
	Tools      ToolCaller
	Retriever  Retriever
	// SystemPrompt is always placed first in assembled context
	SystemPrompt string
	Logger       zerolog.Logger
}

// New creates an agent
func New(cfg Config) (*Agent, error) {
	observability.EnsureRegistered()

	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory layer is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = cachepolicy.Default()
	}
	if cfg.Router == nil {
		cfg.Router = router.New()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = assembler.New(assembler.DefaultMaxTokens, nil)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewMemoryStore()
	}

	return &Agent{
		memory:       cfg.Memory,
		policy:       cfg.Policy,
		router:       cfg.Router,
		assembler:    cfg.Assembler,
		compressor:   cfg.Compressor,
		sessions:     cfg.Sessions,
		tools:        cfg.Tools,
		retriever:    cfg.Retriever,
		systemPrompt: cfg.SystemPrompt,
		logger:       cfg.Logger,
		sessionLocks: make(map[string]*sync.Mutex),
	}, nil
}

// SmartToolCall serves a tool call from the memory cache when the policy
// allows it and a confident match exists, otherwise calls the tool and
// caches the output for the tool's TTL.
func (a *Agent) SmartToolCall(ctx context.Context, tool string, args map[string]interface{}) (ToolOutcome, error) {
	ctx = tracing.WithTool(ctx, tool)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.smart_tool_call",
		attribute.String("tool", tool),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, a.logger)

	cacheable := a.policy.IsCacheable(tool)
	if cacheable {
		threshold := a.policy.ConfidenceThreshold(tool)
		cached, hit, err := a.memory.GetCachedToolResult(ctx, tool, args, threshold)
		switch {
		case err != nil:
			// a failed lookup degrades to a live call
			observability.RecordCacheLookup(tool, "error")
			logger.Warn().Err(err).Msg("Tool cache lookup failed")
		case hit:
			observability.RecordCacheLookup(tool, "hit")
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return ToolOutcome{Output: cached, CacheHit: true}, nil
		default:
			observability.RecordCacheLookup(tool, "miss")
		}
	} else {
		observability.RecordCacheLookup(tool, "bypass")
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	if a.tools == nil {
		tracing.FailSpan(span, ErrNoToolCaller)
		return ToolOutcome{}, ErrNoToolCaller
	}

	start := time.Now()
	output, err := a.tools.Call(ctx, tool, args)
	observability.RecordToolCall(tool, time.Since(start), err == nil)
	if err != nil {
		tracing.FailSpan(span, err)
		return ToolOutcome{}, fmt.Errorf("tool %s failed: %w", tool, err)
	}

	if ttl := a.policy.CacheTTL(tool); cacheable && ttl > 0 {
		if err := a.memory.CacheToolResult(ctx, tool, args, output, ttl); err != nil {
			logger.Warn().Err(err).Msg("Failed to cache tool result")
		}
	}

	return ToolOutcome{Output: output}, nil
}

// BuildContext routes task and assembles memory and document context for it
// within the assembler's budget.
//
// Block priorities: the system prompt is 1, a confident neural match is 2,
// traditional retrieval is 3 and a neural match below the routing
// threshold is 4. Single-source decisions only gather their own source;
// TOOL_CALL keeps a neural match only when it clears the threshold.
func (a *Agent) BuildContext(ctx context.Context, task string) (ContextResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.build_context")
	defer span.End()

	decision := a.router.Route(task)
	observability.RecordRoutingDecision(string(decision.Source))
	span.SetAttributes(attribute.String("source", string(decision.Source)))

	var blocks []assembler.ContextBlock
	if a.systemPrompt != "" {
		blocks = append(blocks, a.assembler.Block(assembler.SourceSystem, a.systemPrompt, 1))
	}

	fail := func(err error) (ContextResult, error) {
		tracing.FailSpan(span, err)
		return ContextResult{}, err
	}

	switch decision.Source {
	case router.SourceNeural, router.SourceToolCall:
		res, err := a.neural(ctx, task)
		if err != nil {
			return fail(err)
		}
		if res != nil && res.Confidence >= decision.ConfidenceThreshold {
			blocks = append(blocks, a.assembler.Block(assembler.SourceNeural, res.Context, 2))
		}

	case router.SourceTraditional:
		doc, err := a.traditional(ctx, task)
		if err != nil {
			return fail(err)
		}
		if doc != "" {
			blocks = append(blocks, a.assembler.Block(assembler.SourceTraditional, doc, 3))
		}

	default:
		res, err := a.neural(ctx, task)
		if err != nil {
			return fail(err)
		}
		if res != nil {
			priority := 4
			if res.Confidence >= decision.ConfidenceThreshold {
				priority = 2
			}
			blocks = append(blocks, a.assembler.Block(assembler.SourceNeural, res.Context, priority))
		}

		doc, err := a.traditional(ctx, task)
		if err != nil {
			return fail(err)
		}
		if doc != "" {
			blocks = append(blocks, a.assembler.Block(assembler.SourceTraditional, doc, 3))
		}
	}

	text := a.assembler.Assemble(blocks)
	tokens := 0
	if text != "" {
		tokens = assembler.EstimateTokens(text)
	}
	observability.RecordContextTokens(tokens)

	return ContextResult{
		Decision: decision,
		Blocks:   blocks,
		Text:     text,
		Tokens:   tokens,
	}, nil
}

func (a *Agent) neural(ctx context.Context, task string) (*memory.QueryResult, error) {
	res, err := a.memory.Query(ctx, task, memory.DefaultDepth)
	if err != nil {
		return nil, fmt.Errorf("neural retrieval failed: %w", err)
	}
	if res == nil || res.Context == "" {
		return nil, nil
	}
	return res, nil
}

func (a *Agent) traditional(ctx context.Context, task string) (string, error) {
	if a.retriever == nil {
		return "", nil
	}
	doc, err := a.retriever.Retrieve(ctx, task)
	if err != nil {
		return "", fmt.Errorf("traditional retrieval failed: %w", err)
	}
	return doc, nil
}

// sessionLock returns the mutex serializing writes to one session
func (a *Agent) sessionLock(sessionKey string) *sync.Mutex {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	l, ok := a.sessionLocks[sessionKey]
	if !ok {
		l = &sync.Mutex{}
		a.sessionLocks[sessionKey] = l
	}
	return l
}

// AddMessage appends a message to a session, compresses the window when it
// reaches the compressor threshold and persists the result. It returns the
// stored window.
func (a *Agent) AddMessage(ctx context.Context, sessionKey, role, content string) ([]session.Message, error) {
	if err := session.ValidateKey(sessionKey); err != nil {
		return nil, err
	}
	msg := session.Message{Role: role, Content: content, Timestamp: time.Now()}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	ctx = tracing.WithSessionKey(ctx, sessionKey)

	lock := a.sessionLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	messages, err := a.sessions.Load(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	messages = append(messages, msg)

	if a.compressor != nil {
		messages, err = a.compressor.MaybeCompress(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("failed to compress session: %w", err)
		}
	}

	if err := a.sessions.Save(ctx, sessionKey, messages); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return messages, nil
}

// OnDecisionMade stores an architectural decision and its reasoning
func (a *Agent) OnDecisionMade(ctx context.Context, decision, reasoning string) error {
	return a.memory.StoreDecision(ctx, decision, reasoning)
}

// OnErrorResolved stores how an error was fixed as an insight
func (a *Agent) OnErrorResolved(ctx context.Context, errText, solution string) error {
	return a.memory.StoreInsight(ctx, "Error: "+errText+" → Solution: "+solution)
}

// OnTaskCompleted stores a task outcome as short-lived context
func (a *Agent) OnTaskCompleted(ctx context.Context, task, outcome string) error {
	return a.memory.StoreContext(ctx, "Completed: "+task+" | Outcome: "+outcome, TaskOutcomeExpiry)
}
