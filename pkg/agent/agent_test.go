package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/harun/nocl/pkg/assembler"
	"github.com/harun/nocl/pkg/compressor"
	"github.com/harun/nocl/pkg/memory"
	"github.com/harun/nocl/pkg/router"
	"github.com/harun/nocl/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTools struct {
	mu     sync.Mutex
	calls  map[string]int
	output string
	err    error
}

func newCountingTools(output string) *countingTools {
	return &countingTools{calls: make(map[string]int), output: output}
}

func (c *countingTools) Call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[tool]++
	return c.output, c.err
}

func (c *countingTools) count(tool string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[tool]
}

func createTestLayer(t *testing.T) *memory.Layer {
	t.Helper()
	store, err := memory.NewSQLiteStore(memory.SQLiteConfig{
		DBPath:  filepath.Join(t.TempDir(), "demo_memory.db"),
		Project: "demo",
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	layer := memory.NewLayer(memory.LayerConfig{Project: "demo", Backend: store, Logger: zerolog.Nop()})
	require.NoError(t, layer.Initialize(context.Background()))
	t.Cleanup(func() { layer.Close() })
	return layer
}

func createTestAgent(t *testing.T, cfg Config) *Agent {
	t.Helper()
	if cfg.Memory == nil {
		cfg.Memory = createTestLayer(t)
	}
	cfg.Logger = zerolog.Nop()
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func TestNew_RequiresMemory(t *testing.T) {
	a, err := New(Config{Logger: zerolog.Nop()})
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestSmartToolCall_CachesCacheableTools(t *testing.T) {
	tools := newCountingTools("package main")
	a := createTestAgent(t, Config{Tools: tools})
	ctx := context.Background()
	args := map[string]interface{}{"path": "main.go"}

	first, err := a.SmartToolCall(ctx, "read_file", args)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "package main", first.Output)

	second, err := a.SmartToolCall(ctx, "read_file", args)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "package main", second.Output)
	assert.Equal(t, 1, tools.count("read_file"))
}

func TestSmartToolCall_DifferentArgsMiss(t *testing.T) {
	tools := newCountingTools("content")
	a := createTestAgent(t, Config{Tools: tools})
	ctx := context.Background()

	_, err := a.SmartToolCall(ctx, "read_file", map[string]interface{}{"path": "main.go"})
	require.NoError(t, err)

	out, err := a.SmartToolCall(ctx, "read_file", map[string]interface{}{"path": "other.go"})
	require.NoError(t, err)
	assert.False(t, out.CacheHit)
	assert.Equal(t, 2, tools.count("read_file"))
}

func TestSmartToolCall_DeniedToolsAlwaysCall(t *testing.T) {
	tools := newCountingTools("ok")
	a := createTestAgent(t, Config{Tools: tools})
	ctx := context.Background()
	args := map[string]interface{}{"path": "out.txt", "content": "x"}

	for i := 0; i < 2; i++ {
		out, err := a.SmartToolCall(ctx, "write_file", args)
		require.NoError(t, err)
		assert.False(t, out.CacheHit)
	}
	assert.Equal(t, 2, tools.count("write_file"))

	status, err := a.memory.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Total)
}

func TestSmartToolCall_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("tool failure propagates", func(t *testing.T) {
		tools := newCountingTools("")
		tools.err = errors.New("disk on fire")
		a := createTestAgent(t, Config{Tools: tools})

		_, err := a.SmartToolCall(ctx, "read_file", map[string]interface{}{"path": "a"})
		require.Error(t, err)
		assert.ErrorIs(t, err, tools.err)

		status, err := a.memory.Status(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, status.Total)
	})

	t.Run("no tool caller", func(t *testing.T) {
		a := createTestAgent(t, Config{})
		_, err := a.SmartToolCall(ctx, "read_file", map[string]interface{}{"path": "a"})
		assert.ErrorIs(t, err, ErrNoToolCaller)
	})
}

func TestSmartToolCall_MockMemory(t *testing.T) {
	tools := newCountingTools("out")
	layer := memory.NewLayer(memory.LayerConfig{Project: "demo", Logger: zerolog.Nop()})
	a := createTestAgent(t, Config{Memory: layer, Tools: tools})
	ctx := context.Background()
	args := map[string]interface{}{"path": "main.go"}

	for i := 0; i < 2; i++ {
		out, err := a.SmartToolCall(ctx, "read_file", args)
		require.NoError(t, err)
		assert.False(t, out.CacheHit)
	}
	assert.Equal(t, 2, tools.count("read_file"))
}

func staticRetriever(doc string) RetrieverFunc {
	return func(ctx context.Context, query string) (string, error) {
		return doc, nil
	}
}

func TestBuildContext_Neural(t *testing.T) {
	a := createTestAgent(t, Config{SystemPrompt: "You are a coding agent."})
	ctx := context.Background()
	require.NoError(t, a.OnDecisionMade(ctx, "Use SQLite for storage", "local deployments"))

	built, err := a.BuildContext(ctx, "Why SQLite?")
	require.NoError(t, err)

	assert.Equal(t, router.SourceNeural, built.Decision.Source)
	assert.True(t, strings.HasPrefix(built.Text, "[SYSTEM] You are a coding agent. [NEURAL] [DECISION] Use SQLite for storage"))
	assert.Greater(t, built.Tokens, 0)
}

func TestBuildContext_Traditional(t *testing.T) {
	a := createTestAgent(t, Config{Retriever: staticRetriever("Install with make build")})
	ctx := context.Background()
	require.NoError(t, a.OnErrorResolved(ctx, "readme missing", "restored the readme"))

	built, err := a.BuildContext(ctx, "open the README")
	require.NoError(t, err)

	assert.Equal(t, router.SourceTraditional, built.Decision.Source)
	assert.Equal(t, "[TRADITIONAL] Install with make build", built.Text)
	assert.NotContains(t, built.Text, "[NEURAL]")
}

func TestBuildContext_BothMergePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("confident neural ranks above traditional", func(t *testing.T) {
		a := createTestAgent(t, Config{Retriever: staticRetriever("Layout doc")})
		require.NoError(t, a.OnErrorResolved(ctx, "storage layout plans drifted", "pinned them"))

		built, err := a.BuildContext(ctx, "storage layout plans")
		require.NoError(t, err)

		assert.Equal(t, router.SourceBoth, built.Decision.Source)
		neural := strings.Index(built.Text, "[NEURAL]")
		traditional := strings.Index(built.Text, "[TRADITIONAL]")
		require.GreaterOrEqual(t, neural, 0)
		require.GreaterOrEqual(t, traditional, 0)
		assert.Less(t, neural, traditional)
	})

	t.Run("weak neural ranks below traditional", func(t *testing.T) {
		a := createTestAgent(t, Config{Retriever: staticRetriever("Layout doc")})
		require.NoError(t, a.OnDecisionMade(ctx, "Use SQLite for storage", "local"))

		built, err := a.BuildContext(ctx, "storage layout plans")
		require.NoError(t, err)

		assert.Equal(t, "[TRADITIONAL] Layout doc [NEURAL] [DECISION] Use SQLite for storage | Context: local", built.Text)
		require.Len(t, built.Blocks, 2)
		assert.Equal(t, 4, built.Blocks[0].Priority)
	})

	t.Run("nothing found", func(t *testing.T) {
		a := createTestAgent(t, Config{})
		built, err := a.BuildContext(ctx, "storage layout plans")
		require.NoError(t, err)
		assert.Empty(t, built.Text)
		assert.Equal(t, 0, built.Tokens)
	})
}

func TestBuildContext_ToolCallNeedsHighConfidence(t *testing.T) {
	ctx := context.Background()

	t.Run("partial match is dropped", func(t *testing.T) {
		a := createTestAgent(t, Config{})
		require.NoError(t, a.OnErrorResolved(ctx, "storage layout", "flattened"))

		built, err := a.BuildContext(ctx, "current storage layout")
		require.NoError(t, err)
		assert.Equal(t, router.SourceToolCall, built.Decision.Source)
		assert.Empty(t, built.Text)
	})

	t.Run("full match is kept", func(t *testing.T) {
		a := createTestAgent(t, Config{})
		require.NoError(t, a.OnErrorResolved(ctx, "current storage layout broke", "flattened"))

		built, err := a.BuildContext(ctx, "current storage layout")
		require.NoError(t, err)
		assert.Contains(t, built.Text, "[NEURAL] [INSIGHT] Error: current storage layout broke → Solution: flattened")
	})
}

func TestBuildContext_RetrieverError(t *testing.T) {
	boom := errors.New("index offline")
	a := createTestAgent(t, Config{Retriever: RetrieverFunc(func(ctx context.Context, query string) (string, error) {
		return "", boom
	})})

	_, err := a.BuildContext(context.Background(), "show the documentation")
	assert.ErrorIs(t, err, boom)
}

func TestBuildContext_RespectsBudget(t *testing.T) {
	long := strings.Repeat("word ", 400)
	a := createTestAgent(t, Config{
		Assembler: assembler.New(100, nil),
		Retriever: staticRetriever(long),
	})

	built, err := a.BuildContext(context.Background(), "read the documentation")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(built.Text, "... [truncated]"))
	assert.LessOrEqual(t, len(built.Text), 100*assembler.CharsPerToken+len("[TRADITIONAL] ... [truncated]"))
}

func TestAddMessage_CompressesAtThreshold(t *testing.T) {
	layer := createTestLayer(t)
	var prompts []string
	summarizer := SummarizerFunc(func(ctx context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "Agreed on the sqlite backend", nil
	})
	comp, err := compressor.New(compressor.Config{Threshold: 4, RecentWindow: 2, Logger: zerolog.Nop()}, layer, summarizer)
	require.NoError(t, err)

	store := session.NewMemoryStore()
	a := createTestAgent(t, Config{Memory: layer, Compressor: comp, Sessions: store})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		window, err := a.AddMessage(ctx, "chat-1", session.RoleUser, fmt.Sprintf("message %d", i))
		require.NoError(t, err)
		assert.Len(t, window, i+1)
	}
	assert.Empty(t, prompts)

	window, err := a.AddMessage(ctx, "chat-1", session.RoleAssistant, "message 3")
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "message 2", window[0].Content)
	assert.Equal(t, "message 3", window[1].Content)
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "USER: message 0")

	stored, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	res, err := layer.Query(ctx, "sqlite backend", memory.DefaultDepth)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Context, compressor.SummaryTag)
	assert.Equal(t, "chat-1", res.Matches[0].Record.Metadata["session_key"])
}

func TestAddMessage_CompressionFailureKeepsStoredWindow(t *testing.T) {
	layer := createTestLayer(t)
	summarizer := SummarizerFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("provider down")
	})
	comp, err := compressor.New(compressor.Config{Threshold: 2, RecentWindow: 1, Logger: zerolog.Nop()}, layer, summarizer)
	require.NoError(t, err)

	store := session.NewMemoryStore()
	a := createTestAgent(t, Config{Memory: layer, Compressor: comp, Sessions: store})
	ctx := context.Background()

	_, err = a.AddMessage(ctx, "chat-1", session.RoleUser, "first")
	require.NoError(t, err)
	_, err = a.AddMessage(ctx, "chat-1", session.RoleUser, "second")
	require.Error(t, err)

	stored, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAddMessage_Validation(t *testing.T) {
	a := createTestAgent(t, Config{})
	ctx := context.Background()

	_, err := a.AddMessage(ctx, "../escape", session.RoleUser, "hi")
	assert.Error(t, err)

	_, err = a.AddMessage(ctx, "chat-1", session.RoleUser, "")
	assert.ErrorIs(t, err, session.ErrEmptyMessage)
}

func TestAddMessage_ConcurrentWritesAreSerialized(t *testing.T) {
	a := createTestAgent(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.AddMessage(ctx, "chat-1", session.RoleUser, fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := a.sessions.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.Len(t, stored, 20)
}

func TestHooks(t *testing.T) {
	a := createTestAgent(t, Config{})
	ctx := context.Background()

	require.NoError(t, a.OnTaskCompleted(ctx, "migrate schema", "done without downtime"))
	res, err := a.memory.Query(ctx, "migrate schema", memory.DefaultDepth)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "Completed: migrate schema | Outcome: done without downtime", res.Context)
	assert.Equal(t, memory.TypeContext, res.Matches[0].Record.Type)
	require.NotNil(t, res.Matches[0].Record.ExpiresAt)

	require.NoError(t, a.OnErrorResolved(ctx, "nil map write", "initialize in constructor"))
	res, err = a.memory.Query(ctx, "nil map write", memory.DefaultDepth)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Context, "Error: nil map write → Solution: initialize in constructor")
}
