package memory

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func createTestStore(t *testing.T, project string) (*SQLiteStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	s, err := NewSQLiteStore(SQLiteConfig{
		DBPath:  filepath.Join(t.TempDir(), project+"_memory.db"),
		Project: project,
		Logger:  zerolog.Nop(),
		Now:     clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func createTestLayer(t *testing.T) (*Layer, *testClock) {
	t.Helper()
	s, clock := createTestStore(t, "demo")
	layer := NewLayer(LayerConfig{Project: "demo", Backend: s, Logger: zerolog.Nop()})
	require.NoError(t, layer.Initialize(context.Background()))
	return layer, clock
}

func TestNewSQLiteStore_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config SQLiteConfig
	}{
		{name: "empty db path", config: SQLiteConfig{Project: "demo"}},
		{name: "empty project", config: SQLiteConfig{DBPath: filepath.Join(t.TempDir(), "x.db")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSQLiteStore(tt.config)
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}
}

func TestSQLiteStore_EncodeAndQuery(t *testing.T) {
	s, _ := createTestStore(t, "demo")
	ctx := context.Background()

	require.NoError(t, s.Encode(ctx, "[DECISION] Use SQLite for local storage", TypeDecision, EncodeOptions{}))
	require.NoError(t, s.Encode(ctx, "Deploy pipeline runs on Fridays", TypeFact, EncodeOptions{}))

	res, err := s.Query(ctx, "sqlite storage", 2)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)
	assert.Contains(t, res.Context, "Use SQLite")
	assert.NotContains(t, res.Context, "Deploy pipeline")
	require.Len(t, res.Matches, 1)
	assert.Equal(t, TypeDecision, res.Matches[0].Record.Type)
	assert.Equal(t, "demo", res.Matches[0].Record.Project)
}

func TestSQLiteStore_QueryMiss(t *testing.T) {
	s, _ := createTestStore(t, "demo")
	ctx := context.Background()

	require.NoError(t, s.Encode(ctx, "alpha beta", TypeFact, EncodeOptions{}))

	res, err := s.Query(ctx, "gamma", 2)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = s.Query(ctx, "why is the", 2)
	require.NoError(t, err)
	assert.Nil(t, res, "stopword-only queries miss")
}

func TestSQLiteStore_DepthAndRecency(t *testing.T) {
	s, _ := createTestStore(t, "demo")
	ctx := context.Background()

	require.NoError(t, s.Encode(ctx, "cache note one", TypeFact, EncodeOptions{}))
	require.NoError(t, s.Encode(ctx, "cache note two", TypeFact, EncodeOptions{}))
	require.NoError(t, s.Encode(ctx, "cache note three", TypeFact, EncodeOptions{}))

	res, err := s.Query(ctx, "cache note", 2)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "cache note three", res.Matches[0].Record.Content)
	assert.Equal(t, "cache note two", res.Matches[1].Record.Content)
	assert.Equal(t, "cache note three\ncache note two", res.Context)
}

func TestSQLiteStore_ExpiryAndPrune(t *testing.T) {
	s, clock := createTestStore(t, "demo")
	ctx := context.Background()

	require.NoError(t, s.Encode(ctx, "temporary context about deploys", TypeContext, EncodeOptions{Expires: time.Hour}))
	require.NoError(t, s.Encode(ctx, "permanent fact about deploys", TypeFact, EncodeOptions{}))

	res, err := s.Query(ctx, "deploys", 5)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Len(t, res.Matches, 2)

	clock.Advance(2 * time.Hour)

	res, err = s.Query(ctx, "deploys", 5)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "permanent fact about deploys", res.Matches[0].Record.Content)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)

	n, err := s.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteStore_ProjectsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	a, err := NewSQLiteStore(SQLiteConfig{DBPath: path, Project: "alpha", Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSQLiteStore(SQLiteConfig{DBPath: path, Project: "beta", Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Encode(ctx, "alpha secret roadmap", TypeFact, EncodeOptions{}))

	res, err := b.Query(ctx, "roadmap", 2)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = a.Query(ctx, "roadmap", 2)
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestSQLiteStore_InitIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(SQLiteConfig{DBPath: path, Project: "demo", Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s1.Init(ctx))
	require.NoError(t, s1.Init(ctx))
	stats1, err := s1.Stats(ctx)
	require.NoError(t, err)
	s1.Close()

	s2, err := NewSQLiteStore(SQLiteConfig{DBPath: path, Project: "demo", Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s2.Close()
	stats2, err := s2.Stats(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, stats1.ProjectID)
	assert.Equal(t, stats1.ProjectID, stats2.ProjectID)
}

func TestSQLiteStore_MetadataRoundTrip(t *testing.T) {
	s, _ := createTestStore(t, "demo")
	ctx := context.Background()

	require.NoError(t, s.Encode(ctx, "tagged record", TypeFact, EncodeOptions{
		Metadata: map[string]string{"tool": "read_file"},
	}))

	res, err := s.Query(ctx, "tagged", 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "read_file", res.Matches[0].Record.Metadata["tool"])
}

func TestSQLiteStore_LikeWildcardsAreLiteral(t *testing.T) {
	s, _ := createTestStore(t, "demo")
	ctx := context.Background()

	require.NoError(t, s.Encode(ctx, "readXfile output", TypeFact, EncodeOptions{}))

	res, err := s.Query(ctx, "read_file", 1)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestSQLiteStore_EmptyContent(t *testing.T) {
	s, _ := createTestStore(t, "demo")
	err := s.Encode(context.Background(), "   ", TypeFact, EncodeOptions{})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestQueryTerms(t *testing.T) {
	assert.Equal(t, []string{"choose", "sqlite"}, queryTerms("Why did we choose SQLite?"))
	assert.Equal(t, []string{"read_file", "path", "main", "go"}, queryTerms(`read_file {"path":"main.go"}`))
	assert.Empty(t, queryTerms("what is the"))
	assert.Equal(t, []string{"cache"}, queryTerms("cache CACHE Cache"))
}

func TestRank(t *testing.T) {
	now := time.Now()
	candidates := []Record{
		{ID: "1", Content: "alpha beta", CreatedAt: now.Add(-time.Hour)},
		{ID: "2", Content: "alpha", CreatedAt: now},
		{ID: "3", Content: "unrelated", CreatedAt: now},
	}

	res := rank("alpha beta", candidates, 5)
	require.NotNil(t, res)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "1", res.Matches[0].Record.ID)
	assert.InDelta(t, 1.0, res.Matches[0].Score, 1e-9)
	assert.InDelta(t, 0.5, res.Matches[1].Score, 1e-9)

	assert.Nil(t, rank("zeta", candidates, 5))
	assert.Nil(t, rank("alpha", nil, 5))

	res = rank("alpha", candidates, 0)
	require.NotNil(t, res)
	assert.Len(t, res.Matches, DefaultDepth)
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.False(t, Record{}.Expired(now))
	assert.True(t, Record{ExpiresAt: &past}.Expired(now))
	assert.True(t, Record{ExpiresAt: &now}.Expired(now))
	assert.False(t, Record{ExpiresAt: &future}.Expired(now))
}

func TestTypeValid(t *testing.T) {
	assert.True(t, TypeDecision.Valid())
	assert.True(t, TypeFact.Valid())
	assert.False(t, Type("episode").Valid())
}

func TestOpen(t *testing.T) {
	b, err := Open(OpenConfig{Backend: BackendNone, Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "none", b.Name())

	b, err = Open(OpenConfig{Project: "demo", DBPath: filepath.Join(t.TempDir(), "m.db"), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", b.Name())
	require.NoError(t, b.Close())

	_, err = Open(OpenConfig{Backend: "cassandra", Logger: zerolog.Nop()})
	assert.Error(t, err)

	_, err = Open(OpenConfig{Backend: BackendRedis, Project: "demo", Logger: zerolog.Nop()})
	assert.Error(t, err, "redis without an address")
}

func TestLayer_StoreHelpers(t *testing.T) {
	layer, _ := createTestLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.StoreDecision(ctx, "Use SQLite for memory", "zero setup"))
	require.NoError(t, layer.StoreInsight(ctx, "Retry flaky network tests once"))
	require.NoError(t, layer.StoreContext(ctx, "Working on the sqlite migration", 0))
	require.NoError(t, layer.StoreFact(ctx, "Go version is 1.24", 0))

	res, err := layer.Query(ctx, "sqlite memory zero setup", 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "[DECISION] Use SQLite for memory | Context: zero setup", res.Context)

	res, err = layer.Query(ctx, "flaky tests", 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "[INSIGHT] Retry flaky network tests once", res.Context)

	status, err := layer.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.Equal(t, "demo", status.Project)
	assert.Equal(t, "sqlite", status.Backend)
	assert.Equal(t, 4, status.Total)
	assert.Equal(t, 1, status.ByType[TypeDecision])
	assert.Equal(t, 1, status.ByType[TypeContext])
}

func TestLayer_DecisionWithoutReason(t *testing.T) {
	layer, _ := createTestLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.StoreDecision(ctx, "Adopt zerolog", ""))
	res, err := layer.Query(ctx, "zerolog", 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "[DECISION] Adopt zerolog", res.Context)
}

func TestLayer_ContextDefaultExpiry(t *testing.T) {
	layer, clock := createTestLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.StoreContext(ctx, "sprint goal is caching", 0))

	clock.Advance(23 * time.Hour)
	res, err := layer.Query(ctx, "sprint goal", 1)
	require.NoError(t, err)
	assert.NotNil(t, res)

	clock.Advance(2 * time.Hour)
	res, err = layer.Query(ctx, "sprint goal", 1)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestLayer_EmptyContent(t *testing.T) {
	layer, _ := createTestLayer(t)
	ctx := context.Background()

	assert.ErrorIs(t, layer.StoreDecision(ctx, "", "reason"), ErrEmptyContent)
	assert.ErrorIs(t, layer.StoreInsight(ctx, " "), ErrEmptyContent)
	assert.ErrorIs(t, layer.StoreFact(ctx, "", 0), ErrEmptyContent)
}

func TestLayer_ToolCache(t *testing.T) {
	layer, clock := createTestLayer(t)
	ctx := context.Background()
	args := map[string]interface{}{"path": "main.go"}

	_, hit, err := layer.GetCachedToolResult(ctx, "read_file", args, 0.9)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, layer.CacheToolResult(ctx, "read_file", args, "package main", time.Hour))

	out, hit, err := layer.GetCachedToolResult(ctx, "read_file", args, 0.9)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "package main", out)

	t.Run("different args miss", func(t *testing.T) {
		_, hit, err := layer.GetCachedToolResult(ctx, "read_file", map[string]interface{}{"path": "util.go"}, 0.5)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("different tool miss", func(t *testing.T) {
		_, hit, err := layer.GetCachedToolResult(ctx, "list_directory", args, 0.5)
		require.NoError(t, err)
		assert.False(t, hit)
	})

	t.Run("expired entry miss", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, hit, err := layer.GetCachedToolResult(ctx, "read_file", args, 0.9)
		require.NoError(t, err)
		assert.False(t, hit)
	})
}

func TestLayer_ToolCacheFindsOlderEntries(t *testing.T) {
	layer, clock := createTestLayer(t)
	ctx := context.Background()

	for _, path := range []string{"a.go", "b.go", "c.go"} {
		args := map[string]interface{}{"path": path}
		require.NoError(t, layer.CacheToolResult(ctx, "read_file", args, "content of "+path, time.Hour))
		clock.Advance(time.Minute)
	}

	for _, path := range []string{"a.go", "b.go", "c.go"} {
		out, hit, err := layer.GetCachedToolResult(ctx, "read_file", map[string]interface{}{"path": path}, 0.9)
		require.NoError(t, err)
		assert.True(t, hit, path)
		assert.Equal(t, "content of "+path, out)
	}
}

func TestLayer_ToolCacheTrimsLongResults(t *testing.T) {
	layer, _ := createTestLayer(t)
	ctx := context.Background()
	args := map[string]interface{}{"q": "golang"}

	long := strings.Repeat("r", MaxCachedResultChars+100)
	require.NoError(t, layer.CacheToolResult(ctx, "search_web", args, long, time.Hour))

	out, hit, err := layer.GetCachedToolResult(ctx, "search_web", args, 0.75)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, strings.Repeat("r", MaxCachedResultChars)+"... [trimmed]", out)
}

func TestCacheKeyAndArgs(t *testing.T) {
	a := CanonicalArgs(map[string]interface{}{"b": 2, "a": "x"})
	assert.Equal(t, `{"a":"x","b":2}`, a)
	assert.Equal(t, "{}", CanonicalArgs(nil))

	k1 := CacheKey("read_file", a)
	k2 := CacheKey("read_file", a)
	k3 := CacheKey("read_file", "{}")
	assert.Len(t, k1, 12)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestLayer_Recall(t *testing.T) {
	layer, _ := createTestLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.StoreDecision(ctx, "Chose SQLite over Postgres", "single binary"))

	res, err := layer.Recall(ctx, "Why did we choose SQLite?", 0.5, 2)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Context, "SQLite")

	res, err = layer.Recall(ctx, "sqlite kubernetes helm charts", 0.5, 2)
	require.NoError(t, err)
	assert.Nil(t, res, "confidence below threshold")
}

func TestLayer_TaskContext(t *testing.T) {
	layer, _ := createTestLayer(t)
	ctx := context.Background()

	out, err := layer.TaskContext(ctx, "refactor the parser", 500)
	require.NoError(t, err)
	assert.Equal(t, "", out)

	require.NoError(t, layer.StoreInsight(ctx, "The parser "+strings.Repeat("x", 200)))

	out, err = layer.TaskContext(ctx, "refactor the parser", 500)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[Memory Context] [INSIGHT] The parser"))
	assert.True(t, strings.HasSuffix(out, " [/Memory Context]"))

	out, err = layer.TaskContext(ctx, "refactor the parser", 5)
	require.NoError(t, err)
	assert.Equal(t, "[Memory Context] [INSIGHT] The parser [/Memory Context]", out)
}

func TestLayer_MockMode(t *testing.T) {
	layer := NewLayer(LayerConfig{Project: "demo", Logger: zerolog.Nop()})
	ctx := context.Background()

	assert.False(t, layer.Available())
	require.NoError(t, layer.Initialize(ctx))
	require.NoError(t, layer.StoreDecision(ctx, "anything", "because"))
	require.NoError(t, layer.CacheToolResult(ctx, "read_file", nil, "x", time.Hour))

	_, hit, err := layer.GetCachedToolResult(ctx, "read_file", nil, 0)
	require.NoError(t, err)
	assert.False(t, hit)

	res, err := layer.Recall(ctx, "anything", 0, 2)
	require.NoError(t, err)
	assert.Nil(t, res)

	out, err := layer.TaskContext(ctx, "anything", 100)
	require.NoError(t, err)
	assert.Empty(t, out)

	status, err := layer.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Available)
	assert.Equal(t, "none", status.Backend)
	assert.Equal(t, "demo", status.Project)

	n, err := layer.Prune(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, layer.Close())
}

func TestPruner(t *testing.T) {
	layer, clock := createTestLayer(t)
	ctx := context.Background()

	require.NoError(t, layer.StoreFact(ctx, "short lived", time.Minute))
	clock.Advance(time.Hour)

	p, err := NewPruner(layer, "", zerolog.Nop())
	require.NoError(t, err)

	n, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, p.Next().IsZero())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, p.Start(runCtx))
	assert.False(t, p.Next().IsZero())
	assert.Error(t, p.Start(runCtx))
	p.Stop()
	assert.True(t, p.Next().IsZero())
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("@every 30m")
	assert.NoError(t, err)
	_, err = ParseSchedule("0 * * * *")
	assert.NoError(t, err)
	_, err = ParseSchedule("not a schedule")
	assert.Error(t, err)

	_, err = NewPruner(nil, "bogus", zerolog.Nop())
	assert.Error(t, err)
}
