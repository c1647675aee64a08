package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nocl/internal/observability"
	"github.com/harun/nocl/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// RedisConfig holds Redis backend configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Project  string
	Logger   zerolog.Logger
	// Client overrides Addr/Password/DB when set
	Client *redis.Client
	Now    func() time.Time
}

// RedisStore keeps project memories in Redis. Each record is a JSON value
// with a native TTL; a sorted set indexes record IDs by creation time.
type RedisStore struct {
	client  *redis.Client
	project string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	observability.EnsureRegistered()

	if cfg.Project == "" {
		return nil, errors.New("project is required")
	}

	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, errors.New("redis address is required")
		}
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &RedisStore{
		client:  client,
		project: cfg.Project,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *RedisStore) key(parts ...string) string {
	return "nocl:" + s.project + ":" + strings.Join(parts, ":")
}

func (s *RedisStore) recordKey(id string) string {
	return s.key("mem", id)
}

// Name implements Backend
func (s *RedisStore) Name() string {
	return "redis"
}

// Init records the project ID once
func (s *RedisStore) Init(ctx context.Context) error {
	err := s.client.HSetNX(ctx, s.key("meta"), "project_id", uuid.New().String()).Err()
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// Encode implements Encoder
func (s *RedisStore) Encode(ctx context.Context, content string, typ Type, opts EncodeOptions) error {
	ctx, span := tracing.StartSpan(
		ctx,
		tracing.TracerMemory,
		"memory.encode",
		attribute.String("backend", s.Name()),
		attribute.String("memory_type", string(typ)),
	)
	defer span.End()

	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	start := time.Now()
	defer func() { observability.RecordMemoryWrite(s.Name(), string(typ), time.Since(start)) }()

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate memory id: %w", err)
	}

	now := s.now()
	rec := Record{
		ID:        id,
		Project:   s.project,
		Content:   content,
		Type:      typ,
		Metadata:  opts.Metadata,
		CreatedAt: now,
	}
	if opts.Expires > 0 {
		exp := now.Add(opts.Expires)
		rec.ExpiresAt = &exp
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal memory: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.recordKey(id), data, opts.Expires)
	pipe.ZAdd(ctx, s.key("index"), redis.Z{Score: float64(now.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		tracing.FailSpan(span, err)
		return fmt.Errorf("failed to store memory: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("id", id).
		Str("memory_type", string(typ)).
		Dur("expires", opts.Expires).
		Msg("Memory stored")

	return nil
}

// Query implements Querier
func (s *RedisStore) Query(ctx context.Context, text string, depth int) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		tracing.TracerMemory,
		"memory.query",
		attribute.String("backend", s.Name()),
		attribute.Int("depth", depth),
	)
	defer span.End()

	start := time.Now()
	if len(queryTerms(text)) == 0 {
		observability.RecordMemoryQuery(s.Name(), time.Since(start), "miss")
		return nil, nil
	}

	candidates, _, err := s.load(ctx, candidateLimit)
	if err != nil {
		tracing.FailSpan(span, err)
		observability.RecordMemoryQuery(s.Name(), time.Since(start), "error")
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}

	result := rank(text, candidates, depth)
	outcome := "miss"
	if result != nil {
		outcome = "hit"
		span.SetAttributes(attribute.Float64("confidence", result.Confidence))
	}
	observability.RecordMemoryQuery(s.Name(), time.Since(start), outcome)

	return result, nil
}

// load returns up to limit live records, newest first, along with the IDs
// whose records have already expired. A limit <= 0 loads everything.
func (s *RedisStore) load(ctx context.Context, limit int) ([]Record, []string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRevRange(ctx, s.key("index"), 0, stop).Result()
	if err != nil && err != redis.Nil {
		return nil, nil, err
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	records := make([]Record, 0, len(values))
	var stale []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn().Err(err).Str("id", ids[i]).Msg("Skipping malformed memory record")
			continue
		}
		if rec.Expired(now) {
			stale = append(stale, ids[i])
			continue
		}
		records = append(records, rec)
	}
	return records, stale, nil
}

// Stats implements Backend
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	records, _, err := s.load(ctx, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count memories: %w", err)
	}

	projectID, err := s.client.HGet(ctx, s.key("meta"), "project_id").Result()
	if err != nil && err != redis.Nil {
		return Stats{}, err
	}

	stats := Stats{
		Project:   s.project,
		ProjectID: projectID,
		Backend:   s.Name(),
		ByType:    make(map[Type]int),
		Total:     len(records),
	}
	for _, r := range records {
		stats.ByType[r.Type]++
	}

	observability.SetMemoryEntries(stats.Total)
	return stats, nil
}

// PruneExpired removes index entries whose records Redis has expired
func (s *RedisStore) PruneExpired(ctx context.Context) (int, error) {
	_, stale, err := s.load(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to scan memories: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(stale))
	keys := make([]string, len(stale))
	for i, id := range stale {
		members[i] = id
		keys[i] = s.recordKey(id)
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.key("index"), members...)
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to prune memories: %w", err)
	}
	return len(stale), nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
