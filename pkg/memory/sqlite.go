package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/nocl/internal/observability"
	"github.com/harun/nocl/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// SQLiteConfig holds SQLite backend configuration
type SQLiteConfig struct {
	DBPath  string
	Project string
	Logger  zerolog.Logger
	// Now overrides the clock, for tests
	Now func() time.Time
}

// SQLiteStore keeps project memories in a local SQLite database
type SQLiteStore struct {
	db        *sql.DB
	path      string
	project   string
	logger    zerolog.Logger
	now       func() time.Time
	mu        sync.RWMutex
	projectID string
}

// NewSQLiteStore opens (creating if needed) the database at cfg.DBPath
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.Project == "" {
		return nil, errors.New("project is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    cfg.DBPath,
		project: cfg.Project,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			expires_at INTEGER,
			FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Name implements Backend
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Init loads or creates the project row
func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.ensureProject(ctx)
	return err
}

func (s *SQLiteStore) ensureProject(ctx context.Context) (string, error) {
	s.mu.RLock()
	id := s.projectID
	s.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectID != "" {
		return s.projectID, nil
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO projects (id, name, created_at) VALUES (?, ?, ?)",
		uuid.New().String(), s.project, s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create project: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, "SELECT id FROM projects WHERE name = ?", s.project).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to load project: %w", err)
	}

	s.projectID = id
	s.logger.Debug().Str("project", s.project).Str("project_id", id).Msg("Memory project ready")
	return id, nil
}

// Encode implements Encoder
func (s *SQLiteStore) Encode(ctx context.Context, content string, typ Type, opts EncodeOptions) error {
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

	projectID, err := s.ensureProject(ctx)
	if err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("failed to generate memory id: %w", err)
	}

	var metadata sql.NullString
	if len(opts.Metadata) > 0 {
		data, err := json.Marshal(opts.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	now := s.now()
	var expiresAt sql.NullInt64
	if opts.Expires > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(opts.Expires).UnixMilli(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO memories (id, project_id, content, memory_type, metadata, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, projectID, content, string(typ), metadata, now.UnixMilli(), expiresAt,
	)
	if err != nil {
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

// Query implements Querier. Candidates are prefiltered in SQL on any query
// term and ranked by term coverage.
func (s *SQLiteStore) Query(ctx context.Context, text string, depth int) (*QueryResult, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		tracing.TracerMemory,
		"memory.query",
		attribute.String("backend", s.Name()),
		attribute.Int("depth", depth),
	)
	defer span.End()

	start := time.Now()
	terms := queryTerms(text)
	if len(terms) == 0 {
		observability.RecordMemoryQuery(s.Name(), time.Since(start), "miss")
		return nil, nil
	}

	projectID, err := s.ensureProject(ctx)
	if err != nil {
		observability.RecordMemoryQuery(s.Name(), time.Since(start), "error")
		return nil, err
	}

	clauses := make([]string, 0, len(terms))
	args := []interface{}{projectID, s.now().UnixMilli()}
	for _, term := range terms {
		clauses = append(clauses, `content LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	args = append(args, candidateLimit)

	query := `
		SELECT id, content, memory_type, metadata, created_at, expires_at
		FROM memories
		WHERE project_id = ?
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	candidates, err := s.scanRecords(ctx, query, args...)
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

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Int("candidates", len(candidates)).
		Str("result", outcome).
		Msg("Memory query completed")

	return result, nil
}

func (s *SQLiteStore) scanRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			typ       string
			metadata  sql.NullString
			createdAt int64
			expiresAt sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Content, &typ, &metadata, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		r.Project = s.project
		r.Type = Type(typ)
		r.CreatedAt = time.UnixMilli(createdAt)
		if expiresAt.Valid {
			t := time.UnixMilli(expiresAt.Int64)
			r.ExpiresAt = &t
		}
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				s.logger.Warn().Err(err).Str("id", r.ID).Msg("Ignoring malformed memory metadata")
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats implements Backend. Expired records are not counted.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	projectID, err := s.ensureProject(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Project:   s.project,
		ProjectID: projectID,
		Backend:   s.Name(),
		ByType:    make(map[Type]int),
		Path:      s.path,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_type, COUNT(*)
		FROM memories
		WHERE project_id = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY memory_type
	`, projectID, s.now().UnixMilli())
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return Stats{}, err
		}
		stats.ByType[Type(typ)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	observability.SetMemoryEntries(stats.Total)
	return stats, nil
}

// PruneExpired implements Backend
func (s *SQLiteStore) PruneExpired(ctx context.Context) (int, error) {
	projectID, err := s.ensureProject(ctx)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memories WHERE project_id = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		projectID, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune memories: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	s.logger.Debug().Msg("Closing memory store")
	return s.db.Close()
}

func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
