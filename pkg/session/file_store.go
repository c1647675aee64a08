package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/harun/nocl/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const sessionExt = ".jsonl"

// FileStore keeps each session as a JSONL file of messages
type FileStore struct {
	dir        string
	logger     zerolog.Logger
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewFileStore creates a store rooted at dir, creating it if needed
func NewFileStore(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("sessions directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &FileStore{
		dir:        dir,
		logger:     logger,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the sessions directory
func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) path(sessionKey string) string {
	return filepath.Join(fs.dir, sessionKey+sessionExt)
}

// lock gets or creates the write lock for a session
func (fs *FileStore) lock(sessionKey string) *sync.Mutex {
	fs.locksMu.Lock()
	defer fs.locksMu.Unlock()

	if l, ok := fs.writeLocks[sessionKey]; ok {
		return l
	}
	l := &sync.Mutex{}
	fs.writeLocks[sessionKey] = l
	return l
}

// Load implements Store. Malformed lines are skipped.
func (fs *FileStore) Load(ctx context.Context, sessionKey string) ([]Message, error) {
	ctx, span := tracing.StartSpan(
		tracing.WithSessionKey(ctx, sessionKey),
		tracing.TracerSession,
		"session.load",
		attribute.String("session_key", sessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, fs.logger)

	if err := ValidateKey(sessionKey); err != nil {
		tracing.FailSpan(span, err)
		return nil, err
	}

	file, err := os.Open(fs.path(sessionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return []Message{}, nil
		}
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	messages := []Message{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if msg.Validate() != nil {
			logger.Warn().Int("line", lineNum).Msg("Invalid message, skipping")
			continue
		}
		messages = append(messages, msg)
	}

	if err := scanner.Err(); err != nil {
		tracing.FailSpan(span, err)
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	logger.Debug().Int("messages", len(messages)).Msg("Session loaded")
	return messages, nil
}

// Save implements Store. The file is rewritten through a temp file and renamed.
func (fs *FileStore) Save(ctx context.Context, sessionKey string, messages []Message) error {
	ctx, span := tracing.StartSpan(
		tracing.WithSessionKey(ctx, sessionKey),
		tracing.TracerSession,
		"session.save",
		attribute.String("session_key", sessionKey),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()

	if err := ValidateKey(sessionKey); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	l := fs.lock(sessionKey)
	l.Lock()
	defer l.Unlock()

	if err := fs.writeAtomic(sessionKey, messages); err != nil {
		tracing.FailSpan(span, err)
		return err
	}

	logger := tracing.LoggerFromContext(ctx, fs.logger)
	logger.Debug().Int("messages", len(messages)).Msg("Session saved")
	return nil
}

func (fs *FileStore) writeAtomic(sessionKey string, messages []Message) error {
	sessionPath := fs.path(sessionKey)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, msg := range messages {
		data, err := json.Marshal(msg)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}

	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// List implements Store
func (fs *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	sessions := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, sessionExt) {
			continue
		}
		sessions = append(sessions, strings.TrimSuffix(name, sessionExt))
	}
	sort.Strings(sessions)
	return sessions, nil
}

// Delete implements Store. Deleting a missing session is not an error.
func (fs *FileStore) Delete(ctx context.Context, sessionKey string) error {
	if err := ValidateKey(sessionKey); err != nil {
		return err
	}

	l := fs.lock(sessionKey)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(fs.path(sessionKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	fs.locksMu.Lock()
	delete(fs.writeLocks, sessionKey)
	fs.locksMu.Unlock()

	logger := tracing.LoggerFromContext(tracing.WithSessionKey(ctx, sessionKey), fs.logger)
	logger.Info().Msg("Session deleted")
	return nil
}
