package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/nocl/pkg/toolexecutor"
)

// DefaultMaxBytes caps how much of a file read_file returns
const DefaultMaxBytes = 200000

// Options configures core tool registration.
type Options struct {
	WorkspaceRoot string
}

// RegisterCoreTools registers the read-only workspace tools. Their names
// match entries of the default cache policy.
func RegisterCoreTools(executor *toolexecutor.ToolExecutor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}
	root, err := filepath.Abs(opts.WorkspaceRoot)
	if err != nil {
		return fmt.Errorf("invalid workspace root: %w", err)
	}

	tools := []toolexecutor.ToolDefinition{
		readFileTool(root),
		listDirectoryTool(root),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func readFileTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)", Required: false, Default: DefaultMaxBytes},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePathInWorkspace(root, pathValue)
			if err != nil {
				return nil, err
			}

			maxBytes := int64(DefaultMaxBytes)
			if raw, ok := params["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			data, _, err := readFileWithLimit(target, maxBytes)
			if err != nil {
				return nil, err
			}
			return string(data), nil
		},
	}
}

func listDirectoryTool(root string) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "list_directory",
		Description: "List entries of a workspace directory.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative directory path (default workspace root)", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			target := root
			if pathValue, _ := params["path"].(string); strings.TrimSpace(pathValue) != "" {
				resolved, err := resolvePathInWorkspace(root, pathValue)
				if err != nil {
					return nil, err
				}
				target = resolved
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	truncated := false
	extra := make([]byte, 1)
	if _, err := file.Read(extra); err == nil {
		truncated = true
	}
	return buf.Bytes(), truncated, nil
}

func resolvePathInWorkspace(workspaceRoot string, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..") {
		return candidate, nil
	}
	return "", fmt.Errorf("path %q is outside workspace root", pathValue)
}
