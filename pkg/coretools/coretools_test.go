package coretools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/nocl/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWorkspace(t *testing.T) (*toolexecutor.ToolExecutor, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "pkg"), 0755))

	te := toolexecutor.New(toolexecutor.Config{Logger: zerolog.Nop()})
	require.NoError(t, RegisterCoreTools(te, Options{WorkspaceRoot: root}))
	return te, root
}

func TestRegisterCoreTools(t *testing.T) {
	te, _ := setupWorkspace(t)
	assert.Equal(t, []string{"list_directory", "read_file"}, te.ListTools())

	assert.Error(t, RegisterCoreTools(nil, Options{}))
}

func TestReadFile(t *testing.T) {
	te, _ := setupWorkspace(t)
	ctx := context.Background()

	out, err := te.Call(ctx, "read_file", map[string]interface{}{"path": "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "package main\n", out)

	out, err = te.Call(ctx, "read_file", map[string]interface{}{"path": "main.go", "max_bytes": 7.0})
	require.NoError(t, err)
	assert.Equal(t, "package", out)

	_, err = te.Call(ctx, "read_file", map[string]interface{}{"path": "../etc/passwd"})
	assert.Error(t, err)

	_, err = te.Call(ctx, "read_file", map[string]interface{}{"path": "missing.go"})
	assert.Error(t, err)
}

func TestListDirectory(t *testing.T) {
	te, _ := setupWorkspace(t)
	ctx := context.Background()

	out, err := te.Call(ctx, "list_directory", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "main.go\npkg/", out)

	out, err = te.Call(ctx, "list_directory", map[string]interface{}{"path": "pkg"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResolvePathInWorkspace(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative", "a/b.txt", false},
		{"absolute inside", filepath.Join(root, "c.txt"), false},
		{"escape", "../x", true},
		{"empty", "  ", true},
		{"url", "http://example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolvePathInWorkspace(root, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
