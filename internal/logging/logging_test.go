package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New("json", slog.LevelInfo, &buf)
	l.Debug("hidden")
	l.Info("j1939_open", "if", "can0")
	out := buf.String()
	assert.NotContains(t, out, "hidden", "debug line leaked at info level")
	assert.Contains(t, out, `"msg":"j1939_open"`)
	assert.Contains(t, out, `"if":"can0"`)
}

func TestSetIgnoresNil(t *testing.T) {
	prev := L()
	Set(nil)
	assert.Same(t, prev, L(), "Set(nil) replaced the logger")
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j1939.log")
	w := NewFileWriter(path, DefaultRotation)
	l := New("text", slog.LevelInfo, w)
	l.Info("hello", "k", 1)
	require.NoError(t, w.Close())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "msg=hello")
}
