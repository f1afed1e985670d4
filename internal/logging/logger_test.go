package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Writer: &buf})

	logger.Debug("debug suppressed")
	assert.Zero(t, buf.Len(), "expected debug output to be suppressed")

	logger.Info("visible message")
	assert.Contains(t, buf.String(), "visible message")
}

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Writer: &buf})

	logger.Debug("debug visible", "key", "repo::journals")
	out := buf.String()
	assert.Contains(t, out, "debug visible")
	assert.Contains(t, out, "key=repo::journals")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{JSON: true, Writer: &buf})

	logger.Warn("snapshot failed", "key", "g::block")
	out := strings.TrimSpace(buf.String())
	require.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"msg":"snapshot failed"`)
	assert.Contains(t, out, `"level":"WARN"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), "level %q", name)
	}
}

func TestSlogAdapter_With(t *testing.T) {
	var buf bytes.Buffer
	base := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	child := base.With("repo", "graph")
	child.Error("refresh failed")

	out := buf.String()
	assert.Contains(t, out, "repo=graph")
	assert.Contains(t, out, "refresh failed")
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("ignored")
	assert.NotNil(t, logger.With("a", 1))
}
