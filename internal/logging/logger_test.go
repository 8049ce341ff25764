package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Debug("hidden %d", 1)
	l.Info("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[INFO] shown 2")

	l.SetLevel(DEBUG)
	l.Debug("now visible")
	assert.Contains(t, buf.String(), "[DEBUG] now visible")

	l.SetLevel(ERROR)
	l.Warn("dropped")
	assert.NotContains(t, buf.String(), "dropped")
}

func TestInitializeWritesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Initialize(dir))
	t.Cleanup(func() {
		GetLogger().Close()
		SetLogger(nil)
	})

	Info("case %s started", "login")
	path := GetLogger().Path()
	assert.Equal(t, filepath.Join(dir, ".casepilot", "logs", "casepilot.log"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] case login started")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("Debug")
	require.NoError(t, err)
	assert.Equal(t, DEBUG, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, INFO, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestGetLoggerWithoutInitializeDiscards(t *testing.T) {
	SetLogger(nil)
	assert.NotPanics(t, func() { Warn("nobody listens") })
	assert.Empty(t, GetLogger().Path())
}
