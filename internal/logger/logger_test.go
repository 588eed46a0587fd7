package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatcore.log")
	log, err := New(Config{Level: "debug", FilePath: path, Quiet: true})
	require.NoError(t, err)

	log.Info("index loaded")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"index loaded"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWithoutOutputsIsNop(t *testing.T) {
	log, err := New(Config{Quiet: true})
	require.NoError(t, err)
	assert.NotPanics(t, func() { log.Info("dropped") })
}
