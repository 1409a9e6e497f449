package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesPerLevelFiles(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Options{Directory: dir, Name: "test", Level: "info"})
	require.NoError(t, err)

	log.Info("hello")
	log.Warn("careful")
	log.Debug("dropped")
	_ = log.Sync()

	info, err := os.ReadFile(filepath.Join(dir, "test-info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "hello")
	assert.NotContains(t, string(info), "careful")

	warn, err := os.ReadFile(filepath.Join(dir, "test-warn.log"))
	require.NoError(t, err)
	assert.Contains(t, string(warn), "careful")

	_, err = os.Stat(filepath.Join(dir, "test-debug.log"))
	assert.True(t, os.IsNotExist(err), "debug file should not exist below min level")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
