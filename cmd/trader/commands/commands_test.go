package commands

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateFlag(t *testing.T) {
	d, err := parseDateFlag("from", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), d)

	d, err = parseDateFlag("to", "")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = parseDateFlag("to", "03/04/2024")
	assert.ErrorContains(t, err, "--to")
}

func TestRemoveDir(t *testing.T) {
	for _, dir := range []string{"", "/", "."} {
		assert.Error(t, removeDir(dir), dir)
	}

	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.log"), []byte("x"), 0o644))

	require.NoError(t, removeDir(dir))
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "simulate", "serve", "clean", "presets", "snapshot"} {
		assert.True(t, names[want], want)
	}
}
