package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lrs/internal/app"
	"lrs/internal/config"
	"lrs/internal/db"
)

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	cfg := "statements:\n  default_limit: 25\nlog:\n  level: warn\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(cfg), 0o644))

	store, err := app.Open(context.Background(), ws)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, 25, store.Config.Statements.DefaultLimit)
	assert.FileExists(t, db.Path(ws))

	_, _, err = store.Engine.CreateAPIKey(context.Background(), "lms", "")
	require.NoError(t, err)
}

func TestOpenDefaultsWithoutConfig(t *testing.T) {
	ws := t.TempDir()
	store, err := app.Open(context.Background(), ws)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, config.Default().Server.BasePath, store.Config.Server.BasePath)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "lrs.yml"), []byte("log:\n  level: chatty\n"), 0o644))
	_, err := app.Open(context.Background(), ws)
	assert.ErrorContains(t, err, "load config")
}

func TestOpenHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := app.Open(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
