package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcriptdesk/internal/config"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestOpenDefaultsToSQLiteCounter(t *testing.T) {
	ws := t.TempDir()
	rt, err := Open(context.Background(), Options{Workspace: ws, Log: quiet()})
	require.NoError(t, err)
	defer rt.Close()

	id, err := rt.Engine.NextIdentifier(context.Background(), "receipt")
	require.NoError(t, err)
	assert.Equal(t, "RCP-000001", id)
	assert.Equal(t, "closed", rt.Counter.State())
	assert.FileExists(t, filepath.Join(ws, ".transcriptdesk", "transcriptdesk.db"))
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("identifiers:\n  receipt:\n    prefix: REC\n    width: 3\n"), 0o644))
	rt, err := Open(context.Background(), Options{Workspace: ws, Log: quiet()})
	require.NoError(t, err)
	defer rt.Close()

	id, err := rt.Engine.NextIdentifier(context.Background(), "receipt")
	require.NoError(t, err)
	assert.Equal(t, "REC-001", id)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("counter:\n  backend: redis\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws, Log: quiet()})
	assert.Error(t, err)
}
