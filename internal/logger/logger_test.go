package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("RejectsUnknownLevel", func(t *testing.T) {
		_, err := New(Config{Level: "loud", Format: "json"})
		assert.Error(t, err)
	})

	t.Run("ConsoleFormat", func(t *testing.T) {
		log, err := New(Config{Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.NotNil(t, log.WithComponent("test").WithRunID("run-1"))
	})

	t.Run("WritesRotatingFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.log")
		log, err := New(Config{
			Level:  "info",
			Format: "json",
			File:   &FileConfig{Enabled: true, Path: path, MaxSize: 1},
		})
		require.NoError(t, err)

		log.WithComponent("etl").Info("batch finished")
		_ = log.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"etl"`)
		assert.Contains(t, string(data), "batch finished")
	})
}
