package utilities

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestIDGenerator_Unique(t *testing.T) {
	g := NewIDGenerator(1)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := g.Next()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestIDGenerator_BadNodeFallsBackToKSUID(t *testing.T) {
	g := NewIDGenerator(99999)
	id := g.Next()
	assert.Len(t, id, 27)
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("bogus"))
}

func TestInit_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	lg, err := Init(LogConfig{Level: "debug", File: path})
	require.NoError(t, err)
	lg.Info("hello")
	_ = lg.Sync()
}
