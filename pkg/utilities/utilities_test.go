package utilities

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSnowflakeIDsAreUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewSnowflakeID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestKSUIDLength(t *testing.T) {
	assert.Len(t, NewKSUID(), 27)
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("debug"))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning"))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("nonsense"))
}

func TestInitWithFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	lg, err := Init(Config{Level: "info", File: path, MaxAgeDays: 1})
	require.NoError(t, err)
	lg.Info("hello")
	_ = lg.Sync()
}
