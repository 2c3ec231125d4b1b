package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T, cats map[string]bool) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core), cats)
	t.Cleanup(func() { Use(zap.NewNop(), nil) })
	return logs
}

func TestGetNamesLoggerAfterCategory(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryTypes).Info("created custom entity type: %s", "Person")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "types", entries[0].LoggerName)
	assert.Equal(t, "created custom entity type: Person", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestCategoryToggle(t *testing.T) {
	logs := observe(t, map[string]bool{"store": false, "tools": true})

	Store("should be dropped")
	Tools("kept")
	Proxy("kept too, not listed")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "tools", entries[0].LoggerName)
	assert.Equal(t, "proxy", entries[1].LoggerName)

	assert.False(t, IsCategoryEnabled(CategoryStore))
	assert.True(t, IsCategoryEnabled(CategoryEpisodes))
}

func TestWithAddsFields(t *testing.T) {
	logs := observe(t, nil)

	Get(CategoryEpisodes).With("group_id", "g1").Warn("episode %s rejected", "e1")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "g1", entries[0].ContextMap()["group_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestTimerLogging(t *testing.T) {
	logs := observe(t, nil)

	timer := StartTimer(CategoryTools, "search_memory_nodes")
	time.Sleep(time.Millisecond)
	elapsed := timer.Stop()

	assert.Greater(t, elapsed, time.Duration(0))
	require.Len(t, logs.All(), 1)

	slow := StartTimer(CategoryTools, "add_memory")
	slow.StopWithThreshold(0)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}

func TestInitializeWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphmem.log")
	t.Cleanup(func() { Use(zap.NewNop(), nil) })

	require.NoError(t, Initialize(Config{Level: "debug", Format: "json", File: path}))
	Boot("hello %d", 1)
	Sync()

	assert.FileExists(t, path)
}

func TestInitializeRejectsUnknownLevel(t *testing.T) {
	err := Initialize(Config{Level: "chatty"})
	assert.Error(t, err)

	err = Initialize(Config{Format: "xml"})
	assert.Error(t, err)
	Use(zap.NewNop(), nil)
}
