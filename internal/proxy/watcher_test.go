package proxy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"graphmem/internal/customtypes"
)

func TestTypesWatcherReloadsValidChanges(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte("entity_types:\n  Person:\n    fields: {}\n"), 0o644))

	var mu sync.Mutex
	var loaded []*customtypes.TypeSet
	tw, err := NewTypesWatcher(path, func(set *customtypes.TypeSet) {
		mu.Lock()
		loaded = append(loaded, set)
		mu.Unlock()
	})
	require.NoError(t, err)
	tw.debounceDur = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tw.Start(ctx))
	defer tw.Stop()

	require.NoError(t, os.WriteFile(path, []byte("entity_types:\n  Person:\n    fields: {}\n  Project:\n    fields:\n      status: str\n"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(loaded) > 0 && len(loaded[len(loaded)-1].Entities) == 2
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	reloads := len(loaded)
	assert.Equal(t, []string{"Person", "Project"}, loaded[reloads-1].EntityNames())
	mu.Unlock()

	// A protected field keeps the previous set in place.
	require.NoError(t, os.WriteFile(path, []byte("entity_types:\n  Person:\n    fields:\n      uuid: str\n"), 0o644))
	require.Eventually(t, func() bool {
		return strings.Contains(tw.Stats().LastRejection, "protected attribute")
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, set := range loaded[reloads:] {
		if person, ok := set.Entities["Person"]; ok {
			_, hasUUID := person.Field("uuid")
			assert.False(t, hasUUID)
		}
	}
}

func TestTypesWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "types.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"entity_types":{}}`), 0o644))

	tw, err := NewTypesWatcher(path, nil)
	require.NoError(t, err)
	tw.debounceDur = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, tw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
	time.Sleep(200 * time.Millisecond)
	tw.Stop()

	assert.Zero(t, tw.Stats().Events)
	assert.Zero(t, tw.Stats().Reloads)
}

func TestTypesWatcherStartFailsForMissingDir(t *testing.T) {
	tw, err := NewTypesWatcher(filepath.Join(t.TempDir(), "missing", "types.json"), nil)
	require.NoError(t, err)
	defer tw.Stop()
	assert.Error(t, tw.Start(context.Background()))
}
