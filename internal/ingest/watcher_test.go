package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectPaths(t *testing.T, events <-chan string, want int) map[string]int {
	t.Helper()
	got := make(map[string]int, want)
	deadline := time.After(10 * time.Second)
	for len(got) < want {
		select {
		case p, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed after %d of %d paths", len(got), want)
			}
			got[p]++
		case <-deadline:
			t.Fatalf("timed out after %d of %d paths", len(got), want)
		}
	}
	return got
}

// A backlog larger than the channel buffer must still be delivered in full.
func TestWatcherInitialScanDeliversFullBacklog(t *testing.T) {
	dir := t.TempDir()
	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("doc-%03d.jpg", i)), []byte("x"), 0o644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	got := collectPaths(t, events, n)
	assert.Len(t, got, n)
}

// A rapid burst of new files under a short debounce must deliver every file,
// with events for the same path coalesced rather than duplicated or lost.
func TestWatcherDebouncedBurst(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:    []string{dir},
		Debounce: time.Millisecond,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	const n = 300
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("burst-%03d.jpg", i))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	got := collectPaths(t, events, n)
	require.Len(t, got, n)
	for p, count := range got {
		assert.LessOrEqual(t, count, 2, "path %s emitted too many times", p)
	}
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{dir},
		InitialScan: true,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	got := collectPaths(t, events, 1)
	_, ok := got[filepath.Join(dir, "photo.jpg")]
	assert.True(t, ok)

	select {
	case p := <-events:
		t.Fatalf("unexpected extra event: %s", p)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherRequiresRoots(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}
