package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevantEvents(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "login.yaml")
	casesDir := filepath.Join(dir, "cases")
	fw, err := NewFileWatcher([]string{file, casesDir}, time.Second, nil)
	require.NoError(t, err)
	defer fw.watcher.Close()

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"target write", fsnotify.Event{Name: file, Op: fsnotify.Write}, true},
		{"target chmod", fsnotify.Event{Name: file, Op: fsnotify.Chmod}, false},
		{"sibling", fsnotify.Event{Name: filepath.Join(dir, "other.yaml"), Op: fsnotify.Write}, false},
		{"case in dir", fsnotify.Event{Name: filepath.Join(casesDir, "cart.yml"), Op: fsnotify.Create}, true},
		{"non-case in dir", fsnotify.Event{Name: filepath.Join(casesDir, "notes.txt"), Op: fsnotify.Write}, false},
		{"editor swap", fsnotify.Event{Name: filepath.Join(casesDir, ".cart.yml.swp"), Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fw.relevant(tt.ev))
		})
	}
}

func TestSettledWaitsForDebounce(t *testing.T) {
	fw, err := NewFileWatcher([]string{t.TempDir()}, time.Second, nil)
	require.NoError(t, err)
	defer fw.watcher.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fw.now = func() time.Time { return now }
	fw.pending["/a.yaml"] = now.Add(-2 * time.Second)
	fw.pending["/b.yaml"] = now.Add(-100 * time.Millisecond)

	assert.Equal(t, []string{"/a.yaml"}, fw.settled())
	assert.Empty(t, fw.settled())

	now = now.Add(time.Second)
	assert.Equal(t, []string{"/b.yaml"}, fw.settled())
}

func TestStartReportsWrites(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "case.yaml")
	require.NoError(t, os.WriteFile(file, []byte("- aiTap: a\n"), 0644))

	var mu sync.Mutex
	var got []string
	fw, err := NewFileWatcher([]string{file}, 50*time.Millisecond, func(ctx context.Context, files []string) error {
		mu.Lock()
		got = append(got, files...)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fw.Start(ctx) }()
	require.Eventually(t, fw.IsWatching, time.Second, 10*time.Millisecond)
	// give fsnotify a moment to register the directory
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(file, []byte("- aiTap: b\n"), 0644))
	abs, _ := filepath.Abs(file)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0 && got[0] == abs
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, fw.IsWatching())

	_, err = NewFileWatcher(nil, 0, nil)
	assert.Error(t, err)
}
