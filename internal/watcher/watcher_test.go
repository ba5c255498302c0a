package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openrelay/k2think-proxy/internal/watcher"
)

func TestWatcher_FileRewriteTriggersReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.txt")
	require.NoError(t, os.WriteFile(path, []byte("tok-a\n"), 0o644))

	var calls int32

	w, err := watcher.New([]string{path}, 20*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("tok-a\ntok-b\n"), 0o644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_RapidRewritesCoalesceIntoOneReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.txt")
	require.NoError(t, os.WriteFile(path, []byte("tok-a\n"), 0o644))

	var calls int32

	w, err := watcher.New([]string{path}, 100*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("tok-a\ntok-b\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWatcher_UntrackedFileInSameDirIsIgnored(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "tokens.txt")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(tracked, []byte("tok-a\n"), 0o644))

	var calls int32

	w, err := watcher.New([]string{tracked}, 20*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(other, []byte("irrelevant\n"), 0o644))
	time.Sleep(200 * time.Millisecond)

	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
