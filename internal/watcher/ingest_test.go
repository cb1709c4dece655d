package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcorroto/semantic-codebase-index/internal/indexmanager"
)

// batchWatcher implements BatchWatcher with a directly-controllable channel,
// standing in for the debouncer's output in isolation from fsnotify/polling.
type batchWatcher struct {
	events chan []FileEvent
	errs   chan error
}

func newBatchWatcher() *batchWatcher {
	return &batchWatcher{events: make(chan []FileEvent, 4), errs: make(chan error, 4)}
}

func (b *batchWatcher) Start(ctx context.Context, path string) error { return nil }
func (b *batchWatcher) Stop() error                                  { return nil }
func (b *batchWatcher) Events() <-chan []FileEvent                   { return b.events }
func (b *batchWatcher) Errors() <-chan error                         { return b.errs }

type fakeIndexer struct {
	mu    sync.Mutex
	calls []indexmanager.IndexOptions
}

func (f *fakeIndexer) IndexFiles(ctx context.Context, rootPath string, opts indexmanager.IndexOptions) (indexmanager.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return indexmanager.Result{FilesProcessed: 1}, nil
}

func (f *fakeIndexer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeIndexer) lastOpts() indexmanager.IndexOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func TestIngestLoopTriggersIndexOnBatch(t *testing.T) {
	bw := newBatchWatcher()
	idx := &fakeIndexer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		IngestLoop(ctx, bw, idx, "/project", indexmanager.IndexOptions{})
		close(done)
	}()

	bw.events <- []FileEvent{{Path: "main.go", Operation: OpModify, Timestamp: time.Now()}}

	require.Eventually(t, func() bool { return idx.callCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.False(t, idx.lastOpts().ForceReindex)

	cancel()
	<-done
}

func TestIngestLoopForcesReindexOnGitignoreChange(t *testing.T) {
	bw := newBatchWatcher()
	idx := &fakeIndexer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		IngestLoop(ctx, bw, idx, "/project", indexmanager.IndexOptions{})
		close(done)
	}()

	bw.events <- []FileEvent{
		{Path: "main.go", Operation: OpModify, Timestamp: time.Now()},
		{Path: ".gitignore", Operation: OpGitignoreChange, Timestamp: time.Now()},
	}

	require.Eventually(t, func() bool { return idx.callCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, idx.lastOpts().ForceReindex)

	cancel()
	<-done
}

func TestIngestLoopStopsOnContextCancel(t *testing.T) {
	bw := newBatchWatcher()
	idx := &fakeIndexer{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		IngestLoop(ctx, bw, idx, "/project", indexmanager.IndexOptions{})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("IngestLoop did not return after context cancellation")
	}
}

func TestIngestLoopStopsWhenEventsChannelCloses(t *testing.T) {
	bw := newBatchWatcher()
	idx := &fakeIndexer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		IngestLoop(ctx, bw, idx, "/project", indexmanager.IndexOptions{})
		close(done)
	}()

	close(bw.events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("IngestLoop did not return after Events channel closed")
	}
}
