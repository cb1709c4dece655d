package watcher

import (
	"context"
	"log/slog"

	"github.com/gcorroto/semantic-codebase-index/internal/indexmanager"
)

// FileIndexer is the subset of *indexmanager.Manager this package drives.
type FileIndexer interface {
	IndexFiles(ctx context.Context, rootPath string, opts indexmanager.IndexOptions) (indexmanager.Result, error)
}

// BatchWatcher is satisfied by HybridWatcher: its Events channel carries
// debounced batches, not single FileEvents like the Watcher interface.
type BatchWatcher interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []FileEvent
	Errors() <-chan error
}

// IngestLoop drains w's event channel and triggers one incremental
// mgr.IndexFiles call per debounced batch, giving spec.md §1's
// "continuously ingests" framing a concrete driver. ForceReindex is set
// only when a batch contains a .gitignore or config change, since those
// can change which files are in scope, not just their content.
// Runs until ctx is cancelled or w's Events channel closes.
func IngestLoop(ctx context.Context, w BatchWatcher, mgr FileIndexer, rootPath string, opts indexmanager.IndexOptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-w.Events():
			if !ok {
				return
			}

			callOpts := opts
			for _, e := range events {
				if e.Operation == OpGitignoreChange || e.Operation == OpConfigChange {
					callOpts.ForceReindex = true
					break
				}
			}

			result, err := mgr.IndexFiles(ctx, rootPath, callOpts)
			if err != nil {
				slog.Error("incremental index failed", "error", err, "batch_size", len(events))
				continue
			}
			if result.FilesProcessed > 0 {
				slog.Info("incremental index complete",
					"files_processed", result.FilesProcessed,
					"chunks_created", result.ChunksCreated,
				)
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}
