package indexmanager

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gcorroto/semantic-codebase-index/internal/chunk"
	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
	"github.com/gcorroto/semantic-codebase-index/internal/embedclient"
	"github.com/gcorroto/semantic-codebase-index/internal/logging"
	"github.com/gcorroto/semantic-codebase-index/internal/scanner"
	"github.com/gcorroto/semantic-codebase-index/internal/vectorstore"
)

// Manager coordinates indexing and search for one storage root (spec.md
// §6's <storageRoot>, default ".memorybank"), holding one vector store
// shared across every project it has indexed.
type Manager struct {
	storageDir string
	store      *vectorstore.Store
	embedder   *embedclient.Client
	chunker    *chunk.CodeChunker
	scanner    *scanner.Scanner
	maxTokens  int
	overlap    int
	logCleanup func()
}

// Config configures a Manager.
type Config struct {
	StorageDir         string
	Dimensions         int
	Embedder           *embedclient.Client
	MaxTokens          int
	ChunkOverlapTokens int

	// LogFilePath, when set, routes indexing logs through
	// logging.Setup (rotating JSON file, optionally mirrored to stderr)
	// and installs the result as the default slog logger for this
	// process, instead of relying on slog's unconfigured default.
	LogFilePath string
	// LogLevel is the minimum level for LogFilePath logging (debug, info,
	// warn, error). Defaults to "info" when LogFilePath is set and this
	// is empty.
	LogLevel string
}

// New opens the vector store under cfg.StorageDir and returns a ready
// Manager. The caller owns cfg.Embedder's lifecycle (e.g. flushing its
// cache) and may share one Embedder across multiple Managers.
func New(cfg Config) (*Manager, error) {
	if cfg.Embedder == nil {
		return nil, codeerr.Validation("indexmanager requires an embedder", nil)
	}
	store, err := vectorstore.Open(cfg.StorageDir, cfg.Dimensions)
	if err != nil {
		return nil, err
	}

	var logCleanup func()
	if cfg.LogFilePath != "" {
		level := cfg.LogLevel
		if level == "" {
			level = "info"
		}
		logger, cleanup, err := logging.Setup(logging.Config{
			Level:         level,
			FilePath:      cfg.LogFilePath,
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		})
		if err != nil {
			store.Close()
			return nil, codeerr.IO("failed to set up indexing log", err)
		}
		slog.SetDefault(logger)
		logCleanup = cleanup
	}

	return &Manager{
		storageDir: cfg.StorageDir,
		store:      store,
		embedder:   cfg.Embedder,
		chunker:    chunk.NewCodeChunkerWithOptions(chunk.CodeChunkerOptions{MaxChunkTokens: cfg.MaxTokens, OverlapTokens: cfg.ChunkOverlapTokens}),
		scanner:    scanner.New(),
		maxTokens:  cfg.MaxTokens,
		overlap:    cfg.ChunkOverlapTokens,
		logCleanup: logCleanup,
	}, nil
}

// Close releases the vector store and chunker's resources, and flushes the
// log file if logging.Setup was configured.
func (m *Manager) Close() error {
	m.chunker.Close()
	if m.logCleanup != nil {
		m.logCleanup()
	}
	return m.store.Close()
}

// IndexFiles runs spec.md §4.6's five-step algorithm over rootPath.
func (m *Manager) IndexFiles(ctx context.Context, rootPath string, opts IndexOptions) (Result, error) {
	start := time.Now()
	projectID := opts.ProjectID
	if projectID == "" {
		projectID = DeriveProjectID(rootPath)
	}

	slog.Info("indexing started", "project", projectID, "root", rootPath, "force", opts.ForceReindex)

	scanOpts := scanner.NewScanOptions(rootPath)
	scanOpts.FollowSymlinks = false
	scanOpts.IncludeHidden = opts.IncludeHidden
	if opts.MaxFileSize > 0 {
		scanOpts.MaxFileSize = opts.MaxFileSize
	}

	files, err := m.scanner.Scan(ctx, scanOpts)
	if err != nil {
		return Result{}, err
	}

	meta, err := loadMetadata(m.storageDir)
	if err != nil {
		return Result{}, err
	}

	seen := make(map[string]bool, len(files))
	var filesToIndex []scanner.FileRecord
	for _, f := range files {
		seen[f.Path] = true
		existing, ok := meta.Files[f.Path]
		if opts.ForceReindex || !ok || existing.Hash != f.Hash {
			filesToIndex = append(filesToIndex, f)
		}
	}

	result := Result{}
	for _, f := range filesToIndex {
		chunksCreated, err := m.indexFile(ctx, projectID, rootPath, f)
		if err != nil {
			slog.Warn("indexing file failed", "file", f.Path, "error", err)
			result.Errors = append(result.Errors, FileError{FilePath: f.Path, Err: err})
			result.PendingFiles = append(result.PendingFiles, f.Path)
			continue
		}

		meta.Files[f.Path] = fileMeta{Hash: f.Hash, LastIndexed: time.Now(), ChunkCount: chunksCreated}
		result.FilesProcessed++
		result.ChangedFiles = append(result.ChangedFiles, f.Path)
		result.ChunksCreated += chunksCreated
	}

	// Previously-indexed files the scan no longer returned — deleted, or
	// newly covered by a .gitignore/.memoryignore pattern — are pruned from
	// the store so a gitignore change actually removes them from search
	// results instead of leaving stale chunks behind.
	for path := range meta.Files {
		if seen[path] {
			continue
		}
		if err := m.store.DeleteByFile(ctx, projectID, path); err != nil {
			slog.Warn("failed to prune removed file from store", "file", path, "error", err)
			continue
		}
		delete(meta.Files, path)
		result.RemovedFiles = append(result.RemovedFiles, path)
	}

	if err := meta.save(m.storageDir); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	slog.Info("indexing finished", "project", projectID, "filesProcessed", result.FilesProcessed,
		"chunksCreated", result.ChunksCreated, "errors", len(result.Errors), "duration", result.Duration)
	return result, nil
}

// indexFile implements spec.md §4.6 step 4: read, chunk, embed, stamp,
// atomically replace, one file at a time.
func (m *Manager) indexFile(ctx context.Context, projectID, rootPath string, f scanner.FileRecord) (int, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return 0, codeerr.IO("read file", err).WithDetail("path", f.Path)
	}

	chunks, err := m.chunker.Chunk(ctx, &chunk.FileInput{Path: f.Path, Content: content, Language: f.Language})
	if err != nil {
		return 0, codeerr.Parse("chunk file", err).WithDetail("path", f.Path)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	items := make([]embedclient.Item, len(chunks))
	for i, c := range chunks {
		items[i] = embedclient.Item{ChunkID: c.ID, Content: c.Content, ContentHash: embedclient.ContentHash(c.Content)}
	}

	embeddings, err := m.embedder.EmbedBatch(ctx, items, embedclient.BatchOptions{AutoSave: true})
	if err != nil {
		return 0, codeerr.Embedding("embed chunks", err).WithDetail("path", f.Path)
	}

	now := time.Now().UnixMilli()
	records := make([]vectorstore.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.ChunkRecord{
			ChunkID: c.ID, ProjectID: projectID, FilePath: c.FilePath,
			Content: c.Content, Context: c.Context, Language: c.Language,
			ChunkType: string(c.ChunkType), Name: c.Name, ParentName: c.ParentName,
			StartLine: c.StartLine, EndLine: c.EndLine, TokenCount: c.TokenCount,
			Vector: embeddings[i].Vector, FileHash: f.Hash, Timestamp: now,
		}
	}

	if err := m.store.ReplaceFile(ctx, projectID, f.Path, records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Search implements spec.md §4.6's search path: embed the query, then
// delegate to the vector store filtered to projectID, ordered by
// decreasing score.
func (m *Manager) Search(ctx context.Context, projectID, query string, opts SearchOptions) ([]vectorstore.SearchResult, error) {
	if projectID == "" {
		return nil, codeerr.Validation("search requires projectId", nil)
	}
	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return m.store.Search(ctx, vector, vectorstore.SearchOptions{
		TopK: opts.TopK, MinScore: opts.MinScore,
		FilterByFile: opts.FilterByFile, FilterByLanguage: opts.FilterByLanguage,
		FilterByProject: projectID,
	})
}

// StorageDirFor resolves the per-project storage directory under a
// workspace root, per spec.md §6's on-disk layout (default ".memorybank").
func StorageDirFor(workspaceRoot, storagePathOverride string) string {
	if storagePathOverride != "" {
		if filepath.IsAbs(storagePathOverride) {
			return storagePathOverride
		}
		return filepath.Join(workspaceRoot, storagePathOverride)
	}
	return filepath.Join(workspaceRoot, ".memorybank")
}
