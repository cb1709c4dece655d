package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT NOT NULL,
	project_id  TEXT NOT NULL,
	file_path   TEXT NOT NULL,
	content     TEXT NOT NULL,
	context     TEXT NOT NULL,
	language    TEXT NOT NULL,
	chunk_type  TEXT NOT NULL,
	name        TEXT NOT NULL,
	parent_name TEXT NOT NULL,
	start_line  INTEGER NOT NULL,
	end_line    INTEGER NOT NULL,
	token_count INTEGER NOT NULL,
	file_hash   TEXT NOT NULL,
	timestamp   INTEGER NOT NULL,
	PRIMARY KEY (project_id, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(project_id, file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_language ON chunks(project_id, language);
CREATE INDEX IF NOT EXISTS idx_chunks_type ON chunks(project_id, chunk_type);
`

// Store is the multi-tenant ChunkRecord store: a sqlite metadata table
// shared by every project, paired with one coder/hnsw ANN graph per
// project, persisted under dir.
type Store struct {
	dir        string
	dimensions int
	db         *sql.DB

	mu           sync.Mutex // guards graphs/locks/projectLocks maps below
	graphs       map[string]*projectGraph
	locks        map[string]*sync.Mutex   // per (projectId:filePath) atomic replace
	projectLocks map[string]*sync.RWMutex // per projectId: excludes Search from an in-flight ReplaceFile
}

// Open opens (creating if necessary) the store rooted at dir.
func Open(dir string, dimensions int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, codeerr.Storage("create vector store directory", err)
	}

	dsn := filepath.Join(dir, "metadata.db") + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, codeerr.Storage("open vector metadata database", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, codeerr.Storage("configure vector metadata database", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, codeerr.Storage("create vector metadata schema", err)
	}

	return &Store{
		dir:          dir,
		dimensions:   dimensions,
		db:           db,
		graphs:       make(map[string]*projectGraph),
		locks:        make(map[string]*sync.Mutex),
		projectLocks: make(map[string]*sync.RWMutex),
	}, nil
}

// Close flushes every loaded project graph and closes the metadata database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for projectID, g := range s.graphs {
		if err := g.save(s.graphPath(projectID)); err != nil {
			return err
		}
	}
	return s.db.Close()
}

func (s *Store) graphPath(projectID string) string {
	return filepath.Join(s.dir, projectID+".hnsw")
}

// graphFor returns the loaded graph for projectID, lazily loading it from
// disk (or creating an empty one) on first access.
func (s *Store) graphFor(projectID string) (*projectGraph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.graphs[projectID]; ok {
		return g, nil
	}

	g := newProjectGraph(s.dimensions)
	if err := g.load(s.graphPath(projectID)); err != nil {
		return nil, err
	}
	s.graphs[projectID] = g
	return g, nil
}

func (s *Store) fileLock(projectID, filePath string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := projectID + "\x00" + filePath
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// projectLock returns the RWMutex that serializes a project's ReplaceFile
// calls against its Search calls: ReplaceFile holds it for writing so a
// concurrent Search never observes a chunk set mid-delete-then-insert.
func (s *Store) projectLock(projectID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.projectLocks[projectID]
	if !ok {
		l = &sync.RWMutex{}
		s.projectLocks[projectID] = l
	}
	return l
}

// Insert upserts records into both the metadata table and each record's
// project graph. Schema is created on Open, so a first call needs no extra
// setup.
func (s *Store) Insert(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return codeerr.Storage("begin insert transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, project_id, file_path, content, context, language,
			chunk_type, name, parent_name, start_line, end_line, token_count, file_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, chunk_id) DO UPDATE SET
			file_path=excluded.file_path, content=excluded.content, context=excluded.context,
			language=excluded.language, chunk_type=excluded.chunk_type, name=excluded.name,
			parent_name=excluded.parent_name, start_line=excluded.start_line, end_line=excluded.end_line,
			token_count=excluded.token_count, file_hash=excluded.file_hash, timestamp=excluded.timestamp
	`)
	if err != nil {
		return codeerr.Storage("prepare insert statement", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if r.ProjectID == "" {
			return codeerr.Validation("chunk record missing projectId", nil).WithDetail("chunkId", r.ChunkID)
		}
		if _, err := stmt.ExecContext(ctx, r.ChunkID, r.ProjectID, r.FilePath, r.Content, r.Context,
			r.Language, r.ChunkType, r.Name, r.ParentName, r.StartLine, r.EndLine, r.TokenCount,
			r.FileHash, r.Timestamp); err != nil {
			return codeerr.Storage("insert chunk row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return codeerr.Storage("commit insert transaction", err)
	}

	byProject := make(map[string][]ChunkRecord)
	for _, r := range records {
		byProject[r.ProjectID] = append(byProject[r.ProjectID], r)
	}
	for projectID, rs := range byProject {
		g, err := s.graphFor(projectID)
		if err != nil {
			return err
		}
		for _, r := range rs {
			if err := g.upsert(r.ChunkID, r.Vector); err != nil {
				return err
			}
		}
		if err := g.save(s.graphPath(projectID)); err != nil {
			return err
		}
	}

	return nil
}

// DeleteByFile removes every row for (projectID, filePath) from both the
// metadata table and the project's graph.
func (s *Store) DeleteByFile(ctx context.Context, projectID, filePath string) error {
	ids, err := s.chunkIDsForFile(ctx, projectID, filePath)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE project_id = ? AND file_path = ?`, projectID, filePath); err != nil {
		return codeerr.Storage("delete chunks by file", err)
	}

	g, err := s.graphFor(projectID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		g.remove(id)
	}
	return g.save(s.graphPath(projectID))
}

// DeleteByIds removes the given chunk IDs from whichever project each
// belongs to.
func (s *Store) DeleteByIds(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT chunk_id, project_id FROM chunks WHERE chunk_id IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return codeerr.Storage("query chunks by id", err)
	}
	byProject := make(map[string][]string)
	for rows.Next() {
		var chunkID, projectID string
		if err := rows.Scan(&chunkID, &projectID); err != nil {
			rows.Close()
			return codeerr.Storage("scan chunk row", err)
		}
		byProject[projectID] = append(byProject[projectID], chunkID)
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM chunks WHERE chunk_id IN (%s)`, strings.Join(placeholders, ",")), args...); err != nil {
		return codeerr.Storage("delete chunks by id", err)
	}

	for projectID, chunkIDs := range byProject {
		g, err := s.graphFor(projectID)
		if err != nil {
			return err
		}
		for _, id := range chunkIDs {
			g.remove(id)
		}
		if err := g.save(s.graphPath(projectID)); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceFile atomically replaces all chunks for (projectID, filePath):
// concurrent Search calls observe either the old set or the new set, never
// a mix, because Search holds the project's read lock for the full span of
// its graph search and record lookups, and ReplaceFile holds the write lock
// for the full span of its delete-then-insert.
func (s *Store) ReplaceFile(ctx context.Context, projectID, filePath string, records []ChunkRecord) error {
	fLock := s.fileLock(projectID, filePath)
	fLock.Lock()
	defer fLock.Unlock()

	pLock := s.projectLock(projectID)
	pLock.Lock()
	defer pLock.Unlock()

	if err := s.DeleteByFile(ctx, projectID, filePath); err != nil {
		return err
	}
	return s.Insert(ctx, records)
}

func (s *Store) chunkIDsForFile(ctx context.Context, projectID, filePath string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks WHERE project_id = ? AND file_path = ?`, projectID, filePath)
	if err != nil {
		return nil, codeerr.Storage("query chunk ids by file", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, codeerr.Storage("scan chunk id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Search runs ANN search against the project graph named by
// opts.FilterByProject, or against every known project's graph when it is
// empty (diagnostics only, per spec.md's multi-project invariant).
func (s *Store) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error) {
	projectIDs, err := s.candidateProjects(ctx, opts.FilterByProject)
	if err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	var results []SearchResult
	for _, projectID := range projectIDs {
		projectResults, err := s.searchProject(ctx, projectID, queryVector, topK, opts)
		if err != nil {
			return nil, err
		}
		results = append(results, projectResults...)
	}

	sortResultsByScoreDesc(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// searchProject runs the graph search and chunk-record lookups for a single
// project under that project's read lock, held for the whole span so a
// concurrent ReplaceFile never interleaves a delete-then-insert in the
// middle of it (see ReplaceFile).
func (s *Store) searchProject(ctx context.Context, projectID string, queryVector []float32, topK int, opts SearchOptions) ([]SearchResult, error) {
	pLock := s.projectLock(projectID)
	pLock.RLock()
	defer pLock.RUnlock()

	g, err := s.graphFor(projectID)
	if err != nil {
		return nil, err
	}
	hits, err := g.search(queryVector, topK)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < opts.MinScore {
			continue
		}
		record, ok, err := s.lookupRecord(ctx, projectID, h.ChunkID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if opts.FilterByFile != "" && record.FilePath != opts.FilterByFile {
			continue
		}
		if opts.FilterByLanguage != "" && record.Language != opts.FilterByLanguage {
			continue
		}
		if opts.FilterByType != "" && record.ChunkType != opts.FilterByType {
			continue
		}
		results = append(results, SearchResult{Record: record, Score: h.Score})
	}
	return results, nil
}

func (s *Store) candidateProjects(ctx context.Context, filterByProject string) ([]string, error) {
	if filterByProject != "" {
		return []string{filterByProject}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM chunks`)
	if err != nil {
		return nil, codeerr.Storage("list projects", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, codeerr.Storage("scan project id", err)
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (s *Store) lookupRecord(ctx context.Context, projectID, chunkID string) (ChunkRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, project_id, file_path, content, context, language, chunk_type,
			name, parent_name, start_line, end_line, token_count, file_hash, timestamp
		FROM chunks WHERE project_id = ? AND chunk_id = ?`, projectID, chunkID)

	var r ChunkRecord
	if err := row.Scan(&r.ChunkID, &r.ProjectID, &r.FilePath, &r.Content, &r.Context, &r.Language,
		&r.ChunkType, &r.Name, &r.ParentName, &r.StartLine, &r.EndLine, &r.TokenCount, &r.FileHash, &r.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return ChunkRecord{}, false, nil
		}
		return ChunkRecord{}, false, codeerr.Storage("lookup chunk record", err)
	}
	return r, true, nil
}

// GetAllChunks returns every chunk for projectID, or for every project when
// projectID is empty.
func (s *Store) GetAllChunks(ctx context.Context, projectID string) ([]ChunkRecord, error) {
	return s.queryChunks(ctx, "", projectID, "")
}

// GetChunksByFile returns every chunk for (projectID, filePath).
func (s *Store) GetChunksByFile(ctx context.Context, projectID, filePath string) ([]ChunkRecord, error) {
	return s.queryChunks(ctx, "", projectID, filePath)
}

func (s *Store) queryChunks(ctx context.Context, _ string, projectID, filePath string) ([]ChunkRecord, error) {
	query := `SELECT chunk_id, project_id, file_path, content, context, language, chunk_type,
		name, parent_name, start_line, end_line, token_count, file_hash, timestamp FROM chunks WHERE 1=1`
	var args []any
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	if filePath != "" {
		query += " AND file_path = ?"
		args = append(args, filePath)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, codeerr.Storage("query chunks", err)
	}
	defer rows.Close()

	var records []ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		if err := rows.Scan(&r.ChunkID, &r.ProjectID, &r.FilePath, &r.Content, &r.Context, &r.Language,
			&r.ChunkType, &r.Name, &r.ParentName, &r.StartLine, &r.EndLine, &r.TokenCount, &r.FileHash, &r.Timestamp); err != nil {
			return nil, codeerr.Storage("scan chunk row", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// GetFileHashes returns the last-seen fileHash per filePath for projectID.
func (s *Store) GetFileHashes(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_path, file_hash FROM chunks WHERE project_id = ? GROUP BY file_path`, projectID)
	if err != nil {
		return nil, codeerr.Storage("query file hashes", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, codeerr.Storage("scan file hash row", err)
		}
		hashes[path] = hash
	}
	return hashes, nil
}

// GetStats computes chunk/file/language/type counts from projected columns,
// never touching vectors, per spec.md's "implementations SHOULD compute
// these ... without pulling vectors" guidance.
func (s *Store) GetStats(ctx context.Context, projectID string) (Stats, error) {
	where := "1=1"
	var args []any
	if projectID != "" {
		where = "project_id = ?"
		args = append(args, projectID)
	}

	stats := Stats{LanguageCounts: map[string]int{}, TypeCounts: map[string]int{}}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*), COUNT(DISTINCT file_path), COALESCE(MAX(timestamp), 0) FROM chunks WHERE %s`, where), args...)
	var totalChunks, fileCount int
	var lastUpdatedMs int64
	if err := row.Scan(&totalChunks, &fileCount, &lastUpdatedMs); err != nil {
		return Stats{}, codeerr.Storage("compute chunk stats", err)
	}
	stats.TotalChunks = totalChunks
	stats.FileCount = fileCount
	if lastUpdatedMs > 0 {
		stats.LastUpdated = time.UnixMilli(lastUpdatedMs)
	}

	langRows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT language, COUNT(*) FROM chunks WHERE %s GROUP BY language`, where), args...)
	if err != nil {
		return Stats{}, codeerr.Storage("compute language stats", err)
	}
	for langRows.Next() {
		var lang string
		var count int
		if err := langRows.Scan(&lang, &count); err != nil {
			langRows.Close()
			return Stats{}, codeerr.Storage("scan language stat row", err)
		}
		stats.LanguageCounts[lang] = count
	}
	langRows.Close()

	typeRows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT chunk_type, COUNT(*) FROM chunks WHERE %s GROUP BY chunk_type`, where), args...)
	if err != nil {
		return Stats{}, codeerr.Storage("compute type stats", err)
	}
	for typeRows.Next() {
		var t string
		var count int
		if err := typeRows.Scan(&t, &count); err != nil {
			typeRows.Close()
			return Stats{}, codeerr.Storage("scan type stat row", err)
		}
		stats.TypeCounts[t] = count
	}
	typeRows.Close()

	return stats, nil
}

func sortResultsByScoreDesc(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}
