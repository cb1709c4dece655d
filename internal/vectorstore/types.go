// Package vectorstore persists ChunkRecords in a multi-tenant vector table:
// one coder/hnsw graph per project for ANN search, paired with a
// modernc.org/sqlite metadata table carrying every other ChunkRecord column
// so filters, stats, and file-scoped queries can run as plain SQL.
package vectorstore

import "time"

// ChunkRecord is a Chunk plus the fields it gains once embedded and stored.
type ChunkRecord struct {
	ChunkID    string
	ProjectID  string
	FilePath   string
	Content    string
	Context    string
	Language   string
	ChunkType  string
	Name       string
	ParentName string
	StartLine  int
	EndLine    int
	TokenCount int
	Vector     []float32
	FileHash   string
	Timestamp  int64 // unix milliseconds
}

// SearchOptions filters and bounds a Search call.
type SearchOptions struct {
	TopK             int
	MinScore         float32
	FilterByFile     string
	FilterByLanguage string
	FilterByType     string
	FilterByProject  string
}

// SearchResult pairs a stored record with its similarity score.
type SearchResult struct {
	Record ChunkRecord
	Score  float32
}

// Stats summarizes a project's (or, with an empty projectID, every
// project's) stored chunks.
type Stats struct {
	TotalChunks    int
	FileCount      int
	LanguageCounts map[string]int
	TypeCounts     map[string]int
	LastUpdated    time.Time
}
