// Package scanner discovers indexable files in a project directory,
// respecting exclusion patterns, .gitignore/.memoryignore rules, and
// sensitive file patterns, and computes their content hashes.
package scanner

import (
	"time"

	"github.com/gcorroto/semantic-codebase-index/internal/langdetect"
)

// FileRecord describes one discoverable file in a project tree.
type FileRecord struct {
	Path        string              // relative to ProjectRoot, slash-separated
	AbsPath     string              // absolute path on disk
	Size        int64               // bytes
	ModTime     time.Time           // last modification time
	Hash        string              // sha256 of file contents, hex-encoded
	ContentType langdetect.ContentType
	Language    string // "" when unrecognized
	IsGenerated bool
}

// ScanOptions configures a scan.
type ScanOptions struct {
	// ProjectRoot is the directory to scan. Required.
	ProjectRoot string

	// ExtraExcludePatterns are exclude patterns beyond the baseline set
	// and the project's .gitignore/.memoryignore files.
	ExtraExcludePatterns []string

	// RespectGitignore toggles .gitignore/.memoryignore parsing (default true
	// when ScanOptions is constructed via NewScanOptions).
	RespectGitignore bool

	// IncludeHidden includes entries whose leaf name begins with '.'.
	// Independent of ignore patterns: false by default, dotfiles are
	// skipped even if no ignore rule matches them.
	IncludeHidden bool

	// MaxFileSize is the largest file (bytes) that will be indexed. 0 uses
	// DefaultMaxFileSize.
	MaxFileSize int64

	// Workers bounds concurrent file-hashing goroutines. 0 uses DefaultWorkers.
	Workers int

	// FollowSymlinks enables following symbolic links during the walk.
	FollowSymlinks bool
}

// DefaultMaxFileSize is the default maximum indexable file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// DefaultWorkers bounds concurrent file-hashing goroutines.
const DefaultWorkers = 20

// NewScanOptions returns ScanOptions with the baseline defaults applied.
func NewScanOptions(projectRoot string) *ScanOptions {
	return &ScanOptions{
		ProjectRoot:      projectRoot,
		RespectGitignore: true,
		MaxFileSize:      DefaultMaxFileSize,
		Workers:          DefaultWorkers,
	}
}
