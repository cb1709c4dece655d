package scanner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/gcorroto/semantic-codebase-index/internal/ignore"
	"github.com/gcorroto/semantic-codebase-index/internal/langdetect"
)

// hashWorkers bounds concurrent file-hashing goroutines.
const hashWorkers = 20

// ignoreCacheSize bounds the number of per-project ignore matchers kept
// resident. A host running one indexer process against many projects
// (spec.md §3's host-global registry) shouldn't hold a matcher forever
// for every project it has ever scanned.
const ignoreCacheSize = 128

// Scanner discovers indexable files in a project directory.
type Scanner struct {
	ignoreMu    sync.Mutex
	ignoreCache *lru.Cache[string, *ignore.Matcher]
}

// New creates a new Scanner instance.
func New() *Scanner {
	cache, _ := lru.New[string, *ignore.Matcher](ignoreCacheSize)
	return &Scanner{ignoreCache: cache}
}

// Scan walks opts.ProjectRoot and returns a FileRecord for every indexable
// file, with content hashes computed by a bounded worker pool.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) ([]FileRecord, error) {
	if opts == nil || opts.ProjectRoot == "" {
		return nil, fmt.Errorf("scanner: ProjectRoot is required")
	}

	absRoot, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, fmt.Errorf("scanner: resolve project root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("scanner: stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: project root is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = hashWorkers
	}

	matcher := s.projectMatcher(absRoot, opts.ExtraExcludePatterns)

	var candidates []FileRecord
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if shouldExcludeDir(relPath) || (opts.RespectGitignore && matcher.Match(relPath, true)) {
				return filepath.SkipDir
			}
			if !opts.IncludeHidden && isHiddenEntry(relPath) {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if !opts.IncludeHidden && isHiddenEntry(relPath) {
			return nil
		}
		if shouldExcludeFile(relPath) {
			return nil
		}
		if opts.RespectGitignore && matcher.Match(relPath, false) {
			return nil
		}

		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if fi.Size() > maxFileSize {
			return nil
		}
		if fi.Size() == 0 {
			return nil
		}

		language := langdetect.Detect(relPath)
		if language == "" && !langdetect.ExtensionlessAllowlist[filepath.Base(relPath)] {
			return nil
		}
		if hasBinaryExtension(relPath) {
			return nil
		}

		candidates = append(candidates, FileRecord{
			Path:        relPath,
			AbsPath:     path,
			Size:        fi.Size(),
			ModTime:     fi.ModTime(),
			ContentType: langdetect.ContentTypeFor(language),
			Language:    language,
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("scanner: walk: %w", walkErr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	results := make([]FileRecord, len(candidates))
	keep := make([]bool, len(candidates))

	for i, rec := range candidates {
		i, rec := i, rec
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			hash, isBinary, readErr := hashFile(rec.AbsPath)
			if readErr != nil {
				return nil // unreadable files are skipped, not fatal
			}
			if isBinary {
				return nil
			}
			rec.Hash = hash
			rec.IsGenerated = isGeneratedFile(rec.AbsPath)
			results[i] = rec
			keep[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		return nil, fmt.Errorf("scanner: hashing: %w", err)
	}

	final := make([]FileRecord, 0, len(results))
	for i, ok := range keep {
		if ok {
			final = append(final, results[i])
		}
	}
	return final, nil
}

// projectMatcher builds the ignore-set union for a project: baseline dir/file
// excludes are handled separately by shouldExcludeDir/shouldExcludeFile; this
// matcher covers .gitignore, .memoryignore and caller-supplied extra patterns.
func (s *Scanner) projectMatcher(absRoot string, extra []string) *ignore.Matcher {
	s.ignoreMu.Lock()
	if m, ok := s.ignoreCache.Get(absRoot); ok {
		s.ignoreMu.Unlock()
		return m
	}
	s.ignoreMu.Unlock()

	m := ignore.New()
	for _, p := range extra {
		m.AddPattern(p)
	}
	_ = m.AddFromFile(filepath.Join(absRoot, ".gitignore"), "")
	_ = m.AddFromFile(filepath.Join(absRoot, ".memoryignore"), "")

	_ = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == absRoot {
			return nil
		}
		if shouldExcludeDir(filepath.ToSlash(mustRel(absRoot, path))) {
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil {
			return nil
		}
		for _, name := range []string{".gitignore", ".memoryignore"} {
			if fileErr := m.AddFromFile(filepath.Join(path, name), filepath.ToSlash(rel)); fileErr != nil && !os.IsNotExist(fileErr) {
				continue
			}
		}
		return nil
	})

	s.ignoreMu.Lock()
	s.ignoreCache.Add(absRoot, m)
	s.ignoreMu.Unlock()
	return m
}

// InvalidateCache clears cached ignore matchers, e.g. after .gitignore edits.
func (s *Scanner) InvalidateCache() {
	s.ignoreMu.Lock()
	defer s.ignoreMu.Unlock()
	s.ignoreCache.Purge()
}

func mustRel(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return rel
}

// hashFile reads a file fully, returning its sha256 hex digest and whether a
// null byte was observed in the first 512 bytes (treated as binary).
func hashFile(path string) (hash string, isBinary bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	if bytes.Contains(head[:n], []byte{0}) {
		return "", true, nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", false, err
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false, err
	}
	return hex.EncodeToString(h.Sum(nil)), false, nil
}

// isGeneratedFile sniffs the first 1KB for common generated-file markers.
func isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	content := string(buf[:n])

	markers := []string{
		"// Code generated",
		"// DO NOT EDIT",
		"/* DO NOT EDIT",
		"# Generated by",
		"<!-- AUTO-GENERATED -->",
		"// Generated by",
		"/* Generated by",
	}
	for _, marker := range markers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// baselineExcludeDirs is the hardcoded ignore-set baseline, unioned with
// .gitignore/.memoryignore before a directory is pruned from the walk.
var baselineExcludeDirs = map[string]bool{
	".git":         true,
	".memorybank":  true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true,
	"__pycache__":  true,
}

func shouldExcludeDir(relPath string) bool {
	return baselineExcludeDirs[filepath.Base(relPath)]
}

// isHiddenEntry reports whether an entry's leaf name begins with '.'. Checked
// independently of ignore-pattern matching, per the scanner's hidden-file
// contract.
func isHiddenEntry(relPath string) bool {
	return strings.HasPrefix(filepath.Base(relPath), ".")
}

var defaultExcludeFilePatterns = []string{
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
}

var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}

func shouldExcludeFile(relPath string) bool {
	base := filepath.Base(relPath)
	for _, p := range sensitiveFilePatterns {
		if matchFilePattern(base, p) {
			return true
		}
	}
	for _, p := range defaultExcludeFilePatterns {
		if matchFilePattern(base, p) {
			return true
		}
	}
	return false
}

// matchFilePattern implements the subset of glob syntax the exclude lists
// above actually use: exact match, *suffix, prefix*, *contains*.
func matchFilePattern(baseName, pattern string) bool {
	switch {
	case pattern == baseName:
		return true
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1:
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	default:
		return false
	}
}

var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true,
	".webp": true, ".tiff": true,
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true,
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".7z": true, ".rar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".class": true, ".jar": true, ".wasm": true, ".o": true, ".a": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".db": true, ".sqlite": true, ".sqlite3": true,
}

func hasBinaryExtension(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	return binaryExtensions[ext]
}
