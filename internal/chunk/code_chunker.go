package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gcorroto/semantic-codebase-index/internal/langdetect"
	"github.com/gcorroto/semantic-codebase-index/internal/tokenize"
)

// CodeChunkerOptions configures chunk size targets.
type CodeChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// CodeChunker implements AST-aware code chunking using tree-sitter, falling
// back to a line-based sliding-window splitter for unsupported languages or
// parse failures.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a chunker with default size targets.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a chunker with custom size targets.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions the chunker can parse with an
// AST grammar. Unsupported extensions still get line-based chunks.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into chunks per the size-bounded splitter contract:
// AST-aligned boundaries when available and within budget, a line-based
// sliding window otherwise, and a final force-split pass so nothing exceeds
// AbsoluteMaxTokens.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	fileContext := extractContext(string(file.Content), file.Language)

	_, supported := c.registry.GetByName(file.Language)
	var chunks []*Chunk
	if supported {
		tree, err := c.parser.Parse(ctx, file.Content, file.Language)
		if err == nil {
			symbolNodes := c.findSymbolNodes(tree, file.Language)
			if len(symbolNodes) > 0 {
				now := time.Now()
				for _, node := range symbolNodes {
					chunks = append(chunks, c.createChunksFromNode(node, tree, file, fileContext, now)...)
				}
			}
		}
	}

	if chunks == nil {
		// Parse failure, unsupported language, or zero semantic nodes: treat
		// the whole file as a single candidate for the size-bounded splitter.
		chunks = c.splitByLines(string(file.Content), "", KindFile, "", file, fileContext, 1)
	}

	return forceSplitOversized(chunks, file, fileContext), nil
}

type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	var symbolNodes []*symbolNodeInfo

	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		symbolTypes[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeVariable
	}

	tree.Root.Walk(func(n *Node) bool {
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
				return true
			}
		}

		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			if sym := c.extractSymbol(n, tree, symType, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
			}
		}
		return true
	})

	return symbolNodes
}

func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: c.extractor.extractDocComment(n, tree.Source, language),
	}
}

// createChunksFromNode turns one symbol node into one or more chunks,
// splitting with the size-bounded sliding window when the node alone
// exceeds the configured token budget.
func (c *CodeChunker) createChunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])
	startLine := info.symbol.StartLine
	if info.symbol.DocComment != "" {
		var linesPrepended int
		rawContent, linesPrepended = withLeadingDocComment(node, tree.Source, info.symbol.DocComment)
		startLine -= linesPrepended
	}

	kind := symbolTypeToKind(info.symbol.Type)
	if tokenize.Count(rawContent) <= c.options.MaxChunkTokens {
		return []*Chunk{c.newChunk(file, rawContent, fileContext, info.symbol.Name, "", kind, startLine, info.symbol.EndLine, now)}
	}

	return c.splitByLines(rawContent, info.symbol.Name, kind, "", file, fileContext, startLine)
}

// withLeadingDocComment widens a symbol node's byte range backward to include
// its immediately preceding doc comment line(s), so the chunk's Content stays
// exactly the joined source lines its StartLine/EndLine claim to cover (the
// caller must shift StartLine back by the returned line count to match).
func withLeadingDocComment(n *Node, source []byte, docComment string) (content string, linesPrepended int) {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
		linesPrepended++
	}
	return string(source[lineStart:n.EndByte]), linesPrepended
}

// splitByLines implements the size-bounded splitter exactly: accumulate
// lines until the next line would push the window over MaxChunkTokens, emit,
// then reseed the next window with a greedily-computed tail of the previous
// window whose token count is >= OverlapTokens.
func (c *CodeChunker) splitByLines(content, parentName string, kind Kind, parentOf string, file *FileInput, fileContext string, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return []*Chunk{}
	}
	lineTokens := tokenize.CountLines(lines)

	var chunks []*Chunk
	windowStart := 0 // index into lines, inclusive
	i := 0
	partNum := 0

	for i < len(lines) {
		windowTokens := sumTokens(lineTokens[windowStart:i])
		if windowTokens+lineTokens[i] > c.options.MaxChunkTokens && i > windowStart {
			partNum++
			chunks = append(chunks, c.emitSplitChunk(lines[windowStart:i], parentName, kind, parentOf, file, fileContext, startLine+windowStart, partNum))

			tailStart := greedyTailStart(lineTokens, windowStart, i, c.options.OverlapTokens)
			if tailStart <= windowStart || sumTokens(lineTokens[tailStart:i])+lineTokens[i] > c.options.MaxChunkTokens {
				// The tail would repeat the whole window, or cannot share a
				// window with the next line: start the next window at line i.
				tailStart = i
			}
			windowStart = tailStart
			continue
		}
		i++
	}

	if windowStart < len(lines) {
		partNum++
		chunks = append(chunks, c.emitSplitChunk(lines[windowStart:], parentName, kind, parentOf, file, fileContext, startLine+windowStart, partNum))
	}

	if len(chunks) == 1 && parentName != "" {
		// Only one part was produced; no need for the _partN suffix.
		chunks[0].Name = parentName
	}
	return chunks
}

func sumTokens(counts []int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}

// greedyTailStart returns the line index (within [from,to)) at which a tail
// window of at least minTokens begins, computed by walking backward from to.
func greedyTailStart(lineTokens []int, from, to, minTokens int) int {
	if minTokens <= 0 || to <= from {
		return to
	}
	total := 0
	i := to
	for i > from {
		i--
		total += lineTokens[i]
		if total >= minTokens {
			return i
		}
	}
	return from
}

func (c *CodeChunker) emitSplitChunk(lines []string, parentName string, kind Kind, parentOf string, file *FileInput, fileContext string, startLine, partNum int) *Chunk {
	content := strings.Join(lines, "\n")
	name := parentName
	if parentName != "" {
		name = fmt.Sprintf("%s_part%d", parentName, partNum)
	}
	endLine := startLine + len(lines) - 1
	return c.newChunk(file, content, fileContext, name, parentOf, kind, startLine, endLine, time.Now())
}

// newChunk builds a Chunk whose Content is exactly the joined source lines
// [startLine..endLine], whitespace preserved. fileContext (package/import
// header) is carried separately in Context for callers that want it (e.g.
// an embedding prompt), never folded into Content itself.
func (c *CodeChunker) newChunk(file *FileInput, rawContent, fileContext, name, parentName string, kind Kind, startLine, endLine int, now time.Time) *Chunk {
	return &Chunk{
		ID:          generateChunkID(file.Path, startLine, rawContent),
		FilePath:    file.Path,
		Content:     rawContent,
		Context:     fileContext,
		ContentType: langdetect.ContentTypeFor(file.Language),
		Language:    file.Language,
		ChunkType:   kind,
		Name:        name,
		ParentName:  parentName,
		StartLine:   startLine,
		EndLine:     endLine,
		TokenCount:  tokenize.Count(rawContent),
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// forceSplitOversized re-splits any chunk whose TokenCount still exceeds
// AbsoluteMaxTokens after the initial AST/line pass.
func forceSplitOversized(chunks []*Chunk, file *FileInput, fileContext string) []*Chunk {
	c := NewCodeChunkerWithOptions(CodeChunkerOptions{MaxChunkTokens: AbsoluteMaxTokens, OverlapTokens: DefaultOverlapTokens})
	defer c.Close()

	out := make([]*Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if ch.TokenCount <= AbsoluteMaxTokens {
			out = append(out, ch)
			continue
		}
		parts := c.splitByLines(ch.Content, ch.Name, ch.ChunkType, ch.ParentName, file, fileContext, ch.StartLine)
		out = append(out, parts...)
	}
	return out
}

// generateChunkID derives the deterministic chunk identifier:
// sha256(filePath ":" startLine ":" first-64-bytes-of-content)[:16].
func generateChunkID(filePath string, startLine int, content string) string {
	prefix := content
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	input := fmt.Sprintf("%s:%d:%s", filePath, startLine, prefix)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// headerPatterns are per-language regexes identifying lines that belong in
// the file's 15-line context header: imports, package/namespace/module
// declarations, and leading comments.
var headerPatterns = map[string]*regexp.Regexp{
	"go":         regexp.MustCompile(`^\s*(package\s|import\s|import\()`),
	"python":     regexp.MustCompile(`^\s*(import\s|from\s+\S+\s+import)`),
	"java":       regexp.MustCompile(`^\s*(package\s|import\s)`),
	"kotlin":     regexp.MustCompile(`^\s*(package\s|import\s)`),
	"csharp":     regexp.MustCompile(`^\s*(using\s|namespace\s)`),
	"rust":       regexp.MustCompile(`^\s*(use\s|mod\s|extern crate)`),
	"ruby":       regexp.MustCompile(`^\s*require(_relative)?\s`),
	"php":        regexp.MustCompile(`^\s*(use\s|namespace\s|require|include)`),
	"swift":      regexp.MustCompile(`^\s*import\s`),
	"scala":      regexp.MustCompile(`^\s*(package\s|import\s)`),
	"c":          regexp.MustCompile(`^\s*#include`),
	"cpp":        regexp.MustCompile(`^\s*(#include|using\s+namespace)`),
	"javascript": regexp.MustCompile(`^\s*(import\s|require\()`),
	"typescript": regexp.MustCompile(`^\s*(import\s|require\()`),
	"jsx":        regexp.MustCompile(`^\s*(import\s|require\()`),
	"tsx":        regexp.MustCompile(`^\s*(import\s|require\()`),
}

var commentPrefixes = map[string]string{
	"python": "#", "ruby": "#",
}

// extractContext scans up to the first 15 lines of a file for header
// patterns (imports, package/namespace declarations, leading comments) and
// joins the matches into the chunk context string attached to every chunk
// produced from that file.
func extractContext(content, language string) string {
	lines := strings.Split(content, "\n")
	limit := 15
	if limit > len(lines) {
		limit = len(lines)
	}

	pattern := headerPatterns[language]
	commentPrefix := commentPrefixes[language]
	if commentPrefix == "" {
		commentPrefix = "//"
	}

	var kept []string
	for i := 0; i < limit; i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			continue
		case pattern != nil && pattern.MatchString(line):
			kept = append(kept, line)
		case strings.HasPrefix(trimmed, commentPrefix):
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
