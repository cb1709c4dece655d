package chunk

import (
	"context"
	"time"

	"github.com/gcorroto/semantic-codebase-index/internal/langdetect"
)

// Token budget defaults.
const (
	DefaultMaxChunkTokens = 512  // target window size for the line-based splitter
	DefaultOverlapTokens  = 64   // sliding-window overlap between split chunks
	AbsoluteMaxTokens     = 7500 // hard cap; embedding model limit minus safety margin
	MinChunkTokens        = 100
)

// ContentType represents the coarse kind of content in a chunk.
type ContentType = langdetect.ContentType

const (
	ContentTypeCode     = langdetect.ContentTypeCode
	ContentTypeMarkdown = langdetect.ContentTypeMarkdown
	ContentTypeText     = langdetect.ContentTypeText
)

// Kind is the semantic role a chunk plays within its file.
type Kind string

const (
	KindFunction  Kind = "function"
	KindClass     Kind = "class"
	KindMethod    Kind = "method"
	KindInterface Kind = "interface"
	KindModule    Kind = "module"
	KindBlock     Kind = "block"
	KindFile      Kind = "file"
)

// Chunk is a retrievable unit of source content.
type Chunk struct {
	ID          string // deterministic: sha256(filePath:startLine:contentPrefix)[:16]
	FilePath    string // relative to project root
	Content     string // exactly the joined source lines [StartLine..EndLine]
	Context     string // imports/package declarations extracted from the file
	ContentType ContentType
	Language    string
	ChunkType   Kind
	Name        string // symbol name, "" for anonymous/file chunks
	ParentName  string // enclosing symbol name, for methods
	StartLine   int    // 1-indexed
	EndLine     int    // inclusive
	TokenCount  int    // exact tokenizer count of Content
	Symbols     []*Symbol
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileInput is input to a Chunker.
type FileInput struct {
	Path     string
	Content  []byte
	Language string
}

// Chunker splits a file into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol found while parsing.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// symbolTypeToKind maps a parse-time SymbolType to the persisted chunk Kind.
func symbolTypeToKind(t SymbolType) Kind {
	switch t {
	case SymbolTypeFunction:
		return KindFunction
	case SymbolTypeMethod:
		return KindMethod
	case SymbolTypeClass:
		return KindClass
	case SymbolTypeInterface:
		return KindInterface
	case SymbolTypeType, SymbolTypeConstant, SymbolTypeVariable:
		return KindModule
	default:
		return KindBlock
	}
}

// Symbol represents a code symbol extracted from parsing.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig holds per-language tree-sitter node type sets.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string

	NameField string
}
