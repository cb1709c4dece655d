// Package langdetect classifies files by extension into a programming
// language and a coarse content type. It is the single source of truth
// for language identification shared by the scanner and the chunker.
package langdetect

// ContentType represents the coarse kind of content in a file.
type ContentType string

const (
	// ContentTypeCode represents source code files.
	ContentTypeCode ContentType = "code"
	// ContentTypeMarkdown represents markdown documentation files.
	ContentTypeMarkdown ContentType = "markdown"
	// ContentTypeText represents plain text files.
	ContentTypeText ContentType = "text"
	// ContentTypeConfig represents configuration files.
	ContentTypeConfig ContentType = "config"
)

// languageMap maps file extensions (or exact file names) to languages.
var languageMap = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",

	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",
	".sass": "sass",
	".less": "less",

	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".ini":        "ini",
	".conf":       "config",
	".properties": "properties",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",
	".fish": "fish",

	".rb":   "ruby",
	".rake": "ruby",
	".erb":  "erb",

	".rs": "rust",

	".java": "java",
	".kt":   "kotlin",
	".kts":  "kotlin",

	".c":   "c",
	".h":   "c",
	".cpp": "cpp",
	".hpp": "cpp",
	".cc":  "cpp",
	".cxx": "cpp",

	".cs": "csharp",

	".swift": "swift",

	".php": "php",

	".scala": "scala",

	".ex":  "elixir",
	".exs": "elixir",
	".erl": "erlang",

	".hs": "haskell",

	".lua": "lua",

	".r": "r",
	".R": "r",

	".sql": "sql",

	"Dockerfile": "dockerfile",

	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
	"Rakefile":    "ruby",
	"Gemfile":     "ruby",
	"Vagrantfile": "ruby",

	"CMakeLists.txt": "cmake",

	".vue":     "vue",
	".svelte":  "svelte",
	".graphql": "graphql",
	".gql":     "graphql",
	".proto":   "protobuf",
}

// astLanguages is the set of languages the chunker can parse with
// tree-sitter grammars. Anything else falls back to line-based chunking.
var astLanguages = map[string]bool{
	"go":         true,
	"javascript": true,
	"jsx":        true,
	"typescript": true,
	"tsx":        true,
	"python":     true,
	"java":       true,
	"kotlin":     true,
	"rust":       true,
	"c":          true,
	"cpp":        true,
	"csharp":     true,
	"ruby":       true,
	"php":        true,
	"scala":      true,
	"swift":      true,
}

// contentTypeMap maps languages to content types.
var contentTypeMap = map[string]ContentType{
	"go":         ContentTypeCode,
	"javascript": ContentTypeCode,
	"typescript": ContentTypeCode,
	"python":     ContentTypeCode,
	"ruby":       ContentTypeCode,
	"rust":       ContentTypeCode,
	"java":       ContentTypeCode,
	"kotlin":     ContentTypeCode,
	"c":          ContentTypeCode,
	"cpp":        ContentTypeCode,
	"csharp":     ContentTypeCode,
	"swift":      ContentTypeCode,
	"php":        ContentTypeCode,
	"scala":      ContentTypeCode,
	"elixir":     ContentTypeCode,
	"erlang":     ContentTypeCode,
	"haskell":    ContentTypeCode,
	"lua":        ContentTypeCode,
	"r":          ContentTypeCode,
	"sql":        ContentTypeCode,
	"shell":      ContentTypeCode,
	"fish":       ContentTypeCode,
	"erb":        ContentTypeCode,
	"vue":        ContentTypeCode,
	"svelte":     ContentTypeCode,
	"graphql":    ContentTypeCode,
	"protobuf":   ContentTypeCode,
	"cmake":      ContentTypeCode,
	"html":       ContentTypeCode,
	"css":        ContentTypeCode,
	"scss":       ContentTypeCode,
	"sass":       ContentTypeCode,
	"less":       ContentTypeCode,

	"markdown": ContentTypeMarkdown,
	"rst":      ContentTypeMarkdown,

	"text": ContentTypeText,

	"json":       ContentTypeConfig,
	"yaml":       ContentTypeConfig,
	"toml":       ContentTypeConfig,
	"xml":        ContentTypeConfig,
	"ini":        ContentTypeConfig,
	"config":     ContentTypeConfig,
	"properties": ContentTypeConfig,
	"dockerfile": ContentTypeConfig,
	"makefile":   ContentTypeConfig,
}

// Detect returns the language identifier for a file path, or "" if unknown.
func Detect(path string) string {
	base := baseName(path)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	if ext := extension(path); ext != "" {
		if lang, ok := languageMap[ext]; ok {
			return lang
		}
	}
	return ""
}

// ContentTypeFor returns the content type bucket for a language.
func ContentTypeFor(language string) ContentType {
	if ct, ok := contentTypeMap[language]; ok {
		return ct
	}
	return ContentTypeText
}

// HasASTGrammar reports whether the chunker has a tree-sitter grammar for
// the given language.
func HasASTGrammar(language string) bool {
	return astLanguages[language]
}

// ExtensionlessAllowlist holds filenames the scanner indexes even though
// they carry no extension.
var ExtensionlessAllowlist = map[string]bool{
	"Makefile":        true,
	"makefile":        true,
	"GNUmakefile":     true,
	"Dockerfile":      true,
	"Rakefile":        true,
	"Gemfile":         true,
	"Vagrantfile":     true,
	"CMakeLists.txt":  true,
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func extension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
