package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry manages supported languages and their configurations.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with every AST-backed language
// the chunker is required to support.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	r.registerJava()
	r.registerKotlin()
	r.registerRust()
	r.registerC()
	r.registerCPP()
	r.registerCSharp()
	r.registerRuby()
	r.registerPHP()
	r.registerScala()
	r.registerSwift()

	return r
}

// GetByExtension returns the language configuration for a file extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions returns all registered file extensions.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	config := &LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		TypeDefTypes:  []string{"type_declaration"},
		ConstantTypes: []string{"const_declaration"},
		VariableTypes: []string{"var_declaration"},
		NameField:     "name",
	}
	r.registerLanguage(config, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	tsConfig := &LanguageConfig{
		Name:           "typescript",
		Extensions:     []string{".ts"},
		FunctionTypes:  []string{"function_declaration"},
		MethodTypes:    []string{"method_definition"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		TypeDefTypes:   []string{"type_alias_declaration"},
		ConstantTypes:  []string{"lexical_declaration"},
		VariableTypes:  []string{"variable_declaration"},
		NameField:      "name",
	}
	r.registerLanguage(tsConfig, typescript.GetLanguage())

	tsxConfig := &LanguageConfig{
		Name:           "tsx",
		Extensions:     []string{".tsx"},
		FunctionTypes:  tsConfig.FunctionTypes,
		MethodTypes:    tsConfig.MethodTypes,
		ClassTypes:     tsConfig.ClassTypes,
		InterfaceTypes: tsConfig.InterfaceTypes,
		TypeDefTypes:   tsConfig.TypeDefTypes,
		ConstantTypes:  tsConfig.ConstantTypes,
		VariableTypes:  tsConfig.VariableTypes,
		NameField:      tsConfig.NameField,
	}
	r.registerLanguage(tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	jsConfig := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs"},
		FunctionTypes: []string{"function_declaration", "function"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ConstantTypes: []string{"lexical_declaration"},
		VariableTypes: []string{"variable_declaration"},
		NameField:     "name",
	}
	r.registerLanguage(jsConfig, javascript.GetLanguage())

	jsxConfig := &LanguageConfig{
		Name:          "jsx",
		Extensions:    []string{".jsx"},
		FunctionTypes: jsConfig.FunctionTypes,
		MethodTypes:   jsConfig.MethodTypes,
		ClassTypes:    jsConfig.ClassTypes,
		ConstantTypes: jsConfig.ConstantTypes,
		VariableTypes: jsConfig.VariableTypes,
		NameField:     jsConfig.NameField,
	}
	r.registerLanguage(jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	config := &LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py", ".pyw", ".pyi"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_definition"},
		VariableTypes: []string{"assignment"},
		NameField:     "name",
	}
	r.registerLanguage(config, python.GetLanguage())
}

func (r *LanguageRegistry) registerJava() {
	config := &LanguageConfig{
		Name:           "java",
		Extensions:     []string{".java"},
		FunctionTypes:  []string{"constructor_declaration"},
		MethodTypes:    []string{"method_declaration"},
		ClassTypes:     []string{"class_declaration", "enum_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		NameField:      "name",
	}
	r.registerLanguage(config, java.GetLanguage())
}

func (r *LanguageRegistry) registerKotlin() {
	config := &LanguageConfig{
		Name:          "kotlin",
		Extensions:    []string{".kt", ".kts"},
		FunctionTypes: []string{"function_declaration"},
		ClassTypes:    []string{"class_declaration", "object_declaration"},
		VariableTypes: []string{"property_declaration"},
		NameField:     "name",
	}
	r.registerLanguage(config, kotlin.GetLanguage())
}

func (r *LanguageRegistry) registerRust() {
	config := &LanguageConfig{
		Name:           "rust",
		Extensions:     []string{".rs"},
		FunctionTypes:  []string{"function_item"},
		ClassTypes:     []string{"struct_item", "enum_item", "impl_item"},
		InterfaceTypes: []string{"trait_item"},
		TypeDefTypes:   []string{"mod_item"},
		NameField:      "name",
	}
	r.registerLanguage(config, rust.GetLanguage())
}

func (r *LanguageRegistry) registerC() {
	config := &LanguageConfig{
		Name:          "c",
		Extensions:    []string{".c", ".h"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"struct_specifier", "enum_specifier"},
		TypeDefTypes:  []string{"type_definition"},
		NameField:     "declarator",
	}
	r.registerLanguage(config, c.GetLanguage())
}

func (r *LanguageRegistry) registerCPP() {
	config := &LanguageConfig{
		Name:          "cpp",
		Extensions:    []string{".cpp", ".hpp", ".cc", ".cxx"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_specifier", "struct_specifier"},
		TypeDefTypes:  []string{"namespace_definition"},
		NameField:     "declarator",
	}
	r.registerLanguage(config, cpp.GetLanguage())
}

func (r *LanguageRegistry) registerCSharp() {
	config := &LanguageConfig{
		Name:           "csharp",
		Extensions:     []string{".cs"},
		MethodTypes:    []string{"method_declaration", "constructor_declaration"},
		ClassTypes:     []string{"class_declaration", "struct_declaration", "enum_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		NameField:      "name",
	}
	r.registerLanguage(config, csharp.GetLanguage())
}

func (r *LanguageRegistry) registerRuby() {
	config := &LanguageConfig{
		Name:          "ruby",
		Extensions:    []string{".rb", ".rake"},
		MethodTypes:   []string{"method"},
		ClassTypes:    []string{"class"},
		TypeDefTypes:  []string{"module"},
		NameField:     "name",
	}
	r.registerLanguage(config, ruby.GetLanguage())
}

func (r *LanguageRegistry) registerPHP() {
	config := &LanguageConfig{
		Name:           "php",
		Extensions:     []string{".php"},
		FunctionTypes:  []string{"function_definition"},
		MethodTypes:    []string{"method_declaration"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		NameField:      "name",
	}
	r.registerLanguage(config, php.GetLanguage())
}

func (r *LanguageRegistry) registerScala() {
	config := &LanguageConfig{
		Name:          "scala",
		Extensions:    []string{".scala"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_definition", "object_definition"},
		InterfaceTypes: []string{"trait_definition"},
		NameField:     "name",
	}
	r.registerLanguage(config, scala.GetLanguage())
}

func (r *LanguageRegistry) registerSwift() {
	config := &LanguageConfig{
		Name:           "swift",
		Extensions:     []string{".swift"},
		FunctionTypes:  []string{"function_declaration"},
		ClassTypes:     []string{"class_declaration", "struct_declaration", "enum_declaration"},
		InterfaceTypes: []string{"protocol_declaration"},
		TypeDefTypes:   []string{"extension_declaration"},
		NameField:      "name",
	}
	r.registerLanguage(config, swift.GetLanguage())
}

// defaultRegistry is the package-wide language registry.
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
