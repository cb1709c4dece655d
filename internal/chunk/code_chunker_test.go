package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkGoFileProducesFunctionChunks(t *testing.T) {
	source := []byte(`package main

import "fmt"

func hello() {
	fmt.Println("hello")
}

func goodbye() {
	fmt.Println("goodbye")
}
`)
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "main.go", Content: source, Language: "go"})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "hello", chunks[0].Name)
	assert.Equal(t, KindFunction, chunks[0].ChunkType)
	assert.Contains(t, chunks[0].Content, "fmt.Println(\"hello\")")
	assert.Contains(t, chunks[0].Context, "package main")
	assert.Contains(t, chunks[0].Context, `import "fmt"`)
	assert.NotContains(t, chunks[0].Content, "package main")
}

// TestChunkContentIsExactSourceSlice asserts the invariant that a chunk's
// Content is exactly the joined lines [StartLine..EndLine] of the source,
// whitespace preserved, with no context header folded in.
func TestChunkContentIsExactSourceSlice(t *testing.T) {
	source := []byte(`package main

import "fmt"

func hello() {
	fmt.Println("hello")
}
`)
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "main.go", Content: source, Language: "go"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	lines := strings.Split(string(source), "\n")
	want := strings.Join(lines[chunks[0].StartLine-1:chunks[0].EndLine], "\n")
	assert.Equal(t, want, chunks[0].Content)
}

// TestChunkIncludesMultiLineDocCommentInContentAndStartLine asserts that a
// multi-line Go doc comment block is pulled into the chunk, and that
// StartLine is shifted back to match so Content still equals exactly the
// joined source lines [StartLine..EndLine].
func TestChunkIncludesMultiLineDocCommentInContentAndStartLine(t *testing.T) {
	source := []byte(`package main

// Greet prints a friendly greeting.
// It takes no arguments.
func Greet() {
	println("hi")
}
`)
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "main.go", Content: source, Language: "go"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	lines := strings.Split(string(source), "\n")
	want := strings.Join(lines[chunks[0].StartLine-1:chunks[0].EndLine], "\n")
	assert.Equal(t, want, chunks[0].Content)
	assert.Contains(t, chunks[0].Content, "// Greet prints a friendly greeting.")
	assert.Contains(t, chunks[0].Content, "// It takes no arguments.")
}

func TestChunkIDIsDeterministicAndPositionAware(t *testing.T) {
	source := []byte("package main\n\nfunc A() {}\n")
	c := NewCodeChunker()
	defer c.Close()

	f := &FileInput{Path: "a.go", Content: source, Language: "go"}
	first, err := c.Chunk(context.Background(), f)
	require.NoError(t, err)
	second, err := c.Chunk(context.Background(), f)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Len(t, first[0].ID, 16)

	shifted := generateChunkID("a.go", 2, "func A() {}")
	original := generateChunkID("a.go", 1, "func A() {}")
	assert.NotEqual(t, shifted, original)
}

func TestChunkRespectsTokenBudget(t *testing.T) {
	var body strings.Builder
	body.WriteString("package big\n\nfunc Big() {\n")
	for i := 0; i < 400; i++ {
		body.WriteString(fmt.Sprintf("\tvar x%d = %d\n", i, i))
	}
	body.WriteString("}\n")

	c := NewCodeChunkerWithOptions(CodeChunkerOptions{MaxChunkTokens: 100, OverlapTokens: 10})
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "big.go", Content: []byte(body.String()), Language: "go"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, AbsoluteMaxTokens)
	}
}

func TestChunkSplitPartsAreNamedSequentially(t *testing.T) {
	var body strings.Builder
	body.WriteString("package big\n\nfunc Big() {\n")
	for i := 0; i < 300; i++ {
		body.WriteString(fmt.Sprintf("\tvar y%d = %d\n", i, i))
	}
	body.WriteString("}\n")

	c := NewCodeChunkerWithOptions(CodeChunkerOptions{MaxChunkTokens: 80, OverlapTokens: 8})
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "big.go", Content: []byte(body.String()), Language: "go"})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, "Big_part1", chunks[0].Name)
	assert.Equal(t, "Big_part2", chunks[1].Name)
}

func TestChunkFallsBackToLineSplitOnUnsupportedLanguage(t *testing.T) {
	content := strings.Repeat("some plain text line\n", 50)
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "notes.txt", Content: []byte(content), Language: "text"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, KindFile, chunks[0].ChunkType)
}

func TestChunkEmptyFileProducesNoChunks(t *testing.T) {
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "empty.go", Content: []byte{}, Language: "go"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkPythonUsesHashContext(t *testing.T) {
	source := []byte(`import os
from pathlib import Path

def load():
    return os.getcwd()
`)
	c := NewCodeChunker()
	defer c.Close()

	chunks, err := c.Chunk(context.Background(), &FileInput{Path: "loader.py", Content: source, Language: "python"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Context, "import os")
}
