package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSource = `package sample

import "fmt"

// Greet says hello.
func Greet(name string) string {
	return fmt.Sprintf("hello %s", name)
}

type Counter struct {
	n int
}

func (c *Counter) Add(delta int) {
	c.n += delta
}
`

func chunkSource(t *testing.T, opts Options, path, lang, content string) []*Chunk {
	t.Helper()
	c := New(opts, nil)
	t.Cleanup(c.Close)

	chunks, err := c.ChunkFile(context.Background(), "corpus-1", &FileInput{
		Path:     path,
		Content:  []byte(content),
		Language: lang,
	})
	require.NoError(t, err)
	return chunks
}

func TestASTChunksPerDeclaration(t *testing.T) {
	chunks := chunkSource(t, Options{Strategy: StrategyAST}, "sample.go", "go", goSource)
	require.Len(t, chunks, 3)

	assert.Contains(t, chunks[0].Content, "func Greet")
	assert.Contains(t, chunks[0].Content, "// Greet says hello.")
	assert.Contains(t, chunks[1].Content, "type Counter struct")
	assert.Contains(t, chunks[2].Content, "func (c *Counter) Add")

	require.Len(t, chunks[0].Symbols, 1)
	assert.Equal(t, "Greet", chunks[0].Symbols[0].Name)
	assert.Equal(t, SymbolFunction, chunks[0].Symbols[0].Kind)
	require.Len(t, chunks[2].Symbols, 1)
	assert.Equal(t, "Add", chunks[2].Symbols[0].Name)
	assert.Equal(t, SymbolMethod, chunks[2].Symbols[0].Kind)
}

func TestASTPreservesImports(t *testing.T) {
	chunks := chunkSource(t, Options{Strategy: StrategyAST, PreserveImports: true}, "sample.go", "go", goSource)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Contains(t, c.Content, "package sample")
		assert.Contains(t, c.Content, `import "fmt"`)
	}
}

func TestChunkingIsDeterministic(t *testing.T) {
	for _, strategy := range []Strategy{StrategyGreedy, StrategyAST, StrategyHybrid} {
		first := chunkSource(t, Options{Strategy: strategy}, "sample.go", "go", goSource)
		second := chunkSource(t, Options{Strategy: strategy}, "sample.go", "go", goSource)

		require.Len(t, second, len(first), "strategy %s", strategy)
		for i := range first {
			assert.Equal(t, first[i].ID, second[i].ID)
			assert.Equal(t, first[i].Content, second[i].Content)
			assert.Equal(t, first[i].ContentHash, second[i].ContentHash)
		}
	}
}

func TestGreedyNeverBreaksInsideLine(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line with a reasonable amount of text on it\n")
	}
	content := strings.TrimSuffix(b.String(), "\n")

	chunks := chunkSource(t, Options{Strategy: StrategyGreedy, ChunkSize: 100, ChunkOverlap: 20}, "notes.txt", "text", content)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		for _, line := range strings.Split(c.Content, "\n") {
			assert.Equal(t, "line with a reasonable amount of text on it", line)
		}
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
	}

	// Overlapping windows cover the full file.
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 200, chunks[len(chunks)-1].EndLine)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine+1)
		assert.Greater(t, chunks[i].StartLine, chunks[i-1].StartLine)
	}
}

func TestHybridFallsBackForUnsupportedLanguage(t *testing.T) {
	content := "some plain text\nwith a few lines\nno grammar here"
	chunks := chunkSource(t, Options{Strategy: StrategyHybrid}, "notes.txt", "text", content)
	require.Len(t, chunks, 1)
	assert.Equal(t, content, chunks[0].Content)
}

func TestMinChunkCharsMergesTrailingFragment(t *testing.T) {
	// 20 lines of 8 tokens fill a 160-token window exactly, leaving
	// "tail" alone in the next window.
	content := strings.Repeat("a solid line of content here\n", 20) + "tail"
	chunks := chunkSource(t, Options{Strategy: StrategyGreedy, ChunkSize: 160, MinChunkChars: 100}, "notes.txt", "text", content)

	require.Len(t, chunks, 1)
	assert.True(t, strings.HasSuffix(chunks[0].Content, "tail"))
	assert.Equal(t, 21, chunks[0].EndLine)
}

func TestOversizedLineIsTruncatedAndFlagged(t *testing.T) {
	content := strings.Repeat("x", 2000) // one line, ~500 tokens
	chunks := chunkSource(t, Options{Strategy: StrategyGreedy, ChunkSize: 50, MaxChunkTokens: 50}, "big.txt", "text", content)

	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Truncated)
	assert.Equal(t, content, chunks[0].Content) // one line: cannot cut below line granularity
}

func TestOversizedDeclarationSplitsWithOverlap(t *testing.T) {
	var b strings.Builder
	b.WriteString("package sample\n\nfunc Big() {\n")
	for i := 0; i < 300; i++ {
		b.WriteString("\t_ = \"statement that takes up some space in the function body\"\n")
	}
	b.WriteString("}\n")

	chunks := chunkSource(t, Options{Strategy: StrategyAST, MaxChunkTokens: 500, ASTOverlapLines: 3}, "big.go", "go", b.String())
	require.Greater(t, len(chunks), 1)

	// Only the first part carries the symbol.
	require.Len(t, chunks[0].Symbols, 1)
	assert.Equal(t, "Big", chunks[0].Symbols[0].Name)
	for _, c := range chunks[1:] {
		assert.Empty(t, c.Symbols)
	}

	// Consecutive parts share the overlap lines.
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndLine-3, chunks[i].StartLine-1)
	}
}

func TestChunkIDDependsOnCorpusAndLocation(t *testing.T) {
	hash := HashContent("body")
	base := ID("corpus-1", "a.go", 1, 10, hash)

	assert.Equal(t, base, ID("corpus-1", "a.go", 1, 10, hash))
	assert.NotEqual(t, base, ID("corpus-2", "a.go", 1, 10, hash))
	assert.NotEqual(t, base, ID("corpus-1", "b.go", 1, 10, hash))
	assert.NotEqual(t, base, ID("corpus-1", "a.go", 2, 10, hash))
	assert.NotEqual(t, base, ID("corpus-1", "a.go", 1, 10, HashContent("other")))
}

func TestExtractSymbols(t *testing.T) {
	p := NewParser()
	defer p.Close()

	tree, err := p.Parse(context.Background(), []byte(goSource), "go")
	require.NoError(t, err)

	symbols := ExtractSymbols(tree)
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"Greet", "Counter", "Add"}, names)
}
