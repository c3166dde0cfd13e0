package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Token estimation defaults. Actual tokenizer output varies by model;
// 4 chars per token is close enough for budget enforcement.
const (
	DefaultChunkSize      = 512
	DefaultChunkOverlap   = 64
	DefaultMaxChunkTokens = 2048
	charsPerToken         = 4
)

// Strategy selects how files are split into chunks.
type Strategy string

const (
	// StrategyGreedy splits on token windows at line boundaries.
	StrategyGreedy Strategy = "greedy"
	// StrategyAST emits one chunk per top-level declaration.
	StrategyAST Strategy = "ast"
	// StrategyHybrid uses AST chunking where the language is supported
	// and the file parses, greedy everywhere else.
	StrategyHybrid Strategy = "hybrid"
)

// SymbolKind classifies a declaration found during parsing.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolMethod    SymbolKind = "method"
	SymbolClass     SymbolKind = "class"
	SymbolInterface SymbolKind = "interface"
	SymbolType      SymbolKind = "type"
	SymbolConstant  SymbolKind = "constant"
	SymbolVariable  SymbolKind = "variable"
)

// Symbol is a named declaration carried on a chunk. The graph builder
// uses these to seed entities without re-parsing the file.
type Symbol struct {
	Name      string     `json:"name"`
	Kind      SymbolKind `json:"kind"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
}

// Chunk is the unit of retrieval. All indexes and the graph reference
// chunks by ID.
type Chunk struct {
	ID          string            `json:"id"`
	CorpusID    string            `json:"corpus_id"`
	FilePath    string            `json:"file_path"`
	Language    string            `json:"language"`
	Content     string            `json:"content"`
	ContentHash string            `json:"content_hash"`
	StartLine   int               `json:"start_line"` // 1-indexed
	EndLine     int               `json:"end_line"`   // inclusive
	TokenCount  int               `json:"token_count"`
	Truncated   bool              `json:"truncated,omitempty"`
	Symbols     []Symbol          `json:"symbols,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FileInput is one file to be chunked.
type FileInput struct {
	Path     string
	Content  []byte
	Language string
}

// ID derives the stable chunk identifier. It depends only on the
// corpus, location, and content hash, so re-indexing an unchanged file
// reproduces the same IDs.
func ID(corpusID, filePath string, startLine, endLine int, contentHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00%s", corpusID, filePath, startLine, endLine, contentHash)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// HashContent returns the hex SHA-256 of a chunk body.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// EstimateTokens approximates the token count of a string.
func EstimateTokens(s string) int {
	n := (len(s) + charsPerToken - 1) / charsPerToken
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
