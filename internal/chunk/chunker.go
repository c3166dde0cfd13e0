package chunk

import (
	"context"
	"log/slog"
	"strings"
)

// Options configures a Chunker. Zero values fall back to the package
// defaults.
type Options struct {
	Strategy        Strategy
	ChunkSize       int // greedy window size, tokens
	ChunkOverlap    int // greedy overlap, tokens
	MinChunkChars   int // trailing fragments below this merge into the previous chunk
	MaxChunkTokens  int // hard cap; longer chunks are truncated and flagged
	ASTOverlapLines int // context lines repeated when a declaration is split
	PreserveImports bool
}

func (o Options) withDefaults() Options {
	if o.Strategy == "" {
		o.Strategy = StrategyHybrid
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.MaxChunkTokens <= 0 {
		o.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if o.ASTOverlapLines < 0 {
		o.ASTOverlapLines = 0
	}
	return o
}

// Chunker splits files into retrievable chunks. Not safe for
// concurrent use; the indexer creates one per worker.
type Chunker struct {
	opts   Options
	parser *Parser
	reg    *LanguageRegistry
	log    *slog.Logger
}

// New creates a chunker.
func New(opts Options, log *slog.Logger) *Chunker {
	if log == nil {
		log = slog.Default()
	}
	return &Chunker{
		opts:   opts.withDefaults(),
		parser: NewParser(),
		reg:    DefaultRegistry(),
		log:    log,
	}
}

// Close releases parser resources.
func (c *Chunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// piece is a chunk before IDs and budgets are applied.
type piece struct {
	content   string
	startLine int
	endLine   int
	symbols   []Symbol
	truncated bool
}

// ChunkFile splits one file. The same input always yields the same
// chunks with the same IDs.
func (c *Chunker) ChunkFile(ctx context.Context, corpusID string, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	var pieces []piece
	switch c.opts.Strategy {
	case StrategyGreedy:
		pieces = c.chunkGreedy(file)
	case StrategyAST, StrategyHybrid:
		var ok bool
		pieces, ok = c.chunkAST(ctx, file)
		if !ok {
			if c.opts.Strategy == StrategyAST {
				c.log.Warn("ast chunking unavailable, using greedy",
					"file", file.Path, "language", file.Language)
			}
			pieces = c.chunkGreedy(file)
		}
	default:
		pieces = c.chunkGreedy(file)
	}

	return c.finalize(corpusID, file, pieces), nil
}

// chunkGreedy splits on token windows, never inside a line.
func (c *Chunker) chunkGreedy(file *FileInput) []piece {
	lines := strings.Split(string(file.Content), "\n")
	var pieces []piece

	start := 0
	for start < len(lines) {
		tokens := 0
		end := start
		for end < len(lines) {
			lineTokens := EstimateTokens(lines[end]) + 1
			if end > start && tokens+lineTokens > c.opts.ChunkSize {
				break
			}
			tokens += lineTokens
			end++
		}

		content := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(content) != "" {
			pieces = append(pieces, piece{
				content:   content,
				startLine: start + 1,
				endLine:   end,
			})
		}

		if end >= len(lines) {
			break
		}

		// Back up to cover the overlap budget, but always advance.
		next := end
		overlap := 0
		for next > start+1 && overlap < c.opts.ChunkOverlap {
			next--
			overlap += EstimateTokens(lines[next]) + 1
		}
		start = next
	}
	return pieces
}

// chunkAST emits one piece per top-level declaration. Returns false
// when the language has no grammar, the parse fails, or the file has
// no recognizable declarations.
func (c *Chunker) chunkAST(ctx context.Context, file *FileInput) ([]piece, bool) {
	config, ok := c.reg.GetByName(file.Language)
	if !ok {
		return nil, false
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil || tree.Root.HasError {
		return nil, false
	}

	kinds := config.declarationKinds()
	lines := strings.Split(string(file.Content), "\n")

	var preamble string
	if c.opts.PreserveImports {
		preamble = extractPreamble(tree, file.Language)
	}

	var pieces []piece
	tree.Root.Walk(func(n *Node) bool {
		kind, isDecl := kinds[n.Type]
		if !isDecl {
			return true
		}

		startLine := int(n.StartRow) + 1
		endLine := int(n.EndRow) + 1
		startLine = attachLeadingComments(lines, startLine, file.Language)

		sym := Symbol{
			Name:      symbolName(n, tree.Source, file.Language),
			Kind:      kind,
			StartLine: int(n.StartRow) + 1,
			EndLine:   endLine,
		}

		body := strings.Join(lines[startLine-1:endLine], "\n")
		if EstimateTokens(body) > c.opts.MaxChunkTokens {
			for _, p := range c.splitDeclaration(lines, startLine, endLine, sym) {
				p.content = withPreamble(preamble, p.content)
				pieces = append(pieces, p)
			}
		} else {
			p := piece{
				content:   withPreamble(preamble, body),
				startLine: startLine,
				endLine:   endLine,
			}
			if sym.Name != "" {
				p.symbols = []Symbol{sym}
			}
			pieces = append(pieces, p)
		}
		// Outermost declaration wins; don't descend into nested ones.
		return false
	})

	if len(pieces) == 0 {
		return nil, false
	}
	return pieces, true
}

// splitDeclaration line-splits an over-large declaration, repeating
// ASTOverlapLines of context between parts.
func (c *Chunker) splitDeclaration(lines []string, startLine, endLine int, sym Symbol) []piece {
	budget := c.opts.MaxChunkTokens
	var pieces []piece

	start := startLine - 1
	for start < endLine {
		tokens := 0
		end := start
		for end < endLine {
			lineTokens := EstimateTokens(lines[end]) + 1
			if end > start && tokens+lineTokens > budget {
				break
			}
			tokens += lineTokens
			end++
		}

		p := piece{
			content:   strings.Join(lines[start:end], "\n"),
			startLine: start + 1,
			endLine:   end,
		}
		if len(pieces) == 0 && sym.Name != "" {
			p.symbols = []Symbol{sym}
		}
		pieces = append(pieces, p)

		if end >= endLine {
			break
		}
		next := end - c.opts.ASTOverlapLines
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return pieces
}

// finalize merges undersized trailing fragments, enforces the token
// cap, and assigns stable IDs.
func (c *Chunker) finalize(corpusID string, file *FileInput, pieces []piece) []*Chunk {
	if c.opts.MinChunkChars > 0 {
		merged := pieces[:0]
		for _, p := range pieces {
			if len(merged) > 0 && len(p.content) < c.opts.MinChunkChars {
				prev := &merged[len(merged)-1]
				prev.content = prev.content + "\n" + p.content
				if p.endLine > prev.endLine {
					prev.endLine = p.endLine
				}
				prev.symbols = append(prev.symbols, p.symbols...)
				continue
			}
			merged = append(merged, p)
		}
		pieces = merged
	}

	chunks := make([]*Chunk, 0, len(pieces))
	for _, p := range pieces {
		content := p.content
		truncated := p.truncated
		if EstimateTokens(content) > c.opts.MaxChunkTokens {
			content = truncateAtLine(content, c.opts.MaxChunkTokens)
			truncated = true
			c.log.Warn("chunk truncated to token cap",
				"file", file.Path, "start_line", p.startLine, "cap", c.opts.MaxChunkTokens)
		}

		hash := HashContent(content)
		chunks = append(chunks, &Chunk{
			ID:          ID(corpusID, file.Path, p.startLine, p.endLine, hash),
			CorpusID:    corpusID,
			FilePath:    file.Path,
			Language:    file.Language,
			Content:     content,
			ContentHash: hash,
			StartLine:   p.startLine,
			EndLine:     p.endLine,
			TokenCount:  EstimateTokens(content),
			Truncated:   truncated,
			Symbols:     p.symbols,
		})
	}
	return chunks
}

// truncateAtLine cuts content to the token budget at a line boundary,
// keeping at least one line.
func truncateAtLine(content string, maxTokens int) string {
	lines := strings.Split(content, "\n")
	tokens := 0
	end := 0
	for end < len(lines) {
		lineTokens := EstimateTokens(lines[end]) + 1
		if end > 0 && tokens+lineTokens > maxTokens {
			break
		}
		tokens += lineTokens
		end++
	}
	return strings.Join(lines[:end], "\n")
}

func withPreamble(preamble, body string) string {
	if preamble == "" {
		return body
	}
	return preamble + "\n\n" + body
}

// extractPreamble collects the package clause and import block so
// each chunk embeds with its file context.
func extractPreamble(tree *Tree, language string) string {
	var types []string
	switch language {
	case "go":
		types = []string{"package_clause", "import_declaration"}
	case "typescript", "tsx", "javascript", "jsx":
		types = []string{"import_statement"}
	case "python":
		types = []string{"import_statement", "import_from_statement"}
	default:
		return ""
	}
	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var parts []string
	for _, child := range tree.Root.Children {
		if wanted[child.Type] {
			parts = append(parts, child.Content(tree.Source))
		}
	}
	return strings.Join(parts, "\n")
}

// attachLeadingComments extends a declaration's start upward through
// contiguous comment lines, so doc comments stay with their symbol.
func attachLeadingComments(lines []string, startLine int, language string) int {
	var prefixes []string
	switch language {
	case "go", "typescript", "tsx", "javascript", "jsx":
		prefixes = []string{"//", "/*", "*", "*/"}
	case "python":
		prefixes = []string{"#"}
	default:
		return startLine
	}

	for startLine > 1 {
		prev := strings.TrimSpace(lines[startLine-2])
		isComment := false
		for _, p := range prefixes {
			if strings.HasPrefix(prev, p) {
				isComment = true
				break
			}
		}
		if !isComment {
			break
		}
		startLine--
	}
	return startLine
}
