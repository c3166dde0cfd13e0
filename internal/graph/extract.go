package graph

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tribridrag/tribridrag/internal/chunk"
)

// Mention is a name referenced from a source entity. The builder
// resolves mentions to edges once the full corpus entity table exists;
// names that resolve to nothing are dropped.
type Mention struct {
	SourceID string
	Name     string
	Kind     RelationshipKind
}

// Extraction is the structural output for one chunk.
type Extraction struct {
	Entities      []Entity
	Relationships []Relationship
	Mentions      []Mention
}

// extractionRules names the AST node types that carry graph edges for
// one language.
type extractionRules struct {
	callTypes    map[string]struct{}
	importTypes  map[string]struct{}
	inheritTypes map[string]struct{}
}

var rulesByLanguage = map[string]extractionRules{
	"go": {
		callTypes:   typeSet("call_expression"),
		importTypes: typeSet("import_spec"),
	},
	"python": {
		callTypes:    typeSet("call"),
		importTypes:  typeSet("import_statement", "import_from_statement"),
		inheritTypes: typeSet("class_definition"),
	},
	"javascript": {
		callTypes:    typeSet("call_expression"),
		importTypes:  typeSet("import_statement"),
		inheritTypes: typeSet("class_declaration"),
	},
	"typescript": {
		callTypes:    typeSet("call_expression"),
		importTypes:  typeSet("import_statement"),
		inheritTypes: typeSet("class_declaration"),
	},
	"tsx": {
		callTypes:    typeSet("call_expression"),
		importTypes:  typeSet("import_statement"),
		inheritTypes: typeSet("class_declaration"),
	},
}

func typeSet(types ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

// moduleEntity is the file-level entity every chunk of a file shares.
func moduleEntity(corpusID, filePath string) Entity {
	base := filepath.Base(filePath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return Entity{
		ID:            EntityID(corpusID, filePath, EntityModule),
		CorpusID:      corpusID,
		Name:          name,
		QualifiedName: filePath,
		Kind:          EntityModule,
		FilePath:      filePath,
	}
}

func symbolEntity(c *chunk.Chunk, sym chunk.Symbol) Entity {
	kind := entityKindFor(sym.Kind)
	qualified := c.FilePath + "::" + sym.Name
	return Entity{
		ID:            EntityID(c.CorpusID, qualified, kind),
		CorpusID:      c.CorpusID,
		Name:          sym.Name,
		QualifiedName: qualified,
		Kind:          kind,
		FilePath:      c.FilePath,
		Properties: map[string]string{
			"start_line": strconv.Itoa(sym.StartLine),
			"end_line":   strconv.Itoa(sym.EndLine),
		},
	}
}

func entityKindFor(k chunk.SymbolKind) EntityKind {
	switch k {
	case chunk.SymbolFunction, chunk.SymbolMethod:
		return EntityFunction
	case chunk.SymbolClass, chunk.SymbolInterface, chunk.SymbolType:
		return EntityClass
	case chunk.SymbolConstant, chunk.SymbolVariable:
		return EntityVariable
	}
	return EntityConcept
}

// Extractor derives structural entities and edges from chunks. Not
// safe for concurrent use; it owns a parser.
type Extractor struct {
	parser *chunk.Parser
	log    *slog.Logger
}

// NewExtractor creates a structural extractor.
func NewExtractor(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{parser: chunk.NewParser(), log: log}
}

// Close releases the parser.
func (x *Extractor) Close() {
	x.parser.Close()
}

// Extract produces the module entity, one entity per declared symbol,
// contains edges, and name mentions (calls, imports, inherits) for one
// chunk. Mentions are resolved corpus-wide by the builder.
func (x *Extractor) Extract(ctx context.Context, c *chunk.Chunk) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Extraction{}

	module := moduleEntity(c.CorpusID, c.FilePath)
	out.Entities = append(out.Entities, module)

	type anchor struct {
		id         string
		start, end int // file-absolute lines
	}
	var anchors []anchor
	for _, sym := range c.Symbols {
		e := symbolEntity(c, sym)
		out.Entities = append(out.Entities, e)
		out.Relationships = append(out.Relationships, Relationship{
			SourceID: module.ID,
			TargetID: e.ID,
			Kind:     RelContains,
			Weight:   1,
		})
		anchors = append(anchors, anchor{id: e.ID, start: sym.StartLine, end: sym.EndLine})
	}

	rules, hasRules := rulesByLanguage[c.Language]
	if !hasRules {
		return out, nil
	}

	tree, err := x.parser.Parse(ctx, []byte(c.Content), c.Language)
	if err != nil || tree == nil {
		// Edge extraction is best-effort; the entities stand alone.
		return out, nil
	}

	// Chunk content may carry a prepended import preamble, so node rows
	// are offset from file lines by the extra leading lines.
	contentLines := strings.Count(c.Content, "\n") + 1
	extra := contentLines - (c.EndLine - c.StartLine + 1)
	if extra < 0 {
		extra = 0
	}
	lineOf := func(row uint32) int { return c.StartLine + int(row) - extra }

	// enclosing finds the innermost symbol covering a line, falling
	// back to the module entity.
	enclosing := func(line int) string {
		best := module.ID
		bestSpan := -1
		for _, a := range anchors {
			if line < a.start || line > a.end {
				continue
			}
			span := a.end - a.start
			if bestSpan == -1 || span < bestSpan {
				best = a.id
				bestSpan = span
			}
		}
		return best
	}

	seen := make(map[Mention]struct{})
	add := func(sourceID, name string, kind RelationshipKind) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		m := Mention{SourceID: sourceID, Name: name, Kind: kind}
		if _, dup := seen[m]; dup {
			return
		}
		seen[m] = struct{}{}
		out.Mentions = append(out.Mentions, m)
	}

	tree.Root.Walk(func(n *chunk.Node) bool {
		if _, ok := rules.callTypes[n.Type]; ok {
			if name := calleeName(n, tree.Source); name != "" {
				add(enclosing(lineOf(n.StartRow)), name, RelCalls)
			}
			return true
		}
		if _, ok := rules.importTypes[n.Type]; ok {
			for _, name := range importNames(n, tree.Source, c.Language) {
				add(module.ID, name, RelImports)
			}
			return true
		}
		if _, ok := rules.inheritTypes[n.Type]; ok {
			sourceID := enclosing(lineOf(n.StartRow))
			for _, name := range baseClassNames(n, tree.Source, c.Language) {
				add(sourceID, name, RelInherits)
			}
			return true
		}
		return true
	})

	return out, nil
}

// calleeName extracts the called function's simple name. For selector
// and attribute calls the rightmost identifier wins, so obj.save
// yields "save".
func calleeName(call *chunk.Node, source []byte) string {
	if len(call.Children) == 0 {
		return ""
	}
	return rightmostIdentifier(call.Children[0], source)
}

var identifierTypes = map[string]struct{}{
	"identifier":          {},
	"field_identifier":    {},
	"property_identifier": {},
	"type_identifier":     {},
}

func rightmostIdentifier(n *chunk.Node, source []byte) string {
	if _, ok := identifierTypes[n.Type]; ok {
		return n.Content(source)
	}
	for i := len(n.Children) - 1; i >= 0; i-- {
		if name := rightmostIdentifier(n.Children[i], source); name != "" {
			return name
		}
	}
	return ""
}

// importNames extracts imported module names reduced to their last
// path segment, which is how module entities are named.
func importNames(n *chunk.Node, source []byte, language string) []string {
	var names []string
	switch language {
	case "go":
		if lit := n.FindChildByType("interpreted_string_literal"); lit != nil {
			path := strings.Trim(lit.Content(source), `"`)
			names = append(names, lastSegment(path, "/"))
		}
	case "python":
		// Covers "import a.b, c" and "from a.b import x".
		n.Walk(func(child *chunk.Node) bool {
			if child.Type == "dotted_name" {
				names = append(names, lastSegment(child.Content(source), "."))
				return false
			}
			return true
		})
		if n.Type == "import_from_statement" && len(names) > 1 {
			// Only the module being imported from, not the names.
			names = names[:1]
		}
	default: // javascript, typescript, tsx
		n.Walk(func(child *chunk.Node) bool {
			if child.Type == "string" {
				path := strings.Trim(child.Content(source), `"'`)
				base := lastSegment(path, "/")
				names = append(names, strings.TrimSuffix(base, filepath.Ext(base)))
				return false
			}
			return true
		})
	}
	return names
}

func lastSegment(path, sep string) string {
	parts := strings.Split(path, sep)
	return parts[len(parts)-1]
}

// baseClassNames extracts superclass names from a class declaration.
func baseClassNames(n *chunk.Node, source []byte, language string) []string {
	var names []string
	switch language {
	case "python":
		if args := n.FindChildByType("argument_list"); args != nil {
			for _, arg := range args.Children {
				switch arg.Type {
				case "identifier":
					names = append(names, arg.Content(source))
				case "attribute":
					if name := rightmostIdentifier(arg, source); name != "" {
						names = append(names, name)
					}
				}
			}
		}
	default: // javascript, typescript, tsx
		if heritage := n.FindChildByType("class_heritage"); heritage != nil {
			heritage.Walk(func(child *chunk.Node) bool {
				if _, ok := identifierTypes[child.Type]; ok {
					names = append(names, child.Content(source))
					return false
				}
				return true
			})
		}
	}
	return names
}
