package chunk

// symbolName pulls the declared name out of a declaration node. Each
// grammar nests the identifier differently, so this is per-language.
func symbolName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		return goName(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return jsName(n, source)
	case "python":
		return pythonName(n, source)
	default:
		if id := n.FindChildByType("identifier"); id != nil {
			return id.Content(source)
		}
		return ""
	}
}

func goName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		if id := n.FindChildByType("identifier"); id != nil {
			return id.Content(source)
		}
	case "method_declaration":
		if id := n.FindChildByType("field_identifier"); id != nil {
			return id.Content(source)
		}
	case "type_declaration":
		if spec := n.FindChildByType("type_spec"); spec != nil {
			if id := spec.FindChildByType("type_identifier"); id != nil {
				return id.Content(source)
			}
		}
	case "const_declaration", "var_declaration":
		// Grouped declarations name many identifiers; the first one
		// stands in for the block.
		var name string
		n.Walk(func(c *Node) bool {
			if name != "" {
				return false
			}
			if c.Type == "identifier" {
				name = c.Content(source)
				return false
			}
			return true
		})
		return name
	}
	return ""
}

func jsName(n *Node, source []byte) string {
	switch n.Type {
	case "class_declaration", "interface_declaration", "type_alias_declaration":
		if id := n.FindChildByType("type_identifier"); id != nil {
			return id.Content(source)
		}
		if id := n.FindChildByType("identifier"); id != nil {
			return id.Content(source)
		}
	case "function_declaration", "function":
		if id := n.FindChildByType("identifier"); id != nil {
			return id.Content(source)
		}
	case "method_definition":
		if id := n.FindChildByType("property_identifier"); id != nil {
			return id.Content(source)
		}
	case "lexical_declaration", "variable_declaration":
		if decl := n.FindChildByType("variable_declarator"); decl != nil {
			if id := decl.FindChildByType("identifier"); id != nil {
				return id.Content(source)
			}
		}
	}
	return ""
}

func pythonName(n *Node, source []byte) string {
	switch n.Type {
	case "function_definition", "class_definition":
		if id := n.FindChildByType("identifier"); id != nil {
			return id.Content(source)
		}
	case "assignment":
		if id := n.FindChildByType("identifier"); id != nil {
			return id.Content(source)
		}
	}
	return ""
}

// ExtractSymbols returns every named declaration in the tree, in
// source order. Used by the graph builder for structural entities.
func ExtractSymbols(tree *Tree) []Symbol {
	config, ok := DefaultRegistry().GetByName(tree.Language)
	if !ok {
		return nil
	}
	kinds := config.declarationKinds()

	var symbols []Symbol
	tree.Root.Walk(func(n *Node) bool {
		kind, isDecl := kinds[n.Type]
		if !isDecl {
			return true
		}
		name := symbolName(n, tree.Source, tree.Language)
		if name == "" {
			return true
		}
		symbols = append(symbols, Symbol{
			Name:      name,
			Kind:      kind,
			StartLine: int(n.StartRow) + 1,
			EndLine:   int(n.EndRow) + 1,
		})
		return true
	})
	return symbols
}
