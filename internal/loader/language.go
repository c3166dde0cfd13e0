package loader

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// languageByExtension maps file extensions to language names.
var languageByExtension = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".pyi":   "python",
	".rb":    "ruby",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".ex":    "elixir",
	".exs":   "elixir",
	".hs":    "haskell",
	".lua":   "lua",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".mdx":   "markdown",
	".rst":   "rst",
	".txt":   "text",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".json":  "json",
}

// languageByFilename maps exact extensionless filenames.
var languageByFilename = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
}

// shebangLanguages maps interpreter names found on a shebang line.
var shebangLanguages = map[string]string{
	"python":  "python",
	"python3": "python",
	"node":    "javascript",
	"ruby":    "ruby",
	"bash":    "shell",
	"sh":      "shell",
	"zsh":     "shell",
}

// DetectLanguage infers the language from the path extension, exact filename,
// or a shebang line for extensionless scripts. Returns "" when unknown.
func DetectLanguage(path string, content []byte) string {
	base := filepath.Base(path)
	if lang, ok := languageByFilename[base]; ok {
		return lang
	}
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageByExtension[ext]; ok {
		return lang
	}
	if ext == "" {
		return detectShebang(content)
	}
	return ""
}

// detectShebang inspects the first line for "#!/usr/bin/env x" or "#!/bin/x".
func detectShebang(content []byte) string {
	if !bytes.HasPrefix(content, []byte("#!")) {
		return ""
	}
	line := content
	if idx := bytes.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	fields := strings.Fields(string(line[2:]))
	if len(fields) == 0 {
		return ""
	}
	interp := filepath.Base(fields[0])
	if interp == "env" && len(fields) > 1 {
		interp = filepath.Base(fields[1])
	}
	// Strip version suffixes like python3.12.
	for name, lang := range shebangLanguages {
		if interp == name || strings.HasPrefix(interp, name+".") {
			return lang
		}
	}
	return ""
}

// HashBytes returns the hex sha256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
