// Package loader discovers and reads indexable files for one corpus.
// Files are yielded in sorted path order so rebuilds are reproducible.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tribridrag/tribridrag/internal/gitignore"
)

// DefaultMaxFileSize is the default maximum indexable file size (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// utf8RepairLimit bounds how many invalid bytes a repair attempt may drop
// before the file is considered binary and skipped.
const utf8RepairLimit = 64

// File is one loadable corpus file.
type File struct {
	// Path is relative to the corpus root, slash-separated.
	Path string
	// AbsPath is the absolute filesystem path.
	AbsPath string
	// Content is the full UTF-8 file content.
	Content []byte
	// Language is the inferred language, empty when unknown.
	Language string
	// Size is the on-disk size in bytes.
	Size int64
	// ContentHash is the hex sha256 of Content.
	ContentHash string
}

// Result is one item streamed from Load.
type Result struct {
	File *File
	Err  error
}

// Options configures a corpus walk.
type Options struct {
	// Root is the corpus root directory.
	Root string
	// IncludeExtensions allow-lists file extensions (with dot). Empty allows
	// every extension with a known language plus markdown/text.
	IncludeExtensions []string
	// ExcludePatterns are additional gitignore-style patterns.
	ExcludePatterns []string
	// MaxFileSize skips files above this size (0 = DefaultMaxFileSize).
	MaxFileSize int64
	// RespectGitignore loads .gitignore files found in the tree.
	RespectGitignore bool
}

// Loader walks a corpus and yields files.
type Loader struct {
	opts    Options
	matcher *gitignore.Matcher
	include map[string]struct{}
}

// New creates a Loader for the given options. The built-in exclusion list
// always applies.
func New(opts Options) (*Loader, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("loader: root must not be empty")
	}
	absRoot, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("loader: resolve root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("loader: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("loader: root is not a directory: %s", absRoot)
	}
	opts.Root = absRoot
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	matcher := gitignore.NewWithBuiltins()
	for _, p := range opts.ExcludePatterns {
		matcher.AddPattern(p)
	}
	if opts.RespectGitignore {
		rootIgnore := filepath.Join(absRoot, ".gitignore")
		if _, err := os.Stat(rootIgnore); err == nil {
			if err := matcher.AddFromFile(rootIgnore, ""); err != nil {
				slog.Warn("failed to load .gitignore", slog.String("error", err.Error()))
			}
		}
	}

	var include map[string]struct{}
	if len(opts.IncludeExtensions) > 0 {
		include = make(map[string]struct{}, len(opts.IncludeExtensions))
		for _, ext := range opts.IncludeExtensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			include[strings.ToLower(ext)] = struct{}{}
		}
	}

	return &Loader{opts: opts, matcher: matcher, include: include}, nil
}

// Load walks the corpus and streams files in sorted path order.
// The channel closes when the walk completes or ctx is cancelled.
func (l *Loader) Load(ctx context.Context) (<-chan Result, error) {
	paths, err := l.discover(ctx)
	if err != nil {
		return nil, err
	}

	results := make(chan Result, 16)
	go func() {
		defer close(results)
		for _, rel := range paths {
			select {
			case <-ctx.Done():
				return
			default:
			}

			file, err := l.read(rel)
			if err != nil {
				select {
				case results <- Result{Err: fmt.Errorf("load %s: %w", rel, err)}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if file == nil {
				continue // skipped (binary, oversized after stat race)
			}
			select {
			case results <- Result{File: file}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return results, nil
}

// Discover returns the sorted relative paths that a Load call would yield,
// without reading content. Used by the indexer for delta computation.
func (l *Loader) Discover(ctx context.Context) ([]string, error) {
	return l.discover(ctx)
}

func (l *Loader) discover(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("walk error, skipping entry", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, relErr := filepath.Rel(l.opts.Root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if l.matcher.Match(rel, true) {
				return filepath.SkipDir
			}
			if l.opts.RespectGitignore {
				nested := filepath.Join(path, ".gitignore")
				if _, statErr := os.Stat(nested); statErr == nil && rel != "" {
					if addErr := l.matcher.AddFromFile(nested, rel); addErr != nil {
						slog.Warn("failed to load nested .gitignore", slog.String("path", nested))
					}
				}
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if l.matcher.Match(rel, false) {
			return nil
		}
		if !l.extensionAllowed(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > l.opts.MaxFileSize {
			slog.Debug("skipping oversized file",
				slog.String("path", rel),
				slog.Int64("size", info.Size()))
			return nil
		}

		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// read loads and validates one file. Returns (nil, nil) for skips.
func (l *Loader) read(rel string) (*File, error) {
	abs := filepath.Join(l.opts.Root, filepath.FromSlash(rel))
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > l.opts.MaxFileSize {
		return nil, nil
	}
	if isBinary(content) {
		return nil, nil
	}

	content, ok := repairUTF8(content)
	if !ok {
		slog.Debug("skipping non-UTF-8 file", slog.String("path", rel))
		return nil, nil
	}

	return &File{
		Path:        rel,
		AbsPath:     abs,
		Content:     content,
		Language:    DetectLanguage(rel, content),
		Size:        int64(len(content)),
		ContentHash: HashBytes(content),
	}, nil
}

func (l *Loader) extensionAllowed(rel string) bool {
	ext := strings.ToLower(filepath.Ext(rel))
	if l.include != nil {
		_, ok := l.include[ext]
		return ok
	}
	// Default allow-list: anything with a known language mapping.
	if _, ok := languageByExtension[ext]; ok {
		return true
	}
	// Extensionless known filenames (Makefile, Dockerfile).
	base := filepath.Base(rel)
	_, ok := languageByFilename[base]
	return ok
}

// isBinary detects binary content via NUL bytes in the first 8KB.
func isBinary(content []byte) bool {
	probe := content
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

// repairUTF8 validates content, dropping up to utf8RepairLimit invalid bytes.
// Returns false when the content is not reasonably repairable.
func repairUTF8(content []byte) ([]byte, bool) {
	if utf8.Valid(content) {
		return content, true
	}

	repaired := make([]byte, 0, len(content))
	dropped := 0
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRune(content[i:])
		if r == utf8.RuneError && size == 1 {
			dropped++
			if dropped > utf8RepairLimit {
				return nil, false
			}
			i++
			continue
		}
		repaired = append(repaired, content[i:i+size]...)
		i += size
	}
	return repaired, true
}
