package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicPatterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		isDir   bool
		want    bool
	}{
		{"exact file", "secret.txt", "secret.txt", false, true},
		{"exact file nested", "secret.txt", "a/b/secret.txt", false, true},
		{"star glob", "*.log", "debug.log", false, true},
		{"star glob nested", "*.log", "logs/debug.log", false, true},
		{"star does not cross slash", "a*.txt", "a/b.txt", false, false},
		{"question mark", "file?.go", "file1.go", false, true},
		{"question mark no match", "file?.go", "file10.go", false, false},
		{"char class", "file[0-9].go", "file7.go", false, true},
		{"no match", "*.log", "main.go", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			m.AddPattern(tt.pattern)
			assert.Equal(t, tt.want, m.Match(tt.path, tt.isDir))
		})
	}
}

func TestDirectoryOnlyPattern(t *testing.T) {
	m := New()
	m.AddPattern("build/")

	assert.True(t, m.Match("build", true))
	assert.False(t, m.Match("build", false), "dir-only pattern must not match a plain file")
	assert.True(t, m.Match("build/output.bin", false), "files inside an ignored dir are ignored")
	assert.True(t, m.Match("sub/build/output.bin", false))
}

func TestAnchoredPattern(t *testing.T) {
	m := New()
	m.AddPattern("/README.md")

	assert.True(t, m.Match("README.md", false))
	assert.False(t, m.Match("docs/README.md", false))
}

func TestInternalSlashAnchors(t *testing.T) {
	m := New()
	m.AddPattern("doc/frotz")

	assert.True(t, m.Match("doc/frotz", false))
	assert.False(t, m.Match("a/doc/frotz", false))
}

func TestNegation(t *testing.T) {
	m := New()
	m.AddPattern("*.log")
	m.AddPattern("!important.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("important.log", false))
}

func TestDoubleStar(t *testing.T) {
	m := New()
	m.AddPattern("**/generated/*.go")

	assert.True(t, m.Match("generated/types.go", false))
	assert.True(t, m.Match("pkg/generated/types.go", false))
	assert.False(t, m.Match("pkg/generated/sub/types.go", false))
}

func TestBasedPatternsOnlyApplyUnderBase(t *testing.T) {
	m := New()
	m.AddPatternWithBase("*.tmp", "sub")

	assert.True(t, m.Match("sub/cache.tmp", false))
	assert.False(t, m.Match("cache.tmp", false))
	assert.False(t, m.Match("other/cache.tmp", false))
}

func TestCommentsAndBlankLinesIgnored(t *testing.T) {
	m := New()
	m.AddPattern("# just a comment")
	m.AddPattern("")
	m.AddPattern("   ")

	assert.False(t, m.Match("anything", false))
}

func TestAddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("*.o\n# comment\nbin/\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))

	assert.True(t, m.Match("main.o", false))
	assert.True(t, m.Match("bin/tool", false))
	assert.False(t, m.Match("main.go", false))
}

func TestBuiltinPatterns(t *testing.T) {
	m := NewWithBuiltins()

	assert.True(t, m.Match(".git/HEAD", false))
	assert.True(t, m.Match("node_modules/react/index.js", false))
	assert.True(t, m.Match("app.min.js", false))
	assert.True(t, m.Match("__pycache__/mod.pyc", false))
	assert.False(t, m.Match("internal/retrieval/fusion.go", false))
}
