package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "Checking embedder...")

	out := buf.String()
	assert.Contains(t, out, "🔍")
	assert.Contains(t, out, "Checking embedder...")
}

func TestMessageIcons(t *testing.T) {
	tests := []struct {
		name  string
		print func(w *Writer)
		icon  string
		msg   string
	}{
		{"success", func(w *Writer) { w.Success("Index complete!") }, "✅", "Index complete!"},
		{"warning", func(w *Writer) { w.Warning("Embedder not available") }, "⚠️", "Embedder not available"},
		{"error", func(w *Writer) { w.Error("Failed to connect") }, "❌", "Failed to connect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.print(New(buf))
			assert.Contains(t, buf.String(), tt.icon)
			assert.Contains(t, buf.String(), tt.msg)
		})
	}
}

func TestStatusfFormatsMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "Found %d files in %s", 42, "/path/to/project")

	assert.Contains(t, buf.String(), "Found 42 files in /path/to/project")
}

func TestCodePrintsIndentedBlock(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Code(`{"key": "value"}`)

	assert.Contains(t, buf.String(), `  {"key": "value"}`)
}

func TestProgressNonTTYPrintsLinePerPercent(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(10, 100, "chunking")
	w.Progress(10, 100, "chunking")
	w.Progress(50, 100, "embedding")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "10%")
	assert.Contains(t, lines[1], "50%")
	assert.NotContains(t, buf.String(), "\r")
}

func TestProgressZeroTotalNoOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(0, 0, "Processing")

	assert.Empty(t, buf.String())
}

func TestProgressBarRender(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		width    int
		wantFull int
	}{
		{"0 percent", 0, 100, 10, 0},
		{"50 percent", 50, 100, 10, 5},
		{"100 percent", 100, 100, 10, 10},
		{"25 percent", 25, 100, 20, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := renderProgressBar(tt.current, tt.total, tt.width)
			assert.Equal(t, tt.wantFull, strings.Count(bar, "█"))
			assert.Equal(t, tt.width, len([]rune(bar)))
		})
	}
}

func TestNewlinePrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Newline()
	assert.Equal(t, "\n", buf.String())
}
