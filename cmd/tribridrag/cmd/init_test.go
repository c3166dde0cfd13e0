package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestInitWritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tribridrag.yaml")

	out, err := runCommand(t, "init", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fusion:")
	assert.Contains(t, string(data), "reranker:")
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tribridrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("existing: true\n"), 0o644))

	_, err := runCommand(t, "init", "--output", path)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "existing: true\n", string(data))
}

func TestInitForceOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tribridrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("existing: true\n"), 0o644))

	_, err := runCommand(t, "init", "--output", path, "--force")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "embedding:"))
}
