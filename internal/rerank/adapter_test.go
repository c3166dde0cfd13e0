package rerank

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterHandleUnloadsOnlyAfterLastReader(t *testing.T) {
	var unloaded bool
	h := newAdapterHandle("a", "f1", func() { unloaded = true })

	require.True(t, h.acquire())
	h.retire()
	assert.False(t, unloaded, "reader still holds a reference")

	h.release()
	assert.True(t, unloaded)
}

func TestAdapterHandleUnloadsImmediatelyWhenIdle(t *testing.T) {
	var unloaded bool
	h := newAdapterHandle("a", "f1", func() { unloaded = true })
	h.retire()
	assert.True(t, unloaded)
}

func TestAdapterHandleRejectsAcquireAfterDrain(t *testing.T) {
	h := newAdapterHandle("a", "f1", nil)
	h.retire()
	assert.False(t, h.acquire())
}

func TestAdapterHandleRetireIsIdempotent(t *testing.T) {
	var unloads int
	h := newAdapterHandle("a", "f1", func() { unloads++ })
	h.retire()
	h.retire()
	assert.Equal(t, 1, unloads)
}

func TestFingerprintTracksContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapter.bin")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	f1, err := fingerprintFile(path)
	require.NoError(t, err)
	assert.Len(t, f1, 16)

	f1again, err := fingerprintFile(path)
	require.NoError(t, err)
	assert.Equal(t, f1, f1again)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	f2, err := fingerprintFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, f1, f2)
}
