package manifest

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

func readyManifest() *Manifest {
	return &Manifest{
		CorpusID:           "corpus-1",
		EmbeddingProvider:  "openai",
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingDimension: 768,
		SparseBackend:      "sqlite",
		SparseTokenizer:    "code",
		BuildStatus:        StatusComplete,
	}
}

func TestCheckEmbedder(t *testing.T) {
	m := readyManifest()

	assert.NoError(t, m.CheckEmbedder(EmbedderInfo{
		Provider: "openai", Model: "text-embedding-3-small", Dimension: 768,
	}))

	tests := []struct {
		name string
		info EmbedderInfo
	}{
		{"dimension mismatch", EmbedderInfo{Provider: "openai", Model: "text-embedding-3-small", Dimension: 384}},
		{"model mismatch", EmbedderInfo{Provider: "openai", Model: "other-model", Dimension: 768}},
		{"provider mismatch", EmbedderInfo{Provider: "static", Model: "text-embedding-3-small", Dimension: 768}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.CheckEmbedder(tt.info)
			require.Error(t, err)
			assert.Equal(t, apperrors.KindManifestMismatch, apperrors.KindOf(err))
		})
	}
}

func TestCheckSparse(t *testing.T) {
	m := readyManifest()

	assert.NoError(t, m.CheckSparse(SparseInfo{Backend: "sqlite", Tokenizer: "code"}))

	err := m.CheckSparse(SparseInfo{Backend: "bleve", Tokenizer: "code"})
	assert.Equal(t, apperrors.KindManifestMismatch, apperrors.KindOf(err))

	err = m.CheckSparse(SparseInfo{Backend: "sqlite", Tokenizer: "stemmed"})
	assert.Equal(t, apperrors.KindManifestMismatch, apperrors.KindOf(err))
}

func TestCheckReady(t *testing.T) {
	m := readyManifest()
	assert.NoError(t, m.CheckReady())

	m.BuildStatus = StatusBuilding
	assert.Equal(t, apperrors.KindBuildConflict, apperrors.KindOf(m.CheckReady()))

	m.BuildStatus = StatusError
	m.BuildError = "embedder unreachable"
	err := m.CheckReady()
	assert.Equal(t, apperrors.KindBuildFailed, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "embedder unreachable")
}

func TestStoreRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	m := readyManifest()
	m.ChunkCount = 42
	m.Adapter = &AdapterPointer{Path: "adapters/current.bin", Fingerprint: "abc123"}
	require.NoError(t, s.Save(m))
	assert.False(t, m.UpdatedAt.IsZero())
	assert.False(t, m.CreatedAt.IsZero())

	got, err := s.Load("corpus-1")
	require.NoError(t, err)
	assert.Equal(t, 42, got.ChunkCount)
	assert.Equal(t, "abc123", got.Adapter.Fingerprint)
	assert.Equal(t, StatusComplete, got.BuildStatus)
}

func TestStoreLoadMissing(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load("never-built")
	assert.True(t, os.IsNotExist(err))
}

func TestStorePreservesCreatedAt(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	m := readyManifest()
	require.NoError(t, s.Save(m))
	created := m.CreatedAt

	m.ChunkCount = 7
	require.NoError(t, s.Save(m))
	got, err := s.Load("corpus-1")
	require.NoError(t, err)
	assert.Equal(t, created.Unix(), got.CreatedAt.Unix())
	assert.Equal(t, 7, got.ChunkCount)
}

func TestStoreListAndDelete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	a := readyManifest()
	b := readyManifest()
	b.CorpusID = "corpus-2"
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Save(b))

	ids, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"corpus-1", "corpus-2"}, ids)

	require.NoError(t, s.Delete("corpus-1"))
	require.NoError(t, s.Delete("corpus-1")) // idempotent

	ids, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"corpus-2"}, ids)
}
