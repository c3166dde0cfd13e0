package learning

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tribridrag/tribridrag/internal/errors"
)

func boolPtr(b bool) *bool { return &b }

func TestEventLogAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "usage.log")
	log, err := OpenEventLog(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, Event{
		Kind:      EventSearch,
		Query:     "parse config",
		TopChunks: []string{"c1", "c2", "c3"},
	}))
	require.NoError(t, log.Append(ctx, Event{
		Kind:    EventFeedback,
		Query:   "parse config",
		ChunkID: "c2",
		Helpful: boolPtr(true),
	}))
	require.NoError(t, log.Close())

	events, err := ReadEvents(ctx, path)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, EventSearch, events[0].Kind)
	assert.Equal(t, []string{"c1", "c2", "c3"}, events[0].TopChunks)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Time.IsZero())

	assert.Equal(t, EventFeedback, events[1].Kind)
	assert.Equal(t, "c2", events[1].ChunkID)
	require.NotNil(t, events[1].Helpful)
	assert.True(t, *events[1].Helpful)
}

func TestEventLogAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.log")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		log, err := OpenEventLog(path)
		require.NoError(t, err)
		require.NoError(t, log.Append(ctx, Event{
			Kind: EventSearch, Query: "q", TopChunks: []string{"c1"},
		}))
		require.NoError(t, log.Close())
	}

	events, err := ReadEvents(ctx, path)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventLogValidatesEvents(t *testing.T) {
	log, err := OpenEventLog(filepath.Join(t.TempDir(), "usage.log"))
	require.NoError(t, err)
	defer log.Close()

	ctx := context.Background()
	tests := []struct {
		name string
		ev   Event
	}{
		{"unknown kind", Event{Kind: "viewed", Query: "q"}},
		{"empty query", Event{Kind: EventSearch, Query: "  "}},
		{"click without chunk", Event{Kind: EventClick, Query: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := log.Append(ctx, tt.ev)
			require.Error(t, err)
			assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
		})
	}
}

func TestReadEventsSkipsTornLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.log")
	content := `{"kind":"search","event_id":"e1","query":"q","top_chunks":["c1"]}
{"kind":"search","event_id":"e2","quer`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	events, err := ReadEvents(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].ID)
}

func TestReadEventsMissingFile(t *testing.T) {
	events, err := ReadEvents(context.Background(), filepath.Join(t.TempDir(), "absent.log"))
	require.NoError(t, err)
	assert.Empty(t, events)
}
