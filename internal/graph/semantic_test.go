package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSemanticResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantLen int
	}{
		{
			name:    "valid array",
			raw:     `[{"name": "auth", "kind": "concept", "description": "login flow"}]`,
			wantLen: 1,
		},
		{
			name: "fenced json accepted",
			raw: "```json\n" + `[{"name": "auth", "kind": "concept", "description": ""}]` + "\n```",
			wantLen: 1,
		},
		{
			name:    "empty array",
			raw:     `[]`,
			wantLen: 0,
		},
		{
			name: "valid relations",
			raw: `[{"name": "auth", "kind": "concept", "description": "",
				"related": [{"target": "Login", "kind": "references"}]}]`,
			wantLen: 1,
		},
		{
			name:    "prose rejected",
			raw:     "The entities are auth and login.",
			wantErr: true,
		},
		{
			name:    "unknown entity kind rejected",
			raw:     `[{"name": "auth", "kind": "gadget", "description": ""}]`,
			wantErr: true,
		},
		{
			name:    "unknown field rejected",
			raw:     `[{"name": "auth", "kind": "concept", "description": "", "confidence": 0.9}]`,
			wantErr: true,
		},
		{
			name:    "empty name rejected",
			raw:     `[{"name": "  ", "kind": "concept", "description": ""}]`,
			wantErr: true,
		},
		{
			name: "unknown relation kind rejected",
			raw: `[{"name": "auth", "kind": "concept", "description": "",
				"related": [{"target": "Login", "kind": "mentions"}]}]`,
			wantErr: true,
		},
		{
			name:    "trailing content rejected",
			raw:     `[] extra`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parseSemanticResponse(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, parsed, tt.wantLen)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `[]`, stripCodeFence("```json\n[]\n```"))
	assert.Equal(t, `[]`, stripCodeFence("```\n[]\n```"))
	assert.Equal(t, `[]`, stripCodeFence("  []  "))
}
