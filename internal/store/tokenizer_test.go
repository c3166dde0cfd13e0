package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"simple", []string{"simple"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitCamelCase(tt.input), tt.input)
	}
}

func TestTokenizeCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "camel and snake case",
			input: "func getUserById(user_id string)",
			want:  []string{"func", "get", "user", "by", "id", "user", "id", "string"},
		},
		{
			name:  "drops single chars",
			input: "x := f(a, bb)",
			want:  []string{"bb"},
		},
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeCode(tt.input))
		})
	}
}

func TestFilterStopWords(t *testing.T) {
	stop := BuildStopWordMap([]string{"func", "return"})
	got := FilterStopWords([]string{"func", "search", "return", "index"}, stop)
	assert.Equal(t, []string{"search", "index"}, got)
}
