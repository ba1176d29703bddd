package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
}

func TestExtractJSONObject(t *testing.T) {
	fence := "\x60\x60\x60"
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{"bare object", `{"action":"click"}`, `{"action":"click"}`, false},
		{"json fence", fence + "json\n{\"action\":\"wait\"}\n" + fence, `{"action":"wait"}`, false},
		{"plain fence", fence + "\n{\"action\":\"wait\"}\n" + fence, `{"action":"wait"}`, false},
		{"conversational wrapping", `Sure! Here you go: {"action":"scroll"} Good luck.`, `{"action":"scroll"}`, false},
		{"nested braces", `{"a":{"b":1}}`, `{"a":{"b":1}}`, false},
		{"empty", "   ", "", true},
		{"no object", "I cannot help with that.", "", true},
		{"reversed braces", "} oops {", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSONObject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseJSONResponse(t *testing.T) {
	t.Run("decodes into the target type", func(t *testing.T) {
		got, err := ParseJSONResponse[sample]("```json\n{\"thought\":\"fill in\",\"action\":\"type\"}\n```")
		require.NoError(t, err)
		assert.Equal(t, "fill in", got.Thought)
		assert.Equal(t, "type", got.Action)
	})

	t.Run("reports invalid json with a snippet", func(t *testing.T) {
		_, err := ParseJSONResponse[sample](`{"thought": "unterminated}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal LLM JSON response")
		assert.Contains(t, err.Error(), "unterminated")
	})

	t.Run("reports missing json", func(t *testing.T) {
		_, err := ParseJSONResponse[sample]("no json here")
		assert.ErrorIs(t, err, ErrNoJSONObject)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
	assert.Equal(t, "", Truncate("abc", 0))
	// "é" is two bytes; cutting inside it must back off to the rune start.
	assert.Equal(t, "a...", Truncate("aé", 2))
}
