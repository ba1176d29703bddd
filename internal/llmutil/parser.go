// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fencedObjectRegex extracts a JSON object wrapped in a markdown code fence.
// \x60 is a backtick, which raw strings cannot contain.
var fencedObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\{.*\\})\\s*\x60\x60\x60")

// ErrNoJSONObject is returned when a response contains no object at all.
var ErrNoJSONObject = errors.New("response contains no JSON object")

// ExtractJSONObject returns the JSON object embedded in a model response. It
// accepts a bare object, an object inside a markdown fence, and an object
// surrounded by conversational text.
func ExtractJSONObject(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", ErrNoJSONObject
	}

	if m := fencedObjectRegex.FindStringSubmatch(response); len(m) > 1 {
		return m[1], nil
	}

	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first == -1 || last <= first {
		return "", ErrNoJSONObject
	}
	return response[first : last+1], nil
}

// ParseJSONResponse decodes the JSON object embedded in response into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, err := ExtractJSONObject(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, Truncate(response, 200))
	}

	var result T
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(raw, 500))
	}
	return &result, nil
}

// Truncate shortens s to at most maxLen bytes without splitting a rune.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
