// Package minutes turns untrusted model output into MeetingMinutes documents.
package minutes

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

const (
	maxRawSnippet = 512
	// maxCandidates bounds how many opening braces the fallback scan examines.
	maxCandidates = 16
)

// UnparseableError reports model output that contained no recoverable JSON.
// Raw holds a truncated copy of the text for diagnostics and must not be
// returned to end users.
type UnparseableError struct {
	Raw string
}

func (e *UnparseableError) Error() string {
	return "minutes: no JSON object found in model response"
}

// ExtractJSON recovers a JSON value from free-form model text. The whole text
// is tried first; failing that, the widest span from the first '{' to the
// last '}', and finally each brace-balanced object in order of appearance, up
// to maxCandidates of them. This tolerates prose, markdown fences and
// trailing commentary around the payload.
func ExtractJSON(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if v, ok := decode(trimmed); ok {
		return v, nil
	}

	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start >= 0 && end > start {
		if v, ok := decode(trimmed[start : end+1]); ok {
			return v, nil
		}
		tried := 0
		for i := start; i < end && tried < maxCandidates; i++ {
			if trimmed[i] != '{' {
				continue
			}
			tried++
			j := matchBrace(trimmed, i)
			if j < 0 {
				continue
			}
			if v, ok := decode(trimmed[i : j+1]); ok {
				return v, nil
			}
		}
	}

	return nil, &UnparseableError{Raw: truncate(text, maxRawSnippet)}
}

func decode(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// matchBrace returns the index of the '}' closing the '{' at open, skipping
// braces inside JSON string literals, or -1 when the object never closes.
func matchBrace(s string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "..."
}
