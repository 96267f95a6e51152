package ai

import (
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"strings"
)

const maxSnippetRunes = 200

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// ShapeCheck inspects a candidate JSON document before it is decoded and
// rejects it when required fields are absent. Decoding alone cannot tell a
// missing field from a zero one.
type ShapeCheck func(doc []byte) error

// DecodeStructured decodes model output into target. The full text is tried
// first; then the first fenced code block, the first-'{'-to-last-'}' span, and
// each balanced top-level object in order. A candidate rejected by check is
// skipped like one that fails to decode; a nil check accepts any object.
// target is only written by a successful decode.
func DecodeStructured(raw string, target any, check ShapeCheck) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &ParseError{Snippet: "", Err: errors.New("empty payload")}
	}
	lastErr := decodeStrict(trimmed, target, check)
	if lastErr == nil {
		return nil
	}
	for _, candidate := range fallbackCandidates(trimmed) {
		if err := decodeStrict(candidate, target, check); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return &ParseError{Snippet: summarizeSnippet(trimmed), Err: lastErr}
}

// ExtractText returns free-text model output (scripts) trimmed, unparsed.
func ExtractText(raw string) string {
	return strings.TrimSpace(raw)
}

// decodeStrict decodes into a scratch value of target's type first so a
// failed attempt never leaves target half-populated.
func decodeStrict(text string, target any, check ShapeCheck) error {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return errors.New("JSON document is not an object")
	}
	if check != nil {
		if err := check([]byte(trimmed)); err != nil {
			return err
		}
	}
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("decode target must be a non-nil pointer")
	}
	scratch := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal([]byte(trimmed), scratch.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(scratch.Elem())
	return nil
}

func fallbackCandidates(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if m := fencedBlockPattern.FindStringSubmatch(text); len(m) == 2 {
		add(m[1])
	}
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			add(text[start : end+1])
		}
	}
	for _, obj := range balancedObjects(text) {
		add(obj)
	}
	return out
}

// balancedObjects returns every top-level {...} span whose braces balance,
// ignoring braces inside JSON string literals.
func balancedObjects(text string) []string {
	var out []string
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	return out
}

func summarizeSnippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= maxSnippetRunes {
		return text
	}
	return string(runes[:maxSnippetRunes]) + "..."
}
