package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports model output that could not be coerced into JSON. Raw
// carries the full text so retries can replay it to the model.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("model output is not valid JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractJSON pulls a JSON document out of raw model output. Models often
// wrap JSON in prose or markdown fences, so three strategies run in order:
//
//  1. the last fenced block whose contents parse as JSON,
//  2. the last '{' or '[' that begins a parseable value,
//  3. the first such position.
//
// The returned string is the JSON slice only; leading reasoning text is
// discarded.
func ExtractJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", &ParseError{Raw: raw, Err: fmt.Errorf("empty output")}
	}

	if doc, ok := extractFenced(trimmed); ok {
		return doc, nil
	}

	positions := bracketPositions(trimmed)
	if len(positions) == 0 {
		return "", &ParseError{Raw: raw, Err: fmt.Errorf("no JSON value found")}
	}

	// Prefer the last bracket whose value runs to the end of the output
	// (reasoning before, JSON after). Nested brackets fail the run-to-end
	// check, so this lands on the outermost document.
	for i := len(positions) - 1; i >= 0; i-- {
		if doc, ok := decodeAt(trimmed, positions[i], true); ok {
			return doc, nil
		}
	}
	// Fall back to the first bracket that starts any parseable value,
	// tolerating trailing text.
	for _, pos := range positions {
		if doc, ok := decodeAt(trimmed, pos, false); ok {
			return doc, nil
		}
	}

	return "", &ParseError{Raw: raw, Err: fmt.Errorf("no parseable JSON at %d candidate positions", len(positions))}
}

// ParseJSON extracts a JSON document from raw output and unmarshals it.
func ParseJSON(raw string, out any) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return &ParseError{Raw: raw, Err: err}
	}
	return nil
}

// extractFenced scans markdown code fences back to front and returns the
// contents of the last one holding valid JSON.
func extractFenced(s string) (string, bool) {
	const fence = "```"

	var blocks []string
	rest := s
	for {
		start := strings.Index(rest, fence)
		if start < 0 {
			break
		}
		rest = rest[start+len(fence):]
		// Drop an optional language tag on the opening line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			firstLine := strings.TrimSpace(rest[:nl])
			if firstLine == "json" || firstLine == "JSON" || firstLine == "" {
				rest = rest[nl+1:]
			}
		}
		end := strings.Index(rest, fence)
		if end < 0 {
			break
		}
		blocks = append(blocks, strings.TrimSpace(rest[:end]))
		rest = rest[end+len(fence):]
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		if json.Valid([]byte(blocks[i])) {
			return blocks[i], true
		}
	}
	return "", false
}

// bracketPositions returns the indexes of every '{' and '[' in s.
func bracketPositions(s string) []int {
	var positions []int
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			positions = append(positions, i)
		}
	}
	return positions
}

// decodeAt attempts to decode one JSON value starting at pos. When
// toEnd is set, only whitespace may follow the decoded value.
func decodeAt(s string, pos int, toEnd bool) (string, bool) {
	dec := json.NewDecoder(strings.NewReader(s[pos:]))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	if toEnd {
		consumed := pos + int(dec.InputOffset())
		if strings.TrimSpace(s[consumed:]) != "" {
			return "", false
		}
	}
	return string(v), true
}
