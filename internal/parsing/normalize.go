// Package parsing recovers structured JSON from loosely formatted model
// output. Models wrap JSON in markdown fences, prepend prose, or emit
// several objects back to back; Normalize works through a fixed sequence of
// recovery strategies before giving up.
package parsing

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CleanJSONBlock removes markdown code block wrappers from JSON responses.
// Models often wrap JSON in ```json ... ``` blocks even when instructed not to.
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)

	// Handle ```json ... ``` blocks
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Handle generic ``` ... ``` blocks
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Skip potential language identifier on first line
		if idx := strings.Index(text, "\n"); idx >= 0 {
			firstLine := text[:idx]
			if len(firstLine) < 20 && !strings.Contains(firstLine, " ") && !strings.Contains(firstLine, "{") {
				text = text[idx+1:]
			}
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	return text
}

// Normalize extracts a single JSON object from raw model output. Strategies
// are tried in order:
//
//  1. strip a fenced code block wrapper;
//  2. parse the whole text as an object (or flatten a top-level array);
//  3. reparse the substring between the first '{' and the last '}';
//  4. split that substring into balanced objects and merge them, later keys
//     winning and unparsable spans skipped;
//  5. reparse the substring between the first '[' and the last ']' as an
//     array and flatten it.
//
// Anything else fails with *UnparsableResponseError. The result of a
// successful Normalize reparses to itself.
func Normalize(raw string) (map[string]any, error) {
	cleaned := strings.TrimSpace(CleanJSONBlock(raw))

	if obj, ok := tryObject(cleaned); ok {
		return obj, nil
	}
	if arr, ok := tryArray(cleaned); ok {
		return flattenArray(arr), nil
	}

	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			span := cleaned[start : end+1]
			if obj, ok := tryObject(span); ok {
				return obj, nil
			}
			if obj, ok := mergeObjects(splitObjects(span)); ok {
				return obj, nil
			}
		}
	}

	if start := strings.Index(cleaned, "["); start >= 0 {
		if end := strings.LastIndex(cleaned, "]"); end > start {
			if arr, ok := tryArray(cleaned[start : end+1]); ok {
				return flattenArray(arr), nil
			}
		}
	}

	return nil, &UnparsableResponseError{Raw: raw}
}

func tryObject(text string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

func tryArray(text string) ([]any, bool) {
	var arr []any
	if err := json.Unmarshal([]byte(text), &arr); err != nil {
		return nil, false
	}
	return arr, true
}

// splitObjects scans text for balanced top-level {...} spans, tracking string
// literals and escapes so braces inside values do not miscount depth.
func splitObjects(text string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

// mergeObjects parses each span and folds the results into one map. Later
// keys overwrite earlier ones; spans that fail to parse are skipped. Reports
// false when nothing parsed.
func mergeObjects(spans []string) (map[string]any, bool) {
	merged := make(map[string]any)
	parsed := false
	for _, span := range spans {
		obj, ok := tryObject(span)
		if !ok {
			continue
		}
		parsed = true
		for k, v := range obj {
			merged[k] = v
		}
	}
	return merged, parsed
}

// flattenArray collapses a top-level array into a single object: map elements
// merge key-wise with later keys winning, everything else is stored under its
// stringified index.
func flattenArray(arr []any) map[string]any {
	merged := make(map[string]any)
	for i, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			for k, v := range obj {
				merged[k] = v
			}
			continue
		}
		merged[strconv.Itoa(i)] = el
	}
	return merged
}
