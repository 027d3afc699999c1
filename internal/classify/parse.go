package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when model output yields no JSON after all
// recovery tiers, including the repair call.
var ErrUnparseable = errors.New("unparseable model response")

// repairInputLimit caps how much broken text is fed to a repair call.
const repairInputLimit = 2000

type parsedKind int

const (
	parsedObject parsedKind = iota
	parsedArray
)

// parsed is the tagged result of decoding model output: a JSON object, a
// JSON array, or nothing at all.
type parsed struct {
	kind   parsedKind
	object map[string]any
	array  []any
}

// decodeAny parses text as a JSON object or array.
func decodeAny(text string) (parsed, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return parsed{}, false
	}
	switch t := v.(type) {
	case map[string]any:
		return parsed{kind: parsedObject, object: t}, true
	case []any:
		return parsed{kind: parsedArray, array: t}, true
	}
	return parsed{}, false
}

// span returns the widest open..close span in text.
func span(text string, open, close byte) (string, bool) {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// spanCandidates returns the largest embedded {...} and [...] spans,
// widest first.
func spanCandidates(text string) []string {
	obj, haveObj := span(text, '{', '}')
	arr, haveArr := span(text, '[', ']')
	switch {
	case haveObj && haveArr:
		if len(arr) > len(obj) {
			return []string{arr, obj}
		}
		return []string{obj, arr}
	case haveObj:
		return []string{obj}
	case haveArr:
		return []string{arr}
	}
	return nil
}

// parseResponse recovers JSON from model output in three tiers: direct
// parse, largest-span extraction, then exactly one repair call asking the
// model to fix its own output. Failure of all three is a hard error.
func (c *Classifier) parseResponse(ctx context.Context, text string) (parsed, error) {
	if p, ok := decodeAny(strings.TrimSpace(text)); ok {
		return p, nil
	}

	candidates := spanCandidates(text)
	for _, cand := range candidates {
		if p, ok := decodeAny(cand); ok {
			return p, nil
		}
	}

	broken := text
	if len(candidates) > 0 {
		broken = candidates[0]
	}
	if len(broken) > repairInputLimit {
		broken = broken[:repairInputLimit]
	}

	fixed, err := c.gen.Generate(ctx, repairPrompt(broken))
	if err != nil {
		return parsed{}, fmt.Errorf("repair call: %w", err)
	}
	if p, ok := decodeAny(strings.TrimSpace(fixed)); ok {
		return p, nil
	}
	for _, cand := range spanCandidates(fixed) {
		if p, ok := decodeAny(cand); ok {
			return p, nil
		}
	}

	return parsed{}, ErrUnparseable
}

// stringField extracts a non-empty string value.
func stringField(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// floatField extracts a numeric value, accepting numbers and numeric
// strings the way lenient parsers do.
func floatField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// stringsField extracts a list of strings, skipping non-string entries.
func stringsField(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// objectsField extracts a list of JSON objects, skipping other entries.
func objectsField(m map[string]any, key string) []map[string]any {
	v, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// stringMapField extracts a string-to-string mapping, skipping non-string
// values.
func stringMapField(m map[string]any, key string) map[string]string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, val := range obj {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
