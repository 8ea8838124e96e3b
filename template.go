package stepflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Template placeholders take the form ${step.<id>.result[.<path>]} or
// ${shared.<key>[.<path>]}. Dotted paths support bracketed integer
// indices for list access, e.g. ${step.generate.result.images[0].url}.
// Unresolved placeholders yield an empty value rather than an error.

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveScope provides the lookups template resolution reads from. Both
// maps are point-in-time snapshots; resolution never mutates them.
type ResolveScope struct {
	Results map[string]*StepResult
	Shared  map[string]any
}

// ResolveValue resolves placeholders in s. When the whole string is a
// single placeholder the referenced value is returned with its original
// type; otherwise placeholders are interpolated into the string.
func ResolveValue(s string, scope ResolveScope) any {
	matches := placeholderPattern.FindStringSubmatch(s)
	if matches != nil && matches[0] == s {
		value, _ := resolveReference(matches[1], scope)
		return value
	}
	return ResolveString(s, scope)
}

// ResolveString interpolates every placeholder in s, formatting non-string
// values with their default representation. Unresolved references become "".
func ResolveString(s string, scope ResolveScope) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		ref := match[2 : len(match)-1]
		value, ok := resolveReference(ref, scope)
		if !ok || value == nil {
			return ""
		}
		if str, isString := value.(string); isString {
			return str
		}
		return fmt.Sprintf("%v", value)
	})
}

// ResolveConfig returns a deep copy of cfg with every string value
// resolved against the scope, descending into nested maps and slices.
func ResolveConfig(cfg map[string]any, scope ResolveScope) map[string]any {
	if cfg == nil {
		return nil
	}
	resolved := make(map[string]any, len(cfg))
	for key, value := range cfg {
		resolved[key] = resolveConfigValue(value, scope)
	}
	return resolved
}

func resolveConfigValue(value any, scope ResolveScope) any {
	switch v := value.(type) {
	case string:
		return ResolveValue(v, scope)
	case map[string]any:
		return ResolveConfig(v, scope)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = resolveConfigValue(item, scope)
		}
		return items
	default:
		return value
	}
}

type pathToken struct {
	field string
	index int
	isIdx bool
}

// parsePath splits a dotted reference into field and index tokens,
// e.g. "images[0].url" -> [images, 0, url].
func parsePath(ref string) ([]pathToken, error) {
	var tokens []pathToken
	for _, segment := range strings.Split(ref, ".") {
		if segment == "" {
			return nil, fmt.Errorf("empty path segment in %q", ref)
		}
		rest := segment
		if open := strings.IndexByte(rest, '['); open >= 0 {
			if open > 0 {
				tokens = append(tokens, pathToken{field: rest[:open]})
			}
			rest = rest[open:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, fmt.Errorf("malformed index in %q", ref)
				}
				closing := strings.IndexByte(rest, ']')
				if closing < 0 {
					return nil, fmt.Errorf("unterminated index in %q", ref)
				}
				idx, err := strconv.Atoi(rest[1:closing])
				if err != nil {
					return nil, fmt.Errorf("non-integer index in %q", ref)
				}
				tokens = append(tokens, pathToken{index: idx, isIdx: true})
				rest = rest[closing+1:]
			}
		} else {
			tokens = append(tokens, pathToken{field: rest})
		}
	}
	return tokens, nil
}

// resolveReference resolves a single reference (without the ${} wrapper)
func resolveReference(ref string, scope ResolveScope) (any, bool) {
	tokens, err := parsePath(ref)
	if err != nil || len(tokens) == 0 || tokens[0].isIdx {
		return nil, false
	}

	switch tokens[0].field {
	case "step":
		// step.<id>.result[.<path>]
		if len(tokens) < 3 || tokens[1].isIdx || tokens[2].isIdx || tokens[2].field != "result" {
			return nil, false
		}
		result, ok := scope.Results[tokens[1].field]
		if !ok {
			return nil, false
		}
		return navigate(result.Output, tokens[3:])
	case "shared":
		if len(tokens) < 2 || tokens[1].isIdx {
			return nil, false
		}
		value, ok := scope.Shared[tokens[1].field]
		if !ok {
			return nil, false
		}
		return navigate(value, tokens[2:])
	default:
		return nil, false
	}
}

// navigate walks a path through maps and slices. Values of other types
// (typically caller-defined structs) are normalized through JSON once so
// field access keeps working on arbitrary step payloads.
func navigate(value any, tokens []pathToken) (any, bool) {
	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		switch v := value.(type) {
		case map[string]any:
			if token.isIdx {
				return nil, false
			}
			next, ok := v[token.field]
			if !ok {
				return nil, false
			}
			value = next
		case []any:
			if !token.isIdx || token.index < 0 || token.index >= len(v) {
				return nil, false
			}
			value = v[token.index]
		default:
			normalized, ok := normalizeJSON(value)
			if !ok {
				return nil, false
			}
			value = normalized
			i-- // retry the same token against the normalized value
		}
	}
	return value, true
}

func normalizeJSON(value any) (any, bool) {
	switch value.(type) {
	case nil, string, bool, float64, int, int64:
		return nil, false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, false
	}
	// Guard against types that marshal to scalars and would loop
	switch normalized.(type) {
	case map[string]any, []any:
		return normalized, true
	default:
		return nil, false
	}
}
