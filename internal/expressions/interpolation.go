package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Interpolate replaces each {$reference} region in s with the reference's
// string form. Undefined references become the empty string; regions that do
// not hold a reference, such as literal JSON braces, are left untouched.
// An unknown root fails the whole substitution.
func Interpolate(s string, ec *Context) (string, error) {
	if !strings.Contains(s, "{$") {
		return s, nil
	}

	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		// Look for {$ marker.
		idx := strings.Index(s[i:], "{$")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}

		result.WriteString(s[i : i+idx])
		start := i + idx + 1 // at '$'

		end := strings.IndexByte(s[start:], '}')
		if end == -1 {
			result.WriteString(s[i+idx:])
			break
		}
		end += start

		raw := strings.TrimSpace(s[start:end])
		ref, err := ParseReference(raw)
		if err != nil {
			if isUnknownRoot(err) {
				return "", err
			}
			// Not a reference: keep the region verbatim.
			result.WriteString(s[i+idx : end+1])
			i = end + 1
			continue
		}

		val, err := ref.Resolve(ec)
		if err != nil {
			return "", err
		}
		result.WriteString(Stringify(val))

		i = end + 1 // skip "}".
	}

	return result.String(), nil
}

// Stringify renders a resolved value for embedding in text. Strings are
// written as is, undefined and nil as "", integral floats without a fraction
// and composites as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil, UndefinedValue:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
