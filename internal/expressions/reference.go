package expressions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// UndefinedValue is the type of Undefined.
type UndefinedValue struct{}

func (UndefinedValue) String() string { return "undefined" }

// Undefined is returned when a reference walks off the context tree.
var Undefined = UndefinedValue{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(UndefinedValue)
	return ok
}

// Segment is one step of a reference path: a key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Reference is a parsed runtime expression such as
// $steps.login.outputs.token or $response.body#/items/0/id.
type Reference struct {
	Raw     string
	Root    string
	Path    []Segment
	Pointer []string
}

// ParseReference parses a complete reference expression. A root outside the
// context's root set yields an UNKNOWN_ROOT error; any other malformed input
// yields an EXPRESSION_ERROR.
func ParseReference(expr string) (*Reference, error) {
	src := strings.TrimSpace(expr)
	if !strings.HasPrefix(src, "$") {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "reference %q must start with $", expr)
	}
	end := referenceEnd(src, 0)
	if end != len(src) {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "malformed reference %q", expr)
	}

	ref := &Reference{Raw: src}
	i := 1
	for i < len(src) && isIdentByte(src[i]) {
		i++
	}
	ref.Root = src[1:i]
	if ref.Root == "" {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "reference %q has no root", expr)
	}
	if !IsRoot(ref.Root) {
		return nil, UnknownRootError(ref.Root, src)
	}

	for i < len(src) {
		switch src[i] {
		case '.':
			j := i + 1
			for j < len(src) && src[j] != '.' && src[j] != '[' && src[j] != '#' {
				j++
			}
			ref.Path = append(ref.Path, Segment{Key: src[i+1 : j]})
			i = j
		case '[':
			end := matchBracket(src, i)
			inner := src[i+1 : end]
			if n, err := strconv.Atoi(inner); err == nil {
				ref.Path = append(ref.Path, Segment{Index: n, IsIndex: true})
			} else {
				ref.Path = append(ref.Path, Segment{Key: unquote(inner)})
			}
			i = end + 1
		case '#':
			ref.Pointer = parsePointer(src[i+1:])
			i = len(src)
		default:
			return nil, schema.NewErrorf(schema.ErrCodeExpression, "malformed reference %q", expr)
		}
	}
	return ref, nil
}

// Resolve walks the reference against ec. Missing paths resolve to Undefined.
func (r *Reference) Resolve(ec *Context) (any, error) {
	cur, known := ec.Root(r.Root)
	if !known {
		return nil, UnknownRootError(r.Root, r.Raw)
	}
	if cur == nil {
		return Undefined, nil
	}

	path := r.Path
	switch r.Root {
	case RootRequest, RootResponse:
		// $response.header.X-Rate-Limit: header names match without regard to case.
		if len(path) >= 2 && (path[0].Key == "header" || path[0].Key == "headers") {
			m, _ := cur.(map[string]any)
			headers, _ := m["headers"].(map[string]any)
			v, ok := lookupFold(headers, path[1].Key)
			if !ok {
				return Undefined, nil
			}
			cur, path = v, path[2:]
		}
	case RootSteps:
		// $steps.<id>.<name> is shorthand for $steps.<id>.outputs.<name>.
		if len(path) >= 2 && !path[1].IsIndex && path[1].Key != "outputs" {
			steps, _ := cur.(map[string]any)
			entry, _ := steps[path[0].Key].(map[string]any)
			if _, direct := entry[path[1].Key]; !direct && entry != nil {
				outputs, _ := entry["outputs"].(map[string]any)
				v, ok := outputs[path[1].Key]
				if !ok {
					return Undefined, nil
				}
				cur, path = v, path[2:]
			}
		}
	}

	for _, seg := range path {
		next, ok := descend(cur, seg)
		if !ok {
			return Undefined, nil
		}
		cur = next
	}
	for _, tok := range r.Pointer {
		next, ok := descend(cur, pointerSegment(tok))
		if !ok {
			return Undefined, nil
		}
		cur = next
	}
	return cur, nil
}

func (r *Reference) String() string { return r.Raw }

func descend(cur any, seg Segment) (any, bool) {
	switch v := cur.(type) {
	case map[string]any:
		key := seg.Key
		if seg.IsIndex {
			key = strconv.Itoa(seg.Index)
		}
		next, ok := v[key]
		return next, ok
	case map[string]string:
		next, ok := v[seg.Key]
		return next, ok
	case []any:
		idx := seg.Index
		if !seg.IsIndex {
			n, err := strconv.Atoi(seg.Key)
			if err != nil {
				return nil, false
			}
			idx = n
		}
		if idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	case []string:
		idx := seg.Index
		if !seg.IsIndex {
			n, err := strconv.Atoi(seg.Key)
			if err != nil {
				return nil, false
			}
			idx = n
		}
		if idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	default:
		return nil, false
	}
}

// pointerSegment keeps tokens as keys; descend converts them for arrays.
func pointerSegment(tok string) Segment {
	return Segment{Key: tok}
}

// parsePointer splits a JSON Pointer (RFC 6901) into unescaped tokens.
func parsePointer(p string) []string {
	if p == "" || p == "/" {
		return []string{}
	}
	p = strings.TrimPrefix(p, "/")
	parts := strings.Split(p, "/")
	for i, part := range parts {
		part = strings.ReplaceAll(part, "~1", "/")
		parts[i] = strings.ReplaceAll(part, "~0", "~")
	}
	return parts
}

// referenceEnd returns the index just past the reference starting at src[start],
// which must be '$'. Names may contain '-' when a letter follows it, so header
// names like X-Rate-Limit scan whole while $inputs.n-1 stays arithmetic.
func referenceEnd(src string, start int) int {
	i := start + 1
	for i < len(src) && isIdentByte(src[i]) {
		i++
	}
	for i < len(src) {
		switch src[i] {
		case '.':
			j := i + 1
			for j < len(src) && (isIdentByte(src[j]) || (src[j] == '-' && j+1 < len(src) && isLetter(src[j+1]))) {
				j++
			}
			if j == i+1 {
				return i
			}
			i = j
		case '[':
			end := matchBracket(src, i)
			if end < 0 {
				return i
			}
			i = end + 1
		case '#':
			if i+1 >= len(src) || src[i+1] != '/' {
				return i
			}
			j := i + 1
			for j < len(src) && !isPointerStop(src[j]) {
				j++
			}
			return j
		default:
			return i
		}
	}
	return i
}

// matchBracket returns the index of the ']' closing the '[' at src[open], or -1.
// The contents must be digits or a quoted key.
func matchBracket(src string, open int) int {
	i := open + 1
	if i >= len(src) {
		return -1
	}
	if q := src[i]; q == '"' || q == '\'' {
		end := strings.IndexByte(src[i+1:], q)
		if end < 0 {
			return -1
		}
		i = i + 1 + end + 1
		if i < len(src) && src[i] == ']' {
			return i
		}
		return -1
	}
	j := i
	for j < len(src) && src[j] >= '0' && src[j] <= '9' {
		j++
	}
	if j == i || j >= len(src) || src[j] != ']' {
		return -1
	}
	return j
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isPointerStop(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', ')', '=', '!', '<', '>', '&', '|', ',', '}', '"', '\'':
		return true
	}
	return false
}

// UnknownRootError reports a reference whose root is not a context root.
func UnknownRootError(root, expr string) *schema.WrkfloError {
	return schema.NewErrorf(schema.ErrCodeUnknownRoot, "unknown root $%s in %q", root, expr).
		WithDetails(map[string]any{"root": root, "expression": expr})
}

// PatternError reports a regular expression that does not compile.
func PatternError(pattern string, cause error) *schema.WrkfloError {
	return schema.NewErrorf(schema.ErrCodePattern, "invalid pattern %q", pattern).WithCause(cause)
}

// MissingContextError reports a dialect evaluated without the input it needs.
func MissingContextError(dialect schema.Dialect, what string) *schema.WrkfloError {
	return schema.NewErrorf(schema.ErrCodeMissingContext, "%s expression requires %s", dialect, what)
}

// QueryError reports a malformed or failing query.
func QueryError(dialect schema.Dialect, query string, cause error) *schema.WrkfloError {
	return schema.NewError(schema.ErrCodeQuery, fmt.Sprintf("%s query %q: %v", dialect, query, cause)).WithCause(cause)
}
