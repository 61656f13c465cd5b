package expressions

import (
	"context"
	"errors"
	"strings"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

var errEmptyQuery = errors.New("empty query")

// Resolver dispatches expressions to the engine of their dialect.
// Safe for concurrent use; each engine caches its compiled form.
type Resolver struct {
	engines map[schema.Dialect]Engine
}

// NewResolver creates a Resolver with the four built-in dialects.
func NewResolver() *Resolver {
	r := &Resolver{engines: make(map[schema.Dialect]Engine)}
	for _, e := range []Engine{
		NewSimpleEngine(),
		NewJSONPathEngine(),
		NewXPathEngine(),
		NewRegexEngine(),
	} {
		r.engines[e.Dialect()] = e
	}
	return r
}

// Resolve evaluates expression in the given dialect. An empty dialect means simple.
func (r *Resolver) Resolve(ctx context.Context, expression string, ec *Context, dialect schema.Dialect, in Input) (any, error) {
	if dialect == "" {
		dialect = schema.DialectSimple
	}
	e, ok := r.engines[dialect]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "unsupported dialect %q", dialect).
			WithDetails(map[string]any{"dialect": string(dialect)})
	}
	return e.Evaluate(ctx, expression, ec, in)
}

// Reference resolves a single $ reference, returning Undefined when the path misses.
func (r *Resolver) Reference(expression string, ec *Context) (any, error) {
	return resolveReference(expression, ec)
}

// ResolveValue resolves a parameter value, output mapping or body leaf:
//   - a string that is exactly one reference resolves to the referenced value;
//   - a string containing {$...} regions is interpolated;
//   - any other string starting with $ is evaluated as a simple expression;
//   - maps and slices are resolved element-wise;
//   - everything else is returned unchanged.
//
// Undefined results are returned as nil.
func (r *Resolver) ResolveValue(ctx context.Context, v any, ec *Context) (any, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(ctx, val, ec)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.ResolveValue(ctx, item, ec)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.ResolveValue(ctx, item, ec)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveMap resolves every value of m.
func (r *Resolver) ResolveMap(ctx context.Context, m map[string]any, ec *Context) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		resolved, err := r.ResolveValue(ctx, v, ec)
		if err != nil {
			return nil, schema.NewErrorf(schema.CodeOrDefault(err, schema.ErrCodeExpression),
				"resolve %q: %v", k, err).WithCause(err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveString(ctx context.Context, s string, ec *Context) (any, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(trimmed, "$") && referenceEnd(trimmed, 0) == len(trimmed):
		v, err := resolveReference(trimmed, ec)
		if err != nil {
			return nil, err
		}
		if IsUndefined(v) {
			return nil, nil
		}
		return v, nil
	case strings.Contains(s, "{$"):
		return Interpolate(s, ec)
	case strings.HasPrefix(trimmed, "$") && len(trimmed) > 1 && isLetter(trimmed[1]):
		v, err := r.Resolve(ctx, trimmed, ec, schema.DialectSimple, Input{})
		if err != nil {
			return nil, err
		}
		if IsUndefined(v) {
			return nil, nil
		}
		return v, nil
	default:
		return s, nil
	}
}

func isUnknownRoot(err error) bool {
	return schema.HasCode(err, schema.ErrCodeUnknownRoot)
}
