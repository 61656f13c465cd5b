package expressions

import (
	"context"
	"sync"

	"github.com/ohler55/ojg/jp"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// JSONPathEngine evaluates JSONPath queries with ohler55/ojg. The query runs
// against the narrowed subject when one is supplied, otherwise against the
// whole context tree ($.steps..., $.inputs...). The result is always the list
// of matches, empty when nothing matched.
// Thread-safe: parsed jp.Expr values are cached and reused across goroutines.
type JSONPathEngine struct {
	mu    sync.RWMutex
	cache map[string]jp.Expr
}

// NewJSONPathEngine creates a new JSONPath engine.
func NewJSONPathEngine() *JSONPathEngine {
	return &JSONPathEngine{
		cache: make(map[string]jp.Expr),
	}
}

// Dialect returns the engine's dialect.
func (e *JSONPathEngine) Dialect() schema.Dialect {
	return schema.DialectJSONPath
}

// Evaluate runs the query and returns []any.
func (e *JSONPathEngine) Evaluate(ctx context.Context, expression string, ec *Context, in Input) (any, error) {
	if expression == "" {
		return nil, QueryError(schema.DialectJSONPath, expression, errEmptyQuery)
	}

	x, err := e.getOrParse(expression)
	if err != nil {
		return nil, err
	}

	var data any
	switch {
	case in.HasSubject:
		data = in.Subject
	case ec != nil:
		data = ec.Tree()
	default:
		return nil, MissingContextError(schema.DialectJSONPath, "a context or subject")
	}
	if IsUndefined(data) || data == nil {
		return []any{}, nil
	}

	matches := x.Get(normalize(data))
	if matches == nil {
		matches = []any{}
	}
	return matches, nil
}

func (e *JSONPathEngine) getOrParse(expression string) (jp.Expr, error) {
	e.mu.RLock()
	if x, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return x, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if x, ok := e.cache[expression]; ok {
		return x, nil
	}

	x, err := jp.ParseString(expression)
	if err != nil {
		return nil, QueryError(schema.DialectJSONPath, expression, err)
	}

	e.cache[expression] = x
	return x, nil
}

// normalize converts the context's value shapes into the generic forms ojg
// walks: map[string]any, []any, int64 and float64.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*JSONPathEngine)(nil)
