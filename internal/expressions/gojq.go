package expressions

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// JQFilter reshapes run results with jq programs, as used by `wrkflo run --query`
// and the API's ?query= parameter. It is not a criterion dialect.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type JQFilter struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQFilter creates a new jq filter.
func NewJQFilter() *JQFilter {
	return &JQFilter{
		cache: make(map[string]*gojq.Code),
	}
}

// Apply runs the program against data. data is first converted to its JSON
// form, so typed values such as run results can be filtered directly.
//
// jq programs can produce multiple outputs. When there is exactly one output,
// it is returned directly. When there are multiple outputs, they are collected
// into a slice and returned as []any.
func (f *JQFilter) Apply(ctx context.Context, program string, data any) (any, error) {
	if program == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq program")
	}

	code, err := f.getOrCompile(program)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, toGeneric(data))

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeQuery,
				"jq evaluation failed for %q: %s", program, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"program": program})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (f *JQFilter) getOrCompile(program string) (*gojq.Code, error) {
	f.mu.RLock()
	if code, ok := f.cache[program]; ok {
		f.mu.RUnlock()
		return code, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := f.cache[program]; ok {
		return code, nil
	}

	query, err := gojq.Parse(program)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", program, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": program})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", program, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"program": program})
	}

	f.cache[program] = code
	return code, nil
}
