package expressions

import (
	"context"
	"regexp"
	"sync"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// RegexEngine tests a subject against a regular expression (RE2 syntax).
// Thread-safe: compiled patterns are cached.
type RegexEngine struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

// NewRegexEngine creates a new regex engine.
func NewRegexEngine() *RegexEngine {
	return &RegexEngine{
		cache: make(map[string]*regexp.Regexp),
	}
}

// Dialect returns the engine's dialect.
func (e *RegexEngine) Dialect() schema.Dialect {
	return schema.DialectRegex
}

// Evaluate reports whether the stringified subject matches the pattern.
// An undefined subject matches as the empty string.
func (e *RegexEngine) Evaluate(ctx context.Context, expression string, _ *Context, in Input) (any, error) {
	re, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}
	if !in.HasSubject {
		return nil, MissingContextError(schema.DialectRegex, "a subject")
	}
	return re.MatchString(Stringify(in.Subject)), nil
}

func (e *RegexEngine) getOrCompile(pattern string) (*regexp.Regexp, error) {
	e.mu.RLock()
	if re, ok := e.cache[pattern]; ok {
		e.mu.RUnlock()
		return re, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if re, ok := e.cache[pattern]; ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, PatternError(pattern, err)
	}

	e.cache[pattern] = re
	return re, nil
}

var _ Engine = (*RegexEngine)(nil)
