// Package criteria decides whether a step's success criteria hold.
package criteria

import (
	"context"

	"github.com/seanchatmangpt/wrkflo/internal/expressions"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Evaluator evaluates criterion lists against an execution context.
// It holds no run state and is safe for concurrent use.
type Evaluator struct {
	resolver *expressions.Resolver
}

// NewEvaluator creates an Evaluator over resolver. A nil resolver gets the built-in dialects.
func NewEvaluator(resolver *expressions.Resolver) *Evaluator {
	if resolver == nil {
		resolver = expressions.NewResolver()
	}
	return &Evaluator{resolver: resolver}
}

// Evaluate reports whether every criterion is truthy. An empty list is true.
// xml is the document xpath criteria query when they carry no context.
func (e *Evaluator) Evaluate(ctx context.Context, criteria []schema.Criterion, ec *expressions.Context, xml string) (bool, error) {
	idx, err := e.FirstUnmet(ctx, criteria, ec, xml)
	if err != nil {
		return false, err
	}
	return idx < 0, nil
}

// FirstUnmet returns the index of the first criterion that is not truthy, or -1
// when all hold. Evaluation stops at the first falsy criterion.
func (e *Evaluator) FirstUnmet(ctx context.Context, criteria []schema.Criterion, ec *expressions.Context, xml string) (int, error) {
	for i, c := range criteria {
		ok, err := e.Check(ctx, c, ec, xml)
		if err != nil {
			return i, err
		}
		if !ok {
			return i, nil
		}
	}
	return -1, nil
}

// Check evaluates a single criterion in its dialect.
func (e *Evaluator) Check(ctx context.Context, c schema.Criterion, ec *expressions.Context, xml string) (bool, error) {
	dialect := c.DialectOrDefault()

	var in expressions.Input
	switch dialect {
	case schema.DialectRegex, schema.DialectJSONPath:
		if c.Context != "" {
			subject, err := e.resolver.Reference(c.Context, ec)
			if err != nil {
				return false, err
			}
			in = expressions.WithSubject(subject)
		}
	case schema.DialectXPath:
		in.XML = xml
		if c.Context != "" {
			subject, err := e.resolver.Reference(c.Context, ec)
			if err != nil {
				return false, err
			}
			s, _ := subject.(string)
			in.XML = s
		}
	}

	v, err := e.resolver.Resolve(ctx, c.Condition, ec, dialect, in)
	if err != nil {
		return false, err
	}
	return expressions.Truthy(v), nil
}
