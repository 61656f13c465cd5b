package expressions

import (
	"context"

	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// Input carries the dialect-specific operand that is not part of the context.
// Subject is the narrowed tree for jsonpath or the match target for regex;
// HasSubject distinguishes a nil subject from an absent one. XML is the
// document queried by xpath.
type Input struct {
	Subject    any
	HasSubject bool
	XML        string
}

// WithSubject returns an Input whose subject is v.
func WithSubject(v any) Input {
	return Input{Subject: v, HasSubject: true}
}

// Engine evaluates expressions of one dialect.
// Four implementations: simple (comparisons), jsonpath, xpath, regex.
type Engine interface {
	Dialect() schema.Dialect
	Evaluate(ctx context.Context, expression string, ec *Context, in Input) (any, error)
}
