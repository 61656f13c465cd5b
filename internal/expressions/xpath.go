package expressions

import (
	"context"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// XPathEngine evaluates XPath 1.0 queries against an XML document with
// antchfx/xmlquery. The result is the text content of every matching node.
type XPathEngine struct{}

// NewXPathEngine creates a new XPath engine.
func NewXPathEngine() *XPathEngine {
	return &XPathEngine{}
}

// Dialect returns the engine's dialect.
func (e *XPathEngine) Dialect() schema.Dialect {
	return schema.DialectXPath
}

// Evaluate parses in.XML and returns the matched nodes' text as []string.
func (e *XPathEngine) Evaluate(ctx context.Context, expression string, _ *Context, in Input) (any, error) {
	doc := in.XML
	if doc == "" {
		if s, ok := in.Subject.(string); ok && in.HasSubject {
			doc = s
		}
	}
	if strings.TrimSpace(doc) == "" {
		return nil, MissingContextError(schema.DialectXPath, "an XML document")
	}
	if expression == "" {
		return nil, QueryError(schema.DialectXPath, expression, errEmptyQuery)
	}

	root, err := xmlquery.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, QueryError(schema.DialectXPath, expression, err)
	}

	nodes, err := xmlquery.QueryAll(root, expression)
	if err != nil {
		return nil, QueryError(schema.DialectXPath, expression, err)
	}

	texts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		texts = append(texts, n.InnerText())
	}
	return texts, nil
}

var _ Engine = (*XPathEngine)(nil)
