package expressions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"
	"github.com/expr-lang/expr/vm/runtime"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

// SimpleEngine evaluates the simple dialect: comparisons (== != < <= > >=),
// logical operators (&& || !), grouping, literals and $ references.
//
// References outside string literals are bound as typed variables, so
// $statusCode == 200 compares numbers and $response.body.ok stays a bool.
// References inside string literals are stringified in place. A bare reference
// evaluates to its value without going through expr.
//
// Thread-safe: compiled *vm.Program objects are cached by rewritten source.
type SimpleEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewSimpleEngine creates a new simple-dialect engine backed by expr-lang/expr.
func NewSimpleEngine() *SimpleEngine {
	return &SimpleEngine{
		cache: make(map[string]*vm.Program),
	}
}

// Dialect returns the engine's dialect.
func (e *SimpleEngine) Dialect() schema.Dialect {
	return schema.DialectSimple
}

// Evaluate binds the expression's references against ec and runs it.
// Undefined references are bound as nil. Ordering comparisons against nil are
// false and logical operands go through Truthy, so an undefined operand only
// affects the comparison it appears in. Any other runtime failure involving an
// undefined reference (arithmetic on nil) evaluates to false.
func (e *SimpleEngine) Evaluate(ctx context.Context, expression string, ec *Context, _ Input) (any, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		return nil, schema.NewError(schema.ErrCodeExpression, "empty simple expression")
	}

	if strings.HasPrefix(src, "$") && referenceEnd(src, 0) == len(src) {
		ref, err := ParseReference(src)
		if err != nil {
			return nil, err
		}
		return ref.Resolve(ec)
	}

	rewritten, env, undefined, err := bindReferences(src, ec)
	if err != nil {
		return nil, err
	}

	prg, err := e.getOrCompile(rewritten, src)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		if undefined {
			return false, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
// Programs are compiled without a typed environment so one program serves every
// binding of the same source.
func (e *SimpleEngine) getOrCompile(rewritten, original string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[rewritten]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[rewritten]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(rewritten,
		expr.AllowUndefinedVariables(),
		expr.Function(truthyFunc, func(params ...any) (any, error) {
			return Truthy(params[0]), nil
		}, new(func(any) bool)),
		expr.Function(orderFunc, compareOrdered, new(func(string, any, any) bool)),
		expr.Patch(undefinedPatcher{}),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression,
			"compile error in %q: %s", original, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": original})
	}

	e.cache[rewritten] = prg
	return prg, nil
}

// bindReferences replaces each reference outside a string literal with a
// variable __refN bound in env, and each reference inside a literal with its
// string form. undefined reports whether any bound reference was Undefined.
func bindReferences(src string, ec *Context) (rewritten string, env map[string]any, undefined bool, err error) {
	var b strings.Builder
	b.Grow(len(src))
	env = make(map[string]any)

	var quote byte
	for i := 0; i < len(src); {
		c := src[i]
		startsRef := c == '$' && i+1 < len(src) && isLetter(src[i+1])

		if quote != 0 {
			switch {
			case c == '\\' && i+1 < len(src):
				b.WriteString(src[i : i+2])
				i += 2
			case c == quote:
				quote = 0
				b.WriteByte(c)
				i++
			case startsRef:
				end := referenceEnd(src, i)
				v, rerr := resolveReference(src[i:end], ec)
				if rerr != nil {
					return "", nil, false, rerr
				}
				b.WriteString(escapeLiteral(Stringify(v), quote))
				i = end
			default:
				b.WriteByte(c)
				i++
			}
			continue
		}

		switch {
		case c == '"' || c == '\'' || c == '`':
			quote = c
			b.WriteByte(c)
			i++
		case startsRef:
			end := referenceEnd(src, i)
			v, rerr := resolveReference(src[i:end], ec)
			if rerr != nil {
				return "", nil, false, rerr
			}
			if IsUndefined(v) {
				undefined = true
				v = nil
			}
			name := fmt.Sprintf("__ref%d", len(env))
			env[name] = v
			b.WriteString(name)
			i = end
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), env, undefined, nil
}

func resolveReference(raw string, ec *Context) (any, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return nil, err
	}
	return ref.Resolve(ec)
}

func escapeLiteral(s string, quote byte) string {
	if quote == '`' {
		return strings.ReplaceAll(s, "`", "")
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, string(quote), `\`+string(quote))
}

const (
	truthyFunc = "__truthy"
	orderFunc  = "__order"
)

// undefinedPatcher rewrites the parsed expression so undefined (nil) operands
// stay local: ordering comparisons become __order calls and the operands of
// ! && || and ?: are coerced through __truthy.
type undefinedPatcher struct{}

func (undefinedPatcher) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.BinaryNode:
		switch n.Operator {
		case "<", ">", "<=", ">=":
			ast.Patch(node, &ast.CallNode{
				Callee:    &ast.IdentifierNode{Value: orderFunc},
				Arguments: []ast.Node{&ast.StringNode{Value: n.Operator}, n.Left, n.Right},
			})
		case "&&", "||", "and", "or":
			wrapTruthy(&n.Left)
			wrapTruthy(&n.Right)
		}
	case *ast.UnaryNode:
		if n.Operator == "!" || n.Operator == "not" {
			wrapTruthy(&n.Node)
		}
	case *ast.ConditionalNode:
		wrapTruthy(&n.Cond)
	}
}

func wrapTruthy(node *ast.Node) {
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: truthyFunc},
		Arguments: []ast.Node{*node},
	})
}

// compareOrdered evaluates an ordering comparison. A nil operand makes the
// comparison false; mismatched types still fail.
func compareOrdered(params ...any) (any, error) {
	op, _ := params[0].(string)
	a, b := params[1], params[2]
	if a == nil || b == nil {
		return false, nil
	}
	switch op {
	case "<":
		return runtime.Less(a, b), nil
	case ">":
		return runtime.More(a, b), nil
	case "<=":
		return runtime.LessOrEqual(a, b), nil
	case ">=":
		return runtime.MoreOrEqual(a, b), nil
	}
	return nil, fmt.Errorf("unknown comparison operator %q", op)
}

// Truthy applies the criterion truth rules: true, a non-empty sequence, or a
// defined, non-zero, non-empty value.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil, UndefinedValue:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

var _ Engine = (*SimpleEngine)(nil)
