// Package expr implements the sandboxed expression + template evaluator
// (spec component C1). Expressions are ECMAScript executed in a goja
// runtime (grounded on github.com/rakunlabs/at's workflow/goja.go, which
// uses goja the same way for its conditional/loop/script node types), with a
// fixed, named function table added as globals next to goja's standard
// built-ins — no require, no Go objects beyond plain maps/slices/scalars,
// no network or filesystem access. The source is not restricted to
// expressions: assignment, loops and eval are not rejected.
package expr

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

const (
	// DefaultMaxLength bounds expression/template source size.
	DefaultMaxLength = 64 * 1024
	// DefaultMaxDepth bounds nested grouping depth, an inexpensive proxy for
	// AST depth that does not require walking goja's internal parser output.
	DefaultMaxDepth = 64
)

// Evaluator evaluates sandboxed expressions and ${...} templates against an
// evaluation context. It is safe for concurrent use: every call constructs a
// fresh goja runtime so no evaluation context leaks between unrelated calls.
type Evaluator struct {
	MaxLength int
	MaxDepth  int
}

// New creates an Evaluator with default limits.
func New() *Evaluator {
	return &Evaluator{MaxLength: DefaultMaxLength, MaxDepth: DefaultMaxDepth}
}

func (e *Evaluator) maxLength() int {
	if e.MaxLength > 0 {
		return e.MaxLength
	}
	return DefaultMaxLength
}

func (e *Evaluator) maxDepth() int {
	if e.MaxDepth > 0 {
		return e.MaxDepth
	}
	return DefaultMaxDepth
}

// checkLimits enforces the memory-bounded sandbox contract (§4.1): source
// length and nesting depth.
func (e *Evaluator) checkLimits(source string) error {
	if len(source) > e.maxLength() {
		return newError(KindLimit, source, fmt.Errorf("expression exceeds max length %d", e.maxLength()))
	}
	if depth := nestingDepth(source); depth > e.maxDepth() {
		return newError(KindLimit, source, fmt.Errorf("expression nesting depth %d exceeds max %d", depth, e.maxDepth()))
	}
	return nil
}

// nestingDepth returns the maximum nesting depth of (), [], {} groups in s,
// used as an inexpensive proxy for AST depth.
func nestingDepth(s string) int {
	depth, max := 0, 0
	for _, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
			if depth > max {
				max = depth
			}
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}

// Evaluate runs expr as a whole ECMAScript expression against ctx and
// returns its raw value (nil, bool, int64 for integral numbers or float64,
// string, []any, map[string]any).
func (e *Evaluator) Evaluate(expression string, ctx map[string]any) (any, error) {
	if err := e.checkLimits(expression); err != nil {
		return nil, err
	}

	vm := goja.New()
	registerFunctions(vm)

	for k, v := range ctx {
		if err := vm.Set(k, v); err != nil {
			return nil, newError(KindType, expression, err)
		}
	}

	val, err := vm.RunString(translatePipes(expression))
	if err != nil {
		return nil, classifyGojaError(expression, err)
	}
	if val == nil || goja.IsUndefined(val) {
		return nil, nil
	}
	if goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// Interpolate renders a template containing ${...} occurrences, always
// returning a string (forces string conversion of each expression result).
func (e *Evaluator) Interpolate(template string, ctx map[string]any) (string, error) {
	parts, err := parseTemplate(template)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, p := range parts {
		if !p.isExpr {
			b.WriteString(p.text)
			continue
		}
		val, err := e.Evaluate(p.text, ctx)
		if err != nil {
			return "", err
		}
		b.WriteString(stringifyValue(val))
	}
	return b.String(), nil
}

// EvaluateTemplate renders a template like Interpolate, except that when the
// entire template is a single bare ${expr} occurrence, the raw (typed) value
// is returned instead of its string form (§3 Data Model, §4.1).
func (e *Evaluator) EvaluateTemplate(template string, ctx map[string]any) (any, error) {
	parts, err := parseTemplate(template)
	if err != nil {
		return nil, err
	}

	if len(parts) == 1 && parts[0].isExpr {
		return e.Evaluate(parts[0].text, ctx)
	}

	return e.Interpolate(template, ctx)
}

// classifyGojaError maps a goja runtime error to the expression error
// taxonomy. goja's own exception types distinguish syntax errors (parse)
// from thrown runtime exceptions (reference/type) reasonably well.
func classifyGojaError(source string, err error) error {
	if exc, ok := err.(*goja.Exception); ok {
		msg := exc.Error()
		switch {
		case strings.Contains(msg, "ReferenceError"):
			return newError(KindReference, source, err)
		case strings.Contains(msg, "TypeError"):
			return newError(KindType, source, err)
		}
		return newError(KindType, source, err)
	}
	if _, ok := err.(*goja.CompilerSyntaxError); ok {
		return newError(KindParse, source, err)
	}
	return newError(KindParse, source, err)
}

// stringifyValue converts an evaluated value to its template string form.
func stringifyValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
