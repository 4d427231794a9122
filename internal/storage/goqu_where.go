package storage

import (
	"fmt"
	"path"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
)

// conditionExpr turns a validated Condition into a goqu boolean expression.
// Column identifiers are validated before being embedded — this, plus
// goqu's own parameterization of values, is what keeps tabular operations
// injection-safe (§4.2).
func conditionExpr(cond Condition) (exp.Expression, error) {
	if err := ValidateIdentifier(cond.Column); err != nil {
		return nil, err
	}
	ident := goqu.I(cond.Column)

	switch cond.Op {
	case OpEq:
		return ident.Eq(cond.Value), nil
	case OpNeq:
		return ident.Neq(cond.Value), nil
	case OpLt:
		return ident.Lt(cond.Value), nil
	case OpLte:
		return ident.Lte(cond.Value), nil
	case OpGt:
		return ident.Gt(cond.Value), nil
	case OpGte:
		return ident.Gte(cond.Value), nil
	case OpLike:
		return ident.Like(cond.Value), nil
	case OpIn:
		return ident.In(cond.Value), nil
	case OpIsNull:
		return ident.IsNull(), nil
	case OpNotNull:
		return ident.IsNotNull(), nil
	default:
		return nil, newValidationError("unsupported operator %q", cond.Op)
	}
}

func whereExprs(where Where) ([]exp.Expression, error) {
	exprs := make([]exp.Expression, 0, len(where))
	for _, cond := range where {
		e, err := conditionExpr(cond)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

func applySelectWhere(ds *goqu.SelectDataset, where Where) (*goqu.SelectDataset, error) {
	exprs, err := whereExprs(where)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return ds, nil
	}
	return ds.Where(exprs...), nil
}

func applyWhere(ds *goqu.UpdateDataset, where Where) (*goqu.UpdateDataset, error) {
	exprs, err := whereExprs(where)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return ds, nil
	}
	return ds.Where(exprs...), nil
}

func applyDeleteWhere(ds *goqu.DeleteDataset, where Where) (*goqu.DeleteDataset, error) {
	exprs, err := whereExprs(where)
	if err != nil {
		return nil, err
	}
	if len(exprs) == 0 {
		return ds, nil
	}
	return ds.Where(exprs...), nil
}

// pathMatch wraps path.Match, returning false and a descriptive error for a
// malformed pattern (glob patterns here are operator-supplied, not
// attacker-supplied SQL).
func pathMatch(pattern, s string) (bool, error) {
	matched, err := path.Match(pattern, s)
	if err != nil {
		return false, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return matched, nil
}
