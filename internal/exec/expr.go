package exec

import (
	"fmt"
	"strings"

	"github.com/vaultgraph/vgdb/internal/ast"
	"github.com/vaultgraph/vgdb/internal/errs"
)

// eval evaluates e against row, resolving VariableExpr/PropertyExpr through
// row's bound variables (each a map[string]any, per Tuple's doc comment).
func eval(e ast.Expression, row Tuple, params map[string]any) (any, error) {
	switch n := e.(type) {
	case *ast.LiteralExpr:
		return n.Value, nil
	case *ast.ParameterExpr:
		return params[n.Name], nil
	case *ast.VariableExpr:
		return row[n.Name], nil
	case *ast.PropertyExpr:
		child, err := eval(n.Child, row, params)
		if err != nil {
			return nil, err
		}
		m, ok := child.(map[string]any)
		if !ok {
			return nil, nil
		}
		return m[n.PropertyName], nil
	case *ast.UnaryExpr:
		v, err := eval(n.Expr, row, params)
		if err != nil {
			return nil, err
		}
		return evalUnary(n.Op, v)
	case *ast.BinaryExpr:
		return evalBinary(n, row, params)
	case *ast.IsNullExpr:
		v, err := eval(n.Expr, row, params)
		if err != nil {
			return nil, err
		}
		isNull := v == nil
		if n.Negate {
			return !isNull, nil
		}
		return isNull, nil
	case *ast.ListExpr:
		out := make([]any, len(n.Elements))
		for i, el := range n.Elements {
			v, err := eval(el, row, params)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *ast.CaseExpr:
		return evalCase(n, row, params)
	case *ast.FunctionExpr:
		return evalScalarFunc(n, row, params)
	default:
		return nil, errs.New(errs.KindExecution, "unsupported expression %T", e)
	}
}

func evalUnary(op string, v any) (any, error) {
	switch strings.ToUpper(op) {
	case "NOT":
		b, _ := v.(bool)
		return !b, nil
	case "-":
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, errs.New(errs.KindExecution, "unary - on non-numeric value")
	default:
		return nil, errs.New(errs.KindExecution, "unsupported unary operator %q", op)
	}
}

func evalBinary(n *ast.BinaryExpr, row Tuple, params map[string]any) (any, error) {
	op := strings.ToUpper(n.Op)
	if op == "AND" || op == "OR" {
		l, err := eval(n.Left, row, params)
		if err != nil {
			return nil, err
		}
		lb, _ := l.(bool)
		if op == "AND" && !lb {
			return false, nil
		}
		if op == "OR" && lb {
			return true, nil
		}
		r, err := eval(n.Right, row, params)
		if err != nil {
			return nil, err
		}
		rb, _ := r.(bool)
		return rb, nil
	}

	l, err := eval(n.Left, row, params)
	if err != nil {
		return nil, err
	}
	r, err := eval(n.Right, row, params)
	if err != nil {
		return nil, err
	}
	switch op {
	case "=":
		return equalValues(l, r), nil
	case "<>":
		return !equalValues(l, r), nil
	case "<", "<=", ">", ">=":
		return compareValues(op, l, r)
	case "+", "-", "*", "/", "%":
		return arith(op, l, r)
	default:
		return nil, errs.New(errs.KindExecution, "unsupported binary operator %q", n.Op)
	}
}

func equalValues(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if lok && rok {
		return lf == rf
	}
	return fmt.Sprintf("%v", l) == fmt.Sprintf("%v", r)
}

func compareValues(op string, l, r any) (any, error) {
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		ls, rs := fmt.Sprintf("%v", l), fmt.Sprintf("%v", r)
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		default:
			return ls >= rs, nil
		}
	}
	switch op {
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	case ">":
		return lf > rf, nil
	default:
		return lf >= rf, nil
	}
}

func arith(op string, l, r any) (any, error) {
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, errs.New(errs.KindExecution, "arithmetic on non-numeric operand")
	}
	_, lInt := l.(int64)
	_, rInt := r.(int64)
	switch op {
	case "+":
		if lInt && rInt {
			return l.(int64) + r.(int64), nil
		}
		return lf + rf, nil
	case "-":
		if lInt && rInt {
			return l.(int64) - r.(int64), nil
		}
		return lf - rf, nil
	case "*":
		if lInt && rInt {
			return l.(int64) * r.(int64), nil
		}
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, errs.New(errs.KindExecution, "division by zero")
		}
		if lInt && rInt {
			return l.(int64) / r.(int64), nil
		}
		return lf / rf, nil
	default: // "%"
		if !lInt || !rInt {
			return nil, errs.New(errs.KindExecution, "%% requires integer operands")
		}
		if r.(int64) == 0 {
			return nil, errs.New(errs.KindExecution, "modulo by zero")
		}
		return l.(int64) % r.(int64), nil
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func evalCase(n *ast.CaseExpr, row Tuple, params map[string]any) (any, error) {
	var testVal any
	var err error
	if n.Test != nil {
		testVal, err = eval(n.Test, row, params)
		if err != nil {
			return nil, err
		}
	}
	for _, w := range n.Whens {
		if n.Test != nil {
			wv, err := eval(w.When, row, params)
			if err != nil {
				return nil, err
			}
			if !equalValues(testVal, wv) {
				continue
			}
		} else {
			cond, err := eval(w.When, row, params)
			if err != nil {
				return nil, err
			}
			if b, _ := cond.(bool); !b {
				continue
			}
		}
		return eval(w.Then, row, params)
	}
	if n.Else != nil {
		return eval(n.Else, row, params)
	}
	return nil, nil
}

// evalScalarFunc evaluates the small set of non-aggregate builtins a
// Projection/Filter might reference directly; aggregate calls are handled
// by AggregateOp instead and never reach here.
func evalScalarFunc(n *ast.FunctionExpr, row Tuple, params map[string]any) (any, error) {
	args := make([]any, len(n.Args))
	for i, a := range n.Args {
		v, err := eval(a, row, params)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch strings.ToLower(n.Name) {
	case "coalesce":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	case "tostring":
		if len(args) != 1 || args[0] == nil {
			return nil, nil
		}
		return fmt.Sprintf("%v", args[0]), nil
	case "size":
		if len(args) != 1 {
			return nil, nil
		}
		switch v := args[0].(type) {
		case []any:
			return int64(len(v)), nil
		case string:
			return int64(len(v)), nil
		}
		return nil, nil
	default:
		return nil, errs.New(errs.KindExecution, "unsupported function %q", n.Name)
	}
}
