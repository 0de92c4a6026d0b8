package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Record exposes the values a filter is evaluated against.
type Record interface {
	// Value returns the comparable value of a field.
	Value(name string) (interface{}, bool)
	// IsOf reports whether the record's type is, or inherits from, typeName.
	IsOf(typeName string) bool
}

// Matches evaluates a predicate against rec. A nil expression matches everything.
func Matches(expr *FilterExpression, rec Record) (bool, error) {
	if expr == nil {
		return true, nil
	}
	v, err := evaluate(expr, rec)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("filter does not evaluate to a boolean: %s", expr)
	}
	return b, nil
}

func evaluate(expr *FilterExpression, rec Record) (interface{}, error) {
	switch expr.Kind {
	case ExprLiteral:
		return expr.Value, nil
	case ExprProperty:
		v, _ := rec.Value(expr.Property)
		return v, nil
	case ExprNot:
		inner, err := evaluate(expr.Left, rec)
		if err != nil {
			return nil, err
		}
		b, ok := inner.(bool)
		if !ok {
			return nil, fmt.Errorf("not requires a boolean operand")
		}
		return !b, nil
	case ExprBinary:
		return evaluateBinary(expr, rec)
	case ExprCall:
		return evaluateCall(expr, rec)
	}
	return nil, fmt.Errorf("unknown expression node")
}

func evaluateBinary(expr *FilterExpression, rec Record) (interface{}, error) {
	left, err := evaluate(expr.Left, rec)
	if err != nil {
		return nil, err
	}
	if expr.Operator == OpAnd || expr.Operator == OpOr {
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("%s requires boolean operands", expr.Operator)
		}
		if expr.Operator == OpAnd && !lb {
			return false, nil
		}
		if expr.Operator == OpOr && lb {
			return true, nil
		}
		right, err := evaluate(expr.Right, rec)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("%s requires boolean operands", expr.Operator)
		}
		return rb, nil
	}

	right, err := evaluate(expr.Right, rec)
	if err != nil {
		return nil, err
	}
	if left == nil || right == nil {
		switch expr.Operator {
		case OpEqual:
			return left == nil && right == nil, nil
		case OpNotEqual:
			return !(left == nil && right == nil), nil
		default:
			return false, nil
		}
	}
	cmp, err := Compare(left, right)
	if err != nil {
		return nil, err
	}
	switch expr.Operator {
	case OpEqual:
		return cmp == 0, nil
	case OpNotEqual:
		return cmp != 0, nil
	case OpGreaterThan:
		return cmp > 0, nil
	case OpGreaterThanOrEqual:
		return cmp >= 0, nil
	case OpLessThan:
		return cmp < 0, nil
	case OpLessThanOrEqual:
		return cmp <= 0, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", expr.Operator)
}

func evaluateCall(expr *FilterExpression, rec Record) (interface{}, error) {
	if expr.Function == "isof" {
		name, ok := expr.Args[0].Value.(string)
		if expr.Args[0].Kind != ExprLiteral || !ok {
			return nil, fmt.Errorf("isof requires a type name literal")
		}
		return rec.IsOf(name), nil
	}
	args := make([]string, len(expr.Args))
	for i, a := range expr.Args {
		v, err := evaluate(a, rec)
		if err != nil {
			return nil, err
		}
		if v != nil {
			args[i] = toString(v)
		}
	}
	switch expr.Function {
	case "startswith":
		return strings.HasPrefix(strings.ToLower(args[0]), strings.ToLower(args[1])), nil
	case "endswith":
		return strings.HasSuffix(strings.ToLower(args[0]), strings.ToLower(args[1])), nil
	case "substringof":
		return strings.Contains(strings.ToLower(args[1]), strings.ToLower(args[0])), nil
	case "contains":
		return strings.Contains(strings.ToLower(args[0]), strings.ToLower(args[1])), nil
	case "tolower":
		return strings.ToLower(args[0]), nil
	case "toupper":
		return strings.ToUpper(args[0]), nil
	case "trim":
		return strings.TrimSpace(args[0]), nil
	case "length":
		return decimal.NewFromInt(int64(len([]rune(args[0])))), nil
	}
	return nil, fmt.Errorf("unknown function %q", expr.Function)
}

// Compare orders two values. Numbers compare numerically, times
// chronologically, booleans false before true, everything else as
// case-insensitive strings.
func Compare(a, b interface{}) (int, error) {
	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Cmp(db), nil
		}
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			switch {
			case ta.Before(tb):
				return -1, nil
			case ta.After(tb):
				return 1, nil
			}
			return 0, nil
		}
	}
	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare boolean with %T", b)
		}
		switch {
		case ba == bb:
			return 0, nil
		case !ba:
			return -1, nil
		}
		return 1, nil
	}
	return strings.Compare(strings.ToLower(toString(a)), strings.ToLower(toString(b))), nil
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromInt(int64(n)), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case string:
		parsed, err := parseDateTime(t)
		return parsed, err == nil
	}
	return time.Time{}, false
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
