package expr

import (
	"strings"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/sql/parser"
)

// Converter turns parsed SQL expressions into Expr.
type Converter struct {
	// Column resolves a possibly qualified reference to an expression over
	// the current input.
	Column func(qualifier, name string) (Expr, error)
	// Aggregate replaces an aggregate call, typically by a reference to a
	// Reduce output. When nil, aggregates are rejected.
	Aggregate func(a *parser.AggregateExpr) (Expr, error)
}

// Convert translates e.
func (c *Converter) Convert(e parser.Expression) (Expr, error) {
	switch x := e.(type) {
	case *parser.ColumnRef:
		return c.Column(x.Table, x.Column)
	case *parser.Literal:
		return Lit(x.Value), nil
	case *parser.ParenExpr:
		return c.Convert(x.Expr)
	case *parser.BinaryExpr:
		return c.binary(x)
	case *parser.UnaryExpr:
		operand, err := c.Convert(x.Operand)
		if err != nil {
			return nil, err
		}
		switch strings.ToUpper(x.Operator) {
		case "NOT":
			return Call(FnNot, operand), nil
		case "-":
			return Call(FnNeg, operand), nil
		case "+":
			return operand, nil
		}
		return nil, qerrors.NewUnsupported("unary operator %s", x.Operator)
	case *parser.AggregateExpr:
		if c.Aggregate == nil {
			return nil, qerrors.NewUnsupported("aggregate %s outside of an aggregation", x.Function)
		}
		return c.Aggregate(x)
	case *parser.FunctionCall:
		name, ok := CanonicalFunction(x.Name)
		if !ok {
			return nil, qerrors.NewUnsupported("function %s", x.Name)
		}
		args, err := c.list(x.Args)
		if err != nil {
			return nil, err
		}
		return Call(name, args...), nil
	case *parser.InExpr:
		args, err := c.list(append([]parser.Expression{x.Expr}, x.Values...))
		if err != nil {
			return nil, err
		}
		if x.Not {
			return Call(FnNotIn, args...), nil
		}
		return Call(FnIn, args...), nil
	case *parser.BetweenExpr:
		args, err := c.list([]parser.Expression{x.Expr, x.Low, x.High})
		if err != nil {
			return nil, err
		}
		if x.Not {
			return Call(FnOr, Call(FnLt, args[0], args[1]), Call(FnGt, args[0], args[2])), nil
		}
		return Call(FnAnd, Call(FnGe, args[0], args[1]), Call(FnLe, args[0], args[2])), nil
	case *parser.IsNullExpr:
		arg, err := c.Convert(x.Expr)
		if err != nil {
			return nil, err
		}
		if x.Not {
			return Call(FnIsNotNull, arg), nil
		}
		return Call(FnIsNull, arg), nil
	case *parser.LikeExpr:
		args, err := c.list([]parser.Expression{x.Expr, x.Pattern})
		if err != nil {
			return nil, err
		}
		op := FnLike
		switch {
		case x.CaseInsensitive && x.Not:
			op = FnNotILike
		case x.CaseInsensitive:
			op = FnILike
		case x.Not:
			op = FnNotLike
		}
		return Call(op, args...), nil
	case *parser.CaseExpr:
		return c.caseExpr(x)
	case *parser.CastExpr:
		target, ok := CanonicalCastType(x.Type)
		if !ok {
			return nil, qerrors.NewUnsupported("cast to %s", x.Type)
		}
		arg, err := c.Convert(x.Expr)
		if err != nil {
			return nil, err
		}
		return Cast(arg, target), nil
	case *parser.StarExpr:
		return nil, qerrors.NewUnsupported("* in an expression")
	}
	return nil, qerrors.NewUnsupported("expression %s", e)
}

func (c *Converter) binary(b *parser.BinaryExpr) (Expr, error) {
	left, err := c.Convert(b.Left)
	if err != nil {
		return nil, err
	}
	right, err := c.Convert(b.Right)
	if err != nil {
		return nil, err
	}
	op := strings.ToUpper(b.Operator)
	if op == "!=" {
		op = FnNe
	}
	if !binaryOperators[op] {
		return nil, qerrors.NewUnsupported("operator %s", b.Operator)
	}
	return Call(op, left, right), nil
}

func (c *Converter) list(exprs []parser.Expression) ([]Expr, error) {
	out := make([]Expr, len(exprs))
	for i, e := range exprs {
		x, err := c.Convert(e)
		if err != nil {
			return nil, err
		}
		out[i] = x
	}
	return out, nil
}

// caseExpr lowers both CASE forms to the searched form.
func (c *Converter) caseExpr(x *parser.CaseExpr) (Expr, error) {
	var operand Expr
	if x.Operand != nil {
		var err error
		if operand, err = c.Convert(x.Operand); err != nil {
			return nil, err
		}
	}
	var args []Expr
	for _, w := range x.Whens {
		cond, err := c.Convert(w.Cond)
		if err != nil {
			return nil, err
		}
		if operand != nil {
			cond = Call(FnEq, operand, cond)
		}
		result, err := c.Convert(w.Result)
		if err != nil {
			return nil, err
		}
		args = append(args, cond, result)
	}
	if x.Else != nil {
		e, err := c.Convert(x.Else)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}
	return Call(FnCase, args...), nil
}

// ConvertAggregate translates an aggregate call, resolving its argument
// with the Column hook only.
func (c *Converter) ConvertAggregate(a *parser.AggregateExpr) (*Aggregate, error) {
	out := &Aggregate{Fn: a.Function, Distinct: a.Distinct}
	if _, star := a.Arg.(*parser.StarExpr); star || a.Arg == nil {
		if a.Function != AggCount {
			return nil, qerrors.NewTypeMismatch("%s requires an argument", a.Function)
		}
		return out, nil
	}
	inner := &Converter{Column: c.Column}
	arg, err := inner.Convert(a.Arg)
	if err != nil {
		return nil, err
	}
	out.Arg = arg
	return out, nil
}
