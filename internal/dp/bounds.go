package dp

import (
	"math"

	"github.com/qrlew/qrlew-go/internal/datatype"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/expr"
	"github.com/qrlew/qrlew-go/internal/relation"
)

// argBounds returns finite bounds for an aggregate argument over r. The
// argument's type is used when bounded, otherwise the statistics of the
// table a bare column is read from.
func argBounds(r relation.Relation, arg expr.Expr) (datatype.Interval, error) {
	t, err := expr.TypeOf(arg, r.Schema().Struct())
	if err != nil {
		return datatype.Interval{}, err
	}
	if iv, ok := knownBounds(t); ok {
		return iv, nil
	}
	if col, ok := expr.IsColumn(arg); ok {
		if iv, ok := lineageBounds(r, col); ok && finite(iv) {
			return iv, nil
		}
	}
	return datatype.Interval{}, qerrors.NewUnreachable("%s has no known bounds", arg)
}

// knownBounds is the finite interval of a numeric type. The full int64
// domain counts as unknown.
func knownBounds(t datatype.DataType) (datatype.Interval, bool) {
	if inner, _ := datatype.Unwrap(t); isInteger(inner) && inner.(datatype.Integer).IsFullRange() {
		return datatype.Interval{}, false
	}
	iv, ok := datatype.BoundsOf(t)
	return iv, ok && finite(iv)
}

func finite(iv datatype.Interval) bool {
	return !math.IsInf(iv.Lo, 0) && !math.IsInf(iv.Hi, 0) && !math.IsNaN(iv.Lo) && !math.IsNaN(iv.Hi)
}

// lineageBounds follows column through bare-column projections down to a
// Table carrying statistics.
func lineageBounds(r relation.Relation, column string) (datatype.Interval, bool) {
	switch x := r.(type) {
	case *relation.Table:
		iv, ok := x.Bounds[column]
		return iv, ok
	case *relation.Map:
		for _, p := range x.Projections {
			if p.Name != column {
				continue
			}
			if src, ok := expr.IsColumn(p.Expr); ok {
				return lineageBounds(x.Input, src)
			}
			return datatype.Interval{}, false
		}
	case *relation.Reduce:
		for _, a := range x.Aggregates {
			if a.Name != column {
				continue
			}
			switch a.Aggregate.Fn {
			case expr.AggFirst, expr.AggMin, expr.AggMax:
				if src, ok := expr.IsColumn(a.Aggregate.Arg); ok {
					return lineageBounds(x.Input, src)
				}
			}
			return datatype.Interval{}, false
		}
	case *relation.Join:
		for i, n := range x.LeftNames {
			if n == column {
				return lineageBounds(x.Left, x.Left.Schema()[i].Name)
			}
		}
		for i, n := range x.RightNames {
			if n == column {
				return lineageBounds(x.Right, x.Right.Schema()[i].Name)
			}
		}
	case *relation.Set:
		i := x.Schema().Index(column)
		if i < 0 {
			return datatype.Interval{}, false
		}
		l, okl := lineageBounds(x.Left, x.Left.Schema()[i].Name)
		r, okr := lineageBounds(x.Right, x.Right.Schema()[i].Name)
		if !okl || !okr {
			return datatype.Interval{}, false
		}
		return l.Hull(r), true
	case *relation.Sort:
		return lineageBounds(x.Input, column)
	case *relation.Limit:
		return lineageBounds(x.Input, column)
	}
	return datatype.Interval{}, false
}

// clampTo bounds e by the finite ends of iv.
func clampTo(e expr.Expr, iv datatype.Interval) expr.Expr {
	loOK := !math.IsInf(iv.Lo, 0) && !math.IsNaN(iv.Lo)
	hiOK := !math.IsInf(iv.Hi, 0) && !math.IsNaN(iv.Hi)
	switch {
	case loOK && hiOK:
		return expr.Clamp(e, iv.Lo, iv.Hi)
	case loOK:
		return expr.Call(expr.FnGreatest, e, expr.Lit(iv.Lo))
	case hiOK:
		return expr.Call(expr.FnLeast, e, expr.Lit(iv.Hi))
	}
	return e
}
