package expr

import (
	"math"
	"strconv"
	"strings"

	"github.com/qrlew/qrlew-go/internal/dialect"
)

// Render spells e as SQL for d.
func Render(e Expr, d dialect.Dialect) string {
	switch x := e.(type) {
	case *Column:
		return d.Ident(x.Name)
	case *Value:
		return RenderValue(x.V, d)
	case *RowNumber:
		return renderRowNumber(x, d)
	case *Function:
		return renderFunction(x, d)
	}
	return "NULL"
}

// RenderValue spells a literal.
func RenderValue(v interface{}, d dialect.Dialect) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return renderFloat(x)
	case string:
		return d.QuoteString(x)
	case bool:
		return d.Bool(x)
	}
	return "NULL"
}

func renderFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "NULL"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func renderFunction(f *Function, d dialect.Dialect) string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = Render(a, d)
	}
	switch f.Name {
	case FnConcatOp:
		switch d {
		case dialect.MsSql:
			return "(" + args[0] + " + " + args[1] + ")"
		case dialect.MySql:
			return "CONCAT(" + args[0] + ", " + args[1] + ")"
		}
	case FnILike, FnNotILike:
		if d != dialect.PostgreSql && d != dialect.RedshiftSql && d != dialect.Databricks {
			op := " LIKE "
			if f.Name == FnNotILike {
				op = " NOT LIKE "
			}
			return "(LOWER(" + args[0] + ")" + op + "LOWER(" + args[1] + "))"
		}
	case FnNot:
		return "(NOT " + args[0] + ")"
	case FnNeg:
		return "(-" + args[0] + ")"
	case FnIsNull, FnIsNotNull:
		return "(" + args[0] + " " + f.Name + ")"
	case FnIn, FnNotIn:
		return "(" + args[0] + " " + f.Name + " (" + strings.Join(args[1:], ", ") + "))"
	case FnCast:
		return "CAST(" + args[0] + " AS " + d.CastType(f.CastTo) + ")"
	case FnCase:
		var b strings.Builder
		b.WriteString("CASE")
		i := 0
		for ; i+1 < len(args); i += 2 {
			b.WriteString(" WHEN " + args[i] + " THEN " + args[i+1])
		}
		if i < len(args) {
			b.WriteString(" ELSE " + args[i])
		}
		b.WriteString(" END")
		return b.String()
	}
	if binaryOperators[f.Name] && len(args) == 2 {
		return "(" + args[0] + " " + f.Name + " " + args[1] + ")"
	}
	return d.Function(f.Name, args)
}

func renderRowNumber(r *RowNumber, d dialect.Dialect) string {
	var parts []string
	if len(r.PartitionBy) > 0 {
		keys := make([]string, len(r.PartitionBy))
		for i, p := range r.PartitionBy {
			keys[i] = Render(p, d)
		}
		parts = append(parts, "PARTITION BY "+strings.Join(keys, ", "))
	}
	switch {
	case len(r.OrderBy) > 0:
		keys := make([]string, len(r.OrderBy))
		for i, o := range r.OrderBy {
			keys[i] = Render(o.Expr, d)
			if o.Desc {
				keys[i] += " DESC"
			}
		}
		parts = append(parts, "ORDER BY "+strings.Join(keys, ", "))
	case d == dialect.MsSql:
		parts = append(parts, "ORDER BY (SELECT NULL)")
	}
	return "ROW_NUMBER() OVER (" + strings.Join(parts, " ") + ")"
}

// RenderAggregate spells an aggregate call. FIRST wraps a group key and
// renders as its bare argument.
func RenderAggregate(a *Aggregate, d dialect.Dialect) string {
	if a.IsCountAll() {
		return "COUNT(*)"
	}
	arg := Render(a.Arg, d)
	if a.Fn == AggFirst {
		return arg
	}
	if a.Distinct {
		arg = "DISTINCT " + arg
	}
	fn := a.Fn
	switch {
	case fn == AggVariance && d == dialect.MsSql:
		fn = "VAR"
	case fn == AggStddev && d == dialect.MsSql:
		fn = "STDEV"
	}
	return fn + "(" + arg + ")"
}
