// Package expr is the expression language carried by relations: scalar
// functions over the columns of one input, aggregates for Reduce nodes and
// the ROW_NUMBER window used to cap contributions.
package expr

import (
	"sort"

	"github.com/spaolacci/murmur3"

	"github.com/qrlew/qrlew-go/internal/dialect"
)

// Expr is a scalar expression evaluated against one input row.
type Expr interface {
	// String renders the expression in the default dialect. Two
	// expressions are equal when their strings are.
	String() string
	isExpr()
}

// Column references an input field by name.
type Column struct {
	Name string
}

// Value is a literal: int64, float64, string, bool or nil.
type Value struct {
	V interface{}
}

// Function applies a named scalar function or operator. CastTo is set for
// CAST and holds one of the canonical type names.
type Function struct {
	Name   string
	Args   []Expr
	CastTo string
}

// OrderKey is one key of a window ordering.
type OrderKey struct {
	Expr Expr
	Desc bool
}

// RowNumber is ROW_NUMBER() OVER (PARTITION BY ... ORDER BY ...).
type RowNumber struct {
	PartitionBy []Expr
	OrderBy     []OrderKey
}

func (*Column) isExpr()    {}
func (*Value) isExpr()     {}
func (*Function) isExpr()  {}
func (*RowNumber) isExpr() {}

func (c *Column) String() string    { return Render(c, dialect.Default) }
func (v *Value) String() string     { return Render(v, dialect.Default) }
func (f *Function) String() string  { return Render(f, dialect.Default) }
func (r *RowNumber) String() string { return Render(r, dialect.Default) }

// Col builds a column reference.
func Col(name string) *Column { return &Column{Name: name} }

// Lit builds a literal. Ints are widened to int64.
func Lit(v interface{}) *Value {
	switch x := v.(type) {
	case int:
		return &Value{V: int64(x)}
	case int32:
		return &Value{V: int64(x)}
	case float32:
		return &Value{V: float64(x)}
	}
	return &Value{V: v}
}

// Call builds a function application.
func Call(name string, args ...Expr) *Function {
	return &Function{Name: name, Args: args}
}

// Cast builds CAST(e AS canonical).
func Cast(e Expr, canonical string) *Function {
	return &Function{Name: FnCast, Args: []Expr{e}, CastTo: canonical}
}

// Aggregate is an aggregate function over one input column or expression.
// FIRST passes a group key through.
type Aggregate struct {
	Fn       string
	Arg      Expr // nil for COUNT(*)
	Distinct bool
}

// Aggregate function names.
const (
	AggCount    = "COUNT"
	AggSum      = "SUM"
	AggAvg      = "AVG"
	AggMin      = "MIN"
	AggMax      = "MAX"
	AggVariance = "VARIANCE"
	AggStddev   = "STDDEV"
	AggFirst    = "FIRST"
)

func (a *Aggregate) String() string { return RenderAggregate(a, dialect.Default) }

// IsCountAll reports whether a is COUNT(*).
func (a *Aggregate) IsCountAll() bool {
	return a.Fn == AggCount && a.Arg == nil
}

// Hash is a stable 64 bit digest of e.
func Hash(e Expr) uint64 {
	return murmur3.Sum64([]byte(e.String()))
}

// Walk visits e and its sub-expressions in pre-order.
func Walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case *Function:
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case *RowNumber:
		for _, p := range x.PartitionBy {
			Walk(p, fn)
		}
		for _, o := range x.OrderBy {
			Walk(o.Expr, fn)
		}
	}
}

// Columns returns the sorted distinct column names referenced by e.
func Columns(e Expr) []string {
	seen := make(map[string]bool)
	Walk(e, func(n Expr) {
		if c, ok := n.(*Column); ok {
			seen[c.Name] = true
		}
	})
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Substitute returns e with every column found in repl replaced. Columns not
// in repl are kept.
func Substitute(e Expr, repl map[string]Expr) Expr {
	switch x := e.(type) {
	case *Column:
		if r, ok := repl[x.Name]; ok {
			return r
		}
		return x
	case *Function:
		args := make([]Expr, len(x.Args))
		for i, a := range x.Args {
			args[i] = Substitute(a, repl)
		}
		return &Function{Name: x.Name, Args: args, CastTo: x.CastTo}
	case *RowNumber:
		out := &RowNumber{}
		for _, p := range x.PartitionBy {
			out.PartitionBy = append(out.PartitionBy, Substitute(p, repl))
		}
		for _, o := range x.OrderBy {
			out.OrderBy = append(out.OrderBy, OrderKey{Expr: Substitute(o.Expr, repl), Desc: o.Desc})
		}
		return out
	}
	return e
}

// RenameColumns is Substitute with plain column renames.
func RenameColumns(e Expr, names map[string]string) Expr {
	repl := make(map[string]Expr, len(names))
	for from, to := range names {
		repl[from] = Col(to)
	}
	return Substitute(e, repl)
}

// IsColumn returns the column name when e is a bare column reference.
func IsColumn(e Expr) (string, bool) {
	if c, ok := e.(*Column); ok {
		return c.Name, true
	}
	return "", false
}

// And conjoins predicates, skipping nils. It returns nil when none remain.
func And(preds ...Expr) Expr {
	var out Expr
	for _, p := range preds {
		if p == nil {
			continue
		}
		if out == nil {
			out = p
			continue
		}
		out = Call(FnAnd, out, p)
	}
	return out
}

// Conjuncts splits a predicate on AND.
func Conjuncts(e Expr) []Expr {
	if e == nil {
		return nil
	}
	if f, ok := e.(*Function); ok && f.Name == FnAnd {
		return append(Conjuncts(f.Args[0]), Conjuncts(f.Args[1])...)
	}
	return []Expr{e}
}
