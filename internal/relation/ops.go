package relation

import (
	"strings"

	"github.com/qrlew/qrlew-go/internal/datatype"
	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/expr"
	"github.com/qrlew/qrlew-go/internal/sql/parser"
)

// PostOrder lists every node reachable from r, inputs before the nodes that
// read them. A node shared by several consumers appears once.
func PostOrder(r Relation) []Relation {
	var out []Relation
	seen := make(map[Relation]bool)
	var visit func(Relation)
	visit = func(n Relation) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, in := range n.Inputs() {
			visit(in)
		}
		out = append(out, n)
	}
	visit(r)
	return out
}

// Walk calls fn on every node of r in post-order.
func Walk(r Relation, fn func(Relation)) {
	for _, n := range PostOrder(r) {
		fn(n)
	}
}

// Transform rebuilds r bottom-up. fn receives each original node with its
// already transformed inputs and returns the replacement; shared nodes are
// transformed once.
func Transform(r Relation, fn func(node Relation, inputs []Relation) (Relation, error)) (Relation, error) {
	done := make(map[Relation]Relation)
	for _, n := range PostOrder(r) {
		ins := n.Inputs()
		inputs := make([]Relation, len(ins))
		for i, in := range ins {
			inputs[i] = done[in]
		}
		out, err := fn(n, inputs)
		if err != nil {
			return nil, err
		}
		done[n] = out
	}
	return done[r], nil
}

// Rebuild returns a node of the same kind and parameters as r over new
// inputs. It returns r itself when the inputs are unchanged.
func Rebuild(r Relation, inputs []Relation) (Relation, error) {
	ins := r.Inputs()
	if len(ins) != len(inputs) {
		return nil, qerrors.NewInternalError("rebuild "+r.Name()+" with the wrong number of inputs", nil)
	}
	same := true
	for i := range ins {
		if ins[i] != inputs[i] {
			same = false
		}
	}
	if same {
		return r, nil
	}
	switch x := r.(type) {
	case *Map:
		return NewMap(inputs[0], x.Projections, x.Filter)
	case *Reduce:
		return NewReduce(inputs[0], x.GroupBy, x.Aggregates)
	case *Join:
		if len(inputs[0].Schema()) == len(x.LeftNames) && len(inputs[1].Schema()) == len(x.RightNames) {
			return NewJoinNamed(inputs[0], inputs[1], x.Kind, x.On, x.LeftNames, x.RightNames)
		}
		return NewJoin(inputs[0], inputs[1], x.Kind, x.On)
	case *Set:
		return NewSet(x.Op, x.All, inputs[0], inputs[1])
	case *Sort:
		return NewSort(inputs[0], x.Keys)
	case *Limit:
		return NewLimit(inputs[0], x.Limit, x.Offset)
	}
	return r, nil
}

// Identity projects every column of r under its own name.
func Identity(r Relation) []NamedExpr {
	out := make([]NamedExpr, len(r.Schema()))
	for i, f := range r.Schema() {
		out[i] = NamedExpr{Name: f.Name, Expr: expr.Col(f.Name)}
	}
	return out
}

// RenameFields relabels output fields. Fields absent from names keep their
// name; types, constraints and order are unchanged.
func RenameFields(r Relation, names map[string]string) (Relation, error) {
	schema := r.Schema()
	for from := range names {
		if _, ok := schema.Field(from); !ok {
			return nil, qerrors.NewFieldNotFound(from)
		}
	}
	renamed := make([]string, len(schema))
	seen := make(map[string]bool, len(schema))
	changed := false
	for i, f := range schema {
		renamed[i] = f.Name
		if to, ok := names[f.Name]; ok {
			renamed[i] = to
			changed = changed || to != f.Name
		}
		if seen[renamed[i]] {
			return nil, qerrors.NewDuplicateName(renamed[i])
		}
		seen[renamed[i]] = true
	}
	if !changed {
		return r, nil
	}
	switch x := r.(type) {
	case *Map:
		projections := make([]NamedExpr, len(x.Projections))
		for i, p := range x.Projections {
			projections[i] = NamedExpr{Name: renamed[i], Expr: p.Expr}
		}
		return NewMap(x.Input, projections, x.Filter)
	case *Reduce:
		aggregates := make([]NamedAggregate, len(x.Aggregates))
		for i, a := range x.Aggregates {
			aggregates[i] = NamedAggregate{Name: renamed[i], Aggregate: a.Aggregate}
		}
		return NewReduce(x.Input, x.GroupBy, aggregates)
	}
	projections := make([]NamedExpr, len(schema))
	for i, f := range schema {
		projections[i] = NamedExpr{Name: renamed[i], Expr: expr.Col(f.Name)}
	}
	return NewMap(r, projections, nil)
}

// WithField parses sql as a scalar expression over the columns of r and
// returns a Map computing it as the first output field, followed by every
// column of r.
func WithField(r Relation, name, sql string, d dialect.Dialect) (*Map, error) {
	ast, err := parser.ParseExpression(sql, d)
	if err != nil {
		return nil, err
	}
	conv := &expr.Converter{Column: func(qualifier, column string) (expr.Expr, error) {
		if _, ok := r.Schema().Field(column); !ok {
			return nil, qerrors.NewFieldNotFound(column)
		}
		return expr.Col(column), nil
	}}
	e, err := conv.Convert(ast)
	if err != nil {
		return nil, err
	}
	return WithFieldExpr(r, name, e)
}

// WithFieldExpr is WithField for an already built expression.
func WithFieldExpr(r Relation, name string, e expr.Expr) (*Map, error) {
	if _, ok := r.Schema().Field(name); ok {
		return nil, qerrors.NewDuplicateName(name)
	}
	projections := append([]NamedExpr{{Name: name, Expr: e}}, Identity(r)...)
	return NewMap(r, projections, nil)
}

// Substitution replaces the table at Path.
type Substitution struct {
	Path     []string
	Relation Relation
}

// Compose replaces every table leaf of r matched by a substitution. A leaf
// matches an entry whose path equals its own, or else the single entry whose
// path is a suffix of it. The replacement must expose the same field names,
// in any order, with types contained in the leaf's.
func Compose(r Relation, subs []Substitution) (Relation, error) {
	return Transform(r, func(n Relation, inputs []Relation) (Relation, error) {
		t, ok := n.(*Table)
		if !ok {
			return Rebuild(n, inputs)
		}
		sub, ok, err := matchSubstitution(t.Path, subs)
		if err != nil || !ok {
			return t, err
		}
		return substitute(t, sub.Relation)
	})
}

func matchSubstitution(path []string, subs []Substitution) (Substitution, bool, error) {
	var suffix []Substitution
	for _, s := range subs {
		if pathEqual(s.Path, path) {
			return s, true, nil
		}
		if hasSuffix(path, s.Path) {
			suffix = append(suffix, s)
		}
	}
	switch len(suffix) {
	case 0:
		return Substitution{}, false, nil
	case 1:
		return suffix[0], true, nil
	}
	return Substitution{}, false, qerrors.NewUnresolvedReference("%s matches several substitutions", strings.Join(path, "."))
}

func substitute(leaf *Table, repl Relation) (Relation, error) {
	want, got := leaf.Schema(), repl.Schema()
	if len(want) != len(got) {
		return nil, qerrors.NewIncompatibleSchema("%s has %d fields, replacement %s has %d",
			leaf.Name(), len(want), repl.Name(), len(got))
	}
	reordered := false
	for i, f := range want {
		g, ok := got.Field(f.Name)
		if !ok {
			return nil, qerrors.NewIncompatibleSchema("replacement %s has no field %s", repl.Name(), f.Name)
		}
		if !datatype.Contains(f.Type, g.Type) {
			return nil, qerrors.NewIncompatibleSchema("field %s: %s is not contained in %s", f.Name, g.Type, f.Type)
		}
		if got[i].Name != f.Name {
			reordered = true
		}
	}
	if !reordered {
		return repl, nil
	}
	projections := make([]NamedExpr, len(want))
	for i, f := range want {
		projections[i] = NamedExpr{Name: f.Name, Expr: expr.Col(f.Name)}
	}
	return NewMap(repl, projections, nil)
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// hasSuffix reports whether suffix is a non-empty tail of path.
func hasSuffix(path, suffix []string) bool {
	if len(suffix) == 0 || len(suffix) > len(path) {
		return false
	}
	return pathEqual(path[len(path)-len(suffix):], suffix)
}
