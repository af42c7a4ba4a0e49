package relation

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/spaolacci/murmur3"

	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/expr"
	"github.com/qrlew/qrlew-go/internal/sql/parser"
)

// Catalog resolves the table paths named in a query.
type Catalog interface {
	// ResolveTable returns the table whose path equals path, or else the
	// only table whose path ends with it. It fails with UnresolvedReference.
	ResolveTable(path []string) (*Table, error)
}

// Planner turns SQL queries into relations over a catalog.
type Planner struct {
	catalog Catalog
	dialect dialect.Dialect
}

// NewPlanner creates a planner parsing queries written for d.
func NewPlanner(catalog Catalog, d dialect.Dialect) *Planner {
	return &Planner{catalog: catalog, dialect: d}
}

// Plan parses and plans query.
func (p *Planner) Plan(query string) (Relation, error) {
	stmt, err := parser.ParseDialect(query, p.dialect)
	if err != nil {
		return nil, err
	}
	r, err := p.PlanStatement(stmt)
	if err != nil {
		return nil, err
	}
	if glog.V(2) {
		glog.Infof("planned %q as %s %s", query, r.Name(), r.Schema())
	}
	return r, nil
}

// PlanStatement plans an already parsed statement.
func (p *Planner) PlanStatement(stmt parser.Statement) (Relation, error) {
	return p.statement(stmt, map[string]Relation{})
}

func (p *Planner) statement(stmt parser.Statement, ctes map[string]Relation) (Relation, error) {
	switch s := stmt.(type) {
	case *parser.SelectStatement:
		return p.selectStatement(s, ctes)
	case *parser.SetStatement:
		return p.setStatement(s, ctes)
	case *parser.WithStatement:
		scope := make(map[string]Relation, len(ctes)+len(s.CTEs))
		for k, v := range ctes {
			scope[k] = v
		}
		for _, c := range s.CTEs {
			r, err := p.statement(c.Query, scope)
			if err != nil {
				return nil, err
			}
			if len(c.Columns) > 0 {
				if r, err = renamePositional(r, c.Columns); err != nil {
					return nil, err
				}
			}
			scope[c.Name] = r
		}
		return p.statement(s.Body, scope)
	}
	return nil, qerrors.NewUnsupported("statement %T", stmt)
}

func renamePositional(r Relation, names []string) (Relation, error) {
	if len(names) != len(r.Schema()) {
		return nil, qerrors.NewSchemaMismatch("%d column names for %d columns", len(names), len(r.Schema()))
	}
	m := make(map[string]string, len(names))
	for i, f := range r.Schema() {
		m[f.Name] = names[i]
	}
	return RenameFields(r, m)
}

func (p *Planner) setStatement(s *parser.SetStatement, ctes map[string]Relation) (Relation, error) {
	left, err := p.statement(s.Left, ctes)
	if err != nil {
		return nil, err
	}
	right, err := p.statement(s.Right, ctes)
	if err != nil {
		return nil, err
	}
	op := SetUnion
	switch s.Op {
	case parser.SetIntersect:
		op = SetIntersect
	case parser.SetExcept:
		op = SetExcept
	}
	r, err := NewSet(op, s.All, left, right)
	if err != nil {
		return nil, err
	}
	keys, err := outputOrder(r, s.OrderBy, nil)
	if err != nil {
		return nil, err
	}
	return sortAndLimit(r, keys, s.Limit, s.Offset)
}

// column is one name visible in a FROM clause.
type column struct {
	qualifiers []string
	name       string
	field      string // in the FROM relation
	hidden     bool   // right side of JOIN USING: only reachable qualified
}

type scope struct {
	columns []column
}

func (s *scope) resolve(qualifier, name string) (string, error) {
	match := func(fold bool) []column {
		var found []column
		for _, c := range s.columns {
			if qualifier == "" && c.hidden {
				continue
			}
			if qualifier != "" && !hasQualifier(c.qualifiers, qualifier) {
				continue
			}
			if c.name == name || (fold && strings.EqualFold(c.name, name)) {
				found = append(found, c)
			}
		}
		return found
	}
	found := match(false)
	if len(found) == 0 {
		found = match(true)
	}
	switch len(found) {
	case 0:
		if qualifier != "" {
			return "", qerrors.NewFieldNotFound(qualifier + "." + name)
		}
		return "", qerrors.NewFieldNotFound(name)
	case 1:
		return found[0].field, nil
	}
	return "", qerrors.NewTypeMismatch("column reference %s is ambiguous", name)
}

func hasQualifier(qs []string, q string) bool {
	for _, x := range qs {
		if x == q || strings.EqualFold(x, q) {
			return true
		}
	}
	return false
}

func (s *scope) converter() *expr.Converter {
	return &expr.Converter{Column: func(qualifier, name string) (expr.Expr, error) {
		field, err := s.resolve(qualifier, name)
		if err != nil {
			return nil, err
		}
		return expr.Col(field), nil
	}}
}

// tableQualifiers are the names a table can be referred to by: its alias,
// or every suffix of its path.
func tableQualifiers(ref *parser.TableRef) []string {
	if ref.Alias != "" {
		return []string{ref.Alias}
	}
	var qs []string
	for i := range ref.Path {
		qs = append(qs, strings.Join(ref.Path[i:], "."))
	}
	return qs
}

func newScope(r Relation, qualifiers []string) *scope {
	s := &scope{}
	for _, f := range r.Schema() {
		s.columns = append(s.columns, column{qualifiers: qualifiers, name: f.Name, field: f.Name})
	}
	return s
}

func (p *Planner) from(t parser.TableExpr, ctes map[string]Relation) (Relation, *scope, error) {
	switch x := t.(type) {
	case *parser.TableRef:
		if len(x.Path) == 1 {
			if r, ok := ctes[x.Path[0]]; ok {
				return r, newScope(r, tableQualifiers(x)), nil
			}
		}
		table, err := p.catalog.ResolveTable(x.Path)
		if err != nil {
			return nil, nil, err
		}
		return table, newScope(table, tableQualifiers(x)), nil
	case *parser.SubqueryRef:
		r, err := p.statement(x.Query, ctes)
		if err != nil {
			return nil, nil, err
		}
		var qs []string
		if x.Alias != "" {
			qs = []string{x.Alias}
		}
		return r, newScope(r, qs), nil
	case *parser.JoinExpr:
		return p.join(x, ctes)
	}
	return nil, nil, qerrors.NewUnsupported("FROM item %s", t)
}

var joinKinds = map[parser.JoinKind]JoinKind{
	parser.JoinInner: JoinInner,
	parser.JoinLeft:  JoinLeft,
	parser.JoinRight: JoinRight,
	parser.JoinFull:  JoinFull,
	parser.JoinCross: JoinCross,
}

func (p *Planner) join(x *parser.JoinExpr, ctes map[string]Relation) (Relation, *scope, error) {
	left, ls, err := p.from(x.Left, ctes)
	if err != nil {
		return nil, nil, err
	}
	right, rs, err := p.from(x.Right, ctes)
	if err != nil {
		return nil, nil, err
	}
	kind := joinKinds[x.Kind]
	var keys []JoinKey
	var residual []parser.Expression
	for _, c := range x.Using {
		l, err := ls.resolve("", c)
		if err != nil {
			return nil, nil, err
		}
		r, err := rs.resolve("", c)
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, JoinKey{Left: l, Right: r})
	}
	for _, c := range splitAnd(x.On) {
		if k, ok := joinKey(c, ls, rs); ok {
			keys = append(keys, k)
			continue
		}
		residual = append(residual, c)
	}
	if len(residual) > 0 && kind != JoinInner && kind != JoinCross {
		return nil, nil, qerrors.NewUnsupported("%s JOIN condition that is not a column equality", kind)
	}
	if kind == JoinCross && len(keys) > 0 {
		kind = JoinInner
	}
	j, err := NewJoin(left, right, kind, keys)
	if err != nil {
		return nil, nil, err
	}
	s := &scope{}
	for _, c := range ls.columns {
		c.field, _ = j.OutputName(false, c.field)
		s.columns = append(s.columns, c)
	}
	using := make(map[string]bool, len(x.Using))
	for _, k := range keys[:len(x.Using)] {
		using[k.Right] = true
	}
	for _, c := range rs.columns {
		if using[c.field] {
			c.hidden = true
		}
		c.field, _ = j.OutputName(true, c.field)
		s.columns = append(s.columns, c)
	}
	if len(residual) == 0 {
		return j, s, nil
	}
	conv := s.converter()
	var filter expr.Expr
	for _, c := range residual {
		e, err := conv.Convert(c)
		if err != nil {
			return nil, nil, err
		}
		filter = expr.And(filter, e)
	}
	m, err := NewMap(j, Identity(j), filter)
	if err != nil {
		return nil, nil, err
	}
	return m, s, nil
}

// joinKey recognizes left_column = right_column in either order.
func joinKey(e parser.Expression, ls, rs *scope) (JoinKey, bool) {
	b, ok := unparen(e).(*parser.BinaryExpr)
	if !ok || b.Operator != "=" {
		return JoinKey{}, false
	}
	a, ok1 := unparen(b.Left).(*parser.ColumnRef)
	c, ok2 := unparen(b.Right).(*parser.ColumnRef)
	if !ok1 || !ok2 {
		return JoinKey{}, false
	}
	if l, r, ok := sides(a, c, ls, rs); ok {
		return JoinKey{Left: l, Right: r}, true
	}
	if l, r, ok := sides(c, a, ls, rs); ok {
		return JoinKey{Left: l, Right: r}, true
	}
	return JoinKey{}, false
}

func sides(a, b *parser.ColumnRef, ls, rs *scope) (string, string, bool) {
	l, err := ls.resolve(a.Table, a.Column)
	if err != nil {
		return "", "", false
	}
	if _, err := rs.resolve(a.Table, a.Column); err == nil {
		return "", "", false
	}
	r, err := rs.resolve(b.Table, b.Column)
	if err != nil {
		return "", "", false
	}
	if _, err := ls.resolve(b.Table, b.Column); err == nil {
		return "", "", false
	}
	return l, r, true
}

func unparen(e parser.Expression) parser.Expression {
	for {
		p, ok := e.(*parser.ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

func splitAnd(e parser.Expression) []parser.Expression {
	if e == nil {
		return nil
	}
	e = unparen(e)
	if b, ok := e.(*parser.BinaryExpr); ok && strings.EqualFold(b.Operator, "AND") {
		return append(splitAnd(b.Left), splitAnd(b.Right)...)
	}
	return []parser.Expression{e}
}

func (p *Planner) selectStatement(s *parser.SelectStatement, ctes map[string]Relation) (Relation, error) {
	if s.From == nil {
		return nil, qerrors.NewUnsupported("SELECT without FROM")
	}
	input, sc, err := p.from(s.From, ctes)
	if err != nil {
		return nil, err
	}
	var filter expr.Expr
	if s.Where != nil {
		if parser.HasAggregate(s.Where) {
			return nil, qerrors.NewUnsupported("aggregate in WHERE")
		}
		if filter, err = sc.converter().Convert(s.Where); err != nil {
			return nil, err
		}
	}
	aggregated := len(s.GroupBy) > 0 || s.Having != nil
	for _, c := range s.Columns {
		aggregated = aggregated || parser.HasAggregate(c.Expr)
	}
	var out Relation
	var convert func(parser.Expression) (expr.Expr, error)
	if aggregated {
		a := &aggregation{scope: sc, names: newNamer()}
		out, convert, err = a.plan(input, filter, s)
	} else {
		out, convert, err = project(input, sc, filter, s.Columns)
	}
	if err != nil {
		return nil, err
	}
	if s.Distinct {
		if out, err = distinct(out); err != nil {
			return nil, err
		}
	}
	keys, err := outputOrder(out, s.OrderBy, convert)
	if err != nil {
		return nil, err
	}
	return sortAndLimit(out, keys, s.Limit, s.Offset)
}

// namer hands out unique output names.
type namer struct {
	used map[string]bool
}

func newNamer() *namer { return &namer{used: make(map[string]bool)} }

func (n *namer) fresh(base string) string {
	name := base
	for i := 2; n.used[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	n.used[name] = true
	return name
}

// exprName derives the output name of an unaliased select item.
func exprName(e parser.Expression, converted expr.Expr) string {
	switch x := unparen(e).(type) {
	case *parser.ColumnRef:
		return x.Column
	case *parser.AggregateExpr:
		return aggregateName(x)
	}
	return hashName(converted)
}

func hashName(e expr.Expr) string {
	return fmt.Sprintf("field_%08x", uint32(expr.Hash(e)))
}

func aggregateName(a *parser.AggregateExpr) string {
	fn := strings.ToLower(a.Function)
	if a.Distinct {
		fn += "_distinct"
	}
	switch x := unparen(a.Arg).(type) {
	case nil, *parser.StarExpr:
		return fn + "_all"
	case *parser.ColumnRef:
		return fn + "_" + x.Column
	}
	return fmt.Sprintf("%s_%08x", fn, murmur3.Sum32([]byte(a.Arg.String())))
}

// project plans a select list without aggregation.
func project(input Relation, sc *scope, filter expr.Expr, items []parser.SelectColumn) (Relation, func(parser.Expression) (expr.Expr, error), error) {
	conv := sc.converter()
	names := newNamer()
	var projections []NamedExpr
	for _, item := range items {
		if star, ok := item.Expr.(*parser.StarExpr); ok {
			cols := starColumns(sc, star.Table)
			if len(cols) == 0 {
				return nil, nil, qerrors.NewFieldNotFound(star.String())
			}
			for _, c := range cols {
				projections = append(projections, NamedExpr{Name: names.fresh(c.field), Expr: expr.Col(c.field)})
			}
			continue
		}
		e, err := conv.Convert(item.Expr)
		if err != nil {
			return nil, nil, err
		}
		name := item.Alias
		if name == "" {
			name = names.fresh(exprName(item.Expr, e))
		} else {
			names.used[name] = true
		}
		projections = append(projections, NamedExpr{Name: name, Expr: e})
	}
	m, err := NewMap(input, projections, filter)
	if err != nil {
		return nil, nil, err
	}
	return m, conv.Convert, nil
}

func starColumns(sc *scope, qualifier string) []column {
	var out []column
	for _, c := range sc.columns {
		if qualifier == "" && c.hidden {
			continue
		}
		if qualifier != "" && !hasQualifier(c.qualifiers, qualifier) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// distinct groups by every column.
func distinct(r Relation) (Relation, error) {
	names := r.Schema().Names()
	aggs := make([]NamedAggregate, len(names))
	for i, n := range names {
		aggs[i] = NamedAggregate{Name: n, Aggregate: &expr.Aggregate{Fn: expr.AggFirst, Arg: expr.Col(n)}}
	}
	return NewReduce(r, names, aggs)
}

// aggregation plans a grouped select as a Map computing keys and aggregate
// arguments, a Reduce, and a Map for the select list and HAVING.
type aggregation struct {
	scope *scope
	names *namer

	pre      []NamedExpr
	preNames map[string]string // expression -> pre-map column
	keys     []string          // pre-map columns
	keyExprs map[string]string // expression -> key column
	aggs     []NamedAggregate
	aggNames map[string]string // aggregate over pre-map columns -> output
}

func (a *aggregation) preColumn(e expr.Expr) string {
	key := e.String()
	if name, ok := a.preNames[key]; ok {
		return name
	}
	var name string
	if col, ok := expr.IsColumn(e); ok {
		name = a.names.fresh(col)
	} else {
		name = a.names.fresh(hashName(e))
	}
	a.preNames[key] = name
	a.pre = append(a.pre, NamedExpr{Name: name, Expr: e})
	return name
}

func (a *aggregation) plan(input Relation, filter expr.Expr, s *parser.SelectStatement) (Relation, func(parser.Expression) (expr.Expr, error), error) {
	a.preNames = make(map[string]string)
	a.keyExprs = make(map[string]string)
	a.aggNames = make(map[string]string)
	conv := a.scope.converter()
	for _, g := range s.GroupBy {
		g, err := groupItem(g, s.Columns, a.scope)
		if err != nil {
			return nil, nil, err
		}
		e, err := conv.Convert(g)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := a.keyExprs[e.String()]; dup {
			continue
		}
		name := a.preColumn(e)
		a.keys = append(a.keys, name)
		a.keyExprs[e.String()] = name
	}
	for _, k := range a.keys {
		a.aggs = append(a.aggs, NamedAggregate{Name: k, Aggregate: &expr.Aggregate{Fn: expr.AggFirst, Arg: expr.Col(k)}})
	}

	outNames := newNamer()
	var projections []NamedExpr
	for _, item := range s.Columns {
		if _, ok := item.Expr.(*parser.StarExpr); ok {
			return nil, nil, qerrors.NewUnsupported("* in an aggregate query")
		}
		e, err := a.convert(item.Expr)
		if err != nil {
			return nil, nil, err
		}
		name := item.Alias
		if name == "" {
			base := exprName(item.Expr, e)
			if col, ok := expr.IsColumn(e); ok && !isColumnRef(item.Expr) {
				base = col
			}
			name = outNames.fresh(base)
		} else {
			outNames.used[name] = true
		}
		projections = append(projections, NamedExpr{Name: name, Expr: e})
	}
	var having expr.Expr
	if s.Having != nil {
		var err error
		if having, err = a.convert(s.Having); err != nil {
			return nil, nil, err
		}
	}
	// ORDER BY may introduce aggregates too; convert them now so the Reduce
	// computes them.
	for _, o := range s.OrderBy {
		if parser.HasAggregate(o.Expr) {
			if _, err := a.convert(o.Expr); err != nil {
				return nil, nil, err
			}
		}
	}

	var reduceInput Relation = input
	if filter != nil || !a.preIsIdentity(input) {
		pre := a.pre
		if len(pre) == 0 {
			pre = Identity(input)
		}
		m, err := NewMap(input, pre, filter)
		if err != nil {
			return nil, nil, err
		}
		reduceInput = m
	}
	reduce, err := NewReduce(reduceInput, a.keys, a.aggs)
	if err != nil {
		return nil, nil, err
	}
	if having == nil && postIsIdentity(reduce, projections) {
		return reduce, a.convert, nil
	}
	post, err := NewMap(reduce, projections, having)
	if err != nil {
		return nil, nil, err
	}
	return post, a.convert, nil
}

func isColumnRef(e parser.Expression) bool {
	_, ok := unparen(e).(*parser.ColumnRef)
	return ok
}

// preIsIdentity reports whether the pre-map would only pass input columns
// through under their own names.
func (a *aggregation) preIsIdentity(input Relation) bool {
	for _, p := range a.pre {
		col, ok := expr.IsColumn(p.Expr)
		if !ok || col != p.Name {
			return false
		}
		if _, ok := input.Schema().Field(col); !ok {
			return false
		}
	}
	return true
}

func postIsIdentity(r Relation, projections []NamedExpr) bool {
	if len(projections) != len(r.Schema()) {
		return false
	}
	for i, p := range projections {
		col, ok := expr.IsColumn(p.Expr)
		if !ok || col != p.Name || p.Name != r.Schema()[i].Name {
			return false
		}
	}
	return true
}

// convert translates an expression over the Reduce output. Subtrees equal
// to a group key read the key; columns must be group keys.
func (a *aggregation) convert(e parser.Expression) (expr.Expr, error) {
	if !parser.HasAggregate(e) {
		if x, err := a.scope.converter().Convert(e); err == nil {
			if key, ok := a.keyExprs[x.String()]; ok {
				return expr.Col(key), nil
			}
		}
	}
	conv := &expr.Converter{
		Column: func(qualifier, name string) (expr.Expr, error) {
			field, err := a.scope.resolve(qualifier, name)
			if err != nil {
				return nil, err
			}
			if key, ok := a.keyExprs[expr.Col(field).String()]; ok {
				return expr.Col(key), nil
			}
			return nil, qerrors.NewTypeMismatch("column %s must appear in GROUP BY or in an aggregate", name)
		},
		Aggregate: a.aggregate,
	}
	return conv.Convert(e)
}

func (a *aggregation) aggregate(x *parser.AggregateExpr) (expr.Expr, error) {
	agg, err := a.scope.converter().ConvertAggregate(x)
	if err != nil {
		return nil, err
	}
	out := &expr.Aggregate{Fn: agg.Fn, Distinct: agg.Distinct}
	if agg.Arg != nil {
		out.Arg = expr.Col(a.preColumn(agg.Arg))
	}
	key := out.String()
	if name, ok := a.aggNames[key]; ok {
		return expr.Col(name), nil
	}
	name := a.names.fresh(aggregateName(x))
	a.aggNames[key] = name
	a.aggs = append(a.aggs, NamedAggregate{Name: name, Aggregate: out})
	return expr.Col(name), nil
}

// groupItem resolves GROUP BY ordinals and select aliases to expressions.
func groupItem(g parser.Expression, items []parser.SelectColumn, sc *scope) (parser.Expression, error) {
	switch x := unparen(g).(type) {
	case *parser.Literal:
		n, ok := x.Value.(int64)
		if !ok || n < 1 || int(n) > len(items) {
			return nil, qerrors.NewTypeMismatch("GROUP BY position %v is not in the select list", x.Value)
		}
		return items[n-1].Expr, nil
	case *parser.ColumnRef:
		if x.Table != "" {
			return g, nil
		}
		if _, err := sc.resolve("", x.Column); err == nil {
			return g, nil
		}
		for _, item := range items {
			if item.Alias == x.Column {
				return item.Expr, nil
			}
		}
	}
	return g, nil
}

// outputOrder resolves ORDER BY items against the output of r: ordinals,
// output names, or expressions equal to a projected one.
func outputOrder(r Relation, items []parser.OrderByClause, convert func(parser.Expression) (expr.Expr, error)) ([]SortKey, error) {
	var keys []SortKey
	schema := r.Schema()
	for _, o := range items {
		name, err := orderColumn(r, o.Expr, convert)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, qerrors.NewUnsupported("ORDER BY %s, which is not in the select list", o.Expr)
		}
		if schema.Index(name) < 0 {
			return nil, qerrors.NewFieldNotFound(name)
		}
		keys = append(keys, SortKey{Column: name, Desc: o.Desc})
	}
	return keys, nil
}

func orderColumn(r Relation, e parser.Expression, convert func(parser.Expression) (expr.Expr, error)) (string, error) {
	schema := r.Schema()
	switch x := unparen(e).(type) {
	case *parser.Literal:
		n, ok := x.Value.(int64)
		if !ok || n < 1 || int(n) > len(schema) {
			return "", qerrors.NewTypeMismatch("ORDER BY position %v is not in the select list", x.Value)
		}
		return schema[n-1].Name, nil
	case *parser.ColumnRef:
		if x.Table == "" && schema.Index(x.Column) >= 0 {
			return x.Column, nil
		}
	}
	if convert == nil {
		return "", nil
	}
	target, err := convert(e)
	if err != nil {
		return "", err
	}
	if m, ok := r.(*Map); ok {
		for _, p := range m.Projections {
			if p.Expr.String() == target.String() {
				return p.Name, nil
			}
		}
		return "", nil
	}
	if col, ok := expr.IsColumn(target); ok && schema.Index(col) >= 0 {
		return col, nil
	}
	return "", nil
}

func sortAndLimit(r Relation, keys []SortKey, limit, offset *int64) (Relation, error) {
	var err error
	if len(keys) > 0 {
		if r, err = NewSort(r, keys); err != nil {
			return nil, err
		}
	}
	if limit == nil && offset == nil {
		return r, nil
	}
	l, o := int64(-1), int64(0)
	if limit != nil {
		l = *limit
	}
	if offset != nil {
		o = *offset
	}
	if _, sorted := r.(*Sort); !sorted {
		// A limit needs a total order to be deterministic.
		if r, err = NewSort(r, nil); err != nil {
			return nil, err
		}
	}
	return NewLimit(r, l, o)
}

// Tables is a Catalog over a fixed list of tables.
type Tables []*Table

// ResolveTable implements Catalog.
func (ts Tables) ResolveTable(path []string) (*Table, error) {
	var found []*Table
	for _, t := range ts {
		if pathEqual(t.Path, path) {
			return t, nil
		}
		if hasSuffix(t.Path, path) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return nil, qerrors.NewUnresolvedReference("table %s not found", strings.Join(path, "."))
	case 1:
		return found[0], nil
	}
	return nil, qerrors.NewUnresolvedReference("table %s is ambiguous", strings.Join(path, "."))
}
