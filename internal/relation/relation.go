// Package relation is the relational algebra the rewriters operate on. A
// Relation is an immutable DAG node; every constructor computes the output
// schema and row count bounds eagerly, so a plan that builds is well typed.
package relation

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/qrlew/qrlew-go/internal/datatype"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/expr"
)

// Unbounded is the maximum row count of a relation with no known size.
const Unbounded int64 = -1

// Relation is one of *Table, *Map, *Reduce, *Join, *Set, *Values, *Sort or
// *Limit.
type Relation interface {
	// Name is stable for a given structure. It names the CTE the node
	// renders to.
	Name() string
	Schema() Schema
	Inputs() []Relation
	// Size returns row count bounds; max is Unbounded when unknown.
	Size() (min, max int64)
	isRelation()
}

// Schema is the ordered list of output fields of a relation.
type Schema []datatype.Field

// Struct returns the schema as a Struct type.
func (s Schema) Struct() datatype.Struct {
	return datatype.Struct{Fields: s}
}

// Field returns the named field.
func (s Schema) Field(name string) (datatype.Field, bool) {
	return s.Struct().Field(name)
}

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	return s.Struct().Index(name)
}

// Names lists the field names in order.
func (s Schema) Names() []string {
	return s.Struct().Names()
}

func (s Schema) String() string {
	return s.Struct().String()
}

type base struct {
	name     string
	schema   Schema
	min, max int64
}

func (b *base) Name() string           { return b.name }
func (b *base) Schema() Schema         { return b.schema }
func (b *base) Size() (int64, int64)   { return b.min, b.max }
func (b *base) isRelation()            {}
func (b *base) setSize(min, max int64) { b.min, b.max = min, max }

// nodeName derives a node name from its kind and a structural description.
func nodeName(kind, def string) string {
	return fmt.Sprintf("%s_%08x", kind, uint32(murmur3.Sum64([]byte(kind+"|"+def))))
}

// Table is a base table of a dataset.
type Table struct {
	base
	Path []string
	// Bounds holds per-column value bounds taken from dataset statistics,
	// used when the column type itself is unbounded.
	Bounds map[string]datatype.Interval
}

// NewTable builds a table leaf. maxRows is Unbounded when the size is
// unknown.
func NewTable(path []string, schema Schema, minRows, maxRows int64) *Table {
	t := &Table{Path: append([]string(nil), path...)}
	t.name = strings.Join(path, ".")
	t.schema = schema
	t.setSize(minRows, maxRows)
	return t
}

// WithBounds returns a copy of t carrying column statistics.
func (t *Table) WithBounds(bounds map[string]datatype.Interval) *Table {
	out := *t
	out.Bounds = bounds
	return &out
}

func (t *Table) Inputs() []Relation { return nil }

// ShortName is the last path element.
func (t *Table) ShortName() string {
	if len(t.Path) == 0 {
		return t.name
	}
	return t.Path[len(t.Path)-1]
}

// NamedExpr is one projection of a Map.
type NamedExpr struct {
	Name string
	Expr expr.Expr
}

// Map projects and filters its input.
type Map struct {
	base
	Input       Relation
	Projections []NamedExpr
	Filter      expr.Expr
}

// NewMap builds a projection, with an optional filter applied before it.
// Columns compared against literals in the filter get narrowed types, and a
// bare column projection keeps its constraint.
func NewMap(input Relation, projections []NamedExpr, filter expr.Expr) (*Map, error) {
	in := input.Schema().Struct()
	if filter != nil {
		ft, err := expr.TypeOf(filter, in)
		if err != nil {
			return nil, err
		}
		if !isBoolean(ft) {
			return nil, qerrors.NewTypeMismatch("filter %s is %s, not a boolean", filter, ft)
		}
		in = expr.Narrow(in, filter)
	}
	fields := make([]datatype.Field, len(projections))
	seen := make(map[string]bool, len(projections))
	var def strings.Builder
	def.WriteString(input.Name())
	for i, p := range projections {
		if seen[p.Name] {
			return nil, qerrors.NewDuplicateName(p.Name)
		}
		seen[p.Name] = true
		t, err := expr.TypeOf(p.Expr, in)
		if err != nil {
			return nil, err
		}
		fields[i] = datatype.Field{Name: p.Name, Type: t}
		if col, ok := expr.IsColumn(p.Expr); ok {
			f, _ := input.Schema().Field(col)
			fields[i].Constraint = f.Constraint
		}
		fmt.Fprintf(&def, "|%s=%s", p.Name, p.Expr)
	}
	m := &Map{Input: input, Projections: projections, Filter: filter}
	if filter != nil {
		fmt.Fprintf(&def, "|where %s", filter)
	}
	m.name = nodeName("map", def.String())
	m.schema = fields
	min, max := input.Size()
	if filter != nil {
		min = 0
	}
	m.setSize(min, max)
	return m, nil
}

func (m *Map) Inputs() []Relation { return []Relation{m.Input} }

func isBoolean(t datatype.DataType) bool {
	inner, _ := datatype.Unwrap(t)
	switch inner.(type) {
	case datatype.Boolean, datatype.Null:
		return true
	}
	return false
}

// NamedAggregate is one output of a Reduce.
type NamedAggregate struct {
	Name      string
	Aggregate *expr.Aggregate
}

// Reduce groups its input and aggregates each group. Group keys reach the
// output through FIRST aggregates.
type Reduce struct {
	base
	Input      Relation
	GroupBy    []string
	Aggregates []NamedAggregate
}

// NewReduce builds an aggregation. A FIRST output must read a group key; the
// key is UNIQUE in the output when it is the only one.
func NewReduce(input Relation, groupBy []string, aggregates []NamedAggregate) (*Reduce, error) {
	in := input.Schema()
	keys := make(map[string]bool, len(groupBy))
	for _, g := range groupBy {
		if _, ok := in.Field(g); !ok {
			return nil, qerrors.NewFieldNotFound(g)
		}
		keys[g] = true
	}
	_, maxRows := input.Size()
	fields := make([]datatype.Field, len(aggregates))
	seen := make(map[string]bool, len(aggregates))
	var def strings.Builder
	fmt.Fprintf(&def, "%s|group %s", input.Name(), strings.Join(groupBy, ","))
	for i, a := range aggregates {
		if seen[a.Name] {
			return nil, qerrors.NewDuplicateName(a.Name)
		}
		seen[a.Name] = true
		field := datatype.Field{Name: a.Name}
		if a.Aggregate.Fn == expr.AggFirst {
			col, ok := expr.IsColumn(a.Aggregate.Arg)
			if !ok || !keys[col] {
				return nil, qerrors.NewTypeMismatch("%s is not a group key", a.Aggregate.Arg)
			}
			if len(groupBy) == 1 {
				field.Constraint = datatype.ConstraintUnique
			}
		}
		t, err := expr.AggregateType(a.Aggregate, in.Struct(), maxRows)
		if err != nil {
			return nil, err
		}
		field.Type = t
		fields[i] = field
		fmt.Fprintf(&def, "|%s=%s", a.Name, aggregateKey(a.Aggregate))
	}
	r := &Reduce{Input: input, GroupBy: groupBy, Aggregates: aggregates}
	r.name = nodeName("reduce", def.String())
	r.schema = fields
	if len(groupBy) == 0 {
		r.setSize(1, 1)
	} else {
		min, max := input.Size()
		if min > 1 {
			min = 1
		}
		r.setSize(min, max)
	}
	return r, nil
}

func aggregateKey(a *expr.Aggregate) string {
	if a.Fn == expr.AggFirst {
		return "FIRST(" + a.Arg.String() + ")"
	}
	return a.String()
}

func (r *Reduce) Inputs() []Relation { return []Relation{r.Input} }

// IsGroupKey reports whether the named input column is a group key.
func (r *Reduce) IsGroupKey(name string) bool {
	for _, g := range r.GroupBy {
		if g == name {
			return true
		}
	}
	return false
}

// JoinKind is the join operator.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinLeft:
		return "LEFT"
	case JoinRight:
		return "RIGHT"
	case JoinFull:
		return "FULL"
	case JoinCross:
		return "CROSS"
	}
	return "INNER"
}

// JoinKey equates a left column with a right column.
type JoinKey struct {
	Left, Right string
}

// Join combines two relations on equality keys. LeftNames and RightNames
// give the output name of each input field.
type Join struct {
	base
	Left, Right Relation
	Kind        JoinKind
	On          []JoinKey
	LeftNames   []string
	RightNames  []string
}

// NewJoin builds a join. Right fields whose name is taken get prefixed with
// the right relation's short name, then numbered if still taken.
func NewJoin(left, right Relation, kind JoinKind, on []JoinKey) (*Join, error) {
	if err := checkJoinKeys(left, right, kind, on); err != nil {
		return nil, err
	}
	ls, rs := left.Schema(), right.Schema()
	var leftNames, rightNames []string
	taken := make(map[string]bool)
	for _, f := range ls {
		taken[f.Name] = true
		leftNames = append(leftNames, f.Name)
	}
	prefix := ShortName(right)
	for _, f := range rs {
		name := f.Name
		if taken[name] {
			name = prefix + "_" + f.Name
			for n := 2; taken[name]; n++ {
				name = fmt.Sprintf("%s_%s_%d", prefix, f.Name, n)
			}
		}
		taken[name] = true
		rightNames = append(rightNames, name)
	}
	return buildJoin(left, right, kind, on, leftNames, rightNames), nil
}

// NewJoinNamed builds a join with explicit output names for each side.
func NewJoinNamed(left, right Relation, kind JoinKind, on []JoinKey, leftNames, rightNames []string) (*Join, error) {
	if err := checkJoinKeys(left, right, kind, on); err != nil {
		return nil, err
	}
	if len(leftNames) != len(left.Schema()) || len(rightNames) != len(right.Schema()) {
		return nil, qerrors.NewSchemaMismatch("join output names do not match the inputs")
	}
	seen := make(map[string]bool)
	for _, n := range append(append([]string(nil), leftNames...), rightNames...) {
		if seen[n] {
			return nil, qerrors.NewDuplicateName(n)
		}
		seen[n] = true
	}
	return buildJoin(left, right, kind, on, leftNames, rightNames), nil
}

func checkJoinKeys(left, right Relation, kind JoinKind, on []JoinKey) error {
	if kind == JoinCross && len(on) > 0 {
		return qerrors.NewUnsupported("CROSS JOIN with ON keys")
	}
	for _, k := range on {
		lf, ok := left.Schema().Field(k.Left)
		if !ok {
			return qerrors.NewFieldNotFound(k.Left)
		}
		rf, ok := right.Schema().Field(k.Right)
		if !ok {
			return qerrors.NewFieldNotFound(k.Right)
		}
		if _, err := datatype.UnionOf(lf.Type, rf.Type); err != nil {
			return qerrors.NewTypeMismatch("cannot join %s on %s", lf, rf)
		}
	}
	return nil
}

// buildJoin assembles a join whose output names are already decided.
func buildJoin(left, right Relation, kind JoinKind, on []JoinKey, leftNames, rightNames []string) *Join {
	j := &Join{Left: left, Right: right, Kind: kind, On: on, LeftNames: leftNames, RightNames: rightNames}
	var fields []datatype.Field
	for i, f := range left.Schema() {
		t := f.Type
		if kind == JoinRight || kind == JoinFull {
			t = datatype.NewOptional(t)
		}
		fields = append(fields, datatype.Field{Name: leftNames[i], Type: t})
	}
	for i, f := range right.Schema() {
		t := f.Type
		if kind == JoinLeft || kind == JoinFull {
			t = datatype.NewOptional(t)
		}
		fields = append(fields, datatype.Field{Name: rightNames[i], Type: t})
	}
	keys := make([]string, len(on))
	for i, k := range on {
		keys[i] = k.Left + "=" + k.Right
	}
	j.name = nodeName("join", fmt.Sprintf("%s|%s|%s|%s|%s", left.Name(), kind, right.Name(),
		strings.Join(keys, ","), strings.Join(append(append([]string(nil), leftNames...), rightNames...), ",")))
	j.schema = fields
	j.setSize(joinSize(left, right, kind))
	return j
}

// OutputName maps a field of one join side to its output name.
func (j *Join) OutputName(right bool, field string) (string, bool) {
	side, names := j.Left.Schema(), j.LeftNames
	if right {
		side, names = j.Right.Schema(), j.RightNames
	}
	i := side.Index(field)
	if i < 0 {
		return "", false
	}
	return names[i], true
}

func joinSize(left, right Relation, kind JoinKind) (int64, int64) {
	lmin, lmax := left.Size()
	rmin, rmax := right.Size()
	max := mulSize(lmax, rmax)
	switch kind {
	case JoinLeft:
		return lmin, mulSize(lmax, maxSize(rmax, 1))
	case JoinRight:
		return rmin, mulSize(maxSize(lmax, 1), rmax)
	case JoinFull:
		return maxSize(lmin, rmin), addSize(mulSize(lmax, rmax), addSize(lmax, rmax))
	case JoinCross:
		return lmin * rmin, max
	}
	return 0, max
}

func (j *Join) Inputs() []Relation { return []Relation{j.Left, j.Right} }

// SetOp is a set operator.
type SetOp int

const (
	SetUnion SetOp = iota
	SetIntersect
	SetExcept
)

func (o SetOp) String() string {
	switch o {
	case SetIntersect:
		return "INTERSECT"
	case SetExcept:
		return "EXCEPT"
	}
	return "UNION"
}

// Set combines two relations of the same arity. Output fields are named
// after the left side.
type Set struct {
	base
	Op          SetOp
	All         bool
	Left, Right Relation
}

// NewSet builds a set operation, failing with SchemaMismatch when arities or
// types disagree.
func NewSet(op SetOp, all bool, left, right Relation) (*Set, error) {
	ls, rs := left.Schema(), right.Schema()
	if len(ls) != len(rs) {
		return nil, qerrors.NewSchemaMismatch("%s has %d columns, %s has %d", left.Name(), len(ls), right.Name(), len(rs))
	}
	fields := make([]datatype.Field, len(ls))
	for i := range ls {
		t, err := datatype.UnionOf(ls[i].Type, rs[i].Type)
		if err != nil {
			return nil, qerrors.NewSchemaMismatch("column %d: %s is not compatible with %s", i+1, ls[i].Type, rs[i].Type)
		}
		fields[i] = datatype.Field{Name: ls[i].Name, Type: t}
	}
	s := &Set{Op: op, All: all, Left: left, Right: right}
	s.name = nodeName("set", fmt.Sprintf("%s|%s|%t|%s", left.Name(), op, all, right.Name()))
	s.schema = fields
	lmin, lmax := left.Size()
	rmin, rmax := right.Size()
	switch {
	case op == SetUnion && all:
		s.setSize(lmin+rmin, addSize(lmax, rmax))
	case op == SetUnion:
		s.setSize(minSize(1, maxSize(lmin, rmin)), addSize(lmax, rmax))
	case op == SetIntersect:
		s.setSize(0, minBounded(lmax, rmax))
	default:
		s.setSize(0, lmax)
	}
	return s, nil
}

func (s *Set) Inputs() []Relation { return []Relation{s.Left, s.Right} }

// Values is a literal table.
type Values struct {
	base
	Fields []string
	Rows   [][]interface{}
}

// NewValues builds a literal relation. Column types enumerate the literals.
func NewValues(fields []string, rows [][]interface{}) (*Values, error) {
	types := make([]datatype.DataType, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			return nil, qerrors.NewDuplicateName(f)
		}
		seen[f] = true
	}
	var def strings.Builder
	def.WriteString(strings.Join(fields, ","))
	literals := make([][]interface{}, len(rows))
	for r, row := range rows {
		if len(row) != len(fields) {
			return nil, qerrors.NewSchemaMismatch("row has %d values, want %d", len(row), len(fields))
		}
		def.WriteString("|")
		literals[r] = make([]interface{}, len(row))
		for i, v := range row {
			lit := expr.Lit(v)
			literals[r][i] = lit.V
			def.WriteString(lit.String() + ",")
			t := expr.ValueType(lit.V)
			if types[i] == nil {
				types[i] = t
				continue
			}
			u, err := datatype.UnionOf(types[i], t)
			if err != nil {
				return nil, qerrors.NewSchemaMismatch("column %s mixes %s and %s", fields[i], types[i], t)
			}
			types[i] = u
		}
	}
	schema := make(Schema, len(fields))
	for i, f := range fields {
		t := types[i]
		if t == nil {
			t = datatype.Null{}
		}
		schema[i] = datatype.Field{Name: f, Type: t}
	}
	v := &Values{Fields: fields, Rows: literals}
	v.name = nodeName("values", def.String())
	v.schema = schema
	v.setSize(int64(len(rows)), int64(len(rows)))
	return v, nil
}

func (v *Values) Inputs() []Relation { return nil }

// SortKey orders by one input column.
type SortKey struct {
	Column string
	Desc   bool
}

// Sort orders its input. Keys always end with every remaining column in
// ascending order, which makes any later Limit deterministic.
type Sort struct {
	base
	Input Relation
	Keys  []SortKey
}

// NewSort builds an ordering.
func NewSort(input Relation, keys []SortKey) (*Sort, error) {
	in := input.Schema()
	used := make(map[string]bool)
	var all []SortKey
	for _, k := range keys {
		if _, ok := in.Field(k.Column); !ok {
			return nil, qerrors.NewFieldNotFound(k.Column)
		}
		if used[k.Column] {
			continue
		}
		used[k.Column] = true
		all = append(all, k)
	}
	for _, f := range in {
		if !used[f.Name] {
			all = append(all, SortKey{Column: f.Name})
		}
	}
	parts := make([]string, len(all))
	for i, k := range all {
		parts[i] = k.Column
		if k.Desc {
			parts[i] += " DESC"
		}
	}
	s := &Sort{Input: input, Keys: all}
	s.name = nodeName("sort", input.Name()+"|"+strings.Join(parts, ","))
	s.schema = in
	s.setSize(input.Size())
	return s, nil
}

func (s *Sort) Inputs() []Relation { return []Relation{s.Input} }

// Limit keeps at most Limit rows after skipping Offset. A negative Limit
// means no limit.
type Limit struct {
	base
	Input  Relation
	Limit  int64
	Offset int64
}

// NewLimit builds a row limit.
func NewLimit(input Relation, limit, offset int64) (*Limit, error) {
	if offset < 0 {
		return nil, qerrors.NewTypeMismatch("negative offset %d", offset)
	}
	l := &Limit{Input: input, Limit: limit, Offset: offset}
	l.name = nodeName("limit", fmt.Sprintf("%s|%d|%d", input.Name(), limit, offset))
	l.schema = input.Schema()
	min, max := input.Size()
	min = maxSize(min-offset, 0)
	if max != Unbounded {
		max = maxSize(max-offset, 0)
	}
	if limit >= 0 {
		min = minSize(min, limit)
		max = minBounded(max, limit)
	}
	l.setSize(min, max)
	return l, nil
}

func (l *Limit) Inputs() []Relation { return []Relation{l.Input} }

// ShortName is the table name for tables and the node name otherwise.
func ShortName(r Relation) string {
	if t, ok := r.(*Table); ok {
		return t.ShortName()
	}
	return r.Name()
}

func addSize(a, b int64) int64 {
	if a == Unbounded || b == Unbounded {
		return Unbounded
	}
	return datatype.SaturateInt(float64(a) + float64(b))
}

func mulSize(a, b int64) int64 {
	if a == Unbounded || b == Unbounded {
		return Unbounded
	}
	return datatype.SaturateInt(float64(a) * float64(b))
}

func maxSize(a, b int64) int64 {
	if a == Unbounded || b == Unbounded {
		return Unbounded
	}
	if a > b {
		return a
	}
	return b
}

func minSize(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// minBounded is the smaller bound, treating Unbounded as infinite.
func minBounded(a, b int64) int64 {
	switch {
	case a == Unbounded:
		return b
	case b == Unbounded:
		return a
	}
	return minSize(a, b)
}
