package privacy

import (
	"strings"

	"github.com/golang/glog"

	"github.com/qrlew/qrlew-go/internal/dataset"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/expr"
	"github.com/qrlew/qrlew-go/internal/relation"
)

// Internal column names used while joining towards the unit table and
// while capping.
const (
	pathKeyColumn = "_PRIVACY_UNIT_KEY_"
	foreignColumn = "_PRIVACY_UNIT_FK_"
	nextKeyColumn = "_PRIVACY_UNIT_NEXT_"
	rankColumn    = "_PRIVACY_UNIT_RANK_"
	leftIDColumn  = "_PRIVACY_UNIT_L_"
	leftWColumn   = "_PRIVACY_UNIT_WEIGHT_L_"
	rightIDColumn = "_PRIVACY_UNIT_R_"
	rightWColumn  = "_PRIVACY_UNIT_WEIGHT_R_"
	rowHashSep    = "|"
	rowUnitPrefix = RowKey + ":"
)

// ReduceHook rewrites a Reduce whose tracked input is not grouped by unit.
// input is the rewritten input, m the rows-per-unit bound of the plan.
type ReduceHook func(node *relation.Reduce, input relation.Relation, in State, m int64) (relation.Relation, State, error)

// Rewriter makes relations privacy unit preserving. A Rewriter holds no
// per-call state and may be shared.
type Rewriter struct {
	Dataset *dataset.Dataset
	Unit    *PrivacyUnit
	Params  Parameters
	// OnReduce replaces the Strategy for reduces not grouped by unit.
	OnReduce ReduceHook
}

// NewRewriter validates the privacy unit against ds and the parameters.
func NewRewriter(ds *dataset.Dataset, pu *PrivacyUnit, params Parameters) (*Rewriter, error) {
	if err := pu.Validate(ds); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Rewriter{Dataset: ds, Unit: pu, Params: params}, nil
}

// Result is a privacy unit preserving relation. Its fields are the original
// ones followed by IDColumn and WeightColumn, and no IDColumn value occurs on
// more than MaxMultiplicity rows.
type Result struct {
	Relation        relation.Relation
	MaxMultiplicity int64
	Unit            string
}

// Rewrite tracks units through r, lifts an untracked root to one unit per
// row and caps the rows of each unit.
func (w *Rewriter) Rewrite(r relation.Relation) (*Result, error) {
	out, st, m, err := w.Track(r)
	if err != nil {
		return nil, err
	}
	if !st.IsTracked() {
		if out, err = liftRows(out); err != nil {
			return nil, err
		}
		st = tracked(rowUnitPrefix+r.Name(), "")
	}
	capped, err := Cap(out, m)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("privacy: %s rewritten as %s, at most %d rows per unit", r.Name(), st, m)
	return &Result{Relation: capped, MaxMultiplicity: m, Unit: st.Unit}, nil
}

// Track rewrites r bottom-up, returning the rewritten root, its state and
// the rows-per-unit bound. No capping is applied.
func (w *Rewriter) Track(r relation.Relation) (relation.Relation, State, int64, error) {
	r, synthetic, err := w.substituteSynthetic(r)
	if err != nil {
		return nil, State{}, 0, err
	}
	p := &pass{Rewriter: w, synthetic: synthetic, states: make(map[relation.Relation]State)}
	p.m = w.Params.Multiplicity(p.sizeMax(r))
	out, err := relation.Transform(r, p.node)
	if err != nil {
		return nil, State{}, 0, err
	}
	return out, p.states[out], p.m, nil
}

func (w *Rewriter) substituteSynthetic(r relation.Relation) (relation.Relation, map[string]bool, error) {
	synthetic := make(map[string]bool)
	if len(w.Params.SyntheticData) == 0 {
		return r, synthetic, nil
	}
	subs := make([]relation.Substitution, len(w.Params.SyntheticData))
	for i, pair := range w.Params.SyntheticData {
		t, err := w.Dataset.ResolveTable(pair.Synthetic)
		if err != nil {
			return nil, nil, err
		}
		synthetic[t.Name()] = true
		subs[i] = relation.Substitution{Path: pair.Original, Relation: t}
	}
	out, err := relation.Compose(r, subs)
	if err != nil {
		return nil, nil, err
	}
	return out, synthetic, nil
}

// pass is the state of one traversal.
type pass struct {
	*Rewriter
	synthetic map[string]bool
	states    map[relation.Relation]State
	m         int64
}

// sizeMax is the largest protected table of r, Unbounded if any protected
// table is, or the size of r when nothing is protected.
func (p *pass) sizeMax(r relation.Relation) int64 {
	var max int64
	found := false
	for _, n := range relation.PostOrder(r) {
		t, ok := n.(*relation.Table)
		if !ok || !p.protects(t) {
			continue
		}
		_, size := t.Size()
		if size == relation.Unbounded {
			return relation.Unbounded
		}
		found = true
		if size > max {
			max = size
		}
	}
	if !found {
		_, max = r.Size()
	}
	return max
}

func (p *pass) protects(t *relation.Table) bool {
	if p.synthetic[t.Name()] || (p.Dataset != nil && p.Dataset.IsPublic(t.Path)) {
		return false
	}
	_, ok := p.Unit.Entry(t)
	return ok
}

func (p *pass) node(n relation.Relation, inputs []relation.Relation) (relation.Relation, error) {
	var (
		out relation.Relation
		st  State
		err error
	)
	switch x := n.(type) {
	case *relation.Table:
		out, st, err = p.table(x)
	case *relation.Map:
		out, st, err = p.mapNode(x, inputs[0])
	case *relation.Reduce:
		out, st, err = p.reduce(x, inputs[0])
	case *relation.Join:
		out, st, err = p.join(x, inputs[0], inputs[1])
	case *relation.Set:
		out, st, err = p.set(x, inputs[0], inputs[1])
	case *relation.Sort, *relation.Limit:
		out, err = relation.Rebuild(n, inputs)
		st = p.states[inputs[0]]
	case *relation.Values:
		out, st = x, notTracked()
	default:
		return nil, qerrors.NewInternalError("unknown relation "+n.Name(), nil)
	}
	if err != nil {
		return nil, err
	}
	if st.Kind == Unreachable {
		return nil, qerrors.NewUnreachable("%s: %s", n.Name(), st.Reason)
	}
	glog.V(2).Infof("privacy: %s is %s", n.Name(), st)
	p.states[out] = st
	return out, nil
}

func (p *pass) table(t *relation.Table) (relation.Relation, State, error) {
	if !p.protects(t) {
		return t, notTracked(), nil
	}
	e, _ := p.Unit.Entry(t)
	cur, keyCol, err := p.followPath(t, e)
	if err != nil {
		return nil, State{}, err
	}
	var id expr.Expr
	switch {
	case e.Key == RowKey:
		id = rowHash(t.Schema())
	case p.Unit.GroupLevel:
		id = expr.Cast(expr.Col(keyCol), expr.TypeText)
	default:
		id = expr.Call(expr.FnMd5, expr.Cast(expr.Col(keyCol), expr.TypeText))
	}
	var weight expr.Expr = expr.Lit(1.0)
	if e.Weight != "" {
		weight = expr.Cast(expr.Col(e.Weight), expr.TypeFloat)
	}
	projections := append(relation.Identity(t),
		relation.NamedExpr{Name: IDColumn, Expr: id},
		relation.NamedExpr{Name: WeightColumn, Expr: weight})
	out, err := relation.NewMap(cur, projections, nil)
	if err != nil {
		return nil, State{}, err
	}
	// After a one step path the local key equals the unit key.
	keyField := ""
	switch {
	case e.Key == RowKey:
	case len(e.Path) == 0:
		keyField = e.Key
	case len(e.Path) == 1:
		keyField = e.Path[0].LocalKey
	}
	return out, tracked(e.Unit(), keyField), nil
}

// followPath joins t with the tables along e.Path, returning the joined
// relation and the column holding the unit key.
func (p *pass) followPath(t *relation.Table, e Entry) (relation.Relation, string, error) {
	if len(e.Path) == 0 {
		return t, e.Key, nil
	}
	var cur relation.Relation = t
	local := e.Path[0].LocalKey
	for i, s := range e.Path {
		ft, err := p.Dataset.ResolveTable(strings.Split(s.ForeignTable, "."))
		if err != nil {
			return nil, "", qerrors.NewInvalidPrivacyUnit("table %s does not resolve: %v", s.ForeignTable, err)
		}
		next := e.Key
		if i+1 < len(e.Path) {
			next = e.Path[i+1].LocalKey
		}
		foreign, err := relation.NewMap(ft, []relation.NamedExpr{
			{Name: foreignColumn, Expr: expr.Col(s.ForeignKey)},
			{Name: nextKeyColumn, Expr: expr.Col(next)},
		}, nil)
		if err != nil {
			return nil, "", err
		}
		j, err := relation.NewJoinNamed(cur, foreign, relation.JoinInner,
			[]relation.JoinKey{{Left: local, Right: foreignColumn}},
			cur.Schema().Names(), []string{foreignColumn, nextKeyColumn})
		if err != nil {
			return nil, "", err
		}
		projections := append(relation.Identity(t), relation.NamedExpr{Name: pathKeyColumn, Expr: expr.Col(nextKeyColumn)})
		if cur, err = relation.NewMap(j, projections, nil); err != nil {
			return nil, "", err
		}
		local = pathKeyColumn
	}
	return cur, pathKeyColumn, nil
}

func (p *pass) mapNode(m *relation.Map, input relation.Relation) (relation.Relation, State, error) {
	st := p.states[input]
	if !st.IsTracked() {
		out, err := relation.Rebuild(m, []relation.Relation{input})
		return out, st, err
	}
	keyField := ""
	projections := make([]relation.NamedExpr, 0, len(m.Projections)+2)
	for _, pr := range m.Projections {
		if col, ok := expr.IsColumn(pr.Expr); ok && col == st.KeyField && keyField == "" {
			keyField = pr.Name
		}
		projections = append(projections, pr)
	}
	projections = append(projections,
		relation.NamedExpr{Name: IDColumn, Expr: expr.Col(st.ID)},
		relation.NamedExpr{Name: WeightColumn, Expr: expr.Col(st.Weight)})
	out, err := relation.NewMap(input, projections, m.Filter)
	if err != nil {
		return nil, State{}, err
	}
	return out, tracked(st.Unit, keyField), nil
}

func (p *pass) reduce(r *relation.Reduce, input relation.Relation) (relation.Relation, State, error) {
	st := p.states[input]
	if !st.IsTracked() {
		out, err := relation.Rebuild(r, []relation.Relation{input})
		return out, st, err
	}
	if uniqueGroupKey(r, input) {
		// Every group is a single input row.
		aggregates := append(append([]relation.NamedAggregate(nil), r.Aggregates...),
			relation.NamedAggregate{Name: IDColumn, Aggregate: &expr.Aggregate{Fn: expr.AggMin, Arg: expr.Col(st.ID)}},
			relation.NamedAggregate{Name: WeightColumn, Aggregate: &expr.Aggregate{Fn: expr.AggMax, Arg: expr.Col(st.Weight)}})
		out, err := relation.NewReduce(input, r.GroupBy, aggregates)
		if err != nil {
			return nil, State{}, err
		}
		return out, tracked(st.Unit, firstOf(r, st.KeyField)), nil
	}
	groupedByKey := st.KeyField != "" && r.IsGroupKey(st.KeyField)
	if !groupedByKey {
		if p.OnReduce != nil {
			return p.OnReduce(r, input, st, p.m)
		}
		if p.Params.Strategy == Hard {
			return nil, unreachable("aggregation is not grouped by the privacy unit"), nil
		}
		glog.Warningf("privacy: %s aggregates per privacy unit", r.Name())
	}
	return groupByUnit(r, input, st)
}

// groupByUnit adds the unit id to the group keys.
func groupByUnit(r *relation.Reduce, input relation.Relation, st State) (relation.Relation, State, error) {
	groupBy := append(append([]string(nil), r.GroupBy...), st.ID)
	aggregates := append(append([]relation.NamedAggregate(nil), r.Aggregates...),
		relation.NamedAggregate{Name: IDColumn, Aggregate: &expr.Aggregate{Fn: expr.AggFirst, Arg: expr.Col(st.ID)}},
		relation.NamedAggregate{Name: WeightColumn, Aggregate: &expr.Aggregate{Fn: expr.AggMax, Arg: expr.Col(st.Weight)}})
	out, err := relation.NewReduce(input, groupBy, aggregates)
	if err != nil {
		return nil, State{}, err
	}
	return out, tracked(st.Unit, firstOf(r, st.KeyField)), nil
}

// uniqueGroupKey reports whether a group key is UNIQUE in the input. Only
// tables, column projections of a Map, Sort, Limit and single-key Reduce
// outputs carry constraints; joins and set operations drop them.
func uniqueGroupKey(r *relation.Reduce, input relation.Relation) bool {
	for _, g := range r.GroupBy {
		if f, ok := input.Schema().Field(g); ok && f.Constraint.IsUnique() {
			return true
		}
	}
	return false
}

// firstOf returns the output passing column through, or "".
func firstOf(r *relation.Reduce, column string) string {
	if column == "" {
		return ""
	}
	for _, a := range r.Aggregates {
		if a.Aggregate.Fn != expr.AggFirst {
			continue
		}
		if col, ok := expr.IsColumn(a.Aggregate.Arg); ok && col == column {
			return a.Name
		}
	}
	return ""
}

func (p *pass) join(j *relation.Join, left, right relation.Relation) (relation.Relation, State, error) {
	ls, rs := p.states[left], p.states[right]
	if !ls.IsTracked() && !rs.IsTracked() {
		out, err := relation.Rebuild(j, []relation.Relation{left, right})
		return out, notTracked(), err
	}
	kind, on := j.Kind, j.On
	leftNames := append([]string(nil), j.LeftNames...)
	rightNames := append([]string(nil), j.RightNames...)
	if ls.IsTracked() {
		leftNames = append(leftNames, leftIDColumn, leftWColumn)
	}
	if rs.IsTracked() {
		rightNames = append(rightNames, rightIDColumn, rightWColumn)
	}
	var id, weight expr.Expr
	var st State
	switch {
	case ls.IsTracked() && rs.IsTracked():
		if ls.Unit != rs.Unit {
			return nil, State{}, qerrors.NewIncompatibleUnit("cannot join units %s and %s", ls.Unit, rs.Unit)
		}
		if p.Params.Strategy == Hard && !joinsOnKeys(j, ls, rs) {
			return nil, unreachable("join does not equate the privacy unit keys"), nil
		}
		if kind == relation.JoinCross {
			kind = relation.JoinInner
		}
		on = append(append([]relation.JoinKey(nil), on...), relation.JoinKey{Left: ls.ID, Right: rs.ID})
		if kind == relation.JoinInner {
			id = expr.Col(leftIDColumn)
			weight = expr.Call(expr.FnMultiply, expr.Col(leftWColumn), expr.Col(rightWColumn))
		} else {
			id = expr.Call(expr.FnCoalesce, expr.Col(leftIDColumn), expr.Col(rightIDColumn))
			weight = expr.Call(expr.FnMultiply,
				expr.Call(expr.FnCoalesce, expr.Col(leftWColumn), expr.Lit(1.0)),
				expr.Call(expr.FnCoalesce, expr.Col(rightWColumn), expr.Lit(1.0)))
		}
		keyField, _ := j.OutputName(false, ls.KeyField)
		st = tracked(ls.Unit, keyField)
	case ls.IsTracked():
		id, weight = expr.Col(leftIDColumn), expr.Col(leftWColumn)
		keyField, _ := j.OutputName(false, ls.KeyField)
		st = tracked(ls.Unit, keyField)
	default:
		id, weight = expr.Col(rightIDColumn), expr.Col(rightWColumn)
		keyField, _ := j.OutputName(true, rs.KeyField)
		st = tracked(rs.Unit, keyField)
	}
	joined, err := relation.NewJoinNamed(left, right, kind, on, leftNames, rightNames)
	if err != nil {
		return nil, State{}, err
	}
	projections := make([]relation.NamedExpr, 0, len(j.Schema())+2)
	for _, f := range j.Schema() {
		projections = append(projections, relation.NamedExpr{Name: f.Name, Expr: expr.Col(f.Name)})
	}
	projections = append(projections,
		relation.NamedExpr{Name: IDColumn, Expr: id},
		relation.NamedExpr{Name: WeightColumn, Expr: weight})
	out, err := relation.NewMap(joined, projections, nil)
	if err != nil {
		return nil, State{}, err
	}
	return out, st, nil
}

// joinsOnKeys reports whether the join already equates both unit keys.
func joinsOnKeys(j *relation.Join, ls, rs State) bool {
	if ls.KeyField == "" || rs.KeyField == "" {
		return false
	}
	for _, k := range j.On {
		if k.Left == ls.KeyField && k.Right == rs.KeyField {
			return true
		}
	}
	return false
}

func (p *pass) set(s *relation.Set, left, right relation.Relation) (relation.Relation, State, error) {
	ls, rs := p.states[left], p.states[right]
	switch {
	case !ls.IsTracked() && !rs.IsTracked():
		out, err := relation.Rebuild(s, []relation.Relation{left, right})
		return out, notTracked(), err
	case ls.IsTracked() && rs.IsTracked():
		if ls.Unit != rs.Unit {
			return nil, State{}, qerrors.NewIncompatibleUnit("cannot combine units %s and %s", ls.Unit, rs.Unit)
		}
	case p.Params.Strategy == Hard:
		return nil, unreachable("%s mixes tracked and public rows", s.Op), nil
	default:
		glog.Warningf("privacy: %s gives each public row its own unit", s.Name())
		var err error
		if ls.IsTracked() {
			right, err = liftRows(right)
		} else {
			left, err = liftRows(left)
			ls = rs
		}
		if err != nil {
			return nil, State{}, err
		}
	}
	out, err := relation.NewSet(s.Op, s.All, left, right)
	if err != nil {
		return nil, State{}, err
	}
	return out, tracked(ls.Unit, ""), nil
}

// liftRows makes every row of r its own unit.
func liftRows(r relation.Relation) (relation.Relation, error) {
	projections := append(relation.Identity(r),
		relation.NamedExpr{Name: IDColumn, Expr: rowHash(r.Schema())},
		relation.NamedExpr{Name: WeightColumn, Expr: expr.Lit(1.0)})
	return relation.NewMap(r, projections, nil)
}

// rowHash is the MD5 of every column of a row rendered as text.
func rowHash(schema relation.Schema) expr.Expr {
	var text expr.Expr
	for _, f := range schema {
		col := expr.Call(expr.FnCoalesce, expr.Cast(expr.Col(f.Name), expr.TypeText), expr.Lit(""))
		if text == nil {
			text = col
			continue
		}
		text = expr.Call(expr.FnConcatOp, expr.Call(expr.FnConcatOp, text, expr.Lit(rowHashSep)), col)
	}
	if text == nil {
		text = expr.Lit("")
	}
	return expr.Call(expr.FnMd5, text)
}

// Cap keeps at most m rows per IDColumn value of r, chosen at random.
func Cap(r relation.Relation, m int64) (relation.Relation, error) {
	rank := &expr.RowNumber{
		PartitionBy: []expr.Expr{expr.Col(IDColumn)},
		OrderBy:     []expr.OrderKey{{Expr: expr.Call(expr.FnRandom)}},
	}
	ranked, err := relation.NewMap(r, append(relation.Identity(r), relation.NamedExpr{Name: rankColumn, Expr: rank}), nil)
	if err != nil {
		return nil, err
	}
	return relation.NewMap(ranked, relation.Identity(r), expr.Call(expr.FnLe, expr.Col(rankColumn), expr.Lit(m)))
}
