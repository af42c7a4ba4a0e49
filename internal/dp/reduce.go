package dp

import (
	"fmt"
	"math"

	"github.com/golang/glog"
	"github.com/google/differential-privacy/go/v2/noise"

	"github.com/qrlew/qrlew-go/internal/datatype"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/expr"
	"github.com/qrlew/qrlew-go/internal/privacy"
	"github.com/qrlew/qrlew-go/internal/relation"
)

// Intermediate column names of a DP reduce.
const (
	keyColumn       = "_DP_KEY_%d"
	argColumn       = "_DP_ARG_%d"
	aggColumn       = "_DP_AGG_%d"
	exactColumn     = "_DP_EXACT_%d"
	partitionColumn = "_DP_PARTITION_%d"
	unitsColumn     = "_DP_UNITS_"
)

type outputKind int

const (
	outKey outputKind = iota
	outExact
	outNoisy
	outAvg
)

// measure is one noisy aggregate.
type measure struct {
	column      string
	aggregate   *expr.Aggregate
	sensitivity float64
}

// output is one aggregate of the original reduce.
type output struct {
	name   string
	field  datatype.Field
	kind   outputKind
	key    int // group key index for outKey and outExact
	source string
	// measures are the noisy inputs: one, or the sum then the count of an AVG.
	measures []int
}

// accountant collects the events of a plan and their exact cost.
type accountant struct {
	events []Event
	spent  Budget
}

func (a *accountant) record(e Event, epsilon, delta float64) {
	a.events = append(a.events, e)
	a.spent.Epsilon += epsilon
	a.spent.Delta += delta
}

// reduce turns node, whose tracked input holds at most m rows per unit
// once capped, into a differentially private aggregation spending slice.
func (w *Rewriter) reduce(node *relation.Reduce, input relation.Relation, m int64, slice Budget, acc *accountant) (relation.Relation, error) {
	capped, err := privacy.Cap(input, m)
	if err != nil {
		return nil, err
	}
	mult := float64(m)
	pre := make([]relation.NamedExpr, 0, len(node.GroupBy)+len(node.Aggregates)+1)
	var inner []relation.NamedAggregate
	for i, g := range node.GroupBy {
		pre = append(pre, relation.NamedExpr{Name: g, Expr: expr.Col(g)})
		inner = append(inner, relation.NamedAggregate{
			Name:      fmt.Sprintf(keyColumn, i),
			Aggregate: &expr.Aggregate{Fn: expr.AggFirst, Arg: expr.Col(g)},
		})
	}
	pre = append(pre, relation.NamedExpr{Name: privacy.IDColumn, Expr: expr.Col(privacy.IDColumn)})

	var (
		outputs  []output
		measures []measure
	)
	addMeasure := func(fn string, arg expr.Expr, distinct bool, sensitivity float64) int {
		col := fmt.Sprintf(aggColumn, len(measures))
		measures = append(measures, measure{
			column:      col,
			aggregate:   &expr.Aggregate{Fn: fn, Arg: arg, Distinct: distinct},
			sensitivity: sensitivity,
		})
		inner = append(inner, relation.NamedAggregate{Name: col, Aggregate: measures[len(measures)-1].aggregate})
		return len(measures) - 1
	}
	schema := node.Schema()
	for i, a := range node.Aggregates {
		o := output{name: a.Name, field: schema[i]}
		agg := a.Aggregate
		switch agg.Fn {
		case expr.AggFirst, expr.AggMin, expr.AggMax:
			col, ok := expr.IsColumn(agg.Arg)
			if !ok || !node.IsGroupKey(col) {
				return nil, qerrors.NewUnreachable("%s is not a group key", agg)
			}
			o.key = indexOf(node.GroupBy, col)
			o.kind, o.source = outKey, fmt.Sprintf(keyColumn, o.key)
			if agg.Fn != expr.AggFirst {
				o.kind, o.source = outExact, fmt.Sprintf(exactColumn, i)
				inner = append(inner, relation.NamedAggregate{
					Name:      o.source,
					Aggregate: &expr.Aggregate{Fn: agg.Fn, Arg: expr.Col(col)},
				})
			}
		case expr.AggCount:
			var arg expr.Expr
			if agg.Arg != nil {
				name := fmt.Sprintf(argColumn, i)
				pre = append(pre, relation.NamedExpr{Name: name, Expr: agg.Arg})
				arg = expr.Col(name)
			}
			o.kind = outNoisy
			o.measures = []int{addMeasure(expr.AggCount, arg, agg.Distinct, mult)}
		case expr.AggSum, expr.AggAvg:
			iv, err := argBounds(input, agg.Arg)
			if err != nil {
				return nil, err
			}
			name := fmt.Sprintf(argColumn, i)
			pre = append(pre, relation.NamedExpr{Name: name, Expr: expr.Clamp(agg.Arg, iv.Lo, iv.Hi)})
			o.kind = outNoisy
			o.measures = []int{addMeasure(expr.AggSum, expr.Col(name), agg.Distinct, mult*iv.MaxAbs())}
			if agg.Fn == expr.AggAvg {
				o.kind = outAvg
				o.measures = append(o.measures, addMeasure(expr.AggCount, expr.Col(name), agg.Distinct, mult))
			}
		default:
			return nil, qerrors.NewUnreachable("%s has no differentially private version", agg.Fn)
		}
		outputs = append(outputs, o)
	}

	partitions, public := publicPartitions(input.Schema(), node.GroupBy)
	thresholded := len(node.GroupBy) > 0 && !public

	aggBudget, tauBudget := slice, Budget{}
	if thresholded {
		if len(measures) == 0 {
			aggBudget, tauBudget = Budget{}, slice
		} else {
			share := w.Params.TauThresholdingShare
			tauBudget.Epsilon = share * slice.Epsilon
			aggBudget.Epsilon = slice.Epsilon - tauBudget.Epsilon
			if w.Params.Mechanism == MechanismLaplace {
				tauBudget.Delta, aggBudget.Delta = slice.Delta, 0
			} else {
				tauBudget.Delta = share * slice.Delta
				aggBudget.Delta = slice.Delta - tauBudget.Delta
			}
		}
	}

	var filter expr.Expr
	if thresholded {
		if tauBudget.Delta <= 0 {
			return nil, qerrors.NewInsufficientBudget("%s needs a positive delta to threshold its groups", node.Name())
		}
		tau, err := noise.Laplace().Threshold(m, 1, tauBudget.Epsilon, 0, tauBudget.Delta)
		if err != nil {
			return nil, insufficient(node, err)
		}
		if _, maxRows := input.Size(); maxRows != relation.Unbounded && tau > float64(maxRows) {
			return nil, qerrors.NewInsufficientBudget("%s: threshold %.1f exceeds the %d input rows", node.Name(), tau, maxRows)
		}
		inner = append(inner, relation.NamedAggregate{
			Name:      unitsColumn,
			Aggregate: &expr.Aggregate{Fn: expr.AggCount, Arg: expr.Col(privacy.IDColumn), Distinct: true},
		})
		filter = expr.Call(expr.FnGe,
			expr.Call(expr.FnPlus, expr.Col(unitsColumn), expr.LaplaceNoise(mult/tauBudget.Epsilon)),
			expr.Lit(tau))
		acc.record(EpsilonDelta{Epsilon: tauBudget.Epsilon, Delta: tauBudget.Delta}, tauBudget.Epsilon, tauBudget.Delta)
		glog.V(1).Infof("dp: %s thresholds groups at %.2f with (%g, %g)", node.Name(), tau, tauBudget.Epsilon, tauBudget.Delta)
	}

	preMap, err := relation.NewMap(capped, pre, nil)
	if err != nil {
		return nil, err
	}
	aggregated, err := relation.NewReduce(preMap, node.GroupBy, inner)
	if err != nil {
		return nil, err
	}

	// source resolves inner columns against the relation the final Map reads.
	var source relation.Relation = aggregated
	keyOf := func(j int) expr.Expr { return expr.Col(fmt.Sprintf(keyColumn, j)) }
	valueOf := func(col string) expr.Expr { return expr.Col(col) }
	if public {
		names := make([]string, len(node.GroupBy))
		on := make([]relation.JoinKey, len(node.GroupBy))
		for j := range node.GroupBy {
			names[j] = fmt.Sprintf(partitionColumn, j)
			on[j] = relation.JoinKey{Left: names[j], Right: fmt.Sprintf(keyColumn, j)}
		}
		values, err := relation.NewValues(names, partitions)
		if err != nil {
			return nil, err
		}
		joined, err := relation.NewJoinNamed(values, aggregated, relation.JoinLeft, on, names, aggregated.Schema().Names())
		if err != nil {
			return nil, err
		}
		source = joined
		keyOf = func(j int) expr.Expr { return expr.Col(names[j]) }
		innerSchema := aggregated.Schema()
		valueOf = func(col string) expr.Expr {
			f, _ := innerSchema.Field(col)
			t, _ := datatype.Unwrap(f.Type)
			var zero interface{} = int64(0)
			if _, ok := t.(datatype.Float); ok {
				zero = 0.0
			}
			return expr.Call(expr.FnCoalesce, expr.Col(col), expr.Lit(zero))
		}
		glog.V(1).Infof("dp: %s releases %d public partitions", node.Name(), len(partitions))
	}

	noisy := make([]expr.Expr, len(measures))
	if len(measures) > 0 {
		per := Budget{
			Epsilon: aggBudget.Epsilon / float64(len(measures)),
			Delta:   aggBudget.Delta / float64(len(measures)),
		}
		if per.Epsilon < MinMechanismEpsilon {
			return nil, qerrors.NewInsufficientBudget("%s: epsilon %g per aggregate is below %g", node.Name(), per.Epsilon, MinMechanismEpsilon)
		}
		innerSchema := aggregated.Schema()
		for i, ms := range measures {
			f, _ := innerSchema.Field(ms.column)
			noiseExpr, err := w.mechanism(node, ms, f.Type, per, acc)
			if err != nil {
				return nil, err
			}
			noisy[i] = valueOf(ms.column)
			if noiseExpr != nil {
				noisy[i] = expr.Call(expr.FnPlus, noisy[i], noiseExpr)
			}
		}
	}

	projections := make([]relation.NamedExpr, len(outputs))
	for i, o := range outputs {
		var e expr.Expr
		switch o.kind {
		case outKey:
			e = keyOf(o.key)
		case outExact:
			e = expr.Col(o.source)
			if public {
				// MIN and MAX of a group key are the key itself.
				e = keyOf(o.key)
			}
		case outNoisy:
			e = bounded(noisy[o.measures[0]], o.field.Type)
		case outAvg:
			count := expr.Call(expr.FnGreatest, noisy[o.measures[1]], expr.Lit(1.0))
			e = bounded(expr.Call(expr.FnDivide, noisy[o.measures[0]], count), o.field.Type)
		}
		projections[i] = relation.NamedExpr{Name: o.name, Expr: e}
	}
	return relation.NewMap(source, projections, filter)
}

// mechanism returns the noise added to ms, or nil when its sensitivity is
// zero, and records its event.
func (w *Rewriter) mechanism(node *relation.Reduce, ms measure, t datatype.DataType, per Budget, acc *accountant) (expr.Expr, error) {
	delta := ms.sensitivity
	if delta == 0 {
		return nil, nil
	}
	if math.IsInf(delta, 0) || math.IsNaN(delta) {
		return nil, qerrors.NewUnreachable("%s: %s has unbounded sensitivity", node.Name(), ms.aggregate)
	}
	gaussian := w.Params.Mechanism == MechanismGaussian && per.Delta > 0 && per.Epsilon < 1
	var (
		ci  noise.ConfidenceInterval
		err error
		e   expr.Expr
	)
	if gaussian {
		sigma := delta * math.Sqrt(2*math.Log(1.25/per.Delta)) / per.Epsilon
		ci, err = noise.Gaussian().ComputeConfidenceIntervalFloat64(0, 1, delta, per.Epsilon, per.Delta, ConfidenceAlpha)
		e = expr.GaussianNoise(sigma)
		acc.record(Gaussian{NoiseMultiplier: sigma / delta}, per.Epsilon, per.Delta)
	} else {
		ci, err = noise.Laplace().ComputeConfidenceIntervalFloat64(0, 1, delta, per.Epsilon, 0, ConfidenceAlpha)
		e = expr.LaplaceNoise(delta / per.Epsilon)
		acc.record(Laplace{NoiseMultiplier: 1 / per.Epsilon}, per.Epsilon, 0)
	}
	if err != nil {
		return nil, insufficient(node, err)
	}
	if iv, ok := datatype.BoundsOf(t); ok && finite(iv) {
		if half := (ci.UpperBound - ci.LowerBound) / 2; half > iv.Width() {
			return nil, qerrors.NewInsufficientBudget("%s: %s noise of %.3g exceeds its range %.3g",
				node.Name(), ms.aggregate, half, iv.Width())
		}
	}
	glog.V(2).Infof("dp: %s %s sensitivity %g epsilon %g gaussian %t", node.Name(), ms.aggregate, delta, per.Epsilon, gaussian)
	return e, nil
}

// bounded clamps e to the range of the original aggregate type, rounding
// back to an integer when the original is one.
func bounded(e expr.Expr, original datatype.DataType) expr.Expr {
	iv, ok := datatype.BoundsOf(original)
	if ok {
		e = clampTo(e, iv)
	}
	if inner, _ := datatype.Unwrap(original); isInteger(inner) {
		e = expr.RoundToInteger(e)
	}
	return e
}

func isInteger(t datatype.DataType) bool {
	_, ok := t.(datatype.Integer)
	return ok
}

// publicPartitions enumerates the cross product of the group keys when every
// key has a declared finite domain of at most MaxPublicPartitions values.
func publicPartitions(schema relation.Schema, groupBy []string) ([][]interface{}, bool) {
	if len(groupBy) == 0 {
		return nil, false
	}
	rows := [][]interface{}{{}}
	for _, g := range groupBy {
		f, ok := schema.Field(g)
		if !ok {
			return nil, false
		}
		domain := enumerate(f.Type)
		if len(domain) == 0 || len(rows)*len(domain) > MaxPublicPartitions {
			return nil, false
		}
		next := make([][]interface{}, 0, len(rows)*len(domain))
		for _, row := range rows {
			for _, v := range domain {
				next = append(next, append(append([]interface{}(nil), row...), v))
			}
		}
		rows = next
	}
	return rows, true
}

// enumerate lists the declared values of t. NULL is not a partition.
func enumerate(t datatype.DataType) []interface{} {
	inner, _ := datatype.Unwrap(t)
	var out []interface{}
	switch x := inner.(type) {
	case datatype.Integer:
		for _, v := range x.PossibleValues {
			out = append(out, v)
		}
	case datatype.Text:
		for _, v := range x.PossibleValues {
			out = append(out, v)
		}
	case datatype.Boolean:
		if len(x.PossibleValues) == 0 {
			return []interface{}{false, true}
		}
		for _, v := range x.PossibleValues {
			out = append(out, v)
		}
	}
	return out
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func insufficient(node *relation.Reduce, err error) error {
	return qerrors.NewInsufficientBudget("%s: %v", node.Name(), err)
}
