package dp

import (
	"github.com/golang/glog"

	"github.com/qrlew/qrlew-go/internal/dataset"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/privacy"
	"github.com/qrlew/qrlew-go/internal/relation"
)

// RelationWithDpEvent is a differentially private relation with the
// privacy it spends.
type RelationWithDpEvent struct {
	Relation relation.Relation
	Event    Event
	// Spent is the exact (epsilon, delta) of Event, each Gaussian charged at
	// its own delta.
	Spent Budget
}

// Rewriter compiles relations into differentially private ones.
type Rewriter struct {
	Dataset *dataset.Dataset
	Unit    *privacy.PrivacyUnit
	Params  Parameters
}

// NewRewriter validates the privacy unit against ds and the parameters.
func NewRewriter(ds *dataset.Dataset, pu *privacy.PrivacyUnit, params Parameters) (*Rewriter, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := pu.Validate(ds); err != nil {
		return nil, err
	}
	return &Rewriter{Dataset: ds, Unit: pu, Params: params}, nil
}

func (w *Rewriter) tracker(hook privacy.ReduceHook) *privacy.Rewriter {
	return &privacy.Rewriter{Dataset: w.Dataset, Unit: w.Unit, Params: w.Params.Privacy, OnReduce: hook}
}

// Rewrite makes every aggregation of protected data differentially private.
// The budget is split evenly between the aggregations; a plan releasing
// rows of a privacy unit is UnreachableProperty.
func (w *Rewriter) Rewrite(r relation.Relation) (*RelationWithDpEvent, error) {
	k := 0
	count := func(node *relation.Reduce, input relation.Relation, _ privacy.State, _ int64) (relation.Relation, privacy.State, error) {
		k++
		out, err := relation.NewReduce(input, node.GroupBy, node.Aggregates)
		return out, privacy.State{Kind: privacy.NotTracked}, err
	}
	out, st, _, err := w.tracker(count).Track(r)
	if err != nil {
		return nil, err
	}
	if st.IsTracked() {
		return nil, qerrors.NewUnreachable("%s releases rows of privacy unit %s", r.Name(), st.Unit)
	}
	if k == 0 {
		glog.V(1).Infof("dp: %s reads no protected data", r.Name())
		return &RelationWithDpEvent{Relation: out, Event: NoOp{}}, nil
	}

	slice := w.Params.Budget.split(k)
	glog.V(1).Infof("dp: %s has %d private aggregations, (%g, %g) each", r.Name(), k, slice.Epsilon, slice.Delta)
	acc := &accountant{}
	private := func(node *relation.Reduce, input relation.Relation, _ privacy.State, m int64) (relation.Relation, privacy.State, error) {
		out, err := w.reduce(node, input, m, slice, acc)
		return out, privacy.State{Kind: privacy.NotTracked}, err
	}
	out, _, _, err = w.tracker(private).Track(r)
	if err != nil {
		return nil, err
	}
	return &RelationWithDpEvent{Relation: out, Event: Composed{Events: acc.events}, Spent: acc.spent}, nil
}
