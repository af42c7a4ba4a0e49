// Package qrlew is the public API of the rewriting engine. It turns SQL
// queries over a described dataset into privacy unit preserving or
// differentially private equivalents.
//
// Datasets and relations are immutable and safe for concurrent use.
package qrlew

import (
	"github.com/qrlew/qrlew-go/internal/dataset"
	"github.com/qrlew/qrlew-go/internal/dialect"
	"github.com/qrlew/qrlew-go/internal/dp"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/privacy"
	"github.com/qrlew/qrlew-go/internal/relation"
	"github.com/qrlew/qrlew-go/internal/sql/parser"
)

// Dialect is a SQL dialect.
type Dialect = dialect.Dialect

// Supported dialects.
const (
	PostgreSql  = dialect.PostgreSql
	MsSql       = dialect.MsSql
	BigQuery    = dialect.BigQuery
	MySql       = dialect.MySql
	Hive        = dialect.Hive
	Databricks  = dialect.Databricks
	RedshiftSql = dialect.RedshiftSql
	SQLite      = dialect.SQLite
)

// ParseDialect reads a dialect name; the empty name is PostgreSql.
func ParseDialect(name string) (Dialect, error) {
	return dialect.Parse(name)
}

// Strategy decides what happens where a plan loses track of privacy units.
type Strategy = privacy.Strategy

const (
	// Hard fails with an UNREACHABLE_PROPERTY error.
	Hard = privacy.Hard
	// Soft bounds the rows per unit at the cost of fidelity.
	Soft = privacy.Soft
)

// PrivacyUnit declares which entity each table protects.
type PrivacyUnit = privacy.PrivacyUnit

// ParsePrivacyUnit reads the JSON tuple form:
//
//	[["table", [["local_key", "foreign_table", "foreign_key"], ...], "key"], ...]
//
// optionally wrapped as [entries, is_group_level].
func ParsePrivacyUnit(raw string) (*PrivacyUnit, error) {
	return privacy.Decode([]byte(raw))
}

// TablesPrefix returns the distinct leading qualifiers of the qualified
// tables query reads.
func TablesPrefix(query string, d Dialect) ([]string, error) {
	return parser.TablesPrefix(query, d)
}

// Dataset is a named collection of tables with their types and statistics.
type Dataset struct {
	ds *dataset.Dataset
}

// NamedRelation is a table of a dataset with its path.
type NamedRelation struct {
	Path     []string
	Relation *Relation
}

// NewDataset parses the dataset, schema and size wire documents. sizeJSON
// may be empty.
func NewDataset(datasetJSON, schemaJSON, sizeJSON string) (*Dataset, error) {
	ds, err := dataset.FromWire(datasetJSON, schemaJSON, sizeJSON)
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

func (d *Dataset) String() string { return d.ds.String() }

// Name is the dataset name.
func (d *Dataset) Name() string { return d.ds.Name() }

// Relations lists the tables of d.
func (d *Dataset) Relations() []NamedRelation {
	rels := d.ds.Relations()
	out := make([]NamedRelation, len(rels))
	for i, nr := range rels {
		out[i] = NamedRelation{Path: nr.Path, Relation: &Relation{r: nr.Relation}}
	}
	return out
}

// Relation plans query against d.
func (d *Dataset) Relation(query string, dia Dialect) (*Relation, error) {
	r, err := d.ds.Relation(query, dia)
	if err != nil {
		return nil, err
	}
	return &Relation{r: r}, nil
}

// WithRange returns a copy of d where a numeric column is bounded by
// [min, max]. An empty schema is left out of the path.
func (d *Dataset) WithRange(schema, table, field string, min, max float64) (*Dataset, error) {
	ds, err := d.ds.WithRangeAt(schema, table, field, min, max)
	return wrap(ds, err)
}

// WithPossibleValues returns a copy of d where a column takes only values.
func (d *Dataset) WithPossibleValues(schema, table, field string, values []string) (*Dataset, error) {
	ds, err := d.ds.WithPossibleValuesAt(schema, table, field, values)
	return wrap(ds, err)
}

// WithConstraint returns a copy of d where a column carries constraint,
// one of "unique", "primary_key" or "none".
func (d *Dataset) WithConstraint(schema, table, field, constraint string) (*Dataset, error) {
	c, err := dataset.ParseConstraint(constraint)
	if err != nil {
		return nil, err
	}
	ds, err := d.ds.WithConstraintAt(schema, table, field, c)
	return wrap(ds, err)
}

// NamedQuery is a query to be exposed as a table at Path.
type NamedQuery = dataset.NamedQuery

// FromQueries returns a dataset whose tables are queries planned against d.
func (d *Dataset) FromQueries(queries []NamedQuery, dia Dialect) (*Dataset, error) {
	ds, err := d.ds.FromQueries(queries, dia)
	return wrap(ds, err)
}

// DatasetJSON, SchemaJSON and SizeJSON render the wire documents of d.
func (d *Dataset) DatasetJSON() (string, error) { return d.ds.DatasetJSON() }
func (d *Dataset) SchemaJSON() (string, error)  { return d.ds.SchemaJSON() }
func (d *Dataset) SizeJSON() (string, error)    { return d.ds.SizeJSON() }

func wrap(ds *dataset.Dataset, err error) (*Dataset, error) {
	if err != nil {
		return nil, err
	}
	return &Dataset{ds: ds}, nil
}

// Relation is a query plan.
type Relation struct {
	r relation.Relation
}

// Name is the structural name of the relation.
func (r *Relation) Name() string { return r.r.Name() }

// String renders r in the PostgreSql dialect.
func (r *Relation) String() string { return relation.ToQuery(r.r, dialect.Default) }

// Schema describes the output fields of r.
func (r *Relation) Schema() string { return r.r.Schema().Struct().String() }

// Size returns the row count bounds; max is -1 when unknown.
func (r *Relation) Size() (min, max int64) { return r.r.Size() }

// Dot renders r as a GraphViz graph.
func (r *Relation) Dot() string { return relation.Dot(r.r) }

// Type renders the output type of r as protobuf JSON.
func (r *Relation) Type() (string, error) { return relation.TypeJSON(r.r) }

// ToQuery renders r as SQL in dialect dia.
func (r *Relation) ToQuery(dia Dialect) string { return relation.ToQuery(r.r, dia) }

// RenameFields renames the fields in names, keeping the others.
func (r *Relation) RenameFields(names map[string]string) (*Relation, error) {
	out, err := relation.RenameFields(r.r, names)
	if err != nil {
		return nil, err
	}
	return &Relation{r: out}, nil
}

// WithField prepends a field computed by the SQL expression expr.
func (r *Relation) WithField(name, expr string, dia Dialect) (*Relation, error) {
	out, err := relation.WithField(r.r, name, expr, dia)
	if err != nil {
		return nil, err
	}
	return &Relation{r: out}, nil
}

// Compose substitutes relations for the tables of r at the given paths.
func (r *Relation) Compose(relations []NamedRelation) (*Relation, error) {
	subs := make([]relation.Substitution, len(relations))
	for i, nr := range relations {
		subs[i] = relation.Substitution{Path: nr.Path, Relation: nr.Relation.r}
	}
	out, err := relation.Compose(r.r, subs)
	if err != nil {
		return nil, err
	}
	return &Relation{r: out}, nil
}

// RewriteOptions tune a rewrite. Nil fields take their defaults.
type RewriteOptions struct {
	MaxMultiplicity      *float64
	MaxMultiplicityShare *float64
	// SyntheticData maps original table paths to public synthetic ones.
	SyntheticData []SyntheticPair
	Strategy      Strategy
	// Mechanism is "laplace" or "gaussian"; empty is laplace. Only the
	// differentially private rewrite reads it, as it does
	// TauThresholdingShare.
	Mechanism            string
	TauThresholdingShare *float64
}

// SyntheticPair replaces Original with Synthetic.
type SyntheticPair struct {
	Original  []string
	Synthetic []string
}

func (o *RewriteOptions) privacyParameters() privacy.Parameters {
	p := privacy.DefaultParameters()
	if o == nil {
		return p
	}
	if o.MaxMultiplicity != nil {
		p.MaxMultiplicity = *o.MaxMultiplicity
	}
	if o.MaxMultiplicityShare != nil {
		p.MaxMultiplicityShare = *o.MaxMultiplicityShare
	}
	for _, s := range o.SyntheticData {
		p.SyntheticData = append(p.SyntheticData, privacy.SyntheticPair{Original: s.Original, Synthetic: s.Synthetic})
	}
	p.Strategy = o.Strategy
	return p
}

// RelationWithDpEvent is a rewritten relation and the privacy loss of
// releasing its result.
type RelationWithDpEvent struct {
	relation *Relation
	event    dp.Event
	spent    dp.Budget
}

// Relation is the rewritten relation.
func (r *RelationWithDpEvent) Relation() *Relation { return r.relation }

// DpEvent returns the event in the dp_accounting dictionary layout.
func (r *RelationWithDpEvent) DpEvent() map[string]interface{} { return r.event.ToDict() }

// Spent returns the (epsilon, delta) the event spends.
func (r *RelationWithDpEvent) Spent() (epsilon, delta float64) { return r.spent.Epsilon, r.spent.Delta }

func checkUnit(pu *PrivacyUnit) error {
	if pu == nil {
		return qerrors.NewInvalidPrivacyUnit("no privacy unit given")
	}
	return nil
}

// RewriteAsPrivacyUnitPreserving rewrites r so that every output row belongs
// to one privacy unit and no unit owns more than the maximum multiplicity
// of rows. epsilonDelta must hold "epsilon" and "delta"; the rewrite itself
// spends nothing.
func (r *Relation) RewriteAsPrivacyUnitPreserving(ds *Dataset, pu *PrivacyUnit, epsilonDelta map[string]float64, opts *RewriteOptions) (*RelationWithDpEvent, error) {
	if _, err := dp.BudgetFromMap(epsilonDelta); err != nil {
		return nil, err
	}
	if err := checkUnit(pu); err != nil {
		return nil, err
	}
	w, err := privacy.NewRewriter(ds.ds, pu, opts.privacyParameters())
	if err != nil {
		return nil, err
	}
	res, err := w.Rewrite(r.r)
	if err != nil {
		return nil, err
	}
	return &RelationWithDpEvent{relation: &Relation{r: res.Relation}, event: dp.NoOp{}}, nil
}

// RewriteWithDifferentialPrivacy rewrites every aggregation of protected
// data in r into a differentially private one spending at most
// epsilonDelta.
func (r *Relation) RewriteWithDifferentialPrivacy(ds *Dataset, pu *PrivacyUnit, epsilonDelta map[string]float64, opts *RewriteOptions) (*RelationWithDpEvent, error) {
	b, err := dp.BudgetFromMap(epsilonDelta)
	if err != nil {
		return nil, err
	}
	if err := checkUnit(pu); err != nil {
		return nil, err
	}
	params := dp.DefaultParameters(b)
	params.Privacy = opts.privacyParameters()
	if opts != nil {
		if opts.Mechanism != "" {
			if params.Mechanism, err = dp.ParseMechanism(opts.Mechanism); err != nil {
				return nil, err
			}
		}
		if opts.TauThresholdingShare != nil {
			params.TauThresholdingShare = *opts.TauThresholdingShare
		}
	}
	w, err := dp.NewRewriter(ds.ds, pu, params)
	if err != nil {
		return nil, err
	}
	res, err := w.Rewrite(r.r)
	if err != nil {
		return nil, err
	}
	return &RelationWithDpEvent{relation: &Relation{r: res.Relation}, event: res.Event, spent: res.Spent}, nil
}
