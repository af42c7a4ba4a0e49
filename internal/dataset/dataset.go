// Package dataset describes a relational dataset: its tables, their types and
// statistics. A Dataset is read from three wire documents (dataset, schema
// and size) and written back to them; every mutator returns a new Dataset.
package dataset

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/qrlew/qrlew-go/internal/datatype"
	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/relation"
)

// Administrative names of Sarus schemas. They never become relation columns.
const (
	adminData        = "sarus_data"
	adminIsPublic    = "sarus_is_public"
	adminPrivacyUnit = "sarus_privacy_unit"
	adminWeights     = "sarus_weights"
)

func isAdminColumn(name string) bool {
	switch name {
	case adminIsPublic, adminPrivacyUnit, adminWeights:
		return true
	}
	return false
}

// Dataset is an immutable collection of tables.
type Dataset struct {
	doc    DatasetDoc
	schema SchemaDoc
	size   *SizeDoc
	stats  *Statistics
	tables []tableEntry
}

type tableEntry struct {
	// steps are the child indices leading from the schema type to the table.
	steps  []int
	public bool
	table  *relation.Table
}

// NamedRelation pairs a table path with the table relation.
type NamedRelation struct {
	Path     []string
	Relation *relation.Table
}

// NamedQuery is one query of FromQueries and the path it is published at.
type NamedQuery struct {
	Path  []string
	Query string
}

// FromWire parses the three wire documents. An empty sizeJSON means the
// dataset has no statistics.
func FromWire(datasetJSON, schemaJSON, sizeJSON string) (*Dataset, error) {
	var doc DatasetDoc
	if err := decodeDoc("dataset", datasetJSON, &doc); err != nil {
		return nil, err
	}
	var schema SchemaDoc
	if err := decodeDoc("schema", schemaJSON, &schema); err != nil {
		return nil, err
	}
	var size *SizeDoc
	if strings.TrimSpace(sizeJSON) != "" {
		size = &SizeDoc{}
		if err := decodeDoc("size", sizeJSON, size); err != nil {
			return nil, err
		}
	}
	return build(doc, schema, size)
}

func build(doc DatasetDoc, schema SchemaDoc, size *SizeDoc) (*Dataset, error) {
	d := &Dataset{doc: doc, schema: schema, size: size}
	if size != nil {
		stats, err := decodeStatistics(size.Statistics)
		if err != nil {
			return nil, err
		}
		d.stats = stats
	}
	if err := d.index(); err != nil {
		return nil, err
	}
	glog.V(1).Infof("dataset %s: %d tables", doc.Name, len(d.tables))
	return d, nil
}

func (d *Dataset) index() error {
	root := d.schema.DataType
	prefix := []string{d.schema.Name}
	switch {
	case root.IsUnion():
		return d.indexUnion(root, prefix, nil, false)
	case root.IsStruct():
		for i, f := range root.Children() {
			if f.Name != adminData {
				continue
			}
			if f.Type == nil || !f.Type.IsUnion() {
				return qerrors.NewMalformedInput(adminData+" is not a union", nil)
			}
			return d.indexUnion(f.Type, prefix, []int{i}, false)
		}
		return d.addTable(root, prefix, nil, false)
	}
	return qerrors.NewMalformedInput("schema type is neither a union nor a struct", nil)
}

func (d *Dataset) indexUnion(w *datatype.Wire, path []string, steps []int, public bool) error {
	publicFields := w.PublicFields()
	for i, f := range w.Children() {
		p := append(append([]string(nil), path...), f.Name)
		s := append(append([]int(nil), steps...), i)
		pub := public || containsString(publicFields, f.Name)
		switch {
		case f.Type == nil:
			return qerrors.NewMalformedInput(strings.Join(p, ".")+" has no type", nil)
		case f.Type.IsUnion():
			if err := d.indexUnion(f.Type, p, s, pub); err != nil {
				return err
			}
		case f.Type.IsStruct():
			if err := d.addTable(f.Type, p, s, pub); err != nil {
				return err
			}
		default:
			return qerrors.NewMalformedInput(strings.Join(p, ".")+" is neither a table nor a namespace", nil)
		}
	}
	return nil
}

func (d *Dataset) addTable(w *datatype.Wire, path []string, steps []int, public bool) error {
	t, err := w.DataType()
	if err != nil {
		return err
	}
	st, ok := t.(datatype.Struct)
	if !ok {
		return qerrors.NewMalformedInput(strings.Join(path, ".")+" is not a struct", nil)
	}
	var schema relation.Schema
	for _, f := range st.Fields {
		if !isAdminColumn(f.Name) {
			schema = append(schema, f)
		}
	}
	maxRows := relation.Unbounded
	var bounds map[string]datatype.Interval
	if s, ok := d.tableStatistics(path); ok {
		if s.Size >= 0 {
			maxRows = s.Size
		}
		for _, f := range schema {
			fs, ok := s.Field(f.Name)
			if !ok || fs.Distribution == nil {
				continue
			}
			if bounds == nil {
				bounds = make(map[string]datatype.Interval)
			}
			bounds[f.Name] = fs.Distribution.Interval()
		}
	}
	table := relation.NewTable(path, schema, 0, maxRows)
	if bounds != nil {
		table = table.WithBounds(bounds)
	}
	d.tables = append(d.tables, tableEntry{steps: steps, public: public, table: table})
	return nil
}

// tableStatistics finds the statistics of the table at path. The size
// document starts below the schema name.
func (d *Dataset) tableStatistics(path []string) (*Statistics, bool) {
	if d.stats == nil || len(path) == 0 {
		return nil, false
	}
	return d.stats.lookup(path[1:])
}

// UUID is the dataset document uuid.
func (d *Dataset) UUID() string { return d.doc.UUID }

// Name is the dataset name.
func (d *Dataset) Name() string { return d.doc.Name }

// SchemaName is the first element of every table path.
func (d *Dataset) SchemaName() string { return d.schema.Name }

// PrivacyUnit returns the privacy unit declared by the schema document.
func (d *Dataset) PrivacyUnit() *PrivacyUnitDoc { return d.schema.PrivacyUnit }

// Relations lists the tables in schema declaration order.
func (d *Dataset) Relations() []NamedRelation {
	out := make([]NamedRelation, len(d.tables))
	for i, e := range d.tables {
		out[i] = NamedRelation{Path: append([]string(nil), e.table.Path...), Relation: e.table}
	}
	return out
}

// Tables returns the tables as a catalog.
func (d *Dataset) Tables() relation.Tables {
	out := make(relation.Tables, len(d.tables))
	for i, e := range d.tables {
		out[i] = e.table
	}
	return out
}

// ResolveTable implements relation.Catalog.
func (d *Dataset) ResolveTable(path []string) (*relation.Table, error) {
	return d.Tables().ResolveTable(path)
}

// IsPublic reports whether the table at path is declared public.
func (d *Dataset) IsPublic(path []string) bool {
	for _, e := range d.tables {
		if pathEqual(e.table.Path, path) {
			return e.public
		}
	}
	return false
}

// Relation plans query against the dataset tables.
func (d *Dataset) Relation(query string, dia dialect.Dialect) (relation.Relation, error) {
	return relation.NewPlanner(d, dia).Plan(query)
}

// Size returns the row count of the table at path, if known.
func (d *Dataset) Size(path []string) (int64, bool) {
	i, err := d.resolve(path)
	if err != nil {
		return 0, false
	}
	_, max := d.tables[i].table.Size()
	return max, max != relation.Unbounded
}

// Statistics returns the value distribution of a column.
func (d *Dataset) Statistics(path []string, field string) (Distribution, bool) {
	i, err := d.resolve(path)
	if err != nil {
		return Distribution{}, false
	}
	s, ok := d.tableStatistics(d.tables[i].table.Path)
	if !ok {
		return Distribution{}, false
	}
	fs, ok := s.Field(field)
	if !ok || fs.Distribution == nil {
		return Distribution{}, false
	}
	return *fs.Distribution, true
}

// resolve finds a table by exact path, or else by a unique path suffix.
func (d *Dataset) resolve(path []string) (int, error) {
	var found []int
	for i, e := range d.tables {
		if pathEqual(e.table.Path, path) {
			return i, nil
		}
		if hasSuffix(e.table.Path, path) {
			found = append(found, i)
		}
	}
	switch len(found) {
	case 0:
		return -1, qerrors.NewFieldNotFound(strings.Join(path, "."))
	case 1:
		return found[0], nil
	}
	return -1, qerrors.NewUnresolvedReference("%s matches several tables", strings.Join(path, "."))
}

// WithRange bounds a numeric column. path is a table path followed by the
// column name.
func (d *Dataset) WithRange(path []string, min, max float64) (*Dataset, error) {
	return d.updateField(path, func(f datatype.Field) (datatype.Field, error) {
		t, err := datatype.WithRange(f.Type, min, max)
		f.Type = t
		return f, err
	})
}

// WithPossibleValues sets the exact domain of an integer, text or boolean
// column.
func (d *Dataset) WithPossibleValues(path []string, values []string) (*Dataset, error) {
	return d.updateField(path, func(f datatype.Field) (datatype.Field, error) {
		t, err := datatype.WithPossibleValues(f.Type, values)
		f.Type = t
		return f, err
	})
}

// WithConstraint sets the constraint of a column.
func (d *Dataset) WithConstraint(path []string, c datatype.Constraint) (*Dataset, error) {
	return d.updateField(path, func(f datatype.Field) (datatype.Field, error) {
		if c == datatype.ConstraintPrimaryKey && datatype.IsOptional(f.Type) {
			return f, qerrors.NewTypeMismatch("optional column %s cannot be a primary key", f.Name)
		}
		f.Constraint = c
		return f, nil
	})
}

// WithRangeAt is WithRange addressed by schema, table and column; an empty
// schema is left out of the path.
func (d *Dataset) WithRangeAt(schema, table, field string, min, max float64) (*Dataset, error) {
	return d.WithRange(fieldPath(schema, table, field), min, max)
}

// WithPossibleValuesAt is WithPossibleValues addressed like WithRangeAt.
func (d *Dataset) WithPossibleValuesAt(schema, table, field string, values []string) (*Dataset, error) {
	return d.WithPossibleValues(fieldPath(schema, table, field), values)
}

// WithConstraintAt is WithConstraint addressed like WithRangeAt.
func (d *Dataset) WithConstraintAt(schema, table, field string, c datatype.Constraint) (*Dataset, error) {
	return d.WithConstraint(fieldPath(schema, table, field), c)
}

func fieldPath(schema, table, field string) []string {
	if schema == "" {
		return []string{table, field}
	}
	return []string{schema, table, field}
}

// updateField rewrites one column type in a copy of the schema document.
func (d *Dataset) updateField(path []string, fn func(datatype.Field) (datatype.Field, error)) (*Dataset, error) {
	if len(path) < 2 {
		return nil, qerrors.NewFieldNotFound(strings.Join(path, "."))
	}
	ti, err := d.resolve(path[:len(path)-1])
	if err != nil {
		return nil, err
	}
	entry := d.tables[ti]
	column := path[len(path)-1]

	nodes := []*datatype.Wire{d.schema.DataType}
	for _, i := range entry.steps {
		nodes = append(nodes, nodes[len(nodes)-1].Children()[i].Type)
	}
	tw := nodes[len(nodes)-1]
	ci := -1
	for i, f := range tw.Children() {
		if f.Name == column && !isAdminColumn(f.Name) {
			ci = i
			break
		}
	}
	if ci < 0 {
		return nil, qerrors.NewFieldNotFound(strings.Join(path, "."))
	}
	cw := tw.Children()[ci].Type
	t, err := cw.DataType()
	if err != nil {
		return nil, err
	}
	updated, err := fn(datatype.Field{Name: column, Type: t, Constraint: cw.Constraint()})
	if err != nil {
		return nil, err
	}

	repl := cw.Replace(updated.Type).WithConstraint(updated.Constraint)
	for k := len(nodes) - 1; k >= 0; k-- {
		idx := ci
		if k < len(nodes)-1 {
			idx = entry.steps[k]
		}
		repl = nodes[k].WithChild(idx, repl)
	}
	schema := d.schema
	schema.DataType = repl
	glog.V(2).Infof("dataset %s: %s.%s is now %s", d.doc.Name,
		strings.Join(entry.table.Path, "."), column, updated.Type)
	return build(d.doc, schema, d.size)
}

// ParseConstraint reads a constraint name as written by the Python API or
// the wire properties.
func ParseConstraint(s string) (datatype.Constraint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return datatype.ConstraintNone, nil
	case "unique", strings.ToLower(datatype.ConstraintUniqueTag):
		return datatype.ConstraintUnique, nil
	case "primarykey", "primary_key", strings.ToLower(datatype.ConstraintPrimaryTag):
		return datatype.ConstraintPrimaryKey, nil
	}
	return datatype.ConstraintNone, qerrors.NewMalformedInput(fmt.Sprintf("unknown constraint %q", s), nil)
}

// FromQueries builds a new dataset whose tables are the given queries, planned
// against d. Every path is a schema name followed by a table path; all paths
// share the schema name. Any failing query fails the whole call.
func (d *Dataset) FromQueries(queries []NamedQuery, dia dialect.Dialect) (*Dataset, error) {
	if len(queries) == 0 {
		return nil, qerrors.NewMalformedInput("no queries", nil)
	}
	root := &namespace{}
	name := ""
	for _, q := range queries {
		key := strings.Join(q.Path, ".")
		if len(q.Path) < 2 {
			return nil, qerrors.NewMalformedInput("query path "+key+" needs a schema and a table name", nil)
		}
		if name == "" {
			name = q.Path[0]
		} else if q.Path[0] != name {
			return nil, qerrors.NewMalformedInput(fmt.Sprintf("query paths name two schemas, %s and %s", name, q.Path[0]), nil)
		}
		r, err := d.Relation(q.Query, dia)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", key, err)
		}
		if err := root.insert(q.Path[1:], r, d.readsOnlyPublic(r)); err != nil {
			return nil, err
		}
	}

	id := uuid.New().String()
	doc := DatasetDoc{
		Type: DatasetTypeTag,
		UUID: id,
		Name: d.doc.Name,
		Doc:  d.doc.Doc,
		Spec: map[string]interface{}{
			"transformed": map[string]interface{}{
				"transform":       uuid.New().String(),
				"arguments":       []interface{}{d.doc.UUID},
				"named_arguments": map[string]interface{}{},
			},
		},
		Properties: map[string]interface{}{},
	}
	schema := SchemaDoc{
		Type:       SchemaTypeTag,
		UUID:       uuid.New().String(),
		Dataset:    id,
		Name:       name,
		DataType:   root.typeWire(),
		Properties: copyProperties(d.schema.Properties),
	}
	size := &SizeDoc{
		Type:       SizeTypeTag,
		UUID:       uuid.New().String(),
		Dataset:    id,
		Name:       name + "_sizes",
		Statistics: root.statisticsWire(),
		Properties: map[string]interface{}{},
	}
	return build(doc, schema, size)
}

func (d *Dataset) readsOnlyPublic(r relation.Relation) bool {
	public := true
	relation.Walk(r, func(n relation.Relation) {
		if t, ok := n.(*relation.Table); ok && !d.IsPublic(t.Path) {
			public = false
		}
	})
	return public
}

// namespace is the union tree FromQueries publishes its relations in.
type namespace struct {
	name     string
	children []*namespace
	rel      relation.Relation
	public   bool
}

func (n *namespace) insert(path []string, r relation.Relation, public bool) error {
	var child *namespace
	for _, c := range n.children {
		if c.name == path[0] {
			child = c
		}
	}
	if len(path) == 1 {
		if child != nil {
			return qerrors.NewDuplicateName(path[0])
		}
		n.children = append(n.children, &namespace{name: path[0], rel: r, public: public})
		return nil
	}
	if child == nil {
		child = &namespace{name: path[0]}
		n.children = append(n.children, child)
	} else if child.rel != nil {
		return qerrors.NewDuplicateName(path[0])
	}
	return child.insert(path[1:], r, public)
}

func (n *namespace) typeWire() *datatype.Wire {
	if n.rel != nil {
		return datatype.Encode(n.rel.Schema().Struct())
	}
	w := &datatype.Wire{Name: "Union", Properties: map[string]interface{}{}, Union: &datatype.WireFields{}}
	public := []string{}
	for _, c := range n.children {
		w.Union.Fields = append(w.Union.Fields, datatype.WireField{Name: c.name, Type: c.typeWire()})
		if c.public {
			public = append(public, c.name)
		}
	}
	b, _ := json.Marshal(public)
	w.Properties["public_fields"] = string(b)
	return w
}

func (n *namespace) statisticsWire() *StatisticsWire {
	if n.rel == nil {
		fields := &StatisticsFields{}
		for _, c := range n.children {
			fields.Fields = append(fields.Fields, StatisticsField{Name: c.name, Statistics: c.statisticsWire()})
		}
		return &StatisticsWire{Name: "Union", Properties: map[string]interface{}{}, Union: fields}
	}
	fields := &StatisticsFields{Fields: []StatisticsField{}, Multiplicity: encodeMultiplicity(1)}
	_, max := n.rel.Size()
	if max != relation.Unbounded {
		fields.Size = encodeSize(max)
	}
	for _, f := range n.rel.Schema() {
		if s := columnStatistics(f.Type, fields.Size); s != nil {
			fields.Fields = append(fields.Fields, StatisticsField{Name: f.Name, Statistics: s})
		}
	}
	return &StatisticsWire{Name: "Struct", Properties: map[string]interface{}{}, Struct: fields}
}

// columnStatistics records the bounds of a numeric column type.
func columnStatistics(t datatype.DataType, size *datatype.Int64) *StatisticsWire {
	iv, ok := datatype.BoundsOf(t)
	if !ok || !iv.IsBounded() {
		return nil
	}
	lo, hi := datatype.Float64(iv.Lo), datatype.Float64(iv.Hi)
	leaf := &StatisticsLeaf{
		Distribution: &DistributionWire{Min: &lo, Max: &hi},
		Size:         size,
		Multiplicity: encodeMultiplicity(1),
	}
	inner, _ := datatype.Unwrap(t)
	switch inner.(type) {
	case datatype.Integer:
		return &StatisticsWire{Name: "Integer", Integer: leaf}
	case datatype.Float:
		return &StatisticsWire{Name: "Float", Float: leaf}
	}
	return nil
}

// DatasetJSON returns the dataset document.
func (d *Dataset) DatasetJSON() (string, error) { return encodeDoc("dataset", d.doc) }

// SchemaJSON returns the schema document.
func (d *Dataset) SchemaJSON() (string, error) { return encodeDoc("schema", d.schema) }

// SizeJSON returns the size document, or "" when the dataset has none.
func (d *Dataset) SizeJSON() (string, error) {
	if d.size == nil {
		return "", nil
	}
	return encodeDoc("size", d.size)
}

func (d *Dataset) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s)", d.doc.Name, d.doc.UUID)
	for _, e := range d.tables {
		fmt.Fprintf(&sb, "\n  %s: %s", strings.Join(e.table.Path, "."), e.table.Schema())
		if e.public {
			sb.WriteString(" public")
		}
	}
	return sb.String()
}

func copyProperties(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
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

func hasSuffix(path, suffix []string) bool {
	if len(suffix) == 0 || len(suffix) > len(path) {
		return false
	}
	return pathEqual(path[len(path)-len(suffix):], suffix)
}
