// Package reflect builds dataset documents from the catalog and contents of
// a live database.
package reflect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/qrlew/qrlew-go/internal/dataset"
	"github.com/qrlew/qrlew-go/internal/datatype"
	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// FloatBound bounds reflected float columns when their range is not probed.
const FloatBound = 1 << 50

// Kind is the family of a declared column type.
type Kind int

const (
	KindUnknown Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBoolean
	KindDate
	KindDatetime
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindDate:
		return "date"
	case KindDatetime:
		return "datetime"
	}
	return "unknown"
}

// KindOf classifies a declared SQL type name. Unrecognized names fall back
// to SQLite's affinity rules.
func KindOf(declared string) Kind {
	t := strings.ToUpper(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "INTERVAL", "POINT":
		return KindUnknown
	case "BOOLEAN", "BOOL", "BIT":
		return KindBoolean
	case "DATE":
		return KindDate
	case "DATETIME", "TIMESTAMP", "TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ", "TIME":
		return KindDatetime
	case "NUMERIC", "DECIMAL", "REAL", "DOUBLE", "DOUBLE PRECISION", "FLOAT", "FLOAT4", "FLOAT8":
		return KindFloat
	}
	switch {
	case strings.Contains(t, "INT"):
		return KindInteger
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"), t == "UUID":
		return KindText
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return KindFloat
	}
	return KindUnknown
}

// Column is a reflected column.
type Column struct {
	Name       string
	Type       string
	Kind       Kind
	NotNull    bool
	PrimaryKey bool
}

// Table is a reflected table.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// Path is the qualified name of the table.
func (t Table) Path() []string {
	if t.Schema == "" {
		return []string{t.Name}
	}
	return []string{t.Schema, t.Name}
}

// Rows is the subset of *sql.Rows and pgx.Rows the probes use.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Source is a database that can be reflected.
type Source interface {
	Dialect() dialect.Dialect
	// Tables lists the tables of schema, or of the default schema when
	// schema is empty, in catalog order.
	Tables(ctx context.Context, schema string) ([]Table, error)
	Query(ctx context.Context, query string) (Rows, error)
}

// Options controls reflection.
type Options struct {
	// Name is the dataset and schema name.
	Name string
	// Schema restricts reflection to one database schema and nests the
	// tables under it.
	Schema string
	// Ranges probes MIN and MAX of every orderable column.
	Ranges bool
	// PossibleValuesThreshold enumerates columns with at most this many
	// distinct values. Zero disables it.
	PossibleValuesThreshold int
	// Nullable makes columns declared without NOT NULL Optional.
	Nullable bool
}

// Documents are the three wire documents of a dataset.
type Documents struct {
	Dataset string
	Schema  string
	Size    string
}

// Reflect reads the catalog of src and returns the dataset it describes.
func Reflect(ctx context.Context, src Source, opts Options) (*dataset.Dataset, error) {
	docs, err := Reflected(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	return dataset.FromWire(docs.Dataset, docs.Schema, docs.Size)
}

// Reflected returns the wire documents of src.
func Reflected(ctx context.Context, src Source, opts Options) (*Documents, error) {
	if opts.Name == "" {
		return nil, qerrors.NewMalformedInput("dataset name is required", nil)
	}
	tables, err := src.Tables(ctx, opts.Schema)
	if err != nil {
		return nil, qerrors.NewInternalError("list tables", err)
	}
	if len(tables) == 0 {
		return nil, qerrors.NewMalformedInput(fmt.Sprintf("no tables found in schema %q", opts.Schema), nil)
	}

	p := &prober{src: src, d: src.Dialect(), opts: opts}
	var typeFields []datatype.WireField
	var statFields []dataset.StatisticsField
	for _, t := range tables {
		st, size, err := p.table(ctx, t)
		if err != nil {
			return nil, err
		}
		glog.V(1).Infof("reflect: %s has %d rows", strings.Join(t.Path(), "."), size)
		typeFields = append(typeFields, datatype.WireField{Name: t.Name, Type: datatype.Encode(st)})
		statFields = append(statFields, dataset.StatisticsField{Name: t.Name, Statistics: tableStatistics(st, size)})
	}

	data := &datatype.Wire{Name: "Union", Properties: publicNone(), Union: &datatype.WireFields{Fields: typeFields}}
	stats := &dataset.StatisticsWire{Name: "Union", Properties: map[string]interface{}{}, Union: &dataset.StatisticsFields{Fields: statFields}}
	if opts.Schema != "" {
		data = &datatype.Wire{Name: "Union", Properties: publicNone(), Union: &datatype.WireFields{
			Fields: []datatype.WireField{{Name: opts.Schema, Type: data}},
		}}
		stats = &dataset.StatisticsWire{Name: "Union", Properties: map[string]interface{}{}, Union: &dataset.StatisticsFields{
			Fields: []dataset.StatisticsField{{Name: opts.Schema, Statistics: stats}},
		}}
	}

	datasetID := hexUUID()
	ds := dataset.DatasetDoc{
		Type: dataset.DatasetTypeTag,
		UUID: datasetID,
		Name: opts.Name,
		Spec: map[string]interface{}{"transformed": map[string]interface{}{
			"transform": hexUUID(), "arguments": []interface{}{}, "named_arguments": map[string]interface{}{},
		}},
		Properties: map[string]interface{}{},
	}
	schema := dataset.SchemaDoc{
		Type:     dataset.SchemaTypeTag,
		UUID:     hexUUID(),
		Dataset:  datasetID,
		Name:     opts.Name,
		DataType: wrapAdministrative(strings.ToLower(opts.Name), data),
		Properties: map[string]interface{}{
			"max_max_multiplicity": "1",
			"foreign_keys":         "",
			"primary_keys":         "",
		},
	}
	size := dataset.SizeDoc{
		Type:       dataset.SizeTypeTag,
		UUID:       hexUUID(),
		Dataset:    datasetID,
		Name:       opts.Name + "_sizes",
		Statistics: stats,
		Properties: map[string]interface{}{},
	}

	docs := &Documents{}
	for _, enc := range []struct {
		dst *string
		v   interface{}
	}{{&docs.Dataset, ds}, {&docs.Schema, schema}, {&docs.Size, size}} {
		s, err := marshal(enc.v)
		if err != nil {
			return nil, err
		}
		*enc.dst = s
	}
	return docs, nil
}

func hexUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func publicNone() map[string]interface{} {
	return map[string]interface{}{"public_fields": "[]"}
}

// wrapAdministrative puts data under sarus_data next to the administrative
// columns.
func wrapAdministrative(name string, data *datatype.Wire) *datatype.Wire {
	return &datatype.Wire{
		Name:       name,
		Properties: map[string]interface{}{},
		Struct: &datatype.WireFields{Fields: []datatype.WireField{
			{Name: "sarus_data", Type: data},
			{Name: "sarus_weights", Type: datatype.Encode(datatype.NewInteger())},
			{Name: "sarus_is_public", Type: datatype.Encode(datatype.NewBoolean())},
			{Name: "sarus_privacy_unit", Type: datatype.Encode(datatype.NewOptional(datatype.NewId()))},
		}},
	}
}

func tableStatistics(st datatype.Struct, size int64) *dataset.StatisticsWire {
	n := datatype.Int64(size)
	one := datatype.Float64(1)
	fields := &dataset.StatisticsFields{Fields: []dataset.StatisticsField{}, Size: &n, Multiplicity: &one}
	for _, f := range st.Fields {
		iv, ok := datatype.BoundsOf(f.Type)
		if !ok || !iv.IsBounded() {
			continue
		}
		inner, _ := datatype.Unwrap(f.Type)
		if i, isInt := inner.(datatype.Integer); isInt && i.IsFullRange() {
			continue
		}
		lo, hi := datatype.Float64(iv.Lo), datatype.Float64(iv.Hi)
		leaf := &dataset.StatisticsLeaf{
			Distribution: &dataset.DistributionWire{Min: &lo, Max: &hi},
			Size:         &n,
			Multiplicity: &one,
		}
		switch inner.(type) {
		case datatype.Integer:
			fields.Fields = append(fields.Fields, dataset.StatisticsField{Name: f.Name, Statistics: &dataset.StatisticsWire{Name: "Integer", Integer: leaf}})
		case datatype.Float:
			fields.Fields = append(fields.Fields, dataset.StatisticsField{Name: f.Name, Statistics: &dataset.StatisticsWire{Name: "Float", Float: leaf}})
		}
	}
	return &dataset.StatisticsWire{Name: "Struct", Properties: map[string]interface{}{}, Struct: fields}
}

type prober struct {
	src  Source
	d    dialect.Dialect
	opts Options
}

// probe holds what was learned about one column.
type probe struct {
	min, max sql.NullString
	values   []string
	listed   bool
}

func (p *prober) table(ctx context.Context, t Table) (datatype.Struct, int64, error) {
	from := p.d.QuotePath(t.Path())
	size, err := p.count(ctx, "SELECT COUNT(*) FROM "+from)
	if err != nil {
		return datatype.Struct{}, 0, err
	}

	probes := make([]probe, len(t.Columns))
	if p.opts.Ranges {
		if err := p.ranges(ctx, from, t.Columns, probes); err != nil {
			return datatype.Struct{}, 0, err
		}
	}
	if p.opts.PossibleValuesThreshold > 0 {
		for i, c := range t.Columns {
			switch c.Kind {
			case KindInteger, KindText, KindBoolean:
			default:
				continue
			}
			if err := p.possibleValues(ctx, from, c, &probes[i]); err != nil {
				return datatype.Struct{}, 0, err
			}
		}
	}

	pks := 0
	for _, c := range t.Columns {
		if c.PrimaryKey {
			pks++
		}
	}
	st := datatype.Struct{}
	for i, c := range t.Columns {
		f := datatype.Field{Name: c.Name, Type: columnType(c, probes[i])}
		if c.PrimaryKey && pks == 1 {
			f.Constraint = datatype.ConstraintPrimaryKey
		} else if p.opts.Nullable && !c.NotNull {
			f.Type = datatype.NewOptional(f.Type)
		}
		st.Fields = append(st.Fields, f)
	}
	return st, size, nil
}

func (p *prober) count(ctx context.Context, query string) (int64, error) {
	rows, err := p.src.Query(ctx, query)
	if err != nil {
		return 0, qerrors.NewInternalError(query, err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, qerrors.NewInternalError(query, err)
		}
	}
	return n, rows.Err()
}

// ranges reads MIN and MAX of every orderable column, cast to text, in a
// single pass.
func (p *prober) ranges(ctx context.Context, from string, cols []Column, probes []probe) error {
	text := p.d.CastType("TEXT")
	var exprs []string
	var idx []int
	for i, c := range cols {
		if c.Kind == KindUnknown || c.Kind == KindBoolean {
			continue
		}
		q := p.d.QuoteIdent(c.Name)
		exprs = append(exprs,
			fmt.Sprintf("CAST(MIN(%s) AS %s)", q, text),
			fmt.Sprintf("CAST(MAX(%s) AS %s)", q, text))
		idx = append(idx, i)
	}
	if len(exprs) == 0 {
		return nil
	}
	query := "SELECT " + strings.Join(exprs, ", ") + " FROM " + from
	rows, err := p.src.Query(ctx, query)
	if err != nil {
		return qerrors.NewInternalError(query, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return rows.Err()
	}
	dest := make([]any, 0, len(exprs))
	for _, i := range idx {
		dest = append(dest, &probes[i].min, &probes[i].max)
	}
	if err := rows.Scan(dest...); err != nil {
		return qerrors.NewInternalError(query, err)
	}
	return rows.Err()
}

func (p *prober) possibleValues(ctx context.Context, from string, c Column, pr *probe) error {
	q := p.d.QuoteIdent(c.Name)
	n, err := p.count(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", q, from))
	if err != nil {
		return err
	}
	if n == 0 || n > int64(p.opts.PossibleValuesThreshold) {
		return nil
	}
	query := fmt.Sprintf("SELECT DISTINCT CAST(%s AS %s) FROM %s WHERE %s IS NOT NULL", q, p.d.CastType("TEXT"), from, q)
	rows, err := p.src.Query(ctx, query)
	if err != nil {
		return qerrors.NewInternalError(query, err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return qerrors.NewInternalError(query, err)
		}
		pr.values = append(pr.values, v)
	}
	pr.listed = true
	return rows.Err()
}

// columnType is the narrowest type the probes justify. Values that fail to
// parse leave the default domain in place.
func columnType(c Column, pr probe) datatype.DataType {
	switch c.Kind {
	case KindInteger:
		t := datatype.NewInteger()
		if lo, err := strconv.ParseInt(pr.min.String, 10, 64); pr.min.Valid && err == nil {
			t.Min = lo
		}
		if hi, err := strconv.ParseInt(pr.max.String, 10, 64); pr.max.Valid && err == nil {
			t.Max = hi
		}
		if pr.listed {
			if vs, ok := parseInts(pr.values); ok {
				return datatype.IntegerValues(vs...)
			}
		}
		return t
	case KindFloat:
		lo, hi := -float64(FloatBound), float64(FloatBound)
		if v, err := strconv.ParseFloat(pr.min.String, 64); pr.min.Valid && err == nil {
			lo = v
		}
		if v, err := strconv.ParseFloat(pr.max.String, 64); pr.max.Valid && err == nil {
			hi = v
		}
		return datatype.FloatRange(lo, hi)
	case KindBoolean:
		if pr.listed {
			if vs, ok := parseBools(pr.values); ok {
				return datatype.BooleanValues(vs...)
			}
		}
		return datatype.NewBoolean()
	case KindDate:
		t := datatype.NewDate()
		t.Min, t.Max = parseTime(pr.min), parseTime(pr.max)
		return t
	case KindDatetime:
		t := datatype.NewDatetime()
		t.Min, t.Max = parseTime(pr.min), parseTime(pr.max)
		return t
	case KindText:
		if pr.listed {
			return datatype.TextValues(pr.values...)
		}
		t := datatype.NewText()
		if pr.min.Valid && pr.max.Valid {
			t.Min, t.Max = pr.min.String, pr.max.String
		}
		return t
	}
	glog.Warningf("reflect: column %s has unsupported type %q, reflected as text", c.Name, c.Type)
	return datatype.NewText()
}

func parseInts(vals []string) ([]int64, bool) {
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func parseBools(vals []string) ([]bool, bool) {
	out := make([]bool, 0, len(vals))
	for _, v := range vals {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true":
			out = append(out, true)
		case "0", "f", "false":
			out = append(out, false)
		default:
			return nil, false
		}
	}
	return out, true
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s.String)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func marshal(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", qerrors.NewInternalError("encode reflected document", err)
	}
	return string(b), nil
}
