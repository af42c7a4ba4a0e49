package dataset

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/qrlew/qrlew-go/internal/datatype"
	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

const testDatasetJSON = `{
	"@type": "sarus_data_spec/sarus_data_spec.Dataset",
	"uuid": "0c7e5a3cf0e14b7e9ad1a2c1d7a43f11",
	"name": "census_demo",
	"spec": {"transformed": {"transform": "t", "arguments": [], "named_arguments": {}}},
	"properties": {},
	"doc": "demo"
}`

const testSchemaJSON = `{
	"@type": "sarus_data_spec/sarus_data_spec.Schema",
	"uuid": "5d2b6f0e3c8a4e0f9c1b7a6d4e2f8a90",
	"dataset": "0c7e5a3cf0e14b7e9ad1a2c1d7a43f11",
	"name": "extract",
	"type": {
		"name": "Union",
		"union": {"fields": [
			{"name": "census", "type": {"name": "Struct", "struct": {"fields": [
				{"name": "age", "type": {"name": "Integer", "integer": {"base": "INT64",
					"min": "-9223372036854775808", "max": "9223372036854775807", "possible_values": []}, "properties": {}}},
				{"name": "workclass", "type": {"name": "Text UTF-8", "text": {"encoding": "UTF-8", "possible_values": []}, "properties": {}}},
				{"name": "hours", "type": {"name": "Integer", "integer": {"min": 1, "max": 99}}},
				{"name": "income", "type": {"name": "Optional", "optional": {"type": {"name": "Float64", "float": {"min": 0, "max": 5000}}}}}
			]}, "properties": {}}},
			{"name": "regions", "type": {"name": "Struct", "struct": {"fields": [
				{"name": "code", "type": {"name": "Integer", "integer": {"min": 1, "max": 5}}},
				{"name": "label", "type": {"name": "Text UTF-8", "text": {}}}
			]}}}
		]},
		"properties": {"public_fields": "[\"regions\"]"}
	},
	"privacy_unit": {"label": "census", "paths": [], "properties": {}},
	"properties": {"max_max_multiplicity": "1", "foreign_keys": "", "primary_keys": ""}
}`

const testSizeJSON = `{
	"@type": "sarus_data_spec/sarus_data_spec.Size",
	"uuid": "9a8b7c6d5e4f40318293a4b5c6d7e8f9",
	"dataset": "0c7e5a3cf0e14b7e9ad1a2c1d7a43f11",
	"name": "extract_sizes",
	"statistics": {"name": "Union", "union": {"fields": [
		{"name": "census", "statistics": {"name": "Struct", "struct": {"fields": [
			{"name": "age", "statistics": {"name": "Integer", "integer": {
				"distribution": {"integer": {"min": "17", "max": "90", "points": []}, "properties": {}},
				"size": 199, "multiplicity": 1.0}}},
			{"name": "income", "statistics": {"name": "Optional", "optional": {"statistics": {"name": "Float", "float": {
				"distribution": {"double": {"min": 0, "max": 2500}}, "size": 199}}}}}
		], "size": "199", "multiplicity": 1.0}}}
	]}},
	"properties": {}
}`

func testDataset(t *testing.T) *Dataset {
	t.Helper()
	ds, err := FromWire(testDatasetJSON, testSchemaJSON, testSizeJSON)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	return ds
}

func TestFromWire(t *testing.T) {
	ds := testDataset(t)
	rels := ds.Relations()
	var paths []string
	for _, r := range rels {
		paths = append(paths, strings.Join(r.Path, "."))
	}
	if diff := cmp.Diff([]string{"extract.census", "extract.regions"}, paths); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}
	census := rels[0].Relation
	if got, want := census.Schema().String(), "{age: int, workclass: str, hours: int[1 99], income: option(float[0 5000])}"; got != want {
		t.Errorf("census schema = %s, want %s", got, want)
	}
	if min, max := census.Size(); min != 0 || max != 199 {
		t.Errorf("census size = [%d, %d], want [0, 199]", min, max)
	}
	if got := census.Bounds["age"]; got != (datatype.Interval{Lo: 17, Hi: 90}) {
		t.Errorf("age bounds = %v", got)
	}
	if _, max := rels[1].Relation.Size(); max != -1 {
		t.Errorf("regions max size = %d, want unbounded", max)
	}
	if !ds.IsPublic([]string{"extract", "regions"}) || ds.IsPublic([]string{"extract", "census"}) {
		t.Errorf("only regions should be public")
	}
	if n, ok := ds.Size([]string{"census"}); !ok || n != 199 {
		t.Errorf("Size(census) = %d, %v", n, ok)
	}
	d, ok := ds.Statistics([]string{"census"}, "income")
	if !ok || d.Min != 0 || d.Max != 2500 {
		t.Errorf("Statistics(census, income) = %+v, %v", d, ok)
	}
}

func TestFromWireMalformed(t *testing.T) {
	tests := []struct {
		name                  string
		dataset, schema, size string
	}{
		{"dataset not json", `{"uuid": `, testSchemaJSON, testSizeJSON},
		{"dataset without uuid", `{"name": "x"}`, testSchemaJSON, testSizeJSON},
		{"schema without type", testDatasetJSON, `{"uuid": "s", "name": "extract"}`, ""},
		{"schema with wrong shape", testDatasetJSON, `{"uuid": "s", "name": "extract", "type": []}`, ""},
		{"inverted bounds", testDatasetJSON, `{"uuid": "s", "name": "extract", "type": {"name": "Union", "union": {"fields": [
			{"name": "t", "type": {"name": "Struct", "struct": {"fields": [
				{"name": "x", "type": {"name": "Integer", "integer": {"min": 5, "max": 1}}}]}}}]}}}`, ""},
		{"leaf at namespace level", testDatasetJSON, `{"uuid": "s", "name": "extract", "type": {"name": "Union", "union": {"fields": [
			{"name": "x", "type": {"name": "Integer", "integer": {}}}]}}}`, ""},
		{"size without statistics", testDatasetJSON, testSchemaJSON, `{"uuid": "z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromWire(tt.dataset, tt.schema, tt.size)
			if !errors.Is(err, qerrors.ErrMalformedInput) {
				t.Errorf("got %v, want MalformedInput", err)
			}
		})
	}
}

func TestWithRangeNarrowsRelation(t *testing.T) {
	ds := testDataset(t)
	ranged, err := ds.WithRange([]string{"extract", "census", "age"}, 20, 42)
	if err != nil {
		t.Fatalf("WithRange: %v", err)
	}
	r, err := ranged.Relation("SELECT age FROM extract.census", dialect.PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	if got, want := r.Schema().String(), "{age: int[20 42]}"; got != want {
		t.Errorf("schema = %s, want %s", got, want)
	}

	// The receiver is unchanged.
	r, err = ds.Relation("SELECT age FROM extract.census", dialect.PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	if got, want := r.Schema().String(), "{age: int}"; got != want {
		t.Errorf("original schema = %s, want %s", got, want)
	}
}

func TestWithPossibleValuesNarrowsRelation(t *testing.T) {
	ds := testDataset(t)
	pv, err := ds.WithPossibleValuesAt("extract", "census", "workclass", []string{"Private", "Local-gov"})
	if err != nil {
		t.Fatalf("WithPossibleValuesAt: %v", err)
	}
	r, err := pv.Relation("SELECT workclass FROM extract.census", dialect.PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	if got, want := r.Schema().String(), "{workclass: str{Local-gov, Private}}"; got != want {
		t.Errorf("schema = %s, want %s", got, want)
	}
}

func TestWithConstraintRoundTrip(t *testing.T) {
	ds := testDataset(t)
	uniq, err := ds.WithConstraintAt("", "census", "age", datatype.ConstraintUnique)
	if err != nil {
		t.Fatalf("WithConstraintAt: %v", err)
	}
	dsJSON, _ := uniq.DatasetJSON()
	schemaJSON, _ := uniq.SchemaJSON()
	sizeJSON, _ := uniq.SizeJSON()
	back, err := FromWire(dsJSON, schemaJSON, sizeJSON)
	if err != nil {
		t.Fatalf("FromWire(round trip): %v", err)
	}
	got := back.Relations()[0].Relation.Schema()
	if got[0].Constraint != datatype.ConstraintUnique {
		t.Errorf("age constraint = %v, want UNIQUE", got[0].Constraint)
	}
	if diff := cmp.Diff(uniq.String(), back.String()); diff != "" {
		t.Errorf("round trip changed the dataset (-want +got):\n%s", diff)
	}
}

func TestMutatorErrors(t *testing.T) {
	ds := testDataset(t)
	twice, err := ds.FromQueries([]NamedQuery{
		{Path: []string{"bands", "a", "t"}, Query: "SELECT age FROM census"},
		{Path: []string{"bands", "b", "t"}, Query: "SELECT age FROM census"},
	}, dialect.PostgreSql)
	if err != nil {
		t.Fatalf("FromQueries: %v", err)
	}
	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"unknown column", func() error {
			_, err := ds.WithRange([]string{"census", "salary"}, 0, 1)
			return err
		}, qerrors.ErrFieldNotFound},
		{"unknown table", func() error {
			_, err := ds.WithRange([]string{"people", "age"}, 0, 1)
			return err
		}, qerrors.ErrFieldNotFound},
		{"range on text", func() error {
			_, err := ds.WithRange([]string{"census", "workclass"}, 0, 1)
			return err
		}, qerrors.ErrTypeMismatch},
		{"inverted range", func() error {
			_, err := ds.WithRange([]string{"census", "age"}, 10, 1)
			return err
		}, qerrors.ErrTypeMismatch},
		{"values on float", func() error {
			_, err := ds.WithPossibleValues([]string{"census", "income"}, []string{"1"})
			return err
		}, qerrors.ErrTypeMismatch},
		{"non integer value", func() error {
			_, err := ds.WithPossibleValues([]string{"census", "hours"}, []string{"ten"})
			return err
		}, qerrors.ErrTypeMismatch},
		{"optional primary key", func() error {
			_, err := ds.WithConstraint([]string{"census", "income"}, datatype.ConstraintPrimaryKey)
			return err
		}, qerrors.ErrTypeMismatch},
		{"ambiguous suffix", func() error {
			_, err := twice.WithRange([]string{"t", "age"}, 0, 1)
			return err
		}, qerrors.ErrUnresolvedReference},
		{"unknown table in query", func() error {
			_, err := ds.Relation("SELECT * FROM people", dialect.PostgreSql)
			return err
		}, qerrors.ErrUnresolvedReference},
		{"bad query", func() error {
			_, err := ds.Relation("SELECT age FROM census WHERE", dialect.PostgreSql)
			return err
		}, qerrors.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFromQueries(t *testing.T) {
	ds := testDataset(t)
	ranged, err := ds.WithRange([]string{"census", "age"}, 0, 120)
	if err != nil {
		t.Fatal(err)
	}
	derived, err := ranged.FromQueries([]NamedQuery{
		{Path: []string{"bands", "young", "census"}, Query: "SELECT * FROM extract.census WHERE age < 18 AND age > 0"},
		{Path: []string{"bands", "adult", "census"}, Query: "SELECT age, hours FROM extract.census WHERE age >= 18 AND age < 120"},
		{Path: []string{"bands", "regions"}, Query: "SELECT code FROM regions"},
	}, dialect.PostgreSql)
	if err != nil {
		t.Fatalf("FromQueries: %v", err)
	}
	if derived.UUID() == ranged.UUID() {
		t.Errorf("derived dataset kept the uuid %s", derived.UUID())
	}
	tests := []struct {
		path   []string
		schema string
		size   int64
	}{
		{[]string{"bands", "young", "census"}, "{age: int[1 17], workclass: str, hours: int[1 99], income: option(float[0 5000])}", 199},
		{[]string{"bands", "adult", "census"}, "{age: int[18 119], hours: int[1 99]}", 199},
		{[]string{"bands", "regions"}, "{code: int[1 5]}", -1},
	}
	rels := derived.Relations()
	if len(rels) != len(tests) {
		t.Fatalf("got %d relations, want %d", len(rels), len(tests))
	}
	for i, tt := range tests {
		if diff := cmp.Diff(tt.path, rels[i].Path); diff != "" {
			t.Errorf("path %d (-want +got):\n%s", i, diff)
		}
		if got := rels[i].Relation.Schema().String(); got != tt.schema {
			t.Errorf("%v schema = %s, want %s", tt.path, got, tt.schema)
		}
		if n, _ := derived.Size(tt.path); n != tt.size {
			t.Errorf("%v size = %d, want %d", tt.path, n, tt.size)
		}
	}
	if !derived.IsPublic([]string{"bands", "regions"}) || derived.IsPublic([]string{"bands", "adult", "census"}) {
		t.Errorf("public flags not carried over")
	}

	// The derived tables answer queries of their own.
	r, err := derived.Relation("SELECT MAX(age) AS oldest FROM adult.census", dialect.PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	if got, want := r.Schema().String(), "{oldest: int[18 119]}"; got != want {
		t.Errorf("schema = %s, want %s", got, want)
	}
}

func TestFromQueriesIsAtomic(t *testing.T) {
	ds := testDataset(t)
	tests := []struct {
		name    string
		queries []NamedQuery
		want    error
	}{
		{"unresolved table", []NamedQuery{
			{Path: []string{"s", "ok"}, Query: "SELECT age FROM census"},
			{Path: []string{"s", "bad"}, Query: "SELECT age FROM nowhere"},
		}, qerrors.ErrUnresolvedReference},
		{"duplicate path", []NamedQuery{
			{Path: []string{"s", "t"}, Query: "SELECT age FROM census"},
			{Path: []string{"s", "t"}, Query: "SELECT hours FROM census"},
		}, qerrors.ErrDuplicateName},
		{"two schemas", []NamedQuery{
			{Path: []string{"s", "t"}, Query: "SELECT age FROM census"},
			{Path: []string{"u", "t"}, Query: "SELECT age FROM census"},
		}, qerrors.ErrMalformedInput},
		{"short path", []NamedQuery{{Path: []string{"t"}, Query: "SELECT age FROM census"}}, qerrors.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ds.FromQueries(tt.queries, dialect.PostgreSql)
			if got != nil || !errors.Is(err, tt.want) {
				t.Errorf("got %v, %v, want nil, %v", got, err, tt.want)
			}
		})
	}
}

func TestParseConstraint(t *testing.T) {
	tests := map[string]datatype.Constraint{
		"":              datatype.ConstraintNone,
		"Unique":        datatype.ConstraintUnique,
		"_UNIQUE_":      datatype.ConstraintUnique,
		"PrimaryKey":    datatype.ConstraintPrimaryKey,
		"_PRIMARY_KEY_": datatype.ConstraintPrimaryKey,
	}
	for in, want := range tests {
		got, err := ParseConstraint(in)
		if err != nil || got != want {
			t.Errorf("ParseConstraint(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseConstraint("foreign"); !errors.Is(err, qerrors.ErrMalformedInput) {
		t.Errorf("ParseConstraint(foreign) = %v", err)
	}
}

func TestAdministrativeColumns(t *testing.T) {
	schema := `{"uuid": "s", "name": "shop", "type": {"name": "shop", "struct": {"fields": [
		{"name": "sarus_data", "type": {"name": "Union", "union": {"fields": [
			{"name": "users", "type": {"name": "Struct", "struct": {"fields": [
				{"name": "id", "type": {"name": "Integer", "integer": {"min": 0, "max": 100}}},
				{"name": "sarus_weights", "type": {"name": "Float64", "float": {}}}
			]}}}
		]}, "properties": {"public_fields": "[]"}}},
		{"name": "sarus_is_public", "type": {"name": "Boolean", "boolean": {}}},
		{"name": "sarus_privacy_unit", "type": {"name": "Optional", "optional": {"type": {"name": "Id", "id": {"base": "STRING"}}}}},
		{"name": "sarus_weights", "type": {"name": "Float64", "float": {"min": 0}}}
	]}}}`
	ds, err := FromWire(testDatasetJSON, schema, "")
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	rels := ds.Relations()
	if len(rels) != 1 {
		t.Fatalf("got %d relations, want 1", len(rels))
	}
	if diff := cmp.Diff([]string{"shop", "users"}, rels[0].Path); diff != "" {
		t.Errorf("path (-want +got):\n%s", diff)
	}
	if got, want := rels[0].Relation.Schema().String(), "{id: int[0 100]}"; got != want {
		t.Errorf("schema = %s, want %s", got, want)
	}
	updated, err := ds.WithRange([]string{"users", "id"}, 1, 10)
	if err != nil {
		t.Fatalf("WithRange through sarus_data: %v", err)
	}
	if got, want := updated.Relations()[0].Relation.Schema().String(), "{id: int[1 10]}"; got != want {
		t.Errorf("schema = %s, want %s", got, want)
	}
	if _, err := ds.WithRange([]string{"users", "sarus_weights"}, 0, 1); !errors.Is(err, qerrors.ErrFieldNotFound) {
		t.Errorf("administrative column is addressable: %v", err)
	}
}

// Mutating two different columns gives the same dataset in either order.
func TestMutationsCommute(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	ds := testDataset(t)
	properties.Property("with_range and with_possible_values commute", prop.ForAll(
		func(lo, width int64, values []string) bool {
			rangeFirst, err := ds.WithRange([]string{"census", "age"}, float64(lo), float64(lo+width))
			if err != nil {
				return false
			}
			rangeFirst, err = rangeFirst.WithPossibleValues([]string{"census", "workclass"}, values)
			if err != nil {
				return false
			}
			valuesFirst, err := ds.WithPossibleValues([]string{"census", "workclass"}, values)
			if err != nil {
				return false
			}
			valuesFirst, err = valuesFirst.WithRange([]string{"census", "age"}, float64(lo), float64(lo+width))
			if err != nil {
				return false
			}
			a, _ := rangeFirst.SchemaJSON()
			b, _ := valuesFirst.SchemaJSON()
			return a == b && rangeFirst.String() == valuesFirst.String()
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(0, 1000),
		gen.SliceOf(gen.AlphaString()),
	))
	properties.TestingRun(t)
}
