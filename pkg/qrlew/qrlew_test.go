package qrlew

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

const datasetJSON = `{"uuid": "4f3e2d1c0b0a49f8e7d6c5b4a3928170", "name": "library"}`

const schemaJSON = `{
	"uuid": "1a2b3c4d5e6f4a7b8c9d0e1f2a3b4c5d",
	"name": "library",
	"type": {"name": "Union", "union": {"fields": [
		{"name": "readers", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 500}}},
			{"name": "age", "type": {"name": "Integer", "integer": {"min": 7, "max": 99}}}
		]}}},
		{"name": "loans", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "reader_id", "type": {"name": "Integer", "integer": {"min": 1, "max": 500}}},
			{"name": "days", "type": {"name": "Integer", "integer": {"min": 0, "max": 60}}}
		]}}}
	]}}
}`

const sizeJSON = `{
	"uuid": "8e7d6c5b4a3942e1d0c9b8a7f6e5d4c3",
	"statistics": {"name": "Union", "union": {"fields": [
		{"name": "readers", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 500}}},
		{"name": "loans", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 4000}}}
	]}}
}`

const unitJSON = `[["readers", [], "id"], ["loans", [["reader_id", "readers", "id"]], "id"]]`

func library(t *testing.T) (*Dataset, *PrivacyUnit) {
	t.Helper()
	ds, err := NewDataset(datasetJSON, schemaJSON, sizeJSON)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	pu, err := ParsePrivacyUnit(unitJSON)
	if err != nil {
		t.Fatalf("ParsePrivacyUnit: %v", err)
	}
	return ds, pu
}

func TestDatasetRelations(t *testing.T) {
	ds, _ := library(t)
	if ds.Name() != "library" {
		t.Errorf("Name() = %s", ds.Name())
	}
	var names []string
	for _, nr := range ds.Relations() {
		names = append(names, nr.Path[len(nr.Path)-1])
		if _, max := nr.Relation.Size(); max <= 0 {
			t.Errorf("%v has no size", nr.Path)
		}
	}
	if diff := cmp.Diff([]string{"readers", "loans"}, names); diff != "" {
		t.Errorf("relations mismatch (-want +got):\n%s", diff)
	}
}

func TestRelationRendering(t *testing.T) {
	ds, _ := library(t)
	r, err := ds.Relation("SELECT reader_id, COUNT(*) AS n FROM loans GROUP BY reader_id", PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	if !strings.Contains(r.Schema(), "n") || !strings.Contains(r.Schema(), "reader_id") {
		t.Errorf("Schema() = %s", r.Schema())
	}
	if r.String() != r.ToQuery(PostgreSql) {
		t.Error("String() should render in PostgreSql")
	}
	if !strings.HasPrefix(strings.TrimSpace(r.ToQuery(MsSql)), "WITH") {
		t.Errorf("ToQuery(MsSql) = %s", r.ToQuery(MsSql))
	}
	if !strings.Contains(r.Dot(), "digraph") {
		t.Errorf("Dot() = %s", r.Dot())
	}
	if typ, err := r.Type(); err != nil || typ == "" {
		t.Errorf("Type() = %q, %v", typ, err)
	}
}

func TestRelationStructuralOps(t *testing.T) {
	ds, _ := library(t)
	r, err := ds.Relation("SELECT reader_id, days FROM loans", PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}

	renamed, err := r.RenameFields(map[string]string{"days": "duration"})
	if err != nil {
		t.Fatalf("RenameFields: %v", err)
	}
	if !strings.Contains(renamed.Schema(), "duration") {
		t.Errorf("renamed schema = %s", renamed.Schema())
	}
	if _, err := r.RenameFields(map[string]string{"nope": "x"}); !errors.Is(err, qerrors.ErrFieldNotFound) {
		t.Errorf("RenameFields(unknown) error = %v", err)
	}

	withWeeks, err := r.WithField("weeks", "days / 7", PostgreSql)
	if err != nil {
		t.Fatalf("WithField: %v", err)
	}
	if !strings.HasPrefix(withWeeks.Schema(), "{weeks") {
		t.Errorf("WithField should prepend, got %s", withWeeks.Schema())
	}

	inner, err := ds.Relation("SELECT reader_id, days FROM loans WHERE days < 30", PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	composed, err := r.Compose([]NamedRelation{{Path: []string{"loans"}, Relation: inner}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if composed.Name() == r.Name() {
		t.Error("Compose returned the same relation")
	}
}

func TestWithRange(t *testing.T) {
	ds, _ := library(t)
	narrowed, err := ds.WithRange("", "loans", "days", 0, 14)
	if err != nil {
		t.Fatalf("WithRange: %v", err)
	}
	r, err := narrowed.Relation("SELECT days FROM loans", PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	if !strings.Contains(r.Schema(), "14") {
		t.Errorf("narrowed schema = %s", r.Schema())
	}
	if _, err := ds.WithConstraint("", "readers", "id", "sorted"); err == nil {
		t.Error("expected an error for an unknown constraint")
	}
}

func TestRewriteAsPrivacyUnitPreserving(t *testing.T) {
	ds, pu := library(t)
	r, err := ds.Relation("SELECT reader_id, days FROM loans", PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	budget := map[string]float64{"epsilon": 1, "delta": 1e-5}
	m := 3.0
	res, err := r.RewriteAsPrivacyUnitPreserving(ds, pu, budget, &RewriteOptions{MaxMultiplicity: &m})
	if err != nil {
		t.Fatalf("RewriteAsPrivacyUnitPreserving: %v", err)
	}
	if eps, delta := res.Spent(); eps != 0 || delta != 0 {
		t.Errorf("PUP rewrite spent (%v, %v)", eps, delta)
	}
	if len(res.DpEvent()) == 0 {
		t.Error("empty event")
	}
	if res.Relation().ToQuery(PostgreSql) == "" {
		t.Error("empty query")
	}

	if _, err := r.RewriteAsPrivacyUnitPreserving(ds, pu, map[string]float64{"epsilon": 1}, nil); !errors.Is(err, qerrors.ErrMissingKey) {
		t.Errorf("missing delta error = %v", err)
	}
	if _, err := r.RewriteAsPrivacyUnitPreserving(ds, nil, budget, nil); !errors.Is(err, qerrors.ErrInvalidPrivacyUnitSpec) {
		t.Errorf("nil unit error = %v", err)
	}
}

func TestRewriteWithDifferentialPrivacy(t *testing.T) {
	ds, pu := library(t)
	r, err := ds.Relation("SELECT COUNT(*) AS n FROM loans", PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	res, err := r.RewriteWithDifferentialPrivacy(ds, pu, map[string]float64{"epsilon": 1, "delta": 1e-5}, nil)
	if err != nil {
		t.Fatalf("RewriteWithDifferentialPrivacy: %v", err)
	}
	eps, delta := res.Spent()
	if eps <= 0 || eps > 1 || delta > 1e-5 {
		t.Errorf("spent (%v, %v) exceeds the budget", eps, delta)
	}

	rows, err := ds.Relation("SELECT reader_id, days FROM loans", PostgreSql)
	if err != nil {
		t.Fatalf("Relation: %v", err)
	}
	_, err = rows.RewriteWithDifferentialPrivacy(ds, pu, map[string]float64{"epsilon": 1, "delta": 1e-5}, nil)
	if !errors.Is(err, qerrors.ErrUnreachableProperty) {
		t.Errorf("row release error = %v, want UNREACHABLE_PROPERTY", err)
	}

	if _, err := r.RewriteWithDifferentialPrivacy(ds, pu, map[string]float64{"epsilon": 1, "delta": 1e-5}, &RewriteOptions{Mechanism: "gaussian"}); err != nil {
		t.Errorf("gaussian rewrite: %v", err)
	}
	if _, err := r.RewriteWithDifferentialPrivacy(ds, pu, map[string]float64{"epsilon": 1, "delta": 1e-5}, &RewriteOptions{Mechanism: "cauchy"}); qerrors.GetCode(err) != qerrors.CodeMalformedInput {
		t.Errorf("unknown mechanism error = %v", err)
	}
}

func TestTablesPrefix(t *testing.T) {
	got, err := TablesPrefix("SELECT * FROM sales.orders JOIN crm.users USING (id)", PostgreSql)
	if err != nil {
		t.Fatalf("TablesPrefix: %v", err)
	}
	if diff := cmp.Diff([]string{"sales", "crm"}, got); diff != "" {
		t.Errorf("prefixes mismatch (-want +got):\n%s", diff)
	}
	if d, err := ParseDialect(""); err != nil || d != PostgreSql {
		t.Errorf("ParseDialect(\"\") = %v, %v", d, err)
	}
}
