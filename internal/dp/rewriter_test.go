package dp

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/qrlew/qrlew-go/internal/datatype"
	"github.com/qrlew/qrlew-go/internal/dataset"
	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
	"github.com/qrlew/qrlew-go/internal/expr"
	"github.com/qrlew/qrlew-go/internal/privacy"
	"github.com/qrlew/qrlew-go/internal/reflect"
	"github.com/qrlew/qrlew-go/internal/relation"
)

const storeDatasetJSON = `{
	"@type": "sarus_data_spec/sarus_data_spec.Dataset",
	"uuid": "9e8d7c6b5a4f43e2b1c0d9e8f7a6b5c4",
	"name": "shop",
	"spec": {},
	"properties": {}
}`

const storeSchemaJSON = `{
	"@type": "sarus_data_spec/sarus_data_spec.Schema",
	"uuid": "0a1b2c3d4e5f46a7b8c9d0e1f2a3b4c5",
	"dataset": "9e8d7c6b5a4f43e2b1c0d9e8f7a6b5c4",
	"name": "shop",
	"type": {"name": "Union", "union": {"fields": [
		{"name": "users", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 1000}}},
			{"name": "age", "type": {"name": "Integer", "integer": {"min": 18, "max": 90}}},
			{"name": "city", "type": {"name": "Text UTF-8", "text": {"possible_values": ["Lyon", "Paris"]}}}
		]}}},
		{"name": "orders", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "id", "type": {"name": "Integer", "integer": {"min": 1, "max": 100000}}},
			{"name": "user_id", "type": {"name": "Integer", "integer": {"min": 1, "max": 1000}}},
			{"name": "amount", "type": {"name": "Float64", "float": {"min": 0, "max": 100}}}
		]}}},
		{"name": "regions", "type": {"name": "Struct", "struct": {"fields": [
			{"name": "code", "type": {"name": "Integer", "integer": {"min": 1, "max": 5}}},
			{"name": "label", "type": {"name": "Text UTF-8", "text": {}}}
		]}}}
	]}, "properties": {"public_fields": "[\"regions\"]"}}
}`

const storeSizeJSON = `{
	"uuid": "5c4b3a2f1e0d4c9b8a7f6e5d4c3b2a1f",
	"dataset": "9e8d7c6b5a4f43e2b1c0d9e8f7a6b5c4",
	"statistics": {"name": "Union", "union": {"fields": [
		{"name": "users", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 100}}},
		{"name": "orders", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 10000}}},
		{"name": "regions", "statistics": {"name": "Struct", "struct": {"fields": [], "size": 5}}}
	]}}
}`

func storeDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.FromWire(storeDatasetJSON, storeSchemaJSON, storeSizeJSON)
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	return ds
}

func storeUnit() *privacy.PrivacyUnit {
	return &privacy.PrivacyUnit{Entries: []privacy.Entry{
		{Table: "users", Key: "id"},
		{Table: "orders", Path: []privacy.Step{{LocalKey: "user_id", ForeignTable: "users", ForeignKey: "id"}}, Key: "id"},
	}}
}

func rewrite(ds *dataset.Dataset, query string, params Parameters) (*RelationWithDpEvent, relation.Relation, error) {
	r, err := ds.Relation(query, dialect.PostgreSql)
	if err != nil {
		return nil, nil, err
	}
	w, err := NewRewriter(ds, storeUnit(), params)
	if err != nil {
		return nil, nil, err
	}
	res, err := w.Rewrite(r)
	return res, r, err
}

func eventClasses(e Event) string {
	c, ok := e.(Composed)
	if !ok {
		return e.ToDict()["class_name"].(string)
	}
	names := make([]string, len(c.Events))
	for i, ev := range c.Events {
		names[i] = ev.ToDict()["class_name"].(string)
	}
	return strings.Join(names, ",")
}

// checkContained fails unless every output field of got fits the type of
// the same field in want.
func checkContained(t *testing.T, want, got relation.Relation) {
	t.Helper()
	if diff := cmp.Diff(want.Schema().Names(), got.Schema().Names()); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
	for i, f := range got.Schema() {
		if !datatype.Contains(want.Schema()[i].Type, f.Type) {
			t.Errorf("%s: %s is not contained in %s", f.Name, f.Type, want.Schema()[i].Type)
		}
	}
}

func TestRewriteAggregations(t *testing.T) {
	ds := storeDataset(t)
	tests := []struct {
		name       string
		query      string
		budget     Budget
		wantEvents string
		wantSpent  Budget
	}{
		{
			name:       "count",
			query:      "SELECT COUNT(*) FROM shop.orders",
			budget:     Budget{Epsilon: 1, Delta: 1e-5},
			wantEvents: "LaplaceDpEvent",
			wantSpent:  Budget{Epsilon: 1},
		},
		{
			name:       "sum and avg share the slice",
			query:      "SELECT SUM(amount) AS total, AVG(amount) AS mean FROM shop.orders",
			budget:     Budget{Epsilon: 3, Delta: 1e-5},
			wantEvents: "LaplaceDpEvent,LaplaceDpEvent,LaplaceDpEvent",
			wantSpent:  Budget{Epsilon: 3},
		},
		{
			name:       "public partitions",
			query:      "SELECT city, COUNT(*) FROM shop.users GROUP BY city",
			budget:     Budget{Epsilon: 1, Delta: 1e-5},
			wantEvents: "LaplaceDpEvent",
			wantSpent:  Budget{Epsilon: 1},
		},
		{
			name:       "thresholded groups",
			query:      "SELECT age, COUNT(*) FROM shop.users GROUP BY age",
			budget:     Budget{Epsilon: 10, Delta: 1e-3},
			wantEvents: "EpsilonDeltaDpEvent,LaplaceDpEvent",
			wantSpent:  Budget{Epsilon: 10, Delta: 1e-3},
		},
		{
			name:       "two aggregations split the budget",
			query:      "SELECT COUNT(*) FROM shop.orders UNION SELECT COUNT(*) FROM shop.users",
			budget:     Budget{Epsilon: 20, Delta: 1e-5},
			wantEvents: "LaplaceDpEvent,LaplaceDpEvent",
			wantSpent:  Budget{Epsilon: 20},
		},
		{
			name:       "min of a group key is exact",
			query:      "SELECT city, MIN(city) AS first_city, COUNT(*) AS n FROM shop.users GROUP BY city",
			budget:     Budget{Epsilon: 1, Delta: 1e-5},
			wantEvents: "LaplaceDpEvent",
			wantSpent:  Budget{Epsilon: 1},
		},
	}
	approx := cmpopts.EquateApprox(0, 1e-9)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, original, err := rewrite(ds, tt.query, DefaultParameters(tt.budget))
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			checkContained(t, original, res.Relation)
			if got := eventClasses(res.Event); got != tt.wantEvents {
				t.Errorf("events = %s, want %s", got, tt.wantEvents)
			}
			if diff := cmp.Diff(tt.wantSpent, res.Spent, approx); diff != "" {
				t.Errorf("spent mismatch (-want +got):\n%s", diff)
			}
			eps, delta, err := res.Event.EpsilonDelta(0)
			if err != nil {
				t.Fatalf("EpsilonDelta: %v", err)
			}
			if !cmp.Equal(eps, res.Spent.Epsilon, approx) || !cmp.Equal(delta, res.Spent.Delta, approx) {
				t.Errorf("event cost (%g, %g) differs from spent %+v", eps, delta, res.Spent)
			}
		})
	}
}

func TestRewriteWithoutProtectedData(t *testing.T) {
	ds := storeDataset(t)
	res, original, err := rewrite(ds, "SELECT code, label FROM shop.regions", DefaultParameters(Budget{Epsilon: 1}))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if _, ok := res.Event.(NoOp); !ok {
		t.Errorf("event = %s, want NoOp", res.Event)
	}
	if res.Spent != (Budget{}) {
		t.Errorf("spent = %+v, want nothing", res.Spent)
	}
	checkContained(t, original, res.Relation)
}

func TestRewriteErrors(t *testing.T) {
	ds := storeDataset(t)
	tests := []struct {
		name   string
		query  string
		budget Budget
		want   error
	}{
		{"releases rows", "SELECT * FROM shop.users", Budget{Epsilon: 1, Delta: 1e-5}, qerrors.ErrUnreachableProperty},
		{"variance", "SELECT VARIANCE(amount) FROM shop.orders", Budget{Epsilon: 1, Delta: 1e-5}, qerrors.ErrUnreachableProperty},
		{"max of a value", "SELECT MAX(amount) FROM shop.orders", Budget{Epsilon: 1, Delta: 1e-5}, qerrors.ErrUnreachableProperty},
		{"noise wider than the range", "SELECT COUNT(*) FROM shop.users", Budget{Epsilon: 0.01, Delta: 1e-5}, qerrors.ErrInsufficientBudget},
		{"thresholding without delta", "SELECT age, COUNT(*) FROM shop.users GROUP BY age", Budget{Epsilon: 10}, qerrors.ErrInsufficientBudget},
		{"threshold above the row count", "SELECT age, COUNT(*) FROM shop.users GROUP BY age", Budget{Epsilon: 1, Delta: 1e-5}, qerrors.ErrInsufficientBudget},
		{"tiny epsilon", "SELECT COUNT(*) FROM shop.orders", Budget{Epsilon: 1e-7, Delta: 1e-5}, qerrors.ErrInsufficientBudget},
		{"invalid budget", "SELECT COUNT(*) FROM shop.orders", Budget{Epsilon: 0, Delta: 1e-5}, qerrors.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := rewrite(ds, tt.query, DefaultParameters(tt.budget))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGaussianMechanism(t *testing.T) {
	ds := storeDataset(t)
	params := DefaultParameters(Budget{Epsilon: 0.9, Delta: 1e-3})
	params.Mechanism = MechanismGaussian
	res, _, err := rewrite(ds, "SELECT COUNT(*) FROM shop.orders", params)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	events := res.Event.(Composed).Events
	if len(events) != 1 {
		t.Fatalf("events = %s, want a single Gaussian", res.Event)
	}
	g, ok := events[0].(Gaussian)
	if !ok {
		t.Fatalf("event = %s, want Gaussian", events[0])
	}
	want := math.Sqrt(2*math.Log(1.25/1e-3)) / 0.9
	if math.Abs(g.NoiseMultiplier-want) > 1e-9 {
		t.Errorf("noise multiplier = %g, want %g", g.NoiseMultiplier, want)
	}
	eps, _, err := g.EpsilonDelta(1e-3)
	if err != nil || math.Abs(eps-0.9) > 1e-9 {
		t.Errorf("EpsilonDelta = %g, %v; want 0.9", eps, err)
	}

	// Epsilon of 1 or more falls back to Laplace.
	params.Budget.Epsilon = 2
	res, _, err = rewrite(ds, "SELECT COUNT(*) FROM shop.orders", params)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got := eventClasses(res.Event); got != "LaplaceDpEvent" {
		t.Errorf("events = %s, want LaplaceDpEvent", got)
	}
}

func TestBudgetIsNeverExceeded(t *testing.T) {
	ds := storeDataset(t)
	queries := []interface{}{
		"SELECT COUNT(*) FROM shop.orders",
		"SELECT SUM(amount), AVG(amount) FROM shop.orders",
		"SELECT city, COUNT(*), SUM(age) FROM shop.users GROUP BY city",
		"SELECT age, COUNT(*) FROM shop.users GROUP BY age",
		"SELECT COUNT(*) FROM shop.orders UNION SELECT COUNT(*) FROM shop.users",
	}
	properties := gopter.NewProperties(nil)
	properties.Property("spent budget fits the requested one", prop.ForAll(
		func(query string, eps, delta float64, gaussian bool) bool {
			params := DefaultParameters(Budget{Epsilon: eps, Delta: delta})
			if gaussian {
				params.Mechanism = MechanismGaussian
			}
			res, _, err := rewrite(ds, query, params)
			if errors.Is(err, qerrors.ErrInsufficientBudget) {
				return true
			}
			if err != nil {
				return false
			}
			return res.Spent.Epsilon <= eps*(1+1e-9) && res.Spent.Delta <= delta*(1+1e-9)
		},
		gen.OneConstOf(queries...),
		gen.Float64Range(0.1, 20),
		gen.Float64Range(1e-8, 1e-2),
		gen.Bool(),
	))
	properties.TestingRun(t)
}

func TestArgBoundsFromStatistics(t *testing.T) {
	schema := relation.Schema{
		{Name: "x", Type: datatype.NewFloat()},
		{Name: "y", Type: datatype.NewFloat()},
	}
	table := relation.NewTable([]string{"s", "t"}, schema, 0, 10).
		WithBounds(map[string]datatype.Interval{"x": {Lo: -2, Hi: 5}})
	renamed, err := relation.NewMap(table, []relation.NamedExpr{
		{Name: "z", Expr: expr.Col("x")},
		{Name: "w", Expr: expr.Call(expr.FnPlus, expr.Col("y"), expr.Lit(1.0))},
	}, nil)
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}
	iv, err := argBounds(renamed, expr.Col("z"))
	if err != nil {
		t.Fatalf("argBounds(z): %v", err)
	}
	if iv != (datatype.Interval{Lo: -2, Hi: 5}) {
		t.Errorf("argBounds(z) = %v, want [-2, 5]", iv)
	}
	if _, err := argBounds(renamed, expr.Col("w")); !errors.Is(err, qerrors.ErrUnreachableProperty) {
		t.Errorf("argBounds(w) = %v, want UnreachableProperty", err)
	}
}

func TestPublicPartitions(t *testing.T) {
	schema := relation.Schema{
		{Name: "city", Type: datatype.TextValues("Lyon", "Paris")},
		{Name: "flag", Type: datatype.NewBoolean()},
		{Name: "age", Type: datatype.IntegerRange(0, 100)},
	}
	rows, ok := publicPartitions(schema, []string{"city", "flag"})
	if !ok {
		t.Fatalf("city, flag should be enumerable")
	}
	want := [][]interface{}{{"Lyon", false}, {"Lyon", true}, {"Paris", false}, {"Paris", true}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("partitions mismatch (-want +got):\n%s", diff)
	}
	if _, ok := publicPartitions(schema, []string{"city", "age"}); ok {
		t.Errorf("age has no declared values")
	}
	if _, ok := publicPartitions(schema, nil); ok {
		t.Errorf("no group keys means no partitions")
	}
}

func openStore(t *testing.T, users int, ordersPerUser int) *sql.DB {
	t.Helper()
	db, err := reflect.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	stmts := []string{
		`ATTACH DATABASE ':memory:' AS shop`,
		`CREATE TABLE shop.users (id INTEGER, age INTEGER, city TEXT)`,
		`CREATE TABLE shop.orders (id INTEGER, user_id INTEGER, amount REAL)`,
	}
	order := 0
	for u := 1; u <= users; u++ {
		city := "Lyon"
		if u%3 == 0 {
			city = "Paris"
		}
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO shop.users VALUES (%d, %d, '%s')`, u, 18+u%60, city))
		for i := 0; i < ordersPerUser; i++ {
			order++
			stmts = append(stmts, fmt.Sprintf(`INSERT INTO shop.orders VALUES (%d, %d, %d.25)`, order, u, order%100))
		}
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	return db
}

func TestRewrittenQueryRunsOnSQLite(t *testing.T) {
	ds := storeDataset(t)
	db := openStore(t, 60, 3)
	tests := []struct {
		query    string
		wantRows int
		lo, hi   float64
	}{
		{"SELECT city, COUNT(*) AS n FROM shop.users GROUP BY city", 2, 0, 100},
		{"SELECT SUM(amount) AS total FROM shop.orders", 1, 0, 1e6},
		{"SELECT AVG(amount) AS mean FROM shop.orders", 1, 0, 100},
		{"SELECT COUNT(*) AS n FROM shop.orders JOIN shop.users ON orders.user_id = users.id", 1, 0, 1e8},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, _, err := rewrite(ds, tt.query, DefaultParameters(Budget{Epsilon: 5, Delta: 1e-5}))
			if err != nil {
				t.Fatalf("Rewrite: %v", err)
			}
			names := res.Relation.Schema().Names()
			last := dialect.SQLite.QuoteIdent(names[len(names)-1])
			query := fmt.Sprintf("SELECT %s FROM (%s) AS t", last, relation.ToQuery(res.Relation, dialect.SQLite))
			rows, err := db.Query(query)
			if err != nil {
				t.Fatalf("%s: %v", query, err)
			}
			defer rows.Close()
			n := 0
			for rows.Next() {
				var v sql.NullFloat64
				if err := rows.Scan(&v); err != nil {
					t.Fatalf("scan: %v", err)
				}
				if !v.Valid || v.Float64 < tt.lo || v.Float64 > tt.hi {
					t.Errorf("value %v outside [%g, %g]", v, tt.lo, tt.hi)
				}
				n++
			}
			if err := rows.Err(); err != nil {
				t.Fatalf("rows: %v", err)
			}
			if n != tt.wantRows {
				t.Errorf("got %d rows, want %d", n, tt.wantRows)
			}
		})
	}
}
