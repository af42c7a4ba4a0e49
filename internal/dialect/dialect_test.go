package dialect

import (
	"errors"
	"testing"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		want Dialect
	}{
		{"", PostgreSql},
		{"postgres", PostgreSql},
		{"PostgreSql", PostgreSql},
		{"mssql", MsSql},
		{"BigQuery", BigQuery},
		{"mysql", MySql},
		{"hive", Hive},
		{"databricks", Databricks},
		{"redshift", RedshiftSql},
		{"sqlite3", SQLite},
	}
	for _, tt := range tests {
		got, err := Parse(tt.name)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
	if _, err := Parse("oracle"); !errors.Is(err, qerrors.ErrMalformedInput) {
		t.Errorf("got %v, want MALFORMED_INPUT", err)
	}
}

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		d    Dialect
		want string
	}{
		{PostgreSql, `"my""col"`},
		{MsSql, `[my"col]`},
		{BigQuery, "`my\"col`"},
	}
	for _, tt := range tests {
		if got := tt.d.QuoteIdent(`my"col`); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.d, got, tt.want)
		}
	}
	if got := PostgreSql.QuotePath([]string{"extract", "census"}); got != `"extract"."census"` {
		t.Errorf("got %s", got)
	}
}

func TestIdent(t *testing.T) {
	tests := []struct {
		d          Dialect
		name, want string
	}{
		{PostgreSql, "age", "age"},
		{PostgreSql, "field_3f2a", "field_3f2a"},
		{PostgreSql, "Age", `"Age"`},
		{PostgreSql, "order", `"order"`},
		{PostgreSql, "1st", `"1st"`},
		{MsSql, "user", "[user]"},
		{BigQuery, "my col", "`my col`"},
	}
	for _, tt := range tests {
		if got := tt.d.Ident(tt.name); got != tt.want {
			t.Errorf("%s.Ident(%q) = %s, want %s", tt.d, tt.name, got, tt.want)
		}
	}
}

func TestFunction(t *testing.T) {
	tests := []struct {
		d    Dialect
		name string
		args []string
		want string
	}{
		{PostgreSql, "MD5", []string{"x"}, "MD5(x)"},
		{BigQuery, "MD5", []string{"x"}, "TO_HEX(MD5(x))"},
		{PostgreSql, "RANDOM", nil, "RANDOM()"},
		{MySql, "RANDOM", nil, "RAND()"},
		{SQLite, "GREATEST", []string{"a", "b"}, "MAX(a, b)"},
		{SQLite, "CONCAT", []string{"a", "b"}, "(a || b)"},
		{PostgreSql, "YEAR", []string{"d"}, "EXTRACT(YEAR FROM d)"},
		{MsSql, "LN", []string{"x"}, "LOG(x)"},
	}
	for _, tt := range tests {
		if got := tt.d.Function(tt.name, tt.args); got != tt.want {
			t.Errorf("%s %s: got %s, want %s", tt.d, tt.name, got, tt.want)
		}
	}
}

func TestLimit(t *testing.T) {
	if got := PostgreSql.Limit(10, 0, false); got != " LIMIT 10" {
		t.Errorf("got %q", got)
	}
	if got := PostgreSql.Limit(10, 5, true); got != " LIMIT 10 OFFSET 5" {
		t.Errorf("got %q", got)
	}
	if got := MsSql.Limit(10, 0, false); got != " ORDER BY (SELECT NULL) OFFSET 0 ROWS FETCH NEXT 10 ROWS ONLY" {
		t.Errorf("got %q", got)
	}
	if got := SQLite.Limit(-1, 3, false); got != " LIMIT -1 OFFSET 3" {
		t.Errorf("got %q", got)
	}
}
