package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/qrlew/qrlew-go/internal/dialect"
	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{
			"SELECT * FROM census",
			[]TokenType{TokenSelect, TokenStar, TokenFrom, TokenIdent, TokenEOF},
		},
		{
			"SELECT age, sex FROM census WHERE age = 1",
			[]TokenType{TokenSelect, TokenIdent, TokenComma, TokenIdent, TokenFrom, TokenIdent, TokenWhere, TokenIdent, TokenEq, TokenNumber, TokenEOF},
		},
		{
			"SELECT COUNT(*) FROM census WHERE workclass = 'Private'",
			[]TokenType{TokenSelect, TokenIdent, TokenLParen, TokenStar, TokenRParen, TokenFrom, TokenIdent, TokenWhere, TokenIdent, TokenEq, TokenString, TokenEOF},
		},
		{
			"a || b % 2 -- trailing comment",
			[]TokenType{TokenIdent, TokenConcat, TokenIdent, TokenPercent, TokenNumber, TokenEOF},
		},
		{
			`/* header */ "select" 1e-16`,
			[]TokenType{TokenIdent, TokenNumber, TokenEOF},
		},
	}

	for _, tt := range tests {
		lexer := NewLexer(tt.input)
		tokens := lexer.Tokenize()

		if len(tokens) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d", tt.input, len(tt.expected), len(tokens))
			continue
		}

		for i, tok := range tokens {
			if tok.Type != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], tok.Type)
			}
		}
	}
}

func TestLexerEscapedQuote(t *testing.T) {
	tokens := NewLexer("'it''s'").Tokenize()
	if tokens[0].Type != TokenString || tokens[0].Literal != "it's" {
		t.Errorf("got %v, want STRING it's", tokens[0])
	}
	tokens = NewLexer(`"a""b"`).Tokenize()
	if tokens[0].Type != TokenIdent || tokens[0].Literal != `a"b` || !tokens[0].Quoted {
		t.Errorf("got %v, want quoted IDENT a\"b", tokens[0])
	}
}

func TestLexerDialectQuotes(t *testing.T) {
	tests := []struct {
		d     dialect.Dialect
		input string
		want  TokenType
	}{
		{dialect.PostgreSql, `"my table"`, TokenIdent},
		{dialect.MsSql, `[my table]`, TokenIdent},
		{dialect.MsSql, `"my table"`, TokenIdent},
		{dialect.BigQuery, "`my table`", TokenIdent},
		{dialect.BigQuery, `"my table"`, TokenString},
	}
	for _, tt := range tests {
		tok := NewDialectLexer(tt.input, tt.d).NextToken()
		if tok.Type != tt.want || tok.Literal != "my table" {
			t.Errorf("%s %s: got %v, want %s", tt.d, tt.input, tok, tt.want)
		}
	}
}

func TestParseSimpleSelect(t *testing.T) {
	input := "SELECT * FROM census"
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected SelectStatement, got %T", stmt)
	}

	if len(sel.Columns) != 1 {
		t.Errorf("expected 1 column, got %d", len(sel.Columns))
	}

	ref, ok := sel.From.(*TableRef)
	if !ok || ref.Name() != "census" {
		t.Errorf("expected FROM census, got %v", sel.From)
	}
}

func TestParseQualifiedTable(t *testing.T) {
	stmt, err := Parse(`SELECT c.age FROM extract.census AS c`)
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*SelectStatement)
	ref := sel.From.(*TableRef)
	if diff := cmp.Diff([]string{"extract", "census"}, ref.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	if ref.Alias != "c" {
		t.Errorf("got alias %q, want c", ref.Alias)
	}
	col := sel.Columns[0].Expr.(*ColumnRef)
	if col.Table != "c" || col.Column != "age" {
		t.Errorf("got %v, want c.age", col)
	}
}

func TestParseSelectWithWhere(t *testing.T) {
	input := "SELECT age, sex FROM census WHERE age = 1"
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected SelectStatement, got %T", stmt)
	}

	if len(sel.Columns) != 2 {
		t.Errorf("expected 2 columns, got %d", len(sel.Columns))
	}

	if sel.Where == nil {
		t.Error("expected WHERE clause")
	}
}

func TestParseSelectWithGroupBy(t *testing.T) {
	input := "SELECT workclass, COUNT(*) FROM census GROUP BY workclass"
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected SelectStatement, got %T", stmt)
	}

	if len(sel.GroupBy) != 1 {
		t.Errorf("expected 1 GROUP BY column, got %d", len(sel.GroupBy))
	}
}

func TestParseSelectWithOrderByLimit(t *testing.T) {
	input := "SELECT * FROM census ORDER BY age DESC LIMIT 10 OFFSET 5"
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected SelectStatement, got %T", stmt)
	}

	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Desc {
		t.Errorf("expected 1 DESC ORDER BY clause, got %v", sel.OrderBy)
	}
	if sel.Limit == nil || *sel.Limit != 10 {
		t.Errorf("expected LIMIT 10, got %v", sel.Limit)
	}
	if sel.Offset == nil || *sel.Offset != 5 {
		t.Errorf("expected OFFSET 5, got %v", sel.Offset)
	}
}

func TestParseAggregates(t *testing.T) {
	tests := []struct {
		input    string
		funcName string
		distinct bool
	}{
		{"SELECT COUNT(*) FROM census", "COUNT", false},
		{"SELECT count(DISTINCT id) FROM census", "COUNT", true},
		{"SELECT SUM(income) FROM census", "SUM", false},
		{"SELECT AVG(age) FROM census", "AVG", false},
		{"SELECT MIN(age) FROM census", "MIN", false},
		{"SELECT MAX(age) FROM census", "MAX", false},
		{"SELECT stddev(age) FROM census", "STDDEV", false},
		{"SELECT var_samp(age) FROM census", "VARIANCE", false},
	}

	for _, tt := range tests {
		stmt, err := Parse(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}

		sel := stmt.(*SelectStatement)
		agg, ok := sel.Columns[0].Expr.(*AggregateExpr)
		if !ok {
			t.Errorf("input %q: expected AggregateExpr, got %T", tt.input, sel.Columns[0].Expr)
			continue
		}

		if agg.Function != tt.funcName || agg.Distinct != tt.distinct {
			t.Errorf("input %q: got %s distinct=%v, want %s distinct=%v", tt.input, agg.Function, agg.Distinct, tt.funcName, tt.distinct)
		}
	}
}

func TestParseInExpression(t *testing.T) {
	input := "SELECT * FROM census WHERE workclass IN ('Private', 'State-gov', 'Local-gov')"
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	inExpr, ok := stmt.(*SelectStatement).Where.(*InExpr)
	if !ok {
		t.Fatalf("expected InExpr, got %T", stmt.(*SelectStatement).Where)
	}

	if len(inExpr.Values) != 3 {
		t.Errorf("expected 3 values in IN clause, got %d", len(inExpr.Values))
	}
}

func TestParseBetweenExpression(t *testing.T) {
	input := "SELECT * FROM census WHERE age BETWEEN 20 AND -3"
	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	betweenExpr, ok := stmt.(*SelectStatement).Where.(*BetweenExpr)
	if !ok {
		t.Fatalf("expected BetweenExpr, got %T", stmt.(*SelectStatement).Where)
	}

	low, ok := betweenExpr.Low.(*Literal)
	if !ok || low.Value.(int64) != 20 {
		t.Errorf("expected low bound 20, got %v", betweenExpr.Low)
	}

	high, ok := betweenExpr.High.(*Literal)
	if !ok || high.Value.(int64) != -3 {
		t.Errorf("expected high bound -3, got %v", betweenExpr.High)
	}
}

func TestParseJoins(t *testing.T) {
	tests := []struct {
		input string
		kind  JoinKind
	}{
		{"SELECT * FROM a JOIN b ON a.id = b.id", JoinInner},
		{"SELECT * FROM a INNER JOIN b ON a.id = b.id", JoinInner},
		{"SELECT * FROM a LEFT OUTER JOIN b ON a.id = b.id", JoinLeft},
		{"SELECT * FROM a RIGHT JOIN b USING (id)", JoinRight},
		{"SELECT * FROM a FULL JOIN b ON a.id = b.id", JoinFull},
		{"SELECT * FROM a CROSS JOIN b", JoinCross},
		{"SELECT * FROM a, b", JoinCross},
	}
	for _, tt := range tests {
		stmt, err := Parse(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}
		join, ok := stmt.(*SelectStatement).From.(*JoinExpr)
		if !ok {
			t.Errorf("input %q: expected JoinExpr, got %T", tt.input, stmt.(*SelectStatement).From)
			continue
		}
		if join.Kind != tt.kind {
			t.Errorf("input %q: got %s, want %s", tt.input, join.Kind, tt.kind)
		}
	}
}

func TestParseSetOperations(t *testing.T) {
	stmt, err := Parse("SELECT a FROM x UNION ALL SELECT a FROM y INTERSECT SELECT a FROM z ORDER BY a LIMIT 3")
	if err != nil {
		t.Fatal(err)
	}
	set, ok := stmt.(*SetStatement)
	if !ok {
		t.Fatalf("expected SetStatement, got %T", stmt)
	}
	if set.Op != SetUnion || !set.All {
		t.Errorf("got %s all=%v, want UNION ALL", set.Op, set.All)
	}
	right, ok := set.Right.(*SetStatement)
	if !ok || right.Op != SetIntersect {
		t.Errorf("INTERSECT should bind tighter, got %T", set.Right)
	}
	if set.Limit == nil || *set.Limit != 3 || len(set.OrderBy) != 1 {
		t.Errorf("ORDER BY and LIMIT should apply to the whole set operation")
	}
}

func TestParseWith(t *testing.T) {
	stmt, err := Parse(`WITH adults AS (SELECT * FROM census WHERE age >= 18),
		counts (n) AS (SELECT COUNT(*) FROM adults)
		SELECT n FROM counts`)
	if err != nil {
		t.Fatal(err)
	}
	with, ok := stmt.(*WithStatement)
	if !ok {
		t.Fatalf("expected WithStatement, got %T", stmt)
	}
	if len(with.CTEs) != 2 || with.CTEs[1].Name != "counts" {
		t.Fatalf("got %v", with.CTEs)
	}
	if diff := cmp.Diff([]string{"n"}, with.CTEs[1].Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCaseAndCast(t *testing.T) {
	stmt, err := Parse("SELECT CASE WHEN age > 60 THEN 'senior' ELSE 'other' END AS band, CAST(age AS DOUBLE PRECISION), CAST(x AS VARCHAR(10)) FROM census")
	if err != nil {
		t.Fatal(err)
	}
	sel := stmt.(*SelectStatement)
	c, ok := sel.Columns[0].Expr.(*CaseExpr)
	if !ok || len(c.Whens) != 1 || c.Else == nil || sel.Columns[0].Alias != "band" {
		t.Errorf("got %v", sel.Columns[0])
	}
	cast, ok := sel.Columns[1].Expr.(*CastExpr)
	if !ok || cast.Type != "DOUBLE PRECISION" {
		t.Errorf("got %v", sel.Columns[1].Expr)
	}
	cast, ok = sel.Columns[2].Expr.(*CastExpr)
	if !ok || cast.Type != "VARCHAR" {
		t.Errorf("got %v", sel.Columns[2].Expr)
	}
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"a OR b AND c", "(a OR (b AND c))"},
		{"NOT a = 1 AND b", "(NOT (a = 1) AND b)"},
		{"x NOT IN (1, 2) OR y IS NOT NULL", "(x NOT IN (1, 2) OR y IS NOT NULL)"},
		{"a || 'x'", "(a || 'x')"},
		{"a != 2", "(a <> 2)"},
	}
	for _, tt := range tests {
		e, err := ParseExpression(tt.input, dialect.PostgreSql)
		if err != nil {
			t.Errorf("%q: %v", tt.input, err)
			continue
		}
		if got := e.String(); got != tt.want {
			t.Errorf("%q: got %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestASTString(t *testing.T) {
	tests := []struct {
		input string
	}{
		{"SELECT * FROM census"},
		{"SELECT age, sex FROM census WHERE age = 1"},
		{"SELECT COUNT(*) FROM census GROUP BY workclass"},
		{"SELECT * FROM census ORDER BY age DESC LIMIT 10"},
		{`SELECT "order" FROM "select" AS s LEFT JOIN t ON s.id = t.id`},
		{"WITH a AS (SELECT 1 AS x) SELECT x FROM a UNION SELECT 2"},
	}

	for _, tt := range tests {
		stmt, err := Parse(tt.input)
		if err != nil {
			t.Errorf("input %q: unexpected error: %v", tt.input, err)
			continue
		}

		// The String() method should produce valid SQL
		sql := stmt.String()
		if sql == "" {
			t.Errorf("input %q: String() returned empty string", tt.input)
		}

		// Parse the generated SQL to verify it's valid
		again, err := Parse(sql)
		if err != nil {
			t.Errorf("input %q: generated SQL %q failed to parse: %v", tt.input, sql, err)
			continue
		}
		if again.String() != sql {
			t.Errorf("input %q: rendering is not stable: %q then %q", tt.input, sql, again.String())
		}
	}
}

func TestParseError(t *testing.T) {
	tests := []string{
		"SELEC * FROM census",        // Typo in SELECT
		"SELECT FROM census",         // Missing columns
		"SELECT * FROM",              // Missing table name
		"SELECT * FROM census WHERE", // Incomplete WHERE
		"SELECT 'open FROM census",   // Unterminated string
		"SELECT * FROM a JOIN b",     // Missing ON
		"SELECT * FROM census extra junk",
		"SELECT SUM(*) FROM census",
	}

	for _, input := range tests {
		_, err := Parse(input)
		if err == nil {
			t.Errorf("input %q: expected error, got nil", input)
			continue
		}
		if !errors.Is(err, qerrors.ErrParse) {
			t.Errorf("input %q: got %v, want PARSE_ERROR", input, err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("input %q: expected a *ParseError cause", input)
		}
	}
}

func TestComplexQuery(t *testing.T) {
	input := `SELECT workclass, sex, COUNT(*) as cnt, SUM(income) as total
              FROM census
              WHERE workclass = 'Private' AND age BETWEEN 20 AND 60
              GROUP BY workclass, sex
              HAVING COUNT(*) > 10
              ORDER BY total DESC
              LIMIT 100;`

	stmt, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected SelectStatement, got %T", stmt)
	}

	if len(sel.Columns) != 4 {
		t.Errorf("expected 4 columns, got %d", len(sel.Columns))
	}
	if sel.Where == nil {
		t.Error("expected WHERE clause")
	}
	if len(sel.GroupBy) != 2 {
		t.Errorf("expected 2 GROUP BY columns, got %d", len(sel.GroupBy))
	}
	if sel.Having == nil {
		t.Error("expected HAVING clause")
	}
	if len(sel.OrderBy) != 1 {
		t.Errorf("expected 1 ORDER BY clause, got %d", len(sel.OrderBy))
	}
	if sel.Limit == nil || *sel.Limit != 100 {
		t.Errorf("expected LIMIT 100, got %v", sel.Limit)
	}
}

func TestTablesPrefix(t *testing.T) {
	query := `
	WITH mytab AS (SELECT * FROM A.b.c),
	mytab2 AS (SELECT * FROM (SELECT * FROM d.e.f) AS subtab )
	SELECT * FROM mytab JOIN mytab2 USING(id)
	`
	got, err := TablesPrefix(query, dialect.PostgreSql)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"A", "d"}, got); diff != "" {
		t.Errorf("prefix mismatch (-want +got):\n%s", diff)
	}

	got, err = TablesPrefix("SELECT * FROM my_db.my_sch.my_tab JOIN [my_db].x.y ON 1 = 1", dialect.MsSql)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"my_db"}, got); diff != "" {
		t.Errorf("prefix mismatch (-want +got):\n%s", diff)
	}
}

func TestBaseTablesSkipsCTEs(t *testing.T) {
	stmt, err := Parse("WITH t AS (SELECT * FROM census) SELECT * FROM t JOIN other ON t.a = other.a")
	if err != nil {
		t.Fatal(err)
	}
	refs := BaseTables(stmt)
	var names []string
	for _, r := range refs {
		names = append(names, r.Name())
	}
	if diff := cmp.Diff([]string{"census", "other"}, names); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
}
