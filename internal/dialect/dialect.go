// Package dialect captures how SQL spelling differs between target engines:
// identifier quoting, function names, cast type names and row limiting.
package dialect

import (
	"fmt"
	"strings"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// Dialect identifies a target SQL engine.
type Dialect int

const (
	PostgreSql Dialect = iota
	MsSql
	BigQuery
	MySql
	Hive
	Databricks
	RedshiftSql
	SQLite
)

// Default is used when no dialect is named.
const Default = PostgreSql

var names = map[Dialect]string{
	PostgreSql:  "PostgreSql",
	MsSql:       "MsSql",
	BigQuery:    "BigQuery",
	MySql:       "MySql",
	Hive:        "Hive",
	Databricks:  "Databricks",
	RedshiftSql: "RedshiftSql",
	SQLite:      "SQLite",
}

var aliases = map[string]Dialect{
	"postgresql":  PostgreSql,
	"postgres":    PostgreSql,
	"mssql":       MsSql,
	"sqlserver":   MsSql,
	"bigquery":    BigQuery,
	"mysql":       MySql,
	"hive":        Hive,
	"databricks":  Databricks,
	"redshiftsql": RedshiftSql,
	"redshift":    RedshiftSql,
	"sqlite":      SQLite,
	"sqlite3":     SQLite,
}

func (d Dialect) String() string {
	if n, ok := names[d]; ok {
		return n
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

// Parse resolves a dialect name case-insensitively. The empty name is Default.
func Parse(name string) (Dialect, error) {
	if name == "" {
		return Default, nil
	}
	if d, ok := aliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d, nil
	}
	return Default, qerrors.NewMalformedInput(fmt.Sprintf("unknown dialect %q", name), nil)
}

// All lists every supported dialect.
func All() []Dialect {
	return []Dialect{PostgreSql, MsSql, BigQuery, MySql, Hive, Databricks, RedshiftSql, SQLite}
}

// IdentQuotes returns the opening and closing identifier quote characters.
func (d Dialect) IdentQuotes() (byte, byte) {
	switch d {
	case MsSql:
		return '[', ']'
	case BigQuery, MySql, Hive, Databricks:
		return '`', '`'
	}
	return '"', '"'
}

// QuoteIdent quotes a single identifier.
func (d Dialect) QuoteIdent(name string) string {
	open, closing := d.IdentQuotes()
	escaped := strings.ReplaceAll(name, string(closing), string(closing)+string(closing))
	return string(open) + escaped + string(closing)
}

// Ident renders an identifier, quoting it only when it is not a plain
// lower-case name or collides with a reserved word.
func (d Dialect) Ident(name string) string {
	if isPlain(name) && !reserved[strings.ToUpper(name)] {
		return name
	}
	return d.QuoteIdent(name)
}

func isPlain(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c == '_':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var reserved = map[string]bool{
	"ALL": true, "AND": true, "AS": true, "ASC": true, "BETWEEN": true, "BY": true,
	"CASE": true, "CAST": true, "CROSS": true, "DATE": true, "DAY": true, "DESC": true,
	"DISTINCT": true, "ELSE": true, "END": true, "EXCEPT": true, "FALSE": true, "FROM": true,
	"FULL": true, "GROUP": true, "HAVING": true, "IN": true, "INNER": true, "INTERSECT": true,
	"IS": true, "JOIN": true, "KEY": true, "LEFT": true, "LIKE": true, "LIMIT": true,
	"MONTH": true, "NOT": true, "NULL": true, "OFFSET": true, "ON": true, "OR": true,
	"ORDER": true, "OUTER": true, "RIGHT": true, "SELECT": true, "TABLE": true, "THEN": true,
	"TRUE": true, "UNION": true, "USER": true, "USING": true, "VALUES": true, "WHEN": true,
	"WHERE": true, "WITH": true, "YEAR": true,
}

// QuotePath quotes each part of a dotted path.
func (d Dialect) QuotePath(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// QuoteString renders a string literal.
func (d Dialect) QuoteString(s string) string {
	if d == BigQuery || d == MySql || d == Hive || d == Databricks {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Bool renders a boolean literal.
func (d Dialect) Bool(v bool) string {
	switch {
	case d == MsSql && v:
		return "CAST(1 AS BIT)"
	case d == MsSql:
		return "CAST(0 AS BIT)"
	case d == SQLite && v:
		return "1"
	case d == SQLite:
		return "0"
	case v:
		return "TRUE"
	}
	return "FALSE"
}

// CastType spells a canonical type name (INTEGER, FLOAT, TEXT, BOOLEAN,
// DATE, DATETIME) for the dialect.
func (d Dialect) CastType(canonical string) string {
	switch canonical {
	case "INTEGER":
		switch d {
		case BigQuery:
			return "INT64"
		case MySql:
			return "SIGNED"
		case Hive, Databricks:
			return "BIGINT"
		}
		return "INTEGER"
	case "FLOAT":
		switch d {
		case BigQuery:
			return "FLOAT64"
		case MySql:
			return "DOUBLE"
		case MsSql:
			return "FLOAT"
		case SQLite:
			return "REAL"
		}
		return "DOUBLE PRECISION"
	case "TEXT":
		switch d {
		case BigQuery, Hive, Databricks:
			return "STRING"
		case MySql:
			return "CHAR"
		case MsSql:
			return "VARCHAR(MAX)"
		case RedshiftSql:
			return "VARCHAR"
		}
		return "TEXT"
	case "BOOLEAN":
		switch d {
		case MsSql:
			return "BIT"
		case BigQuery:
			return "BOOL"
		case MySql:
			return "UNSIGNED"
		case SQLite:
			return "INTEGER"
		}
		return "BOOLEAN"
	case "DATE":
		return "DATE"
	case "DATETIME":
		switch d {
		case MsSql, MySql, BigQuery:
			return "DATETIME"
		case SQLite:
			return "TEXT"
		}
		return "TIMESTAMP"
	}
	return canonical
}

// Function renders a call to a canonical scalar function over rendered
// arguments.
func (d Dialect) Function(name string, args []string) string {
	joined := strings.Join(args, ", ")
	switch name {
	case "RANDOM":
		switch d {
		case PostgreSql, RedshiftSql:
			return "RANDOM()"
		case MsSql:
			return "RAND(CHECKSUM(NEWID()))"
		case SQLite:
			return "(ABS(RANDOM()) / 9223372036854775808.0)"
		}
		return "RAND()"
	case "MD5":
		switch d {
		case BigQuery:
			return "TO_HEX(MD5(" + joined + "))"
		case MsSql:
			return "LOWER(CONVERT(VARCHAR(32), HASHBYTES('MD5', " + joined + "), 2))"
		}
		return "MD5(" + joined + ")"
	case "LN":
		if d == MsSql {
			return "LOG(" + joined + ")"
		}
		return "LN(" + joined + ")"
	case "LOG":
		switch d {
		case MsSql, BigQuery, Hive, Databricks, MySql:
			return "LOG10(" + joined + ")"
		}
		return "LOG(" + joined + ")"
	case "GREATEST", "LEAST":
		if d == SQLite {
			fn := "MAX"
			if name == "LEAST" {
				fn = "MIN"
			}
			return fn + "(" + joined + ")"
		}
		return name + "(" + joined + ")"
	case "CEIL":
		if d == MsSql {
			return "CEILING(" + joined + ")"
		}
		return "CEIL(" + joined + ")"
	case "POWER":
		if d == SQLite {
			return "POW(" + joined + ")"
		}
		return "POWER(" + joined + ")"
	case "LENGTH":
		switch d {
		case MsSql:
			return "LEN(" + joined + ")"
		case MySql:
			return "CHAR_LENGTH(" + joined + ")"
		}
		return "LENGTH(" + joined + ")"
	case "SUBSTR":
		if d == MsSql || d == RedshiftSql {
			return "SUBSTRING(" + joined + ")"
		}
		return "SUBSTR(" + joined + ")"
	case "CONCAT":
		if d == SQLite {
			return "(" + strings.Join(args, " || ") + ")"
		}
		return "CONCAT(" + joined + ")"
	case "YEAR", "MONTH", "DAY":
		switch d {
		case MsSql, MySql, Hive, Databricks:
			return name + "(" + joined + ")"
		case SQLite:
			format := map[string]string{"YEAR": "%Y", "MONTH": "%m", "DAY": "%d"}[name]
			return "CAST(STRFTIME('" + format + "', " + joined + ") AS INTEGER)"
		}
		return "EXTRACT(" + name + " FROM " + joined + ")"
	}
	return name + "(" + joined + ")"
}

// Limit renders the trailing row-limiting clause. MsSql requires an ORDER BY
// before OFFSET/FETCH; hasOrder tells whether one was rendered.
func (d Dialect) Limit(limit, offset int64, hasOrder bool) string {
	if d == MsSql {
		s := ""
		if !hasOrder {
			s = " ORDER BY (SELECT NULL)"
		}
		s += fmt.Sprintf(" OFFSET %d ROWS", offset)
		if limit >= 0 {
			s += fmt.Sprintf(" FETCH NEXT %d ROWS ONLY", limit)
		}
		return s
	}
	s := ""
	if limit >= 0 {
		s = fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		if limit < 0 && (d == SQLite || d == MySql) {
			s = " LIMIT -1"
			if d == MySql {
				s = " LIMIT 18446744073709551615"
			}
		}
		s += fmt.Sprintf(" OFFSET %d", offset)
	}
	return s
}

// SupportsFullJoin reports whether FULL OUTER JOIN is available.
func (d Dialect) SupportsFullJoin() bool {
	return d != MySql
}
