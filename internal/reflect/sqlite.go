package reflect

import (
	"context"
	"database/sql"

	"github.com/qrlew/qrlew-go/internal/dialect"
)

// SQLiteSource reflects a SQLite database opened through database/sql.
type SQLiteSource struct {
	DB *sql.DB
}

// NewSQLiteSource opens dsn with the qrlew SQLite driver.
func NewSQLiteSource(dsn string) (*SQLiteSource, error) {
	db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteSource{DB: db}, nil
}

func (s *SQLiteSource) Dialect() dialect.Dialect { return dialect.SQLite }

// Close closes the underlying database.
func (s *SQLiteSource) Close() error { return s.DB.Close() }

// Tables reads sqlite_master of the main database, or of an attached one.
func (s *SQLiteSource) Tables(ctx context.Context, schema string) ([]Table, error) {
	master := "sqlite_master"
	prefix := ""
	if schema != "" {
		prefix = dialect.SQLite.QuoteIdent(schema) + "."
		master = prefix + master
	}
	rows, err := s.DB.QueryContext(ctx,
		"SELECT name FROM "+master+" WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, n := range names {
		cols, err := s.columns(ctx, prefix, n)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Schema: schema, Name: n, Columns: cols})
	}
	return tables, nil
}

func (s *SQLiteSource) columns(ctx context.Context, prefix, table string) ([]Column, error) {
	rows, err := s.DB.QueryContext(ctx, "PRAGMA "+prefix+"table_info("+dialect.SQLite.QuoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols = append(cols, Column{
			Name:       name,
			Type:       typ,
			Kind:       KindOf(typ),
			NotNull:    notNull != 0 || pk != 0,
			PrimaryKey: pk != 0,
		})
	}
	return cols, rows.Err()
}

// Query runs a probe.
func (s *SQLiteSource) Query(ctx context.Context, query string) (Rows, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() { _ = r.Rows.Close() }
