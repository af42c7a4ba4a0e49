package reflect

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrlew/qrlew-go/internal/dialect"
)

// PostgresPool is the part of *pgxpool.Pool the reflection uses.
type PostgresPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// PostgresSource reflects a PostgreSQL database through pgx.
type PostgresSource struct {
	pool PostgresPool
}

// ConnectPostgres opens a connection pool on url and checks it.
func ConnectPostgres(ctx context.Context, url string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

// NewPostgresSource wraps an existing pool.
func NewPostgresSource(pool PostgresPool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

func (s *PostgresSource) Dialect() dialect.Dialect { return dialect.PostgreSql }

// Close closes the pool.
func (s *PostgresSource) Close() { s.pool.Close() }

const postgresColumns = `
	SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'NO',
	       EXISTS (
	           SELECT 1
	           FROM information_schema.table_constraints tc
	           JOIN information_schema.key_column_usage k
	             ON k.constraint_name = tc.constraint_name
	            AND k.table_schema = tc.table_schema
	            AND k.table_name = tc.table_name
	           WHERE tc.constraint_type = 'PRIMARY KEY'
	             AND tc.table_schema = c.table_schema
	             AND tc.table_name = c.table_name
	             AND k.column_name = c.column_name
	       )
	FROM information_schema.columns c
	JOIN information_schema.tables t
	  ON t.table_schema = c.table_schema AND t.table_name = c.table_name
	WHERE c.table_schema = $1 AND t.table_type = 'BASE TABLE'
	ORDER BY c.table_name, c.ordinal_position`

// Tables reads information_schema. An empty schema means public.
func (s *PostgresSource) Tables(ctx context.Context, schema string) ([]Table, error) {
	target := schema
	if target == "" {
		target = "public"
	}
	rows, err := s.pool.Query(ctx, postgresColumns, target)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of schema %s: %w", target, err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var table string
		var c Column
		if err := rows.Scan(&table, &c.Name, &c.Type, &c.NotNull, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		c.Kind = KindOf(c.Type)
		if n := len(tables); n == 0 || tables[n-1].Name != table {
			tables = append(tables, Table{Schema: schema, Name: table})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column rows: %w", err)
	}
	return tables, nil
}

// Query runs a probe.
func (s *PostgresSource) Query(ctx context.Context, query string) (Rows, error) {
	return s.pool.Query(ctx, query)
}
