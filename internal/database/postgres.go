package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/postgres"
)

// OpenPostgres connects to url and verifies the connection.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresIntrospector reads the catalog of a PostgreSQL database into a snapshot.
type PostgresIntrospector struct {
	pool         querier
	schemas      []string
	queryTimeout time.Duration
}

// NewPostgresIntrospector reads schemas through pool. No schemas means public only.
func NewPostgresIntrospector(pool *pgxpool.Pool, schemas []string, queryTimeout time.Duration) *PostgresIntrospector {
	if len(schemas) == 0 {
		schemas = []string{postgres.PublicSchema}
	}
	return &PostgresIntrospector{pool: pool, schemas: schemas, queryTimeout: queryTimeout}
}

// withTimeout applies the query timeout unless the parent deadline is already sooner.
func (i *PostgresIntrospector) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if i.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) <= i.queryTimeout {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, i.queryTimeout)
}

// Introspect reads schemas, enums, sequences, tables, columns, constraints, indexes, policies and views.
func (i *PostgresIntrospector) Introspect(ctx context.Context) (*postgres.Snapshot, error) {
	ctx, cancel := i.withTimeout(ctx)
	defer cancel()

	var catalog pgCatalog
	var err error
	if catalog.schemas, err = collect(ctx, i.pool, schemasQuery, i.schemas, scanSchema); err != nil {
		return nil, fmt.Errorf("failed to get schemas: %w", err)
	}
	if catalog.enums, err = collect(ctx, i.pool, enumsQuery, i.schemas, scanEnum); err != nil {
		return nil, fmt.Errorf("failed to get enums: %w", err)
	}
	if catalog.sequences, err = collect(ctx, i.pool, sequencesQuery, i.schemas, scanSequence); err != nil {
		return nil, fmt.Errorf("failed to get sequences: %w", err)
	}
	if catalog.tables, err = collect(ctx, i.pool, tablesQuery, i.schemas, scanTable); err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	if catalog.columns, err = collect(ctx, i.pool, columnsQuery, i.schemas, scanColumn); err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	if catalog.constraints, err = collect(ctx, i.pool, constraintsQuery, i.schemas, scanConstraint); err != nil {
		return nil, fmt.Errorf("failed to get constraints: %w", err)
	}
	if catalog.indexes, err = collect(ctx, i.pool, indexesQuery, i.schemas, scanIndex); err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}
	if catalog.policies, err = collect(ctx, i.pool, policiesQuery, i.schemas, scanPolicy); err != nil {
		return nil, fmt.Errorf("failed to get policies: %w", err)
	}
	if catalog.views, err = collect(ctx, i.pool, viewsQuery, i.schemas, scanView); err != nil {
		return nil, fmt.Errorf("failed to get views: %w", err)
	}
	return assemblePostgres(catalog)
}

func collect[T any](ctx context.Context, pool querier, query string, schemas []string, scan func(pgx.Rows) (T, error)) ([]T, error) {
	rows, err := pool.Query(ctx, query, schemas)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		row, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const schemasQuery = `
	SELECT nspname FROM pg_namespace
	WHERE nspname = ANY($1)
	ORDER BY nspname`

const enumsQuery = `
	SELECT n.nspname, t.typname, e.enumlabel
	FROM pg_type t
	JOIN pg_enum e ON e.enumtypid = t.oid
	JOIN pg_namespace n ON n.oid = t.typnamespace
	WHERE n.nspname = ANY($1)
	ORDER BY n.nspname, t.typname, e.enumsortorder`

const sequencesQuery = `
	SELECT s.schemaname, s.sequencename, s.increment_by::text, s.min_value::text, s.max_value::text,
	       s.start_value::text, s.cache_size::text, s.cycle
	FROM pg_sequences s
	WHERE s.schemaname = ANY($1)
	  AND NOT EXISTS (
	      SELECT 1 FROM pg_depend d
	      JOIN pg_class c ON c.oid = d.objid
	      JOIN pg_namespace n ON n.oid = c.relnamespace
	      WHERE c.relname = s.sequencename AND n.nspname = s.schemaname
	        AND d.deptype IN ('a', 'i'))
	ORDER BY s.schemaname, s.sequencename`

const tablesQuery = `
	SELECT n.nspname, c.relname, c.relrowsecurity
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE c.relkind IN ('r', 'p') AND n.nspname = ANY($1)
	ORDER BY n.nspname, c.relname`

const columnsQuery = `
	SELECT n.nspname, c.relname, a.attname,
	       CASE WHEN t.typtype = 'e' THEN t.typname ELSE format_type(a.atttypid, a.atttypmod) END,
	       CASE WHEN t.typtype = 'e' THEN tn.nspname ELSE '' END,
	       a.attnotnull,
	       pg_get_expr(d.adbin, d.adrelid),
	       a.attgenerated::text,
	       a.attidentity::text
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	JOIN pg_type t ON t.oid = a.atttypid
	JOIN pg_namespace tn ON tn.oid = t.typnamespace
	LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
	WHERE c.relkind IN ('r', 'p') AND n.nspname = ANY($1) AND a.attnum > 0 AND NOT a.attisdropped
	ORDER BY n.nspname, c.relname, a.attnum`

const constraintsQuery = `
	SELECT n.nspname, c.relname, con.conname, con.contype::text,
	       ARRAY(SELECT a.attname::text FROM unnest(con.conkey) WITH ORDINALITY k(num, pos)
	             JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.num ORDER BY k.pos),
	       COALESCE(rn.nspname, ''), COALESCE(rc.relname, ''),
	       ARRAY(SELECT a.attname::text FROM unnest(con.confkey) WITH ORDINALITY k(num, pos)
	             JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.num ORDER BY k.pos),
	       con.confupdtype::text, con.confdeltype::text,
	       CASE WHEN con.contype = 'c' THEN pg_get_constraintdef(con.oid, true) ELSE '' END,
	       COALESCE(pg_get_constraintdef(con.oid, true) LIKE '%NULLS NOT DISTINCT%', false)
	FROM pg_constraint con
	JOIN pg_class c ON c.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	LEFT JOIN pg_class rc ON rc.oid = con.confrelid
	LEFT JOIN pg_namespace rn ON rn.oid = rc.relnamespace
	WHERE con.contype IN ('p', 'u', 'f', 'c') AND n.nspname = ANY($1)
	ORDER BY n.nspname, c.relname, con.conname`

const indexesQuery = `
	SELECT n.nspname, t.relname, ic.relname, i.indisunique, am.amname,
	       ARRAY(SELECT pg_get_indexdef(i.indexrelid, k, true) FROM generate_subscripts(i.indkey, 1) k ORDER BY k),
	       i.indkey::int2[], i.indoption::int2[],
	       COALESCE(pg_get_expr(i.indpred, i.indrelid, true), '')
	FROM pg_index i
	JOIN pg_class ic ON ic.oid = i.indexrelid
	JOIN pg_class t ON t.oid = i.indrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	JOIN pg_am am ON am.oid = ic.relam
	WHERE n.nspname = ANY($1)
	  AND NOT EXISTS (SELECT 1 FROM pg_constraint con WHERE con.conindid = i.indexrelid)
	ORDER BY n.nspname, t.relname, ic.relname`

const policiesQuery = `
	SELECT schemaname, tablename, policyname, permissive, roles::text[], cmd,
	       COALESCE(qual, ''), COALESCE(with_check, '')
	FROM pg_policies
	WHERE schemaname = ANY($1)
	ORDER BY schemaname, tablename, policyname`

const viewsQuery = `
	SELECT n.nspname, c.relname, pg_get_viewdef(c.oid, true), c.relkind = 'm'
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE c.relkind IN ('v', 'm') AND n.nspname = ANY($1)
	ORDER BY n.nspname, c.relname`

func scanSchema(rows pgx.Rows) (string, error) {
	var name string
	err := rows.Scan(&name)
	return name, err
}

func scanEnum(rows pgx.Rows) (pgEnumValue, error) {
	var row pgEnumValue
	err := rows.Scan(&row.schema, &row.name, &row.value)
	return row, err
}

func scanSequence(rows pgx.Rows) (postgres.Sequence, error) {
	var row postgres.Sequence
	err := rows.Scan(&row.Schema, &row.Name, &row.Increment, &row.MinValue, &row.MaxValue, &row.StartWith, &row.Cache, &row.Cycle)
	return row, err
}

func scanTable(rows pgx.Rows) (postgres.Table, error) {
	var row postgres.Table
	err := rows.Scan(&row.Schema, &row.Name, &row.IsRLSEnabled)
	return row, err
}

func scanColumn(rows pgx.Rows) (pgColumn, error) {
	var row pgColumn
	err := rows.Scan(&row.schema, &row.table, &row.name, &row.dataType, &row.typeSchema, &row.notNull, &row.defaultValue, &row.generated, &row.identity)
	return row, err
}

func scanConstraint(rows pgx.Rows) (pgConstraint, error) {
	var row pgConstraint
	err := rows.Scan(&row.schema, &row.table, &row.name, &row.kind, &row.columns, &row.schemaTo, &row.tableTo,
		&row.columnsTo, &row.onUpdate, &row.onDelete, &row.definition, &row.nullsNotDistinct)
	return row, err
}

func scanIndex(rows pgx.Rows) (pgIndex, error) {
	var row pgIndex
	err := rows.Scan(&row.schema, &row.table, &row.name, &row.unique, &row.method, &row.expressions, &row.keys, &row.options, &row.where)
	return row, err
}

func scanPolicy(rows pgx.Rows) (postgres.Policy, error) {
	var row postgres.Policy
	err := rows.Scan(&row.Schema, &row.Table, &row.Name, &row.As, &row.To, &row.For, &row.Using, &row.WithCheck)
	return row, err
}

func scanView(rows pgx.Rows) (postgres.View, error) {
	var row postgres.View
	err := rows.Scan(&row.Schema, &row.Name, &row.Definition, &row.Materialized)
	return row, err
}
