package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"              // registers the "sqlite" driver

	"github.com/threatwatch/threatwatch/pkg/types"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) placeholders() sq.PlaceholderFormat {
	if d == DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}

// SQLStore keeps one row per slot. The record itself is stored as a JSON
// document; status and updated_at (unix microseconds) are columns so the
// feed queries can filter and order on them.
type SQLStore struct {
	DB    *sql.DB
	table string
	qb    sq.StatementBuilderType
}

var _ Store = (*SQLStore)(nil)

// OpenSQL opens dsn with the dialect's driver, pings it and creates the table.
func OpenSQL(ctx context.Context, dialect Dialect, dsn, table string) (*SQLStore, error) {
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("sql store: open: %w", err)
	}
	if dialect == DialectSQLite {
		// each connection to ":memory:" is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql store: ping: %w", err)
	}
	st, err := NewSQLStore(ctx, db, dialect, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return st, nil
}

// NewSQLStore wraps db and creates the table if it does not exist.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, table string) (*SQLStore, error) {
	if table == "" {
		table = DefaultPrefix
	}
	s := &SQLStore{
		DB:    db,
		table: table,
		qb:    sq.StatementBuilder.PlaceholderFormat(dialect.placeholders()),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error { return s.DB.Close() }

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	slot       TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	updated_at BIGINT NOT NULL,
	doc        TEXT NOT NULL
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_updated_idx ON %s (status, updated_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sql store: migrate: %w", err)
		}
	}
	return nil
}

// QueryActive implements Store.
func (s *SQLStore) QueryActive(ctx context.Context, limit int) ([]types.Record, error) {
	if limit <= 0 {
		return []types.Record{}, nil
	}
	slots, err := s.query(ctx, "updated_at DESC", limit)
	if err != nil {
		return nil, unavailable(OpQueryActive, err)
	}
	out := make([]types.Record, 0, len(slots))
	for _, sl := range slots {
		out = append(out, sl.Record)
	}
	return out, nil
}

// QueryOldest implements Store.
func (s *SQLStore) QueryOldest(ctx context.Context, limit int) ([]Slot, error) {
	if limit <= 0 {
		return []Slot{}, nil
	}
	slots, err := s.query(ctx, "updated_at ASC", limit)
	if err != nil {
		return nil, unavailable(OpQueryOldest, err)
	}
	return slots, nil
}

// Upsert implements Store.
func (s *SQLStore) Upsert(ctx context.Context, key string, rec types.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return unavailable(OpUpsert, fmt.Errorf("encode %s: %w", key, err))
	}

	query, args, err := s.qb.Insert(s.table).
		Columns("slot", "status", "updated_at", "doc").
		Values(key, string(rec.Status), rec.UpdatedAt.UnixMicro(), string(doc)).
		Suffix("ON CONFLICT (slot) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc").
		ToSql()
	if err != nil {
		return unavailable(OpUpsert, fmt.Errorf("build upsert: %w", err))
	}

	if _, err := s.DB.ExecContext(ctx, query, args...); err != nil {
		return unavailable(OpUpsert, fmt.Errorf("upsert %s: %w", key, err))
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, order string, limit int) ([]Slot, error) {
	query, args, err := s.qb.Select("slot", "doc").
		From(s.table).
		Where(sq.Eq{"status": string(types.StatusActive)}).
		OrderBy(order, "slot ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query slots: %w", err)
	}

	out := make([]Slot, 0, limit)
	for rows.Next() {
		var key, doc string
		if err := rows.Scan(&key, &doc); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		var rec types.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, Slot{Key: key, Record: normalizeStored(key, rec)})
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return out, nil
}
