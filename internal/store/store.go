package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	// ErrAlter reports a schema change that cannot be applied, for example a
	// foreign key whose target table does not exist yet.
	ErrAlter = errors.New("alter table")
	// ErrUnknownColumn is returned by strict inserts carrying a field the
	// table has no column for.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrViewExists is returned when creating a view whose name is taken.
	ErrViewExists = errors.New("view already exists")
)

// Row is a single record keyed by column name.
type Row map[string]any

// ForeignKey declares Table.Column -> OtherTable.OtherColumn.
type ForeignKey struct {
	Table       string
	Column      string
	OtherTable  string
	OtherColumn string
}

// Column describes one column as reported by pragma_table_info.
type Column struct {
	CID     int            `db:"cid"`
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull int            `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

// InsertOpts controls a single-row write.
type InsertOpts struct {
	// PK names the primary key column used when the table is created.
	PK string
	// ForeignKeys are declared when the table is created. Their Table field
	// is ignored.
	ForeignKeys []ForeignKey
	// Alter adds columns for fields the table has not seen yet. Without it
	// such a write fails with ErrUnknownColumn.
	Alter bool
	// Replace overwrites any row with the same primary key.
	Replace bool
}

// M2MOpts controls a many-to-many link.
type M2MOpts struct {
	// JoinTable overrides the default join table name, which is both table
	// names sorted and joined by "_".
	JoinTable string
	// PK is the primary key of the other table, "id" by default.
	PK string
}

// Store is the relational store the checkin normalizer writes through.
type Store interface {
	Insert(ctx context.Context, table string, row Row, opts InsertOpts) (any, error)
	Lookup(ctx context.Context, table string, values Row) (int64, error)
	M2M(ctx context.Context, table string, pk any, other string, row Row, opts M2MOpts) error

	TableNames(ctx context.Context) ([]string, error)
	ViewNames(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
	AddForeignKey(ctx context.Context, fk ForeignKey) error
	CreateView(ctx context.Context, name, query string) error

	Rows(ctx context.Context, table string) ([]Row, error)
	Count(ctx context.Context, table string) (int, error)
	Query(ctx context.Context, query string, args ...any) ([]Row, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
	// lookups caches Lookup results by table and content hash.
	lookups map[string]int64
}

// New opens a SQLite database. ":memory:" gives an isolated in-memory store.
func New(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection keeps an in-memory database alive and serializes writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	return &SQLiteStore{db: db, lookups: make(map[string]int64)}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) TableNames(ctx context.Context) ([]string, error) {
	return s.names(ctx, "table")
}

func (s *SQLiteStore) ViewNames(ctx context.Context) ([]string, error) {
	return s.names(ctx, "view")
}

func (s *SQLiteStore) names(ctx context.Context, kind string) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names,
		"SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE 'sqlite_%' ORDER BY name", kind)
	if err != nil {
		return nil, fmt.Errorf("list %ss: %w", kind, err)
	}
	return names, nil
}

// Columns returns the columns of table in declaration order. A missing table
// yields no columns and no error.
func (s *SQLiteStore) Columns(ctx context.Context, table string) ([]Column, error) {
	var cols []Column
	err := s.db.SelectContext(ctx, &cols,
		`SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	return cols, nil
}

func (s *SQLiteStore) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	var rows []struct {
		Other string         `db:"table"`
		From  string         `db:"from"`
		To    sql.NullString `db:"to"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, table)
	if err != nil {
		return nil, fmt.Errorf("foreign keys of %s: %w", table, err)
	}

	fks := make([]ForeignKey, 0, len(rows))
	for _, r := range rows {
		other := r.To.String
		if !r.To.Valid {
			other = "rowid"
		}
		fks = append(fks, ForeignKey{Table: table, Column: r.From, OtherTable: r.Other, OtherColumn: other})
	}
	return fks, nil
}

func (s *SQLiteStore) CreateView(ctx context.Context, name, query string) error {
	var n int
	if err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'view' AND name = ?", name); err != nil {
		return fmt.Errorf("create view %s: %w", name, err)
	}
	if n > 0 {
		return fmt.Errorf("create view %s: %w", name, ErrViewExists)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE VIEW "+quote(name)+" AS "+query); err != nil {
		return fmt.Errorf("create view %s: %w", name, err)
	}
	return nil
}

// Rows returns every row of table in insertion order.
func (s *SQLiteStore) Rows(ctx context.Context, table string) ([]Row, error) {
	return s.Query(ctx, "SELECT * FROM "+quote(table)+" ORDER BY rowid")
}

func (s *SQLiteStore) Count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+quote(table)); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLiteStore) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r := make(map[string]any)
		if err := rows.MapScan(r); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for k, v := range r {
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			}
		}
		out = append(out, Row(r))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}
