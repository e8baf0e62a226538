package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// columnDef is a column as written into CREATE TABLE.
type columnDef struct {
	Name    string
	Type    string
	NotNull bool
	Default string
	Ref     *ForeignKey
	Primary bool
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// columnType maps a Go value to the SQLite column type it is stored under.
func columnType(v any) string {
	switch x := v.(type) {
	case nil, string, time.Time:
		return "TEXT"
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "INTEGER"
	case float32, float64:
		return "FLOAT"
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return "INTEGER"
		}
		return "FLOAT"
	case []byte:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// sqlValue converts a decoded JSON value into something the driver binds.
// Nested maps and lists are stored as compact JSON text.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64, []byte:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %q: %w", x, err)
		}
		return f, nil
	case time.Time:
		return x.UTC().Format(time.RFC3339), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("encode %T: %w", v, err)
		}
		return string(b), nil
	}
}

// sortedKeys returns the row's keys with the primary key columns first.
func sortedKeys(row Row, pk []string) []string {
	first := make(map[string]bool, len(pk))
	keys := make([]string, 0, len(row))
	for _, k := range pk {
		if _, ok := row[k]; ok {
			first[k] = true
			keys = append(keys, k)
		}
	}
	rest := make([]string, 0, len(row))
	for k := range row {
		if !first[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func createTableSQL(table string, cols []columnDef, pk []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quote(table))
	b.WriteString(" (\n")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("   ")
		b.WriteString(quote(c.Name))
		if c.Type != "" {
			b.WriteString(" ")
			b.WriteString(c.Type)
		}
		if c.Primary && len(pk) == 1 {
			b.WriteString(" PRIMARY KEY")
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.Default != "" {
			b.WriteString(" DEFAULT ")
			b.WriteString(c.Default)
		}
		if c.Ref != nil {
			fmt.Fprintf(&b, " REFERENCES %s(%s)", quote(c.Ref.OtherTable), quote(c.Ref.OtherColumn))
		}
	}
	if len(pk) > 1 {
		quoted := make([]string, len(pk))
		for i, k := range pk {
			quoted[i] = quote(k)
		}
		b.WriteString(",\n   PRIMARY KEY (")
		b.WriteString(strings.Join(quoted, ", "))
		b.WriteString(")")
	}
	b.WriteString("\n)")
	return b.String()
}

// createTable creates table shaped like row. Primary key columns absent from
// the row are typed INTEGER; foreign key columns absent from the row take the
// type of the column they reference.
func (s *SQLiteStore) createTable(ctx context.Context, table string, row Row, pk []string, fks []ForeignKey) error {
	refs := make(map[string]*ForeignKey, len(fks))
	for i := range fks {
		refs[fks[i].Column] = &fks[i]
	}

	var cols []columnDef
	seen := make(map[string]bool)
	for _, k := range pk {
		typ := "INTEGER"
		if v, ok := row[k]; ok && v != nil {
			typ = columnType(v)
		}
		cols = append(cols, columnDef{Name: k, Type: typ, Primary: true, Ref: refs[k]})
		seen[k] = true
	}
	for _, k := range sortedKeys(row, nil) {
		if seen[k] {
			continue
		}
		cols = append(cols, columnDef{Name: k, Type: columnType(row[k]), Ref: refs[k]})
		seen[k] = true
	}
	for _, fk := range fks {
		if seen[fk.Column] {
			continue
		}
		typ, err := s.referencedType(ctx, fk)
		if err != nil {
			return err
		}
		cols = append(cols, columnDef{Name: fk.Column, Type: typ, Ref: refs[fk.Column]})
		seen[fk.Column] = true
	}
	if len(cols) == 0 {
		return fmt.Errorf("create table %s: no columns", table)
	}

	if _, err := s.db.ExecContext(ctx, createTableSQL(table, cols, pk)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) referencedType(ctx context.Context, fk ForeignKey) (string, error) {
	cols, err := s.Columns(ctx, fk.OtherTable)
	if err != nil {
		return "", err
	}
	for _, c := range cols {
		if c.Name == fk.OtherColumn && c.Type != "" {
			return c.Type, nil
		}
	}
	return "TEXT", nil
}

// addColumns adds a column for every key of row the table lacks.
func (s *SQLiteStore) addColumns(ctx context.Context, table string, row Row, missing []string) error {
	for _, k := range missing {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(table), quote(k), columnType(row[k]))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, k, err)
		}
	}
	return nil
}

// missingColumns returns the keys of row that table has no column for.
func (s *SQLiteStore) missingColumns(ctx context.Context, table string, row Row) ([]string, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var missing []string
	for _, k := range sortedKeys(row, nil) {
		if !have[k] {
			missing = append(missing, k)
		}
	}
	return missing, nil
}

// AddForeignKey declares fk on an existing table. SQLite cannot add a
// constraint in place, so the table is rebuilt with it inside a transaction.
func (s *SQLiteStore) AddForeignKey(ctx context.Context, fk ForeignKey) error {
	cols, err := s.Columns(ctx, fk.Table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("%w: table %s does not exist", ErrAlter, fk.Table)
	}
	if !hasColumn(cols, fk.Column) {
		return fmt.Errorf("%w: table %s has no column %s", ErrAlter, fk.Table, fk.Column)
	}
	otherCols, err := s.Columns(ctx, fk.OtherTable)
	if err != nil {
		return err
	}
	if len(otherCols) == 0 {
		return fmt.Errorf("%w: table %s does not exist", ErrAlter, fk.OtherTable)
	}
	if !hasColumn(otherCols, fk.OtherColumn) {
		return fmt.Errorf("%w: table %s has no column %s", ErrAlter, fk.OtherTable, fk.OtherColumn)
	}

	existing, err := s.ForeignKeys(ctx, fk.Table)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Column == fk.Column && e.OtherTable == fk.OtherTable && e.OtherColumn == fk.OtherColumn {
			return nil
		}
	}
	return s.rebuild(ctx, fk.Table, cols, append(existing, fk))
}

func hasColumn(cols []Column, name string) bool {
	for _, c := range cols {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *SQLiteStore) rebuild(ctx context.Context, table string, cols []Column, fks []ForeignKey) error {
	var indexes []string
	if err := s.db.SelectContext(ctx, &indexes,
		"SELECT sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL", table); err != nil {
		return fmt.Errorf("rebuild %s: %w", table, err)
	}

	refs := make(map[string]*ForeignKey, len(fks))
	for i := range fks {
		refs[fks[i].Column] = &fks[i]
	}
	var pk []string
	pkOrder := make(map[string]int)
	defs := make([]columnDef, 0, len(cols))
	names := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, columnDef{
			Name:    c.Name,
			Type:    c.Type,
			NotNull: c.NotNull != 0,
			Default: c.Default.String,
			Ref:     refs[c.Name],
			Primary: c.PK > 0,
		})
		names = append(names, quote(c.Name))
		if c.PK > 0 {
			pk = append(pk, c.Name)
			pkOrder[c.Name] = c.PK
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pkOrder[pk[i]] < pkOrder[pk[j]] })

	// Views over the table would otherwise block the rename.
	if _, err := s.db.ExecContext(ctx, "PRAGMA legacy_alter_table = ON"); err != nil {
		return fmt.Errorf("rebuild %s: %w", table, err)
	}
	defer s.db.ExecContext(context.Background(), "PRAGMA legacy_alter_table = OFF")

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rebuild %s: %w", table, err)
	}
	defer tx.Rollback()

	tmp := "_rebuild_" + table
	columnList := strings.Join(names, ", ")
	stmts := []string{
		createTableSQL(tmp, defs, pk),
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", quote(tmp), columnList, columnList, quote(table)),
		"DROP TABLE " + quote(table),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(tmp), quote(table)),
	}
	stmts = append(stmts, indexes...)
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rebuild %s: %w", table, err)
	}
	return nil
}
