package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Insert writes row into table, creating the table on first use. It returns
// the row's primary key value, or the rowid when the row carries none.
func (s *SQLiteStore) Insert(ctx context.Context, table string, row Row, opts InsertOpts) (any, error) {
	var pk []string
	if opts.PK != "" {
		pk = []string{opts.PK}
	}
	return s.insert(ctx, table, row, pk, opts)
}

func (s *SQLiteStore) insert(ctx context.Context, table string, row Row, pk []string, opts InsertOpts) (any, error) {
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := s.createTable(ctx, table, row, pk, opts.ForeignKeys); err != nil {
			return nil, err
		}
	} else {
		missing, err := s.missingColumns(ctx, table, row)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			if !opts.Alter {
				return nil, fmt.Errorf("insert into %s: %w: %s", table, ErrUnknownColumn, strings.Join(missing, ", "))
			}
			if err := s.addColumns(ctx, table, row, missing); err != nil {
				return nil, err
			}
		}
	}

	keys := sortedKeys(row, pk)
	names := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		v, err := sqlValue(row[k])
		if err != nil {
			return nil, fmt.Errorf("insert into %s: column %s: %w", table, k, err)
		}
		names[i] = quote(k)
		marks[i] = "?"
		args[i] = v
	}

	verb := "INSERT"
	if opts.Replace {
		verb = "INSERT OR REPLACE"
	}
	var stmt string
	if len(keys) == 0 {
		stmt = fmt.Sprintf("%s INTO %s DEFAULT VALUES", verb, quote(table))
	} else {
		stmt = fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
			verb, quote(table), strings.Join(names, ", "), strings.Join(marks, ", "))
	}

	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}

	if len(pk) == 1 {
		if v, ok := row[pk[0]]; ok && v != nil {
			return sqlValue(v)
		}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return id, nil
}

// Lookup returns the id of the row of table whose content equals values,
// inserting one if none does. Columns not named in values must be NULL for a
// row to match. The table gets an INTEGER "id" primary key.
func (s *SQLiteStore) Lookup(ctx context.Context, table string, values Row) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("lookup %s: no values", table)
	}
	if _, ok := values["id"]; ok {
		return 0, fmt.Errorf("lookup %s: values must not carry an id", table)
	}

	key, err := contentKey(table, values)
	if err != nil {
		return 0, err
	}
	if id, ok := s.lookups[key]; ok {
		return id, nil
	}

	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := s.createTable(ctx, table, values, []string{"id"}, nil); err != nil {
			return 0, err
		}
	} else {
		cols, err := s.Columns(ctx, table)
		if err != nil {
			return 0, err
		}
		if !integerID(cols) {
			return 0, fmt.Errorf("lookup %s: %w: table has no INTEGER id primary key", table, ErrAlter)
		}
		missing, err := s.missingColumns(ctx, table, values)
		if err != nil {
			return 0, err
		}
		if err := s.addColumns(ctx, table, values, missing); err != nil {
			return 0, err
		}
	}

	id, found, err := s.findByContent(ctx, table, values)
	if err != nil {
		return 0, err
	}
	if !found {
		v, err := s.insert(ctx, table, values, nil, InsertOpts{})
		if err != nil {
			return 0, err
		}
		id = v.(int64)
	}
	s.lookups[key] = id
	return id, nil
}

func integerID(cols []Column) bool {
	for _, c := range cols {
		if c.Name == "id" {
			return c.PK == 1 && strings.EqualFold(c.Type, "INTEGER")
		}
	}
	return false
}

func (s *SQLiteStore) findByContent(ctx context.Context, table string, values Row) (int64, bool, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return 0, false, err
	}

	var (
		conds []string
		args  []any
	)
	for _, c := range cols {
		if c.Name == "id" {
			continue
		}
		raw, ok := values[c.Name]
		if !ok || raw == nil {
			conds = append(conds, quote(c.Name)+" IS NULL")
			continue
		}
		v, err := sqlValue(raw)
		if err != nil {
			return 0, false, fmt.Errorf("lookup %s: column %s: %w", table, c.Name, err)
		}
		conds = append(conds, quote(c.Name)+" IS ?")
		args = append(args, v)
	}

	query := fmt.Sprintf("SELECT id FROM %s WHERE %s ORDER BY id LIMIT 1", quote(table), strings.Join(conds, " AND "))
	var id int64
	err = s.db.GetContext(ctx, &id, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return id, true, nil
}

// contentKey hashes the canonical JSON of values. encoding/json sorts map
// keys, so equal content always hashes equal.
func contentKey(table string, values Row) (string, error) {
	b, err := json.Marshal(map[string]any(values))
	if err != nil {
		return "", fmt.Errorf("lookup %s: encode values: %w", table, err)
	}
	sum := sha256.Sum256(b)
	return table + ":" + hex.EncodeToString(sum[:]), nil
}

// M2M upserts row into other and links it to the row of table identified by
// pk through a join table created on first use.
func (s *SQLiteStore) M2M(ctx context.Context, table string, pk any, other string, row Row, opts M2MOpts) error {
	otherPK := opts.PK
	if otherPK == "" {
		otherPK = "id"
	}
	otherID, err := s.Insert(ctx, other, row, InsertOpts{PK: otherPK, Alter: true, Replace: true})
	if err != nil {
		return fmt.Errorf("m2m %s -> %s: %w", table, other, err)
	}

	join := opts.JoinTable
	if join == "" {
		pair := []string{table, other}
		sort.Strings(pair)
		join = strings.Join(pair, "_")
	}

	tablePK, err := s.primaryKey(ctx, table)
	if err != nil {
		return err
	}
	left, right := table+"_id", other+"_id"
	link := Row{left: pk, right: otherID}
	_, err = s.insert(ctx, join, link, []string{left, right}, InsertOpts{
		ForeignKeys: []ForeignKey{
			{Column: left, OtherTable: table, OtherColumn: tablePK},
			{Column: right, OtherTable: other, OtherColumn: otherPK},
		},
		Replace: true,
	})
	if err != nil {
		return fmt.Errorf("m2m %s -> %s: %w", table, other, err)
	}
	return nil
}

// primaryKey returns the first primary key column of table, "id" when the
// table declares none.
func (s *SQLiteStore) primaryKey(ctx context.Context, table string) (string, error) {
	cols, err := s.Columns(ctx, table)
	if err != nil {
		return "", err
	}
	for _, c := range cols {
		if c.PK == 1 {
			return c.Name, nil
		}
	}
	return "id", nil
}
