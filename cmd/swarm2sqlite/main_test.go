package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/swarm2sqlite/internal/store"
	"github.com/elonfeng/swarm2sqlite/pkg/source"
)

func writeExport(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../pkg/checkin/testdata/checkin.json")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, append(append([]byte("["), data...), ']'), 0o600))
	return path
}

func execute(args ...string) error {
	cmd := rootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestImportLoadAndSave(t *testing.T) {
	export := writeExport(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "swarm.db")
	savePath := filepath.Join(dir, "saved.json")

	require.NoError(t, execute("import", dbPath, "--load", export, "--save", savePath, "-s"))

	db, err := store.New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	tables, err := db.TableNames(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, 13)
	views, err := db.ViewNames(ctx)
	require.NoError(t, err)
	assert.Len(t, views, 2)

	want, err := source.Load(export)
	require.NoError(t, err)
	got, err := source.Load(savePath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestImportTwiceIsIdempotent(t *testing.T) {
	export := writeExport(t)
	dbPath := filepath.Join(t.TempDir(), "swarm.db")

	require.NoError(t, execute("import", dbPath, "--load", export, "-s"))
	require.NoError(t, execute("import", dbPath, "--load", export, "-s"))

	db, err := store.New(dbPath)
	require.NoError(t, err)
	defer db.Close()
	n, err := db.Count(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestImportRejectsBadFlags(t *testing.T) {
	export := writeExport(t)
	dbPath := filepath.Join(t.TempDir(), "swarm.db")

	assert.Error(t, execute("import", dbPath, "--load", export, "--token", "tok", "-s"))
	assert.Error(t, execute("import", dbPath, "--load", export, "--since", "3 days", "-s"))
	assert.Error(t, execute("import", dbPath, "--load", export, "--null-columns", "never", "-s"))
	assert.Error(t, execute("import"))
}
