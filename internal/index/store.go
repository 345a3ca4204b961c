// Package index persists a scanned BIDS layout in SQLite so repeated runs
// over a large dataset can skip the directory walk.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/agentic-research/bids2nda/internal/bids"
	billy "github.com/go-git/go-billy/v5"
	_ "modernc.org/sqlite"
)

// SchemaVersion is bumped whenever the table layout changes.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS layout_info (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	id INTEGER PRIMARY KEY,
	rel_path TEXT NOT NULL UNIQUE,
	scope TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS entities (
	file_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (file_id, name)
) WITHOUT ROWID;
`

// ErrStaleIndex is returned by Load when the database was written by an
// incompatible schema version.
var ErrStaleIndex = errors.New("stale layout index")

// Save replaces the contents of the database at dbPath with layout.
func Save(ctx context.Context, dbPath string, layout *bids.Layout) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	for _, table := range []string{"entities", "files", "layout_info"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	info := map[string]string{
		"schema_version": strconv.Itoa(SchemaVersion),
		"root":           layout.Root,
		"derivatives":    strconv.FormatBool(layout.Derivatives),
	}
	for k, v := range info {
		if _, err := tx.ExecContext(ctx, "INSERT INTO layout_info (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("insert layout_info %s: %w", k, err)
		}
	}

	stmtFile, err := tx.PrepareContext(ctx, "INSERT INTO files (id, rel_path, scope) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare files: %w", err)
	}
	defer func() { _ = stmtFile.Close() }()
	stmtEnt, err := tx.PrepareContext(ctx, "INSERT INTO entities (file_id, name, value) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare entities: %w", err)
	}
	defer func() { _ = stmtEnt.Close() }()

	for _, f := range layout.Files() {
		if _, err := stmtFile.ExecContext(ctx, f.ID, f.RelPath, string(f.Scope)); err != nil {
			return fmt.Errorf("insert file %s: %w", f.RelPath, err)
		}
		var entErr error
		f.Entities.Each(func(name, value string) {
			if entErr != nil {
				return
			}
			if _, err := stmtEnt.ExecContext(ctx, f.ID, name, value); err != nil {
				entErr = fmt.Errorf("insert entity %s of %s: %w", name, f.RelPath, err)
			}
		})
		if entErr != nil {
			return entErr
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load rebuilds a layout from the database at dbPath. Entities are re-parsed
// from the stored paths; the entities table is for external SQL queries.
func Load(ctx context.Context, dbPath string) (*bids.Layout, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("stat index %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	info, err := readInfo(ctx, db)
	if err != nil {
		return nil, err
	}
	if info["schema_version"] != strconv.Itoa(SchemaVersion) {
		return nil, fmt.Errorf("%s has schema version %q, want %d: %w",
			dbPath, info["schema_version"], SchemaVersion, ErrStaleIndex)
	}

	layout := bids.NewLayout(info["root"])
	layout.Derivatives = info["derivatives"] == "true"

	rows, err := db.QueryContext(ctx, "SELECT rel_path, scope FROM files ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var rel, scopeName string
		if err := rows.Scan(&rel, &scopeName); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scope, ok := bids.ParseScope(scopeName)
		if !ok {
			return nil, fmt.Errorf("file %s has unknown scope %q", rel, scopeName)
		}
		layout.AddFile(rel, scope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return layout, nil
}

func readInfo(ctx context.Context, db *sql.DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM layout_info")
	if err != nil {
		return nil, fmt.Errorf("query layout_info: %w", err)
	}
	defer func() { _ = rows.Close() }()

	info := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan layout_info: %w", err)
		}
		info[k] = v
	}
	return info, rows.Err()
}

// Open returns the layout stored at dbPath, or scans fs and stores the result
// when the database is missing, stale, built for another root, or reset is set. An empty
// dbPath always scans without persisting.
func Open(ctx context.Context, fs billy.Filesystem, root, dbPath string, reset bool, opts bids.Options) (*bids.Layout, error) {
	logger := opts.Logger
	if dbPath == "" {
		return bids.Scan(fs, root, opts)
	}

	if !reset {
		layout, err := Load(ctx, dbPath)
		switch {
		case err == nil && layout.Root != root:
			logger.Warn().Str("stored_root", layout.Root).Msg("layout index belongs to another root, rebuilding")
		case err == nil:
			logger.Info().Str("path", dbPath).Int("files", layout.Len()).Msg("loaded layout index")
			return layout, nil
		case errors.Is(err, os.ErrNotExist):
		case errors.Is(err, ErrStaleIndex):
			logger.Warn().Err(err).Msg("rebuilding layout index")
		default:
			return nil, err
		}
	}

	layout, err := bids.Scan(fs, root, opts)
	if err != nil {
		return nil, err
	}
	if err := Save(ctx, dbPath, layout); err != nil {
		return nil, fmt.Errorf("save layout index: %w", err)
	}
	logger.Info().Str("path", dbPath).Int("files", layout.Len()).Msg("saved layout index")
	return layout, nil
}
