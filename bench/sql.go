package bench

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/features"
	"github.com/rotblauer/treetiles/types/tile"
	_ "modernc.org/sqlite"
)

// sqlTable is an in-memory SQLite copy of the feature table with tile
// columns for the bench zooms.
type sqlTable struct {
	db    *sql.DB
	zooms []common.SlippyZoomLevelT
}

func tileColumns(z common.SlippyZoomLevelT) (x, y string) {
	return fmt.Sprintf("xtile_z%d", z), fmt.Sprintf("ytile_z%d", z)
}

func openSQLTable(ctx context.Context, ft *features.Table, zooms ...common.SlippyZoomLevelT) (*sqlTable, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to :memory: is its own database.
	db.SetMaxOpenConns(1)
	t := &sqlTable{db: db}
	for _, z := range zooms {
		if !slices.Contains(t.zooms, z) {
			t.zooms = append(t.zooms, z)
		}
	}
	if err := t.load(ctx, ft); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *sqlTable) load(ctx context.Context, ft *features.Table) error {
	cols := "tree_id TEXT, dbh REAL, category TEXT, x_3857 REAL, y_3857 REAL"
	insertCols := "tree_id, dbh, category, x_3857, y_3857"
	marks := "?, ?, ?, ?, ?"
	for _, z := range t.zooms {
		x, y := tileColumns(z)
		cols += fmt.Sprintf(", %s INTEGER, %s INTEGER", x, y)
		insertCols += ", " + x + ", " + y
		marks += ", ?, ?"
	}
	if _, err := t.db.ExecContext(ctx, "CREATE TABLE trees_fast ("+cols+")"); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO trees_fast ("+insertCols+") VALUES ("+marks+")")
	if err != nil {
		return err
	}
	defer stmt.Close()
	args := make([]any, 0, 5+2*len(t.zooms))
	for _, row := range ft.Rows {
		args = append(args[:0], row.ID, row.Magnitude, string(row.Category), row.X3857, row.Y3857)
		for _, z := range t.zooms {
			c, _ := row.TileAt(z)
			args = append(args, c.X, c.Y)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, z := range t.zooms {
		x, y := tileColumns(z)
		q := fmt.Sprintf("CREATE INDEX idx_tile_z%d ON trees_fast (%s, %s)", z, x, y)
		if _, err := t.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (t *sqlTable) Close() error {
	return t.db.Close()
}

func (t *sqlTable) count(ctx context.Context, q string, args ...any) (int, error) {
	rows, err := t.db.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func (t *sqlTable) groupAll(ctx context.Context, z common.SlippyZoomLevelT) (int, error) {
	x, y := tileColumns(z)
	return t.count(ctx, fmt.Sprintf(
		"SELECT %s, %s, COUNT(*), AVG(dbh) FROM trees_fast GROUP BY 1, 2", x, y))
}

func (t *sqlTable) groupRange(ctx context.Context, r tile.Range) (int, error) {
	x, y := tileColumns(r.Z)
	return t.count(ctx, fmt.Sprintf(
		"SELECT %s, %s, COUNT(*), AVG(dbh) FROM trees_fast WHERE %s BETWEEN ? AND ? AND %s BETWEEN ? AND ? GROUP BY 1, 2",
		x, y, x, y), r.MinX, r.MaxX, r.MinY, r.MaxY)
}

func (t *sqlTable) materializeStats(ctx context.Context, z common.SlippyZoomLevelT) error {
	x, y := tileColumns(z)
	for _, q := range []string{
		"DROP TABLE IF EXISTS tile_stats",
		fmt.Sprintf("CREATE TABLE tile_stats AS SELECT %s AS xtile, %s AS ytile, COUNT(*) AS n, AVG(dbh) AS avg_dbh FROM trees_fast GROUP BY 1, 2", x, y),
		"CREATE INDEX idx_tile_stats ON tile_stats (xtile, ytile)",
	} {
		if _, err := t.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqlTable) lookupStats(ctx context.Context, r tile.Range) (int, error) {
	return t.count(ctx, "SELECT * FROM tile_stats WHERE xtile BETWEEN ? AND ? AND ytile BETWEEN ? AND ?",
		r.MinX, r.MaxX, r.MinY, r.MaxY)
}

// runSQL adds the embedded SQL engine variants of the precomputed scenarios.
func (s *Suite) runSQL(ctx context.Context, ft *features.Table, lookup, neighborhood tile.Range,
	add func(string, int, Scenario) error, timed func(string, func() error) error) error {
	var t *sqlTable
	if err := timed(BuildSQL, func() error {
		var err error
		t, err = openSQLTable(ctx, ft, s.cfg.Zoom, s.cfg.NeighborhoodZoom)
		return err
	}); err != nil {
		return err
	}
	defer t.Close()

	if err := add(SQLPrecomputedGlobal, s.cfg.Runs, func() (int, error) {
		return t.groupAll(ctx, s.cfg.Zoom)
	}); err != nil {
		return err
	}
	if err := add(SQLNeighborhood, s.cfg.Runs, func() (int, error) {
		return t.groupRange(ctx, neighborhood)
	}); err != nil {
		return err
	}
	if err := timed(BuildSQLStats, func() error {
		return t.materializeStats(ctx, s.cfg.Zoom)
	}); err != nil {
		return err
	}
	return add(SQLMaterializedLookup, s.cfg.Runs, func() (int, error) {
		return t.lookupStats(ctx, lookup)
	})
}
