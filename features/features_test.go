package features

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/indexer"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/testing/testdata"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/rotblauer/treetiles/types/tree"
)

func buildTable(t testing.TB, recs []tree.Record) *Table {
	t.Helper()
	ix, err := indexer.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	points, _, err := ix.IndexAll(context.Background(), recs, 4)
	if err != nil {
		t.Fatal(err)
	}
	species, _, err := tree.ReadSpecies(strings.NewReader(testdata.Species_Sample))
	if err != nil {
		t.Fatal(err)
	}
	table, err := Build(context.Background(), nil, points, tree.NewSpeciesIndex(species))
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestBuild_Join(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	table := buildTable(t, testdata.ScenarioRecords())
	if table.Len() != 3 {
		t.Fatalf("got %d rows", table.Len())
	}
	byID := map[string]Row{}
	for _, r := range table.Rows {
		byID[r.ID] = r
	}
	if got := byID["1"]; got.Category != tree.CategorySpreading || got.NativeStatus != "native" ||
		got.IsEvergreen == nil || !*got.IsEvergreen {
		t.Errorf("row 1: %+v", got)
	}
	if got := byID["2"]; got.Category != tree.CategoryBroadleaf || got.FireRisk != "low" {
		t.Errorf("row 2: %+v", got)
	}
	got := byID["3"]
	if got.Category != tree.CategoryDefault {
		t.Errorf("row 3 category %q", got.Category)
	}
	if got.Magnitude != 3 || got.RawMagnitude != nil {
		t.Errorf("row 3 magnitude %v raw %v", got.Magnitude, got.RawMagnitude)
	}
	for i := 1; i < table.Len(); i++ {
		if table.Rows[i-1].Quadkey > table.Rows[i].Quadkey {
			t.Fatal("rows not sorted by quadkey")
		}
	}
}

func TestTable_Query_MatchesScan(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	r := rand.New(rand.NewSource(11))
	center := orb.Point{-122.44, 37.76}
	table := buildTable(t, testdata.RandomRecords(r, 3_000, center, 0.08))

	for _, z := range params.DefaultTileConfig().TrackedZooms {
		for i := 0; i < 20; i++ {
			c := table.Rows[r.Intn(table.Len())]
			ct, _ := c.TileAt(z)
			rng := tile.Around(ct, r.Intn(4), r.Intn(4))
			got, err := table.Query(rng)
			if err != nil {
				t.Fatal(err)
			}
			want := table.scan(rng)
			if len(got) != len(want) {
				t.Fatalf("z%d %v: got %d rows, scan %d", z, rng, len(got), len(want))
			}
			for j := range got {
				if got[j].ID != want[j].ID {
					t.Fatalf("z%d %v: order differs at %d", z, rng, j)
				}
			}
			if len(got) == 0 {
				t.Fatalf("range around a row returned nothing")
			}
		}
	}

	// Large ranges take the linear path.
	world, err := table.Query(tile.World(15))
	if err != nil {
		t.Fatal(err)
	}
	if len(world) != table.Len() {
		t.Errorf("world: %d of %d", len(world), table.Len())
	}
}

func TestTable_Query_UntrackedZoom(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	table := buildTable(t, testdata.ScenarioRecords())
	if _, err := table.Query(tile.World(12)); !errors.Is(err, ErrUntrackedZoom) {
		t.Errorf("got %v", err)
	}
	if _, err := table.TileCounts(21); !errors.Is(err, ErrUntrackedZoom) {
		t.Errorf("got %v", err)
	}
}

func TestTable_TileCounts(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	table := buildTable(t, testdata.ScenarioRecords())
	counts, err := table.TileCounts(14)
	if err != nil {
		t.Fatal(err)
	}
	if counts[tile.Coord{Z: 14, X: 2619, Y: 6333}] != 2 || len(counts) != 2 {
		t.Errorf("got %v", counts)
	}
}

func TestRow_JSON(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	table := buildTable(t, testdata.ScenarioRecords())
	row := table.Rows[0]
	b, err := json.Marshal(row)
	if err != nil {
		t.Fatal(err)
	}
	for _, col := range []string{`"x_3857"`, `"xtile_z15"`, `"ytile_z20"`, `"tree_category"`} {
		if !strings.Contains(string(b), col) {
			t.Errorf("missing column %s in %s", col, b)
		}
	}
	var back Row
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != row.ID || back.Quadkey != row.Quadkey || len(back.Tiles) != len(row.Tiles) {
		t.Fatalf("got %+v", back)
	}
	for i := range back.Tiles {
		if back.Tiles[i] != row.Tiles[i] {
			t.Errorf("tile %d: %v vs %v", i, back.Tiles[i], row.Tiles[i])
		}
	}
	if (back.RawMagnitude == nil) != (row.RawMagnitude == nil) {
		t.Errorf("raw magnitude nullness lost")
	}
}

func TestRow_Feature(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	table := buildTable(t, testdata.ScenarioRecords())
	f := table.Rows[0].Feature()
	if f.Geometry.GeoJSONType() != "Point" || f.Properties["tree_category"] == "" {
		t.Errorf("got %+v", f)
	}
}
