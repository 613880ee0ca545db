package indexer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/testing/testdata"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/rotblauer/treetiles/types/tree"
)

func f(v float64) *float64 { return &v }

func TestIndexer_Index(t *testing.T) {
	ix, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := ix.Index(testdata.ScenarioRecords()[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Tiles) != len(params.DefaultTileConfig().TrackedZooms) {
		t.Fatalf("got %d tiles", len(p.Tiles))
	}
	c, ok := p.TileAt(common.SlippyZoomLevel14)
	if !ok || c != (tile.Coord{Z: 14, X: 2619, Y: 6333}) {
		t.Errorf("z14 tile: got %v %v", c, ok)
	}
	if _, ok := p.TileAt(common.SlippyZoomLevel12); ok {
		t.Error("untracked zoom should not resolve")
	}
	for i := 1; i < len(p.Tiles); i++ {
		if p.Tiles[i].Parent(p.Tiles[i-1].Z) != p.Tiles[i-1] {
			t.Errorf("tile %v is not a child of %v", p.Tiles[i], p.Tiles[i-1])
		}
	}
	if p.Mercator.X() > -13_000_000 || p.Mercator.Y() < 4_000_000 {
		t.Errorf("unexpected mercator %v", p.Mercator)
	}
}

func TestIndexer_Index_Errors(t *testing.T) {
	ix, _ := New(nil)
	cases := []struct {
		name string
		rec  tree.Record
		want error
	}{
		{"missing lon", tree.Record{ID: "a", Latitude: f(1)}, ErrMissingCoordinates},
		{"missing both", tree.Record{ID: "b"}, ErrMissingCoordinates},
		{"lon too big", tree.Record{ID: "c", Longitude: f(181), Latitude: f(1)}, ErrOutOfRange},
		{"lat too big", tree.Record{ID: "d", Longitude: f(1), Latitude: f(-91)}, ErrOutOfRange},
		{"nan", tree.Record{ID: "e", Longitude: f(math.NaN()), Latitude: f(1)}, ErrOutOfRange},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ix.Index(c.rec)
			if !errors.Is(err, c.want) {
				t.Errorf("got %v, want %v", err, c.want)
			}
		})
	}
}

func TestIndexer_IndexAll(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	ix, _ := New(nil)

	recs, _, err := tree.ReadRecords(strings.NewReader(testdata.Trees_Mixed))
	if err != nil {
		t.Fatal(err)
	}
	recs = append(recs, testdata.RandomRecords(rand.New(rand.NewSource(1)), 500, orb.Point{-122.44, 37.76}, 0.05)...)

	points, report, err := ix.IndexAll(context.Background(), recs, 4)
	if err != nil {
		t.Fatal(err)
	}
	if report.Total != len(recs) {
		t.Errorf("total: got %d", report.Total)
	}
	if report.MissingCoordinates != 1 || report.OutOfRange != 1 {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Indexed != len(points) || report.Indexed+report.Skipped() != report.Total {
		t.Errorf("report does not add up: %+v", report)
	}
	for i := 1; i < len(points); i++ {
		if CompareIDs(points[i-1].ID, points[i].ID) > 0 {
			t.Fatalf("not sorted at %d: %s > %s", i, points[i-1].ID, points[i].ID)
		}
	}

	// Deterministic regardless of worker count.
	again, _, _ := ix.IndexAll(context.Background(), recs, 1)
	if len(again) != len(points) {
		t.Fatalf("got %d, want %d", len(again), len(points))
	}
	for i := range again {
		if again[i].ID != points[i].ID || again[i].Tiles[0] != points[i].Tiles[0] {
			t.Fatalf("mismatch at %d", i)
		}
	}
}

func TestIndexer_IndexAll_Cancelled(t *testing.T) {
	ix, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recs := testdata.RandomRecords(rand.New(rand.NewSource(2)), 100, orb.Point{0, 0}, 1)
	if _, _, err := ix.IndexAll(ctx, recs, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
}

func TestCompareIDs(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"2", "10", -1},
		{"10", "2", 1},
		{"7", "7", 0},
		{"9", "abc", -1},
		{"abc", "abd", -1},
	}
	for _, c := range cases {
		if got := CompareIDs(c.a, c.b); got != c.want {
			t.Errorf("CompareIDs(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := params.DefaultTileConfig()
	cfg.TrackedZooms = nil
	if _, err := New(cfg); !errors.Is(err, params.ErrInvalidTileConfig) {
		t.Errorf("got %v", err)
	}
}
