/*
Package features builds the fast feature table: one flat row per valid point,
joined with species enrichment, carrying its tile column at every tracked zoom.

Rows are sorted by their quadkey at the deepest tracked zoom. Because quadkeys
nest, every tile at any shallower tracked zoom is one contiguous run of rows,
found by binary search.
*/
package features

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/indexer"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/rotblauer/treetiles/types/tree"
)

var ErrUntrackedZoom = errors.New("zoom not tracked by feature table")

// Row is one feature table row.
type Row struct {
	ID         string
	Lon, Lat   float64
	X3857      float64
	Y3857      float64
	Tiles      []tile.Coord
	Quadkey    uint64
	Species    string
	CommonName string
	SiteInfo   string
	PlantDate  string
	Category   tree.Category

	NativeStatus   string
	IsEvergreen    *bool
	MatureHeightFt *float64
	BloomSeason    string
	WildlifeValue  string
	FireRisk       string

	// Magnitude drives symbol size and is never missing.
	Magnitude float64
	// RawMagnitude is the source value, nil when absent.
	RawMagnitude *float64
}

// TileAt returns the row's tile at z, if tracked.
func (r Row) TileAt(z common.SlippyZoomLevelT) (tile.Coord, bool) {
	for _, c := range r.Tiles {
		if c.Z == z {
			return c, true
		}
	}
	return tile.Coord{}, false
}

// Feature returns the row as a GeoJSON point feature with its display attributes.
func (r Row) Feature() *geojson.Feature {
	f := geojson.NewFeature(orb.Point{r.Lon, r.Lat})
	f.ID = r.ID
	f.Properties["tree_id"] = r.ID
	f.Properties["species"] = r.Species
	f.Properties["common_name"] = r.CommonName
	f.Properties["tree_category"] = string(r.Category)
	f.Properties["dbh"] = r.Magnitude
	return f
}

// NewRow joins an indexed point with its enrichment row, if any.
func NewRow(p indexer.Point, species *tree.SpeciesIndex, defaultMagnitude float64) Row {
	row := Row{
		ID:           p.ID,
		Lon:          p.Lon(),
		Lat:          p.Lat(),
		X3857:        p.Mercator.X(),
		Y3857:        p.Mercator.Y(),
		Tiles:        p.Tiles,
		Species:      p.Species,
		CommonName:   p.CommonName,
		SiteInfo:     p.SiteInfo,
		PlantDate:    p.PlantDate,
		Category:     tree.CategoryDefault,
		Magnitude:    p.MagnitudeOr(defaultMagnitude),
		RawMagnitude: p.Magnitude,
	}
	if len(p.Tiles) > 0 {
		row.Quadkey = p.Tiles[len(p.Tiles)-1].Quadkey()
	}
	if s, ok := species.Lookup(p.Species); ok {
		row.Category = s.Category()
		row.NativeStatus = s.NativeStatus
		row.IsEvergreen = s.IsEvergreen
		row.MatureHeightFt = s.MatureHeightFt
		row.BloomSeason = s.BloomSeason
		row.WildlifeValue = s.WildlifeValue
		row.FireRisk = s.FireRisk
	}
	return row
}

// Table is an immutable set of rows sorted by deep quadkey.
// It is safe for concurrent readers.
type Table struct {
	zooms []common.SlippyZoomLevelT
	deep  common.SlippyZoomLevelT
	Rows  []Row
	keys  []uint64
}

// linearScanTiles is the range size above which Query scans every row
// rather than searching per tile.
const linearScanTiles = 4096

// Build creates the table from indexed points.
func Build(ctx context.Context, cfg *params.TileConfig, points []indexer.Point, species *tree.SpeciesIndex) (*Table, error) {
	if cfg == nil {
		cfg = params.DefaultTileConfig()
	}
	start := time.Now()
	rows := make([]Row, 0, len(points))
	matched := 0
	for i, p := range points {
		if i%10_000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := NewRow(p, species, cfg.DefaultMagnitude)
		if _, ok := species.Lookup(p.Species); ok {
			matched++
		}
		rows = append(rows, row)
	}
	t := NewTable(cfg, rows)
	slog.Info("Built feature table", "component", "features",
		"rows", humanize.Comma(int64(len(rows))), "species_matched", humanize.Comma(int64(matched)),
		"took", time.Since(start).Round(time.Millisecond))
	return t, nil
}

// NewTable sorts rows by quadkey (stable, so ties keep their order) and indexes them.
func NewTable(cfg *params.TileConfig, rows []Row) *Table {
	slices.SortStableFunc(rows, func(a, b Row) int {
		return cmp.Compare(a.Quadkey, b.Quadkey)
	})
	t := &Table{
		zooms: slices.Clone(cfg.TrackedZooms),
		deep:  cfg.DeepestZoom(),
		Rows:  rows,
		keys:  make([]uint64, len(rows)),
	}
	for i := range rows {
		t.keys[i] = rows[i].Quadkey
	}
	return t
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Query returns the rows whose tile at r.Z lies within r, in quadkey order.
func (t *Table) Query(r tile.Range) ([]Row, error) {
	if !slices.Contains(t.zooms, r.Z) {
		return nil, fmt.Errorf("%w: z%d", ErrUntrackedZoom, r.Z)
	}
	if r.Count() > linearScanTiles {
		return t.scan(r), nil
	}

	type span struct{ lo, hi int }
	var spans []span
	r.Each(func(c tile.Coord) bool {
		qlo, qhi := c.QuadkeySpan(t.deep)
		lo := sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= qlo })
		hi := lo + sort.Search(len(t.keys)-lo, func(i int) bool { return t.keys[lo+i] >= qhi })
		if hi > lo {
			spans = append(spans, span{lo, hi})
		}
		return true
	})
	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.lo, b.lo) })

	var out []Row
	for _, s := range spans {
		out = append(out, t.Rows[s.lo:s.hi]...)
	}
	return out, nil
}

func (t *Table) scan(r tile.Range) []Row {
	var out []Row
	for _, row := range t.Rows {
		if c, ok := row.TileAt(r.Z); ok && r.ContainsXY(c.X, c.Y) {
			out = append(out, row)
		}
	}
	return out
}

// TileCounts returns the number of rows per tile at z.
func (t *Table) TileCounts(z common.SlippyZoomLevelT) (map[tile.Coord]int, error) {
	if !slices.Contains(t.zooms, z) {
		return nil, fmt.Errorf("%w: z%d", ErrUntrackedZoom, z)
	}
	out := make(map[tile.Coord]int)
	for _, row := range t.Rows {
		c, _ := row.TileAt(z)
		out[c]++
	}
	return out, nil
}
