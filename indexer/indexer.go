/*
Package indexer assigns every point record one tile coordinate per tracked zoom
and one projected (EPSG:3857) position.

Indexing is pure: the same record and config always produce the same Point.
Downstream builders (features, aggregate) consume the indexed points and
never re-project.
*/
package indexer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/projection"
	"github.com/rotblauer/treetiles/stream"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/rotblauer/treetiles/types/tree"
)

var (
	ErrMissingCoordinates = errors.New("missing coordinates")
	ErrOutOfRange         = errors.New("coordinates out of range")
)

// Point is an indexed record.
type Point struct {
	tree.Record

	// Mercator is the position in EPSG:3857 meters.
	Mercator orb.Point

	// Tiles holds one coordinate per tracked zoom, in tracked-zoom order.
	Tiles []tile.Coord
}

// TileAt returns the point's tile at zoom z, if z is tracked.
func (p Point) TileAt(z common.SlippyZoomLevelT) (tile.Coord, bool) {
	for _, c := range p.Tiles {
		if c.Z == z {
			return c, true
		}
	}
	return tile.Coord{}, false
}

// Lon and Lat are only meaningful for indexed points, which always have coordinates.
func (p Point) Lon() float64 { return *p.Longitude }
func (p Point) Lat() float64 { return *p.Latitude }

// Report tallies an IndexAll run.
type Report struct {
	Total              int
	Indexed            int
	MissingCoordinates int
	OutOfRange         int
}

func (r Report) Skipped() int {
	return r.MissingCoordinates + r.OutOfRange
}

type Indexer struct {
	cfg       *params.TileConfig
	projector *projection.Projector
	logger    *slog.Logger
}

func New(cfg *params.TileConfig) (*Indexer, error) {
	if cfg == nil {
		cfg = params.DefaultTileConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Indexer{
		cfg:       cfg,
		projector: projection.New(cfg),
		logger:    slog.With("component", "indexer"),
	}, nil
}

func (ix *Indexer) Config() *params.TileConfig {
	return ix.cfg
}

func (ix *Indexer) Projector() *projection.Projector {
	return ix.projector
}

// Index computes the tiles and projected position of one record.
func (ix *Indexer) Index(rec tree.Record) (Point, error) {
	if !rec.HasCoordinates() {
		return Point{}, fmt.Errorf("%w: tree %s", ErrMissingCoordinates, rec.ID)
	}
	lon, lat := *rec.Longitude, *rec.Latitude
	if !common.IsFinite(lon, lat) || !s2.LatLngFromDegrees(lat, lon).IsValid() {
		return Point{}, fmt.Errorf("%w: tree %s (%v, %v)", ErrOutOfRange, rec.ID, lon, lat)
	}
	p := Point{
		Record:   rec,
		Mercator: ix.projector.ToMercator(lon, lat),
		Tiles:    make([]tile.Coord, len(ix.cfg.TrackedZooms)),
	}
	for i, z := range ix.cfg.TrackedZooms {
		p.Tiles[i] = ix.projector.Tile(lon, lat, z)
	}
	return p, nil
}

type indexed struct {
	pos   int
	point Point
	err   error
}

// IndexAll indexes records with a bounded pool of workers.
// Invalid records are skipped and tallied in the report.
// Output is sorted by record identifier.
func (ix *Indexer) IndexAll(ctx context.Context, records []tree.Record, workers int) ([]Point, Report, error) {
	if workers < 1 {
		workers = params.DefaultWorkers
	}
	report := Report{Total: len(records)}
	chunks := stream.Chunks(records, max(1, len(records)/(workers*4)+1))

	type job struct {
		offset  int
		records []tree.Record
	}
	jobs := make([]job, 0, len(chunks))
	offset := 0
	for _, ch := range chunks {
		jobs = append(jobs, job{offset: offset, records: ch})
		offset += len(ch)
	}

	results := stream.Parallel(ctx, workers, func(j job) []indexed {
		out := make([]indexed, len(j.records))
		for i, rec := range j.records {
			p, err := ix.Index(rec)
			out[i] = indexed{pos: j.offset + i, point: p, err: err}
		}
		return out
	}, stream.Slice(ctx, jobs))

	all := make([]indexed, 0, len(records))
	for batch := range results {
		all = append(all, batch...)
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	points := make([]indexed, 0, len(all))
	for _, r := range all {
		switch {
		case r.err == nil:
			points = append(points, r)
		case errors.Is(r.err, ErrMissingCoordinates):
			report.MissingCoordinates++
			ix.logger.Debug("Skipping record", "error", r.err)
		default:
			report.OutOfRange++
			ix.logger.Debug("Skipping record", "error", r.err)
		}
	}
	slices.SortFunc(points, func(a, b indexed) int {
		if c := CompareIDs(a.point.ID, b.point.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})

	out := make([]Point, len(points))
	for i := range points {
		out[i] = points[i].point
	}
	report.Indexed = len(out)
	if report.Skipped() > 0 {
		ix.logger.Warn("Skipped invalid records",
			"missing_coordinates", report.MissingCoordinates,
			"out_of_range", report.OutOfRange,
			"indexed", report.Indexed)
	}
	return out, report, nil
}

// CompareIDs orders identifiers numerically when both are integers,
// otherwise lexically. Numeric identifiers sort before others.
func CompareIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		return cmp.Compare(ai, bi)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return cmp.Compare(a, b)
}
