// Package aggregate builds per-tile (and per planar grid cell) point counts
// and mean magnitudes for the low zooms, where drawing every point is
// both slow and unreadable.
package aggregate

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/indexer"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/stream"
	"github.com/rotblauer/treetiles/types/tile"
)

var (
	ErrUntrackedZoom = errors.New("zoom not tracked by points")
	ErrZoomMismatch  = errors.New("range zoom does not match table")
)

// Stat is one aggregate row. GridX and GridY are zero-valued, and the center
// is omitted, for tile-only levels.
type Stat struct {
	Zoom    common.SlippyZoomLevelT `json:"zoom"`
	X       int                     `json:"xtile"`
	Y       int                     `json:"ytile"`
	GridX   int64                   `json:"gx"`
	GridY   int64                   `json:"gy"`
	CenterX float64                 `json:"x_3857,omitempty"`
	CenterY float64                 `json:"y_3857,omitempty"`
	Count   int64                   `json:"tree_count"`

	// Values is the number of points with a magnitude; Mean is their average.
	// Mean is nil when Values is zero.
	Values int64    `json:"dbh_count"`
	Mean   *float64 `json:"avg_dbh"`
}

func (s Stat) Tile() tile.Coord {
	return tile.Coord{Z: s.Zoom, X: s.X, Y: s.Y}
}

func compareStats(a, b Stat) int {
	if c := cmp.Compare(a.X, b.X); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Y, b.Y); c != 0 {
		return c
	}
	if c := cmp.Compare(a.GridX, b.GridX); c != 0 {
		return c
	}
	return cmp.Compare(a.GridY, b.GridY)
}

type key struct {
	x, y   int
	gx, gy int64
}

type acc struct {
	count  int64
	values int64
	sum    float64
}

func (a *acc) merge(o *acc) {
	a.count += o.count
	a.values += o.values
	a.sum += o.sum
}

// cell returns the grid cell index of a planar coordinate.
func cell(v, grid float64) int64 {
	return int64(math.Floor(v / grid))
}

// cellCenter is floor(v/grid)*grid + grid/2 for the cell index.
func cellCenter(idx int64, grid float64) float64 {
	return float64(idx)*grid + grid/2
}

// Build groups points by their tile at level.Zoom and, when level.GridMeters
// is positive, by planar EPSG:3857 grid cell within the tile.
// Partial aggregates are computed in parallel and merged serially.
func Build(ctx context.Context, points []indexer.Point, level params.AggregateLevel, workers int) (*Table, error) {
	if level.GridMeters < 0 {
		return nil, fmt.Errorf("negative grid %v", level.GridMeters)
	}
	if workers < 1 {
		workers = params.DefaultWorkers
	}
	if len(points) > 0 {
		if _, ok := points[0].TileAt(level.Zoom); !ok {
			return nil, fmt.Errorf("%w: z%d", ErrUntrackedZoom, level.Zoom)
		}
	}
	logger := slog.With("component", "aggregate", "zoom", level.Zoom, "grid", level.GridMeters)
	start := time.Now()

	chunks := stream.Chunks(points, max(1, len(points)/(workers*4)+1))
	partials := stream.Parallel(ctx, workers, func(chunk []indexer.Point) map[key]*acc {
		m := make(map[key]*acc)
		for _, p := range chunk {
			c, _ := p.TileAt(level.Zoom)
			k := key{x: c.X, y: c.Y}
			if level.GridMeters > 0 {
				k.gx = cell(p.Mercator.X(), level.GridMeters)
				k.gy = cell(p.Mercator.Y(), level.GridMeters)
			}
			a, ok := m[k]
			if !ok {
				a = &acc{}
				m[k] = a
			}
			a.count++
			if p.Magnitude != nil {
				a.values++
				a.sum += *p.Magnitude
			}
		}
		return m
	}, stream.Slice(ctx, chunks))

	merged := make(map[key]*acc)
	for partial := range partials {
		for k, a := range partial {
			if have, ok := merged[k]; ok {
				have.merge(a)
				continue
			}
			merged[k] = a
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &Table{Level: level, Stats: make([]Stat, 0, len(merged))}
	for k, a := range merged {
		t.Stats = append(t.Stats, newStat(level, k, a))
	}
	slices.SortFunc(t.Stats, compareStats)

	logger.Info("Built aggregate table", "rows", humanize.Comma(int64(len(t.Stats))),
		"points", humanize.Comma(int64(len(points))), "took", time.Since(start).Round(time.Millisecond))
	return t, nil
}

func newStat(level params.AggregateLevel, k key, a *acc) Stat {
	s := Stat{
		Zoom:   level.Zoom,
		X:      k.x,
		Y:      k.y,
		GridX:  k.gx,
		GridY:  k.gy,
		Count:  a.count,
		Values: a.values,
	}
	if level.GridMeters > 0 {
		s.CenterX = cellCenter(k.gx, level.GridMeters)
		s.CenterY = cellCenter(k.gy, level.GridMeters)
	}
	if a.values > 0 {
		mean := a.sum / float64(a.values)
		s.Mean = &mean
	}
	return s
}

// Table is an immutable, sorted set of aggregate rows for one level.
// It is safe for concurrent readers.
type Table struct {
	Level params.AggregateLevel
	Stats []Stat
}

// NewTable wraps rows read back from storage, sorting them if necessary.
func NewTable(level params.AggregateLevel, stats []Stat) *Table {
	if !slices.IsSortedFunc(stats, compareStats) {
		stats = slices.Clone(stats)
		slices.SortFunc(stats, compareStats)
	}
	return &Table{Level: level, Stats: stats}
}

func (t *Table) Zoom() common.SlippyZoomLevelT {
	return t.Level.Zoom
}

// Query returns the rows whose tile lies within r.
func (t *Table) Query(r tile.Range) ([]Stat, error) {
	if r.Z != t.Level.Zoom {
		return nil, fmt.Errorf("%w: z%d vs z%d", ErrZoomMismatch, r.Z, t.Level.Zoom)
	}
	var out []Stat
	i, _ := slices.BinarySearchFunc(t.Stats, r.MinX, func(s Stat, x int) int {
		return cmp.Compare(s.X, x)
	})
	for ; i < len(t.Stats) && t.Stats[i].X <= r.MaxX; i++ {
		if s := t.Stats[i]; s.Y >= r.MinY && s.Y <= r.MaxY {
			out = append(out, s)
		}
	}
	return out, nil
}

// Total sums the counts of every row. It equals the number of points built from.
func (t *Table) Total() int64 {
	var n int64
	for _, s := range t.Stats {
		n += s.Count
	}
	return n
}

// RollUp collapses grid cells into one row per tile, weighting means by
// their value counts.
func (t *Table) RollUp() *Table {
	if t.Level.GridMeters == 0 {
		return t
	}
	level := params.AggregateLevel{Zoom: t.Level.Zoom}
	out := &Table{Level: level}
	for _, s := range t.Stats {
		n := len(out.Stats)
		if n == 0 || out.Stats[n-1].X != s.X || out.Stats[n-1].Y != s.Y {
			out.Stats = append(out.Stats, Stat{Zoom: s.Zoom, X: s.X, Y: s.Y})
			n++
		}
		last := &out.Stats[n-1]
		if s.Mean != nil {
			sum := *s.Mean * float64(s.Values)
			if last.Mean != nil {
				sum += *last.Mean * float64(last.Values)
			}
			mean := sum / float64(last.Values+s.Values)
			last.Mean = &mean
		}
		last.Count += s.Count
		last.Values += s.Values
	}
	return out
}
