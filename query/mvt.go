package query

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/types/tile"
)

var ErrCapabilityUnavailable = errors.New("capability unavailable")

// Capability reports whether an optional feature can be used, and why not.
type Capability struct {
	Available bool
	Reason    string
}

// MVTOptions mirror ST_AsMVTGeom's extent and buffer.
type MVTOptions struct {
	Extent   uint32
	Buffer   float64
	Disabled bool
}

func MVTOptionsFromBench(cfg *params.BenchConfig) MVTOptions {
	return MVTOptions{Extent: cfg.MVTExtent, Buffer: cfg.MVTBuffer, Disabled: cfg.DisableMVT}
}

// CheckMVT checks vector tile encoding with a one-point tile.
func CheckMVT(opts MVTOptions) Capability {
	if opts.Disabled {
		return Capability{Reason: "disabled by configuration"}
	}
	if opts.Extent == 0 {
		return Capability{Reason: "zero extent"}
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{0, 0}))
	if _, err := encodeLayer("check", fc, maptile.New(0, 0, 0), opts); err != nil {
		return Capability{Reason: err.Error()}
	}
	return Capability{Available: true}
}

func encodeLayer(name string, fc *geojson.FeatureCollection, t maptile.Tile, opts MVTOptions) ([]byte, error) {
	layer := mvt.NewLayer(name, fc)
	layer.Extent = opts.Extent
	layers := mvt.Layers{layer}
	layers.ProjectToTile(t)
	buf := opts.Buffer
	layers.Clip(orb.Bound{
		Min: orb.Point{-buf, -buf},
		Max: orb.Point{float64(opts.Extent) + buf, float64(opts.Extent) + buf},
	})
	layers.RemoveEmpty(0, 0)
	return mvt.Marshal(layers)
}

// EncodeTile assembles one vector tile from the table that serves z:
// aggregate cell centers at aggregate zooms, otherwise feature points.
func (e *Engine) EncodeTile(c tile.Coord, opts MVTOptions) ([]byte, error) {
	if capability := CheckMVT(opts); !capability.Available {
		return nil, fmt.Errorf("%w: mvt: %s", ErrCapabilityUnavailable, capability.Reason)
	}
	r := tile.NewRange(c.Z, c.X, c.X, c.Y, c.Y)
	fc := geojson.NewFeatureCollection()
	name := "trees"
	if _, ok := e.aggregates[c.Z]; ok {
		stats, err := e.QueryAggregates(r)
		if err != nil {
			return nil, err
		}
		name = fmt.Sprintf("agg_z%d", c.Z)
		for _, s := range stats {
			pt := project.Mercator.ToWGS84(orb.Point{s.CenterX, s.CenterY})
			if s.CenterX == 0 && s.CenterY == 0 {
				pt = tileCenter(s.Tile())
			}
			f := geojson.NewFeature(pt)
			f.Properties["tree_count"] = s.Count
			if s.Mean != nil {
				f.Properties["avg_dbh"] = *s.Mean
			}
			fc.Append(f)
		}
	} else {
		rows, err := e.QueryFeatures(r)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			fc.Append(row.Feature())
		}
	}
	return encodeLayer(name, fc, maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z)), opts)
}

func tileCenter(c tile.Coord) orb.Point {
	return maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z)).Center()
}
