package params

import (
	"errors"
	"fmt"
	"slices"

	"github.com/rotblauer/treetiles/common"
)

// WebMercatorMaxLatitude is the latitude at which the spherical Web Mercator
// projection becomes square. Latitudes are clamped to +/- this value.
const WebMercatorMaxLatitude = 85.05112878

// AggregateLevel describes one precomputed aggregate table.
type AggregateLevel struct {
	Zoom common.SlippyZoomLevelT

	// GridMeters is the edge length of the planar EPSG:3857 grid cells
	// that further divide each tile. Zero means tile-only binning.
	GridMeters float64
}

// TileConfig holds the projection and indexing constants.
// It is built once and passed to constructors; nothing mutates it afterward.
type TileConfig struct {
	// TileSizePx is the tile edge in pixels used for world-pixel math.
	// The map style uses 512px raster tiles.
	TileSizePx float64

	// MaxLatitude bounds latitudes before any trig.
	MaxLatitude float64

	// TrackedZooms are the zoom levels indexed for every point,
	// ascending.
	TrackedZooms []common.SlippyZoomLevelT

	// AggregateLevels are the zooms served by aggregate tables
	// instead of per-feature rows.
	AggregateLevels []AggregateLevel

	// DefaultMagnitude is the render magnitude for records without one.
	DefaultMagnitude float64
}

func DefaultTileConfig() *TileConfig {
	return &TileConfig{
		TileSizePx:  512,
		MaxLatitude: WebMercatorMaxLatitude,
		TrackedZooms: []common.SlippyZoomLevelT{
			common.SlippyZoomLevel13, // village, or suburb
			common.SlippyZoomLevel14,
			common.SlippyZoomLevel15, // small road
			common.SlippyZoomLevel16, // street
			common.SlippyZoomLevel17, // block, park, addresses
			common.SlippyZoomLevel18, // some buildings, trees
			common.SlippyZoomLevel19,
			common.SlippyZoomLevel20,
		},
		AggregateLevels: []AggregateLevel{
			{Zoom: common.SlippyZoomLevel13, GridMeters: 64},
			{Zoom: common.SlippyZoomLevel14, GridMeters: 32},
		},
		DefaultMagnitude: 3,
	}
}

var ErrInvalidTileConfig = errors.New("invalid tile config")

// Validate checks the config for internal consistency.
func (c *TileConfig) Validate() error {
	if c.TileSizePx <= 0 {
		return fmt.Errorf("%w: tile size %v", ErrInvalidTileConfig, c.TileSizePx)
	}
	if c.MaxLatitude <= 0 || c.MaxLatitude >= 90 {
		return fmt.Errorf("%w: max latitude %v", ErrInvalidTileConfig, c.MaxLatitude)
	}
	if len(c.TrackedZooms) == 0 {
		return fmt.Errorf("%w: no tracked zooms", ErrInvalidTileConfig)
	}
	if !slices.IsSorted(c.TrackedZooms) {
		return fmt.Errorf("%w: tracked zooms not ascending %v", ErrInvalidTileConfig, c.TrackedZooms)
	}
	for i, z := range c.TrackedZooms {
		if !z.Valid() {
			return fmt.Errorf("%w: zoom %d out of range", ErrInvalidTileConfig, z)
		}
		if i > 0 && c.TrackedZooms[i-1] == z {
			return fmt.Errorf("%w: duplicate zoom %d", ErrInvalidTileConfig, z)
		}
	}
	for _, lvl := range c.AggregateLevels {
		if !c.Tracks(lvl.Zoom) {
			return fmt.Errorf("%w: aggregate zoom %d is not tracked", ErrInvalidTileConfig, lvl.Zoom)
		}
		if lvl.GridMeters < 0 {
			return fmt.Errorf("%w: negative grid %v", ErrInvalidTileConfig, lvl.GridMeters)
		}
	}
	return nil
}

// Tracks returns true if z is one of the tracked zooms.
func (c *TileConfig) Tracks(z common.SlippyZoomLevelT) bool {
	return slices.Contains(c.TrackedZooms, z)
}

// DeepestZoom returns the greatest tracked zoom.
func (c *TileConfig) DeepestZoom() common.SlippyZoomLevelT {
	return c.TrackedZooms[len(c.TrackedZooms)-1]
}

// AggregateLevelFor returns the aggregate level for z, if any.
func (c *TileConfig) AggregateLevelFor(z common.SlippyZoomLevelT) (AggregateLevel, bool) {
	for _, lvl := range c.AggregateLevels {
		if lvl.Zoom == z {
			return lvl, true
		}
	}
	return AggregateLevel{}, false
}
