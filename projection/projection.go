// Package projection converts between geographic coordinates and
// Web Mercator world pixels and tile indices.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/types/tile"
)

var (
	ErrNonFinite     = errors.New("non-finite coordinate")
	ErrInvalidZoom   = errors.New("invalid zoom")
	ErrEmptyViewport = errors.New("empty viewport")
)

// Projector holds the tile size and latitude bound. It is immutable
// and safe for concurrent use.
type Projector struct {
	tileSize float64
	maxLat   float64
}

// New returns a projector for the config. A nil config uses params.DefaultTileConfig.
func New(cfg *params.TileConfig) *Projector {
	if cfg == nil {
		cfg = params.DefaultTileConfig()
	}
	return &Projector{tileSize: cfg.TileSizePx, maxLat: cfg.MaxLatitude}
}

// ClampLat bounds lat to the projection's square extent.
func (p *Projector) ClampLat(lat float64) float64 {
	return common.Clamp(lat, -p.maxLat, p.maxLat)
}

// WorldSize is the edge of the world square in pixels at zoom.
// Zoom may be fractional.
func (p *Projector) WorldSize(zoom float64) float64 {
	return p.tileSize * math.Exp2(zoom)
}

func checkZoom(zoom float64) error {
	if !common.IsFinite(zoom) {
		return fmt.Errorf("%w: zoom %v", ErrNonFinite, zoom)
	}
	if zoom < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidZoom, zoom)
	}
	return nil
}

// Project returns world pixel coordinates for lon, lat at zoom.
// Latitude is clamped first.
func (p *Projector) Project(lon, lat, zoom float64) (x, y float64, err error) {
	if !common.IsFinite(lon, lat) {
		return 0, 0, fmt.Errorf("%w: (%v, %v)", ErrNonFinite, lon, lat)
	}
	if err := checkZoom(zoom); err != nil {
		return 0, 0, err
	}
	nx, ny := p.normalized(lon, lat)
	world := p.WorldSize(zoom)
	return nx * world, ny * world, nil
}

// Unproject inverts Project.
func (p *Projector) Unproject(x, y, zoom float64) (lon, lat float64, err error) {
	if !common.IsFinite(x, y) {
		return 0, 0, fmt.Errorf("%w: (%v, %v)", ErrNonFinite, x, y)
	}
	if err := checkZoom(zoom); err != nil {
		return 0, 0, err
	}
	world := p.WorldSize(zoom)
	lon = x/world*360 - 180
	lat = math.Atan(math.Sinh(math.Pi-2*math.Pi*y/world)) * 180 / math.Pi
	return lon, lat, nil
}

// normalized returns the position in the unit world square, y down.
func (p *Projector) normalized(lon, lat float64) (nx, ny float64) {
	sin := math.Sin(p.ClampLat(lat) * math.Pi / 180)
	nx = (lon + 180) / 360
	ny = 0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)
	return nx, ny
}

func tileIndex(norm float64, z common.SlippyZoomLevelT) int {
	i := int(math.Floor(norm * float64(z.TilesPerAxis())))
	return common.ClampInt(i, 0, z.MaxTileIndex())
}

// TileX returns the tile column of lon at z. lon = 180 maps to the last column.
func (p *Projector) TileX(lon float64, z common.SlippyZoomLevelT) int {
	return tileIndex((lon+180)/360, z)
}

// TileY returns the tile row of lat at z.
func (p *Projector) TileY(lat float64, z common.SlippyZoomLevelT) int {
	_, ny := p.normalized(0, lat)
	return tileIndex(ny, z)
}

// Tile returns the tile containing lon, lat at z.
func (p *Projector) Tile(lon, lat float64, z common.SlippyZoomLevelT) tile.Coord {
	return tile.Coord{Z: z, X: p.TileX(lon, z), Y: p.TileY(lat, z)}
}

// ToMercator returns EPSG:3857 meters. Latitude is clamped first.
func (p *Projector) ToMercator(lon, lat float64) orb.Point {
	return project.WGS84.ToMercator(orb.Point{lon, p.ClampLat(lat)})
}

// ViewportBounds returns the geographic bounds of a w by h pixel viewport
// centered on center at a (fractional) zoom.
func (p *Projector) ViewportBounds(center orb.Point, zoom float64, w, h int) (orb.Bound, error) {
	if w <= 0 || h <= 0 {
		return orb.Bound{}, fmt.Errorf("%w: %dx%d", ErrEmptyViewport, w, h)
	}
	cx, cy, err := p.Project(center.Lon(), center.Lat(), zoom)
	if err != nil {
		return orb.Bound{}, err
	}
	halfW, halfH := float64(w)/2, float64(h)/2
	west, north, err := p.Unproject(cx-halfW, cy-halfH, zoom)
	if err != nil {
		return orb.Bound{}, err
	}
	east, south, err := p.Unproject(cx+halfW, cy+halfH, zoom)
	if err != nil {
		return orb.Bound{}, err
	}
	return orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}, nil
}

// RangeForBounds returns the clamped tile range covering b at z.
func (p *Projector) RangeForBounds(z common.SlippyZoomLevelT, b orb.Bound) tile.Range {
	return tile.NewRange(z,
		p.TileX(b.Min.Lon(), z), p.TileX(b.Max.Lon(), z),
		p.TileY(b.Max.Lat(), z), p.TileY(b.Min.Lat(), z),
	)
}
