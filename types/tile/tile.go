// Package tile defines slippy-map tile coordinates and rectangular tile ranges.
package tile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotblauer/treetiles/common"
)

// Coord is a tile index in the standard quad-tree scheme.
type Coord struct {
	Z common.SlippyZoomLevelT `json:"z"`
	X int                     `json:"x"`
	Y int                     `json:"y"`
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Valid returns true if x and y are within [0, 2^z - 1].
func (c Coord) Valid() bool {
	if !c.Z.Valid() {
		return false
	}
	m := c.Z.MaxTileIndex()
	return c.X >= 0 && c.X <= m && c.Y >= 0 && c.Y <= m
}

// Parent returns the ancestor tile at zoom z, which must be <= c.Z.
func (c Coord) Parent(z common.SlippyZoomLevelT) Coord {
	if z >= c.Z {
		return c
	}
	shift := uint(c.Z - z)
	return Coord{Z: z, X: c.X >> shift, Y: c.Y >> shift}
}

// Quadkey returns the Morton (Z-order) code of the tile, interleaving
// x bits at even positions and y bits at odd positions.
// All descendants of a tile share its quadkey as a prefix, so
// sorting by deep quadkeys makes every shallower tile a contiguous run.
func (c Coord) Quadkey() uint64 {
	return spread(uint64(c.X)) | spread(uint64(c.Y))<<1
}

// QuadkeySpan returns the half-open interval [lo, hi) of quadkeys at zoom deep
// that descend from c. deep must be >= c.Z.
func (c Coord) QuadkeySpan(deep common.SlippyZoomLevelT) (lo, hi uint64) {
	shift := 2 * uint(deep-c.Z)
	q := c.Quadkey()
	return q << shift, (q + 1) << shift
}

// CoordFromQuadkey inverts Quadkey.
func CoordFromQuadkey(z common.SlippyZoomLevelT, q uint64) Coord {
	return Coord{Z: z, X: int(squash(q)), Y: int(squash(q >> 1))}
}

func spread(v uint64) uint64 {
	v &= 0xFFFFFFFF
	v = (v | v<<16) & 0x0000FFFF0000FFFF
	v = (v | v<<8) & 0x00FF00FF00FF00FF
	v = (v | v<<4) & 0x0F0F0F0F0F0F0F0F
	v = (v | v<<2) & 0x3333333333333333
	v = (v | v<<1) & 0x5555555555555555
	return v
}

func squash(v uint64) uint64 {
	v &= 0x5555555555555555
	v = (v | v>>1) & 0x3333333333333333
	v = (v | v>>2) & 0x0F0F0F0F0F0F0F0F
	v = (v | v>>4) & 0x00FF00FF00FF00FF
	v = (v | v>>8) & 0x0000FFFF0000FFFF
	v = (v | v>>16) & 0x00000000FFFFFFFF
	return v
}

// Range is the rectangular set of tiles covering a viewport at one zoom.
// It doubles as the coalescer's batch key.
// Two ranges are equal iff all five fields match; Range is comparable.
type Range struct {
	Z    common.SlippyZoomLevelT `json:"z"`
	MinX int                     `json:"min_x"`
	MaxX int                     `json:"max_x"`
	MinY int                     `json:"min_y"`
	MaxY int                     `json:"max_y"`
}

// NewRange returns a range with its bounds ordered and clamped to [0, 2^z - 1].
func NewRange(z common.SlippyZoomLevelT, minX, maxX, minY, maxY int) Range {
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return Range{Z: z, MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}.Clamp()
}

// Around returns the range from c-before to c+after on both axes, clamped.
// Around(c, 3, 2) is a 6x6 neighborhood.
func Around(c Coord, before, after int) Range {
	return NewRange(c.Z, c.X-before, c.X+after, c.Y-before, c.Y+after)
}

// World returns the range covering every tile at z.
func World(z common.SlippyZoomLevelT) Range {
	m := z.MaxTileIndex()
	return Range{Z: z, MinX: 0, MaxX: m, MinY: 0, MaxY: m}
}

// Clamp bounds all four edges to [0, 2^z - 1].
func (r Range) Clamp() Range {
	m := r.Z.MaxTileIndex()
	r.MinX = common.ClampInt(r.MinX, 0, m)
	r.MaxX = common.ClampInt(r.MaxX, 0, m)
	r.MinY = common.ClampInt(r.MinY, 0, m)
	r.MaxY = common.ClampInt(r.MaxY, 0, m)
	return r
}

// Valid returns true if the zoom is valid, edges are in bounds, and min <= max.
func (r Range) Valid() bool {
	if !r.Z.Valid() {
		return false
	}
	m := r.Z.MaxTileIndex()
	return 0 <= r.MinX && r.MinX <= r.MaxX && r.MaxX <= m &&
		0 <= r.MinY && r.MinY <= r.MaxY && r.MaxY <= m
}

func (r Range) Contains(c Coord) bool {
	return c.Z == r.Z && r.ContainsXY(c.X, c.Y)
}

func (r Range) ContainsXY(x, y int) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

func (r Range) Width() int  { return r.MaxX - r.MinX + 1 }
func (r Range) Height() int { return r.MaxY - r.MinY + 1 }

// Count returns the number of tiles in the range.
func (r Range) Count() int {
	return r.Width() * r.Height()
}

// Each calls fn for every tile in the range in row-major (x, then y) order
// until fn returns false.
func (r Range) Each(fn func(c Coord) bool) {
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			if !fn(Coord{Z: r.Z, X: x, Y: y}) {
				return
			}
		}
	}
}

func (r Range) String() string {
	return fmt.Sprintf("%d:%d-%d:%d-%d", r.Z, r.MinX, r.MaxX, r.MinY, r.MaxY)
}

// Key returns the cache entry key for the range within a dataset revision.
func (r Range) Key(revision uint64) string {
	return fmt.Sprintf("%d:%s", revision, r.String())
}

var ErrBadRange = errors.New("bad tile range")

// ParseRange parses "minx,maxx,miny,maxy" at zoom z.
func ParseRange(z common.SlippyZoomLevelT, s string) (Range, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Range{}, fmt.Errorf("%w: want minx,maxx,miny,maxy, got %q", ErrBadRange, s)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Range{}, fmt.Errorf("%w: %v", ErrBadRange, err)
		}
		vals[i] = v
	}
	if !z.Valid() {
		return Range{}, fmt.Errorf("%w: zoom %d", ErrBadRange, z)
	}
	return NewRange(z, vals[0], vals[1], vals[2], vals[3]), nil
}
