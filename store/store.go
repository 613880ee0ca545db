/*
Package store persists the built tables in a bbolt database so a process can
answer tile-range queries without loading every row into memory.

Feature rows are keyed by their deep quadkey followed by their position in the
feature table, so any tracked tile is a contiguous key range walked with a
cursor. Identifiers are not unique in the input and take no part in the key. Aggregate rows
are keyed by tile quadkey and grid cell.
*/
package store

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rotblauer/treetiles/aggregate"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/features"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/types/tile"
	bbolt "go.etcd.io/bbolt"
)

var (
	bucketFeatures = []byte("features")
	bucketManifest = []byte("manifest")
	keyManifest    = []byte("manifest")
)

func aggregateBucket(z common.SlippyZoomLevelT) []byte {
	return []byte(fmt.Sprintf("agg_z%02d", z))
}

var (
	ErrNoManifest    = errors.New("store has no manifest")
	ErrNoBucket      = errors.New("bucket not found")
	ErrUntrackedZoom = errors.New("zoom not tracked by store")
)

// Manifest describes one build.
type Manifest struct {
	// Fingerprint is a content hash of the inputs and the tile config.
	Fingerprint uint64 `json:"fingerprint"`
	// Revision increments whenever a build's fingerprint differs from the last.
	Revision uint64    `json:"revision"`
	BuiltAt  time.Time `json:"built_at"`

	Records            int `json:"records"`
	Indexed            int `json:"indexed"`
	MissingCoordinates int `json:"missing_coordinates"`
	OutOfRange         int `json:"out_of_range"`
	SpeciesRows        int `json:"species_rows"`

	TileSizePx       float64                   `json:"tile_size_px"`
	MaxLatitude      float64                   `json:"max_latitude"`
	DefaultMagnitude float64                   `json:"default_magnitude"`
	TrackedZooms     []common.SlippyZoomLevelT `json:"tracked_zooms"`
	AggregateLevels  []params.AggregateLevel   `json:"aggregate_levels"`

	// Files maps output file names to their sizes in bytes.
	Files map[string]int64 `json:"files,omitempty"`
}

// DeepestZoom returns the last tracked zoom.
func (m Manifest) DeepestZoom() common.SlippyZoomLevelT {
	if len(m.TrackedZooms) == 0 {
		return 0
	}
	return m.TrackedZooms[len(m.TrackedZooms)-1]
}

type Store struct {
	DB     *bbolt.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the database at path.
func Open(path string, readOnly bool) (*Store, error) {
	db, err := bbolt.Open(path, 0660, &bbolt.Options{Timeout: 5 * time.Second, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &Store{DB: db, path: path, logger: slog.With("component", "store", "path", path)}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) Path() string {
	return s.path
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// i64 encodes a signed value so that byte order matches numeric order.
func i64(v int64) []byte {
	return u64(uint64(v) ^ (1 << 63))
}

func featureKey(row features.Row, seq int) []byte {
	return append(u64(row.Quadkey), u64(uint64(seq))...)
}

func aggregateKey(st aggregate.Stat) []byte {
	k := u64(st.Tile().Quadkey())
	k = append(k, i64(st.GridX)...)
	return append(k, i64(st.GridY)...)
}

// Replace rewrites the whole store in one transaction: manifest, features,
// and every aggregate table. Buckets from a previous build are dropped first.
func (s *Store) Replace(m Manifest, ft *features.Table, aggs []*aggregate.Table) error {
	start := time.Now()
	err := s.DB.Update(func(tx *bbolt.Tx) error {
		var stale [][]byte
		if err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			stale = append(stale, slices.Clone(name))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("drop bucket %s: %w", name, err)
			}
		}

		b, err := tx.CreateBucket(bucketFeatures)
		if err != nil {
			return err
		}
		// Rows arrive in key order.
		b.FillPercent = 1
		for i, row := range ft.Rows {
			v, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if err := b.Put(featureKey(row, i), v); err != nil {
				return fmt.Errorf("bbolt put: %w", err)
			}
		}

		for _, a := range aggs {
			b, err := tx.CreateBucket(aggregateBucket(a.Zoom()))
			if err != nil {
				return err
			}
			for _, st := range a.Stats {
				v, err := json.Marshal(st)
				if err != nil {
					return err
				}
				if err := b.Put(aggregateKey(st), v); err != nil {
					return fmt.Errorf("bbolt put: %w", err)
				}
			}
		}

		mb, err := tx.CreateBucket(bucketManifest)
		if err != nil {
			return err
		}
		v, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return mb.Put(keyManifest, v)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Replaced store", "features", ft.Len(), "aggregates", len(aggs),
		"revision", m.Revision, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Store) Manifest() (Manifest, error) {
	var m Manifest
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketManifest)
		if b == nil {
			return ErrNoManifest
		}
		v := b.Get(keyManifest)
		if v == nil {
			return ErrNoManifest
		}
		return json.Unmarshal(v, &m)
	})
	return m, err
}

// RangeFeatures returns the feature rows within r, in key order.
func (s *Store) RangeFeatures(r tile.Range) ([]features.Row, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(m.TrackedZooms, r.Z) {
		return nil, fmt.Errorf("%w: z%d", ErrUntrackedZoom, r.Z)
	}
	deep := m.DeepestZoom()

	var out []features.Row
	err = s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFeatures)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoBucket, bucketFeatures)
		}
		c := b.Cursor()
		var spans [][2]uint64
		r.Each(func(t tile.Coord) bool {
			lo, hi := t.QuadkeySpan(deep)
			spans = append(spans, [2]uint64{lo, hi})
			return true
		})
		slices.SortFunc(spans, func(a, b [2]uint64) int { return cmp.Compare(a[0], b[0]) })
		for _, span := range spans {
			hi := u64(span[1])
			for k, v := c.Seek(u64(span[0])); k != nil && bytes.Compare(k[:8], hi) < 0; k, v = c.Next() {
				var row features.Row
				if err := json.Unmarshal(v, &row); err != nil {
					return fmt.Errorf("decode feature %x: %w", k, err)
				}
				out = append(out, row)
			}
		}
		return nil
	})
	return out, err
}

// RangeAggregates returns the aggregate rows at r.Z within r, sorted by tile
// and cell as aggregate.Table sorts them.
func (s *Store) RangeAggregates(r tile.Range) ([]aggregate.Stat, error) {
	var out []aggregate.Stat
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(aggregateBucket(r.Z))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoBucket, aggregateBucket(r.Z))
		}
		c := b.Cursor()
		var decodeErr error
		r.Each(func(t tile.Coord) bool {
			prefix := u64(t.Quadkey())
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				var st aggregate.Stat
				if err := json.Unmarshal(v, &st); err != nil {
					decodeErr = fmt.Errorf("decode aggregate %x: %w", k, err)
					return false
				}
				out = append(out, st)
			}
			return true
		})
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	level := params.AggregateLevel{Zoom: r.Z}
	for _, l := range m.AggregateLevels {
		if l.Zoom == r.Z {
			level = l
		}
	}
	return aggregate.NewTable(level, out).Stats, nil
}

// LoadFeatures reads every feature row into a table.
func (s *Store) LoadFeatures(cfg *params.TileConfig) (*features.Table, error) {
	var rows []features.Row
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFeatures)
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoBucket, bucketFeatures)
		}
		rows = make([]features.Row, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var row features.Row
			if err := json.Unmarshal(v, &row); err != nil {
				return fmt.Errorf("decode feature %x: %w", k, err)
			}
			rows = append(rows, row)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return features.NewTable(cfg, rows), nil
}

// LoadAggregate reads one aggregate level into a table.
func (s *Store) LoadAggregate(level params.AggregateLevel) (*aggregate.Table, error) {
	var stats []aggregate.Stat
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(aggregateBucket(level.Zoom))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNoBucket, aggregateBucket(level.Zoom))
		}
		return b.ForEach(func(k, v []byte) error {
			var st aggregate.Stat
			if err := json.Unmarshal(v, &st); err != nil {
				return fmt.Errorf("decode aggregate %x: %w", k, err)
			}
			stats = append(stats, st)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return aggregate.NewTable(level, stats), nil
}

// TileConfig reconstructs the tile config the store was built with.
// Fields missing from older manifests keep their defaults.
func (m Manifest) TileConfig() *params.TileConfig {
	cfg := params.DefaultTileConfig()
	if m.TileSizePx > 0 {
		cfg.TileSizePx = m.TileSizePx
	}
	if m.MaxLatitude > 0 {
		cfg.MaxLatitude = m.MaxLatitude
	}
	if m.DefaultMagnitude > 0 {
		cfg.DefaultMagnitude = m.DefaultMagnitude
	}
	if len(m.TrackedZooms) > 0 {
		cfg.TrackedZooms = slices.Clone(m.TrackedZooms)
	}
	cfg.AggregateLevels = slices.Clone(m.AggregateLevels)
	return cfg
}
