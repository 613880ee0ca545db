package bench

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rotblauer/treetiles/aggregate"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/features"
	"github.com/rotblauer/treetiles/indexer"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/query"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/rotblauer/treetiles/types/tree"
)

// Report is the outcome of a full suite run.
type Report struct {
	Records int      `json:"records"`
	Indexed int      `json:"indexed"`
	Samples []Sample `json:"samples"`

	// Builds are one-off materialization times, by name.
	Builds map[string]time.Duration `json:"builds"`
	MVT    query.Capability         `json:"mvt"`
}

// Sample returns the named sample.
func (r *Report) Sample(name string) (Sample, bool) {
	i := slices.IndexFunc(r.Samples, func(s Sample) bool { return s.Name == name })
	if i < 0 {
		return Sample{}, false
	}
	return r.Samples[i], true
}

// Suite holds the inputs shared by every scenario.
type Suite struct {
	cfg     *params.BenchConfig
	tiles   *params.TileConfig
	workers int
	records []tree.Record
	species *tree.SpeciesIndex
	indexer *indexer.Indexer
	logger  *slog.Logger
}

func NewSuite(cfg *params.BenchConfig, tiles *params.TileConfig, records []tree.Record, species []tree.Species) (*Suite, error) {
	if cfg == nil {
		cfg = params.DefaultBenchConfig()
	}
	if tiles == nil {
		tiles = params.DefaultTileConfig()
	}
	for _, z := range []common.SlippyZoomLevelT{cfg.Zoom, cfg.NeighborhoodZoom} {
		if !tiles.Tracks(z) {
			return nil, fmt.Errorf("%w: bench zoom %d is not tracked", params.ErrInvalidTileConfig, z)
		}
	}
	ix, err := indexer.New(tiles)
	if err != nil {
		return nil, err
	}
	return &Suite{
		cfg:     cfg,
		tiles:   tiles,
		workers: params.DefaultWorkers,
		records: records,
		species: tree.NewSpeciesIndex(species),
		indexer: ix,
		logger:  slog.With("component", "bench"),
	}, nil
}

// Names of the scenarios, in run order.
const (
	BaselineOnTheFly        = "baseline_on_the_fly"
	PrecomputedGlobal       = "precomputed_global"
	PrecomputedNeighborhood = "precomputed_6x6_neighborhood"
	MaterializedLookup      = "materialized_lookup"
	SQLPrecomputedGlobal    = "sql_precomputed_global"
	SQLNeighborhood         = "sql_precomputed_6x6_neighborhood"
	SQLMaterializedLookup   = "sql_materialized_lookup"
	MVTGlobal               = "mvt_precomputed_global"
	MVTNeighborhood         = "mvt_precomputed_6x6"
	MVTMaterializedLookup   = "mvt_materialized_lookup_6x6"

	BuildFeatures  = "precompute_features"
	BuildTileStats = "materialize_tile_stats"
	BuildSQL       = "load_sql_table"
	BuildSQLStats  = "materialize_sql_tile_stats"
	BuildMVTTiles  = "materialize_mvt_tiles"
)

// Run executes every scenario. MVT scenarios are skipped, not failed, when
// vector tile encoding is unavailable.
func (s *Suite) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Records: len(s.records),
		Builds:  map[string]time.Duration{},
	}
	add := func(name string, runs int, fn Scenario) error {
		sample, err := Run(name, s.cfg.WarmupRuns, runs, fn)
		if err != nil {
			return err
		}
		s.logger.Info("Scenario", "name", name, "mean", sample.Mean, "median", sample.Median,
			"min", sample.Min, "rows", sample.Rows)
		report.Samples = append(report.Samples, sample)
		return nil
	}
	timed := func(name string, fn func() error) error {
		start := time.Now()
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		report.Builds[name] = time.Since(start)
		s.logger.Info("Built", "name", name, "took", report.Builds[name])
		return nil
	}

	zoom := s.cfg.Zoom
	centerZoom := s.indexer.Projector().Tile(s.cfg.NeighborhoodCenter.Lon(), s.cfg.NeighborhoodCenter.Lat(), zoom)
	centerNear := s.indexer.Projector().Tile(s.cfg.NeighborhoodCenter.Lon(), s.cfg.NeighborhoodCenter.Lat(), s.cfg.NeighborhoodZoom)
	lookup := tile.Around(centerZoom, 3, 2)
	neighborhood := tile.Around(centerNear, 3, 2)

	// Raw records through projection, then grouped per tile.
	if err := add(BaselineOnTheFly, s.cfg.Runs, func() (int, error) {
		points, _, err := s.indexer.IndexAll(ctx, s.records, s.workers)
		if err != nil {
			return 0, err
		}
		t, err := aggregate.Build(ctx, points, params.AggregateLevel{Zoom: zoom}, s.workers)
		if err != nil {
			return 0, err
		}
		return len(t.Stats), nil
	}); err != nil {
		return nil, err
	}

	var ft *features.Table
	var points []indexer.Point
	if err := timed(BuildFeatures, func() error {
		var err error
		var ixReport indexer.Report
		points, ixReport, err = s.indexer.IndexAll(ctx, s.records, s.workers)
		if err != nil {
			return err
		}
		report.Indexed = ixReport.Indexed
		ft, err = features.Build(ctx, s.tiles, points, s.species)
		return err
	}); err != nil {
		return nil, err
	}

	if err := add(PrecomputedGlobal, s.cfg.Runs, func() (int, error) {
		return len(groupRows(ft.Rows, zoom)), nil
	}); err != nil {
		return nil, err
	}
	if err := add(PrecomputedNeighborhood, s.cfg.Runs, func() (int, error) {
		rows, err := ft.Query(neighborhood)
		if err != nil {
			return 0, err
		}
		return len(groupRows(rows, neighborhood.Z)), nil
	}); err != nil {
		return nil, err
	}

	var stats *aggregate.Table
	if err := timed(BuildTileStats, func() error {
		var err error
		stats, err = aggregate.Build(ctx, points, params.AggregateLevel{Zoom: zoom}, s.workers)
		return err
	}); err != nil {
		return nil, err
	}
	if err := add(MaterializedLookup, s.cfg.Runs, func() (int, error) {
		out, err := stats.Query(lookup)
		return len(out), err
	}); err != nil {
		return nil, err
	}

	if err := s.runSQL(ctx, ft, lookup, neighborhood, add, timed); err != nil {
		return nil, err
	}

	opts := query.MVTOptionsFromBench(s.cfg)
	report.MVT = query.CheckMVT(opts)
	if !report.MVT.Available {
		s.logger.Warn("Vector tile scenarios skipped", "reason", report.MVT.Reason)
		for _, name := range []string{MVTGlobal, MVTNeighborhood, MVTMaterializedLookup} {
			report.Samples = append(report.Samples, Skip(name, report.MVT.Reason))
		}
		return report, nil
	}

	engine := query.NewEngine(ft)
	counts, err := ft.TileCounts(zoom)
	if err != nil {
		return nil, err
	}
	occupied := make([]tile.Coord, 0, len(counts))
	for c := range counts {
		occupied = append(occupied, c)
	}
	encodeRange := func(tiles []tile.Coord) (int, error) {
		n := 0
		for _, c := range tiles {
			if _, err := engine.EncodeTile(c, opts); err != nil {
				return 0, err
			}
			n++
		}
		return n, nil
	}
	if err := add(MVTGlobal, s.cfg.MVTRuns, func() (int, error) {
		return encodeRange(occupied)
	}); err != nil {
		return nil, err
	}
	inLookup := slices.DeleteFunc(slices.Clone(occupied), func(c tile.Coord) bool { return !lookup.Contains(c) })
	if err := add(MVTNeighborhood, s.cfg.Runs, func() (int, error) {
		return encodeRange(inLookup)
	}); err != nil {
		return nil, err
	}

	materialized := map[tile.Coord][]byte{}
	if err := timed(BuildMVTTiles, func() error {
		for _, c := range occupied {
			b, err := engine.EncodeTile(c, opts)
			if err != nil {
				return err
			}
			materialized[c] = b
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if err := add(MVTMaterializedLookup, s.cfg.Runs, func() (int, error) {
		n := 0
		lookup.Each(func(c tile.Coord) bool {
			if _, ok := materialized[c]; ok {
				n++
			}
			return true
		})
		return n, nil
	}); err != nil {
		return nil, err
	}
	return report, nil
}

type tileStat struct {
	count int
	sum   float64
}

// groupRows counts rows and sums render magnitudes per tile at z.
func groupRows(rows []features.Row, z common.SlippyZoomLevelT) map[tile.Coord]tileStat {
	out := make(map[tile.Coord]tileStat)
	for _, row := range rows {
		c, ok := row.TileAt(z)
		if !ok {
			continue
		}
		st := out[c]
		st.count++
		st.sum += row.Magnitude
		out[c] = st
	}
	return out
}
