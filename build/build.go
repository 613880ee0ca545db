/*
Package build turns raw point records and optional species enrichment into
the precomputed tables: the fast feature table, one aggregate table per
aggregate level, a manifest, and the bbolt tile index.

A build is all-or-nothing. Every output is written to a staging path and
renamed into place only after all of them succeeded, so a failed build
leaves the previous outputs untouched.
*/
package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/rotblauer/treetiles/aggregate"
	"github.com/rotblauer/treetiles/events"
	"github.com/rotblauer/treetiles/features"
	"github.com/rotblauer/treetiles/flat"
	"github.com/rotblauer/treetiles/indexer"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/store"
	"github.com/rotblauer/treetiles/stream"
	"github.com/rotblauer/treetiles/types/tree"
)

var ErrMissingInput = errors.New("missing input")

type Inputs struct {
	TreesPath string
	// SpeciesPath is optional. When empty or missing, no species match.
	SpeciesPath string
}

// Report describes a finished build.
type Report struct {
	Manifest store.Manifest
	Index    indexer.Report
	// Changed is true when the inputs differ from the previous build.
	Changed bool
	Files   []string
	Took    time.Duration

	// Tables are the in-memory results, for callers that go on to query them.
	Features   *features.Table
	Aggregates []*aggregate.Table
}

type Builder struct {
	cfg     *params.BuildConfig
	tiles   *params.TileConfig
	indexer *indexer.Indexer
	logger  *slog.Logger

	timers map[string]metrics.Timer
}

func New(cfg *params.BuildConfig, tiles *params.TileConfig) (*Builder, error) {
	if cfg == nil {
		cfg = params.DefaultBuildConfig()
	}
	if tiles == nil {
		tiles = params.DefaultTileConfig()
	}
	ix, err := indexer.New(tiles)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		cfg:     cfg,
		tiles:   tiles,
		indexer: ix,
		logger:  slog.With("component", "build", "out", cfg.OutDir),
		timers:  map[string]metrics.Timer{},
	}
	for _, stage := range []string{"read", "index", "features", "aggregate", "write"} {
		b.timers[stage] = metrics.GetOrRegisterTimer("build/"+stage, nil)
	}
	return b, nil
}

// fingerprint is what a build's revision hashes over.
type fingerprint struct {
	Records []tree.Record
	Species []tree.Species
	Tiles   params.TileConfig
}

// Run performs one build.
func (b *Builder) Run(ctx context.Context, in Inputs) (*Report, error) {
	start := time.Now()
	if _, err := os.Stat(in.TreesPath); err != nil {
		return nil, fmt.Errorf("%w: trees %q: %v", ErrMissingInput, in.TreesPath, err)
	}

	t := time.Now()
	records, skipped, err := readRecords(in.TreesPath)
	if err != nil {
		return nil, fmt.Errorf("read trees: %w", err)
	}
	if skipped > 0 {
		b.logger.Warn("Skipped non-object rows", "file", in.TreesPath, "skipped", skipped)
	}
	species := b.readSpecies(in.SpeciesPath)
	b.timers["read"].UpdateSince(t)
	b.logger.Info("Read inputs", "records", humanize.Comma(int64(len(records))), "species", len(species))

	hash, err := hashstructure.Hash(fingerprint{Records: records, Species: species, Tiles: *b.tiles}, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: %w", err)
	}

	t = time.Now()
	points, ixReport, err := b.indexer.IndexAll(ctx, records, b.cfg.Workers)
	if err != nil {
		return nil, err
	}
	b.timers["index"].UpdateSince(t)

	t = time.Now()
	speciesIdx := tree.NewSpeciesIndex(species)
	if speciesIdx.Duplicates > 0 {
		b.logger.Warn("Duplicate species rows ignored", "duplicates", speciesIdx.Duplicates)
	}
	ft, err := features.Build(ctx, b.tiles, points, speciesIdx)
	if err != nil {
		return nil, err
	}
	b.timers["features"].UpdateSince(t)

	t = time.Now()
	aggs := make([]*aggregate.Table, 0, len(b.tiles.AggregateLevels))
	for _, lvl := range b.tiles.AggregateLevels {
		a, err := aggregate.Build(ctx, points, lvl, b.cfg.Workers)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, a)
	}
	b.timers["aggregate"].UpdateSince(t)

	prev, hadPrev := b.previousManifest()
	m := store.Manifest{
		Fingerprint:        hash,
		Revision:           1,
		BuiltAt:            time.Now().UTC(),
		Records:            ixReport.Total,
		Indexed:            ixReport.Indexed,
		MissingCoordinates: ixReport.MissingCoordinates,
		OutOfRange:         ixReport.OutOfRange,
		SpeciesRows:        len(species),
		TileSizePx:         b.tiles.TileSizePx,
		MaxLatitude:        b.tiles.MaxLatitude,
		DefaultMagnitude:   b.tiles.DefaultMagnitude,
		TrackedZooms:       b.tiles.TrackedZooms,
		AggregateLevels:    b.tiles.AggregateLevels,
		Files:              map[string]int64{},
	}
	changed := true
	if hadPrev {
		changed = prev.Fingerprint != hash
		m.Revision = prev.Revision
		if changed {
			m.Revision++
		}
	}

	t = time.Now()
	files, err := b.write(ctx, &m, ft, aggs)
	if err != nil {
		return nil, err
	}
	b.timers["write"].UpdateSince(t)

	report := &Report{
		Manifest:   m,
		Index:      ixReport,
		Changed:    changed,
		Files:      files,
		Took:       time.Since(start),
		Features:   ft,
		Aggregates: aggs,
	}
	events.BuiltFeed.Send(events.Built{
		OutDir:      b.cfg.OutDir,
		Fingerprint: m.Fingerprint,
		Revision:    m.Revision,
		Changed:     changed,
	})
	b.logger.Info("Build complete", "revision", m.Revision, "changed", changed,
		"indexed", humanize.Comma(int64(ixReport.Indexed)), "skipped", ixReport.Skipped(),
		"took", report.Took.Round(time.Millisecond))
	return report, nil
}

func readRecords(path string) ([]tree.Record, int, error) {
	rc, err := flat.OpenMaybeGZ(path)
	if err != nil {
		return nil, 0, err
	}
	defer rc.Close()
	return tree.ReadRecords(rc)
}

// readSpecies returns no rows, with a warning, when the file is absent or unreadable.
func (b *Builder) readSpecies(path string) []tree.Species {
	if path == "" {
		b.logger.Warn("No species file given; every category will be default")
		return nil
	}
	rc, err := flat.OpenMaybeGZ(path)
	if err != nil {
		b.logger.Warn("Species file unavailable; every category will be default", "path", path, "error", err)
		return nil
	}
	defer rc.Close()
	rows, _, err := tree.ReadSpecies(rc)
	if err != nil {
		b.logger.Warn("Species file unreadable; every category will be default", "path", path, "error", err)
		return nil
	}
	return rows
}

func (b *Builder) previousManifest() (store.Manifest, bool) {
	var m store.Manifest
	data, err := os.ReadFile(flat.NewFlatWithRoot(b.cfg.OutDir).File(params.ManifestFileName))
	if err != nil {
		return m, false
	}
	if err := json.Unmarshal(data, &m); err != nil {
		b.logger.Warn("Ignoring unreadable manifest", "error", err)
		return m, false
	}
	return m, true
}

func (b *Builder) write(ctx context.Context, m *store.Manifest, ft *features.Table, aggs []*aggregate.Table) (files []string, err error) {
	dir := flat.NewFlatWithRoot(b.cfg.OutDir)
	if err := dir.MkdirAll(); err != nil {
		return nil, err
	}
	txn := flat.NewTxn()
	defer func() {
		if err != nil {
			txn.Abort()
		}
	}()
	gzConfig := flat.DefaultGZFileWriterConfig()
	gzConfig.CompressionLevel = b.cfg.GZipCompressionLevel

	meter := stream.NewTickMeter("features", 5*time.Second)
	fw, err := dir.NamedGZWriter(txn, params.FeaturesGZFileName, gzConfig)
	if err != nil {
		meter.Stop()
		return nil, err
	}
	for i, row := range ft.Rows {
		if i%10_000 == 0 {
			if err := ctx.Err(); err != nil {
				meter.Stop()
				return nil, err
			}
		}
		if err := fw.Encode(row); err != nil {
			meter.Stop()
			return nil, fmt.Errorf("write features: %w", err)
		}
		meter.Mark(1)
	}
	meter.Stop()
	if err := b.closeAndSize(fw, params.FeaturesGZFileName, m); err != nil {
		return nil, err
	}

	for _, a := range aggs {
		name := fmt.Sprintf(params.AggregateGZFileNameF, a.Zoom())
		aw, err := dir.NamedGZWriter(txn, name, gzConfig)
		if err != nil {
			return nil, err
		}
		for _, st := range a.Stats {
			if err := aw.Encode(st); err != nil {
				return nil, fmt.Errorf("write %s: %w", name, err)
			}
		}
		if err := b.closeAndSize(aw, name, m); err != nil {
			return nil, err
		}
	}

	if !b.cfg.SkipStore {
		dbFinal := dir.File(params.StoreDBName)
		dbTmp := txn.Stage(dbFinal, nil)
		if err := os.Remove(dbTmp); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("clear staged store: %w", err)
		}
		s, err := store.Open(dbTmp, false)
		if err != nil {
			return nil, err
		}
		if err := s.Replace(*m, ft, aggs); err != nil {
			_ = s.Close()
			return nil, err
		}
		if err := s.Close(); err != nil {
			return nil, err
		}
		if fi, err := os.Stat(dbTmp); err == nil {
			m.Files[params.StoreDBName] = fi.Size()
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := flat.WriteFileAtomic(txn, dir.File(params.ManifestFileName), data); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return txn.Finals(), nil
}

func (b *Builder) closeAndSize(w *flat.GZFileWriter, name string, m *store.Manifest) error {
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	fi, err := os.Stat(w.Path())
	if err != nil {
		return err
	}
	m.Files[name] = fi.Size()
	b.logger.Debug("Wrote file", "name", name, "size", humanize.Bytes(uint64(fi.Size())))
	return nil
}
