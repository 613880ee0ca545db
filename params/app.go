package params

import (
	"compress/gzip"
	"path/filepath"
	"runtime"

	"github.com/ethereum/go-ethereum/metrics"
	"github.com/mitchellh/go-homedir"
)

func init() {
	metrics.Enabled = true
}

const (
	// RawTreesFileName is the conventional name of the raw point records input.
	RawTreesFileName = "raw_data.json"
	// SpeciesFileName is the conventional name of the per-species enrichment input.
	SpeciesFileName = "species_data.json"

	FeaturesGZFileName   = "trees_fast.ndjson.gz"
	AggregateGZFileNameF = "agg_z%02d.ndjson.gz"
	ManifestFileName     = "manifest.json"
	StoreDBName          = "tiles.db"

	CacheDir = "cache"
)

var DatadirRoot = func() string {
	home, err := homedir.Dir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".treetiles")
}()

// DefaultCacheDir is where build runs write their outputs unless told otherwise.
func DefaultCacheDir() string {
	return filepath.Join(DatadirRoot, CacheDir)
}

var DefaultBatchSize = 10_000

var DefaultGZipCompressionLevel = gzip.BestCompression

// DefaultWorkers bounds offline builder worker pools.
var DefaultWorkers = runtime.NumCPU()
