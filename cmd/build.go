/*
Copyright © 2024 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/rotblauer/treetiles/build"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/metrics/influxdb"
	"github.com/rotblauer/treetiles/params"
	"github.com/spf13/cobra"
)

var optBuildInput string
var optBuildSpecies string
var optBuildOut string
var optBuildWorkers int
var optBuildCompression int
var optBuildSkipStore bool

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the tile tables from raw point records",
	Long: `
Reads raw tree records (JSON array or NDJSON, optionally gzipped) and an
optional species enrichment file, then writes to the output dir:

  trees_fast.ndjson.gz   one row per indexed tree, with tile columns per tracked zoom
  agg_zNN.ndjson.gz      one aggregate table per aggregate zoom
  manifest.json          input fingerprint, revision and counts
  tiles.db               bbolt index of the same tables, keyed by quadkey

Every output is staged and renamed into place together; a failed build
leaves the previous outputs as they were. Rows without coordinates, or with
coordinates out of range, are skipped and counted.

The revision in the manifest increments only when the inputs or tile config change.

Examples:

  treetiles build --input data/raw_data.json --species data/species_data.json --out ./cache
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			sig := <-common.Interrupted()
			slog.Warn("Received signal, canceling build", "signal", sig)
			cancel()
		}()

		config := params.DefaultBuildConfig()
		config.OutDir = optBuildOut
		config.Workers = optBuildWorkers
		config.GZipCompressionLevel = optBuildCompression
		config.SkipStore = optBuildSkipStore

		b, err := build.New(config, params.DefaultTileConfig())
		if err != nil {
			log.Fatalln(err)
		}
		report, err := b.Run(ctx, build.Inputs{
			TreesPath:   optBuildInput,
			SpeciesPath: optBuildSpecies,
		})
		if err != nil {
			log.Fatalln(err)
		}
		for _, f := range report.Files {
			name := filepath.Base(f)
			slog.Info("Output", "file", f, "size", humanize.Bytes(uint64(report.Manifest.Files[name])))
		}

		if influxdb.Enabled() {
			points := influxdb.RegistryPoints(metrics.DefaultRegistry, "build", time.Now())
			if err := influxdb.Export(points); err != nil {
				slog.Error("Failed to export build metrics", "error", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&optBuildInput, "input", filepath.Join("data", params.RawTreesFileName), "Raw tree records")
	buildCmd.Flags().StringVar(&optBuildSpecies, "species", filepath.Join("data", params.SpeciesFileName), "Species enrichment (optional)")
	buildCmd.Flags().StringVar(&optBuildOut, "out", params.DefaultCacheDir(), "Output directory")
	buildCmd.Flags().IntVar(&optBuildWorkers, "workers", params.DefaultWorkers, "Number of workers to run parallel")
	buildCmd.Flags().IntVar(&optBuildCompression, "compression", params.DefaultGZipCompressionLevel, "Gzip compression level for NDJSON outputs")
	buildCmd.Flags().BoolVar(&optBuildSkipStore, "skip-store", false, "Do not write the bbolt index")
}
