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
	"os"
	"path/filepath"
	"time"

	"github.com/rotblauer/treetiles/bench"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/flat"
	"github.com/rotblauer/treetiles/metrics/influxdb"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/types/tree"
	"github.com/spf13/cobra"
)

var optBenchInput string
var optBenchSpecies string
var optBenchRuns int
var optBenchWarmup int
var optBenchMVTRuns int
var optBenchNoMVT bool

// benchCmd represents the bench command
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark detail tile query strategies",
	Long: `
Times the ways a client can answer a detail-zoom tile request:

  baseline_on_the_fly            project and group raw records per tile
  precomputed_global             group the fast feature table per tile
  precomputed_6x6_neighborhood   range lookup + group over a 6x6 tile block
  materialized_lookup            range lookup in a materialized tile stats table
  sql_*                          the same against an in-memory SQLite table
  mvt_*                          vector tile assembly (skipped if unavailable)

Each scenario runs once untimed, then --runs times; mean, median and best are reported.

Examples:

  treetiles bench --input data/raw_data.json --runs 5
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-common.Interrupted()
			cancel()
		}()

		records, species, err := readInputs(optBenchInput, optBenchSpecies)
		if err != nil {
			log.Fatalln(err)
		}

		config := params.DefaultBenchConfig()
		config.Runs = optBenchRuns
		config.WarmupRuns = optBenchWarmup
		config.MVTRuns = optBenchMVTRuns
		config.DisableMVT = optBenchNoMVT

		suite, err := bench.NewSuite(config, params.DefaultTileConfig(), records, species)
		if err != nil {
			log.Fatalln(err)
		}
		report, err := suite.Run(ctx)
		if err != nil {
			log.Fatalln(err)
		}
		if err := bench.WriteReport(os.Stdout, report); err != nil {
			log.Fatalln(err)
		}

		if influxdb.Enabled() {
			if err := influxdb.Export(influxdb.BenchPoints(report, time.Now())); err != nil {
				slog.Error("Failed to export bench samples", "error", err)
			}
		}
	},
}

// readInputs reads raw records and, if present, species rows.
func readInputs(treesPath, speciesPath string) ([]tree.Record, []tree.Species, error) {
	f, err := flat.OpenMaybeGZ(treesPath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	records, skipped, err := tree.ReadRecords(f)
	if err != nil {
		return nil, nil, err
	}
	if skipped > 0 {
		slog.Warn("Skipped non-object rows", "file", treesPath, "skipped", skipped)
	}

	if speciesPath == "" {
		return records, nil, nil
	}
	sf, err := flat.OpenMaybeGZ(speciesPath)
	if err != nil {
		slog.Warn("Species file unavailable", "path", speciesPath, "error", err)
		return records, nil, nil
	}
	defer sf.Close()
	species, _, err := tree.ReadSpecies(sf)
	if err != nil {
		return nil, nil, err
	}
	return records, species, nil
}

func init() {
	rootCmd.AddCommand(benchCmd)

	def := params.DefaultBenchConfig()
	benchCmd.Flags().StringVar(&optBenchInput, "input", filepath.Join("data", params.RawTreesFileName), "Raw tree records")
	benchCmd.Flags().StringVar(&optBenchSpecies, "species", filepath.Join("data", params.SpeciesFileName), "Species enrichment (optional)")
	benchCmd.Flags().IntVar(&optBenchRuns, "runs", def.Runs, "Timed runs per scenario")
	benchCmd.Flags().IntVar(&optBenchWarmup, "warmup", def.WarmupRuns, "Untimed warm-up runs per scenario")
	benchCmd.Flags().IntVar(&optBenchMVTRuns, "mvt-runs", def.MVTRuns, "Timed runs for global vector tile assembly")
	benchCmd.Flags().BoolVar(&optBenchNoMVT, "no-mvt", false, "Skip vector tile scenarios")
}
