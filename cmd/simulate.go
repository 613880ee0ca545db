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
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/rotblauer/treetiles/flat"
	"github.com/rotblauer/treetiles/metrics/influxdb"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/sim"
	"github.com/spf13/cobra"
)

var optSimFPS int
var optSimWidth int
var optSimHeight int
var optSimLogFile string

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Estimate detail queries issued by the intro animation, per coalescing policy",
	Long: `
Replays the scripted intro fly-in (zoom 18.5 down to 13.5 over 10s, spiraling
in on the city center) through a coalescer for each policy and prints how
many detail (z>=15) queries each would issue, by zoom.

With --log-file, also summarizes a captured client console export (NDJSON
with SQL text in .value): vector tile statements per zoom, and unique tile
ranges per zoom.

Examples:

  treetiles simulate --fps 60 --width 1728 --height 1117
  treetiles simulate --log-file intro_logs.ndjson
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		viewport := params.DefaultViewportConfig()
		viewport.FPS = optSimFPS
		viewport.WidthPx = optSimWidth
		viewport.HeightPx = optSimHeight

		results, err := sim.SimulateAll(params.DefaultIntroConfig(), viewport, params.DefaultTileConfig())
		if err != nil {
			log.Fatalln(err)
		}

		var observed *sim.QueryLog
		if optSimLogFile != "" {
			f, err := flat.OpenMaybeGZ(optSimLogFile)
			if err != nil {
				log.Fatalln(err)
			}
			observed, err = sim.ParseQueryLog(f)
			f.Close()
			if err != nil {
				log.Fatalln(err)
			}
		}
		if err := sim.WriteReport(os.Stdout, results, observed); err != nil {
			log.Fatalln(err)
		}

		if influxdb.Enabled() {
			if err := influxdb.Export(influxdb.SimulationPoints(results, time.Now())); err != nil {
				slog.Error("Failed to export simulation", "error", err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	def := params.DefaultViewportConfig()
	simulateCmd.Flags().IntVar(&optSimFPS, "fps", def.FPS, "Animation frames per second")
	simulateCmd.Flags().IntVar(&optSimWidth, "width", def.WidthPx, "Viewport width in CSS pixels")
	simulateCmd.Flags().IntVar(&optSimHeight, "height", def.HeightPx, "Viewport height in CSS pixels")
	simulateCmd.Flags().StringVar(&optSimLogFile, "log-file", "", "Optional JSON/NDJSON console export with SQL in .value")
}
