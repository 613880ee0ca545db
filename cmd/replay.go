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
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotblauer/treetiles/coalesce"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/query"
	"github.com/rotblauer/treetiles/sim"
	"github.com/rotblauer/treetiles/store"
	"github.com/spf13/cobra"
)

var optReplayDB string
var optReplayPolicy string
var optReplayMinZoom int

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Serve the intro animation from a built tile index",
	Long: `
Loads the tables from a tile index into memory and feeds the intro
animation frames through a query session: the coalescer decides which
frames issue a query, the engine answers it, and duplicates are served
from the session memo. Prints one line per issued query and a summary.

Examples:

  treetiles replay --db cache/tiles.db --policy stage-locked
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		policy, err := params.ParseCoalescePolicy(optReplayPolicy)
		if err != nil {
			log.Fatalln(err)
		}
		s, err := store.Open(optReplayDB, true)
		if err != nil {
			log.Fatalln(err)
		}
		engine, m, err := query.LoadEngine(s)
		s.Close()
		if err != nil {
			log.Fatalln(err)
		}

		config := params.DefaultCoalescerConfig()
		config.Policy = policy
		config.MinZoom = common.SlippyZoomLevelT(optReplayMinZoom)
		config.InitialRevision = m.Revision
		c, err := coalesce.New(config, m.TileConfig())
		if err != nil {
			log.Fatalln(err)
		}
		session, err := query.NewSession(c, engine, query.DefaultMemoSize)
		if err != nil {
			log.Fatalln(err)
		}

		viewport := params.DefaultViewportConfig()
		start := time.Now()
		var rows, memoHits int
		for _, f := range sim.IntroFrames(params.DefaultIntroConfig(), viewport.FPS) {
			res, outcome, ok, err := session.Handle(coalesce.ViewportEvent{
				Zoom:     f.Zoom,
				Center:   f.Center,
				WidthPx:  viewport.WidthPx,
				HeightPx: viewport.HeightPx,
				Stage:    f.Stage,
			})
			if err != nil {
				log.Fatalln(err)
			}
			switch {
			case outcome == coalesce.OutcomeEmitted:
				rows += res.Len()
				slog.Info("Query", "key", res.Request.Key, "kind", res.Request.Kind,
					"rows", res.Len(), "took", res.Took)
			case outcome == coalesce.OutcomeDuplicate && ok:
				memoHits++
			}
		}
		st := c.Stats()
		slog.Info("Replay done", "policy", policy, "revision", st.Revision,
			"queries", st.Emitted, "duplicates", st.Duplicate, "memo_hits", memoHits,
			"below_min_zoom", st.BelowMinZoom, "degenerate", st.Degenerate,
			"rows", humanize.Comma(int64(rows)), "took", time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVar(&optReplayDB, "db", filepath.Join(params.DefaultCacheDir(), params.StoreDBName), "Tile index built by build")
	replayCmd.Flags().StringVar(&optReplayPolicy, "policy", params.PolicyZoomLocked.String(), "Coalescing policy: per-frame, stage-locked, zoom-locked")
	replayCmd.Flags().IntVar(&optReplayMinZoom, "min-zoom", int(params.DefaultCoalescerConfig().MinZoom), "Lowest rounded zoom to coalesce")
}
