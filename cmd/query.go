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
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/store"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/spf13/cobra"
)

var optQueryDB string
var optQueryZoom int
var optQueryRange string
var optQueryAggregate bool
var optQueryManifest bool

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Read a tile range from a built tile index",
	Long: `
Prints the rows in a tile range as NDJSON, read from the bbolt tile index
written by build. With --aggregate, the aggregate table at --zoom is read
instead of feature rows.

Examples:

  treetiles query --db cache/tiles.db --zoom 17 --range 20964,20968,50657,50660
  treetiles query --db cache/tiles.db --zoom 14 --range 2618,2620,6332,6334 --aggregate
  treetiles query --db cache/tiles.db --manifest
`,
	Run: func(cmd *cobra.Command, args []string) {
		setDefaultSlog(cmd, args)

		s, err := store.Open(optQueryDB, true)
		if err != nil {
			log.Fatalln(err)
		}
		defer s.Close()

		enc := json.NewEncoder(os.Stdout)
		if optQueryManifest {
			m, err := s.Manifest()
			if err != nil {
				log.Fatalln(err)
			}
			enc.SetIndent("", "  ")
			if err := enc.Encode(m); err != nil {
				log.Fatalln(err)
			}
			return
		}

		r, err := tile.ParseRange(common.SlippyZoomLevelT(optQueryZoom), optQueryRange)
		if err != nil {
			log.Fatalln(err)
		}
		if optQueryAggregate {
			stats, err := s.RangeAggregates(r)
			if err != nil {
				log.Fatalln(err)
			}
			for _, st := range stats {
				if err := enc.Encode(st); err != nil {
					log.Fatalln(err)
				}
			}
			return
		}
		rows, err := s.RangeFeatures(r)
		if err != nil {
			log.Fatalln(err)
		}
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				log.Fatalln(err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&optQueryDB, "db", filepath.Join(params.DefaultCacheDir(), params.StoreDBName), "Tile index built by build")
	queryCmd.Flags().IntVar(&optQueryZoom, "zoom", int(common.SlippyZoomLevel17), "Tile zoom")
	queryCmd.Flags().StringVar(&optQueryRange, "range", "", "Tile range: minx,maxx,miny,maxy")
	queryCmd.Flags().BoolVar(&optQueryAggregate, "aggregate", false, "Read the aggregate table at --zoom")
	queryCmd.Flags().BoolVar(&optQueryManifest, "manifest", false, "Print the manifest and exit")
}
