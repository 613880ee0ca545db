package params

import (
	"os"

	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
)

type BenchConfig struct {
	// WarmupRuns are executed and discarded before timing.
	WarmupRuns int
	// Runs is the number of timed repetitions.
	Runs int
	// MVTRuns is used for the (slower) vector tile assembly scenarios.
	MVTRuns int

	// Zoom is the detail zoom for global and lookup scenarios.
	Zoom common.SlippyZoomLevelT
	// NeighborhoodZoom is the zoom for the neighborhood range scenario.
	NeighborhoodZoom common.SlippyZoomLevelT
	// NeighborhoodCenter anchors the 6x6 neighborhood tile ranges.
	NeighborhoodCenter orb.Point

	// MVTExtent and MVTBuffer mirror ST_AsMVTGeom(extent=4096, buffer=64).
	MVTExtent uint32
	MVTBuffer float64
	// DisableMVT forces the vector tile capability off.
	DisableMVT bool
}

func DefaultBenchConfig() *BenchConfig {
	return &BenchConfig{
		WarmupRuns:         1,
		Runs:               5,
		MVTRuns:            3,
		Zoom:               common.SlippyZoomLevel15,
		NeighborhoodZoom:   common.SlippyZoomLevel17,
		NeighborhoodCenter: orb.Point{-122.44, 37.76},
		MVTExtent:          4096,
		MVTBuffer:          64,
	}
}

// InfluxDB export is optional; it is skipped when INFLUXDB_URL is empty.
var (
	INFLUXDB_URL    = os.Getenv("INFLUXDB_URL")
	INFLUXDB_TOKEN  = os.Getenv("INFLUXDB_TOKEN")
	INFLUXDB_ORG    = os.Getenv("INFLUXDB_ORG")
	INFLUXDB_BUCKET = os.Getenv("INFLUXDB_BUCKET")
)
