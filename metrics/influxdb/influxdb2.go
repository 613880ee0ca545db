// Package influxdb exports benchmark samples, simulation estimates and
// metric registries to an InfluxDB v2 Write API.
package influxdb

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rotblauer/treetiles/bench"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/sim"
)

var ErrDisabled = errors.New("influxdb export disabled")

// Enabled reports whether an InfluxDB URL is configured.
func Enabled() bool {
	return params.INFLUXDB_URL != ""
}

// Export posts points to an InfluxDB Write API.
// The Write API will buffer and flush.
// The last error encountered is returned.
func Export(points []*write.Point) error {
	if !Enabled() {
		return ErrDisabled
	}
	opts := influxdb2.DefaultOptions()
	opts.SetPrecision(time.Millisecond)
	client := influxdb2.NewClientWithOptions(params.INFLUXDB_URL, params.INFLUXDB_TOKEN, opts)
	writeAPI := client.WriteAPI(params.INFLUXDB_ORG, params.INFLUXDB_BUCKET)

	// Errors returns a channel for reading errors which occurs during async writes.
	// Must be called before performing any writes for errors to be collected.
	// The chan is unbuffered and must be drained or the writer will block.
	errorsCh := writeAPI.Errors()
	var err error
	wait := sync.WaitGroup{}
	wait.Add(1)
	go func() {
		defer wait.Done()
		for e := range errorsCh {
			if e != nil {
				err = e
			}
		}
	}()

	for _, p := range points {
		writeAPI.WritePoint(p)
	}
	writeAPI.Flush()
	client.Close()
	wait.Wait()
	return err
}

// BenchPoints has one point per timed scenario. Skipped scenarios are left out.
func BenchPoints(r *bench.Report, at time.Time) []*write.Point {
	out := make([]*write.Point, 0, len(r.Samples)+len(r.Builds))
	for _, s := range r.Samples {
		if s.Skipped {
			continue
		}
		out = append(out, influxdb2.NewPointWithMeasurement("bench").
			SetTime(at).
			AddTag("scenario", s.Name).
			AddField("runs", s.Runs).
			AddField("rows", s.Rows).
			AddField("mean_ms", durationMS(s.Mean)).
			AddField("median_ms", durationMS(s.Median)).
			AddField("min_ms", durationMS(s.Min)).
			AddField("records", r.Records))
	}
	for name, d := range r.Builds {
		out = append(out, influxdb2.NewPointWithMeasurement("bench_build").
			SetTime(at).
			AddTag("name", name).
			AddField("took_ms", durationMS(d)))
	}
	return out
}

// SimulationPoints has one point per policy and zoom.
func SimulationPoints(results []*sim.Result, at time.Time) []*write.Point {
	var out []*write.Point
	for _, r := range results {
		for _, z := range r.Zooms() {
			out = append(out, influxdb2.NewPointWithMeasurement("simulation").
				SetTime(at).
				AddTag("policy", r.Policy.String()).
				AddTag("viewport", r.Viewport).
				AddTag("zoom", strconv.Itoa(int(z))).
				AddField("fps", r.FPS).
				AddField("queries", r.ByZoom[z]))
		}
	}
	return out
}

// RegistryPoints snapshots the counters, meters and timers in reg.
func RegistryPoints(reg metrics.Registry, measurement string, at time.Time) []*write.Point {
	var out []*write.Point
	reg.Each(func(name string, i interface{}) {
		p := influxdb2.NewPointWithMeasurement(measurement).SetTime(at).AddTag("name", name)
		switch m := i.(type) {
		case metrics.Counter:
			p.AddField("count", m.Snapshot().Count())
		case metrics.Meter:
			s := m.Snapshot()
			p.AddField("count", s.Count()).AddField("rate1", s.Rate1())
		case metrics.Timer:
			s := m.Snapshot()
			p.AddField("count", s.Count()).
				AddField("mean_ms", s.Mean()/float64(time.Millisecond)).
				AddField("p95_ms", s.Percentile(0.95)/float64(time.Millisecond)).
				AddField("max_ms", float64(s.Max())/float64(time.Millisecond))
		default:
			return
		}
		out = append(out, p)
	})
	return out
}

func durationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
