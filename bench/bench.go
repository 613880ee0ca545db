/*
Package bench times the query strategies a map client can use for detail
tiles: on-the-fly aggregation over raw records, grouping the precomputed
feature table, range lookups against materialized tables, the same queries
in an embedded SQL engine, and vector tile assembly.
*/
package bench

import (
	"errors"
	"fmt"
	"time"

	"github.com/montanaflynn/stats"
)

var ErrNoRuns = errors.New("no timed runs")

// Sample is the timing summary of one scenario.
type Sample struct {
	Name   string        `json:"name"`
	Runs   int           `json:"runs"`
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	Min    time.Duration `json:"min"`

	// Rows is the result size of the last run.
	Rows int `json:"rows"`

	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Scenario is one timed operation. It returns the number of result rows.
type Scenario func() (int, error)

// Run executes fn warmup times untimed, then runs timed times.
func Run(name string, warmup, runs int, fn Scenario) (Sample, error) {
	if runs < 1 {
		return Sample{Name: name}, fmt.Errorf("%w: %s", ErrNoRuns, name)
	}
	for i := 0; i < warmup; i++ {
		if _, err := fn(); err != nil {
			return Sample{Name: name}, fmt.Errorf("%s warmup: %w", name, err)
		}
	}
	samples := make(stats.Float64Data, 0, runs)
	var rows int
	for i := 0; i < runs; i++ {
		start := time.Now()
		n, err := fn()
		if err != nil {
			return Sample{Name: name}, fmt.Errorf("%s: %w", name, err)
		}
		samples = append(samples, float64(time.Since(start)))
		rows = n
	}

	statsMustFloat := func(fn func() (float64, error)) time.Duration {
		out, _ := fn()
		return time.Duration(out)
	}
	return Sample{
		Name:   name,
		Runs:   runs,
		Mean:   statsMustFloat(samples.Mean),
		Median: statsMustFloat(samples.Median),
		Min:    statsMustFloat(samples.Min),
		Rows:   rows,
	}, nil
}

// Skip records a scenario that could not run.
func Skip(name, reason string) Sample {
	return Sample{Name: name, Skipped: true, Reason: reason}
}
