// Package query answers tile-range requests from the built tables,
// and ties the coalescer to them for a client session.
package query

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rotblauer/treetiles/aggregate"
	"github.com/rotblauer/treetiles/coalesce"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/features"
	"github.com/rotblauer/treetiles/types/tile"
)

var ErrNoTable = errors.New("no table for zoom")

// Engine reads from immutable tables and is safe for concurrent use.
type Engine struct {
	features   *features.Table
	aggregates map[common.SlippyZoomLevelT]*aggregate.Table
	logger     *slog.Logger
}

func NewEngine(ft *features.Table, aggs ...*aggregate.Table) *Engine {
	e := &Engine{
		features:   ft,
		aggregates: make(map[common.SlippyZoomLevelT]*aggregate.Table, len(aggs)),
		logger:     slog.With("component", "query"),
	}
	for _, a := range aggs {
		e.aggregates[a.Zoom()] = a
	}
	return e
}

func (e *Engine) Features() *features.Table {
	return e.features
}

// Aggregate returns the aggregate table at z, if one was built.
func (e *Engine) Aggregate(z common.SlippyZoomLevelT) (*aggregate.Table, bool) {
	a, ok := e.aggregates[z]
	return a, ok
}

func (e *Engine) QueryAggregates(r tile.Range) ([]aggregate.Stat, error) {
	a, ok := e.aggregates[r.Z]
	if !ok {
		return nil, fmt.Errorf("%w: aggregate z%d", ErrNoTable, r.Z)
	}
	return a.Query(r)
}

func (e *Engine) QueryFeatures(r tile.Range) ([]features.Row, error) {
	if e.features == nil {
		return nil, fmt.Errorf("%w: features z%d", ErrNoTable, r.Z)
	}
	return e.features.Query(r)
}

// Result is the answer to one request. Exactly one of Stats and Rows is
// populated, according to the request kind.
type Result struct {
	Request coalesce.Request
	Stats   []aggregate.Stat
	Rows    []features.Row
	Took    time.Duration
}

// Len is the number of rows in the result.
func (r Result) Len() int {
	return len(r.Stats) + len(r.Rows)
}

// Serve answers a coalesced request from the table its kind names.
func (e *Engine) Serve(req coalesce.Request) (Result, error) {
	start := time.Now()
	res := Result{Request: req}
	var err error
	switch req.Kind {
	case coalesce.KindAggregate:
		res.Stats, err = e.QueryAggregates(req.Range)
	default:
		res.Rows, err = e.QueryFeatures(req.Range)
	}
	if err != nil {
		return res, fmt.Errorf("serve %s: %w", req.Key, err)
	}
	res.Took = time.Since(start)
	e.logger.Debug("Served", "key", req.Key, "kind", req.Kind, "rows", res.Len(), "took", res.Took)
	return res, nil
}
