package query

import (
	"fmt"

	"github.com/rotblauer/treetiles/aggregate"
	"github.com/rotblauer/treetiles/store"
)

// LoadEngine reads every table in s into memory.
// The manifest is returned so callers can start a coalescer at its revision.
func LoadEngine(s *store.Store) (*Engine, store.Manifest, error) {
	m, err := s.Manifest()
	if err != nil {
		return nil, m, err
	}
	cfg := m.TileConfig()
	ft, err := s.LoadFeatures(cfg)
	if err != nil {
		return nil, m, fmt.Errorf("load features: %w", err)
	}
	aggs := make([]*aggregate.Table, 0, len(cfg.AggregateLevels))
	for _, lvl := range cfg.AggregateLevels {
		a, err := s.LoadAggregate(lvl)
		if err != nil {
			return nil, m, fmt.Errorf("load aggregate z%d: %w", lvl.Zoom, err)
		}
		aggs = append(aggs, a)
	}
	return NewEngine(ft, aggs...), m, nil
}
