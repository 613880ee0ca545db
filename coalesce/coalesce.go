/*
Package coalesce collapses storms of viewport events from a continuously
animating map camera into one query per distinct (revision, zoom, tile range).

Each event is reduced to an integer zoom and a clamped tile range. The range,
prefixed by the dataset revision, is the cache key. A key is served at most
once per revision; later events that map to it are dropped. The policy decides
how often the range itself is recomputed while the camera moves.
*/
package coalesce

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/projection"
	"github.com/rotblauer/treetiles/types/tile"
)

// ViewportEvent is one camera state.
type ViewportEvent struct {
	// Zoom is the continuous map zoom.
	Zoom     float64
	Center   orb.Point
	WidthPx  int
	HeightPx int

	// Stage identifies the leg of a scripted animation the frame belongs to.
	// It is only consulted by the stage-locked policy.
	Stage int
}

// Kind is the table a request should be answered from.
type Kind int

const (
	KindFeatures Kind = iota
	KindAggregate
)

func (k Kind) String() string {
	if k == KindAggregate {
		return "aggregate"
	}
	return "features"
}

// Request is a query to issue for a newly seen key.
type Request struct {
	Revision uint64
	Range    tile.Range
	Key      string
	Kind     Kind
	Stage    int
}

type Outcome int

const (
	// OutcomeEmitted means a new key was marked served and a request emitted.
	OutcomeEmitted Outcome = iota
	// OutcomeDuplicate means the key was already served this revision.
	OutcomeDuplicate
	// OutcomeBelowMinZoom means the rounded zoom is below the coalescer's range.
	// Zooms round half to even: 18.5 is z18, 15.5 is z16.
	OutcomeBelowMinZoom
	// OutcomeDegenerate means the event could not describe a viewport.
	OutcomeDegenerate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmitted:
		return "emitted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeBelowMinZoom:
		return "below-min-zoom"
	case OutcomeDegenerate:
		return "degenerate"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

type stageZoom struct {
	stage int
	zoom  common.SlippyZoomLevelT
}

// Stats is a snapshot of a coalescer's counters.
type Stats struct {
	Revision     uint64
	Served       int
	Emitted      int64
	Duplicate    int64
	BelowMinZoom int64
	Degenerate   int64
}

// Coalescer is safe for concurrent use; one mutex guards the revision,
// served-set and frozen ranges.
type Coalescer struct {
	cfg       params.CoalescerConfig
	tiles     *params.TileConfig
	projector *projection.Projector

	mu            sync.Mutex
	revision      uint64
	served        map[string]struct{}
	frozenByZoom  map[common.SlippyZoomLevelT]tile.Range
	frozenByStage map[stageZoom]tile.Range

	feed event.FeedOf[Request]

	registry     metrics.Registry
	emitted      metrics.Counter
	duplicate    metrics.Counter
	belowMinZoom metrics.Counter
	degenerate   metrics.Counter

	logger *slog.Logger
}

// New returns a coalescer. Nil configs use their defaults.
func New(cfg *params.CoalescerConfig, tiles *params.TileConfig) (*Coalescer, error) {
	if cfg == nil {
		cfg = params.DefaultCoalescerConfig()
	}
	if tiles == nil {
		tiles = params.DefaultTileConfig()
	}
	if err := tiles.Validate(); err != nil {
		return nil, err
	}
	if !cfg.MinZoom.Valid() {
		return nil, fmt.Errorf("invalid min zoom %d", cfg.MinZoom)
	}
	c := &Coalescer{
		cfg:           *cfg,
		tiles:         tiles,
		projector:     projection.New(tiles),
		revision:      cfg.InitialRevision,
		served:        make(map[string]struct{}),
		frozenByZoom:  make(map[common.SlippyZoomLevelT]tile.Range),
		frozenByStage: make(map[stageZoom]tile.Range),
		registry:      metrics.NewRegistry(),
		emitted:       metrics.NewCounter(),
		duplicate:     metrics.NewCounter(),
		belowMinZoom:  metrics.NewCounter(),
		degenerate:    metrics.NewCounter(),
		logger:        slog.With("component", "coalesce", "policy", cfg.Policy),
	}
	for name, counter := range map[string]metrics.Counter{
		"coalesce/emitted":        c.emitted,
		"coalesce/duplicate":      c.duplicate,
		"coalesce/below_min_zoom": c.belowMinZoom,
		"coalesce/degenerate":     c.degenerate,
	} {
		if err := c.registry.Register(name, counter); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Coalescer) Policy() params.CoalescePolicy {
	return c.cfg.Policy
}

// Registry exposes the coalescer's counters.
func (c *Coalescer) Registry() metrics.Registry {
	return c.registry
}

// Subscribe delivers every emitted request to ch. The send happens
// synchronously within Handle, so subscribers must keep up.
func (c *Coalescer) Subscribe(ch chan<- Request) event.Subscription {
	return c.feed.Subscribe(ch)
}

// Handle reduces one event to a request. A request is returned with
// OutcomeEmitted only for a key not yet served in the current revision;
// it is marked served and sent to subscribers before Handle returns.
// A duplicate still returns the request it would have issued.
func (c *Coalescer) Handle(ev ViewportEvent) (Request, Outcome) {
	if !c.wellFormed(ev) {
		c.degenerate.Inc(1)
		c.logger.Debug("Degenerate viewport", "event", ev)
		return Request{}, OutcomeDegenerate
	}
	// Anything rounding past the deepest tracked zoom has no table to answer it.
	// The float bound keeps huge zooms out of the int conversion.
	if ev.Zoom > float64(c.tiles.DeepestZoom())+0.5 ||
		common.RoundHalfEven(ev.Zoom) > int(c.tiles.DeepestZoom()) {
		c.degenerate.Inc(1)
		c.logger.Debug("Zoom deeper than tracked", "zoom", ev.Zoom)
		return Request{}, OutcomeDegenerate
	}
	zoom := common.SlippyZoomLevelT(common.RoundHalfEven(ev.Zoom))
	if zoom < c.cfg.MinZoom {
		c.belowMinZoom.Inc(1)
		return Request{}, OutcomeBelowMinZoom
	}
	if !c.tiles.Tracks(zoom) {
		c.degenerate.Inc(1)
		c.logger.Debug("Zoom not tracked", "zoom", zoom)
		return Request{}, OutcomeDegenerate
	}

	c.mu.Lock()
	r, err := c.rangeFor(ev, zoom)
	if err != nil {
		c.mu.Unlock()
		c.degenerate.Inc(1)
		c.logger.Debug("Degenerate viewport", "event", ev, "error", err)
		return Request{}, OutcomeDegenerate
	}
	req := Request{
		Revision: c.revision,
		Range:    r,
		Key:      r.Key(c.revision),
		Kind:     KindFeatures,
		Stage:    ev.Stage,
	}
	if _, ok := c.tiles.AggregateLevelFor(zoom); ok {
		req.Kind = KindAggregate
	}
	if _, ok := c.served[req.Key]; ok {
		c.mu.Unlock()
		c.duplicate.Inc(1)
		return req, OutcomeDuplicate
	}
	c.served[req.Key] = struct{}{}
	c.mu.Unlock()

	c.emitted.Inc(1)
	c.logger.Debug("Emit request", "key", req.Key, "kind", req.Kind, "tiles", req.Range.Count())
	c.feed.Send(req)
	return req, OutcomeEmitted
}

func (c *Coalescer) wellFormed(ev ViewportEvent) bool {
	if ev.WidthPx <= 0 || ev.HeightPx <= 0 {
		return false
	}
	if !common.IsFinite(ev.Zoom, ev.Center.Lon(), ev.Center.Lat()) || ev.Zoom < 0 {
		return false
	}
	return math.Abs(ev.Center.Lat()) <= 90 && math.Abs(ev.Center.Lon()) <= 180
}

// rangeFor applies the policy. The caller holds c.mu.
func (c *Coalescer) rangeFor(ev ViewportEvent, zoom common.SlippyZoomLevelT) (tile.Range, error) {
	switch c.cfg.Policy {
	case params.PolicyZoomLocked:
		if r, ok := c.frozenByZoom[zoom]; ok {
			return r, nil
		}
	case params.PolicyStageLocked:
		if r, ok := c.frozenByStage[stageZoom{ev.Stage, zoom}]; ok {
			return r, nil
		}
	}
	r, err := c.computeRange(ev, zoom)
	if err != nil {
		return tile.Range{}, err
	}
	switch c.cfg.Policy {
	case params.PolicyZoomLocked:
		c.frozenByZoom[zoom] = r
	case params.PolicyStageLocked:
		c.frozenByStage[stageZoom{ev.Stage, zoom}] = r
	}
	return r, nil
}

// computeRange covers the viewport bounds at the event's continuous zoom
// with tiles at the rounded zoom.
func (c *Coalescer) computeRange(ev ViewportEvent, zoom common.SlippyZoomLevelT) (tile.Range, error) {
	b, err := c.projector.ViewportBounds(ev.Center, ev.Zoom, ev.WidthPx, ev.HeightPx)
	if err != nil {
		return tile.Range{}, err
	}
	r := c.projector.RangeForBounds(zoom, b)
	if !r.Valid() {
		return tile.Range{}, fmt.Errorf("%w: %v", tile.ErrBadRange, r)
	}
	return r, nil
}

// BumpRevision invalidates every served key and frozen range,
// returning the new revision.
func (c *Coalescer) BumpRevision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revision++
	c.served = make(map[string]struct{})
	clear(c.frozenByZoom)
	clear(c.frozenByStage)
	c.logger.Info("Bumped revision", "revision", c.revision)
	return c.revision
}

// SetRevision moves to revision rev if it differs from the current one,
// as when a rebuilt dataset is loaded. It reports whether anything changed.
func (c *Coalescer) SetRevision(rev uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rev == c.revision {
		return false
	}
	c.revision = rev
	c.served = make(map[string]struct{})
	clear(c.frozenByZoom)
	clear(c.frozenByStage)
	c.logger.Info("Set revision", "revision", rev)
	return true
}

func (c *Coalescer) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Served reports whether key has been served in the current revision.
func (c *Coalescer) Served(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.served[key]
	return ok
}

func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Revision:     c.revision,
		Served:       len(c.served),
		Emitted:      c.emitted.Snapshot().Count(),
		Duplicate:    c.duplicate.Snapshot().Count(),
		BelowMinZoom: c.belowMinZoom.Snapshot().Count(),
		Degenerate:   c.degenerate.Snapshot().Count(),
	}
}
