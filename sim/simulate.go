package sim

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/rotblauer/treetiles/coalesce"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
)

// Result is the query estimate for one policy.
type Result struct {
	Policy   params.CoalescePolicy `json:"policy"`
	FPS      int                   `json:"fps"`
	Viewport string                `json:"viewport"`
	Frames   int                   `json:"frames"`

	// Total counts emitted requests at or above the coalescer's min zoom.
	Total int `json:"total_estimated_queries"`
	// Prefetched counts requests that only the stage-boundary prefetch emitted.
	Prefetched int                             `json:"prefetched"`
	ByZoom     map[common.SlippyZoomLevelT]int `json:"by_zoom"`
}

// Zooms returns the zooms with at least one request, deepest first.
func (r *Result) Zooms() []common.SlippyZoomLevelT {
	out := make([]common.SlippyZoomLevelT, 0, len(r.ByZoom))
	for z := range r.ByZoom {
		out = append(out, z)
	}
	slices.Sort(out)
	slices.Reverse(out)
	return out
}

// Simulate drives the intro animation through a fresh coalescer with the given policy.
// After the frames, each stage-boundary checkpoint is replayed as a prefetch
// event; it only adds a request when its key was not already served.
func Simulate(policy params.CoalescePolicy, intro *params.IntroConfig, vp *params.ViewportConfig, tiles *params.TileConfig) (*Result, error) {
	if intro == nil {
		intro = params.DefaultIntroConfig()
	}
	if vp == nil {
		vp = params.DefaultViewportConfig()
	}
	cfg := params.DefaultCoalescerConfig()
	cfg.Policy = policy
	c, err := coalesce.New(cfg, tiles)
	if err != nil {
		return nil, err
	}

	frames := IntroFrames(intro, vp.FPS)
	res := &Result{
		Policy:   policy,
		FPS:      vp.FPS,
		Viewport: fmt.Sprintf("%dx%d", vp.WidthPx, vp.HeightPx),
		Frames:   len(frames),
		ByZoom:   map[common.SlippyZoomLevelT]int{},
	}
	handle := func(f Frame) bool {
		req, outcome := c.Handle(coalesce.ViewportEvent{
			Zoom:     f.Zoom,
			Center:   f.Center,
			WidthPx:  vp.WidthPx,
			HeightPx: vp.HeightPx,
			Stage:    f.Stage,
		})
		if outcome != coalesce.OutcomeEmitted {
			return false
		}
		res.Total++
		res.ByZoom[req.Range.Z]++
		return true
	}
	for _, f := range frames {
		handle(f)
	}

	segments := len(intro.Checkpoints) - 1
	for i := 1; i <= segments; i++ {
		f := Frame{
			Zoom:   intro.Checkpoints[i],
			Center: spiralCenter(intro, float64(i)/float64(segments)),
			Stage:  i - 1,
		}
		if handle(f) {
			res.Prefetched++
		}
	}

	st := c.Stats()
	slog.Debug("Simulated intro", "policy", policy, "frames", len(frames),
		"emitted", st.Emitted, "duplicate", st.Duplicate, "below_min_zoom", st.BelowMinZoom)
	return res, nil
}

// SimulateAll runs Simulate for every policy, in descending query-count order.
func SimulateAll(intro *params.IntroConfig, vp *params.ViewportConfig, tiles *params.TileConfig) ([]*Result, error) {
	out := make([]*Result, 0, len(params.AllCoalescePolicies))
	for _, p := range params.AllCoalescePolicies {
		r, err := Simulate(p, intro, vp, tiles)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
