package coalesce

import (
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
)

var sf = orb.Point{-122.4194, 37.7749}

func newCoalescer(t *testing.T, policy params.CoalescePolicy) *Coalescer {
	t.Helper()
	cfg := params.DefaultCoalescerConfig()
	cfg.Policy = policy
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func viewportEvent(zoom float64, center orb.Point) ViewportEvent {
	return ViewportEvent{Zoom: zoom, Center: center, WidthPx: 1512, HeightPx: 982}
}

func TestCoalescer_Dedup(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	for _, policy := range params.AllCoalescePolicies {
		t.Run(policy.String(), func(t *testing.T) {
			c := newCoalescer(t, policy)
			req, out := c.Handle(viewportEvent(16.2, sf))
			if out != OutcomeEmitted {
				t.Fatalf("first: %v", out)
			}
			if !strings.HasPrefix(req.Key, "1:16:") || req.Revision != 1 || req.Range.Z != 16 {
				t.Errorf("unexpected request %+v", req)
			}
			again, out := c.Handle(viewportEvent(16.2, sf))
			if out != OutcomeDuplicate || again.Key != req.Key {
				t.Errorf("second: %v %v", out, again.Key)
			}
			if !c.Served(req.Key) {
				t.Error("key not marked served")
			}
			st := c.Stats()
			if st.Emitted != 1 || st.Duplicate != 1 || st.Served != 1 {
				t.Errorf("stats %+v", st)
			}
		})
	}
}

func TestCoalescer_RevisionInvalidation(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	c := newCoalescer(t, params.PolicyZoomLocked)
	first, _ := c.Handle(viewportEvent(17, sf))
	if rev := c.BumpRevision(); rev != 2 {
		t.Fatalf("revision %d", rev)
	}
	if c.Served(first.Key) {
		t.Error("old key still served")
	}
	req, out := c.Handle(viewportEvent(17, sf))
	if out != OutcomeEmitted || req.Range != first.Range || req.Key == first.Key {
		t.Errorf("after bump: %v %+v", out, req)
	}
	if _, out := c.Handle(viewportEvent(17, sf)); out != OutcomeDuplicate {
		t.Errorf("re-emitted twice: %v", out)
	}
	if c.SetRevision(2) {
		t.Error("same revision reported a change")
	}
	if !c.SetRevision(9) || c.Revision() != 9 {
		t.Error("set revision")
	}
	if _, out := c.Handle(viewportEvent(17, sf)); out != OutcomeEmitted {
		t.Errorf("after set revision: %v", out)
	}
}

func TestCoalescer_ZoomRounding(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	c := newCoalescer(t, params.PolicyPerFrame)
	cases := []struct {
		zoom float64
		want Outcome
		z    common.SlippyZoomLevelT
	}{
		{14.49, OutcomeBelowMinZoom, 0},
		{14.5, OutcomeBelowMinZoom, 0},
		{14.51, OutcomeEmitted, 15},
		{15.5, OutcomeEmitted, 16},
		{16.5, OutcomeEmitted, 16},
		{18.5, OutcomeEmitted, 18},
		{20.5, OutcomeEmitted, 20},
		{20.51, OutcomeDegenerate, 0},
	}
	for _, cs := range cases {
		req, out := c.Handle(viewportEvent(cs.zoom, sf))
		if out != cs.want {
			t.Errorf("zoom %v: got %v, want %v", cs.zoom, out, cs.want)
			continue
		}
		if out == OutcomeEmitted && req.Range.Z != cs.z {
			t.Errorf("zoom %v: range zoom %d, want %d", cs.zoom, req.Range.Z, cs.z)
		}
	}
}

func TestCoalescer_Degenerate(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	c := newCoalescer(t, params.PolicyPerFrame)
	cases := map[string]ViewportEvent{
		"zero width":      {Zoom: 16, Center: sf, WidthPx: 0, HeightPx: 10},
		"negative height": {Zoom: 16, Center: sf, WidthPx: 10, HeightPx: -1},
		"nan zoom":        {Zoom: math.NaN(), Center: sf, WidthPx: 10, HeightPx: 10},
		"negative zoom":   {Zoom: -3, Center: sf, WidthPx: 10, HeightPx: 10},
		"inf center":      {Zoom: 16, Center: orb.Point{math.Inf(1), 0}, WidthPx: 10, HeightPx: 10},
		"lat beyond pole": {Zoom: 16, Center: orb.Point{0, 95}, WidthPx: 10, HeightPx: 10},
		"too deep":        {Zoom: 23, Center: sf, WidthPx: 10, HeightPx: 10},
	}
	for name, ev := range cases {
		t.Run(name, func(t *testing.T) {
			if _, out := c.Handle(ev); out != OutcomeDegenerate {
				t.Errorf("got %v", out)
			}
		})
	}
	st := c.Stats()
	if st.Served != 0 || st.Emitted != 0 || st.Degenerate != int64(len(cases)) {
		t.Errorf("stats %+v", st)
	}
}

func TestCoalescer_UntrackedZoom(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	cfg := params.DefaultCoalescerConfig()
	cfg.MinZoom = 0
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, out := c.Handle(viewportEvent(10, sf)); out != OutcomeDegenerate {
		t.Errorf("got %v", out)
	}
	req, out := c.Handle(viewportEvent(14, sf))
	if out != OutcomeEmitted || req.Kind != KindAggregate {
		t.Errorf("got %v %v", out, req.Kind)
	}
	req, _ = c.Handle(viewportEvent(18, sf))
	if req.Kind != KindFeatures {
		t.Errorf("got %v", req.Kind)
	}
}

// Six frames at zoom 16 with sub-pixel pans.
func TestCoalescer_SubPixelFrames(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	frames := make([]ViewportEvent, 6)
	for i := range frames {
		// About 0.01px per step at z16 with 512px tiles.
		frames[i] = viewportEvent(16, orb.Point{sf.Lon() + float64(i)*1e-8, sf.Lat() + float64(i)*1e-8})
	}

	zl := newCoalescer(t, params.PolicyZoomLocked)
	pf := newCoalescer(t, params.PolicyPerFrame)
	distinct := map[string]bool{}
	for _, f := range frames {
		zl.Handle(f)
		pf.Handle(f)
		r, err := pf.computeRange(f, 16)
		if err != nil {
			t.Fatal(err)
		}
		distinct[r.String()] = true
	}
	if got := zl.Stats().Emitted; got != 1 {
		t.Errorf("zoom-locked emitted %d, want 1", got)
	}
	if got := pf.Stats().Emitted; got != int64(len(distinct)) {
		t.Errorf("per-frame emitted %d, want %d distinct", got, len(distinct))
	}
	if len(distinct) != 1 {
		t.Errorf("sub-pixel moves crossed a tile boundary: %v", distinct)
	}
}

// Six frames at zoom 16, each panned one and a half tiles east.
func TestCoalescer_TileCrossingFrames(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	tileDeg := 360 / float64(common.SlippyZoomLevel16.TilesPerAxis())
	zl := newCoalescer(t, params.PolicyZoomLocked)
	pf := newCoalescer(t, params.PolicyPerFrame)
	for i := 0; i < 6; i++ {
		f := viewportEvent(16, orb.Point{sf.Lon() + float64(i)*1.5*tileDeg, sf.Lat()})
		zl.Handle(f)
		pf.Handle(f)
	}
	if got := pf.Stats().Emitted; got != 6 {
		t.Errorf("per-frame emitted %d, want 6", got)
	}
	if got := zl.Stats().Emitted; got != 1 {
		t.Errorf("zoom-locked emitted %d, want 1", got)
	}
}

func randomTrajectory(r *rand.Rand, n int) (frames []ViewportEvent, bumps map[int]bool) {
	bumps = map[int]bool{}
	center := orb.Point{-122.44 + r.Float64()*0.1, 37.76 + r.Float64()*0.1}
	zoom := 13 + r.Float64()*7
	stage := 0
	for i := 0; i < n; i++ {
		if r.Intn(20) == 0 {
			stage++
		}
		if r.Intn(200) == 0 {
			bumps[i] = true
		}
		zoom += (r.Float64() - 0.5) * 0.3
		zoom = common.Clamp(zoom, 12, 21)
		scale := 0.02 / math.Exp2(zoom-13)
		center = orb.Point{center.Lon() + (r.Float64()-0.5)*scale, center.Lat() + (r.Float64()-0.5)*scale}
		ev := viewportEvent(zoom, center)
		ev.Stage = stage
		if r.Intn(50) == 0 {
			ev.WidthPx = 0
		}
		frames = append(frames, ev)
	}
	return frames, bumps
}

func TestCoalescer_PolicyOrdering(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	r := rand.New(rand.NewSource(1234))
	for trial := 0; trial < 50; trial++ {
		frames, bumps := randomTrajectory(r, 100+r.Intn(900))
		counts := map[params.CoalescePolicy]int64{}
		for _, policy := range params.AllCoalescePolicies {
			c := newCoalescer(t, policy)
			for i, f := range frames {
				if bumps[i] {
					c.BumpRevision()
				}
				c.Handle(f)
			}
			counts[policy] = c.Stats().Emitted
		}
		zl, sl, pf := counts[params.PolicyZoomLocked], counts[params.PolicyStageLocked], counts[params.PolicyPerFrame]
		if !(zl <= sl && sl <= pf) {
			t.Fatalf("trial %d: zoom-locked %d, stage-locked %d, per-frame %d", trial, zl, sl, pf)
		}
	}
}

func TestCoalescer_Subscribe(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	c := newCoalescer(t, params.PolicyPerFrame)
	ch := make(chan Request, 10)
	sub := c.Subscribe(ch)
	defer sub.Unsubscribe()

	c.Handle(viewportEvent(16, sf))
	c.Handle(viewportEvent(16, sf))
	c.Handle(viewportEvent(17, sf))
	if len(ch) != 2 {
		t.Fatalf("got %d requests", len(ch))
	}
	if req := <-ch; req.Range.Z != 16 {
		t.Errorf("first request %+v", req)
	}
}

func TestCoalescer_Concurrent(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	c := newCoalescer(t, params.PolicyZoomLocked)
	var wg sync.WaitGroup
	outcomes := make([]Outcome, 64)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcomes[i] = c.Handle(viewportEvent(18, sf))
		}(i)
	}
	wg.Wait()
	emitted := 0
	for _, o := range outcomes {
		if o == OutcomeEmitted {
			emitted++
		}
	}
	if emitted != 1 {
		t.Errorf("emitted %d times", emitted)
	}
}

func TestNew_BadConfig(t *testing.T) {
	cfg := params.DefaultCoalescerConfig()
	cfg.MinZoom = 40
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected error")
	}
}
