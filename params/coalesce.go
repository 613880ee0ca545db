package params

import (
	"fmt"
	"strings"

	"github.com/rotblauer/treetiles/common"
)

// CoalescePolicy decides when a viewport's tile range is recomputed.
type CoalescePolicy int

const (
	// PolicyPerFrame recomputes the range on every event.
	// Maximal fidelity, maximal query count.
	PolicyPerFrame CoalescePolicy = iota

	// PolicyStageLocked freezes the range for each (stage, zoom)
	// the first time it is seen, where a stage is one leg of a scripted animation.
	PolicyStageLocked

	// PolicyZoomLocked freezes the range the first time an integer zoom is seen,
	// across stages. It may show stale data briefly after a pan within the same zoom.
	PolicyZoomLocked
)

var coalescePolicyNames = map[CoalescePolicy]string{
	PolicyPerFrame:    "per-frame",
	PolicyStageLocked: "stage-locked",
	PolicyZoomLocked:  "zoom-locked",
}

// AllCoalescePolicies in descending query-count order.
var AllCoalescePolicies = []CoalescePolicy{PolicyPerFrame, PolicyStageLocked, PolicyZoomLocked}

func (p CoalescePolicy) String() string {
	if s, ok := coalescePolicyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("CoalescePolicy(%d)", int(p))
}

func (p CoalescePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *CoalescePolicy) UnmarshalText(b []byte) error {
	v, err := ParseCoalescePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func ParseCoalescePolicy(s string) (CoalescePolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range coalescePolicyNames {
		if s == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown coalesce policy %q", s)
}

type CoalescerConfig struct {
	Policy CoalescePolicy

	// MinZoom is the lowest (rounded) zoom handled by the coalescer.
	// Lower zooms are served by cheap aggregate lookups without batching.
	MinZoom common.SlippyZoomLevelT

	// InitialRevision is the dataset revision the served-set starts at.
	InitialRevision uint64
}

func DefaultCoalescerConfig() *CoalescerConfig {
	return &CoalescerConfig{
		Policy:          PolicyZoomLocked,
		MinZoom:         common.SlippyZoomLevel15,
		InitialRevision: 1,
	}
}
