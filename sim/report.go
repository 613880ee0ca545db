package sim

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotblauer/treetiles/common"
)

// WriteReport prints each simulation result, the observed log summary if any,
// and a recommendation.
func WriteReport(w io.Writer, results []*Result, observed *QueryLog) error {
	for _, r := range results {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Simulation (%s):\n%s\n\n", r.Policy, data); err != nil {
			return err
		}
	}
	if observed != nil {
		data, err := json.MarshalIndent(observed, "", "  ")
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "Observed from log:\n%s\n\n", data); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, Recommendation(results, observed))
	return err
}

// Recommendation names the cheapest policy and the options for trimming
// detail zoom query counts further.
func Recommendation(results []*Result, observed *QueryLog) string {
	s := "Recommendation:\n"
	s += "- z13/z14 are served from precomputed aggregate tables.\n"
	s += "- z16-z18 keep per-feature rows; aggregates would lose icon and category fidelity.\n"
	if best := cheapest(results); best != nil {
		s += fmt.Sprintf("- Fewest detail queries: %s with %d", best.Policy, best.Total)
		for _, r := range results {
			if r != best {
				s += fmt.Sprintf(", vs %s %d", r.Policy, r.Total)
			}
		}
		s += ".\n"
	}
	s += "- If detail query counts are still high, prefer one of:\n"
	s += "  1) Lock the visible range per stage or per zoom during scripted animations.\n"
	s += "  2) Read z16-z18 from the fast feature table with range lookups only.\n"
	s += "  3) Reduce frame-driven range changes (fewer distinct range signatures).\n"
	if observed != nil {
		s += fmt.Sprintf("- Observed unique range keys in logs for z16-z18: %d\n",
			observed.DetailUniqueRanges(common.SlippyZoomLevel16, common.SlippyZoomLevel18))
	}
	return s
}

// cheapest prefers the later result on ties; results run in descending query-count order.
func cheapest(results []*Result) *Result {
	var best *Result
	for _, r := range results {
		if best == nil || r.Total <= best.Total {
			best = r
		}
	}
	return best
}
