package sim

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/tidwall/gjson"
)

var (
	sqlZoomRe = regexp.MustCompile(`(?i)ST_TileEnvelope\((\d+),`)
	sqlXRe    = regexp.MustCompile(`(?i)xtile(?:_z\d+)?\s+BETWEEN\s+(-?\d+)\s+AND\s+(-?\d+)`)
	sqlYRe    = regexp.MustCompile(`(?i)ytile(?:_z\d+)?\s+BETWEEN\s+(-?\d+)\s+AND\s+(-?\d+)`)
)

// QueryLog summarizes vector tile queries found in a captured client log.
type QueryLog struct {
	Total        int                             `json:"total_mvt_sql_entries"`
	ByZoom       map[common.SlippyZoomLevelT]int `json:"by_zoom_total"`
	UniqueRanges map[common.SlippyZoomLevelT]int `json:"by_zoom_unique_range_keys"`
	ranges       map[common.SlippyZoomLevelT]map[string]struct{}
}

// ParseQueryLog reads an NDJSON console export where each line is an
// object whose "value" holds SQL text. Only statements assembling vector
// tiles (containing ST_AsMVT) with a zoom and both tile-column ranges
// are counted. Anything else is skipped.
func ParseQueryLog(r io.Reader) (*QueryLog, error) {
	out := &QueryLog{
		ByZoom:       map[common.SlippyZoomLevelT]int{},
		UniqueRanges: map[common.SlippyZoomLevelT]int{},
		ranges:       map[common.SlippyZoomLevelT]map[string]struct{}{},
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") || !gjson.Valid(line) {
			continue
		}
		value := gjson.Get(line, "value")
		if value.Type != gjson.String {
			continue
		}
		r, ok := parseMVTQuery(value.Str)
		if !ok {
			continue
		}
		out.Total++
		out.ByZoom[r.Z]++
		seen, ok := out.ranges[r.Z]
		if !ok {
			seen = map[string]struct{}{}
			out.ranges[r.Z] = seen
		}
		seen[r.String()] = struct{}{}
		out.UniqueRanges[r.Z] = len(seen)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan query log: %w", err)
	}
	return out, nil
}

// parseMVTQuery extracts the tile range of a vector tile statement.
// The range is returned as written, without clamping.
func parseMVTQuery(sql string) (tile.Range, bool) {
	if !strings.Contains(sql, "ST_AsMVT") {
		return tile.Range{}, false
	}
	zm := sqlZoomRe.FindStringSubmatch(sql)
	xm := sqlXRe.FindStringSubmatch(sql)
	ym := sqlYRe.FindStringSubmatch(sql)
	if zm == nil || xm == nil || ym == nil {
		return tile.Range{}, false
	}
	var n [5]int
	for i, s := range []string{zm[1], xm[1], xm[2], ym[1], ym[2]} {
		v, err := strconv.Atoi(s)
		if err != nil {
			return tile.Range{}, false
		}
		n[i] = v
	}
	return tile.Range{
		Z:    common.SlippyZoomLevelT(n[0]),
		MinX: n[1], MaxX: n[2],
		MinY: n[3], MaxY: n[4],
	}, true
}

// DetailUniqueRanges sums unique range keys over the zooms in [lo, hi].
func (q *QueryLog) DetailUniqueRanges(lo, hi common.SlippyZoomLevelT) int {
	var n int
	for z, c := range q.UniqueRanges {
		if z >= lo && z <= hi {
			n += c
		}
	}
	return n
}
