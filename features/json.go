package features

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/types/tile"
	"github.com/rotblauer/treetiles/types/tree"
	"github.com/tidwall/gjson"
)

// MarshalJSON writes the row as one flat object with a column per attribute,
// including xtile_zNN and ytile_zNN for every tracked zoom.
func (r Row) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"tree_id":       r.ID,
		"longitude":     r.Lon,
		"latitude":      r.Lat,
		"x_3857":        r.X3857,
		"y_3857":        r.Y3857,
		"quadkey":       r.Quadkey,
		"species":       r.Species,
		"common_name":   r.CommonName,
		"site_info":     r.SiteInfo,
		"plant_date":    r.PlantDate,
		"tree_category": r.Category,
		"dbh":           r.Magnitude,
		"dbh_raw":       r.RawMagnitude,
	}
	if r.NativeStatus != "" {
		m["native_status"] = r.NativeStatus
	}
	if r.IsEvergreen != nil {
		m["is_evergreen"] = *r.IsEvergreen
	}
	if r.MatureHeightFt != nil {
		m["mature_height_ft"] = *r.MatureHeightFt
	}
	if r.BloomSeason != "" {
		m["bloom_season"] = r.BloomSeason
	}
	if r.WildlifeValue != "" {
		m["wildlife_value"] = r.WildlifeValue
	}
	if r.FireRisk != "" {
		m["fire_risk"] = r.FireRisk
	}
	for _, c := range r.Tiles {
		m[fmt.Sprintf("xtile_z%d", c.Z)] = c.X
		m[fmt.Sprintf("ytile_z%d", c.Z)] = c.Y
	}
	return json.Marshal(m)
}

func (r *Row) UnmarshalJSON(data []byte) error {
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return tree.ErrNotObject
	}
	*r = Row{
		ID:            parsed.Get("tree_id").String(),
		Lon:           parsed.Get("longitude").Float(),
		Lat:           parsed.Get("latitude").Float(),
		X3857:         parsed.Get("x_3857").Float(),
		Y3857:         parsed.Get("y_3857").Float(),
		Quadkey:       parsed.Get("quadkey").Uint(),
		Species:       parsed.Get("species").String(),
		CommonName:    parsed.Get("common_name").String(),
		SiteInfo:      parsed.Get("site_info").String(),
		PlantDate:     parsed.Get("plant_date").String(),
		Category:      tree.NormalizeCategory(parsed.Get("tree_category").String()),
		NativeStatus:  parsed.Get("native_status").String(),
		BloomSeason:   parsed.Get("bloom_season").String(),
		WildlifeValue: parsed.Get("wildlife_value").String(),
		FireRisk:      parsed.Get("fire_risk").String(),
		Magnitude:     parsed.Get("dbh").Float(),
	}
	if v := parsed.Get("dbh_raw"); v.Type == gjson.Number {
		f := v.Num
		r.RawMagnitude = &f
	}
	if v := parsed.Get("is_evergreen"); v.IsBool() {
		b := v.Bool()
		r.IsEvergreen = &b
	}
	if v := parsed.Get("mature_height_ft"); v.Type == gjson.Number {
		f := v.Num
		r.MatureHeightFt = &f
	}

	ys := map[common.SlippyZoomLevelT]int{}
	xs := map[common.SlippyZoomLevelT]int{}
	parsed.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		var into map[common.SlippyZoomLevelT]int
		switch {
		case strings.HasPrefix(k, "xtile_z"):
			into = xs
		case strings.HasPrefix(k, "ytile_z"):
			into = ys
		default:
			return true
		}
		z, err := strconv.Atoi(k[len("xtile_z"):])
		if err != nil {
			return true
		}
		into[common.SlippyZoomLevelT(z)] = int(value.Int())
		return true
	})
	for z, x := range xs {
		y, ok := ys[z]
		if !ok {
			return fmt.Errorf("row %s: xtile_z%d without ytile_z%d", r.ID, z, z)
		}
		r.Tiles = append(r.Tiles, tile.Coord{Z: z, X: x, Y: y})
	}
	slices.SortFunc(r.Tiles, func(a, b tile.Coord) int { return cmp.Compare(a.Z, b.Z) })
	return nil
}
