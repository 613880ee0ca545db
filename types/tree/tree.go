// Package tree defines the point records (tree locations) and the
// per-species enrichment rows they are joined with.
package tree

import (
	"strings"
)

// Record is one raw input row. It is read-only once decoded.
// Pointer fields are nullable in the source data.
type Record struct {
	ID         string   `json:"tree_id"`
	CommonName string   `json:"common_name,omitempty"`
	SiteInfo   string   `json:"site_info,omitempty"`
	PlantDate  string   `json:"plant_date,omitempty"`
	Species    string   `json:"species,omitempty"`
	Longitude  *float64 `json:"longitude"`
	Latitude   *float64 `json:"latitude"`

	// Magnitude is the trunk diameter at breast height.
	Magnitude *float64 `json:"diameter_at_breast_height"`
}

// HasCoordinates returns true if both longitude and latitude are present.
func (r Record) HasCoordinates() bool {
	return r.Longitude != nil && r.Latitude != nil
}

// MagnitudeOr returns the magnitude, or def if it is missing.
func (r Record) MagnitudeOr(def float64) float64 {
	if r.Magnitude == nil {
		return def
	}
	return *r.Magnitude
}

// Category is the fixed set of tree shapes the map renders icons for.
type Category string

const (
	CategoryPalm       Category = "palm"
	CategoryBroadleaf  Category = "broadleaf"
	CategorySpreading  Category = "spreading"
	CategoryConiferous Category = "coniferous"
	CategoryColumnar   Category = "columnar"
	CategoryOrnamental Category = "ornamental"

	// CategoryDefault is the fallback for missing or unrecognized labels.
	CategoryDefault Category = "default"
)

// NormalizeCategory maps a free-form label onto the enum,
// case and whitespace insensitive.
func NormalizeCategory(label string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(label)))
	switch c {
	case CategoryPalm, CategoryBroadleaf, CategorySpreading, CategoryConiferous,
		CategoryColumnar, CategoryOrnamental:
		return c
	}
	return CategoryDefault
}

func (c Category) String() string {
	return string(c)
}

// Species is one enrichment row, produced upstream per distinct species.
type Species struct {
	Species        string   `json:"species"`
	TreeCategory   string   `json:"tree_category"`
	NativeStatus   string   `json:"native_status,omitempty"`
	IsEvergreen    *bool    `json:"is_evergreen,omitempty"`
	MatureHeightFt *float64 `json:"mature_height_ft,omitempty"`
	BloomSeason    string   `json:"bloom_season,omitempty"`
	WildlifeValue  string   `json:"wildlife_value,omitempty"`
	FireRisk       string   `json:"fire_risk,omitempty"`
}

func (s Species) Category() Category {
	return NormalizeCategory(s.TreeCategory)
}

// JoinKey is the normalized species name records and enrichment rows are matched on.
func JoinKey(species string) string {
	return strings.ToLower(strings.TrimSpace(species))
}

// SpeciesIndex looks up enrichment rows by JoinKey.
type SpeciesIndex struct {
	m map[string]Species

	// Duplicates counts enrichment rows dropped because their join key
	// was already indexed. The first row wins.
	Duplicates int
}

func NewSpeciesIndex(rows []Species) *SpeciesIndex {
	idx := &SpeciesIndex{m: make(map[string]Species, len(rows))}
	for _, row := range rows {
		k := JoinKey(row.Species)
		if k == "" {
			continue
		}
		if _, ok := idx.m[k]; ok {
			idx.Duplicates++
			continue
		}
		idx.m[k] = row
	}
	return idx
}

// Lookup returns the enrichment row for a species, if any.
// A nil index has no rows.
func (idx *SpeciesIndex) Lookup(species string) (Species, bool) {
	if idx == nil {
		return Species{}, false
	}
	s, ok := idx.m[JoinKey(species)]
	return s, ok
}

// CategoryFor returns the normalized category for a record's species,
// falling back to CategoryDefault when there is no match.
func (idx *SpeciesIndex) CategoryFor(species string) Category {
	s, ok := idx.Lookup(species)
	if !ok {
		return CategoryDefault
	}
	return s.Category()
}

func (idx *SpeciesIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.m)
}
