package tree

import (
	"strings"
	"testing"
)

func TestNormalizeCategory(t *testing.T) {
	cases := map[string]Category{
		"palm":        CategoryPalm,
		" Broadleaf ": CategoryBroadleaf,
		"CONIFEROUS":  CategoryConiferous,
		"columnar":    CategoryColumnar,
		"ornamental":  CategoryOrnamental,
		"spreading":   CategorySpreading,
		"":            CategoryDefault,
		"shrubbery":   CategoryDefault,
		"default":     CategoryDefault,
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSpeciesIndex(t *testing.T) {
	idx := NewSpeciesIndex([]Species{
		{Species: " Quercus Agrifolia", TreeCategory: "spreading"},
		{Species: "quercus agrifolia", TreeCategory: "palm"},
		{Species: "", TreeCategory: "palm"},
	})
	if idx.Len() != 1 || idx.Duplicates != 1 {
		t.Fatalf("len %d, duplicates %d", idx.Len(), idx.Duplicates)
	}
	if got := idx.CategoryFor("QUERCUS AGRIFOLIA  "); got != CategorySpreading {
		t.Errorf("got %q", got)
	}
	if got := idx.CategoryFor("nope"); got != CategoryDefault {
		t.Errorf("got %q", got)
	}
	var nilIdx *SpeciesIndex
	if _, ok := nilIdx.Lookup("x"); ok {
		t.Error("nil index matched")
	}
}

func TestReadRecords(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"array", ` [{"tree_id": 1, "longitude": -122.4, "latitude": 37.7, "diameter_at_breast_height": 4},
			{"tree_id": 2, "longitude": null, "latitude": "37.8"}, 5]`},
		{"ndjson", `{"tree_id": 1, "longitude": -122.4, "latitude": 37.7, "diameter_at_breast_height": 4}
{"tree_id": 2, "longitude": null, "latitude": "37.8"}
5
`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			recs, skipped, err := ReadRecords(strings.NewReader(c.input))
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != 2 || skipped != 1 {
				t.Fatalf("got %d records, %d skipped", len(recs), skipped)
			}
			if recs[0].ID != "1" || !recs[0].HasCoordinates() || recs[0].MagnitudeOr(3) != 4 {
				t.Errorf("bad first record %+v", recs[0])
			}
			if recs[1].Longitude != nil || recs[1].Latitude == nil || *recs[1].Latitude != 37.8 {
				t.Errorf("bad second record %+v", recs[1])
			}
			if recs[1].MagnitudeOr(3) != 3 {
				t.Errorf("default magnitude not applied")
			}
		})
	}
}

func TestReadRecords_Empty(t *testing.T) {
	recs, _, err := ReadRecords(strings.NewReader("  \n"))
	if err != nil || len(recs) != 0 {
		t.Errorf("got %v, %v", recs, err)
	}
}

func TestReadSpecies(t *testing.T) {
	rows, _, err := ReadSpecies(strings.NewReader(`[{"species": "a", "tree_category": "palm", "is_evergreen": true, "mature_height_ft": "40"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	s := rows[0]
	if s.Category() != CategoryPalm || s.IsEvergreen == nil || !*s.IsEvergreen ||
		s.MatureHeightFt == nil || *s.MatureHeightFt != 40 {
		t.Errorf("bad row %+v", s)
	}
}

func TestReadRecords_NonFiniteMagnitude(t *testing.T) {
	input := `{"tree_id": 1, "longitude": -122.4, "latitude": 37.7, "diameter_at_breast_height": "NaN"}
{"tree_id": 2, "longitude": -122.4, "latitude": 37.7, "diameter_at_breast_height": "Inf"}
{"tree_id": 3, "longitude": "-infinity", "latitude": 37.7, "diameter_at_breast_height": " 6 "}
`
	recs, _, err := ReadRecords(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Magnitude != nil || recs[1].Magnitude != nil {
		t.Errorf("non-finite magnitudes kept: %+v, %+v", recs[0], recs[1])
	}
	if recs[2].Longitude != nil || recs[2].MagnitudeOr(3) != 6 {
		t.Errorf("bad third record %+v", recs[2])
	}
}
