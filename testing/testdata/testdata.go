package testdata

import (
	"compress/gzip"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/types/tree"
)

// basepath is the root directory of this package.
var basepath string

func init() {
	_, currentFile, _, _ := runtime.Caller(0)
	basepath = filepath.Dir(currentFile)
}

// Path returns the absolute path the given relative file or directory path,
// relative to this testdata/ directory in the user's GOPATH.
// If rel is already absolute, it is returned unmodified.
// Taken from https://github.com/grpc/grpc-go/blob/master/testdata/testdata.go.
func Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}

	return filepath.Join(basepath, rel)
}

func ptr(v float64) *float64 { return &v }

// ScenarioRecords are three trees in San Francisco. The first two share
// a tile at z14 but not at z15; the third is far away.
func ScenarioRecords() []tree.Record {
	return []tree.Record{
		{ID: "1", Species: "Quercus agrifolia", Longitude: ptr(-122.44), Latitude: ptr(37.76), Magnitude: ptr(3)},
		{ID: "2", Species: "Platanus x hispanica", Longitude: ptr(-122.45), Latitude: ptr(37.77), Magnitude: ptr(5)},
		{ID: "3", Species: "Unknown", Longitude: ptr(-122.90), Latitude: ptr(38.00)},
	}
}

// Species_Sample matches ScenarioRecords species with mixed casing and spacing.
var Species_Sample = `[
  {"species": " quercus AGRIFOLIA ", "tree_category": "Spreading", "native_status": "native", "is_evergreen": true, "mature_height_ft": 50},
  {"species": "Platanus x hispanica", "tree_category": "broadleaf", "is_evergreen": false, "fire_risk": "low"},
  {"species": "Phoenix canariensis", "tree_category": "palm"}
]`

// Trees_Mixed has one valid row, one missing coordinates, one out of range,
// and one with numeric strings.
var Trees_Mixed = `{"tree_id": 10, "species": "Phoenix canariensis", "longitude": -122.41, "latitude": 37.78, "diameter_at_breast_height": 12}
{"tree_id": 11, "species": "Phoenix canariensis", "longitude": null, "latitude": 37.78}
{"tree_id": 12, "species": "Phoenix canariensis", "longitude": -222.41, "latitude": 37.78}
{"tree_id": "13", "species": "Ginkgo biloba", "longitude": "-122.42", "latitude": "37.79", "diameter_at_breast_height": "n/a"}
`

// RandomRecords returns n valid records scattered uniformly within
// spread degrees of center. Roughly one in five has no magnitude.
func RandomRecords(r *rand.Rand, n int, center orb.Point, spread float64) []tree.Record {
	species := []string{"Quercus agrifolia", "Platanus x hispanica", "Phoenix canariensis", "Ginkgo biloba", ""}
	out := make([]tree.Record, n)
	for i := range out {
		rec := tree.Record{
			ID:        strconv.Itoa(i + 1),
			Species:   species[r.Intn(len(species))],
			Longitude: ptr(center.Lon() + (r.Float64()*2-1)*spread),
			Latitude:  ptr(center.Lat() + (r.Float64()*2-1)*spread),
		}
		if r.Intn(5) != 0 {
			rec.Magnitude = ptr(float64(1 + r.Intn(40)))
		}
		out[i] = rec
	}
	return out
}

// WriteJSON writes v as a JSON document to path, gzipped if gz is true.
func WriteJSON(path string, v any, gz bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if !gz {
		return json.NewEncoder(f).Encode(v)
	}
	w := gzip.NewWriter(f)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return err
	}
	return w.Close()
}
