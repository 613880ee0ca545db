package bench

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
	"github.com/rotblauer/treetiles/testing/testdata"
	"github.com/rotblauer/treetiles/types/tree"
)

func TestRun(t *testing.T) {
	calls := 0
	s, err := Run("count", 2, 3, func() (int, error) {
		calls++
		time.Sleep(time.Millisecond)
		return calls, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 5 {
		t.Errorf("calls %d", calls)
	}
	if s.Runs != 3 || s.Rows != 5 {
		t.Errorf("sample %+v", s)
	}
	if s.Min <= 0 || s.Min > s.Median || s.Min > s.Mean {
		t.Errorf("stats out of order: %+v", s)
	}

	boom := errors.New("boom")
	if _, err := Run("fail", 0, 1, func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
	if _, err := Run("none", 0, 0, nil); !errors.Is(err, ErrNoRuns) {
		t.Errorf("got %v", err)
	}
}

func benchInputs() ([]tree.Record, []tree.Species) {
	r := rand.New(rand.NewSource(7))
	records := testdata.RandomRecords(r, 800, orb.Point{-122.44, 37.76}, 0.02)
	species, _, _ := tree.ReadSpecies(strings.NewReader(testdata.Species_Sample))
	return records, species
}

func quickConfig() *params.BenchConfig {
	cfg := params.DefaultBenchConfig()
	cfg.WarmupRuns = 0
	cfg.Runs = 1
	cfg.MVTRuns = 1
	return cfg
}

func TestSuite(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	records, species := benchInputs()
	s, err := NewSuite(quickConfig(), nil, records, species)
	if err != nil {
		t.Fatal(err)
	}
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Records != 800 || report.Indexed != 800 {
		t.Errorf("report %d/%d", report.Records, report.Indexed)
	}
	if !report.MVT.Available {
		t.Fatalf("mvt unavailable: %s", report.MVT.Reason)
	}

	rows := func(name string) int {
		t.Helper()
		sample, ok := report.Sample(name)
		if !ok {
			t.Fatalf("missing sample %s", name)
		}
		if sample.Skipped {
			t.Fatalf("%s skipped", name)
		}
		return sample.Rows
	}

	// Every strategy over the same data must find the same groups.
	global := rows(BaselineOnTheFly)
	if global == 0 {
		t.Fatal("no groups")
	}
	for _, name := range []string{PrecomputedGlobal, SQLPrecomputedGlobal, MVTGlobal} {
		if got := rows(name); got != global {
			t.Errorf("%s: %d groups, want %d", name, got, global)
		}
	}
	if a, b := rows(PrecomputedNeighborhood), rows(SQLNeighborhood); a != b {
		t.Errorf("neighborhood: %d vs sql %d", a, b)
	}
	lookup := rows(MaterializedLookup)
	for _, name := range []string{SQLMaterializedLookup, MVTNeighborhood, MVTMaterializedLookup} {
		if got := rows(name); got != lookup {
			t.Errorf("%s: %d, want %d", name, got, lookup)
		}
	}
	for _, name := range []string{BuildFeatures, BuildTileStats, BuildSQL, BuildSQLStats, BuildMVTTiles} {
		if _, ok := report.Builds[name]; !ok {
			t.Errorf("missing build %s", name)
		}
	}

	var buf bytes.Buffer
	if err := WriteReport(&buf, report); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "rows=800") || !strings.Contains(buf.String(), PrecomputedGlobal+"_ms mean=") {
		t.Errorf("report:\n%s", buf.String())
	}
}

func TestSuite_MVTDisabled(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError)()
	records, species := benchInputs()
	cfg := quickConfig()
	cfg.DisableMVT = true
	s, err := NewSuite(cfg, nil, records[:50], species)
	if err != nil {
		t.Fatal(err)
	}
	report, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{MVTGlobal, MVTNeighborhood, MVTMaterializedLookup} {
		sample, ok := report.Sample(name)
		if !ok || !sample.Skipped || sample.Reason == "" {
			t.Errorf("%s: %+v", name, sample)
		}
	}
	var buf bytes.Buffer
	if err := WriteReport(&buf, report); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), MVTGlobal+"_ms skipped") {
		t.Errorf("report:\n%s", buf.String())
	}
}

func TestNewSuite_UntrackedZoom(t *testing.T) {
	cfg := quickConfig()
	cfg.NeighborhoodZoom = 9
	if _, err := NewSuite(cfg, nil, nil, nil); !errors.Is(err, params.ErrInvalidTileConfig) {
		t.Errorf("got %v", err)
	}
}

func TestMS(t *testing.T) {
	if got := ms(1549 * time.Microsecond); got != "1.5" {
		t.Errorf("got %s", got)
	}
	if got := ms(0); got != "0.0" {
		t.Errorf("got %s", got)
	}
}
