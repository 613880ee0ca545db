package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotblauer/treetiles/testing/testdata"
	"github.com/spf13/viper"
)

func TestBindFlags(t *testing.T) {
	defer viper.Reset()
	viper.Set("fps", 30)
	viper.Set("runs", "2")

	bindFlags(rootCmd)
	if optSimFPS != 30 {
		t.Errorf("fps %d", optSimFPS)
	}
	if optBenchRuns != 2 {
		t.Errorf("runs %d", optBenchRuns)
	}

	// Flags given on the command line win.
	if err := simulateCmd.Flags().Set("fps", "24"); err != nil {
		t.Fatal(err)
	}
	bindFlags(rootCmd)
	if optSimFPS != 24 {
		t.Errorf("fps %d after explicit flag", optSimFPS)
	}
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	trees := filepath.Join(dir, "raw.json.gz")
	if err := testdata.WriteJSON(trees, testdata.ScenarioRecords(), true); err != nil {
		t.Fatal(err)
	}
	species := filepath.Join(dir, "species.json")
	if err := os.WriteFile(species, []byte(testdata.Species_Sample), 0600); err != nil {
		t.Fatal(err)
	}

	records, rows, err := readInputs(trees, species)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || len(rows) != 3 {
		t.Errorf("records %d, species %d", len(records), len(rows))
	}

	records, rows, err = readInputs(trees, filepath.Join(dir, "absent.json"))
	if err != nil || len(records) != 3 || rows != nil {
		t.Errorf("missing species: %d %v %v", len(records), rows, err)
	}

	if _, _, err := readInputs(filepath.Join(dir, "absent.json"), ""); err == nil {
		t.Error("expected error for missing trees")
	}
}
