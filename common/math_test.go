package common

import (
	"math"
	"testing"
)

func TestRound(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{0.4, 0}, {0.5, 1}, {1.5, 2}, {2.5, 3}, {18.5, 19}, {16.49, 16},
		{-0.5, -1}, {-2.5, -3}, {-0.4, 0},
	}
	for _, c := range cases {
		if got := Round(c.in); got != c.want {
			t.Errorf("Round(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestRoundHalfEven(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{14.5, 14}, {15.5, 16}, {18.5, 18}, {18.51, 19}, {17.6, 18}, {20.5, 20},
		{-0.5, 0}, {-1.5, -2},
	}
	for _, c := range cases {
		if got := RoundHalfEven(c.in); got != c.want {
			t.Errorf("RoundHalfEven(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(90, -85, 85) != 85 || Clamp(-90, -85, 85) != -85 || Clamp(1, -85, 85) != 1 {
		t.Error("Clamp")
	}
	if ClampInt(-1, 0, 7) != 0 || ClampInt(9, 0, 7) != 7 || ClampInt(3, 0, 7) != 3 {
		t.Error("ClampInt")
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite(1, -2, 0) {
		t.Error("finite values")
	}
	if IsFinite(1, math.NaN()) || IsFinite(math.Inf(-1)) {
		t.Error("non-finite values")
	}
}

func TestZoom(t *testing.T) {
	if SlippyZoomLevel15.TilesPerAxis() != 32768 || SlippyZoomLevel15.MaxTileIndex() != 32767 {
		t.Error("z15 tiles")
	}
	if SlippyZoomLevelT(-1).Valid() || (SlippyZoomLevelMax + 1).Valid() || !SlippyZoomLevel0.Valid() {
		t.Error("Valid")
	}
}
