package params

import (
	"time"

	"github.com/paulmach/orb"
)

// IntroConfig describes the scripted intro fly-in camera animation.
type IntroConfig struct {
	Center orb.Point

	// Checkpoints are the zooms at stage boundaries, first to last.
	// Each consecutive pair is one stage.
	Checkpoints []float64
	Duration    time.Duration

	// RotationDegrees is carried for parity with the map client;
	// bearing does not change the (north-up) tile range math.
	RotationDegrees float64

	// SpiralRadiusDegrees is the initial radius of the camera's circle
	// around Center, shrinking linearly to zero over the animation.
	SpiralRadiusDegrees float64
}

func DefaultIntroConfig() *IntroConfig {
	return &IntroConfig{
		Center:              orb.Point{-122.4194, 37.7749},
		Checkpoints:         []float64{18.5, 17.6, 16.8, 16.0, 15.2, 14.3, 13.5},
		Duration:            10 * time.Second,
		RotationDegrees:     240,
		SpiralRadiusDegrees: 0.0012,
	}
}

// ViewportConfig is a pixel viewport and animation frame rate.
type ViewportConfig struct {
	WidthPx  int
	HeightPx int
	FPS      int
}

func DefaultViewportConfig() *ViewportConfig {
	return &ViewportConfig{
		WidthPx:  1512,
		HeightPx: 982,
		FPS:      60,
	}
}
