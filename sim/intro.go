/*
Package sim replays a scripted camera animation through the coalescer
to estimate how many detail queries each coalescing policy issues,
and compares that against query logs captured from a real client.
*/
package sim

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotblauer/treetiles/common"
	"github.com/rotblauer/treetiles/params"
)

// Frame is one camera state of the intro animation.
type Frame struct {
	Zoom   float64
	Center orb.Point
	Stage  int

	// StageEnd marks the frame placed exactly on a stage's closing checkpoint.
	StageEnd bool
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

// spiralCenter is the camera center at global progress t in [0, 1].
// The camera circles the intro center once while the radius shrinks to zero.
// Longitude offsets are stretched by 1/cos(lat), floored at 0.2.
func spiralCenter(intro *params.IntroConfig, t float64) orb.Point {
	angle := t * 2 * math.Pi
	radius := intro.SpiralRadiusDegrees * (1 - t)
	stretch := math.Max(0.2, math.Cos(intro.Center.Lat()*math.Pi/180))
	return orb.Point{
		intro.Center.Lon() + math.Cos(angle)*radius/stretch,
		intro.Center.Lat() + math.Sin(angle)*radius,
	}
}

// IntroFrames samples the intro animation at fps frames per second.
// Each pair of consecutive checkpoints is one stage of equal duration,
// eased with smoothstep. Every stage ends with an extra frame on its
// closing checkpoint.
func IntroFrames(intro *params.IntroConfig, fps int) []Frame {
	if intro == nil {
		intro = params.DefaultIntroConfig()
	}
	segments := len(intro.Checkpoints) - 1
	if segments < 1 || fps <= 0 {
		return nil
	}
	segment := time.Duration(common.RoundHalfEven(float64(intro.Duration.Milliseconds())/float64(segments))) * time.Millisecond
	perStage := max(1, common.RoundHalfEven(segment.Seconds()*float64(fps)))

	frames := make([]Frame, 0, segments*(perStage+1))
	for i := 0; i < segments; i++ {
		from, to := intro.Checkpoints[i], intro.Checkpoints[i+1]
		fromT := float64(i) / float64(segments)
		toT := float64(i+1) / float64(segments)
		for f := 0; f < perStage; f++ {
			eased := smoothstep(float64(f) / float64(perStage))
			t := fromT + (toT-fromT)*eased
			frames = append(frames, Frame{
				Zoom:   from + (to-from)*eased,
				Center: spiralCenter(intro, t),
				Stage:  i,
			})
		}
		frames = append(frames, Frame{
			Zoom:     to,
			Center:   spiralCenter(intro, toT),
			Stage:    i,
			StageEnd: true,
		})
	}
	return frames
}
