// Package plot draws a planned trajectory and the pose trace that followed
// it, for eyeballing tuning runs.
package plot

import (
	"fmt"
	"math"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

const (
	Size   = 800
	margin = 40

	planSamples = 200
	// Heading ticks on the trace every this many poses.
	headingEvery = 10
)

type bounds struct {
	minX, minY, maxX, maxY float64
}

func (b *bounds) add(p geometry.Pose2D) {
	b.minX = math.Min(b.minX, p.X)
	b.minY = math.Min(b.minY, p.Y)
	b.maxX = math.Max(b.maxX, p.X)
	b.maxY = math.Max(b.maxY, p.Y)
}

// Render writes a PNG of the planned path (blue) and the actual trace
// (orange) to path. Either may be empty.
func Render(path string, traj *trajectory.Trajectory, trace []geometry.Pose2D) error {
	dc := Draw(traj, trace)
	if err := dc.SavePNG(path); err != nil {
		return errors.Wrapf(err, "writing plot %s", path)
	}
	return nil
}

// Draw renders onto a new Size x Size context.
func Draw(traj *trajectory.Trajectory, trace []geometry.Pose2D) *gg.Context {
	var plan []geometry.Pose2D
	if traj != nil {
		for i := 0; i <= planSamples; i++ {
			plan = append(plan, traj.PoseAt(traj.Length()*float64(i)/planSamples))
		}
	}

	b := bounds{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, p := range plan {
		b.add(p)
	}
	for _, p := range trace {
		b.add(p)
	}
	if math.IsInf(b.minX, 1) {
		b = bounds{-1, -1, 1, 1}
	}
	span := math.Max(math.Max(b.maxX-b.minX, b.maxY-b.minY), 1)
	scale := (Size - 2*margin) / span
	cx, cy := (b.minX+b.maxX)/2, (b.minY+b.maxY)/2
	// Field Y is up, image Y is down.
	toImage := func(p geometry.Pose2D) (float64, float64) {
		return Size/2 + (p.X-cx)*scale, Size/2 - (p.Y-cy)*scale
	}

	dc := gg.NewContext(Size, Size)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	drawGrid(dc, b, scale, toImage)

	if len(plan) > 0 {
		dc.SetRGBA(0.1, 0.3, 0.9, 0.8)
		dc.SetLineWidth(3)
		polyline(dc, plan, toImage)
		for _, w := range traj.Waypoints() {
			x, y := toImage(w)
			dc.DrawCircle(x, y, 5)
			dc.Fill()
		}
	}

	if len(trace) > 0 {
		dc.SetRGBA(1, 0.5, 0, 0.9)
		dc.SetLineWidth(2)
		polyline(dc, trace, toImage)
		for i := 0; i < len(trace); i += headingEvery {
			x, y := toImage(trace[i])
			sin, cos := math.Sincos(trace[i].Heading)
			dc.DrawLine(x, y, x+12*cos, y-12*sin)
			dc.Stroke()
		}
		last := trace[len(trace)-1]
		x, y := toImage(last)
		dc.SetRGB(0, 0, 0)
		dc.DrawString(fmt.Sprintf("end %v", last), x+8, y-8)
	}
	return dc
}

func polyline(dc *gg.Context, poses []geometry.Pose2D, toImage func(geometry.Pose2D) (float64, float64)) {
	for i, p := range poses {
		x, y := toImage(p)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
	dc.Stroke()
}

func drawGrid(dc *gg.Context, b bounds, scale float64, toImage func(geometry.Pose2D) (float64, float64)) {
	// Aim for roughly ten grid lines across the plot.
	step := math.Pow(10, math.Floor(math.Log10((Size/scale)/10)))
	dc.SetRGBA(0, 0, 0, 0.1)
	dc.SetLineWidth(1)
	for v := math.Floor((b.minX-Size/scale)/step) * step; v <= b.maxX+Size/scale; v += step {
		x, _ := toImage(geometry.Pose2D{X: v})
		dc.DrawLine(x, 0, x, Size)
		dc.Stroke()
	}
	for v := math.Floor((b.minY-Size/scale)/step) * step; v <= b.maxY+Size/scale; v += step {
		_, y := toImage(geometry.Pose2D{Y: v})
		dc.DrawLine(0, y, Size, y)
		dc.Stroke()
	}
	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawString(fmt.Sprintf("grid %g", step), 8, Size-8)
}
