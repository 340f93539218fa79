// Package geometry holds the planar value types shared by the localizer,
// trajectory and controller: poses, velocities and twists, all in radians.
package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"

	"github.com/tigerbot-team/cardinal/pkg/angle"
)

// Pose2D is a position and heading in field coordinates. Heading is kept in (-π, π].
type Pose2D struct {
	X       float64 `json:"x" yaml:"x"`
	Y       float64 `json:"y" yaml:"y"`
	Heading float64 `json:"heading" yaml:"heading"`
}

// NewPose returns a pose with its heading normalised.
func NewPose(x, y, heading float64) Pose2D {
	return Pose2D{X: x, Y: y, Heading: angle.Normalize(heading)}
}

func (p Pose2D) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.1f°)", p.X, p.Y, angle.FromFloat(p.Heading).Degrees())
}

// Position returns the translation part of the pose.
func (p Pose2D) Position() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}

// ErrorTo returns the offset from p to target expressed in p's robot frame:
// X ahead, Y to the left, Heading the shortest rotation to the target heading.
func (p Pose2D) ErrorTo(target Pose2D) Pose2D {
	d := target.Position().Sub(p.Position())
	local := rotate(d, -p.Heading)
	return Pose2D{X: local.X, Y: local.Y, Heading: angle.Diff(target.Heading, p.Heading)}
}

// Exp applies a robot-relative twist to the pose, assuming the robot moved
// along a constant-curvature arc during the interval.
func (p Pose2D) Exp(t Twist2D) Pose2D {
	sin, cos := math.Sincos(t.DTheta)
	var s, c float64
	if math.Abs(t.DTheta) < 1e-9 {
		s = 1 - t.DTheta*t.DTheta/6
		c = t.DTheta / 2
	} else {
		s = sin / t.DTheta
		c = (1 - cos) / t.DTheta
	}
	local := r2.Point{
		X: t.DX*s - t.DY*c,
		Y: t.DX*c + t.DY*s,
	}
	d := rotate(local, p.Heading)
	return NewPose(p.X+d.X, p.Y+d.Y, p.Heading+t.DTheta)
}

// Twist2D is a robot-relative displacement over one interval.
type Twist2D struct {
	DX     float64
	DY     float64
	DTheta float64
}

// Velocity2D is a linear and angular velocity. Whether it is field- or
// robot-relative is up to the caller; Rotate converts between the two.
type Velocity2D struct {
	VX    float64 `json:"vx" yaml:"vx"`
	VY    float64 `json:"vy" yaml:"vy"`
	Omega float64 `json:"omega" yaml:"omega"`
}

// Rotate rotates the linear part by theta. Field to robot is Rotate(-heading).
func (v Velocity2D) Rotate(theta float64) Velocity2D {
	r := rotate(r2.Point{X: v.VX, Y: v.VY}, theta)
	return Velocity2D{VX: r.X, VY: r.Y, Omega: v.Omega}
}

func (v Velocity2D) Add(o Velocity2D) Velocity2D {
	return Velocity2D{VX: v.VX + o.VX, VY: v.VY + o.VY, Omega: v.Omega + o.Omega}
}

func (v Velocity2D) Sub(o Velocity2D) Velocity2D {
	return Velocity2D{VX: v.VX - o.VX, VY: v.VY - o.VY, Omega: v.Omega - o.Omega}
}

func (v Velocity2D) Scale(k float64) Velocity2D {
	return Velocity2D{VX: v.VX * k, VY: v.VY * k, Omega: v.Omega * k}
}

// Speed is the magnitude of the linear part.
func (v Velocity2D) Speed() float64 {
	return math.Hypot(v.VX, v.VY)
}

// Twist returns the displacement produced by holding v for dt seconds.
func (v Velocity2D) Twist(dt float64) Twist2D {
	return Twist2D{DX: v.VX * dt, DY: v.VY * dt, DTheta: v.Omega * dt}
}

func (v Velocity2D) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f rad/s)", v.VX, v.VY, v.Omega)
}

func rotate(p r2.Point, theta float64) r2.Point {
	sin, cos := math.Sincos(theta)
	return r2.Point{X: p.X*cos - p.Y*sin, Y: p.X*sin + p.Y*cos}
}
