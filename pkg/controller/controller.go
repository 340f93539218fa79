// Package controller computes robot-relative velocity commands that track a
// trajectory reference: feed-forward from the reference velocity plus PID
// feedback on the pose error.
package controller

import (
	"math"

	"github.com/tigerbot-team/cardinal/pkg/angle"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
)

type Gains struct {
	Kp float64 `mapstructure:"kp" yaml:"kp"`
	Ki float64 `mapstructure:"ki" yaml:"ki"`
	Kd float64 `mapstructure:"kd" yaml:"kd"`
}

// Config holds gains and limits. A zero limit disables that limit.
type Config struct {
	Translation Gains `mapstructure:"translation" yaml:"translation"`
	Heading     Gains `mapstructure:"heading" yaml:"heading"`

	// Clamp on each component of the error integral.
	MaxIntegral float64 `mapstructure:"maxIntegral" yaml:"maxIntegral"`

	MaxVelocity            float64 `mapstructure:"maxVelocity" yaml:"maxVelocity"`
	MaxAcceleration        float64 `mapstructure:"maxAcceleration" yaml:"maxAcceleration"`
	MaxAngularVelocity     float64 `mapstructure:"maxAngularVelocity" yaml:"maxAngularVelocity"`
	MaxAngularAcceleration float64 `mapstructure:"maxAngularAcceleration" yaml:"maxAngularAcceleration"`

	PositionTolerance float64 `mapstructure:"positionTolerance" yaml:"positionTolerance"`
	HeadingTolerance  float64 `mapstructure:"headingTolerance" yaml:"headingTolerance"`
}

type Command struct {
	// Robot-relative.
	Velocity  geometry.Velocity2D
	Saturated bool
}

// State is the controller memory carried between ticks.
type State struct {
	Integral    geometry.Pose2D
	LastCommand Command
}

type Controller struct {
	cfg Config
	State
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Reset clears the integral and the previous command, as when a new
// trajectory starts.
func (c *Controller) Reset() {
	c.State = State{}
}

// ComputeCommand returns the velocity command for one tick. currentVelocity is
// robot-relative, targetVelocity field-relative. A non-positive dt changes
// nothing and returns the previous command.
func (c *Controller) ComputeCommand(
	current geometry.Pose2D,
	currentVelocity geometry.Velocity2D,
	target geometry.Pose2D,
	targetVelocity geometry.Velocity2D,
	dt float64,
) Command {
	if !(dt > 0) {
		return c.LastCommand
	}

	// Feed-forward, in the robot frame.
	ff := targetVelocity.Rotate(-current.Heading)

	// Calculate the error/derivative/integral.
	e := current.ErrorTo(target)
	c.Integral.X = clamp(c.Integral.X+e.X*dt, c.cfg.MaxIntegral)
	c.Integral.Y = clamp(c.Integral.Y+e.Y*dt, c.cfg.MaxIntegral)
	c.Integral.Heading = clamp(c.Integral.Heading+e.Heading*dt, c.cfg.MaxIntegral)
	de := ff.Sub(currentVelocity)

	tg, hg := c.cfg.Translation, c.cfg.Heading
	v := geometry.Velocity2D{
		VX:    ff.VX + tg.Kp*e.X + tg.Ki*c.Integral.X + tg.Kd*de.VX,
		VY:    ff.VY + tg.Kp*e.Y + tg.Ki*c.Integral.Y + tg.Kd*de.VY,
		Omega: ff.Omega + hg.Kp*e.Heading + hg.Ki*c.Integral.Heading + hg.Kd*de.Omega,
	}

	cmd := c.saturate(v, dt)
	c.LastCommand = cmd
	return cmd
}

func (c *Controller) saturate(v geometry.Velocity2D, dt float64) Command {
	var saturated bool
	last := c.LastCommand.Velocity

	if limit := c.cfg.MaxVelocity; limit > 0 && v.Speed() > limit {
		omega := v.Omega
		v = v.Scale(limit / v.Speed())
		v.Omega = omega
		saturated = true
	}
	if limit := c.cfg.MaxAngularVelocity; limit > 0 && math.Abs(v.Omega) > limit {
		v.Omega = math.Copysign(limit, v.Omega)
		saturated = true
	}

	// Slew limit relative to the last command.
	if limit := c.cfg.MaxAcceleration * dt; limit > 0 {
		d := v.Sub(last)
		d.Omega = 0
		if d.Speed() > limit {
			d = d.Scale(limit / d.Speed())
			v.VX, v.VY = last.VX+d.VX, last.VY+d.VY
			saturated = true
		}
	}
	if limit := c.cfg.MaxAngularAcceleration * dt; limit > 0 {
		if d := v.Omega - last.Omega; math.Abs(d) > limit {
			v.Omega = last.Omega + math.Copysign(limit, d)
			saturated = true
		}
	}

	return Command{Velocity: v, Saturated: saturated}
}

// IsComplete reports whether the robot has settled on the final target after
// the trajectory's nominal duration.
func (c *Controller) IsComplete(current, target geometry.Pose2D, elapsed, duration float64) bool {
	if elapsed < duration {
		return false
	}
	e := current.ErrorTo(target)
	return math.Hypot(e.X, e.Y) < c.cfg.PositionTolerance &&
		math.Abs(angle.Normalize(e.Heading)) < c.cfg.HeadingTolerance
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	if v > limit {
		return limit
	} else if v < -limit {
		return -limit
	}
	return v
}
