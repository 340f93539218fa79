package trajectory

import (
	"math"

	"github.com/pkg/errors"
)

// Constraints bound the speed profile along a path. Velocities are path
// speeds in length units per second, always non-negative.
type Constraints struct {
	MaxVelocity     float64 `mapstructure:"maxVelocity" yaml:"maxVelocity"`
	MaxAcceleration float64 `mapstructure:"maxAcceleration" yaml:"maxAcceleration"`
	StartVelocity   float64 `mapstructure:"startVelocity" yaml:"startVelocity"`
	EndVelocity     float64 `mapstructure:"endVelocity" yaml:"endVelocity"`
}

// profile is a trapezoidal speed profile over a fixed distance: accelerate
// at a from v0 to peak, cruise, decelerate at a to v1. When the distance is
// too short to reach MaxVelocity the cruise phase is empty and the profile
// is a triangle.
type profile struct {
	distance float64
	accel    float64
	v0, v1   float64
	peak     float64

	accelTime, cruiseTime, decelTime float64
	accelDist, cruiseDist            float64
}

func newProfile(distance float64, c Constraints) (*profile, error) {
	switch {
	case !(c.MaxVelocity > 0) || !(c.MaxAcceleration > 0):
		return nil, errors.Wrapf(ErrInfeasibleProfile,
			"max velocity %v and max acceleration %v must be positive", c.MaxVelocity, c.MaxAcceleration)
	case c.StartVelocity < 0 || c.StartVelocity > c.MaxVelocity:
		return nil, errors.Wrapf(ErrInfeasibleProfile, "start velocity %v outside [0, %v]", c.StartVelocity, c.MaxVelocity)
	case c.EndVelocity < 0 || c.EndVelocity > c.MaxVelocity:
		return nil, errors.Wrapf(ErrInfeasibleProfile, "end velocity %v outside [0, %v]", c.EndVelocity, c.MaxVelocity)
	}

	a, v0, v1 := c.MaxAcceleration, c.StartVelocity, c.EndVelocity
	if math.Abs(v1*v1-v0*v0) > 2*a*distance*(1+1e-9) {
		return nil, errors.Wrapf(ErrInfeasibleProfile,
			"cannot change speed from %v to %v within %v at acceleration %v", v0, v1, distance, a)
	}

	p := &profile{distance: distance, accel: a, v0: v0, v1: v1}
	p.peak = math.Min(c.MaxVelocity, math.Sqrt((2*a*distance+v0*v0+v1*v1)/2))
	p.peak = math.Max(p.peak, math.Max(v0, v1))

	p.accelTime = (p.peak - v0) / a
	p.decelTime = (p.peak - v1) / a
	p.accelDist = (p.peak*p.peak - v0*v0) / (2 * a)
	decelDist := (p.peak*p.peak - v1*v1) / (2 * a)
	p.cruiseDist = math.Max(0, distance-p.accelDist-decelDist)
	if p.peak > 0 {
		p.cruiseTime = p.cruiseDist / p.peak
	}
	return p, nil
}

func (p *profile) duration() float64 {
	return p.accelTime + p.cruiseTime + p.decelTime
}

// sample returns the distance travelled and the speed at time t.
func (p *profile) sample(t float64) (s, v float64) {
	switch {
	case t <= 0:
		return 0, p.v0
	case t < p.accelTime:
		s = p.v0*t + p.accel*t*t/2
		v = p.v0 + p.accel*t
	case t < p.accelTime+p.cruiseTime:
		s = p.accelDist + p.peak*(t-p.accelTime)
		v = p.peak
	case t < p.duration():
		tau := t - p.accelTime - p.cruiseTime
		s = p.accelDist + p.cruiseDist + p.peak*tau - p.accel*tau*tau/2
		v = p.peak - p.accel*tau
	default:
		return p.distance, p.v1
	}
	return math.Min(math.Max(s, 0), p.distance), v
}
