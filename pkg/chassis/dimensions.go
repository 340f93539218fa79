package chassis

import (
	"math"

	"github.com/pkg/errors"
)

const MMPerInch = 25.4

// Measured on the competition chassis.
const (
	WheelDiameterMM float64 = 70
	WheelCircumMM           = WheelDiameterMM * math.Pi

	BotWidthMM                    = 170
	BotFrontBackWheelCentreDistMM = 190

	// The motor board counts 256 steps per wheel rotation.
	EncoderStepsPerRev = 256
)

var ErrInvalidGeometry = errors.New("invalid drivetrain geometry")

// Geometry is the fixed drivetrain description used for odometry and for
// turning wheel commands into motor units. Lengths share one unit (inches by
// default); TicksPerRev counts encoder ticks per motor revolution and
// GearRatio is motor revolutions per wheel revolution.
type Geometry struct {
	WheelDiameter float64 `mapstructure:"wheelDiameter" yaml:"wheelDiameter"`
	TrackWidth    float64 `mapstructure:"trackWidth" yaml:"trackWidth"`
	WheelBase     float64 `mapstructure:"wheelBase" yaml:"wheelBase"`
	TicksPerRev   float64 `mapstructure:"ticksPerRev" yaml:"ticksPerRev"`
	GearRatio     float64 `mapstructure:"gearRatio" yaml:"gearRatio"`
}

// Default returns the competition chassis in inches.
func Default() Geometry {
	return Geometry{
		WheelDiameter: WheelDiameterMM / MMPerInch,
		TrackWidth:    BotWidthMM / MMPerInch,
		WheelBase:     BotFrontBackWheelCentreDistMM / MMPerInch,
		TicksPerRev:   EncoderStepsPerRev,
		GearRatio:     1,
	}
}

func (g Geometry) Validate() error {
	switch {
	case !(g.WheelDiameter > 0):
		return errors.Wrapf(ErrInvalidGeometry, "wheel diameter %v", g.WheelDiameter)
	case !(g.TrackWidth > 0):
		return errors.Wrapf(ErrInvalidGeometry, "track width %v", g.TrackWidth)
	case g.WheelBase < 0:
		return errors.Wrapf(ErrInvalidGeometry, "wheel base %v", g.WheelBase)
	case !(g.TicksPerRev > 0):
		return errors.Wrapf(ErrInvalidGeometry, "ticks per rev %v", g.TicksPerRev)
	case !(g.GearRatio > 0):
		return errors.Wrapf(ErrInvalidGeometry, "gear ratio %v", g.GearRatio)
	}
	return nil
}

func (g Geometry) WheelCircumference() float64 {
	return g.WheelDiameter * math.Pi
}

// CentreToWheelCentre is the distance from the middle of the robot to a wheel contact point.
func (g Geometry) CentreToWheelCentre() float64 {
	return math.Hypot(g.TrackWidth/2, g.WheelBase/2)
}

// RotationsToDistance converts wheel rotations to distance travelled.
func (g Geometry) RotationsToDistance(rotations float64) float64 {
	return rotations * g.WheelCircumference()
}

// TicksToDistance converts motor encoder ticks to distance travelled by the wheel.
func (g Geometry) TicksToDistance(ticks int64) float64 {
	return g.RotationsToDistance(float64(ticks) / g.TicksPerRev / g.GearRatio)
}

// DistanceToTicks is the inverse of TicksToDistance, rounded to the nearest tick.
func (g Geometry) DistanceToTicks(distance float64) int64 {
	return int64(math.Round(distance / g.WheelCircumference() * g.GearRatio * g.TicksPerRev))
}
