package drive

import (
	"time"

	"github.com/tigerbot-team/cardinal/pkg/geometry"
)

// Drivetrain is the hardware seen by the coordinator. Implementations must
// return immediately with their latest snapshot rather than block on I/O.
type Drivetrain interface {
	// ReadWheelPositions returns the cumulative distance travelled by each
	// wheel, in the same length unit as the chassis geometry.
	ReadWheelPositions() (WheelReading, error)
	// ReadHeading returns an absolute heading sample in radians, if the
	// drivetrain has a heading sensor and it has a fresh sample.
	ReadHeading() (heading float64, ok bool, err error)
	// WriteWheelCommands sends per-wheel velocities or powers, depending on
	// the configured OutputMode.
	WriteWheelCommands(wheels []float64) error
}

type WheelReading struct {
	Positions []float64
	Timestamp time.Time
}

type OutputMode string

const (
	// OutputVelocity writes wheel surface speeds in length units per second.
	OutputVelocity OutputMode = "velocity"
	// OutputPower writes wheel powers in [-1, 1].
	OutputPower OutputMode = "power"
)

type Config struct {
	// Consecutive failed reads tolerated before the sensor timeout fault.
	StaleReadingLimit int        `mapstructure:"staleReadingLimit" yaml:"staleReadingLimit"`
	OutputMode        OutputMode `mapstructure:"outputMode" yaml:"outputMode"`
	// Wheel surface speed that corresponds to full power. Also caps the
	// output in velocity mode.
	MaxWheelVelocity float64 `mapstructure:"maxWheelVelocity" yaml:"maxWheelVelocity"`
}

type Status int

const (
	StatusIdle Status = iota
	StatusFollowing
	StatusComplete
	StatusFaulted
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusFollowing:
		return "FOLLOWING"
	case StatusComplete:
		return "COMPLETE"
	case StatusFaulted:
		return "FAULTED"
	}
	return "UNKNOWN"
}

// TickReport is a snapshot of one control tick.
type TickReport struct {
	Time    time.Time
	Status  Status
	Elapsed float64 // seconds into the active trajectory

	Pose      geometry.Pose2D
	Target    geometry.Pose2D
	Command   geometry.Velocity2D
	Saturated bool
	Wheels    []float64

	StaleReadings int
	Fault         error
}

// TickSink receives every TickReport, e.g. to record telemetry.
type TickSink interface {
	Record(TickReport) error
}
