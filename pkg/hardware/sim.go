package hardware

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/cardinal/pkg/angle"
	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/kinematics"
)

var ErrSimulatedReadFailure = errors.New("simulated read failure")

type SimConfig struct {
	OutputMode       drive.OutputMode
	MaxWheelVelocity float64
	// With IMU set the sim reports the true heading plus IMUOffset.
	IMU       bool
	IMUOffset float64
	Start     geometry.Pose2D
	// WheelScale multiplies each wheel's real travel relative to what is
	// commanded and measured, to model slip. Nil means no slip.
	WheelScale []float64
}

// Sim is a deterministic drivetrain. Time only moves when Advance is called;
// during each step the last written command is held.
type Sim struct {
	lock sync.Mutex

	kin kinematics.Kinematics
	cfg SimConfig

	now       time.Time
	pose      geometry.Pose2D
	positions []float64
	command   []float64
	failReads int
}

var _ drive.Drivetrain = (*Sim)(nil)

func NewSim(kin kinematics.Kinematics, cfg SimConfig) *Sim {
	if cfg.OutputMode == "" {
		cfg.OutputMode = drive.OutputVelocity
	}
	return &Sim{
		kin:       kin,
		cfg:       cfg,
		now:       time.Unix(0, 0),
		pose:      cfg.Start,
		positions: make([]float64, kin.NumWheels()),
		command:   make([]float64, kin.NumWheels()),
	}
}

func (s *Sim) Now() time.Time {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.now
}

// Advance moves the simulated robot by holding the current command for dt.
func (s *Sim) Advance(dt time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()

	secs := dt.Seconds()
	speeds := s.wheelSpeeds()
	actual := make([]float64, len(speeds))
	for i, v := range speeds {
		s.positions[i] += v * secs
		actual[i] = v
		if i < len(s.cfg.WheelScale) {
			actual[i] *= s.cfg.WheelScale[i]
		}
	}
	v, err := s.kin.ForwardKinematics(actual)
	if err == nil {
		s.pose = s.pose.Exp(v.Twist(secs))
	}
	s.now = s.now.Add(dt)
}

func (s *Sim) wheelSpeeds() []float64 {
	speeds := append([]float64(nil), s.command...)
	if s.cfg.OutputMode == drive.OutputPower {
		for i := range speeds {
			speeds[i] *= s.cfg.MaxWheelVelocity
		}
	}
	return speeds
}

// FailReads makes the next n wheel position reads fail.
func (s *Sim) FailReads(n int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failReads = n
}

// TruePose is where the simulated robot actually is.
func (s *Sim) TruePose() geometry.Pose2D {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.pose
}

func (s *Sim) LastCommand() []float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]float64(nil), s.command...)
}

func (s *Sim) ReadWheelPositions() (drive.WheelReading, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failReads > 0 {
		s.failReads--
		return drive.WheelReading{}, ErrSimulatedReadFailure
	}
	return drive.WheelReading{
		Positions: append([]float64(nil), s.positions...),
		Timestamp: s.now,
	}, nil
}

func (s *Sim) ReadHeading() (float64, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.cfg.IMU {
		return 0, false, nil
	}
	return angle.Normalize(s.pose.Heading + s.cfg.IMUOffset), true, nil
}

func (s *Sim) WriteWheelCommands(wheels []float64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(wheels) != len(s.command) {
		return errors.Wrapf(kinematics.ErrWheelCount, "got %d commands", len(wheels))
	}
	copy(s.command, wheels)
	return nil
}
