// Package localizer dead-reckons the robot pose from wheel odometry, with an
// optional absolute heading source.
//
// Without a heading source the heading is integrated from wheel motion alone
// and drifts with every wheel slip; on a mecanum chassis this is typically
// several degrees per minute of driving, so an IMU is strongly recommended.
package localizer

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/angle"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/kinematics"
)

var (
	ErrUninitializedState = errors.New("localizer has not been seeded with a pose")
	ErrInvalidTimestep    = errors.New("timestep must be positive")
	ErrNonFiniteTravel    = errors.New("wheel travel must be finite")
)

type State int

const (
	StateUninitialized State = iota
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateTracking:
		return "TRACKING"
	}
	return "UNKNOWN"
}

type Localizer struct {
	kin kinematics.Kinematics
	log *logrus.Entry

	state    State
	pose     geometry.Pose2D
	velocity geometry.Velocity2D

	// Field heading = IMU heading + headingOffset.
	headingOffset  float64
	haveHeadingRef bool
}

func New(kin kinematics.Kinematics, log *logrus.Entry) *Localizer {
	if log == nil {
		log = logrus.WithField("component", "localizer")
	}
	return &Localizer{kin: kin, log: log}
}

// Seed sets the pose and starts tracking. Any previous heading reference is
// discarded.
func (l *Localizer) Seed(p geometry.Pose2D) {
	l.pose = geometry.NewPose(p.X, p.Y, p.Heading)
	l.velocity = geometry.Velocity2D{}
	l.haveHeadingRef = false
	l.state = StateTracking
	l.log.WithField("pose", l.pose).Info("Seeded pose")
}

// SetHeadingReference records the heading sensor reading that corresponds
// to the current pose heading.
func (l *Localizer) SetHeadingReference(sample float64) error {
	if l.state != StateTracking {
		return ErrUninitializedState
	}
	l.headingOffset = angle.Diff(l.pose.Heading, sample)
	l.haveHeadingRef = true
	return nil
}

func (l *Localizer) State() State {
	return l.state
}

func (l *Localizer) Pose() geometry.Pose2D {
	return l.pose
}

// Velocity returns the robot-relative velocity over the last accepted update.
func (l *Localizer) Velocity() geometry.Velocity2D {
	return l.velocity
}

// Update integrates one interval of wheel travel. If heading is non-nil it is
// an absolute heading sensor reading, which replaces the heading change
// implied by the wheels.
func (l *Localizer) Update(deltaWheelPositions []float64, dt float64, heading *float64) (geometry.Pose2D, error) {
	if l.state != StateTracking {
		return l.pose, ErrUninitializedState
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		l.log.WithField("dt", dt).Debug("Ignoring update with invalid timestep")
		return l.pose, errors.Wrapf(ErrInvalidTimestep, "dt=%v", dt)
	}
	twist, err := l.integrate(deltaWheelPositions, heading)
	if err != nil {
		return l.pose, err
	}
	l.velocity = geometry.Velocity2D{VX: twist.DX / dt, VY: twist.DY / dt, Omega: twist.DTheta / dt}
	return l.pose, nil
}

// UpdateDisplacement integrates wheel travel over an interval of unknown
// length. The pose moves as for Update; the velocity estimate is zeroed.
func (l *Localizer) UpdateDisplacement(deltaWheelPositions []float64, heading *float64) (geometry.Pose2D, error) {
	if l.state != StateTracking {
		return l.pose, ErrUninitializedState
	}
	if _, err := l.integrate(deltaWheelPositions, heading); err != nil {
		return l.pose, err
	}
	l.velocity = geometry.Velocity2D{}
	return l.pose, nil
}

func (l *Localizer) integrate(deltaWheelPositions []float64, heading *float64) (geometry.Twist2D, error) {
	for i, d := range deltaWheelPositions {
		if math.IsNaN(d) || math.IsInf(d, 0) {
			l.log.WithField("wheel", i).Debug("Ignoring update with non-finite wheel travel")
			return geometry.Twist2D{}, errors.Wrapf(ErrNonFiniteTravel, "wheel %d travel %v", i, d)
		}
	}
	if heading != nil && (math.IsNaN(*heading) || math.IsInf(*heading, 0)) {
		heading = nil
	}

	// Wheel deltas over the interval are distances, so forward kinematics
	// on them gives the displacement directly.
	d, err := l.kin.ForwardKinematics(deltaWheelPositions)
	if err != nil {
		return geometry.Twist2D{}, err
	}
	twist := geometry.Twist2D{DX: d.VX, DY: d.VY, DTheta: d.Omega}

	if heading != nil {
		if !l.haveHeadingRef {
			// First sample: take it as matching the heading at the start of
			// the interval and trust the wheels for this one.
			l.headingOffset = angle.Diff(l.pose.Heading, *heading)
			l.haveHeadingRef = true
		} else {
			measured := angle.Normalize(*heading + l.headingOffset)
			twist.DTheta = angle.Diff(measured, l.pose.Heading)
		}
	}

	l.pose = l.pose.Exp(twist)
	return twist, nil
}
