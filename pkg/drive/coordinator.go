// Package drive runs the control loop that ties odometry, the trajectory
// reference and the motion controller to a drivetrain.
package drive

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/metric"

	"github.com/tigerbot-team/cardinal/pkg/controller"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/kinematics"
	"github.com/tigerbot-team/cardinal/pkg/localizer"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

var ErrSensorTimeout = errors.New("wheel position sensor timed out")

type Option func(*Coordinator)

func WithMeter(m metric.Meter) Option {
	return func(c *Coordinator) {
		c.meter = m
	}
}

func WithSink(s TickSink) Option {
	return func(c *Coordinator) {
		c.sink = s
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// Coordinator owns the localizer, the controller and the active trajectory.
// It has no timers of its own: the host calls Tick at its loop rate. All
// methods are safe to call from multiple goroutines.
type Coordinator struct {
	lock sync.Mutex

	drivetrain Drivetrain
	kin        kinematics.Kinematics
	cfg        Config
	loc        *localizer.Localizer
	ctl        *controller.Controller

	log     *logrus.Entry
	meter   metric.Meter
	metrics *metrics
	sink    TickSink

	// Wheel positions at the last accepted reading; nil until the first
	// reading after seeding.
	lastPositions   []float64
	lastReadingTime time.Time
	lastTick        time.Time
	staleReadings   int
	fault           error

	traj    *trajectory.Trajectory
	elapsed float64
	status  Status
	lastCmd controller.Command
}

func New(d Drivetrain, kin kinematics.Kinematics, ctl controller.Config, cfg Config, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		drivetrain: d,
		kin:        kin,
		cfg:        cfg,
		ctl:        controller.New(ctl),
		meter:      defaultMeter(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logrus.WithField("component", "drive")
	}
	if c.cfg.OutputMode == "" {
		c.cfg.OutputMode = OutputVelocity
	}
	if c.cfg.OutputMode != OutputVelocity && c.cfg.OutputMode != OutputPower {
		return nil, errors.Errorf("unknown output mode %q", c.cfg.OutputMode)
	}
	if c.cfg.OutputMode == OutputPower && !(c.cfg.MaxWheelVelocity > 0) {
		return nil, errors.New("power output needs a positive maxWheelVelocity")
	}
	c.loc = localizer.New(kin, c.log.WithField("component", "localizer"))

	m, err := newMetrics(c.meter)
	if err != nil {
		return nil, err
	}
	c.metrics = m
	return c, nil
}

// SeedPose sets the pose estimate and takes the current wheel positions and
// heading sample as the reference for it. An active trajectory is kept.
func (c *Coordinator) SeedPose(p geometry.Pose2D) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.loc.Seed(p)
	c.lastPositions = nil
	if r, err := c.drivetrain.ReadWheelPositions(); err == nil && len(r.Positions) == c.kin.NumWheels() {
		c.acceptReading(r)
	}
	if h, ok, err := c.drivetrain.ReadHeading(); err == nil && ok {
		_ = c.loc.SetHeadingReference(h)
	}
}

func (c *Coordinator) CurrentPose() (geometry.Pose2D, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.loc.State() != localizer.StateTracking {
		return geometry.Pose2D{}, localizer.ErrUninitializedState
	}
	return c.loc.Pose(), nil
}

// FollowTrajectory starts t from time zero, replacing any active trajectory.
// Controller state from the previous trajectory is discarded.
func (c *Coordinator) FollowTrajectory(t *trajectory.Trajectory) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.loc.State() != localizer.StateTracking {
		return errors.Wrap(localizer.ErrUninitializedState, "cannot follow a trajectory")
	}
	if t == nil {
		return errors.New("nil trajectory")
	}
	if c.traj != nil {
		c.log.Info("Preempting active trajectory")
	}
	c.traj = t
	c.elapsed = 0
	c.ctl.Reset()
	c.status = StatusFollowing
	c.log.WithFields(logrus.Fields{
		"end":      t.End(),
		"duration": t.Duration(),
	}).Info("Following trajectory")
	return nil
}

func (c *Coordinator) IsBusy() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.status == StatusFollowing
}

// Stop drops the active trajectory. Output goes to zero on the next tick.
func (c *Coordinator) Stop() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.traj != nil {
		c.log.Info("Stopping")
	}
	c.traj = nil
	c.ctl.Reset()
	c.status = StatusIdle
}

func (c *Coordinator) Status() Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.fault != nil {
		return StatusFaulted
	}
	return c.status
}

// ControllerState exposes the controller's integral and last command for
// diagnostics.
func (c *Coordinator) ControllerState() controller.State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.ctl.State
}

// Fault returns the active fault, or nil.
func (c *Coordinator) Fault() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.fault
}

// Tick runs one control cycle: read sensors, update the pose, evaluate the
// controller and write wheel commands.
func (c *Coordinator) Tick(now time.Time) TickReport {
	c.lock.Lock()
	defer c.lock.Unlock()

	var dt float64
	if !c.lastTick.IsZero() {
		dt = now.Sub(c.lastTick).Seconds()
	}
	if dt < 0 {
		// Trajectory time never runs backwards; count from here.
		c.log.WithField("dt", dt).Warn("Tick time went backwards")
		dt = 0
	}
	c.lastTick = now

	c.readSensors(now)

	report := TickReport{
		Time:          now,
		StaleReadings: c.staleReadings,
		Fault:         c.fault,
	}
	if c.loc.State() == localizer.StateTracking {
		report.Pose = c.loc.Pose()
	}

	var wheels []float64
	switch {
	case c.fault != nil:
		// Trajectory time stays frozen until the fault clears.
		report.Status = StatusFaulted
	case c.status == StatusFollowing:
		wheels = c.follow(dt, &report)
		report.Status = c.status
	default:
		report.Status = c.status
	}
	if wheels == nil {
		wheels = make([]float64, c.kin.NumWheels())
	}
	report.Wheels = wheels
	report.Elapsed = c.elapsed

	if err := c.drivetrain.WriteWheelCommands(wheels); err != nil {
		c.log.WithError(err).Warn("Failed to write wheel commands")
	}
	c.log.WithFields(logrus.Fields{
		"status": report.Status,
		"pose":   report.Pose,
		"target": report.Target,
		"cmd":    report.Command,
	}).Debug("Tick")

	if c.sink != nil {
		if err := c.sink.Record(report); err != nil {
			c.log.WithError(err).Warn("Failed to record tick")
		}
	}
	return report
}

func (c *Coordinator) readSensors(now time.Time) {
	r, err := c.drivetrain.ReadWheelPositions()
	if err == nil && len(r.Positions) != c.kin.NumWheels() {
		err = errors.Wrapf(kinematics.ErrWheelCount, "got %d wheel positions", len(r.Positions))
	}
	if err != nil {
		c.staleReadings++
		c.metrics.staleReadings.Add(metricCtx(), 1)
		c.log.WithError(err).WithField("stale", c.staleReadings).Debug("Stale wheel reading")
		if c.fault == nil && c.staleReadings > c.cfg.StaleReadingLimit {
			c.fault = errors.Wrapf(ErrSensorTimeout, "%d consecutive failed reads", c.staleReadings)
			c.metrics.faults.Add(metricCtx(), 1)
			c.log.WithError(c.fault).Error("Sensor fault; holding zero output")
		}
		return
	}

	if c.fault != nil {
		c.log.Info("Fresh wheel reading; clearing sensor fault")
		c.fault = nil
	}
	c.staleReadings = 0

	if c.loc.State() != localizer.StateTracking {
		return
	}
	if c.lastPositions == nil {
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		c.acceptReading(r)
		return
	}

	var heading *float64
	if h, ok, err := c.drivetrain.ReadHeading(); err != nil {
		c.log.WithError(err).Debug("Heading read failed; using odometry heading")
	} else if ok {
		heading = &h
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = now
	}
	deltas := make([]float64, len(r.Positions))
	for i := range deltas {
		deltas[i] = r.Positions[i] - c.lastPositions[i]
	}
	if c.lastReadingTime.IsZero() {
		// The reference came from SeedPose without a timestamp, so the
		// interval is unknown but the travel still counts.
		_, err = c.loc.UpdateDisplacement(deltas, heading)
	} else {
		_, err = c.loc.Update(deltas, ts.Sub(c.lastReadingTime).Seconds(), heading)
	}
	if err != nil {
		// Keep the old reference so the travel is picked up next time.
		c.log.WithError(err).Debug("Odometry update skipped")
		return
	}
	r.Timestamp = ts
	c.acceptReading(r)
}

func (c *Coordinator) acceptReading(r WheelReading) {
	c.lastPositions = append(c.lastPositions[:0], r.Positions...)
	c.lastReadingTime = r.Timestamp
}

// follow advances the trajectory clock and returns wheel outputs, or nil for
// zero output.
func (c *Coordinator) follow(dt float64, report *TickReport) []float64 {
	c.elapsed += dt
	pose := c.loc.Pose()
	target, targetVel := c.traj.Sample(c.elapsed)
	report.Target = target

	if c.ctl.IsComplete(pose, c.traj.End(), c.elapsed, c.traj.Duration()) {
		c.log.WithFields(logrus.Fields{
			"pose":    pose,
			"elapsed": c.elapsed,
		}).Info("Trajectory complete")
		c.metrics.completed.Add(metricCtx(), 1)
		c.traj = nil
		c.ctl.Reset()
		c.status = StatusComplete
		return nil
	}

	cmd := c.ctl.ComputeCommand(pose, c.loc.Velocity(), target, targetVel, dt)
	if cmd.Saturated {
		c.metrics.saturated.Add(metricCtx(), 1)
	}
	report.Command = cmd.Velocity
	report.Saturated = cmd.Saturated
	return c.wheelOutputs(cmd.Velocity)
}

func (c *Coordinator) wheelOutputs(v geometry.Velocity2D) []float64 {
	wheels := c.kin.InverseKinematics(v)
	switch c.cfg.OutputMode {
	case OutputPower:
		for i := range wheels {
			wheels[i] /= c.cfg.MaxWheelVelocity
		}
		return kinematics.Desaturate(wheels, 1)
	default:
		if c.cfg.MaxWheelVelocity > 0 {
			return kinematics.Desaturate(wheels, c.cfg.MaxWheelVelocity)
		}
		return wheels
	}
}
