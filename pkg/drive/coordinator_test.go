package drive_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/tigerbot-team/cardinal/pkg/controller"
	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/hardware"
	"github.com/tigerbot-team/cardinal/pkg/kinematics"
	"github.com/tigerbot-team/cardinal/pkg/localizer"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

const tick = 20 * time.Millisecond

var testControllerConfig = controller.Config{
	Translation:       controller.Gains{Kp: 3},
	Heading:           controller.Gains{Kp: 3},
	MaxIntegral:       1,
	PositionTolerance: 0.5,
	HeadingTolerance:  0.05,
}

var testConstraints = trajectory.Constraints{MaxVelocity: 10, MaxAcceleration: 5}

type harness struct {
	sim   *hardware.Sim
	coord *drive.Coordinator
}

func newHarness(t *testing.T, simCfg hardware.SimConfig, cfg drive.Config, ctl controller.Config, opts ...drive.Option) *harness {
	kin, err := kinematics.NewMecanum(12, 10)
	require.NoError(t, err)
	simCfg.OutputMode = cfg.OutputMode
	simCfg.MaxWheelVelocity = cfg.MaxWheelVelocity
	sim := hardware.NewSim(kin, simCfg)
	coord, err := drive.New(sim, kin, ctl, cfg, opts...)
	require.NoError(t, err)
	return &harness{sim: sim, coord: coord}
}

// step ticks the coordinator at the sim's time, then lets the sim run the
// resulting command for one tick.
func (h *harness) step() drive.TickReport {
	r := h.coord.Tick(h.sim.Now())
	h.sim.Advance(tick)
	return r
}

func (h *harness) runUntilDone(t *testing.T, maxTicks int) drive.TickReport {
	var r drive.TickReport
	for i := 0; i < maxTicks; i++ {
		r = h.step()
		if !h.coord.IsBusy() {
			return r
		}
	}
	t.Fatalf("trajectory not complete after %d ticks; last report %+v", maxTicks, r)
	return r
}

func TestStraightLineEndToEnd(t *testing.T) {
	for _, tc := range []struct {
		name string
		sim  hardware.SimConfig
		cfg  drive.Config
	}{
		{"velocity", hardware.SimConfig{}, drive.Config{StaleReadingLimit: 3}},
		{"power", hardware.SimConfig{}, drive.Config{StaleReadingLimit: 3, OutputMode: drive.OutputPower, MaxWheelVelocity: 40}},
		{"imu", hardware.SimConfig{IMU: true, IMUOffset: 2}, drive.Config{StaleReadingLimit: 3}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.sim, tc.cfg, testControllerConfig)
			h.coord.SeedPose(geometry.NewPose(0, 0, 0))
			traj, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(24, 0, 0), testConstraints)
			require.NoError(t, err)
			require.NoError(t, h.coord.FollowTrajectory(traj))
			assert.True(t, h.coord.IsBusy())
			assert.Equal(t, drive.StatusFollowing, h.coord.Status())

			last := h.runUntilDone(t, 1000)

			assert.Equal(t, drive.StatusComplete, h.coord.Status())
			assert.Equal(t, drive.StatusComplete, last.Status)
			assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, last.Wheels, 0)
			assert.GreaterOrEqual(t, last.Elapsed, traj.Duration())

			pose, err := h.coord.CurrentPose()
			require.NoError(t, err)
			assert.InDelta(t, 24, pose.X, 0.5)
			assert.InDelta(t, 0, pose.Y, 0.5)
			assert.InDelta(t, 0, pose.Heading, 0.05)

			truth := h.sim.TruePose()
			assert.InDelta(t, 24, truth.X, 0.5)
			assert.InDelta(t, 0, truth.Heading, 0.05)
		})
	}
}

func TestFollowBeforeSeedFails(t *testing.T) {
	h := newHarness(t, hardware.SimConfig{}, drive.Config{}, testControllerConfig)
	traj, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(1, 0, 0), testConstraints)
	require.NoError(t, err)
	assert.True(t, errors.Is(h.coord.FollowTrajectory(traj), localizer.ErrUninitializedState))
	_, err = h.coord.CurrentPose()
	assert.True(t, errors.Is(err, localizer.ErrUninitializedState))

	r := h.step()
	assert.Equal(t, drive.StatusIdle, r.Status)
	assert.Equal(t, []float64{0, 0, 0, 0}, h.sim.LastCommand())
}

func TestPreemptionDiscardsControllerState(t *testing.T) {
	ctl := testControllerConfig
	ctl.Translation.Ki = 1
	ctl.Heading.Ki = 1
	h := newHarness(t, hardware.SimConfig{}, drive.Config{StaleReadingLimit: 3}, ctl)
	h.coord.SeedPose(geometry.NewPose(0, 0, 0))

	first, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(24, 0, 0), testConstraints)
	require.NoError(t, err)
	require.NoError(t, h.coord.FollowTrajectory(first))
	for i := 0; i < 50; i++ {
		h.step()
	}
	require.NotZero(t, h.coord.ControllerState().Integral.X)

	pose, err := h.coord.CurrentPose()
	require.NoError(t, err)
	second, err := trajectory.Line(pose, geometry.NewPose(pose.X, 10, 0), testConstraints)
	require.NoError(t, err)
	require.NoError(t, h.coord.FollowTrajectory(second))
	assert.Equal(t, controller.State{}, h.coord.ControllerState())

	r := h.step()
	assert.InDelta(t, tick.Seconds(), r.Elapsed, 1e-9)
	assert.Equal(t, drive.StatusFollowing, r.Status)
}

func TestStaleReadingsFaultAndRecover(t *testing.T) {
	h := newHarness(t, hardware.SimConfig{}, drive.Config{StaleReadingLimit: 3}, testControllerConfig)
	h.coord.SeedPose(geometry.NewPose(0, 0, 0))
	traj, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(24, 0, 0), testConstraints)
	require.NoError(t, err)
	require.NoError(t, h.coord.FollowTrajectory(traj))
	for i := 0; i < 20; i++ {
		h.step()
	}

	h.sim.FailReads(6)
	// Up to the limit the last known state is reused and motion continues.
	for i := 1; i <= 3; i++ {
		r := h.step()
		assert.Equal(t, i, r.StaleReadings)
		assert.NoError(t, r.Fault)
		assert.Equal(t, drive.StatusFollowing, r.Status)
	}
	r := h.step()
	assert.True(t, errors.Is(r.Fault, drive.ErrSensorTimeout))
	assert.Equal(t, drive.StatusFaulted, r.Status)
	assert.Equal(t, drive.StatusFaulted, h.coord.Status())
	assert.Equal(t, []float64{0, 0, 0, 0}, h.sim.LastCommand())
	frozen := r.Elapsed

	for i := 0; i < 2; i++ {
		r = h.step()
		assert.Equal(t, drive.StatusFaulted, r.Status)
		assert.Equal(t, frozen, r.Elapsed)
	}

	r = h.step()
	assert.NoError(t, r.Fault)
	assert.NoError(t, h.coord.Fault())
	assert.Equal(t, drive.StatusFollowing, r.Status)
	assert.Greater(t, r.Elapsed, frozen)

	h.runUntilDone(t, 1000)
	assert.Equal(t, drive.StatusComplete, h.coord.Status())
	pose, err := h.coord.CurrentPose()
	require.NoError(t, err)
	assert.InDelta(t, 24, pose.X, 0.5)
}

func TestStopZeroesOutput(t *testing.T) {
	h := newHarness(t, hardware.SimConfig{}, drive.Config{}, testControllerConfig)
	h.coord.SeedPose(geometry.NewPose(0, 0, 0))
	traj, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(24, 0, 0), testConstraints)
	require.NoError(t, err)
	require.NoError(t, h.coord.FollowTrajectory(traj))
	for i := 0; i < 30; i++ {
		h.step()
	}
	assert.NotEqual(t, []float64{0, 0, 0, 0}, h.sim.LastCommand())

	h.coord.Stop()
	assert.False(t, h.coord.IsBusy())
	assert.Equal(t, drive.StatusIdle, h.coord.Status())
	h.step()
	assert.Equal(t, []float64{0, 0, 0, 0}, h.sim.LastCommand())
}

type recordingSink struct {
	reports []drive.TickReport
}

func (r *recordingSink) Record(t drive.TickReport) error {
	r.reports = append(r.reports, t)
	return nil
}

type countingMeter struct {
	noop.Meter
	lock     sync.Mutex
	counters map[string]*countingCounter
}

type countingCounter struct {
	noop.Int64Counter
	meter *countingMeter
	n     int64
}

func (c *countingCounter) Add(_ context.Context, incr int64, _ ...metric.AddOption) {
	c.meter.lock.Lock()
	defer c.meter.lock.Unlock()
	c.n += incr
}

func (m *countingMeter) Int64Counter(name string, _ ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.counters == nil {
		m.counters = map[string]*countingCounter{}
	}
	c := &countingCounter{meter: m}
	m.counters[name] = c
	return c, nil
}

func (m *countingMeter) count(name string) int64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	if c, ok := m.counters[name]; ok {
		return c.n
	}
	return -1
}

func TestMetricsAndSink(t *testing.T) {
	meter := &countingMeter{}
	sink := &recordingSink{}
	ctl := testControllerConfig
	ctl.MaxVelocity = 8
	h := newHarness(t, hardware.SimConfig{}, drive.Config{StaleReadingLimit: 1}, ctl,
		drive.WithMeter(meter), drive.WithSink(sink))
	h.coord.SeedPose(geometry.NewPose(0, 0, 0))
	traj, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(24, 0, 0), testConstraints)
	require.NoError(t, err)
	require.NoError(t, h.coord.FollowTrajectory(traj))

	h.sim.FailReads(2)
	h.runUntilDone(t, 2000)

	assert.Equal(t, int64(2), meter.count("drive.readings.stale"))
	assert.Equal(t, int64(1), meter.count("drive.faults"))
	assert.Equal(t, int64(1), meter.count("drive.trajectories.completed"))
	// The trajectory cruises at 10 but the controller is capped at 8.
	assert.Greater(t, meter.count("drive.ticks.saturated"), int64(0))

	require.NotEmpty(t, sink.reports)
	assert.Equal(t, drive.StatusComplete, sink.reports[len(sink.reports)-1].Status)
	for _, r := range sink.reports {
		assert.Len(t, r.Wheels, 4)
	}
}

func TestRunZeroesOutputOnExit(t *testing.T) {
	h := newHarness(t, hardware.SimConfig{}, drive.Config{}, testControllerConfig)
	h.coord.SeedPose(geometry.NewPose(0, 0, 0))
	require.NoError(t, h.sim.WriteWheelCommands([]float64{1, 1, 1, 1}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		drive.Run(ctx, h.coord, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}
	assert.Equal(t, []float64{0, 0, 0, 0}, h.sim.LastCommand())
	assert.Equal(t, drive.StatusIdle, h.coord.Status())
}

func TestBadOutputConfig(t *testing.T) {
	kin, err := kinematics.NewMecanum(12, 10)
	require.NoError(t, err)
	sim := hardware.NewSim(kin, hardware.SimConfig{})
	_, err = drive.New(sim, kin, testControllerConfig, drive.Config{OutputMode: "torque"})
	assert.Error(t, err)
	_, err = drive.New(sim, kin, testControllerConfig, drive.Config{OutputMode: drive.OutputPower})
	assert.Error(t, err)
}

func TestHeadingStaysNormalised(t *testing.T) {
	h := newHarness(t, hardware.SimConfig{}, drive.Config{}, testControllerConfig)
	h.coord.SeedPose(geometry.NewPose(0, 0, 3))
	traj, err := trajectory.BuildPath([]geometry.Pose2D{
		geometry.NewPose(0, 0, 3),
		geometry.NewPose(10, 0, -3),
		geometry.NewPose(10, 10, math.Pi),
	}, testConstraints)
	require.NoError(t, err)
	require.NoError(t, h.coord.FollowTrajectory(traj))
	for i := 0; i < 300; i++ {
		r := h.step()
		assert.True(t, r.Pose.Heading > -math.Pi && r.Pose.Heading <= math.Pi)
	}
}

func TestBackwardsTickDoesNotRewindTrajectory(t *testing.T) {
	h := newHarness(t, hardware.SimConfig{}, drive.Config{StaleReadingLimit: 3}, testControllerConfig)
	h.coord.SeedPose(geometry.NewPose(0, 0, 0))
	traj, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(24, 0, 0), testConstraints)
	require.NoError(t, err)
	require.NoError(t, h.coord.FollowTrajectory(traj))

	base := h.sim.Now()
	h.coord.Tick(base)
	r := h.coord.Tick(base.Add(time.Second))
	assert.InDelta(t, 1.0, r.Elapsed, 1e-9)

	r = h.coord.Tick(base.Add(-5 * time.Second))
	assert.InDelta(t, 1.0, r.Elapsed, 1e-9)
	assert.Equal(t, drive.StatusFollowing, r.Status)
	assert.Greater(t, r.Target.X, 0.0)

	// Time counts on from the earlier timestamp.
	r = h.coord.Tick(base.Add(-5*time.Second + tick))
	assert.InDelta(t, 1.0+tick.Seconds(), r.Elapsed, 1e-9)
}

// untimedDrivetrain reports wheel positions without timestamps, as some
// motor boards do.
type untimedDrivetrain struct {
	*hardware.Sim
}

func (u untimedDrivetrain) ReadWheelPositions() (drive.WheelReading, error) {
	r, err := u.Sim.ReadWheelPositions()
	r.Timestamp = time.Time{}
	return r, err
}

func TestUntimedReadingsKeepTravelSinceSeed(t *testing.T) {
	kin, err := kinematics.NewMecanum(12, 10)
	require.NoError(t, err)
	sim := hardware.NewSim(kin, hardware.SimConfig{})
	coord, err := drive.New(untimedDrivetrain{sim}, kin, testControllerConfig, drive.Config{StaleReadingLimit: 3})
	require.NoError(t, err)
	coord.SeedPose(geometry.NewPose(0, 0, 0))

	forward := []float64{10, 10, 10, 10}
	for i := 0; i < 5; i++ {
		require.NoError(t, sim.WriteWheelCommands(forward))
		sim.Advance(200 * time.Millisecond)
		coord.Tick(sim.Now())
	}

	assert.InDelta(t, 10, sim.TruePose().X, 1e-9)
	pose, err := coord.CurrentPose()
	require.NoError(t, err)
	assert.InDelta(t, 10, pose.X, 1e-9)
	assert.InDelta(t, 0, pose.Y, 1e-9)
}
