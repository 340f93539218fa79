package trajectory

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/cardinal/pkg/geometry"
)

var slow = Constraints{MaxVelocity: 10, MaxAcceleration: 5}

func TestTrapezoidLine(t *testing.T) {
	traj, err := Line(geometry.NewPose(0, 0, 0), geometry.NewPose(24, 0, 0), slow)
	require.NoError(t, err)

	// 2s to reach 10, 10 units each ramp, 4 units of cruise at 10.
	assert.InDelta(t, 4.4, traj.Duration(), 1e-9)
	assert.InDelta(t, 24, traj.Length(), 1e-9)

	p, v := traj.Sample(1)
	assert.InDelta(t, 2.5, p.X, 1e-9)
	assert.InDelta(t, 5, v.VX, 1e-9)

	p, v = traj.Sample(2.2)
	assert.InDelta(t, 12, p.X, 1e-9)
	assert.InDelta(t, 10, v.VX, 1e-9)
	assert.Zero(t, v.VY)
	assert.Zero(t, v.Omega)
}

func TestTriangleWhenCruiseUnreachable(t *testing.T) {
	traj, err := Line(geometry.NewPose(0, 0, 0), geometry.NewPose(0, 5, math.Pi/2), slow)
	require.NoError(t, err)
	// Peak speed sqrt(a*d) = 5 after 1s; 2s total.
	assert.InDelta(t, 2, traj.Duration(), 1e-9)
	p, v := traj.Sample(1)
	assert.InDelta(t, 2.5, p.Y, 1e-9)
	assert.InDelta(t, 5, v.VY, 1e-9)
	assert.InDelta(t, math.Pi/4, p.Heading, 1e-9)
	assert.InDelta(t, math.Pi/2/5*5, v.Omega, 1e-9)
}

func TestNeverExceedsConstraints(t *testing.T) {
	c := Constraints{MaxVelocity: 7, MaxAcceleration: 3, StartVelocity: 2, EndVelocity: 1}
	traj, err := BuildPath([]geometry.Pose2D{
		geometry.NewPose(0, 0, 0),
		geometry.NewPose(10, 0, 1),
		geometry.NewPose(10, 10, -3),
		geometry.NewPose(-5, 2, 2),
	}, c)
	require.NoError(t, err)

	const dt = 0.001
	var lastSpeed = c.StartVelocity
	for tm := dt; tm < traj.Duration(); tm += dt {
		p, v := traj.Sample(tm)
		speed := v.Speed()
		assert.LessOrEqual(t, speed, c.MaxVelocity+1e-9)
		assert.LessOrEqual(t, math.Abs(speed-lastSpeed)/dt, c.MaxAcceleration+1e-6, "t=%v", tm)
		assert.True(t, p.Heading > -math.Pi && p.Heading <= math.Pi)
		lastSpeed = speed
	}

	_, v := traj.Sample(traj.Duration())
	assert.InDelta(t, c.EndVelocity, v.Speed(), 1e-9)
}

func TestSampleClampsAtBothEnds(t *testing.T) {
	from, to := geometry.NewPose(1, 2, 0.3), geometry.NewPose(4, 6, -0.3)
	traj, err := Line(from, to, slow)
	require.NoError(t, err)

	p, v := traj.Sample(-5)
	assert.Equal(t, from, p)
	assert.Zero(t, v.Speed())

	end, endV := traj.Sample(traj.Duration())
	assert.Equal(t, to, end)
	for _, tm := range []float64{traj.Duration() + 0.001, traj.Duration() * 2, 1e9, math.Inf(1)} {
		p, v := traj.Sample(tm)
		assert.Equal(t, end, p)
		assert.Equal(t, endV, v)
	}
}

func TestHeadingTakesShortestArc(t *testing.T) {
	// 170° to -170° should pass through 180°, not through 0.
	traj, err := Line(geometry.NewPose(0, 0, 170*math.Pi/180), geometry.NewPose(10, 0, -170*math.Pi/180), slow)
	require.NoError(t, err)
	p := traj.PoseAt(5)
	assert.InDelta(t, math.Pi, math.Abs(p.Heading), 1e-9)
	_, v := traj.Sample(traj.Duration() / 2)
	assert.Greater(t, v.Omega, 0.0)
}

func TestPoseAtSegmentBoundaries(t *testing.T) {
	traj, err := BuildPath([]geometry.Pose2D{
		geometry.NewPose(0, 0, 0),
		geometry.NewPose(3, 4, 0),
		geometry.NewPose(3, 10, 0),
	}, slow)
	require.NoError(t, err)
	assert.InDelta(t, 11, traj.Length(), 1e-9)
	assert.Equal(t, geometry.NewPose(3, 4, 0), traj.PoseAt(5))
	p := traj.PoseAt(8)
	assert.InDelta(t, 3, p.X, 1e-9)
	assert.InDelta(t, 7, p.Y, 1e-9)
}

func TestBuildErrors(t *testing.T) {
	a, b := geometry.NewPose(0, 0, 0), geometry.NewPose(1, 0, 0)

	_, err := BuildPath([]geometry.Pose2D{a}, slow)
	assert.True(t, errors.Is(err, ErrTooFewWaypoints))

	_, err = BuildPath([]geometry.Pose2D{a, b, b}, slow)
	assert.True(t, errors.Is(err, ErrDegenerateSegment))
	assert.Contains(t, err.Error(), "segment 1")

	for _, c := range []Constraints{
		{MaxVelocity: 0, MaxAcceleration: 1},
		{MaxVelocity: 1, MaxAcceleration: -1},
		{MaxVelocity: 1, MaxAcceleration: 1, StartVelocity: 2},
		{MaxVelocity: 1, MaxAcceleration: 1, EndVelocity: -1},
		// Cannot stop from 1 within one unit at 0.1.
		{MaxVelocity: 1, MaxAcceleration: 0.1, StartVelocity: 1},
	} {
		_, err = Line(a, b, c)
		assert.True(t, errors.Is(err, ErrInfeasibleProfile), "%+v", c)
	}
}

func TestWaypointsAreCopied(t *testing.T) {
	wps := []geometry.Pose2D{geometry.NewPose(0, 0, 0), geometry.NewPose(1, 0, 0)}
	traj, err := BuildPath(wps, slow)
	require.NoError(t, err)
	wps[1].X = 100
	assert.Equal(t, 1.0, traj.End().X)
	got := traj.Waypoints()
	got[0].X = 50
	assert.Equal(t, 0.0, traj.Start().X)
}
