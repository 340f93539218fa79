// Package trajectory turns a list of waypoints into a time-parameterised
// reference: a polyline path with a trapezoidal speed profile along it.
package trajectory

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/tigerbot-team/cardinal/pkg/angle"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
)

var (
	ErrDegenerateSegment = errors.New("consecutive waypoints coincide")
	ErrInfeasibleProfile = errors.New("speed profile cannot satisfy constraints")
	ErrTooFewWaypoints   = errors.New("a path needs at least two waypoints")
)

// Waypoints closer together than this are treated as coincident.
const minSegmentLength = 1e-9

type segment struct {
	from, to     geometry.Pose2D
	dir          r2.Point // unit vector from -> to
	length       float64
	start        float64 // arc length at from
	headingDelta float64
}

// Trajectory is immutable once built; Sample may be called concurrently.
type Trajectory struct {
	waypoints []geometry.Pose2D
	segments  []segment
	profile   *profile
}

// Line is a two-waypoint path.
func Line(from, to geometry.Pose2D, c Constraints) (*Trajectory, error) {
	return BuildPath([]geometry.Pose2D{from, to}, c)
}

func BuildPath(waypoints []geometry.Pose2D, c Constraints) (*Trajectory, error) {
	if len(waypoints) < 2 {
		return nil, errors.Wrapf(ErrTooFewWaypoints, "got %d", len(waypoints))
	}

	t := &Trajectory{waypoints: make([]geometry.Pose2D, len(waypoints))}
	for i, w := range waypoints {
		t.waypoints[i] = geometry.NewPose(w.X, w.Y, w.Heading)
	}

	var total float64
	for i := 1; i < len(t.waypoints); i++ {
		from, to := t.waypoints[i-1], t.waypoints[i]
		d := to.Position().Sub(from.Position())
		length := d.Norm()
		if length < minSegmentLength {
			return nil, errors.Wrapf(ErrDegenerateSegment, "segment %d (%v to %v)", i-1, from, to)
		}
		t.segments = append(t.segments, segment{
			from:         from,
			to:           to,
			dir:          d.Mul(1 / length),
			length:       length,
			start:        total,
			headingDelta: angle.Diff(to.Heading, from.Heading),
		})
		total += length
	}

	p, err := newProfile(total, c)
	if err != nil {
		return nil, err
	}
	t.profile = p
	return t, nil
}

// Duration is the time taken to traverse the whole path, in seconds.
func (t *Trajectory) Duration() float64 {
	return t.profile.duration()
}

// Length is the total arc length of the path.
func (t *Trajectory) Length() float64 {
	return t.profile.distance
}

func (t *Trajectory) Start() geometry.Pose2D {
	return t.waypoints[0]
}

func (t *Trajectory) End() geometry.Pose2D {
	return t.waypoints[len(t.waypoints)-1]
}

func (t *Trajectory) Waypoints() []geometry.Pose2D {
	return append([]geometry.Pose2D(nil), t.waypoints...)
}

// Sample returns the reference pose and field-relative reference velocity
// at time t since the trajectory started. Times outside [0, Duration()] are
// clamped; every t >= Duration() returns the final waypoint.
func (t *Trajectory) Sample(time float64) (geometry.Pose2D, geometry.Velocity2D) {
	if math.IsNaN(time) {
		time = 0
	}
	s, v := t.profile.sample(time)
	if time >= t.Duration() {
		last := t.segments[len(t.segments)-1]
		return t.End(), velocityAlong(last, v)
	}
	return t.PoseAt(s), velocityAlong(t.segmentAt(s), v)
}

// PoseAt returns the point at arc length s along the path, clamped to the ends.
func (t *Trajectory) PoseAt(s float64) geometry.Pose2D {
	if s <= 0 {
		return t.Start()
	}
	if s >= t.Length() {
		return t.End()
	}
	seg := t.segmentAt(s)
	frac := (s - seg.start) / seg.length
	p := seg.from.Position().Add(seg.dir.Mul(s - seg.start))
	return geometry.NewPose(p.X, p.Y, angle.Lerp(seg.from.Heading, seg.to.Heading, frac))
}

func (t *Trajectory) segmentAt(s float64) segment {
	i := sort.Search(len(t.segments), func(i int) bool {
		return t.segments[i].start+t.segments[i].length > s
	})
	if i == len(t.segments) {
		i--
	}
	return t.segments[i]
}

func velocityAlong(seg segment, speed float64) geometry.Velocity2D {
	return geometry.Velocity2D{
		VX:    seg.dir.X * speed,
		VY:    seg.dir.Y * speed,
		Omega: seg.headingDelta / seg.length * speed,
	}
}
