package command

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

// counted finishes after n updates and records what happened to it.
type counted struct {
	name    string
	n       int
	updates int
	log     *[]string
}

func (c *counted) Init() {
	c.updates = 0
	*c.log = append(*c.log, c.name+".init")
}

func (c *counted) Update() {
	c.updates++
	*c.log = append(*c.log, c.name+".update")
}

func (c *counted) IsFinished() bool { return c.updates >= c.n }

func TestSequenceRunsInOrder(t *testing.T) {
	var log []string
	s := NewSequence(&counted{name: "a", n: 2, log: &log}).Add(&counted{name: "b", n: 1, log: &log})
	m := NewMachine()
	m.Schedule(s)
	for m.Busy() {
		m.Update()
	}
	assert.Equal(t, []string{"a.init", "a.update", "a.update", "b.init", "b.update"}, log)
}

func TestEmptySequenceFinishesImmediately(t *testing.T) {
	s := NewSequence()
	s.Init()
	assert.True(t, s.IsFinished())
}

func TestParallelWaitsForAll(t *testing.T) {
	var log []string
	a := &counted{name: "a", n: 1, log: &log}
	b := &counted{name: "b", n: 3, log: &log}
	p := NewParallel(a, b)
	p.Init()
	p.Update()
	assert.False(t, p.IsFinished())
	p.Update()
	p.Update()
	assert.True(t, p.IsFinished())
	assert.Equal(t, 1, a.updates, "finished children are not updated again")

	// Can be run again.
	p.Init()
	assert.False(t, p.IsFinished())
}

func TestWaitUsesClock(t *testing.T) {
	now := time.Unix(100, 0)
	w := &Wait{Duration: 2 * time.Second, Now: func() time.Time { return now }}
	w.Init()
	assert.False(t, w.IsFinished())
	now = now.Add(1999 * time.Millisecond)
	assert.False(t, w.IsFinished())
	now = now.Add(time.Millisecond)
	assert.True(t, w.IsFinished())
}

func TestInstantAndWaitUntil(t *testing.T) {
	ran := 0
	ready := false
	m := NewMachine()
	m.Schedule(NewSequence(WaitUntil(func() bool { return ready }), Instant(func() { ran++ })))
	m.Update()
	m.Update()
	assert.Equal(t, 0, ran)
	ready = true
	m.Update()
	assert.Equal(t, 1, ran)
	m.Update()
	assert.Equal(t, 1, ran)
	assert.False(t, m.Busy())
}

func TestTriggerFiresOnRisingEdge(t *testing.T) {
	var log []string
	pressed := false
	m := NewMachine()
	m.AddTrigger(NewTrigger(func() bool { return pressed }, &counted{name: "c", n: 1, log: &log}))

	m.Update()
	assert.Empty(t, log)
	pressed = true
	m.Update()
	m.Update() // still held
	m.Update()
	pressed = false
	m.Update()
	pressed = true
	m.Update()
	assert.Equal(t, []string{"c.init", "c.update", "c.init"}, log)
}

type fakeFollower struct {
	busyFor int
	err     error
	started *trajectory.Trajectory
}

func (f *fakeFollower) FollowTrajectory(t *trajectory.Trajectory) error {
	f.started = t
	return f.err
}

func (f *fakeFollower) IsBusy() bool {
	if f.busyFor > 0 {
		f.busyFor--
		return true
	}
	return false
}

func TestFollow(t *testing.T) {
	traj, err := trajectory.Line(geometry.NewPose(0, 0, 0), geometry.NewPose(1, 0, 0),
		trajectory.Constraints{MaxVelocity: 1, MaxAcceleration: 1})
	require.NoError(t, err)

	f := &fakeFollower{busyFor: 2}
	cmd := NewFollow(f, traj)
	cmd.Init()
	assert.Same(t, traj, f.started)
	assert.False(t, cmd.IsFinished())
	assert.False(t, cmd.IsFinished())
	assert.True(t, cmd.IsFinished())
	assert.NoError(t, cmd.Err())

	f = &fakeFollower{busyFor: 10, err: errors.New("not seeded")}
	cmd = NewFollow(f, traj)
	cmd.Init()
	assert.True(t, cmd.IsFinished())
	assert.Error(t, cmd.Err())
}
