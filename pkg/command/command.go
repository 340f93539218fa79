// Package command is a small cooperative scheduler for robot routines. A
// Machine is updated once per loop iteration and in turn updates every
// active Command until it reports that it has finished.
package command

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

type Command interface {
	// Init is called once when the command is scheduled.
	Init()
	// Update is called on every loop iteration while the command is active.
	Update()
	IsFinished() bool
}

// Sequence runs its commands one after another.
type Sequence struct {
	commands []Command
	index    int
}

func NewSequence(cmds ...Command) *Sequence {
	return &Sequence{commands: cmds}
}

func (s *Sequence) Add(c Command) *Sequence {
	s.commands = append(s.commands, c)
	return s
}

func (s *Sequence) Init() {
	s.index = 0
	if len(s.commands) > 0 {
		s.commands[0].Init()
	}
}

func (s *Sequence) Update() {
	if s.index >= len(s.commands) {
		return
	}
	current := s.commands[s.index]
	current.Update()
	if current.IsFinished() {
		s.index++
		if s.index < len(s.commands) {
			s.commands[s.index].Init()
		}
	}
}

func (s *Sequence) IsFinished() bool {
	return s.index >= len(s.commands)
}

// Parallel runs its commands together and finishes when all have finished.
type Parallel struct {
	commands []Command
}

func NewParallel(cmds ...Command) *Parallel {
	return &Parallel{commands: cmds}
}

func (p *Parallel) Add(c Command) *Parallel {
	p.commands = append(p.commands, c)
	return p
}

func (p *Parallel) Init() {
	for _, c := range p.commands {
		c.Init()
	}
}

func (p *Parallel) Update() {
	for _, c := range p.commands {
		if !c.IsFinished() {
			c.Update()
		}
	}
}

func (p *Parallel) IsFinished() bool {
	for _, c := range p.commands {
		if !c.IsFinished() {
			return false
		}
	}
	return true
}

// Wait finishes once Duration has passed since Init.
type Wait struct {
	Duration time.Duration
	// Now defaults to time.Now.
	Now func() time.Time

	start time.Time
}

func NewWait(d time.Duration) *Wait {
	return &Wait{Duration: d, Now: time.Now}
}

func (w *Wait) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func (w *Wait) Init() {
	w.start = w.now()
}

func (w *Wait) Update() {}

func (w *Wait) IsFinished() bool {
	return w.now().Sub(w.start) >= w.Duration
}

// Instant runs a function once, on Init.
type Instant func()

func (f Instant) Init()            { f() }
func (f Instant) Update()          {}
func (f Instant) IsFinished() bool { return true }

// WaitUntil finishes once its condition is true.
type WaitUntil func() bool

func (f WaitUntil) Init()            {}
func (f WaitUntil) Update()          {}
func (f WaitUntil) IsFinished() bool { return f() }

// Follower is anything that can follow a trajectory; *drive.Coordinator is one.
type Follower interface {
	FollowTrajectory(t *trajectory.Trajectory) error
	IsBusy() bool
}

// Follow starts a trajectory and finishes when the follower is no longer
// busy, either because it completed or because something stopped it.
type Follow struct {
	follower Follower
	traj     *trajectory.Trajectory
	err      error
}

func NewFollow(f Follower, t *trajectory.Trajectory) *Follow {
	return &Follow{follower: f, traj: t}
}

func (f *Follow) Init() {
	f.err = f.follower.FollowTrajectory(f.traj)
	if f.err != nil {
		logrus.WithField("component", "command").WithError(f.err).Error("Failed to start trajectory")
	}
}

func (f *Follow) Update() {}

func (f *Follow) IsFinished() bool {
	return f.err != nil || !f.follower.IsBusy()
}

// Err is the error from starting the trajectory, if any.
func (f *Follow) Err() error {
	return f.err
}
