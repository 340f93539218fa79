package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/command"
	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

// legPlan follows trajectories one after another through the command
// scheduler. A drive fault abandons the remaining legs.
type legPlan struct {
	machine *command.Machine
	follows []*command.Follow
	fault   error
}

func newLegPlan(coord *drive.Coordinator, trajs []*trajectory.Trajectory, pause time.Duration, log *logrus.Entry) *legPlan {
	p := &legPlan{machine: command.NewMachine()}

	seq := command.NewSequence()
	for i, traj := range trajs {
		f := command.NewFollow(coord, traj)
		p.follows = append(p.follows, f)
		leg := i + 1
		seq.Add(f).Add(command.Instant(func() {
			pose, _ := coord.CurrentPose()
			log.WithFields(logrus.Fields{"leg": leg, "pose": pose, "status": coord.Status()}).Info("Leg done")
		}))
		if pause > 0 {
			seq.Add(command.NewWait(pause))
		}
	}

	p.machine.AddTrigger(command.NewTrigger(func() bool {
		return coord.Fault() != nil
	}, command.Instant(func() {
		p.fault = coord.Fault()
		log.WithError(p.fault).Error("Drive faulted; abandoning waypoints")
		p.machine.Clear()
		coord.Stop()
	})))
	p.machine.Schedule(seq)
	return p
}

func (p *legPlan) Update() {
	p.machine.Update()
}

func (p *legPlan) Busy() bool {
	return p.machine.Busy()
}

// Err is the fault that abandoned the plan or the first leg that failed to
// start.
func (p *legPlan) Err() error {
	if p.fault != nil {
		return errors.Wrap(p.fault, "waypoints abandoned")
	}
	for i, f := range p.follows {
		if f.Err() != nil {
			return errors.Wrapf(f.Err(), "leg %d", i+1)
		}
	}
	return nil
}
