package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/hardware"
	"github.com/tigerbot-team/cardinal/pkg/plot"
	"github.com/tigerbot-team/cardinal/pkg/telemetry"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

type SimulateCmd struct {
	Waypoints []Waypoint    `arg:"" name:"waypoint" sep:"none" help:"Waypoints as x,y[,heading degrees]."`
	Start     Waypoint      `default:"0,0,0" help:"Starting pose."`
	IMU       bool          `help:"Simulate an IMU heading source."`
	Slip      float64       `default:"1" help:"Fraction of commanded wheel travel that moves the robot."`
	MaxTime   time.Duration `default:"60s" help:"Give up after this much simulated time."`
	Plot      string        `type:"path" help:"Write a PNG of the run here."`
}

func (s *SimulateCmd) Run(ctx *Context) error {
	cfg := ctx.cfg
	log := logrus.WithField("component", "simulate")

	kin, err := cfg.Kinematics()
	if err != nil {
		return err
	}
	scale := make([]float64, kin.NumWheels())
	for i := range scale {
		scale[i] = s.Slip
	}
	sim := hardware.NewSim(kin, hardware.SimConfig{
		OutputMode:       cfg.DriveConfig().OutputMode,
		MaxWheelVelocity: cfg.DriveConfig().MaxWheelVelocity,
		IMU:              s.IMU,
		Start:            geometry.Pose2D(s.Start),
		WheelScale:       scale,
	})

	var opts []drive.Option
	if cfg.Telemetry.Enabled {
		rec, err := telemetry.Open(cfg.Telemetry.DBPath)
		if err != nil {
			return err
		}
		defer rec.Close()
		runID, err := rec.StartRun(fmt.Sprintf("simulate %d waypoints", len(s.Waypoints)))
		if err != nil {
			return err
		}
		log.WithField("run", runID).Info("Recording telemetry")
		opts = append(opts, drive.WithSink(rec))
	}

	coord, err := drive.New(sim, kin, cfg.ControllerConfig(), cfg.DriveConfig(), opts...)
	if err != nil {
		return err
	}
	coord.SeedPose(geometry.Pose2D(s.Start))

	traj, err := trajectory.BuildPath(poses(s.Start, s.Waypoints), cfg.Constraints())
	if err != nil {
		return err
	}
	if err := coord.FollowTrajectory(traj); err != nil {
		return err
	}
	log.WithField("duration", traj.Duration()).Info("Planned trajectory")

	var trace []geometry.Pose2D
	period := cfg.Loop.Period
	for elapsed := time.Duration(0); coord.IsBusy(); elapsed += period {
		if elapsed > s.MaxTime {
			return errors.Errorf("trajectory not complete after %v (status %v)", s.MaxTime, coord.Status())
		}
		r := coord.Tick(sim.Now())
		trace = append(trace, r.Pose)
		sim.Advance(period)
	}

	pose, _ := coord.CurrentPose()
	fmt.Printf("Final pose estimate: %v\n", pose)
	fmt.Printf("Final true pose:     %v\n", sim.TruePose())
	fmt.Printf("Target:              %v\n", traj.End())

	if s.Plot != "" {
		if err := plot.Render(s.Plot, traj, trace); err != nil {
			return err
		}
		log.WithField("path", s.Plot).Info("Wrote plot")
	}
	return nil
}
