package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/geometry"
	"github.com/tigerbot-team/cardinal/pkg/hardware"
	"github.com/tigerbot-team/cardinal/pkg/telemetry"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

type RunCmd struct {
	Waypoints []Waypoint    `arg:"" name:"waypoint" sep:"none" help:"Waypoints as x,y[,heading degrees], driven one leg at a time."`
	Start     Waypoint      `default:"0,0,0" help:"Starting pose."`
	Pause     time.Duration `default:"0s" help:"Pause at each waypoint."`
}

func (r *RunCmd) Run(cctx *Context) error {
	cfg := cctx.cfg
	log := logrus.WithField("component", "run")

	// Our global context, we cancel it to trigger shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)
	go func() {
		select {
		case s := <-signals:
			log.WithField("signal", s).Info("Signal received; stopping")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Plan every leg up front so a bad waypoint fails before anything moves.
	legs := poses(r.Start, r.Waypoints)
	var trajs []*trajectory.Trajectory
	for i := 1; i < len(legs); i++ {
		traj, err := trajectory.Line(legs[i-1], legs[i], cfg.Constraints())
		if err != nil {
			return err
		}
		trajs = append(trajs, traj)
	}

	kin, err := cfg.Kinematics()
	if err != nil {
		return err
	}
	robot, err := hardware.NewRobot(cfg.Hardware, cfg.Chassis(), kin, cfg.DriveConfig())
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	robot.Start(ctx, &wg)

	var opts []drive.Option
	if cfg.Telemetry.Enabled {
		rec, err := telemetry.Open(cfg.Telemetry.DBPath)
		if err != nil {
			return err
		}
		defer rec.Close()
		if _, err := rec.StartRun("run"); err != nil {
			return err
		}
		opts = append(opts, drive.WithSink(rec))
	}
	coord, err := drive.New(robot, kin, cfg.ControllerConfig(), cfg.DriveConfig(), opts...)
	if err != nil {
		return err
	}
	coord.SeedPose(geometry.Pose2D(r.Start))

	wg.Add(1)
	go func() {
		defer wg.Done()
		drive.Run(ctx, coord, cfg.Loop.Period)
	}()

	plan := newLegPlan(coord, trajs, r.Pause, log)
	ticker := time.NewTicker(cfg.Loop.Period)
	defer ticker.Stop()
	for plan.Busy() {
		select {
		case <-ctx.Done():
			log.Info("Interrupted")
			return nil
		case <-ticker.C:
			plan.Update()
		}
	}
	if err := plan.Err(); err != nil {
		return err
	}
	pose, _ := coord.CurrentPose()
	log.WithField("pose", pose).Info("All waypoints done")
	return nil
}
