package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/config"
)

var CLI struct {
	Config   string `help:"YAML config file." type:"path" short:"c"`
	LogLevel string `help:"Override the configured log level (trace, debug, info, warn, error)."`

	Simulate SimulateCmd `cmd:"" help:"Follow waypoints on the simulated drivetrain."`
	Run      RunCmd      `cmd:"" help:"Follow waypoints on the robot."`
}

type Context struct {
	cfg        *config.Config
	configPath string
}

func main() {
	fmt.Print("---- Cardinal ----\n\n")
	fmt.Println("GOMAXPROCS", runtime.GOMAXPROCS(0))

	k := kong.Parse(&CLI,
		kong.Name("cardinal"),
		kong.Description("Odometry and trajectory following for mecanum robots."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load(CLI.Config)
	k.FatalIfErrorf(err)
	if CLI.LogLevel != "" {
		cfg.LogLevel = CLI.LogLevel
	}
	cfg.ApplyLogLevel()

	// Write out the config that we are using.
	if CLI.Config != "" {
		inUse := strings.TrimSuffix(CLI.Config, ".yaml") + "-in-use.yaml"
		if err := cfg.WriteInUse(inUse); err != nil {
			logrus.WithError(err).Warn("Failed to write in-use config")
		}
	}

	err = k.Run(&Context{cfg: cfg, configPath: CLI.Config})
	k.FatalIfErrorf(err)
}
