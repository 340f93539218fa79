// Package config loads the robot configuration: drivetrain geometry,
// controller gains, motion constraints, loop settings and hardware paths.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/tigerbot-team/cardinal/pkg/chassis"
	"github.com/tigerbot-team/cardinal/pkg/controller"
	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/hardware"
	"github.com/tigerbot-team/cardinal/pkg/kinematics"
	"github.com/tigerbot-team/cardinal/pkg/trajectory"
)

const (
	DrivetrainMecanum      = "mecanum"
	DrivetrainDifferential = "differential"
)

type Drivetrain struct {
	Type             string `mapstructure:"type" yaml:"type"`
	chassis.Geometry `mapstructure:",squash" yaml:",inline"`
}

type Loop struct {
	Period       time.Duration `mapstructure:"period" yaml:"period"`
	drive.Config `mapstructure:",squash" yaml:",inline"`
}

type Telemetry struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DBPath  string `mapstructure:"dbPath" yaml:"dbPath"`
}

type Config struct {
	LogLevel   string                 `mapstructure:"logLevel" yaml:"logLevel"`
	Drivetrain Drivetrain             `mapstructure:"drivetrain" yaml:"drivetrain"`
	Controller controller.Config      `mapstructure:"controller" yaml:"controller"`
	Motion     trajectory.Constraints `mapstructure:"constraints" yaml:"constraints"`
	Loop       Loop                   `mapstructure:"loop" yaml:"loop"`
	Hardware   hardware.RobotConfig   `mapstructure:"hardware" yaml:"hardware"`
	Telemetry  Telemetry              `mapstructure:"telemetry" yaml:"telemetry"`
}

func setDefaults(v *viper.Viper) {
	def := chassis.Default()

	v.SetDefault("logLevel", "info")

	v.SetDefault("drivetrain.type", DrivetrainMecanum)
	v.SetDefault("drivetrain.wheelDiameter", def.WheelDiameter)
	v.SetDefault("drivetrain.trackWidth", def.TrackWidth)
	v.SetDefault("drivetrain.wheelBase", def.WheelBase)
	v.SetDefault("drivetrain.ticksPerRev", def.TicksPerRev)
	v.SetDefault("drivetrain.gearRatio", def.GearRatio)

	v.SetDefault("controller.translation.kp", 3.0)
	v.SetDefault("controller.translation.ki", 0.0)
	v.SetDefault("controller.translation.kd", 0.0)
	v.SetDefault("controller.heading.kp", 3.0)
	v.SetDefault("controller.heading.ki", 0.0)
	v.SetDefault("controller.heading.kd", 0.0)
	v.SetDefault("controller.maxIntegral", 0.3)
	v.SetDefault("controller.maxVelocity", 30.0)
	v.SetDefault("controller.maxAcceleration", 60.0)
	v.SetDefault("controller.maxAngularVelocity", 6.0)
	v.SetDefault("controller.maxAngularAcceleration", 12.0)
	v.SetDefault("controller.positionTolerance", 0.5)
	v.SetDefault("controller.headingTolerance", 0.05)

	v.SetDefault("constraints.maxVelocity", 20.0)
	v.SetDefault("constraints.maxAcceleration", 20.0)
	v.SetDefault("constraints.startVelocity", 0.0)
	v.SetDefault("constraints.endVelocity", 0.0)

	v.SetDefault("loop.period", 20*time.Millisecond)
	v.SetDefault("loop.staleReadingLimit", 5)
	v.SetDefault("loop.outputMode", string(drive.OutputPower))
	v.SetDefault("loop.maxWheelVelocity", 40.0)

	v.SetDefault("hardware.i2cBus", "/dev/i2c-1")
	v.SetDefault("hardware.imuDevice", "/dev/ttyAMA0")
	v.SetDefault("hardware.useIMU", true)
	v.SetDefault("hardware.period", 10*time.Millisecond)
	v.SetDefault("hardware.maxReadingAge", 100*time.Millisecond)
	v.SetDefault("hardware.watchdog", 250*time.Millisecond)
	v.SetDefault("hardware.healthInterval", 5*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dbPath", "cardinal-telemetry.db")
}

// Load reads the YAML file at path over the defaults. An empty path gives
// the defaults. Any key can be overridden from the environment as
// CARDINAL_SECTION_KEY, e.g. CARDINAL_LOOP_PERIOD=10ms.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("cardinal")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "error decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Drivetrain.Geometry.Validate(); err != nil {
		return err
	}
	switch c.Drivetrain.Type {
	case DrivetrainMecanum, DrivetrainDifferential:
	default:
		return errors.Errorf("unknown drivetrain type %q", c.Drivetrain.Type)
	}
	if c.Loop.Period <= 0 {
		return errors.Errorf("loop period must be positive, got %v", c.Loop.Period)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "bad logLevel")
	}
	return nil
}

// WriteInUse records the configuration actually in use, so a run can be
// reproduced after the source file has been edited.
func (c *Config) WriteInUse(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshalling config")
	}
	if err := os.WriteFile(path, out, 0666); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// ApplyLogLevel sets the global logrus level.
func (c *Config) ApplyLogLevel() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func (c *Config) Chassis() chassis.Geometry {
	return c.Drivetrain.Geometry
}

func (c *Config) Kinematics() (kinematics.Kinematics, error) {
	g := c.Drivetrain.Geometry
	var (
		kin *kinematics.Matrix
		err error
	)
	switch c.Drivetrain.Type {
	case DrivetrainDifferential:
		kin, err = kinematics.NewDifferential(g.TrackWidth)
	default:
		kin, err = kinematics.NewMecanum(g.TrackWidth, g.WheelBase)
	}
	if err != nil {
		return nil, err
	}
	return kin, nil
}

func (c *Config) ControllerConfig() controller.Config {
	return c.Controller
}

// Constraints are the default motion constraints for new trajectories.
func (c *Config) Constraints() trajectory.Constraints {
	return c.Motion
}

func (c *Config) DriveConfig() drive.Config {
	return c.Loop.Config
}
