package hardware

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/bno08x"
	"github.com/tigerbot-team/cardinal/pkg/chassis"
	"github.com/tigerbot-team/cardinal/pkg/drive"
	"github.com/tigerbot-team/cardinal/pkg/kinematics"
	"github.com/tigerbot-team/cardinal/pkg/picobldc"
)

var ErrStaleReading = errors.New("no recent wheel reading")

const robotWheels = 4

type RobotConfig struct {
	I2CBus    string        `mapstructure:"i2cBus" yaml:"i2cBus"`
	IMUDevice string        `mapstructure:"imuDevice" yaml:"imuDevice"`
	UseIMU    bool          `mapstructure:"useIMU" yaml:"useIMU"`
	Period    time.Duration `mapstructure:"period" yaml:"period"`
	// Readings older than this are reported as failures.
	MaxReadingAge time.Duration `mapstructure:"maxReadingAge" yaml:"maxReadingAge"`
	// The board stops the motors by itself if the I2C loop stalls this long.
	Watchdog       time.Duration `mapstructure:"watchdog" yaml:"watchdog"`
	HealthInterval time.Duration `mapstructure:"healthInterval" yaml:"healthInterval"`
}

// Robot is the mecanum chassis: a Pico-BLDC motor board and, optionally, a
// BNO08x IMU. A background loop owns the I2C bus; the drive.Drivetrain
// methods only exchange cached values with it.
type Robot struct {
	cfg      RobotConfig
	geometry chassis.Geometry
	mode     drive.OutputMode
	maxWheel float64
	log      *logrus.Entry

	openPico func() (picobldc.Interface, error)
	imu      *bno08x.IMU

	lock sync.Mutex
	// Desired values.  Stored off in case we need to re-initialise the hardware.
	speeds picobldc.PerMotorVal[int16]
	// Encoder totals, continuous across reconnects.
	steps       picobldc.PerMotorVal[int64]
	readingTime time.Time
	health      picobldc.Health
}

var _ drive.Drivetrain = (*Robot)(nil)

// NewRobot needs four-wheel kinematics in front left, front right, back
// left, back right order; the motor board has four channels.
func NewRobot(cfg RobotConfig, g chassis.Geometry, kin kinematics.Kinematics, d drive.Config) (*Robot, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if n := kin.NumWheels(); n != robotWheels {
		return nil, errors.Wrapf(kinematics.ErrWheelCount, "robot drives %d wheels, kinematics has %d", robotWheels, n)
	}
	if !(d.MaxWheelVelocity > 0) {
		return nil, errors.New("robot needs a positive maxWheelVelocity to scale motor output")
	}
	if cfg.Period <= 0 {
		cfg.Period = 10 * time.Millisecond
	}
	if cfg.MaxReadingAge <= 0 {
		cfg.MaxReadingAge = 5 * cfg.Period
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	r := &Robot{
		cfg:      cfg,
		geometry: g,
		mode:     d.OutputMode,
		maxWheel: d.MaxWheelVelocity,
		log:      logrus.WithField("component", "robot"),
		openPico: func() (picobldc.Interface, error) {
			return picobldc.New(cfg.I2CBus)
		},
	}
	if cfg.UseIMU {
		r.imu = bno08x.New(cfg.IMUDevice)
	}
	return r, nil
}

// Start launches the I2C and IMU loops and waits for the first wheel
// reading (or ctx to end).
func (r *Robot) Start(ctx context.Context, wg *sync.WaitGroup) {
	var initDone sync.WaitGroup
	initDone.Add(1)
	wg.Add(1)
	go r.loop(ctx, wg, &initDone)
	if r.imu != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.imu.LoopReadingReports(ctx)
		}()
	}
	initDone.Wait()
}

func (r *Robot) ReadWheelPositions() (drive.WheelReading, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.readingTime.IsZero() || time.Since(r.readingTime) > r.cfg.MaxReadingAge {
		return drive.WheelReading{}, ErrStaleReading
	}
	steps := r.steps.WheelOrder()
	positions := make([]float64, len(steps))
	for i, s := range steps {
		positions[i] = r.geometry.TicksToDistance(s)
	}
	return drive.WheelReading{Positions: positions, Timestamp: r.readingTime}, nil
}

// Health returns the most recent motor board health reading.
func (r *Robot) Health() picobldc.Health {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.health
}

func (r *Robot) ReadHeading() (float64, bool, error) {
	if r.imu == nil {
		return 0, false, nil
	}
	h, ok := r.imu.Heading(4 * bno08x.ReportInterval)
	return h, ok, nil
}

// WriteWheelCommands takes front left, front right, back left, back right.
func (r *Robot) WriteWheelCommands(wheels []float64) error {
	if len(wheels) != robotWheels {
		return errors.Wrapf(kinematics.ErrWheelCount, "got %d wheel commands", len(wheels))
	}
	var speeds picobldc.PerMotorVal[int16]
	for i, m := range []int{picobldc.MotorFrontLeft, picobldc.MotorFrontRight, picobldc.MotorBackLeft, picobldc.MotorBackRight} {
		speeds[m] = r.scale(wheels[i])
	}
	r.lock.Lock()
	r.speeds = speeds
	r.lock.Unlock()
	return nil
}

func (r *Robot) scale(w float64) int16 {
	if r.mode != drive.OutputPower {
		w /= r.maxWheel
	}
	if math.IsNaN(w) {
		return 0
	}
	w = math.Max(-1, math.Min(1, w))
	return int16(math.Round(w * math.MaxInt16))
}
