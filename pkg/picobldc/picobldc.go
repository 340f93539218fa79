// Package picobldc drives the Pico-BLDC four channel motor board over I2C.
package picobldc

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/io/i2c"
)

const (
	PicoAddr = 0x42

	DefaultBus = "/dev/i2c-1"
)

type Register byte

const (
	RegCtrl Register = iota
	RegStatus
	RegWatchdogTimeout
	RegFaultCount

	RegMot0V
	RegMot1V
	RegMot2V
	RegMot3V

	RegMot0Calib
	RegMot1Calib
	RegMot2Calib
	RegMot3Calib

	RegBattV // LSB=4mV
	RegCurrent
	RegPower

	RegTemperature // LSB = 0.01C

	// Free-running, wrapping int16 encoder step counts.
	RegMot0Travel
	RegMot1Travel
	RegMot2Travel
	RegMot3Travel
)

const (
	BattVLSB       = 0.004
	CurrentLSB     = 0.0001831054688
	PowerLSB       = CurrentLSB * 20
	TemperatureLSB = 0.01
)

const (
	RegCtrlEnableI2CControl uint16 = 1 << iota
	RegCtrlRun
	RegCtrlDoCalib
	RegCtrlReset
	RegCtrlWatchdogEnable
)

type StatusFlag uint16

const (
	RegStatusFault StatusFlag = 1 << iota
	RegStatusCalibDone
	RegStatusWatchdogExpired
)

// Motor channels. The board's channel order is not the chassis order.
const (
	MotorBackRight = iota
	MotorFrontRight
	MotorFrontLeft
	MotorBackLeft
)

// PerMotorVal holds one value per board channel, indexed by Motor* constants.
type PerMotorVal[T any] [4]T

// WheelOrder returns the values as front left, front right, back left, back right.
func (p PerMotorVal[T]) WheelOrder() []T {
	return []T{p[MotorFrontLeft], p[MotorFrontRight], p[MotorBackLeft], p[MotorBackRight]}
}

var ErrCalibrationTimeout = errors.New("Pico-BLDC calibration did not finish")

const (
	configRefresh      = 100 * time.Millisecond
	calibrationTimeout = 10 * time.Second
)

type Interface interface {
	SetMotorSpeeds(frontLeft, frontRight, backLeft, backRight int16) error
	RawDistancesTraveled() (PerMotorVal[int16], error)
	// SetWatchdog makes the board stop the motors if it hears nothing for
	// timeout. Zero disables it.
	SetWatchdog(timeout time.Duration) error
	Health() (Health, error)
	Close() error
}

// device is the subset of *i2c.Device we use.
type device interface {
	Write(buf []byte) error
	ReadReg(reg byte, buf []byte) error
	Close() error
}

type PicoBLDC struct {
	open func() (device, error)
	dev  device
	log  *logrus.Entry

	lastConfigWord  uint16
	lastConfigTime  time.Time
	watchdogEnabled bool
	watchdog        time.Duration
	calibrated      bool
}

var _ Interface = (*PicoBLDC)(nil)

func New(bus string) (*PicoBLDC, error) {
	if bus == "" {
		bus = DefaultBus
	}
	return newWithOpener(func() (device, error) {
		return i2c.Open(&i2c.Devfs{Dev: bus}, PicoAddr)
	})
}

func newWithOpener(open func() (device, error)) (*PicoBLDC, error) {
	dev, err := open()
	if err != nil {
		return nil, errors.Wrap(err, "opening Pico-BLDC")
	}
	return &PicoBLDC{
		open: open,
		dev:  dev,
		log:  logrus.WithField("component", "picobldc"),
	}, nil
}

func (p *PicoBLDC) SetWatchdog(timeout time.Duration) error {
	p.watchdogEnabled = timeout > 0
	p.watchdog = timeout
	if p.watchdogEnabled {
		ms := min(timeout.Milliseconds(), math.MaxUint16)
		if err := p.writeReg(RegWatchdogTimeout, uint16(max(ms, 1))); err != nil {
			return err
		}
	}
	// Force the control word out so the enable bit takes effect now.
	p.lastConfigWord = 0
	return p.configure(false, false)
}

func (p *PicoBLDC) SetMotorSpeeds(frontLeft, frontRight, backLeft, backRight int16) error {
	if err := p.configure(false, true); err != nil {
		return err
	}
	var speeds PerMotorVal[int16]
	speeds[MotorFrontLeft] = frontLeft
	speeds[MotorFrontRight] = frontRight
	speeds[MotorBackLeft] = backLeft
	speeds[MotorBackRight] = backRight
	for m, s := range speeds {
		if err := p.writeReg(RegMot0V+Register(m), uint16(s)); err != nil {
			return err
		}
	}
	return nil
}

// RawDistancesTraveled returns each channel's wrapping encoder count. Use a
// StepCounter to accumulate them.
func (p *PicoBLDC) RawDistancesTraveled() (raw PerMotorVal[int16], err error) {
	for m := range raw {
		v, err := p.readReg(RegMot0Travel + Register(m))
		if err != nil {
			return raw, err
		}
		raw[m] = int16(v)
	}
	return raw, nil
}

// Close zeroes the motor speeds and releases the bus.
func (p *PicoBLDC) Close() error {
	err := p.configure(true, false)
	if cerr := p.dev.Close(); cerr != nil {
		return cerr
	}
	return err
}

const writeAttempts = 20

func (p *PicoBLDC) writeWithRetries(data []byte) error {
	var err error
	for attempt := 1; attempt <= writeAttempts; attempt++ {
		if err = p.dev.Write(data); err == nil {
			if attempt > 1 {
				p.log.WithField("attempts", attempt).Info("Write succeeded after retries")
			}
			return nil
		}
		p.log.WithError(err).WithField("attempt", attempt).Warn("Write failed; reopening bus")
		time.Sleep(time.Millisecond)
		_ = p.dev.Close()
		if dev, oerr := p.open(); oerr == nil {
			p.dev = dev
		}
	}
	return errors.Wrapf(err, "writing Pico-BLDC register %d", data[0])
}

// configure writes the control word if it changed or has not been refreshed
// for a while. The first call also checks calibration; an uncalibrated board
// calibrates with the wheels free to turn.
func (p *PicoBLDC) configure(zeroSpeeds, run bool) error {
	word := RegCtrlEnableI2CControl
	if zeroSpeeds {
		word |= RegCtrlReset
	}
	if run {
		word |= RegCtrlRun
	}
	if p.watchdogEnabled {
		word |= RegCtrlWatchdogEnable
	}
	refresh := configRefresh
	if p.watchdogEnabled {
		refresh = min(refresh, p.watchdog/2)
	}
	if word == p.lastConfigWord && time.Since(p.lastConfigTime) < refresh {
		return nil
	}

	if p.lastConfigWord == 0 && !p.calibrated {
		calib, err := p.readReg(RegMot3Calib)
		if err != nil {
			return err
		}
		if calib == 0 {
			p.log.Warn("Board not calibrated; calibrating")
			word |= RegCtrlDoCalib
		}
	}
	if err := p.writeReg(RegCtrl, word); err != nil {
		return err
	}
	if word&RegCtrlDoCalib != 0 {
		if err := p.waitForCalibration(calibrationTimeout); err != nil {
			return err
		}
	}
	p.calibrated = true
	// Acknowledge calibration so the status register only shows new events.
	if err := p.writeReg(RegStatus, uint16(RegStatusCalibDone)); err != nil {
		return err
	}

	p.lastConfigTime = time.Now()
	p.lastConfigWord = word &^ (RegCtrlReset | RegCtrlDoCalib)
	return nil
}

func (p *PicoBLDC) waitForCalibration(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	progress := time.NewTicker(time.Second)
	defer progress.Stop()
	for {
		status, err := p.readReg(RegStatus)
		if err == nil && StatusFlag(status)&RegStatusCalibDone != 0 {
			break
		}
		if time.Now().After(deadline) {
			return ErrCalibrationTimeout
		}
		select {
		case <-progress.C:
			p.log.WithField("status", status).Info("Waiting for calibration")
		case <-time.After(10 * time.Millisecond):
		}
	}

	var words PerMotorVal[uint16]
	for m := range words {
		v, err := p.readReg(RegMot0Calib + Register(m))
		if err != nil {
			return err
		}
		words[m] = v
	}
	p.log.WithField("words", words).Info("Calibration done")
	return nil
}

// Health is one snapshot of the board's supply and status registers.
type Health struct {
	BattVolts    float64
	CurrentAmps  float64
	TemperatureC float64
	Status       StatusFlag
}

func (h Health) Faulted() bool {
	return h.Status&RegStatusFault != 0
}

func (h Health) WatchdogExpired() bool {
	return h.Status&RegStatusWatchdogExpired != 0
}

func (p *PicoBLDC) Health() (Health, error) {
	var h Health
	for _, r := range []struct {
		reg   Register
		apply func(uint16)
	}{
		{RegBattV, func(v uint16) { h.BattVolts = float64(v) * BattVLSB }},
		{RegCurrent, func(v uint16) { h.CurrentAmps = float64(int16(v)) * CurrentLSB }},
		{RegTemperature, func(v uint16) { h.TemperatureC = float64(int16(v)) * TemperatureLSB }},
		{RegStatus, func(v uint16) { h.Status = StatusFlag(v) }},
	} {
		v, err := p.readReg(r.reg)
		if err != nil {
			return h, err
		}
		r.apply(v)
	}
	return h, nil
}

func (p *PicoBLDC) writeReg(reg Register, value uint16) error {
	return p.writeWithRetries([]byte{byte(reg), byte(value >> 8), byte(value)})
}

func (p *PicoBLDC) readReg(reg Register) (uint16, error) {
	var buf [2]byte
	err := p.dev.ReadReg(byte(reg), buf[:])
	if err != nil {
		return 0, errors.Wrapf(err, "reading register %d", reg)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}
