// Package bno08x reads heading reports from a BNO08x IMU in UART-RVC mode.
//
// In RVC mode the sensor streams 19 byte packets at 100Hz: a 0xaaaa header,
// an index byte, yaw, pitch and roll in hundredths of a degree, three
// accelerations, three reserved bytes and a checksum over the body.
package bno08x

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	DefaultDevice = "/dev/ttyAMA0"
	baudRate      = 115200

	ReportInterval = 10 * time.Millisecond

	packetLen = 19
)

var header = []byte{0xaa, 0xaa}

var (
	ErrLostSync    = errors.New("BNO08x packet stream out of sync")
	ErrBadChecksum = errors.New("BNO08x bad checksum")
)

// Report is one decoded RVC packet. Angles are in hundredths of a degree,
// accelerations in hundredths of g.
type Report struct {
	Time  time.Time
	Index uint8

	Yaw, Pitch, Roll       int16
	XAccel, YAccel, ZAccel int16
}

func (r Report) YawDegrees() float64 {
	return float64(r.Yaw) / 100
}

// HeadingRadians is the yaw, anticlockwise positive.
func (r Report) HeadingRadians() float64 {
	return r.YawDegrees() * math.Pi / 180
}

// IMU keeps the latest report from the serial stream.
type IMU struct {
	device string
	log    *logrus.Entry

	lock    sync.Mutex
	latest  Report
	updated chan struct{}
}

func New(device string) *IMU {
	if device == "" {
		device = DefaultDevice
	}
	return &IMU{
		device:  device,
		log:     logrus.WithField("component", "bno08x"),
		updated: make(chan struct{}),
	}
}

func (m *IMU) Latest() Report {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.latest
}

// Heading returns the latest heading and whether it is younger than maxAge.
func (m *IMU) Heading(maxAge time.Duration) (float64, bool) {
	r := m.Latest()
	if r.Time.IsZero() || time.Since(r.Time) > maxAge {
		return 0, false
	}
	return r.HeadingRadians(), true
}

// WaitForReport blocks until a report newer than after arrives or ctx ends.
func (m *IMU) WaitForReport(ctx context.Context, after time.Time) (Report, error) {
	for {
		m.lock.Lock()
		r, updated := m.latest, m.updated
		m.lock.Unlock()
		if r.Time.After(after) {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-updated:
		}
	}
}

func (m *IMU) publish(r Report) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.latest = r
	close(m.updated)
	m.updated = make(chan struct{})
}

// LoopReadingReports reads the serial port until ctx ends, reopening it
// after errors.
func (m *IMU) LoopReadingReports(ctx context.Context) {
	for ctx.Err() == nil {
		err := m.readPort(ctx)
		if ctx.Err() != nil {
			return
		}
		m.log.WithError(err).Warn("IMU stream stopped; reopening")
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (m *IMU) readPort(ctx context.Context) error {
	port, err := serial.Open(m.device, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return errors.Wrapf(err, "opening %s", m.device)
	}
	defer port.Close()

	// Closing the port is the only way to interrupt a blocked read.
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer stop()

	return m.readStream(ctx, bufio.NewReader(port))
}

func (m *IMU) readStream(ctx context.Context, br *bufio.Reader) error {
	for {
		if err := Resync(br); err != nil {
			return err
		}
		m.log.Debug("In sync with packet stream")
		for ctx.Err() == nil {
			r, err := ReadReport(br)
			if errors.Is(err, ErrLostSync) || errors.Is(err, ErrBadChecksum) {
				m.log.WithError(err).Warn("Dropping packet")
				break
			}
			if err != nil {
				return err
			}
			r.Time = time.Now()
			m.publish(r)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Resync discards bytes up to the next packet header.
func Resync(br *bufio.Reader) error {
	for {
		buf, err := br.Peek(len(header))
		if err != nil {
			return errors.Wrap(err, "resyncing")
		}
		if bytes.Equal(buf, header) {
			return nil
		}
		if _, err := br.Discard(1); err != nil {
			return errors.Wrap(err, "resyncing")
		}
	}
}

// ReadReport reads and checks one packet. After ErrLostSync or
// ErrBadChecksum the caller must Resync.
func ReadReport(br *bufio.Reader) (Report, error) {
	var buf [packetLen]byte
	if _, err := io.ReadFull(br, buf[:]); err != nil {
		return Report{}, errors.Wrap(err, "reading packet")
	}
	if !bytes.Equal(buf[:2], header) {
		return Report{}, ErrLostSync
	}
	body := buf[2 : packetLen-1]
	var sum uint8
	for _, b := range body {
		sum += b
	}
	if got := buf[packetLen-1]; got != sum {
		return Report{}, errors.Wrapf(ErrBadChecksum, "got %#02x, want %#02x", got, sum)
	}
	word := func(i int) int16 {
		return int16(binary.LittleEndian.Uint16(body[1+2*i:]))
	}
	return Report{
		Index:  body[0],
		Yaw:    word(0),
		Pitch:  word(1),
		Roll:   word(2),
		XAccel: word(3),
		YAccel: word(4),
		ZAccel: word(5),
	}, nil
}
