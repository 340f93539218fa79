package hardware

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tigerbot-team/cardinal/pkg/picobldc"
)

func (r *Robot) loop(ctx context.Context, wg *sync.WaitGroup, initDone *sync.WaitGroup) {
	defer wg.Done()
	r.log.Info("I2C loop started")
	defer r.log.Info("I2C loop exited")
	for {
		r.loopUntilSomethingBadHappens(ctx, initDone)
		if ctx.Err() != nil {
			return
		}
		r.log.Error("===== !!! WARNING !!! I2C FAILURE; TRYING TO RECOVER =====")
		initDone = nil
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *Robot) loopUntilSomethingBadHappens(ctx context.Context, initDone *sync.WaitGroup) {
	defer func() {
		if initDone != nil {
			initDone.Done()
		}
	}()

	pico, err := r.openPico()
	if err != nil {
		r.log.WithError(err).Error("Failed to open motor board")
		return
	}
	defer func() {
		_ = pico.SetMotorSpeeds(0, 0, 0, 0)
		_ = pico.Close()
	}()

	if r.cfg.Watchdog > 0 {
		if err := pico.SetWatchdog(r.cfg.Watchdog); err != nil {
			r.log.WithError(err).Error("Failed to enable motor board watchdog")
			return
		}
	}
	var lastHealth time.Time

	r.lock.Lock()
	counter := picobldc.NewStepCounter(pico, r.steps)
	r.lock.Unlock()

	ticker := time.NewTicker(r.cfg.Period)
	defer ticker.Stop()

	var last picobldc.PerMotorVal[int16]
	var lastWrite time.Time
	first := true

	for ctx.Err() == nil {
		steps, err := counter.Poll()
		if err != nil {
			r.log.WithError(err).Error("Failed to read encoders")
			return
		}
		now := time.Now()

		r.lock.Lock()
		r.steps = steps
		r.readingTime = now
		speeds := r.speeds
		r.lock.Unlock()

		if initDone != nil {
			initDone.Done()
			initDone = nil
		}

		// Unchanged speeds are still re-sent often enough to keep the board
		// watchdog fed.
		refresh := r.cfg.Watchdog > 0 && time.Since(lastWrite) >= r.cfg.Watchdog/2
		if first || speeds != last || refresh {
			err = pico.SetMotorSpeeds(
				speeds[picobldc.MotorFrontLeft],
				speeds[picobldc.MotorFrontRight],
				speeds[picobldc.MotorBackLeft],
				speeds[picobldc.MotorBackRight],
			)
			if err != nil {
				r.log.WithError(err).Error("Failed to update motor speeds")
				return
			}
			last, first, lastWrite = speeds, false, time.Now()
		}

		if time.Since(lastHealth) >= r.cfg.HealthInterval {
			r.checkHealth(pico)
			lastHealth = time.Now()
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// checkHealth is advisory: a failed read is logged and the loop carries on.
func (r *Robot) checkHealth(pico picobldc.Interface) {
	h, err := pico.Health()
	if err != nil {
		r.log.WithError(err).Warn("Failed to read motor board health")
		return
	}
	r.lock.Lock()
	r.health = h
	r.lock.Unlock()

	log := r.log.WithFields(logrus.Fields{
		"battV": h.BattVolts,
		"amps":  h.CurrentAmps,
		"tempC": h.TemperatureC,
	})
	switch {
	case h.Faulted():
		log.Error("Motor board reports a fault")
	case h.WatchdogExpired():
		log.Warn("Motor board watchdog expired")
	default:
		log.Debug("Motor board health")
	}
}
