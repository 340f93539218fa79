package drive

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tigerbot-team/cardinal/pkg/drive"

// defaultMeter comes from the global provider, which is a no-op unless the
// host installs one.
func defaultMeter() metric.Meter {
	return otel.Meter(instrumentationName)
}

type metrics struct {
	staleReadings metric.Int64Counter
	saturated     metric.Int64Counter
	faults        metric.Int64Counter
	completed     metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		ms  metrics
		err error
	)
	ms.staleReadings, err = m.Int64Counter(
		"drive.readings.stale",
		metric.WithDescription("Wheel position reads that failed or returned the wrong wheel count"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating stale readings counter")
	}
	ms.saturated, err = m.Int64Counter(
		"drive.ticks.saturated",
		metric.WithDescription("Ticks where the velocity command was clipped"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating saturated ticks counter")
	}
	ms.faults, err = m.Int64Counter(
		"drive.faults",
		metric.WithDescription("Sensor timeout faults raised"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating faults counter")
	}
	ms.completed, err = m.Int64Counter(
		"drive.trajectories.completed",
		metric.WithDescription("Trajectories followed to completion"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating completed counter")
	}
	return &ms, nil
}

func metricCtx() context.Context {
	return context.Background()
}
