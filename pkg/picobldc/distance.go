package picobldc

type travelSource interface {
	RawDistancesTraveled() (PerMotorVal[int16], error)
}

// StepCounter turns the board's wrapping int16 travel registers into
// unbounded per-channel step totals. Channels must move fewer than 32768
// steps between polls.
type StepCounter struct {
	src    travelSource
	primed bool
	last   PerMotorVal[int16]
	totals PerMotorVal[int64]
}

// NewStepCounter counts on from start. The first Poll only takes the
// register reference, so a counter made for a new connection keeps the
// totals continuous.
func NewStepCounter(src travelSource, start PerMotorVal[int64]) *StepCounter {
	return &StepCounter{src: src, totals: start}
}

func (c *StepCounter) Poll() (PerMotorVal[int64], error) {
	raw, err := c.src.RawDistancesTraveled()
	if err != nil {
		return c.totals, err
	}
	if c.primed {
		for m := range raw {
			// int16 subtraction wraps.
			c.totals[m] += int64(raw[m] - c.last[m])
		}
	}
	c.last, c.primed = raw, true
	return c.totals, nil
}

func (c *StepCounter) Totals() PerMotorVal[int64] {
	return c.totals
}
