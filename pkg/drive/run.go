package drive

import (
	"context"
	"time"
)

// Run calls Tick every period until ctx is cancelled, then stops the
// coordinator and writes zero output.
func Run(ctx context.Context, c *Coordinator, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer c.log.Info("Drive loop exited")

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			c.zeroOutput()
			return
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}

func (c *Coordinator) zeroOutput() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.drivetrain.WriteWheelCommands(make([]float64, c.kin.NumWheels())); err != nil {
		c.log.WithError(err).Warn("Failed to zero wheel commands")
	}
}
