package adb

import (
	"context"
	"strings"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// probeLoop probes every device immediately and then on each interval.
func (c *Channel) probeLoop(ctx context.Context) error {
	c.probeAll(ctx)

	ticker := time.NewTicker(c.opts.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.probeAll(ctx)
		}
	}
}

func (c *Channel) probeAll(ctx context.Context) {
	for _, id := range c.Devices() {
		if ctx.Err() != nil {
			return
		}
		c.ProbeDevice(ctx, id)
	}
}

// ProbeDevice runs the boot_completed check outside the command queue so a
// long-running command cannot mask a disconnect.
func (c *Channel) ProbeDevice(ctx context.Context, deviceID string) models.DeviceConnectionState {
	res, err := c.client.exec(ctx, models.DeviceCommand{
		Args:     ProbeArgs(),
		DeviceID: deviceID,
		Timeout:  c.opts.ProbeTimeout,
	})
	if ctx.Err() != nil {
		return c.ConnectionState(deviceID)
	}

	switch {
	case err != nil:
		c.setState(deviceID, models.DeviceError, err.Error())
	case res.Success && strings.TrimSpace(res.Output) == "1":
		c.setState(deviceID, models.DeviceConnected, "")
	case res.Success:
		// reachable but not booted
		if c.hasConnected(deviceID) {
			c.setState(deviceID, models.DeviceDisconnected, "boot not completed")
		} else {
			c.setState(deviceID, models.DeviceBooting, "")
		}
	default:
		c.setState(deviceID, models.DeviceDisconnected, res.Error)
	}
	return c.ConnectionState(deviceID)
}

func (c *Channel) hasConnected(deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.devices[deviceID]
	return ok && entry.everConnected
}
