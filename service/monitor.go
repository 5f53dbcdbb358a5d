package service

import (
	"context"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// monitorDevice moves the engine to Error when its device drops and back to
// Ready once the channel reports it connected again.
func (e *AutomationEngine) monitorDevice(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.checkDevice()
		}
	}
}

func (e *AutomationEngine) checkDevice() {
	state := e.channel.ConnectionState(e.cfg.DeviceID)
	status := e.Status()
	switch {
	case status == models.EngineError && state == models.DeviceConnected:
		e.setStatus(models.EngineReady, "device "+e.cfg.DeviceID+" reconnected")
	case (status == models.EngineReady || status.Busy()) && state != models.DeviceConnected:
		e.setStatus(models.EngineError, "device "+e.cfg.DeviceID+" is "+state.String())
	}
}
