package models

import (
	"fmt"
	"strings"
)

// DeviceConnectionState is the liveness of one device id as seen by the command channel.
type DeviceConnectionState int

const (
	DeviceDisconnected DeviceConnectionState = iota
	DeviceConnected
	DeviceBooting
	DeviceError
)

var deviceStateNames = [...]string{"disconnected", "connected", "booting", "error"}

func (s DeviceConnectionState) String() string {
	if int(s) < 0 || int(s) >= len(deviceStateNames) {
		return fmt.Sprintf("device_state(%d)", int(s))
	}
	return deviceStateNames[s]
}

func (s DeviceConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Booting is only entered before a device has ever been seen as connected;
// the channel enforces that part since it needs history.
var validDeviceTransitions = map[DeviceConnectionState]map[DeviceConnectionState]bool{
	DeviceDisconnected: {DeviceConnected: true, DeviceBooting: true, DeviceError: true},
	DeviceBooting:      {DeviceConnected: true, DeviceDisconnected: true, DeviceError: true},
	DeviceConnected:    {DeviceDisconnected: true, DeviceError: true},
	DeviceError:        {DeviceConnected: true, DeviceDisconnected: true},
}

// CanTransitionDevice reports whether a device may move from one state to another.
func CanTransitionDevice(from, to DeviceConnectionState) bool {
	return validDeviceTransitions[from][to]
}

// Device is an Android device known to the pool.
type Device struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	ADBDeviceID    string                `json:"adb_device_id"`
	HardwareSerial string                `json:"hardware_serial,omitempty"`
	Status         string                `json:"status"` // online, offline (as reported by adb devices)
	State          DeviceConnectionState `json:"connection_state"`
	Resolution     string                `json:"resolution"`
	Battery        int                   `json:"battery"`
	AndroidVersion string                `json:"android_version"`
	LastSeen       int64                 `json:"last_seen"`
}

// IsWiFi reports whether the adb id is a network (ip:port) connection.
func (d *Device) IsWiFi() bool {
	return strings.Contains(d.ADBDeviceID, ":")
}
