package service

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// DeviceLister discovers attached devices; *adb.ADBClient implements it.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
}

// DevicePool is the part of the command channel the manager drives.
type DevicePool interface {
	AddDevice(deviceID string)
	ConnectionState(deviceID string) models.DeviceConnectionState
	ProbeDevice(ctx context.Context, deviceID string) models.DeviceConnectionState
	GetOptimalDevice() (string, bool)
}

// DeviceManager keeps the inventory of devices seen by adb and registers
// them with the command channel so the health probe tracks them.
type DeviceManager struct {
	lister  DeviceLister
	pool    DevicePool
	devices map[string]*models.Device
	mu      sync.RWMutex
}

func NewDeviceManager(lister DeviceLister, pool DevicePool) *DeviceManager {
	return &DeviceManager{
		lister:  lister,
		pool:    pool,
		devices: make(map[string]*models.Device),
	}
}

// ScanDevices scans for connected Android devices
func (m *DeviceManager) ScanDevices(ctx context.Context) error {
	found, err := m.lister.ListDevices(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(found))
	for i := range found {
		device := found[i]
		seen[device.ADBDeviceID] = true
		if _, known := m.devices[device.ADBDeviceID]; !known {
			log.Printf("📱 Discovered device %s (%s, Android %s)", device.ADBDeviceID, device.Name, device.AndroidVersion)
		}
		m.devices[device.ADBDeviceID] = &device
		if m.pool != nil {
			m.pool.AddDevice(device.ADBDeviceID)
		}
	}
	for id, device := range m.devices {
		if !seen[id] && device.Status != "offline" {
			device.Status = "offline"
			log.Printf("📴 Device %s no longer listed by adb", id)
		}
	}
	return nil
}

// SelectDevice scans, probes every listed device once and returns the pool's
// optimal device, the first one that answered as Connected.
func (m *DeviceManager) SelectDevice(ctx context.Context) (string, error) {
	if m.pool == nil {
		return "", models.Errorf(models.KindDeviceUnavailable, "select device", "no device pool")
	}
	if err := m.ScanDevices(ctx); err != nil {
		return "", models.NewError(models.KindDeviceUnavailable, "select device", err)
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.devices))
	for id, device := range m.devices {
		if device.Status != "offline" {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.pool.ProbeDevice(ctx, id)
	}

	id, ok := m.pool.GetOptimalDevice()
	if !ok {
		return "", models.Errorf(models.KindDeviceUnavailable, "select device", "none of %d listed device(s) is connected", len(ids))
	}
	if device, known := m.GetDevice(id); known {
		log.Printf("📱 Using device %s (%s)", id, device.Name)
	}
	return id, nil
}

// Track registers a device by adb id without waiting for a scan.
func (m *DeviceManager) Track(adbID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[adbID]; !ok {
		m.devices[adbID] = &models.Device{
			ID:          "device_" + adbID,
			Name:        adbID,
			ADBDeviceID: adbID,
			Status:      "unknown",
			LastSeen:    time.Now().Unix(),
		}
	}
	if m.pool != nil {
		m.pool.AddDevice(adbID)
	}
}

// GetAllDevices returns copies of all devices with their live connection state.
func (m *DeviceManager) GetAllDevices() []models.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	devices := make([]models.Device, 0, len(m.devices))
	for _, device := range m.devices {
		devices = append(devices, m.withState(device))
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ADBDeviceID < devices[j].ADBDeviceID })
	return devices
}

// GetDevice returns a single device by adb id
func (m *DeviceManager) GetDevice(adbID string) (models.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, ok := m.devices[adbID]
	if !ok {
		return models.Device{}, false
	}
	return m.withState(device), true
}

func (m *DeviceManager) withState(device *models.Device) models.Device {
	d := *device
	if m.pool != nil {
		d.State = m.pool.ConnectionState(d.ADBDeviceID)
	}
	return d
}
