package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

type fakeLister struct {
	devices []models.Device
	err     error
}

func (f *fakeLister) ListDevices(context.Context) ([]models.Device, error) {
	return f.devices, f.err
}

type fakePool struct {
	mu     sync.Mutex
	added  []string
	probed []string
}

func (p *fakePool) AddDevice(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, id)
}

func (p *fakePool) ConnectionState(id string) models.DeviceConnectionState {
	if id == "emulator-5554" {
		return models.DeviceConnected
	}
	return models.DeviceDisconnected
}

func (p *fakePool) ProbeDevice(_ context.Context, id string) models.DeviceConnectionState {
	p.mu.Lock()
	p.probed = append(p.probed, id)
	p.mu.Unlock()
	return p.ConnectionState(id)
}

func (p *fakePool) GetOptimalDevice() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.probed {
		if p.ConnectionState(id) == models.DeviceConnected {
			return id, true
		}
	}
	return "", false
}

func TestDeviceManagerScan(t *testing.T) {
	lister := &fakeLister{devices: []models.Device{
		{ID: "device_emulator-5554", ADBDeviceID: "emulator-5554", Name: "sdk gphone64", Status: "online"},
		{ID: "device_192.168.1.20:5555", ADBDeviceID: "192.168.1.20:5555", Name: "SM A525F", Status: "online"},
	}}
	pool := &fakePool{}
	m := NewDeviceManager(lister, pool)

	require.NoError(t, m.ScanDevices(context.Background()))
	devices := m.GetAllDevices()
	require.Len(t, devices, 2)
	assert.Equal(t, "192.168.1.20:5555", devices[0].ADBDeviceID, "sorted by adb id")
	assert.Equal(t, models.DeviceDisconnected, devices[0].State)
	assert.Equal(t, models.DeviceConnected, devices[1].State)
	assert.ElementsMatch(t, []string{"emulator-5554", "192.168.1.20:5555"}, pool.added)

	lister.devices = lister.devices[:1]
	require.NoError(t, m.ScanDevices(context.Background()))
	gone, ok := m.GetDevice("192.168.1.20:5555")
	require.True(t, ok)
	assert.Equal(t, "offline", gone.Status)

	lister.err = errors.New("adb server not running")
	assert.Error(t, m.ScanDevices(context.Background()))
	assert.Len(t, m.GetAllDevices(), 2, "a failed scan keeps the inventory")
}

func TestDeviceManagerTrack(t *testing.T) {
	pool := &fakePool{}
	m := NewDeviceManager(&fakeLister{}, pool)
	m.Track("emulator-5554")
	m.Track("emulator-5554")

	d, ok := m.GetDevice("emulator-5554")
	require.True(t, ok)
	assert.Equal(t, "device_emulator-5554", d.ID)
	assert.Equal(t, models.DeviceConnected, d.State)
	assert.Len(t, m.GetAllDevices(), 1)

	_, ok = m.GetDevice("missing")
	assert.False(t, ok)
}

func TestDeviceManagerSelectDevice(t *testing.T) {
	t.Run("picks the connected device", func(t *testing.T) {
		pool := &fakePool{}
		m := NewDeviceManager(&fakeLister{devices: []models.Device{
			{ADBDeviceID: "192.168.1.20:5555", Name: "SM A525F"},
			{ADBDeviceID: "emulator-5554", Name: "sdk gphone64"},
		}}, pool)

		id, err := m.SelectDevice(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "emulator-5554", id)
		assert.ElementsMatch(t, []string{"192.168.1.20:5555", "emulator-5554"}, pool.probed)
	})

	t.Run("no connected device", func(t *testing.T) {
		m := NewDeviceManager(&fakeLister{devices: []models.Device{{ADBDeviceID: "R58M123"}}}, &fakePool{})
		_, err := m.SelectDevice(context.Background())
		assert.True(t, models.IsKind(err, models.KindDeviceUnavailable))
	})

	t.Run("scan failure", func(t *testing.T) {
		m := NewDeviceManager(&fakeLister{err: errors.New("adb server not running")}, &fakePool{})
		_, err := m.SelectDevice(context.Background())
		assert.True(t, models.IsKind(err, models.KindDeviceUnavailable))
	})
}
