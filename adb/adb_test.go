package adb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thirteen88/ish-automation-sub001/adb/adbtest"
	"github.com/Thirteen88/ish-automation-sub001/models"
)

func TestADBClientRun(t *testing.T) {
	runner := adbtest.NewRunner()
	runner.Respond("input tap", adbtest.Response{Stdout: ""})
	runner.Respond("bad", adbtest.Response{Stderr: "error: unknown command\n", ExitCode: 1})
	runner.Respond("slow", adbtest.Response{Delay: time.Second})
	runner.Respond("boom", adbtest.Response{Err: errors.New("exec: \"adb\": executable file not found in $PATH")})
	client := NewADBClient("adb", runner)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res := client.Run(ctx, models.DeviceCommand{Args: TapArgs(1, 2), DeviceID: "emu"})
		assert.True(t, res.Success)
		assert.Equal(t, "shell input tap 1 2", res.CommandText)
		assert.Equal(t, []string{"-s", "emu", "shell", "input", "tap", "1", "2"}, runner.Calls()[len(runner.Calls())-1])
	})

	t.Run("non-zero exit carries stderr", func(t *testing.T) {
		res := client.Run(ctx, models.DeviceCommand{Args: []string{"shell", "bad"}, DeviceID: "emu"})
		assert.False(t, res.Success)
		assert.Equal(t, 1, res.ExitCode)
		assert.Equal(t, models.KindCommandFailed, res.ErrorKind)
		assert.Equal(t, "error: unknown command", res.Error)
		assert.True(t, models.IsKind(res.Err(), models.KindCommandFailed))
	})

	t.Run("timeout", func(t *testing.T) {
		res := client.Run(ctx, models.DeviceCommand{Args: []string{"shell", "slow"}, DeviceID: "emu", Timeout: 20 * time.Millisecond})
		assert.False(t, res.Success)
		assert.Equal(t, models.KindCommandTimeout, res.ErrorKind)
		assert.Less(t, res.Duration, 500*time.Millisecond)
	})

	t.Run("spawn failure", func(t *testing.T) {
		res, err := client.exec(ctx, models.DeviceCommand{Args: []string{"boom"}, DeviceID: "emu"})
		assert.Error(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, models.KindCommandFailed, res.ErrorKind)
	})
}

func TestListDevicesPrefersWiFi(t *testing.T) {
	runner := adbtest.NewRunner()
	runner.Respond("devices -l", adbtest.Response{Stdout: "List of devices attached\n" +
		"R58M123 device usb:1-1 product:a52 model:SM_A525F device:a52q\n" +
		"192.168.1.20:5555 device product:a52 model:SM_A525F device:a52q\n" +
		"emulator-5554 offline\n"})
	runner.Respond("getprop ro.serialno", adbtest.Response{Stdout: "R58M123\n"})
	runner.Respond("getprop ro.build.version.release", adbtest.Response{Stdout: "14\n"})
	runner.Respond("wm size", adbtest.Response{Stdout: "Physical size: 1080x2400\nOverride size: 720x1600\n"})
	runner.Respond("dumpsys battery", adbtest.Response{Stdout: "Current Battery Service state:\n  level: 87\n  scale: 100\n"})

	client := NewADBClient("", runner)
	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, "192.168.1.20:5555", d.ADBDeviceID)
	assert.Equal(t, "SM A525F", d.Name)
	assert.Equal(t, "14", d.AndroidVersion)
	assert.Equal(t, "720x1600", d.Resolution)
	assert.Equal(t, 87, d.Battery)
	assert.Equal(t, "R58M123", d.HardwareSerial)
}

func TestListDevicesFailure(t *testing.T) {
	runner := adbtest.NewRunner()
	runner.Respond("devices -l", adbtest.Response{Stderr: "cannot connect to daemon", ExitCode: 1})

	_, err := NewADBClient("", runner).ListDevices(context.Background())
	assert.ErrorContains(t, err, "cannot connect to daemon")
}

func TestLooksDisconnected(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"error: device 'emulator-5554' not found", true},
		{"adb: device 'R58M123' not found", true},
		{"error: device not found", true},
		{"adb: no devices/emulators found", true},
		{"error: no devices found", true},
		{"error: device offline", true},
		{"error: device unauthorized.", true},
		{"error: closed", true},
		{"Error: Activity not started, unable to resolve Intent", false},
		{"/system/bin/sh: input: not found", false},
		{"java.lang.SecurityException: Injecting to another application requires INJECT_EVENTS permission", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, looksDisconnected(tt.msg))
		})
	}
}
