package adb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thirteen88/ish-automation-sub001/adb/adbtest"
	"github.com/Thirteen88/ish-automation-sub001/models"
)

func startChannel(t *testing.T, runner *adbtest.Runner, ids ...string) *Channel {
	t.Helper()
	ch := NewChannel(NewADBClient("adb", runner), ChannelOptions{
		ProbeInterval: 10 * time.Millisecond,
		ProbeTimeout:  time.Second,
		RetryBackoff:  time.Millisecond,
		Metrics:       MustNewMetrics(prometheus.NewRegistry()),
	}, ids...)
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Stop() })
	return ch
}

func waitForState(t *testing.T, ch *Channel, id string, want models.DeviceConnectionState) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.ConnectionState(id) == want },
		2*time.Second, 5*time.Millisecond, "device %s never became %s", id, want)
}

func TestChannelExecute(t *testing.T) {
	runner := adbtest.NewRunner()
	runner.Respond("echo", adbtest.Response{Stdout: "ok\n"})
	ch := startChannel(t, runner, "emu")
	waitForState(t, ch, "emu", models.DeviceConnected)

	res := ch.Execute(context.Background(), models.DeviceCommand{Args: []string{"shell", "echo"}, DeviceID: "emu"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ok\n", res.Output)

	stats := ch.Stats()
	assert.EqualValues(t, 1, stats.CommandsExecuted)
	assert.EqualValues(t, 0, stats.CommandsFailed)
	assert.Equal(t, models.DeviceConnected, stats.DeviceStates["emu"])
}

func TestChannelRejectsUnavailableDevice(t *testing.T) {
	runner := adbtest.NewRunner()
	runner.SetOnline(false)
	ch := startChannel(t, runner, "emu")
	require.Eventually(t, func() bool { return len(runner.CallsMatching("sys.boot_completed")) > 0 }, time.Second, 5*time.Millisecond)

	res := ch.Execute(context.Background(), models.DeviceCommand{Args: TapArgs(1, 1), DeviceID: "emu"})
	assert.False(t, res.Success)
	assert.Equal(t, models.KindDeviceUnavailable, res.ErrorKind)
	assert.Empty(t, runner.CallsMatching("input tap"))

	res = ch.Execute(context.Background(), models.DeviceCommand{Args: TapArgs(1, 1), DeviceID: "nope"})
	assert.Equal(t, models.KindDeviceUnavailable, res.ErrorKind)
}

func TestChannelPreservesSubmissionOrder(t *testing.T) {
	runner := adbtest.NewRunner()
	var inFlight, maxInFlight atomic.Int32
	runner.On("input text", func([]string) adbtest.Response {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return adbtest.Response{}
	})
	ch := startChannel(t, runner, "emu")
	waitForState(t, ch, "emu", models.DeviceConnected)

	for i := 0; i < 5; i++ {
		require.True(t, ch.Enqueue(models.DeviceCommand{Args: TextArgs(fmt.Sprintf("m%d", i)), DeviceID: "emu"}))
	}
	res := ch.Execute(context.Background(), models.DeviceCommand{Args: TextArgs("last"), DeviceID: "emu"})
	require.True(t, res.Success)

	calls := runner.CallsMatching("input text")
	require.Len(t, calls, 6)
	for i := 0; i < 5; i++ {
		assert.Contains(t, calls[i], fmt.Sprintf("m%d", i))
	}
	assert.Contains(t, calls[5], "last")
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestChannelTimeout(t *testing.T) {
	runner := adbtest.NewRunner()
	runner.Respond("sleep", adbtest.Response{Delay: 5 * time.Second})
	ch := startChannel(t, runner, "emu")
	waitForState(t, ch, "emu", models.DeviceConnected)

	start := time.Now()
	res := ch.Execute(context.Background(), models.DeviceCommand{Args: []string{"shell", "sleep"}, DeviceID: "emu", Timeout: 30 * time.Millisecond})
	assert.Equal(t, models.KindCommandTimeout, res.ErrorKind)
	assert.Less(t, time.Since(start), time.Second)
	assert.EqualValues(t, 1, ch.Stats().CommandsFailed)
}

func TestChannelDeviceLossFromCommandOutput(t *testing.T) {
	runner := adbtest.NewRunner()
	ch := NewChannel(NewADBClient("adb", runner), ChannelOptions{ProbeInterval: time.Hour}, "emu")
	require.NoError(t, ch.Start(context.Background()))
	defer ch.Stop()
	waitForState(t, ch, "emu", models.DeviceConnected)

	runner.Respond("input tap", adbtest.Response{Stderr: "error: device 'emu' not found", ExitCode: 1})
	res := ch.Execute(context.Background(), models.DeviceCommand{Args: TapArgs(5, 5), DeviceID: "emu"})
	assert.Equal(t, models.KindDeviceUnavailable, res.ErrorKind)
	assert.Contains(t, res.Error, "not found")
	assert.Equal(t, models.DeviceDisconnected, ch.ConnectionState("emu"))

	assert.Equal(t, models.DeviceConnected, ch.ProbeDevice(context.Background(), "emu"))
}

func TestChannelHealthStates(t *testing.T) {
	t.Run("booting before first boot", func(t *testing.T) {
		runner := adbtest.NewRunner()
		runner.Respond("getprop sys.boot_completed", adbtest.Response{Stdout: "\n"})
		ch := startChannel(t, runner, "emu")
		waitForState(t, ch, "emu", models.DeviceBooting)

		runner.SetOnline(true)
		waitForState(t, ch, "emu", models.DeviceConnected)
	})

	t.Run("runner fault is an error state", func(t *testing.T) {
		runner := adbtest.NewRunner()
		runner.Respond("getprop sys.boot_completed", adbtest.Response{Err: errors.New("adb missing")})
		ch := startChannel(t, runner, "emu")
		waitForState(t, ch, "emu", models.DeviceError)
	})

	t.Run("state change callback", func(t *testing.T) {
		runner := adbtest.NewRunner()
		changes := make(chan models.DeviceConnectionState, 4)
		ch := NewChannel(NewADBClient("adb", runner), ChannelOptions{
			ProbeInterval: time.Hour,
			OnStateChange: func(_ string, _, to models.DeviceConnectionState) { changes <- to },
		}, "emu")
		require.NoError(t, ch.Start(context.Background()))
		defer ch.Stop()

		select {
		case to := <-changes:
			assert.Equal(t, models.DeviceConnected, to)
		case <-time.After(2 * time.Second):
			t.Fatal("no state change reported")
		}
	})
}

func TestExecuteWithRetry(t *testing.T) {
	runner := adbtest.NewRunner()
	var attempts atomic.Int32
	runner.On("flaky", func([]string) adbtest.Response {
		if attempts.Add(1) < 3 {
			return adbtest.Response{Stderr: "transient", ExitCode: 1}
		}
		return adbtest.Response{Stdout: "done"}
	})
	ch := startChannel(t, runner, "emu")
	waitForState(t, ch, "emu", models.DeviceConnected)

	res := ch.ExecuteWithRetry(context.Background(), models.DeviceCommand{Args: []string{"shell", "flaky"}, DeviceID: "emu", MaxRetries: 2})
	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 3, attempts.Load())

	attempts.Store(0)
	res = ch.ExecuteWithRetry(context.Background(), models.DeviceCommand{Args: []string{"shell", "flaky"}, DeviceID: "emu", MaxRetries: 1})
	assert.False(t, res.Success)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestGetOptimalDevice(t *testing.T) {
	runner := adbtest.NewRunner()
	runner.On("sys.boot_completed", func(args []string) adbtest.Response {
		if args[1] == "first" {
			return adbtest.Response{Stderr: "device offline", ExitCode: 1}
		}
		return adbtest.Response{Stdout: "1"}
	})
	ch := startChannel(t, runner, "first", "second")
	waitForState(t, ch, "second", models.DeviceConnected)

	id, ok := ch.GetOptimalDevice()
	assert.True(t, ok)
	assert.Equal(t, "second", id)
}

func TestEnqueueBeforeStart(t *testing.T) {
	ch := NewChannel(NewADBClient("adb", adbtest.NewRunner()), ChannelOptions{}, "emu")
	assert.False(t, ch.Enqueue(models.DeviceCommand{Args: TapArgs(1, 1), DeviceID: "emu"}))
	res := ch.Execute(context.Background(), models.DeviceCommand{Args: TapArgs(1, 1), DeviceID: "emu"})
	assert.Equal(t, models.KindDeviceUnavailable, res.ErrorKind)
}
