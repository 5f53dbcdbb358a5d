package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// DefaultCommandTimeout applies to commands issued without their own budget.
const DefaultCommandTimeout = 30 * time.Second

// Runner starts one external process and waits for it. A non-zero exit is
// reported through exitCode with a nil error; err is reserved for processes
// that could not be started or were killed through ctx.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecRunner runs real processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// adb can leave a forked server holding the pipes after a kill
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), 0, nil
	}
	if ctx.Err() != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	return stdout.Bytes(), stderr.Bytes(), -1, err
}

// ADBClient turns DeviceCommands into `adb -s <id> ...` processes.
type ADBClient struct {
	ADBPath string
	runner  Runner
}

// NewADBClient creates a client for the adb binary at adbPath ("adb" if empty).
func NewADBClient(adbPath string, runner Runner) *ADBClient {
	if adbPath == "" {
		adbPath = "adb" // Assumes ADB is in PATH
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ADBClient{ADBPath: adbPath, runner: runner}
}

// Run executes cmd and reports the outcome as a result value; it never panics
// or returns an error for a failing device.
func (c *ADBClient) Run(ctx context.Context, cmd models.DeviceCommand) models.DeviceCommandResult {
	res, _ := c.exec(ctx, cmd)
	return res
}

// exec is Run plus the spawn error, which the health probe treats differently
// from a device that answered with a failure.
func (c *ADBClient) exec(ctx context.Context, cmd models.DeviceCommand) (models.DeviceCommandResult, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := make([]string, 0, len(cmd.Args)+2)
	if cmd.DeviceID != "" {
		args = append(args, "-s", cmd.DeviceID)
	}
	args = append(args, cmd.Args...)

	res := models.DeviceCommandResult{
		CommandText: cmd.CommandText(),
		DeviceID:    cmd.DeviceID,
	}
	start := time.Now()
	stdout, stderr, code, err := c.runner.Run(runCtx, c.ADBPath, args...)
	res.Duration = time.Since(start)
	res.Stdout = stdout
	res.Output = string(stdout)
	res.ExitCode = code

	switch {
	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ErrorKind = models.KindCommandTimeout
		res.Error = fmt.Sprintf("command timed out after %s", timeout)
		return res, nil
	case err != nil && ctx.Err() != nil:
		res.ErrorKind = models.KindCommandFailed
		res.Error = fmt.Sprintf("command cancelled: %v", ctx.Err())
		return res, nil
	case err != nil:
		res.ErrorKind = models.KindCommandFailed
		res.Error = fmt.Sprintf("failed to run %s: %v", c.ADBPath, err)
		return res, err
	case code != 0:
		res.ErrorKind = models.KindCommandFailed
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(stdout))
		}
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", code)
		}
		if looksDisconnected(msg) {
			res.ErrorKind = models.KindDeviceUnavailable
		}
		res.Error = msg
		return res, nil
	}
	res.Success = true
	return res, nil
}

// disconnectedMessage matches adb's reports of a device that went away, e.g.
// "error: device 'emulator-5554' not found" or "no devices/emulators found".
var disconnectedMessage = regexp.MustCompile(`(?i)device (?:'[^']*' )?(?:not found|offline|unauthorized)|no devices(?:/emulators)? found|error: closed|device still (?:connecting|authorizing)`)

func looksDisconnected(msg string) bool {
	return disconnectedMessage.MatchString(msg)
}

// ListDevices returns the devices adb reports as online.
// If the same physical device is connected via both USB and WiFi, WiFi is preferred
func (c *ADBClient) ListDevices(ctx context.Context) ([]models.Device, error) {
	res := c.Run(ctx, models.DeviceCommand{Args: []string{"devices", "-l"}, Timeout: 10 * time.Second})
	if !res.Success {
		return nil, fmt.Errorf("failed to list devices: %s", res.Error)
	}

	devices := c.parseDeviceList(ctx, res.Output)
	return c.deduplicateDevices(ctx, devices), nil
}

// parseDeviceList parses the output of 'adb devices -l'
func (c *ADBClient) parseDeviceList(ctx context.Context, output string) []models.Device {
	var devices []models.Device
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		// Skip header line and empty lines
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}

		// Expected format: <serial> <state> [device info]
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		serial, state := parts[0], parts[1]

		if state != "device" {
			log.Printf("⚠️ Skipping device %s because state is %s", serial, state)
			continue
		}

		device := models.Device{
			ID:          fmt.Sprintf("device_%s", serial),
			ADBDeviceID: serial,
			Name:        serial, // replaced by model name below
			Status:      "online",
			LastSeen:    time.Now().Unix(),
		}
		for _, part := range parts[2:] {
			if strings.HasPrefix(part, "model:") {
				device.Name = strings.ReplaceAll(strings.TrimPrefix(part, "model:"), "_", " ")
			}
		}

		c.enrichDeviceInfo(ctx, &device)
		devices = append(devices, device)
	}
	return devices
}

// deduplicateDevices removes duplicate entries when same device is connected via USB and WiFi
func (c *ADBClient) deduplicateDevices(ctx context.Context, devices []models.Device) []models.Device {
	serialToDevice := make(map[string]models.Device)
	var order []string

	for i := range devices {
		hwSerial := c.getProperty(ctx, devices[i].ADBDeviceID, "ro.serialno")
		if hwSerial == "" {
			hwSerial = devices[i].ADBDeviceID
		}
		devices[i].HardwareSerial = hwSerial

		existing, exists := serialToDevice[hwSerial]
		if !exists {
			serialToDevice[hwSerial] = devices[i]
			order = append(order, hwSerial)
			continue
		}
		// Duplicate found - prefer WiFi connection, otherwise keep the first one
		if devices[i].IsWiFi() && !existing.IsWiFi() {
			serialToDevice[hwSerial] = devices[i]
		}
	}

	result := make([]models.Device, 0, len(order))
	for _, serial := range order {
		result = append(result, serialToDevice[serial])
	}
	if len(result) != len(devices) {
		log.Printf("📊 Dedup: %d devices (from %d raw)", len(result), len(devices))
	}
	return result
}

// enrichDeviceInfo fills version, resolution and battery; missing values are left empty.
func (c *ADBClient) enrichDeviceInfo(ctx context.Context, device *models.Device) {
	device.AndroidVersion = c.getProperty(ctx, device.ADBDeviceID, "ro.build.version.release")
	if resolution, err := c.ScreenResolution(ctx, device.ADBDeviceID); err == nil {
		device.Resolution = resolution
	}
	if battery, err := c.batteryLevel(ctx, device.ADBDeviceID); err == nil {
		device.Battery = battery
	}
}

func (c *ADBClient) getProperty(ctx context.Context, deviceID, property string) string {
	res := c.Run(ctx, models.DeviceCommand{Args: GetPropArgs(property), DeviceID: deviceID, Timeout: 5 * time.Second})
	if !res.Success {
		return ""
	}
	return strings.TrimSpace(res.Output)
}

// ScreenResolution reports `wm size`, preferring the override size because that
// is what is actually rendered.
func (c *ADBClient) ScreenResolution(ctx context.Context, deviceID string) (string, error) {
	res := c.Run(ctx, models.DeviceCommand{Args: WMSizeArgs(), DeviceID: deviceID, Timeout: 5 * time.Second})
	if !res.Success {
		return "", res.Err()
	}

	var physicalSize, overrideSize string
	for _, line := range strings.Split(res.Output, "\n") {
		line = strings.TrimSpace(line)
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(name) {
		case "Physical size":
			physicalSize = strings.TrimSpace(value)
		case "Override size":
			overrideSize = strings.TrimSpace(value)
		}
	}
	if overrideSize != "" {
		return overrideSize, nil
	}
	if physicalSize != "" {
		return physicalSize, nil
	}
	return "unknown", nil
}

func (c *ADBClient) batteryLevel(ctx context.Context, deviceID string) (int, error) {
	res := c.Run(ctx, models.DeviceCommand{Args: BatteryArgs(), DeviceID: deviceID, Timeout: 5 * time.Second})
	if !res.Success {
		return 0, res.Err()
	}
	for _, line := range strings.Split(res.Output, "\n") {
		name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && name == "level" {
			var level int
			if _, err := fmt.Sscanf(strings.TrimSpace(value), "%d", &level); err == nil {
				return level, nil
			}
		}
	}
	return 0, fmt.Errorf("battery level not found")
}
