package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	a := cfg.Automation
	assert.Equal(t, "adb", a.ADBPath)
	assert.Equal(t, 5*time.Second, a.HealthProbeInterval)
	assert.Equal(t, 3, a.StabilityPolls)
	assert.Equal(t, StabilityContent, a.StabilityMode)
	assert.Equal(t, 100, a.QueueSize)
	assert.True(t, a.AutoRetry)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NoError(t, a.Validate())
}

func TestLoadEnvAndFile(t *testing.T) {
	t.Setenv("AUTOMATION_DEVICE_ID", "emulator-5554")
	t.Setenv("AUTOMATION_MAX_RETRIES", "4")
	t.Setenv("AUTOMATION_SERVER_ADDR", ":9090")

	path := filepath.Join(t.TempDir(), "automation.yaml")
	require.NoError(t, os.WriteFile(path, []byte("screenshot_interval: 750ms\nstability_mode: BBOX\nconfidence_threshold: 0.65\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "emulator-5554", cfg.Automation.DeviceID)
	assert.Equal(t, 4, cfg.Automation.MaxRetries)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 750*time.Millisecond, cfg.Automation.ScreenshotInterval)
	assert.Equal(t, StabilityBBox, cfg.Automation.StabilityMode)
	assert.Equal(t, 0.65, cfg.Automation.ConfidenceThreshold)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default().Automation
	cfg.ScreenshotInterval = 0
	cfg.ConfidenceThreshold = 1.5
	cfg.StabilityPolls = 0
	cfg.StabilityMode = "pixels"
	cfg.AppPackage = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"screenshot_interval", "confidence_threshold", "stability_polls", "stability_mode", "app_package"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestInitDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "automation.db")
	db, err := InitDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('tasks', 'responses')`).Scan(&n))
	assert.Equal(t, 2, n)

	// migrations are idempotent
	db2, err := InitDatabase(path)
	require.NoError(t, err)
	db2.Close()
}
