package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. AUTOMATION_DEVICE_ID.
const EnvPrefix = "AUTOMATION"

// Stability modes for the response wait loop.
const (
	StabilityBBox    = "bbox"
	StabilityContent = "content"
)

// AutomationConfig is fixed for the lifetime of one engine.
type AutomationConfig struct {
	DeviceID            string
	ADBPath             string
	AppPackage          string
	CaptureDir          string
	MaxConcurrentTasks  int
	QueueSize           int
	DefaultTimeout      time.Duration
	ResponseWaitTimeout time.Duration
	ScreenshotInterval  time.Duration
	ConfidenceThreshold float64
	AutoRetry           bool
	MaxRetries          int
	RetryBackoff        time.Duration
	AppSettleDelay      time.Duration
	ActionDelay         time.Duration
	StartupTimeout      time.Duration
	HealthProbeInterval time.Duration
	ProbeTimeout        time.Duration
	MonitorInterval     time.Duration
	StabilityPolls      int
	StabilityMode       string
	HistorySize         int
	TesseractPath       string
	OCRLanguage         string
}

// ServerConfig covers the process around the engine.
type ServerConfig struct {
	Addr         string
	DatabasePath string
	LogDir       string
	EnableStore  bool
}

type Config struct {
	Automation AutomationConfig
	Server     ServerConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device_id", "")
	v.SetDefault("adb_path", "adb")
	v.SetDefault("app_package", "ai.perplexity.app.android")
	v.SetDefault("capture_dir", "./captures")
	v.SetDefault("max_concurrent_tasks", 1)
	v.SetDefault("queue_size", 100)
	v.SetDefault("default_timeout", "120s")
	v.SetDefault("response_wait_timeout", "60s")
	v.SetDefault("screenshot_interval", "2s")
	v.SetDefault("confidence_threshold", 0.5)
	v.SetDefault("auto_retry", true)
	v.SetDefault("max_retries", 2)
	v.SetDefault("retry_backoff", "2s")
	v.SetDefault("app_settle_delay", "3s")
	v.SetDefault("action_delay", "500ms")
	v.SetDefault("startup_timeout", "15s")
	v.SetDefault("health_probe_interval", "5s")
	v.SetDefault("probe_timeout", "3s")
	v.SetDefault("monitor_interval", "5s")
	v.SetDefault("stability_polls", 3)
	v.SetDefault("stability_mode", StabilityContent)
	v.SetDefault("history_size", 200)
	v.SetDefault("tesseract_path", "tesseract")
	v.SetDefault("ocr_language", "eng")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.database_path", "./data/automation.db")
	v.SetDefault("server.log_dir", "log")
	v.SetDefault("server.enable_store", true)
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Automation: AutomationConfig{
			DeviceID:            v.GetString("device_id"),
			ADBPath:             v.GetString("adb_path"),
			AppPackage:          v.GetString("app_package"),
			CaptureDir:          v.GetString("capture_dir"),
			MaxConcurrentTasks:  v.GetInt("max_concurrent_tasks"),
			QueueSize:           v.GetInt("queue_size"),
			DefaultTimeout:      v.GetDuration("default_timeout"),
			ResponseWaitTimeout: v.GetDuration("response_wait_timeout"),
			ScreenshotInterval:  v.GetDuration("screenshot_interval"),
			ConfidenceThreshold: v.GetFloat64("confidence_threshold"),
			AutoRetry:           v.GetBool("auto_retry"),
			MaxRetries:          v.GetInt("max_retries"),
			RetryBackoff:        v.GetDuration("retry_backoff"),
			AppSettleDelay:      v.GetDuration("app_settle_delay"),
			ActionDelay:         v.GetDuration("action_delay"),
			StartupTimeout:      v.GetDuration("startup_timeout"),
			HealthProbeInterval: v.GetDuration("health_probe_interval"),
			ProbeTimeout:        v.GetDuration("probe_timeout"),
			MonitorInterval:     v.GetDuration("monitor_interval"),
			StabilityPolls:      v.GetInt("stability_polls"),
			StabilityMode:       strings.ToLower(v.GetString("stability_mode")),
			HistorySize:         v.GetInt("history_size"),
			TesseractPath:       v.GetString("tesseract_path"),
			OCRLanguage:         v.GetString("ocr_language"),
		},
		Server: ServerConfig{
			Addr:         v.GetString("server.addr"),
			DatabasePath: v.GetString("server.database_path"),
			LogDir:       v.GetString("server.log_dir"),
			EnableStore:  v.GetBool("server.enable_store"),
		},
	}
}

// Default returns the built-in defaults without consulting the environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

// Load reads .env (if any), AUTOMATION_* environment variables and, when path
// is non-empty, a YAML or JSON config file. Later sources win.
func Load(path string) (Config, error) {
	_ = godotenv.Load() // ignore error if .env not found

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Automation.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c AutomationConfig) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"default_timeout":       c.DefaultTimeout,
		"response_wait_timeout": c.ResponseWaitTimeout,
		"screenshot_interval":   c.ScreenshotInterval,
		"startup_timeout":       c.StartupTimeout,
		"health_probe_interval": c.HealthProbeInterval,
		"probe_timeout":         c.ProbeTimeout,
		"monitor_interval":      c.MonitorInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold must be within [0,1], got %v", c.ConfidenceThreshold))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative"))
	}
	if c.StabilityPolls < 1 {
		errs = append(errs, fmt.Errorf("stability_polls must be at least 1"))
	}
	if c.StabilityMode != StabilityBBox && c.StabilityMode != StabilityContent {
		errs = append(errs, fmt.Errorf("stability_mode must be %q or %q", StabilityBBox, StabilityContent))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size must be at least 1"))
	}
	if c.AppPackage == "" {
		errs = append(errs, fmt.Errorf("app_package is required"))
	}
	return errors.Join(errs...)
}
