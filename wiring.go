package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Thirteen88/ish-automation-sub001/adb"
	"github.com/Thirteen88/ish-automation-sub001/api"
	"github.com/Thirteen88/ish-automation-sub001/config"
	"github.com/Thirteen88/ish-automation-sub001/service"
	"github.com/Thirteen88/ish-automation-sub001/storage"
	"github.com/Thirteen88/ish-automation-sub001/vision"
)

// app is everything one engine process needs.
type app struct {
	registry *prometheus.Registry
	client   *adb.ADBClient
	channel  *adb.Channel
	devices  *service.DeviceManager
	engine   *service.AutomationEngine
	hub      *api.WebSocketHub
	db       *sql.DB
	store    *storage.ResultStore
}

func newADBClient(cfg config.Config) *adb.ADBClient {
	return adb.NewADBClient(cfg.Automation.ADBPath, nil)
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	rt := &app{
		registry: prometheus.NewRegistry(),
		client:   newADBClient(cfg),
		hub:      api.NewWebSocketHub(),
	}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	auto := cfg.Automation
	rt.channel = adb.NewChannel(rt.client, adb.ChannelOptions{
		ProbeInterval: auto.HealthProbeInterval,
		ProbeTimeout:  auto.ProbeTimeout,
		Metrics:       adb.MustNewMetrics(rt.registry),
	})
	rt.devices = service.NewDeviceManager(rt.client, rt.channel)
	if auto.DeviceID == "" {
		id, err := rt.devices.SelectDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("device_id not set: %w", err)
		}
		auto.DeviceID = id
	}
	rt.devices.Track(auto.DeviceID)

	locator := vision.NewLocator(rt.channel, vision.LocatorOptions{
		DeviceID:   auto.DeviceID,
		CaptureDir: auto.CaptureDir,
		OCR:        vision.NewTesseractEngine(auto.TesseractPath, auto.OCRLanguage),
	})

	deps := service.Dependencies{
		Channel: rt.channel,
		Locator: locator,
		Events:  rt.hub,
		Metrics: service.MustNewMetrics(rt.registry),
	}
	if cfg.Server.EnableStore {
		db, err := config.InitDatabase(cfg.Server.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
		rt.db = db
		rt.store = storage.NewResultStore(db)
		deps.Sink = rt.store
	}

	engine, err := service.NewAutomationEngine(auto, deps)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

func (rt *app) Close() {
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			log.Printf("⚠️ Closing database: %v", err)
		}
	}
}
