package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Thirteen88/ish-automation-sub001/api"
	"github.com/Thirteen88/ish-automation-sub001/config"
	"github.com/Thirteen88/ish-automation-sub001/service"
)

// setupLogging writes the standard logger to stdout and a rotating file in
// logDir. The caller closes the returned writer.
func setupLogging(logDir, name string) (io.Closer, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, name+".log")
	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		Compress:   false,
	}

	// Write to both console and file
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	log.Printf("📝 Logging to: %s", logPath)
	return rotator, nil
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	load := func(logName string) (config.Config, io.Closer, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, nil, err
		}
		closer, err := setupLogging(cfg.Server.LogDir, logName)
		if err != nil {
			log.Printf("Warning: Failed to setup file logging: %v", err)
			closer = io.NopCloser(nil)
		}
		return cfg, closer, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the automation engine behind the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := load("server")
			if err != nil {
				return err
			}
			defer closer.Close()
			return runServer(cmd.Context(), cfg)
		},
	}

	var (
		timeout      time.Duration
		conversation string
		modelID      string
	)
	ask := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send one prompt to the device and print the parsed answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := load("ask")
			if err != nil {
				return err
			}
			defer closer.Close()
			cfg.Server.EnableStore = false
			return runAsk(cmd.Context(), cfg, args[0], timeout, conversation, modelID, cmd.OutOrStdout())
		},
	}
	ask.Flags().DurationVar(&timeout, "timeout", 0, "task timeout (default from config)")
	ask.Flags().StringVar(&conversation, "conversation", "", "conversation id to record on the response")
	ask.Flags().StringVar(&modelID, "model", "", "model hint passed to the navigator")

	analyze := &cobra.Command{
		Use:   "analyze",
		Short: "Capture the current screen and print what the locator finds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := load("analyze")
			if err != nil {
				return err
			}
			defer closer.Close()
			cfg.Server.EnableStore = false
			return runAnalyze(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	devices := &cobra.Command{
		Use:   "devices",
		Short: "List devices attached to adb",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			list, err := newADBClient(cfg).ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}

	root := &cobra.Command{
		Use:          "ish-automation",
		Short:        "Drive an AI assistant app on an Android device over adb",
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml or json)")
	root.AddCommand(serve, ask, analyze, devices)
	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServer(parent context.Context, cfg config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	log.Println("Starting automation server...")
	rt, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	go rt.hub.Run(ctx)

	if err := rt.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// Scan devices in background so the inventory lists the whole pool
	go func() {
		if err := rt.devices.ScanDevices(ctx); err != nil {
			log.Printf("Warning: Failed to scan devices: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handlers := &api.Handlers{
		Engine:  rt.engine,
		Devices: rt.devices,
		Actions: rt.engine.Actions(),
		Screen:  rt.engine.Locator(),
		Hub:     rt.hub,
	}
	if rt.store != nil {
		handlers.Archive = rt.store
	}
	api.SetupRoutes(router, handlers, rt.registry)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s (websocket at /ws)", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Printf("❌ HTTP server failed: %v", err)
		}
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	return rt.engine.Shutdown(shutdownCtx)
}

func runAsk(parent context.Context, cfg config.Config, prompt string, timeout time.Duration, conversation, modelID string, out io.Writer) error {
	ctx, stop := signalContext(parent)
	defer stop()

	rt, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer shutdownEngine(rt.engine)

	if err := rt.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	opts := service.SubmitOptions{Timeout: timeout, ConversationID: conversation}
	if modelID != "" {
		opts.Hint = &service.ModelHint{ModelID: modelID}
	}
	taskID, err := rt.engine.SubmitPrompt(prompt, opts)
	if err != nil {
		return err
	}

	wait := timeout
	if wait <= 0 {
		wait = cfg.Automation.DefaultTimeout
	}
	// retries may run the task several times
	wait = wait*time.Duration(cfg.Automation.MaxRetries+1) + time.Minute

	_, waitErr := rt.engine.WaitForTask(ctx, taskID, wait)
	task, _ := rt.engine.GetTaskStatus(taskID)
	if task != nil {
		if err := printJSON(out, task); err != nil {
			return err
		}
	}
	return waitErr
}

func runAnalyze(parent context.Context, cfg config.Config, out io.Writer) error {
	ctx, stop := signalContext(parent)
	defer stop()

	rt, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	defer shutdownEngine(rt.engine)

	if err := rt.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	analysis, err := rt.engine.Locator().AnalyzeScreen(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, analysis)
}

func shutdownEngine(engine *service.AutomationEngine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Engine shutdown: %v", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
