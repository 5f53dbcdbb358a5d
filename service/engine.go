package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Thirteen88/ish-automation-sub001/adb"
	"github.com/Thirteen88/ish-automation-sub001/config"
	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Locator is the screen vision the executor relies on; *vision.Locator
// implements it.
type Locator interface {
	CaptureScreen(ctx context.Context, purpose string) (*models.ScreenCapture, error)
	DetectInputArea(frame image.Image) *models.UIElement
	DetectSendButton(frame image.Image) *models.UIElement
	DetectResponseArea(frame image.Image, input, send *models.UIElement) *models.UIElement
	ReadText(ctx context.Context, frame image.Image, box models.BBox, preprocess bool) (string, error)
	AnalyzeScreen(ctx context.Context) (*models.ScreenAnalysis, error)
}

// Channel is the device command channel the engine starts and watches;
// *adb.Channel implements it.
type Channel interface {
	DeviceCommander
	Start(ctx context.Context) error
	Stop() error
	Stats() adb.Stats
}

// Dependencies wires an engine. Channel and Locator are required.
type Dependencies struct {
	Channel   Channel
	Locator   Locator
	Navigator Navigator
	Sink      ResultSink
	Events    EventBroadcaster
	Metrics   *Metrics
}

// SubmitOptions are per-prompt overrides.
type SubmitOptions struct {
	Timeout        time.Duration
	ConversationID string
	Hint           *ModelHint
	Metadata       map[string]any
}

// EngineStats is a read-only view of the engine counters.
type EngineStats struct {
	Status                models.AutomationStatus      `json:"status"`
	DeviceID              string                       `json:"device_id"`
	DeviceState           models.DeviceConnectionState `json:"device_state"`
	Uptime                time.Duration                `json:"uptime"`
	TasksSubmitted        int64                        `json:"tasks_submitted"`
	TasksProcessed        int64                        `json:"tasks_processed"`
	TasksCompleted        int64                        `json:"tasks_completed"`
	TasksFailed           int64                        `json:"tasks_failed"`
	TasksTimedOut         int64                        `json:"tasks_timed_out"`
	TasksRetried          int64                        `json:"tasks_retried"`
	SuccessRate           float64                      `json:"success_rate"`
	AverageProcessingTime time.Duration                `json:"average_processing_time"`
	QueueDepth            int                          `json:"queue_depth"`
	ActiveTasks           int                          `json:"active_tasks"`
	Channel               adb.Stats                    `json:"channel"`
}

var (
	ErrEngineShutdown = errors.New("engine is shut down")
	ErrQueueFull      = errors.New("task queue is full")
	ErrTaskNotFound   = errors.New("task not found")
	ErrWaitTimeout    = errors.New("timed out waiting for task")
)

const (
	startupPollInterval = 100 * time.Millisecond
	waitPollInterval    = 100 * time.Millisecond
)

// AutomationEngine runs prompts against one device, one task at a time.
type AutomationEngine struct {
	cfg       config.AutomationConfig
	channel   Channel
	locator   Locator
	actions   *ActionDispatcher
	navigator Navigator
	sink      ResultSink
	events    EventBroadcaster
	metrics   *Metrics

	queue chan string

	mu           sync.RWMutex
	status       models.AutomationStatus
	statusSignal chan struct{}
	active       map[string]*models.AutomationTask
	history      *lru.Cache[string, *models.AutomationTask]
	startedAt    time.Time

	submitted, completed, failed, timedOut, retried int64
	processingTime                                 time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewAutomationEngine builds an idle engine; Start brings it up.
func NewAutomationEngine(cfg config.AutomationConfig, deps Dependencies) (*AutomationEngine, error) {
	if deps.Channel == nil || deps.Locator == nil {
		return nil, errors.New("engine needs a device channel and a locator")
	}
	if cfg.DeviceID == "" {
		return nil, errors.New("engine needs a device id")
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 200
	}
	history, err := lru.New[string, *models.AutomationTask](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("task history: %w", err)
	}
	if deps.Navigator == nil {
		deps.Navigator = CurrentStateNavigator{}
	}
	if cfg.MaxConcurrentTasks > 1 {
		log.Printf("⚠️ max_concurrent_tasks=%d: tasks against one device still run one at a time", cfg.MaxConcurrentTasks)
	}

	e := &AutomationEngine{
		cfg:          cfg,
		channel:      deps.Channel,
		locator:      deps.Locator,
		actions:      NewActionDispatcher(deps.Channel, 0),
		navigator:    deps.Navigator,
		sink:         deps.Sink,
		events:       deps.Events,
		metrics:      deps.Metrics,
		queue:        make(chan string, cfg.QueueSize),
		status:       models.EngineIdle,
		statusSignal: make(chan struct{}),
		active:       make(map[string]*models.AutomationTask),
		history:      history,
	}
	e.metrics.setEngineStatus(e.status)
	return e, nil
}

func (e *AutomationEngine) DeviceID() string { return e.cfg.DeviceID }

// Actions exposes the dispatcher used for manual UI actions.
func (e *AutomationEngine) Actions() *ActionDispatcher { return e.actions }

// Locator exposes the screen locator for diagnostics.
func (e *AutomationEngine) Locator() Locator { return e.locator }

func (e *AutomationEngine) Status() models.AutomationStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// setStatus applies an engine transition if the table allows it.
func (e *AutomationEngine) setStatus(to models.AutomationStatus, reason string) bool {
	e.mu.Lock()
	from := e.status
	if from == to {
		e.mu.Unlock()
		return true
	}
	if !models.CanTransitionEngine(from, to) {
		e.mu.Unlock()
		return false
	}
	e.status = to
	close(e.statusSignal)
	e.statusSignal = make(chan struct{})
	e.mu.Unlock()

	e.metrics.setEngineStatus(to)
	if reason != "" {
		log.Printf("⚙️ Engine %s → %s (%s)", from, to, reason)
	}
	e.publish(Event{Type: EventEngineStatus, Status: to, Message: reason})
	return true
}

// statusChanged returns a channel closed on the next status change.
func (e *AutomationEngine) statusChanged() <-chan struct{} {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusSignal
}

// Start starts the command channel, waits for the device, then starts the
// task consumer and device monitor.
func (e *AutomationEngine) Start(ctx context.Context) error {
	if !e.setStatus(models.EngineInitializing, "starting") {
		return fmt.Errorf("engine cannot start from %s", e.Status())
	}

	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.group = new(errgroup.Group)
	if err := e.channel.Start(e.ctx); err != nil {
		e.setStatus(models.EngineError, err.Error())
		return fmt.Errorf("start device channel: %w", err)
	}

	if err := e.waitForDevice(ctx); err != nil {
		e.setStatus(models.EngineError, err.Error())
		_ = e.channel.Stop()
		return err
	}

	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.goSafe("task consumer", e.consume)
	e.goSafe("device monitor", e.monitorDevice)
	e.goSafe("action queue", e.actions.ProcessActionQueue)

	e.setStatus(models.EngineReady, fmt.Sprintf("device %s connected", e.cfg.DeviceID))
	return nil
}

func (e *AutomationEngine) waitForDevice(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.StartupTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(startupPollInterval)
	defer ticker.Stop()

	for {
		state := e.channel.ConnectionState(e.cfg.DeviceID)
		if state == models.DeviceConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return models.Errorf(models.KindDeviceUnavailable, "start",
				"device %s not connected after %s (state %s)", e.cfg.DeviceID, e.cfg.StartupTimeout, state)
		case <-ticker.C:
		}
	}
}

// goSafe runs fn in the engine's group; a panic is logged and turns the
// engine to Error instead of crashing the process.
func (e *AutomationEngine) goSafe(name string, fn func(ctx context.Context) error) {
	ctx := e.ctx
	e.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("❌ %s panicked: %v\n%s", name, r, debug.Stack())
				e.setStatus(models.EngineError, fmt.Sprintf("%s panicked", name))
				err = models.Errorf(models.KindEngineFault, name, "panic: %v", r)
			}
		}()
		return fn(ctx)
	})
}

// SubmitPrompt queues a prompt and returns its task id without waiting.
func (e *AutomationEngine) SubmitPrompt(prompt string, opts SubmitOptions) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	maxRetries := 0
	if e.cfg.AutoRetry {
		maxRetries = e.cfg.MaxRetries
	}

	task := &models.AutomationTask{
		TaskID:     uuid.NewString(),
		Prompt:     prompt,
		Status:     models.TaskPending,
		CreatedAt:  time.Now(),
		MaxRetries: maxRetries,
		Timeout:    timeout,
		Metadata:   make(map[string]any, len(opts.Metadata)+2),
	}
	for k, v := range opts.Metadata {
		task.Metadata[k] = v
	}
	if opts.ConversationID != "" {
		task.Metadata["conversation_id"] = opts.ConversationID
	}
	if opts.Hint != nil {
		task.Metadata["model_hint"] = *opts.Hint
	}

	e.mu.Lock()
	if e.status == models.EngineShutdown {
		e.mu.Unlock()
		return "", ErrEngineShutdown
	}
	select {
	case e.queue <- task.TaskID:
	default:
		e.mu.Unlock()
		return "", ErrQueueFull
	}
	e.active[task.TaskID] = task
	e.submitted++
	snapshot := task.Snapshot()
	e.mu.Unlock()

	e.metrics.setQueueDepth(len(e.queue))
	log.Printf("📝 Task %s submitted (%d chars, timeout %s)", task.TaskID, len(prompt), timeout)
	e.publish(Event{Type: EventTaskSubmitted, TaskID: task.TaskID, Task: snapshot})
	return task.TaskID, nil
}

// GetTaskStatus returns a snapshot of an active or recently finished task.
func (e *AutomationEngine) GetTaskStatus(taskID string) (*models.AutomationTask, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if task, ok := e.active[taskID]; ok {
		return task.Snapshot(), true
	}
	if task, ok := e.history.Peek(taskID); ok {
		return task.Snapshot(), true
	}
	return nil, false
}

// WaitForTask polls until the task completes, fails or timeout elapses.
// A task that ends without a response yields an error carrying its message.
func (e *AutomationEngine) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*models.ParsedResponse, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		task, ok := e.GetTaskStatus(taskID)
		if !ok {
			return nil, ErrTaskNotFound
		}
		switch task.Status {
		case models.TaskCompleted:
			return task.Response, nil
		case models.TaskFailed, models.TaskTimedOut:
			return nil, models.Errorf(task.ErrorKind, "task "+taskID, "%s: %s", task.Status, task.ErrorMessage)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrWaitTimeout
		case <-ticker.C:
		}
	}
}

// GetStats returns counters, queue depth and channel statistics.
func (e *AutomationEngine) GetStats() EngineStats {
	e.mu.RLock()
	s := EngineStats{
		Status:         e.status,
		DeviceID:       e.cfg.DeviceID,
		TasksSubmitted: e.submitted,
		TasksCompleted: e.completed,
		TasksFailed:    e.failed,
		TasksTimedOut:  e.timedOut,
		TasksRetried:   e.retried,
		QueueDepth:     len(e.queue),
		ActiveTasks:    len(e.active),
	}
	if !e.startedAt.IsZero() {
		s.Uptime = time.Since(e.startedAt)
	}
	processing := e.processingTime
	e.mu.RUnlock()

	s.TasksProcessed = s.TasksCompleted + s.TasksFailed + s.TasksTimedOut
	if s.TasksProcessed > 0 {
		s.SuccessRate = float64(s.TasksCompleted) / float64(s.TasksProcessed)
		s.AverageProcessingTime = processing / time.Duration(s.TasksProcessed)
	}
	s.DeviceState = e.channel.ConnectionState(e.cfg.DeviceID)
	s.Channel = e.channel.Stats()
	return s
}

// GetRecentTasks returns up to n finished tasks, newest first.
func (e *AutomationEngine) GetRecentTasks(n int) []*models.AutomationTask {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := e.history.Keys()
	out := make([]*models.AutomationTask, 0, min(n, len(keys)))
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		if task, ok := e.history.Peek(keys[i]); ok {
			out = append(out, task.Snapshot())
		}
	}
	return out
}

// Shutdown stops the loops, kills in-flight device commands and fails tasks
// that never ran.
func (e *AutomationEngine) Shutdown(ctx context.Context) error {
	if e.Status() == models.EngineShutdown {
		return nil
	}
	e.setStatus(models.EngineShutdown, "shutdown requested")

	if e.cancel != nil {
		e.cancel()
		done := make(chan error, 1)
		go func() { done <- e.group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				log.Printf("⚠️ Engine loop ended with error: %v", err)
			}
		case <-ctx.Done():
			return fmt.Errorf("engine shutdown: %w", ctx.Err())
		}
		if err := e.channel.Stop(); err != nil {
			log.Printf("⚠️ Stopping device channel: %v", err)
		}
	}

	e.mu.RLock()
	var leftover []*models.AutomationTask
	for _, task := range e.active {
		leftover = append(leftover, task)
	}
	e.mu.RUnlock()
	for _, task := range leftover {
		e.finish(task, models.TaskFailed, models.KindEngineFault, "engine shut down before the task finished")
	}
	log.Printf("🛑 Engine stopped")
	return nil
}

// finish moves a task to a terminal state and into the history.
func (e *AutomationEngine) finish(task *models.AutomationTask, status models.TaskStatus, kind models.ErrorKind, message string) {
	now := time.Now()
	e.mu.Lock()
	if _, ok := e.active[task.TaskID]; !ok {
		e.mu.Unlock()
		return
	}
	if err := task.TransitionTo(status, now); err != nil {
		log.Printf("⚠️ %v", err)
		// the state machine forbids it; record the failure anyway
		task.Status = status
		task.CompletedAt = &now
	}
	if status != models.TaskCompleted {
		task.ErrorKind = kind
		task.ErrorMessage = message
	}
	var took time.Duration
	if task.StartedAt != nil {
		took = now.Sub(*task.StartedAt)
	}
	e.processingTime += took
	switch status {
	case models.TaskCompleted:
		e.completed++
	case models.TaskTimedOut:
		e.timedOut++
	default:
		e.failed++
	}
	delete(e.active, task.TaskID)
	e.history.Add(task.TaskID, task)
	snapshot := task.Snapshot()
	e.mu.Unlock()

	e.metrics.taskFinished(status, took)
	if status == models.TaskCompleted {
		log.Printf("✅ Task %s completed (confidence %.3f, %s)", task.TaskID, snapshot.Response.ConfidenceScore, took.Round(time.Millisecond))
	} else {
		log.Printf("❌ Task %s %s after %d retries: %s", task.TaskID, status, snapshot.RetryCount, message)
	}

	if e.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.sink.SaveTask(ctx, snapshot); err != nil {
			log.Printf("⚠️ Could not persist task %s: %v", task.TaskID, err)
		}
		cancel()
	}
	e.publish(Event{Type: EventTaskFinished, TaskID: task.TaskID, Task: snapshot})
}

func (e *AutomationEngine) publish(ev Event) {
	if e.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Type != EventEngineStatus {
		ev.Status = e.Status()
	}
	e.events.Broadcast(ev)
}
