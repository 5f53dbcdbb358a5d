package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/adb"
	"github.com/Thirteen88/ish-automation-sub001/config"
	"github.com/Thirteen88/ish-automation-sub001/models"
	"github.com/Thirteen88/ish-automation-sub001/parser"
	"github.com/Thirteen88/ish-automation-sub001/vision"
)

// consume pulls task ids off the queue and runs them one at a time.
func (e *AutomationEngine) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case taskID := <-e.queue:
			e.metrics.setQueueDepth(len(e.queue))
			if !e.awaitHealthy(ctx) {
				return nil
			}
			e.runTask(ctx, taskID)
		}
	}
}

// awaitHealthy blocks while the engine is in Error. False means ctx ended.
func (e *AutomationEngine) awaitHealthy(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		if e.Status() != models.EngineError {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-e.statusChanged():
		}
	}
}

func (e *AutomationEngine) runTask(engineCtx context.Context, taskID string) {
	e.mu.Lock()
	task, ok := e.active[taskID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if err := task.TransitionTo(models.TaskInProgress, time.Now()); err != nil {
		e.mu.Unlock()
		log.Printf("⚠️ %v", err)
		return
	}
	snapshot := task.Snapshot()
	e.mu.Unlock()

	log.Printf("▶️ Task %s started (attempt %d)", taskID, snapshot.RetryCount+1)
	e.publish(Event{Type: EventTaskUpdated, TaskID: taskID, Task: snapshot})

	ctx, cancel := context.WithTimeout(engineCtx, snapshot.Timeout)
	resp, err := e.safeExecute(ctx, snapshot)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()

	defer e.restoreReady()

	if resp != nil {
		e.mu.Lock()
		task.Response = resp
		e.mu.Unlock()
	}
	switch {
	case err == nil:
		e.metrics.observeConfidence(resp.ConfidenceScore)
		e.finish(task, models.TaskCompleted, models.KindUnknown, "")
		return
	case timedOut:
		e.finish(task, models.TaskTimedOut, models.KindTaskTimeout,
			fmt.Sprintf("task exceeded its %s timeout: %v", snapshot.Timeout, err))
		return
	case engineCtx.Err() != nil:
		e.finish(task, models.TaskFailed, models.KindEngineFault, "engine shut down")
		return
	}

	kind := models.KindOf(err)
	if kind == models.KindUnknown {
		kind = models.KindEngineFault
	}
	if kind != models.KindDeviceUnavailable && e.channel.ConnectionState(e.cfg.DeviceID) != models.DeviceConnected {
		// the command failed because the device went away under it
		kind = models.KindDeviceUnavailable
	}
	if kind == models.KindDeviceUnavailable || kind == models.KindEngineFault {
		e.setStatus(models.EngineError, err.Error())
	}
	if e.cfg.AutoRetry && e.scheduleRetry(engineCtx, task, kind, err) {
		return
	}
	e.finish(task, models.TaskFailed, kind, err.Error())
}

// scheduleRetry moves a failed attempt back to Pending and requeues it after
// the backoff. False means the retry budget is spent.
func (e *AutomationEngine) scheduleRetry(ctx context.Context, task *models.AutomationTask, kind models.ErrorKind, cause error) bool {
	e.mu.Lock()
	if task.RetryCount >= task.MaxRetries {
		e.mu.Unlock()
		return false
	}
	now := time.Now()
	if err := task.TransitionTo(models.TaskFailed, now); err != nil {
		e.mu.Unlock()
		return false
	}
	task.ErrorKind = kind
	task.ErrorMessage = cause.Error()
	_ = task.TransitionTo(models.TaskPending, now)
	task.RetryCount++
	attempt := task.RetryCount
	e.retried++
	snapshot := task.Snapshot()
	e.mu.Unlock()

	e.metrics.taskRetried()
	delay := e.cfg.RetryBackoff << (attempt - 1)
	log.Printf("🔄 Task %s failed (%v), retry %d/%d in %s", task.TaskID, cause, attempt, task.MaxRetries, delay)
	e.publish(Event{Type: EventTaskUpdated, TaskID: task.TaskID, Task: snapshot})

	e.goSafe("retry "+task.TaskID, func(context.Context) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		select {
		case e.queue <- task.TaskID:
			e.metrics.setQueueDepth(len(e.queue))
		case <-ctx.Done():
		}
		return nil
	})
	return true
}

func (e *AutomationEngine) restoreReady() {
	if e.Status().Busy() {
		e.setStatus(models.EngineReady, "")
	}
}

// safeExecute runs one attempt, converting a panic into an engine fault.
func (e *AutomationEngine) safeExecute(ctx context.Context, task *models.AutomationTask) (resp *models.ParsedResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Task %s panicked: %v\n%s", task.TaskID, r, debug.Stack())
			resp, err = nil, models.Errorf(models.KindEngineFault, "execute", "panic: %v", r)
		}
	}()
	return e.executeTask(ctx, task)
}

// executeTask drives one prompt through the app: bring it forward, type the
// prompt, send it, wait for the answer to settle, then read and parse it.
func (e *AutomationEngine) executeTask(ctx context.Context, task *models.AutomationTask) (*models.ParsedResponse, error) {
	device := e.cfg.DeviceID
	e.setStatus(models.EngineProcessingPrompt, "")

	if err := e.ensureAppForeground(ctx); err != nil {
		return nil, err
	}

	var hint *ModelHint
	if h, ok := task.Metadata["model_hint"].(ModelHint); ok {
		hint = &h
	}
	if err := e.navigator.Prepare(ctx, device, hint); err != nil {
		return nil, fmt.Errorf("prepare app: %w", err)
	}

	capture, err := e.locator.CaptureScreen(ctx, "input")
	if err != nil {
		return nil, err
	}
	input := e.locator.DetectInputArea(capture.Image)
	x, y := input.BBox.Center()
	log.Printf("📝 [%s] Input area at %s via %s (%.2f)", device, input.BBox, input.DetectionMethod, input.Confidence)
	if err := e.actions.Tap(ctx, device, x, y); err != nil {
		return nil, fmt.Errorf("focus input: %w", err)
	}
	if err := sleepCtx(ctx, e.cfg.ActionDelay); err != nil {
		return nil, err
	}
	if err := e.actions.InputText(ctx, device, task.Prompt); err != nil {
		return nil, fmt.Errorf("type prompt: %w", err)
	}
	if err := sleepCtx(ctx, e.cfg.ActionDelay); err != nil {
		return nil, err
	}

	if err := e.sendPrompt(ctx); err != nil {
		return nil, err
	}
	sentAt := time.Now()

	e.setStatus(models.EngineWaitingForResponse, "")
	if err := e.waitForStableResponse(ctx, hint); err != nil {
		return nil, err
	}

	e.setStatus(models.EngineCapturingResponse, "")
	final, err := e.locator.CaptureScreen(ctx, "response")
	if err != nil {
		return nil, err
	}
	area := e.responseArea(final)
	raw, err := e.locator.ReadText(ctx, final.Image, area.BBox, true)
	if err != nil {
		return nil, err
	}

	conversationID, _ := task.Metadata["conversation_id"].(string)
	parsed := parser.ParseResponse(parser.ParseInput{
		RawText:        raw,
		Prompt:         task.Prompt,
		ResponseTime:   time.Since(sentAt),
		DeviceUsed:     device,
		ScreenshotPath: final.FilePath,
		ConversationID: conversationID,
	})
	report := parser.ValidateResponseQuality(&parsed)
	parsed.Quality = &report
	if len(report.Issues) > 0 {
		log.Printf("🔎 [%s] Response quality %s: %s", device, report.ConfidenceLevel, strings.Join(report.Issues, "; "))
	}
	if parsed.ConfidenceScore < e.cfg.ConfidenceThreshold {
		return &parsed, models.Errorf(models.KindLowConfidenceResponse, "parse",
			"confidence %.3f below threshold %.3f", parsed.ConfidenceScore, e.cfg.ConfidenceThreshold)
	}
	return &parsed, nil
}

// ensureAppForeground launches the app unless it already has focus. A failed
// focus query is not fatal unless the device is gone.
func (e *AutomationEngine) ensureAppForeground(ctx context.Context) error {
	device := e.cfg.DeviceID
	focus, err := e.actions.ForegroundWindow(ctx, device)
	if err == nil && strings.Contains(focus, e.cfg.AppPackage) {
		return nil
	}
	if err != nil {
		if models.IsKind(err, models.KindDeviceUnavailable) {
			return err
		}
		log.Printf("⚠️ [%s] Could not read focused window: %v", device, err)
	}

	log.Printf("🚀 [%s] Launching %s", device, e.cfg.AppPackage)
	if err := e.actions.OpenApp(ctx, device, e.cfg.AppPackage); err != nil {
		return fmt.Errorf("launch %s: %w", e.cfg.AppPackage, err)
	}
	return sleepCtx(ctx, e.cfg.AppSettleDelay)
}

// sendPrompt taps the send button, or presses Enter when the button could
// not be found on screen.
func (e *AutomationEngine) sendPrompt(ctx context.Context) error {
	device := e.cfg.DeviceID
	capture, err := e.locator.CaptureScreen(ctx, "send")
	if err != nil {
		if models.IsKind(err, models.KindDeviceUnavailable) {
			return err
		}
		log.Printf("⚠️ [%s] Send capture failed, pressing Enter: %v", device, err)
		return e.pressEnter(ctx)
	}
	send := e.locator.DetectSendButton(capture.Image)
	if send.IsFallback() {
		log.Printf("⚠️ [%s] Send button not found, pressing Enter", device)
		return e.pressEnter(ctx)
	}
	x, y := send.BBox.Center()
	if err := e.actions.Tap(ctx, device, x, y); err != nil {
		return fmt.Errorf("tap send: %w", err)
	}
	return nil
}

func (e *AutomationEngine) pressEnter(ctx context.Context) error {
	if err := e.actions.Key(ctx, e.cfg.DeviceID, adb.KeycodeEnter); err != nil {
		return fmt.Errorf("send with enter: %w", err)
	}
	return nil
}

func (e *AutomationEngine) responseArea(capture *models.ScreenCapture) *models.UIElement {
	input := e.locator.DetectInputArea(capture.Image)
	send := e.locator.DetectSendButton(capture.Image)
	return e.locator.DetectResponseArea(capture.Image, input, send)
}

// waitForStableResponse polls the response area until StabilityPolls
// consecutive reads match or the wait budget runs out. Running out of budget
// is not an error; the caller reads whatever is on screen.
func (e *AutomationEngine) waitForStableResponse(ctx context.Context, hint *ModelHint) error {
	budget := e.cfg.ResponseWaitTimeout
	if hint != nil && hint.MaxLatency > 0 && hint.MaxLatency < budget {
		budget = hint.MaxLatency
	}
	if deadline, ok := ctx.Deadline(); ok {
		// leave room for the final capture and OCR
		if left := time.Until(deadline) * 3 / 4; left < budget {
			budget = left
		}
	}

	device := e.cfg.DeviceID
	tracker := NewStabilityTracker(e.cfg.StabilityPolls)
	timer := time.NewTimer(budget)
	defer timer.Stop()
	ticker := time.NewTicker(e.cfg.ScreenshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			log.Printf("⏳ [%s] Response still changing after %s, reading it anyway", device, budget)
			return nil
		case <-ticker.C:
		}

		capture, err := e.locator.CaptureScreen(ctx, "poll")
		if err != nil {
			if models.IsKind(err, models.KindDeviceUnavailable) || ctx.Err() != nil {
				return err
			}
			log.Printf("⚠️ [%s] Poll capture failed: %v", device, err)
			tracker.Reset()
			continue
		}
		area := e.responseArea(capture)
		key := area.BBox.String()
		if e.cfg.StabilityMode == config.StabilityContent {
			key += "|" + vision.RegionSignature(capture.Image, area.BBox)
		}
		if tracker.Observe(key) {
			log.Printf("✅ [%s] Response stable after %d identical polls", device, tracker.Count())
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
