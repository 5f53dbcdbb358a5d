package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Thirteen88/ish-automation-sub001/models"
	"github.com/Thirteen88/ish-automation-sub001/service"
)

// Engine is the part of service.AutomationEngine the HTTP surface uses.
type Engine interface {
	SubmitPrompt(prompt string, opts service.SubmitOptions) (string, error)
	GetTaskStatus(taskID string) (*models.AutomationTask, bool)
	WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (*models.ParsedResponse, error)
	GetStats() service.EngineStats
	GetRecentTasks(n int) []*models.AutomationTask
	Status() models.AutomationStatus
	DeviceID() string
}

// DeviceInventory lists devices known to adb.
type DeviceInventory interface {
	ScanDevices(ctx context.Context) error
	GetAllDevices() []models.Device
}

// ActionQueue accepts manual UI actions.
type ActionQueue interface {
	DispatchToDevice(deviceID string, action *models.Action) error
	GetAction(id string) (models.Action, bool)
}

// ScreenAnalyzer captures and analyses the current screen.
type ScreenAnalyzer interface {
	AnalyzeScreen(ctx context.Context) (*models.ScreenAnalysis, error)
}

// TaskArchive looks up tasks that have left the engine's history.
type TaskArchive interface {
	GetTask(ctx context.Context, taskID string) (*models.AutomationTask, error)
}

// Handlers holds the collaborators behind the HTTP routes. Devices, Actions,
// Screen and Archive are optional.
type Handlers struct {
	Engine  Engine
	Devices DeviceInventory
	Actions ActionQueue
	Screen  ScreenAnalyzer
	Archive TaskArchive
	Hub     *WebSocketHub
}

const (
	maxWait       = 10 * time.Minute
	defaultRecent = 20
)

type modelHint struct {
	ModelID      string  `json:"model_id"`
	MaxCostUSD   float64 `json:"max_cost_usd"`
	MaxLatencyMs int64   `json:"max_latency_ms"`
}

type promptRequest struct {
	Prompt         string         `json:"prompt" binding:"required"`
	TimeoutSeconds float64        `json:"timeout_seconds"`
	ConversationID string         `json:"conversation_id"`
	ModelHint      *modelHint     `json:"model_hint"`
	Metadata       map[string]any `json:"metadata"`
	Wait           bool           `json:"wait"`
}

// Health reports engine status next to host load.
func (h *Handlers) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status := h.Engine.Status()
	health := "ok"
	if status == models.EngineError || status == models.EngineShutdown {
		health = "degraded"
	}

	body := gin.H{
		"status":        health,
		"engine_status": status,
		"device_id":     h.Engine.DeviceID(),
	}
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		body["cpu_percent"] = percent[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		body["memory_percent"] = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		body["disk_percent"] = du.UsedPercent
	}
	if h.Hub != nil {
		body["ws_clients"] = h.Hub.ClientCount()
	}
	c.JSON(http.StatusOK, models.SuccessResponse(body))
}

// SubmitPrompt queues a prompt; with wait it blocks until the task ends.
func (h *Handlers) SubmitPrompt(c *gin.Context) {
	var req promptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}

	opts := service.SubmitOptions{
		Timeout:        time.Duration(req.TimeoutSeconds * float64(time.Second)),
		ConversationID: req.ConversationID,
		Metadata:       req.Metadata,
	}
	if req.ModelHint != nil {
		opts.Hint = &service.ModelHint{
			ModelID:    req.ModelHint.ModelID,
			MaxCostUSD: req.ModelHint.MaxCostUSD,
			MaxLatency: time.Duration(req.ModelHint.MaxLatencyMs) * time.Millisecond,
		}
	}

	taskID, err := h.Engine.SubmitPrompt(req.Prompt, opts)
	if err != nil {
		c.JSON(submitStatus(err), models.ErrorResponseFrom(err))
		return
	}

	if !req.Wait && c.Query("wait") != "true" {
		task, _ := h.Engine.GetTaskStatus(taskID)
		c.JSON(http.StatusAccepted, models.SuccessResponse(task))
		return
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = maxWait
	}
	h.wait(c, taskID, timeout+5*time.Second)
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrEngineShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// GetTask returns a task from the engine, or from the archive once it has
// aged out of the engine's history.
func (h *Handlers) GetTask(c *gin.Context) {
	taskID := c.Param("id")
	if task, ok := h.Engine.GetTaskStatus(taskID); ok {
		c.JSON(http.StatusOK, models.SuccessResponse(task))
		return
	}
	if h.Archive != nil {
		task, err := h.Archive.GetTask(c.Request.Context(), taskID)
		if err == nil {
			c.JSON(http.StatusOK, models.SuccessResponse(task))
			return
		}
	}
	c.JSON(http.StatusNotFound, models.ErrorResponse(service.ErrTaskNotFound.Error()))
}

// WaitTask blocks until the task ends or ?timeout= seconds pass.
func (h *Handlers) WaitTask(c *gin.Context) {
	timeout := maxWait
	if raw := c.Query("timeout"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs <= 0 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("timeout must be a positive number of seconds"))
			return
		}
		timeout = min(time.Duration(secs*float64(time.Second)), maxWait)
	}
	h.wait(c, c.Param("id"), timeout)
}

func (h *Handlers) wait(c *gin.Context, taskID string, timeout time.Duration) {
	resp, err := h.Engine.WaitForTask(c.Request.Context(), taskID, timeout)
	task, _ := h.Engine.GetTaskStatus(taskID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"task": task, "response": resp}))
	case errors.Is(err, service.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse(err.Error()))
	case errors.Is(err, service.ErrWaitTimeout), errors.Is(err, context.Canceled):
		out := models.ErrorResponse(err.Error())
		out.Data = task
		c.JSON(http.StatusGatewayTimeout, out)
	default:
		out := models.ErrorResponseFrom(err)
		out.Data = task
		c.JSON(http.StatusUnprocessableEntity, out)
	}
}

// RecentTasks lists finished tasks, newest first.
func (h *Handlers) RecentTasks(c *gin.Context) {
	n := defaultRecent
	if raw := c.Query("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("n must be a positive integer"))
			return
		}
		n = v
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.Engine.GetRecentTasks(n)))
}

func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.Engine.GetStats()))
}

// GetDevices returns all devices
func (h *Handlers) GetDevices(c *gin.Context) {
	if h.Devices == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse("device inventory not configured"))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.Devices.GetAllDevices()))
}

// ScanDevices scans for new devices
func (h *Handlers) ScanDevices(c *gin.Context) {
	if h.Devices == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse("device inventory not configured"))
		return
	}
	if err := h.Devices.ScanDevices(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(h.Devices.GetAllDevices()))
}

// DispatchAction queues a manual UI action on the engine's device unless the
// request names another.
func (h *Handlers) DispatchAction(c *gin.Context) {
	if h.Actions == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse("actions not configured"))
		return
	}
	var req models.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = h.Engine.DeviceID()
	}
	action := &models.Action{Type: req.Action.Type, Params: req.Action.Params}
	if err := h.Actions.DispatchToDevice(deviceID, action); err != nil {
		status := http.StatusServiceUnavailable
		if !models.IsKind(err, models.KindDeviceUnavailable) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, models.ErrorResponseFrom(err))
		return
	}
	c.JSON(http.StatusAccepted, models.SuccessResponse(action))
}

func (h *Handlers) GetAction(c *gin.Context) {
	if h.Actions == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse("actions not configured"))
		return
	}
	action, ok := h.Actions.GetAction(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse("action not found"))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(action))
}

// AnalyzeScreen captures the screen and reports what the locator finds.
func (h *Handlers) AnalyzeScreen(c *gin.Context) {
	if h.Screen == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse("screen analysis not configured"))
		return
	}
	analysis, err := h.Screen.AnalyzeScreen(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		if models.IsKind(err, models.KindDeviceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, models.ErrorResponseFrom(err))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(analysis))
}
