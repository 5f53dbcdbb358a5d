package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thirteen88/ish-automation-sub001/models"
	"github.com/Thirteen88/ish-automation-sub001/service"
)

type fakeEngine struct {
	mu        sync.Mutex
	submitted []string
	opts      []service.SubmitOptions
	submitErr error
	tasks     map[string]*models.AutomationTask
	waitResp  *models.ParsedResponse
	waitErr   error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{tasks: make(map[string]*models.AutomationTask)}
}

func (f *fakeEngine) SubmitPrompt(prompt string, opts service.SubmitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, prompt)
	f.opts = append(f.opts, opts)
	id := "task-1"
	f.tasks[id] = &models.AutomationTask{TaskID: id, Prompt: prompt, Status: models.TaskPending}
	return id, nil
}

func (f *fakeEngine) GetTaskStatus(id string) (*models.AutomationTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return t, ok
}

func (f *fakeEngine) WaitForTask(_ context.Context, id string, _ time.Duration) (*models.ParsedResponse, error) {
	if _, ok := f.GetTaskStatus(id); !ok {
		return nil, service.ErrTaskNotFound
	}
	return f.waitResp, f.waitErr
}

func (f *fakeEngine) GetStats() service.EngineStats {
	return service.EngineStats{Status: models.EngineReady, DeviceID: "emulator-5554", TasksCompleted: 3}
}

func (f *fakeEngine) GetRecentTasks(n int) []*models.AutomationTask {
	out := []*models.AutomationTask{{TaskID: "b"}, {TaskID: "a"}}
	return out[:min(n, len(out))]
}

func (f *fakeEngine) Status() models.AutomationStatus { return models.EngineReady }
func (f *fakeEngine) DeviceID() string                 { return "emulator-5554" }

type fakeArchive struct{}

func (fakeArchive) GetTask(_ context.Context, id string) (*models.AutomationTask, error) {
	if id == "old" {
		return &models.AutomationTask{TaskID: "old", Status: models.TaskCompleted}, nil
	}
	return nil, errors.New("not found")
}

type fakeActions struct {
	err     error
	devices []string
}

func (f *fakeActions) DispatchToDevice(deviceID string, action *models.Action) error {
	if f.err != nil {
		return f.err
	}
	f.devices = append(f.devices, deviceID)
	action.ID = "action-1"
	action.DeviceID = deviceID
	action.Status = models.ActionPending
	return nil
}

func (f *fakeActions) GetAction(id string) (models.Action, bool) {
	return models.Action{ID: id}, id == "action-1"
}

type fakeScreen struct{ err error }

func (f fakeScreen) AnalyzeScreen(context.Context) (*models.ScreenAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ScreenAnalysis{
		Elements: map[models.ElementKind]*models.UIElement{
			models.ElementInputArea: {Kind: models.ElementInputArea, DetectionMethod: models.MethodFallback},
		},
		ExtractedText: "hello",
	}, nil
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorKind string          `json:"error_kind"`
}

func setup(t *testing.T, h *Handlers) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	SetupRoutes(router, h, prometheus.NewRegistry())
	return router
}

func do(t *testing.T, router http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestHealth(t *testing.T) {
	router := setup(t, &Handlers{Engine: newFakeEngine(), Hub: NewWebSocketHub()})
	code, env := do(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	var body map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ready", body["engine_status"])
	assert.Equal(t, "emulator-5554", body["device_id"])
}

func TestSubmitPrompt(t *testing.T) {
	engine := newFakeEngine()
	router := setup(t, &Handlers{Engine: engine})

	code, env := do(t, router, http.MethodPost, "/api/prompts",
		`{"prompt":"What is machine learning?","timeout_seconds":30,"conversation_id":"c1","model_hint":{"model_id":"sonar","max_latency_ms":5000}}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"task_id":"task-1"`)

	require.Len(t, engine.opts, 1)
	opts := engine.opts[0]
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, "c1", opts.ConversationID)
	require.NotNil(t, opts.Hint)
	assert.Equal(t, "sonar", opts.Hint.ModelID)
	assert.Equal(t, 5*time.Second, opts.Hint.MaxLatency)

	code, _ = do(t, router, http.MethodPost, "/api/prompts", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	engine.submitErr = service.ErrQueueFull
	code, env = do(t, router, http.MethodPost, "/api/prompts", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, env.Success)
	assert.Equal(t, service.ErrQueueFull.Error(), env.Error)
}

func TestSubmitPromptAndWait(t *testing.T) {
	engine := newFakeEngine()
	engine.waitResp = &models.ParsedResponse{Answer: "Machine learning is a branch of AI.", ConfidenceScore: 0.8}
	router := setup(t, &Handlers{Engine: engine})

	code, env := do(t, router, http.MethodPost, "/api/prompts?wait=true", `{"prompt":"What is machine learning?"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), "Machine learning is a branch of AI.")

	engine.waitResp = nil
	engine.waitErr = models.Errorf(models.KindDeviceUnavailable, "task task-1", "failed: device gone")
	code, env = do(t, router, http.MethodPost, "/api/prompts", `{"prompt":"again","wait":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "device_unavailable", env.ErrorKind)

	engine.waitErr = service.ErrWaitTimeout
	code, _ = do(t, router, http.MethodGet, "/api/tasks/task-1/wait?timeout=1", "")
	assert.Equal(t, http.StatusGatewayTimeout, code)

	code, _ = do(t, router, http.MethodGet, "/api/tasks/task-1/wait?timeout=-3", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetTask(t *testing.T) {
	engine := newFakeEngine()
	engine.tasks["live"] = &models.AutomationTask{TaskID: "live", Status: models.TaskInProgress}
	router := setup(t, &Handlers{Engine: engine, Archive: fakeArchive{}})

	code, env := do(t, router, http.MethodGet, "/api/tasks/live", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"in_progress"`)

	code, env = do(t, router, http.MethodGet, "/api/tasks/old", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"completed"`)

	code, _ = do(t, router, http.MethodGet, "/api/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRecentTasksAndStats(t *testing.T) {
	router := setup(t, &Handlers{Engine: newFakeEngine()})

	code, env := do(t, router, http.MethodGet, "/api/tasks/recent?n=1", "")
	require.Equal(t, http.StatusOK, code)
	var tasks []models.AutomationTask
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].TaskID)

	code, _ = do(t, router, http.MethodGet, "/api/tasks/recent?n=zero", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, router, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"tasks_completed":3`)
	assert.Contains(t, string(env.Data), `"status":"ready"`)
}

func TestActions(t *testing.T) {
	actions := &fakeActions{}
	router := setup(t, &Handlers{Engine: newFakeEngine(), Actions: actions})

	code, env := do(t, router, http.MethodPost, "/api/actions", `{"action":{"type":"tap","params":{"x":10,"y":20}}}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.True(t, env.Success)
	assert.Equal(t, []string{"emulator-5554"}, actions.devices)

	code, _ = do(t, router, http.MethodGet, "/api/actions/action-1", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, router, http.MethodGet, "/api/actions/nope", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, router, http.MethodPost, "/api/actions", `{"action":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	actions.err = models.Errorf(models.KindDeviceUnavailable, "dispatch", "device is disconnected")
	code, env = do(t, router, http.MethodPost, "/api/actions", `{"device_id":"x","action":{"type":"key","params":{"keycode":4}}}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "device_unavailable", env.ErrorKind)
}

func TestAnalyzeScreen(t *testing.T) {
	router := setup(t, &Handlers{Engine: newFakeEngine(), Screen: fakeScreen{}})
	code, env := do(t, router, http.MethodGet, "/api/screen/analyze", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"extracted_text":"hello"`)
	assert.Contains(t, string(env.Data), `"detection_method":"fallback"`)

	router = setup(t, &Handlers{Engine: newFakeEngine(), Screen: fakeScreen{err: models.Errorf(models.KindCaptureFailure, "capture", "no png")}})
	code, env = do(t, router, http.MethodGet, "/api/screen/analyze", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "capture_failure", env.ErrorKind)

	router = setup(t, &Handlers{Engine: newFakeEngine()})
	code, _ = do(t, router, http.MethodGet, "/api/screen/analyze", "")
	assert.Equal(t, http.StatusNotImplemented, code)
}

func TestMetricsAndCORS(t *testing.T) {
	router := setup(t, &Handlers{Engine: newFakeEngine()})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketReceivesEvents(t *testing.T) {
	hub := NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := setup(t, &Handlers{Engine: newFakeEngine(), Hub: hub})
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?task_id=task-7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(service.Event{Type: service.EventTaskFinished, TaskID: "other"})
	hub.Broadcast(service.Event{Type: service.EventTaskFinished, TaskID: "task-7", Message: "done"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev service.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "task-7", ev.TaskID, "events for other tasks are filtered out")
	assert.Equal(t, service.EventTaskFinished, ev.Type)

	hub.Broadcast(service.Event{Type: service.EventEngineStatus, Status: models.EngineError})
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"type":"engine_status"`)
}
