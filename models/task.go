package models

import (
	"fmt"
	"time"
)

// TaskStatus is the per-task state machine.
type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskInProgress
	TaskCompleted
	TaskFailed
	TaskTimedOut
)

var taskStatusNames = [...]string{"pending", "in_progress", "completed", "failed", "timed_out"}

func (s TaskStatus) String() string {
	if int(s) < 0 || int(s) >= len(taskStatusNames) {
		return fmt.Sprintf("task_status(%d)", int(s))
	}
	return taskStatusNames[s]
}

func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TaskStatus) UnmarshalText(b []byte) error {
	v, err := ParseTaskStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseTaskStatus is the inverse of TaskStatus.String.
func ParseTaskStatus(name string) (TaskStatus, error) {
	for i, n := range taskStatusNames {
		if n == name {
			return TaskStatus(i), nil
		}
	}
	return TaskPending, fmt.Errorf("unknown task status %q", name)
}

// Terminal reports whether no further transition is expected. Failed is
// terminal unless the engine chooses to retry it.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskTimedOut
}

// Failed -> Pending is the retry edge; Pending -> Failed covers tasks dropped on shutdown.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:    {TaskInProgress: true, TaskFailed: true},
	TaskInProgress: {TaskCompleted: true, TaskFailed: true, TaskTimedOut: true},
	TaskFailed:     {TaskPending: true},
}

// CanTransitionTask reports whether a task may move between two states.
func CanTransitionTask(from, to TaskStatus) bool {
	return validTaskTransitions[from][to]
}

// AutomationTask is one prompt submitted to the engine.
type AutomationTask struct {
	TaskID       string          `json:"task_id"`
	Prompt       string          `json:"prompt"`
	Status       TaskStatus      `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Response     *ParsedResponse `json:"response,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorKind    ErrorKind       `json:"error_kind,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Timeout      time.Duration   `json:"timeout"`
	Metadata     map[string]any  `json:"metadata"`
}

// TransitionTo moves the task to a new status, stamping start and completion
// times. Invalid moves leave the task untouched.
func (t *AutomationTask) TransitionTo(to TaskStatus, now time.Time) error {
	if !CanTransitionTask(t.Status, to) {
		return fmt.Errorf("task %s: invalid transition %s -> %s", t.TaskID, t.Status, to)
	}
	switch to {
	case TaskInProgress:
		t.StartedAt = &now
		t.CompletedAt = nil
	case TaskCompleted, TaskFailed, TaskTimedOut:
		t.CompletedAt = &now
	case TaskPending:
		t.CompletedAt = nil
	}
	t.Status = to
	return nil
}

// Snapshot returns a copy safe to hand to callers outside the engine.
func (t *AutomationTask) Snapshot() *AutomationTask {
	cp := *t
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.Response != nil {
		r := *t.Response
		cp.Response = &r
	}
	cp.Metadata = make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// AutomationStatus is the engine-level state machine.
type AutomationStatus int

const (
	EngineIdle AutomationStatus = iota
	EngineInitializing
	EngineReady
	EngineProcessingPrompt
	EngineWaitingForResponse
	EngineCapturingResponse
	EngineError
	EngineShutdown
)

var engineStatusNames = [...]string{
	"idle", "initializing", "ready", "processing_prompt",
	"waiting_for_response", "capturing_response", "error", "shutdown",
}

func (s AutomationStatus) String() string {
	if int(s) < 0 || int(s) >= len(engineStatusNames) {
		return fmt.Sprintf("engine_status(%d)", int(s))
	}
	return engineStatusNames[s]
}

func (s AutomationStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AutomationStatus) UnmarshalText(b []byte) error {
	for i, n := range engineStatusNames {
		if n == string(b) {
			*s = AutomationStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown engine status %q", b)
}

// Busy reports whether a task is being driven through the UI.
func (s AutomationStatus) Busy() bool {
	return s == EngineProcessingPrompt || s == EngineWaitingForResponse || s == EngineCapturingResponse
}

var validEngineTransitions = map[AutomationStatus]map[AutomationStatus]bool{
	EngineIdle:               {EngineInitializing: true, EngineShutdown: true},
	EngineInitializing:       {EngineReady: true, EngineError: true, EngineShutdown: true},
	EngineReady:              {EngineProcessingPrompt: true, EngineError: true, EngineShutdown: true},
	EngineProcessingPrompt:   {EngineWaitingForResponse: true, EngineCapturingResponse: true, EngineReady: true, EngineError: true, EngineShutdown: true},
	EngineWaitingForResponse: {EngineCapturingResponse: true, EngineReady: true, EngineError: true, EngineShutdown: true},
	EngineCapturingResponse:  {EngineReady: true, EngineError: true, EngineShutdown: true},
	EngineError:              {EngineReady: true, EngineShutdown: true},
}

// CanTransitionEngine reports whether the engine may move between two states.
func CanTransitionEngine(from, to AutomationStatus) bool {
	return validEngineTransitions[from][to]
}
