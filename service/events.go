package service

import (
	"context"
	"time"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Event types published to an EventBroadcaster.
const (
	EventTaskSubmitted = "task_submitted"
	EventTaskUpdated   = "task_updated"
	EventTaskFinished  = "task_finished"
	EventEngineStatus  = "engine_status"
)

// Event is a task or engine status change.
type Event struct {
	Type      string                  `json:"type"`
	TaskID    string                  `json:"task_id,omitempty"`
	Task      *models.AutomationTask  `json:"task,omitempty"`
	Status    models.AutomationStatus `json:"engine_status"`
	Message   string                  `json:"message,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// EventBroadcaster receives events; implementations must not block.
type EventBroadcaster interface {
	Broadcast(event Event)
}

// ResultSink persists tasks once they reach a terminal state.
type ResultSink interface {
	SaveTask(ctx context.Context, task *models.AutomationTask) error
}
