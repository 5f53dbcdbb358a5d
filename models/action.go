package models

// ActionType is a manual UI action that can be dispatched to a device.
type ActionType string

const (
	ActionTap     ActionType = "tap"
	ActionSwipe   ActionType = "swipe"
	ActionInput   ActionType = "input"
	ActionKey     ActionType = "key"
	ActionOpenApp ActionType = "open_app"
)

// ActionStatus tracks a dispatched action.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionExecuting ActionStatus = "executing"
	ActionDone      ActionStatus = "done"
	ActionFailed    ActionStatus = "failed"
)

type Action struct {
	ID        string                 `json:"id"`
	DeviceID  string                 `json:"device_id"`
	Type      ActionType             `json:"type"`
	Params    map[string]interface{} `json:"params"`
	Timestamp int64                  `json:"timestamp"`
	Status    ActionStatus           `json:"status"`
	Result    string                 `json:"result,omitempty"`
}

type ActionRequest struct {
	DeviceID string     `json:"device_id,omitempty"`
	Action   ActionData `json:"action"`
}

type ActionData struct {
	Type   ActionType             `json:"type" binding:"required"`
	Params map[string]interface{} `json:"params"`
}
