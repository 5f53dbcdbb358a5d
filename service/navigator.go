package service

import (
	"context"
	"time"
)

// ModelHint is the optional model choice and budget supplied by the caller.
type ModelHint struct {
	ModelID    string        `json:"model_id,omitempty"`
	MaxCostUSD float64       `json:"max_cost_usd,omitempty"`
	MaxLatency time.Duration `json:"max_latency,omitempty"`
}

// Navigator brings the app into the state a hint asks for before the prompt
// is typed. A nil hint must never block.
type Navigator interface {
	Prepare(ctx context.Context, deviceID string, hint *ModelHint) error
}

// CurrentStateNavigator keeps whatever the UI currently shows.
type CurrentStateNavigator struct{}

func (CurrentStateNavigator) Prepare(context.Context, string, *ModelHint) error {
	return nil
}
