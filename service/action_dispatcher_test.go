package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

type fakeCommander struct {
	mu      sync.Mutex
	state   models.DeviceConnectionState
	cmds    []models.DeviceCommand
	retried []bool
	result  func(cmd models.DeviceCommand) models.DeviceCommandResult
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{state: models.DeviceConnected}
}

func (f *fakeCommander) exec(cmd models.DeviceCommand, retry bool) models.DeviceCommandResult {
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.retried = append(f.retried, retry)
	result := f.result
	f.mu.Unlock()
	if result != nil {
		return result(cmd)
	}
	return models.DeviceCommandResult{Success: true, CommandText: cmd.CommandText(), DeviceID: cmd.DeviceID}
}

func (f *fakeCommander) Execute(_ context.Context, cmd models.DeviceCommand) models.DeviceCommandResult {
	return f.exec(cmd, false)
}

func (f *fakeCommander) ExecuteWithRetry(_ context.Context, cmd models.DeviceCommand) models.DeviceCommandResult {
	return f.exec(cmd, true)
}

func (f *fakeCommander) ConnectionState(string) models.DeviceConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCommander) commandTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cmds))
	for i, c := range f.cmds {
		out[i] = c.CommandText()
	}
	return out
}

func TestInputTextKeepsLiteralPercentS(t *testing.T) {
	fc := newFakeCommander()
	d := NewActionDispatcher(fc, time.Second)

	require.NoError(t, d.InputText(context.Background(), "emulator-5554", "use %s here"))
	assert.Equal(t, []string{
		"shell input text use%s%",
		"shell input text s%shere",
	}, fc.commandTexts())
}

func TestExecuteAction(t *testing.T) {
	tests := []struct {
		name    string
		action  models.Action
		want    string
		wantErr string
	}{
		{
			name:   "tap from json numbers",
			action: models.Action{Type: models.ActionTap, Params: map[string]any{"x": 540.0, "y": 2210.0}},
			want:   "shell input tap 540 2210",
		},
		{
			name:   "swipe default duration",
			action: models.Action{Type: models.ActionSwipe, Params: map[string]any{"x1": 1, "y1": 2, "x2": 3, "y2": 4}},
			want:   "shell input swipe 1 2 3 4 300",
		},
		{
			name:   "input text escaped",
			action: models.Action{Type: models.ActionInput, Params: map[string]any{"text": "hi there"}},
			want:   "shell input text hi%sthere",
		},
		{
			name:   "key",
			action: models.Action{Type: models.ActionKey, Params: map[string]any{"keycode": 66}},
			want:   "shell input keyevent 66",
		},
		{
			name:    "missing coordinate",
			action:  models.Action{Type: models.ActionTap, Params: map[string]any{"x": 1}},
			wantErr: "missing y",
		},
		{
			name:    "nil params",
			action:  models.Action{Type: models.ActionKey},
			wantErr: "missing keycode",
		},
		{
			name:    "wrong type",
			action:  models.Action{Type: models.ActionTap, Params: map[string]any{"x": "left", "y": 1}},
			wantErr: "x must be a number",
		},
		{
			name:    "unknown type",
			action:  models.Action{Type: "wiggle"},
			wantErr: "unknown action type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeCommander()
			d := NewActionDispatcher(fc, time.Second)
			action := tt.action
			action.DeviceID = "emulator-5554"

			err := d.ExecuteAction(context.Background(), &action)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Empty(t, fc.commandTexts())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, fc.commandTexts())
		})
	}
}

func TestOpenAppRetriesOnce(t *testing.T) {
	fc := newFakeCommander()
	d := NewActionDispatcher(fc, time.Second)

	require.NoError(t, d.OpenApp(context.Background(), "dev", "ai.perplexity.app.android"))
	require.NoError(t, d.Tap(context.Background(), "dev", 1, 2))

	require.Len(t, fc.cmds, 2)
	assert.Equal(t, 1, fc.cmds[0].MaxRetries)
	assert.Equal(t, []bool{true, false}, fc.retried)
	assert.Equal(t, time.Second, fc.cmds[1].Timeout)
}

func TestForegroundWindow(t *testing.T) {
	fc := newFakeCommander()
	fc.result = func(cmd models.DeviceCommand) models.DeviceCommandResult {
		return models.DeviceCommandResult{Success: true, Output: "  mCurrentFocus=Window{ ai.perplexity.app.android/.Main}\n"}
	}
	d := NewActionDispatcher(fc, 0)

	focus, err := d.ForegroundWindow(context.Background(), "dev")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(focus, "mCurrentFocus"))

	fc.result = func(cmd models.DeviceCommand) models.DeviceCommandResult {
		return models.DeviceCommandResult{ErrorKind: models.KindDeviceUnavailable, Error: "device dev is disconnected", CommandText: cmd.CommandText()}
	}
	_, err = d.ForegroundWindow(context.Background(), "dev")
	assert.True(t, models.IsKind(err, models.KindDeviceUnavailable))
}

func TestDispatchToDevice(t *testing.T) {
	fc := newFakeCommander()
	d := NewActionDispatcher(fc, time.Second)

	action := &models.Action{Type: models.ActionKey, Params: map[string]any{"keycode": 4.0}}
	require.NoError(t, d.DispatchToDevice("dev", action))
	require.NotEmpty(t, action.ID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.ProcessActionQueue(ctx) }()

	require.Eventually(t, func() bool {
		a, ok := d.GetAction(action.ID)
		return ok && a.Status == models.ActionDone
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []string{"shell input keyevent 4"}, fc.commandTexts())

	fc.state = models.DeviceDisconnected
	err := d.DispatchToDevice("dev", &models.Action{Type: models.ActionKey})
	assert.True(t, models.IsKind(err, models.KindDeviceUnavailable))
}
