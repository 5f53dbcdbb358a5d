package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Thirteen88/ish-automation-sub001/adb"
	"github.com/Thirteen88/ish-automation-sub001/models"
)

// DeviceCommander issues commands to devices; *adb.Channel implements it.
type DeviceCommander interface {
	Execute(ctx context.Context, cmd models.DeviceCommand) models.DeviceCommandResult
	ExecuteWithRetry(ctx context.Context, cmd models.DeviceCommand) models.DeviceCommandResult
	ConnectionState(deviceID string) models.DeviceConnectionState
}

// ActionDispatcher performs UI input on devices, either directly for the
// task executor or through a queue for manual actions.
type ActionDispatcher struct {
	channel        DeviceCommander
	commandTimeout time.Duration
	actionQueue    chan *models.Action

	mu      sync.RWMutex
	actions map[string]*models.Action
}

func NewActionDispatcher(channel DeviceCommander, commandTimeout time.Duration) *ActionDispatcher {
	if commandTimeout <= 0 {
		commandTimeout = 10 * time.Second
	}
	return &ActionDispatcher{
		channel:        channel,
		commandTimeout: commandTimeout,
		actionQueue:    make(chan *models.Action, 100),
		actions:        make(map[string]*models.Action),
	}
}

func (d *ActionDispatcher) run(ctx context.Context, deviceID string, args []string, retries int) error {
	cmd := models.DeviceCommand{Args: args, DeviceID: deviceID, Timeout: d.commandTimeout, MaxRetries: retries}
	var res models.DeviceCommandResult
	if retries > 0 {
		res = d.channel.ExecuteWithRetry(ctx, cmd)
	} else {
		res = d.channel.Execute(ctx, cmd)
	}
	return res.Err()
}

// Input injection is best effort and never retried; a repeated tap or text
// could land twice.

func (d *ActionDispatcher) Tap(ctx context.Context, deviceID string, x, y int) error {
	return d.run(ctx, deviceID, adb.TapArgs(x, y), 0)
}

func (d *ActionDispatcher) Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2, durationMs int) error {
	return d.run(ctx, deviceID, adb.SwipeArgs(x1, y1, x2, y2, durationMs), 0)
}

// InputText types text verbatim. Characters outside printable ASCII are
// passed along but the device drops them, which is logged.
func (d *ActionDispatcher) InputText(ctx context.Context, deviceID, text string) error {
	if bad := adb.UntypableRunes(text); len(bad) > 0 {
		log.Printf("⚠️ [%s] input text cannot type %q, they will be missing on screen", deviceID, string(bad))
	}
	for _, args := range adb.TextCommands(text) {
		if err := d.run(ctx, deviceID, args, 0); err != nil {
			return err
		}
	}
	return nil
}

func (d *ActionDispatcher) Key(ctx context.Context, deviceID string, keycode int) error {
	return d.run(ctx, deviceID, adb.KeyEventArgs(keycode), 0)
}

func (d *ActionDispatcher) OpenApp(ctx context.Context, deviceID, packageName string) error {
	return d.run(ctx, deviceID, adb.LaunchAppArgs(packageName), 1)
}

// ForegroundWindow returns the window manager's focus lines.
func (d *ActionDispatcher) ForegroundWindow(ctx context.Context, deviceID string) (string, error) {
	res := d.channel.ExecuteWithRetry(ctx, models.DeviceCommand{
		Args:       adb.FocusedWindowArgs(),
		DeviceID:   deviceID,
		Timeout:    d.commandTimeout,
		MaxRetries: 1,
	})
	if !res.Success {
		return "", res.Err()
	}
	return strings.TrimSpace(res.Output), nil
}

// DispatchToDevice queues a manual action; ProcessActionQueue executes it.
func (d *ActionDispatcher) DispatchToDevice(deviceID string, action *models.Action) error {
	if state := d.channel.ConnectionState(deviceID); state != models.DeviceConnected {
		return models.Errorf(models.KindDeviceUnavailable, "dispatch", "device %s is %s", deviceID, state)
	}

	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	action.DeviceID = deviceID
	action.Status = models.ActionPending
	action.Timestamp = time.Now().Unix()

	d.mu.Lock()
	d.actions[action.ID] = action
	d.mu.Unlock()

	// Add to queue
	select {
	case d.actionQueue <- action:
		return nil
	default:
		d.mu.Lock()
		delete(d.actions, action.ID)
		d.mu.Unlock()
		return fmt.Errorf("action queue full")
	}
}

// GetAction returns a copy of a dispatched action.
func (d *ActionDispatcher) GetAction(id string) (models.Action, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actions[id]
	if !ok {
		return models.Action{}, false
	}
	return *a, true
}

// ProcessActionQueue executes queued actions until ctx is done.
func (d *ActionDispatcher) ProcessActionQueue(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case action := <-d.actionQueue:
			d.setStatus(action, models.ActionExecuting, "")
			if err := d.ExecuteAction(ctx, action); err != nil {
				d.setStatus(action, models.ActionFailed, err.Error())
				log.Printf("❌ [%s] Action %s failed: %v", action.DeviceID, action.Type, err)
			} else {
				d.setStatus(action, models.ActionDone, "success")
			}
		}
	}
}

func (d *ActionDispatcher) setStatus(action *models.Action, status models.ActionStatus, result string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	action.Status = status
	action.Result = result
}

// ExecuteAction executes a single action synchronously.
func (d *ActionDispatcher) ExecuteAction(ctx context.Context, action *models.Action) error {
	p := &paramReader{values: action.Params}
	switch action.Type {
	case models.ActionTap:
		x, y := p.intValue("x"), p.intValue("y")
		if err := p.err(); err != nil {
			return err
		}
		return d.Tap(ctx, action.DeviceID, x, y)

	case models.ActionSwipe:
		x1, y1, x2, y2 := p.intValue("x1"), p.intValue("y1"), p.intValue("x2"), p.intValue("y2")
		duration := p.optionalInt("duration", 300)
		if err := p.err(); err != nil {
			return err
		}
		return d.Swipe(ctx, action.DeviceID, x1, y1, x2, y2, duration)

	case models.ActionInput:
		text := p.stringValue("text")
		if err := p.err(); err != nil {
			return err
		}
		return d.InputText(ctx, action.DeviceID, text)

	case models.ActionKey:
		keycode := p.intValue("keycode")
		if err := p.err(); err != nil {
			return err
		}
		return d.Key(ctx, action.DeviceID, keycode)

	case models.ActionOpenApp:
		packageName := p.stringValue("package")
		if err := p.err(); err != nil {
			return err
		}
		return d.OpenApp(ctx, action.DeviceID, packageName)

	default:
		return fmt.Errorf("unknown action type: %s", action.Type)
	}
}

// paramReader reads typed values out of a decoded JSON object and keeps
// the first problem it meets.
type paramReader struct {
	values  map[string]any
	problem error
}

func (p *paramReader) fail(format string, args ...any) {
	if p.problem == nil {
		p.problem = fmt.Errorf("invalid action params: "+format, args...)
	}
}

func (p *paramReader) err() error { return p.problem }

func (p *paramReader) intValue(key string) int {
	switch v := p.values[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			p.fail("%s: %v", key, err)
		}
		return int(n)
	case nil:
		p.fail("missing %s", key)
	default:
		p.fail("%s must be a number", key)
	}
	return 0
}

func (p *paramReader) optionalInt(key string, def int) int {
	if _, ok := p.values[key]; !ok {
		return def
	}
	return p.intValue(key)
}

func (p *paramReader) stringValue(key string) string {
	s, ok := p.values[key].(string)
	if !ok || s == "" {
		p.fail("missing %s", key)
	}
	return s
}
