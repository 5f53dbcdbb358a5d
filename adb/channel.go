package adb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// ChannelOptions tunes a Channel. Zero values fall back to defaults.
type ChannelOptions struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	DefaultTimeout time.Duration
	// RetryBackoff is the base delay between ExecuteWithRetry attempts.
	RetryBackoff time.Duration
	Metrics      *Metrics
	// OnStateChange is called outside the channel's locks.
	OnStateChange func(deviceID string, from, to models.DeviceConnectionState)
}

// Stats is a snapshot of the channel's counters.
type Stats struct {
	CommandsExecuted     int64                                   `json:"commands_executed"`
	CommandsFailed       int64                                   `json:"commands_failed"`
	TotalExecutionTime   time.Duration                           `json:"total_execution_time"`
	AverageExecutionTime time.Duration                           `json:"average_execution_time"`
	QueueDepth           map[string]int                          `json:"queue_depth"`
	DeviceStates         map[string]models.DeviceConnectionState `json:"device_states"`
}

type job struct {
	ctx   context.Context
	cmd   models.DeviceCommand
	reply chan models.DeviceCommandResult // nil for fire-and-forget
}

// commandQueue is an unbounded FIFO; push never blocks.
type commandQueue struct {
	mu     sync.Mutex
	items  []*job
	notify chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{notify: make(chan struct{}, 1)}
}

func (q *commandQueue) push(j *job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *commandQueue) pop() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	j := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return j, true
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type deviceEntry struct {
	id            string
	state         models.DeviceConnectionState
	everConnected bool
	lastChange    time.Time
	queue         *commandQueue
}

// Channel serializes commands per device and tracks device connectivity.
// Commands for one device run strictly in submission order, one at a time.
type Channel struct {
	client *ADBClient
	opts   ChannelOptions

	mu      sync.RWMutex
	devices map[string]*deviceEntry
	order   []string
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group

	statsMu sync.Mutex
	stats   Stats
}

// NewChannel creates a channel for the given devices. All start Disconnected
// until the first probe answers.
func NewChannel(client *ADBClient, opts ChannelOptions, deviceIDs ...string) *Channel {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 5 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCommandTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 200 * time.Millisecond
	}
	c := &Channel{
		client:  client,
		opts:    opts,
		devices: make(map[string]*deviceEntry),
	}
	for _, id := range deviceIDs {
		c.AddDevice(id)
	}
	return c
}

// AddDevice registers a device. Adding a known device is a no-op.
func (c *Channel) AddDevice(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[deviceID]; ok {
		return
	}
	entry := &deviceEntry{id: deviceID, state: models.DeviceDisconnected, lastChange: time.Now(), queue: newCommandQueue()}
	c.devices[deviceID] = entry
	c.order = append(c.order, deviceID)
	c.opts.Metrics.setDeviceState(deviceID, entry.state)
	if c.running {
		ctx := c.ctx
		c.group.Go(func() error { return c.worker(ctx, entry) })
	}
}

// Devices returns registered device IDs in registration order.
func (c *Channel) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Start launches one worker per device and the health probe.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("adb channel already running")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.group, _ = errgroup.WithContext(c.ctx)
	c.running = true

	for _, id := range c.order {
		entry := c.devices[id]
		runCtx := c.ctx
		c.group.Go(func() error { return c.worker(runCtx, entry) })
	}
	runCtx := c.ctx
	c.group.Go(func() error { return c.probeLoop(runCtx) })

	log.Printf("🔌 ADB channel started for %d device(s)", len(c.order))
	return nil
}

// Stop cancels in-flight commands and waits for the workers to exit.
func (c *Channel) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, group := c.cancel, c.group
	c.mu.Unlock()

	cancel()
	err := group.Wait()
	log.Printf("🔌 ADB channel stopped")
	return err
}

func (c *Channel) runContext() (context.Context, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx, c.running
}

func (c *Channel) worker(ctx context.Context, entry *deviceEntry) error {
	for {
		j, ok := entry.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
				c.drain(entry)
				return nil
			case <-entry.queue.notify:
				continue
			}
		}
		res := c.runJob(ctx, entry, j)
		if j.reply != nil {
			j.reply <- res
		}
	}
}

// drain fails whatever is left once the channel stops.
func (c *Channel) drain(entry *deviceEntry) {
	for {
		j, ok := entry.queue.pop()
		if !ok {
			return
		}
		if j.reply != nil {
			j.reply <- c.unavailable(j.cmd, "adb channel stopped")
		}
	}
}

func (c *Channel) runJob(runCtx context.Context, entry *deviceEntry, j *job) models.DeviceCommandResult {
	if err := j.ctx.Err(); err != nil {
		res := models.DeviceCommandResult{
			CommandText: j.cmd.CommandText(),
			DeviceID:    j.cmd.DeviceID,
			ErrorKind:   models.KindCommandFailed,
			Error:       fmt.Sprintf("command cancelled: %v", err),
		}
		c.record(res)
		return res
	}
	if state := c.ConnectionState(entry.id); state != models.DeviceConnected {
		res := c.unavailable(j.cmd, fmt.Sprintf("device %s is %s", entry.id, state))
		c.record(res)
		return res
	}

	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	cmd := j.cmd
	if cmd.Timeout <= 0 {
		cmd.Timeout = c.opts.DefaultTimeout
	}
	res := c.client.Run(ctx, cmd)
	c.record(res)
	if res.ErrorKind == models.KindDeviceUnavailable {
		c.setState(entry.id, models.DeviceDisconnected, res.Error)
	}
	return res
}

func (c *Channel) unavailable(cmd models.DeviceCommand, reason string) models.DeviceCommandResult {
	return models.DeviceCommandResult{
		CommandText: cmd.CommandText(),
		DeviceID:    cmd.DeviceID,
		ErrorKind:   models.KindDeviceUnavailable,
		Error:       reason,
		ExitCode:    -1,
	}
}

func (c *Channel) record(res models.DeviceCommandResult) {
	c.statsMu.Lock()
	c.stats.CommandsExecuted++
	if !res.Success {
		c.stats.CommandsFailed++
	}
	c.stats.TotalExecutionTime += res.Duration
	c.statsMu.Unlock()
	c.opts.Metrics.observeCommand(res)
}

// Enqueue queues cmd without waiting for it. It reports false when the channel
// is not running or the device is unknown.
func (c *Channel) Enqueue(cmd models.DeviceCommand) bool {
	runCtx, running := c.runContext()
	if !running {
		return false
	}
	c.mu.RLock()
	entry, ok := c.devices[cmd.DeviceID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	entry.queue.push(&job{ctx: runCtx, cmd: cmd})
	return true
}

// Execute runs cmd through the device's queue and waits for the result. A
// device that is not Connected fails immediately with DeviceUnavailable.
func (c *Channel) Execute(ctx context.Context, cmd models.DeviceCommand) models.DeviceCommandResult {
	runCtx, running := c.runContext()
	if !running {
		return c.unavailable(cmd, "adb channel not running")
	}
	c.mu.RLock()
	entry, ok := c.devices[cmd.DeviceID]
	c.mu.RUnlock()
	if !ok {
		res := c.unavailable(cmd, fmt.Sprintf("unknown device %q", cmd.DeviceID))
		c.record(res)
		return res
	}
	if state := c.ConnectionState(cmd.DeviceID); state != models.DeviceConnected {
		res := c.unavailable(cmd, fmt.Sprintf("device %s is %s", cmd.DeviceID, state))
		c.record(res)
		return res
	}

	reply := make(chan models.DeviceCommandResult, 1)
	entry.queue.push(&job{ctx: ctx, cmd: cmd, reply: reply})
	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return models.DeviceCommandResult{
			CommandText: cmd.CommandText(),
			DeviceID:    cmd.DeviceID,
			ErrorKind:   models.KindCommandFailed,
			Error:       fmt.Sprintf("command cancelled: %v", ctx.Err()),
			ExitCode:    -1,
		}
	case <-runCtx.Done():
		return c.unavailable(cmd, "adb channel stopped")
	}
}

// ExecuteWithRetry re-issues failed commands up to cmd.MaxRetries times with
// exponential backoff. Unavailable devices are not retried.
func (c *Channel) ExecuteWithRetry(ctx context.Context, cmd models.DeviceCommand) models.DeviceCommandResult {
	res := c.Execute(ctx, cmd)
	for !res.Success && res.ErrorKind != models.KindDeviceUnavailable && cmd.CanRetry() {
		cmd = cmd.Reissue()
		delay := c.opts.RetryBackoff << (cmd.RetryCount - 1)
		log.Printf("🔁 [%s] retrying %q in %s (attempt %d/%d): %s",
			cmd.DeviceID, cmd.CommandText(), delay, cmd.RetryCount, cmd.MaxRetries, res.Error)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return res
		}
		res = c.Execute(ctx, cmd)
	}
	return res
}

// ConnectionState returns the device's state; unknown devices are Disconnected.
func (c *Channel) ConnectionState(deviceID string) models.DeviceConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.devices[deviceID]; ok {
		return entry.state
	}
	return models.DeviceDisconnected
}

// States returns every device's state.
func (c *Channel) States() map[string]models.DeviceConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.DeviceConnectionState, len(c.devices))
	for id, entry := range c.devices {
		out[id] = entry.state
	}
	return out
}

// GetOptimalDevice returns the first Connected device in registration order.
func (c *Channel) GetOptimalDevice() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		if c.devices[id].state == models.DeviceConnected {
			return id, true
		}
	}
	return "", false
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	c.statsMu.Lock()
	s := c.stats
	c.statsMu.Unlock()
	if s.CommandsExecuted > 0 {
		s.AverageExecutionTime = s.TotalExecutionTime / time.Duration(s.CommandsExecuted)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	s.QueueDepth = make(map[string]int, len(c.devices))
	s.DeviceStates = make(map[string]models.DeviceConnectionState, len(c.devices))
	for id, entry := range c.devices {
		s.QueueDepth[id] = entry.queue.len()
		s.DeviceStates[id] = entry.state
	}
	return s
}

// setState applies a transition if it is allowed and logs only on change.
func (c *Channel) setState(deviceID string, to models.DeviceConnectionState, reason string) {
	c.mu.Lock()
	entry, ok := c.devices[deviceID]
	if !ok || entry.state == to {
		c.mu.Unlock()
		return
	}
	from := entry.state
	if !models.CanTransitionDevice(from, to) {
		c.mu.Unlock()
		log.Printf("⚠️ [%s] ignoring device transition %s → %s", deviceID, from, to)
		return
	}
	entry.state = to
	entry.lastChange = time.Now()
	if to == models.DeviceConnected {
		entry.everConnected = true
	}
	c.mu.Unlock()

	c.opts.Metrics.setDeviceState(deviceID, to)
	if reason != "" {
		log.Printf("📱 [%s] %s → %s (%s)", deviceID, from, to, reason)
	} else {
		log.Printf("📱 [%s] %s → %s", deviceID, from, to)
	}
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(deviceID, from, to)
	}
}
