// Package adbtest provides a scriptable adb.Runner for tests.
package adbtest

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Response is what the fake process "prints".
type Response struct {
	Stdout   string
	Bytes    []byte // raw stdout; wins over Stdout when set
	Stderr   string
	ExitCode int
	Err      error
	Delay    time.Duration
}

type handler struct {
	match string
	fn    func(args []string) Response
}

// Runner answers commands by substring match on the joined argument list.
// Later registrations take precedence. By default the boot probe answers
// "1" and everything else succeeds with empty output.
type Runner struct {
	mu       sync.Mutex
	handlers []handler
	calls    [][]string
}

func NewRunner() *Runner {
	r := &Runner{}
	r.Respond("getprop sys.boot_completed", Response{Stdout: "1\n"})
	return r
}

// On registers fn for commands containing match.
func (r *Runner) On(match string, fn func(args []string) Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler{match: match, fn: fn})
}

// Respond registers a fixed response for commands containing match.
func (r *Runner) Respond(match string, resp Response) {
	r.On(match, func([]string) Response { return resp })
}

// SetOnline switches the boot probe between a healthy device and one adb
// cannot reach.
func (r *Runner) SetOnline(online bool) {
	if online {
		r.Respond("getprop sys.boot_completed", Response{Stdout: "1\n"})
		return
	}
	r.Respond("getprop sys.boot_completed", Response{Stderr: "error: device offline", ExitCode: 1})
}

func (r *Runner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, int, error) {
	joined := strings.Join(args, " ")

	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	var fn func([]string) Response
	for i := len(r.handlers) - 1; i >= 0; i-- {
		if strings.Contains(joined, r.handlers[i].match) {
			fn = r.handlers[i].fn
			break
		}
	}
	r.mu.Unlock()

	resp := Response{}
	if fn != nil {
		resp = fn(args)
	}
	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, -1, ctx.Err()
		}
	}
	if resp.Err != nil {
		return nil, nil, -1, resp.Err
	}
	stdout := resp.Bytes
	if stdout == nil {
		stdout = []byte(resp.Stdout)
	}
	return stdout, []byte(resp.Stderr), resp.ExitCode, nil
}

// Calls returns every argument list seen so far.
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsMatching returns the joined argument lists that contain match.
func (r *Runner) CallsMatching(match string) []string {
	var out []string
	for _, args := range r.Calls() {
		if joined := strings.Join(args, " "); strings.Contains(joined, match) {
			out = append(out, joined)
		}
	}
	return out
}
