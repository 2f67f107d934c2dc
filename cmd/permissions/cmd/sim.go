package cmd

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-drift/permissions/pkg/permissions"
	"github.com/go-drift/permissions/pkg/platform"
)

// simBridge plays the Android side of the permission channels in-process.
// Prompts are answered from a fixed script of grant flags, one callback per
// flag, after the request call returns.
type simBridge struct {
	granted map[string]bool
	answers []int

	mu       sync.Mutex
	requests int
	wg       sync.WaitGroup
}

func newSimBridge(answers []int, granted ...string) *simBridge {
	b := &simBridge{granted: make(map[string]bool), answers: answers}
	for _, p := range granted {
		b.granted[p] = true
	}
	return b
}

func (b *simBridge) InvokeMethod(channel, method string, args []byte) ([]byte, error) {
	if channel != permissions.MethodChannelName {
		return nil, platform.ErrChannelNotFound
	}
	var m struct {
		Permission  string   `json:"permission"`
		Permissions []string `json:"permissions"`
		RequestCode int      `json:"requestCode"`
	}
	if err := json.Unmarshal(args, &m); err != nil {
		return nil, fmt.Errorf("sim: bad %s args: %w", method, err)
	}

	switch method {
	case "check":
		return json.Marshal(map[string]any{"granted": b.granted[m.Permission]})
	case "request":
		b.mu.Lock()
		b.requests++
		b.mu.Unlock()
		b.wg.Add(1)
		go b.answer(m.RequestCode, m.Permissions)
		return json.Marshal(nil)
	default:
		return nil, platform.ErrMethodNotFound
	}
}

func (b *simBridge) answer(requestCode int, perms []string) {
	defer b.wg.Done()
	for _, flag := range b.answers {
		flags := make([]int, len(perms))
		for i := range flags {
			flags[i] = flag
		}
		payload, _ := json.Marshal(map[string]any{
			"requestCode":  requestCode,
			"permissions":  perms,
			"grantResults": flags,
		})
		// Unregistered-channel errors are reported by the platform package.
		_ = platform.HandleEvent(permissions.ResultsChannelName, payload)
	}
}

func (b *simBridge) StartEventStream(string) error { return nil }
func (b *simBridge) StopEventStream(string) error  { return nil }

// setHost sends a host lifecycle event the way the Android activity glue would.
func (b *simBridge) setHost(event string, id int64) error {
	payload, err := json.Marshal(map[string]any{"event": event, "host": id})
	if err != nil {
		return err
	}
	return platform.HandleEvent(permissions.HostsChannelName, payload)
}

// wait blocks until every scripted answer has been delivered.
func (b *simBridge) wait() {
	b.wg.Wait()
}

// uiLoop runs dispatched callbacks one at a time, in order, on its own goroutine.
type uiLoop struct {
	queue chan func()
	done  chan struct{}
}

func startUILoop() *uiLoop {
	l := &uiLoop{queue: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for cb := range l.queue {
			cb()
		}
	}()
	return l
}

func (l *uiLoop) post(cb func()) {
	l.queue <- cb
}

// stop drains queued callbacks and ends the loop.
func (l *uiLoop) stop() {
	close(l.queue)
	<-l.done
}
