package permissions

import (
	"fmt"
	"sync"

	"github.com/go-drift/permissions/pkg/errors"
	"github.com/go-drift/permissions/pkg/platform"
)

// Platform channel names shared with the native host.
const (
	// MethodChannelName carries check and request calls to native, and
	// onRequestPermissionsResult calls from native.
	MethodChannelName = "drift/permissions"

	// ResultsChannelName streams permission result callbacks from native.
	ResultsChannelName = "drift/permissions/results"

	// HostsChannelName streams host attach and detach events from native.
	HostsChannelName = "drift/permissions/hosts"
)

// PlatformChecker checks permissions through the native bridge.
type PlatformChecker struct {
	channel *platform.MethodChannel
	appID   string
}

// NewPlatformChecker returns a Checker that asks native whether the app
// identified by appID holds a permission.
func NewPlatformChecker(appID string) *PlatformChecker {
	return &PlatformChecker{
		channel: platform.NewMethodChannel(MethodChannelName),
		appID:   appID,
	}
}

// CheckPermission invokes "check" on the native side. A bridge failure is
// reported and treated as not granted.
func (c *PlatformChecker) CheckPermission(permission string) bool {
	result, err := c.channel.Invoke("check", map[string]any{
		"permission": permission,
		"package":    c.appID,
	})
	if err != nil {
		errors.Report(&errors.Error{
			Op:         "permissions.check",
			Kind:       errors.KindPlatform,
			Channel:    MethodChannelName,
			Permission: permission,
			Err:        err,
		})
		return false
	}
	return platform.ParseBool(platform.ParseMap(result)["granted"])
}

// PlatformRequester shows permission prompts through the native bridge.
type PlatformRequester struct {
	channel *platform.MethodChannel
}

// NewPlatformRequester returns a Requester backed by the native bridge.
func NewPlatformRequester() *PlatformRequester {
	return &PlatformRequester{channel: platform.NewMethodChannel(MethodChannelName)}
}

// RequestPermissions invokes "request" on the native side. It returns once
// native has accepted the call, not when the user answers.
func (r *PlatformRequester) RequestPermissions(host Host, permissions []string, requestCode int) error {
	_, err := r.channel.Invoke("request", map[string]any{
		"host":        host.HostID(),
		"permissions": permissions,
		"requestCode": requestCode,
	})
	return err
}

// PlatformHost is a native UI context known to Go only by its id.
type PlatformHost struct {
	id int64
}

// HostID returns the native id of the host.
func (h *PlatformHost) HostID() int64 {
	return h.id
}

func (h *PlatformHost) String() string {
	return fmt.Sprintf("PlatformHost(%d)", h.id)
}

// CallbackResult is a permission result callback as delivered by native.
type CallbackResult struct {
	RequestCode  int
	Permissions  []string
	GrantResults []int
}

// ParseCallbackResult decodes a callback payload of the form
// {"requestCode": 69, "permissions": [...], "grantResults": [...]}.
func ParseCallbackResult(data any) (CallbackResult, error) {
	fail := func() (CallbackResult, error) {
		return CallbackResult{}, &errors.ParseError{
			Channel:  ResultsChannelName,
			DataType: "CallbackResult",
			Got:      data,
		}
	}
	m := platform.ParseMap(data)
	if m == nil {
		return fail()
	}
	code, ok := platform.ToInt(m["requestCode"])
	if !ok {
		return fail()
	}
	permissions, ok := platform.ParseStringSlice(m["permissions"])
	if !ok {
		return fail()
	}
	grants, ok := platform.ParseIntSlice(m["grantResults"])
	if !ok {
		return fail()
	}
	return CallbackResult{RequestCode: code, Permissions: permissions, GrantResults: grants}, nil
}

// hostEvent is a host lifecycle change reported by native.
type hostEvent struct {
	Event string
	Host  int64
}

func parseHostEvent(data any) (hostEvent, error) {
	m := platform.ParseMap(data)
	id, ok := platform.ToInt64(m["host"])
	event := platform.ParseString(m["event"])
	if m == nil || !ok || (event != "attach" && event != "detach") {
		return hostEvent{}, &errors.ParseError{
			Channel:  HostsChannelName,
			DataType: "HostEvent",
			Got:      data,
		}
	}
	return hostEvent{Event: event, Host: id}, nil
}

// Binding connects a Coordinator to the native bridge: permission callbacks
// are delivered to it and native host lifecycle events attach and detach hosts.
type Binding struct {
	coordinator *Coordinator
	channel     *platform.MethodChannel

	mu     sync.Mutex
	hosts  map[int64]*PlatformHost
	unsubs []func()
}

// Bind starts forwarding native events to c. Call Close to stop.
func Bind(c *Coordinator) *Binding {
	b := &Binding{
		coordinator: c,
		channel:     platform.NewMethodChannel(MethodChannelName),
		hosts:       make(map[int64]*PlatformHost),
	}

	results := platform.NewStream(ResultsChannelName, ParseCallbackResult)
	hosts := platform.NewStream(HostsChannelName, parseHostEvent)
	b.unsubs = append(b.unsubs,
		results.Listen(func(r CallbackResult) {
			// Malformed callbacks are reported by the coordinator.
			_ = c.DeliverCallbackResult(r.RequestCode, r.Permissions, r.GrantResults)
		}),
		hosts.Listen(b.handleHostEvent),
	)

	b.channel.SetHandler(b.handleMethodCall)
	return b
}

// Host returns the host registered for id, creating it on first use.
// The same pointer is returned for an id until that host detaches.
func (b *Binding) Host(id int64) *PlatformHost {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hosts[id]
	if !ok {
		h = &PlatformHost{id: id}
		b.hosts[id] = h
	}
	return h
}

func (b *Binding) handleHostEvent(ev hostEvent) {
	switch ev.Event {
	case "attach":
		b.coordinator.Attach(b.Host(ev.Host))
	case "detach":
		b.mu.Lock()
		h, ok := b.hosts[ev.Host]
		delete(b.hosts, ev.Host)
		b.mu.Unlock()
		if ok {
			b.coordinator.Detach(h)
		}
	}
}

func (b *Binding) handleMethodCall(method string, args any) (any, error) {
	switch method {
	case "onRequestPermissionsResult":
		r, err := ParseCallbackResult(args)
		if err != nil {
			return nil, err
		}
		return nil, b.coordinator.DeliverCallbackResult(r.RequestCode, r.Permissions, r.GrantResults)
	case "attach", "detach":
		m := platform.ParseMap(args)
		if m != nil {
			m["event"] = method
		}
		ev, err := parseHostEvent(m)
		if err != nil {
			return nil, err
		}
		b.handleHostEvent(ev)
		return nil, nil
	default:
		return nil, platform.ErrMethodNotFound
	}
}

// Close stops forwarding native events and removes the method handler.
func (b *Binding) Close() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	if unsubs != nil {
		b.channel.SetHandler(nil)
	}
}
