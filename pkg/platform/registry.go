package platform

import (
	"fmt"
	"sync"

	"github.com/go-drift/permissions/pkg/errors"
)

// channelRegistry manages all registered platform channels.
type channelRegistry struct {
	methodChannels map[string]*MethodChannel
	eventChannels  map[string]*EventChannel
	mu             sync.RWMutex
}

var registry = &channelRegistry{
	methodChannels: make(map[string]*MethodChannel),
	eventChannels:  make(map[string]*EventChannel),
}

func (r *channelRegistry) method(name string) *MethodChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.methodChannels[name]
	if !ok {
		ch = &MethodChannel{name: name}
		r.methodChannels[name] = ch
	}
	return ch
}

func (r *channelRegistry) event(name string) *EventChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.eventChannels[name]
	if !ok {
		ch = &EventChannel{name: name}
		r.eventChannels[name] = ch
	}
	return ch
}

func (r *channelRegistry) getMethodChannel(name string) *MethodChannel {
	r.mu.RLock()
	ch := r.methodChannels[name]
	r.mu.RUnlock()
	return ch
}

func (r *channelRegistry) getEventChannel(name string) *EventChannel {
	r.mu.RLock()
	ch := r.eventChannels[name]
	r.mu.RUnlock()
	return ch
}

func (r *channelRegistry) events() []*EventChannel {
	r.mu.RLock()
	channels := make([]*EventChannel, 0, len(r.eventChannels))
	for _, ch := range r.eventChannels {
		channels = append(channels, ch)
	}
	r.mu.RUnlock()
	return channels
}

// NativeBridge defines the interface for calling native platform code.
type NativeBridge interface {
	// InvokeMethod calls a method on the native side.
	InvokeMethod(channel, method string, args []byte) ([]byte, error)

	// StartEventStream tells native to start sending events for a channel.
	StartEventStream(channel string) error

	// StopEventStream tells native to stop sending events for a channel.
	StopEventStream(channel string) error
}

var (
	bridgeMu     sync.RWMutex
	nativeBridge NativeBridge
)

func currentBridge() NativeBridge {
	bridgeMu.RLock()
	defer bridgeMu.RUnlock()
	return nativeBridge
}

func nativeBridgeInstalled() bool {
	return currentBridge() != nil
}

// SetNativeBridge sets the native bridge implementation.
//
// After setting the bridge, SetNativeBridge starts event streams for any
// event channels that acquired subscriptions before the bridge was available.
// Startup errors are dispatched to subscribers' error handlers.
func SetNativeBridge(bridge NativeBridge) {
	bridgeMu.Lock()
	nativeBridge = bridge
	bridgeMu.Unlock()
	if bridge == nil {
		return
	}

	for _, ch := range registry.events() {
		ch.mu.Lock()
		shouldStart := len(ch.subscriptions) > 0 && !ch.started
		if shouldStart {
			ch.started = true
		}
		ch.mu.Unlock()

		if shouldStart {
			if err := startEventStream(ch.name); err != nil {
				ch.mu.Lock()
				ch.started = false
				ch.mu.Unlock()
				ch.dispatchError(err)
			}
		}
	}
}

func invokeNative(channel, method string, args any) (any, error) {
	bridge := currentBridge()
	if bridge == nil {
		return nil, ErrPlatformUnavailable
	}

	argsData, err := DefaultCodec.Encode(args)
	if err != nil {
		return nil, err
	}

	resultData, err := bridge.InvokeMethod(channel, method, argsData)
	if err != nil {
		return nil, err
	}

	return DefaultCodec.Decode(resultData)
}

func startEventStream(channel string) error {
	return streamControl("platform.startEventStream", channel, NativeBridge.StartEventStream)
}

func stopEventStream(channel string) error {
	return streamControl("platform.stopEventStream", channel, NativeBridge.StopEventStream)
}

func streamControl(op, channel string, fn func(NativeBridge, string) error) error {
	bridge := currentBridge()
	err := ErrPlatformUnavailable
	if bridge != nil {
		err = fn(bridge, channel)
	}
	if err != nil {
		errors.Report(&errors.Error{
			Op:      op,
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     err,
		})
	}
	return err
}

// HandleMethodCall is called from the bridge when native invokes a Go method.
func HandleMethodCall(channel, method string, argsData []byte) ([]byte, error) {
	ch := registry.getMethodChannel(channel)
	if ch == nil {
		return nil, ErrChannelNotFound
	}

	args, err := DefaultCodec.Decode(argsData)
	if err != nil {
		return nil, err
	}

	result, err := ch.handleCall(method, args)
	if err != nil {
		return nil, err
	}

	return DefaultCodec.Encode(result)
}

// ErrChannelNotRegistered is returned when an event is received for an unregistered channel.
var ErrChannelNotRegistered = fmt.Errorf("event channel not registered")

func eventChannelFor(op, channel string) (*EventChannel, error) {
	ch := registry.getEventChannel(channel)
	if ch == nil {
		err := fmt.Errorf("%w: %s", ErrChannelNotRegistered, channel)
		errors.Report(&errors.Error{
			Op:      op,
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     err,
		})
		return nil, err
	}
	return ch, nil
}

// HandleEvent is called from the bridge when native sends an event.
// Subscribers run synchronously on the calling goroutine, in subscription order.
func HandleEvent(channel string, eventData []byte) error {
	ch, err := eventChannelFor("platform.HandleEvent", channel)
	if err != nil {
		return err
	}

	data, err := DefaultCodec.Decode(eventData)
	if err != nil {
		ch.dispatchError(err)
		return err
	}

	ch.dispatchEvent(data)
	return nil
}

// HandleEventError is called from the bridge when an event stream errors.
func HandleEventError(channel string, code, message string) error {
	ch, err := eventChannelFor("platform.HandleEventError", channel)
	if err != nil {
		return err
	}

	ch.dispatchError(NewChannelError(code, message))
	return nil
}

// HandleEventDone is called from the bridge when an event stream ends.
func HandleEventDone(channel string) error {
	ch, err := eventChannelFor("platform.HandleEventDone", channel)
	if err != nil {
		return err
	}

	ch.dispatchDone()
	return nil
}

// ResetForTest clears the native bridge, the dispatch function, every event
// subscription and every method handler. This should only be called from tests.
func ResetForTest() {
	bridgeMu.Lock()
	nativeBridge = nil
	bridgeMu.Unlock()

	for _, ch := range registry.events() {
		ch.mu.Lock()
		ch.subscriptions = nil
		ch.started = false
		ch.mu.Unlock()
	}

	registry.mu.RLock()
	for _, ch := range registry.methodChannels {
		ch.SetHandler(nil)
	}
	registry.mu.RUnlock()

	RegisterDispatch(nil)
}
