package platform

import "sync"

var (
	dispatchMu   sync.RWMutex
	dispatchFunc func(callback func())
)

// RegisterDispatch sets the function used to schedule callbacks on the UI thread.
// The function must run callbacks in the order they were scheduled.
// Passing nil removes the registered function.
func RegisterDispatch(fn func(callback func())) {
	dispatchMu.Lock()
	dispatchFunc = fn
	dispatchMu.Unlock()
}

// Dispatch schedules a callback to run on the UI thread.
// Returns true if the callback was scheduled, false if no dispatch function
// is registered or the callback is nil.
func Dispatch(callback func()) bool {
	dispatchMu.RLock()
	fn := dispatchFunc
	dispatchMu.RUnlock()
	if fn == nil || callback == nil {
		return false
	}
	fn(callback)
	return true
}

// DispatchOrRun schedules callback on the UI thread, or runs it on the calling
// goroutine when no dispatch function is registered.
func DispatchOrRun(callback func()) {
	if callback == nil {
		return
	}
	if !Dispatch(callback) {
		callback()
	}
}
