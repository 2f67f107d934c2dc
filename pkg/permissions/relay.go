package permissions

import (
	"sync"
	"sync/atomic"

	"github.com/go-drift/permissions/pkg/errors"
)

// relay is a hot multicast stream of grant results. Each publish is delivered
// to the listeners registered at publish time, in registration order, through
// the dispatch function. Nothing is replayed to later listeners.
type relay struct {
	mu        sync.Mutex
	listeners []*listener
	dispatch  func(func())
}

type listener struct {
	handler  func(GrantResult)
	canceled atomic.Bool
}

func newRelay(dispatch func(func())) *relay {
	return &relay{dispatch: dispatch}
}

func (r *relay) listen(handler func(GrantResult)) (unsubscribe func()) {
	l := &listener{handler: handler}
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()

	return func() {
		if !l.canceled.CompareAndSwap(false, true) {
			return
		}
		r.mu.Lock()
		for i, other := range r.listeners {
			if other == l {
				r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

func (r *relay) publish(result GrantResult) {
	r.mu.Lock()
	subs := make([]*listener, len(r.listeners))
	copy(subs, r.listeners)
	r.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	r.dispatch(func() {
		for _, l := range subs {
			if !l.canceled.Load() {
				l.deliver(result)
			}
		}
	})
}

func (r *relay) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// deliver runs one listener, isolating the others from its panics.
func (l *listener) deliver(result GrantResult) {
	defer errors.Recover("permissions.listener")
	l.handler(result)
}
