package permissions

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/go-drift/permissions/pkg/errors"
	"github.com/go-drift/permissions/pkg/platform"
)

// Pending is the eventual outcome of a permission request.
//
// It completes exactly once: with the first matching grant result, with an
// error, or when it is canceled. Completion from a grant result happens on the
// coordinator's dispatcher.
type Pending struct {
	id         uuid.UUID
	permission string
	done       chan struct{}

	mu     sync.Mutex
	result GrantResult
	err    error
	closed bool
	stop   func()
}

func newPending(permission string) *Pending {
	return &Pending{
		id:         uuid.New(),
		permission: permission,
		done:       make(chan struct{}),
	}
}

// ID returns the correlation id used in log output for this request.
func (p *Pending) ID() uuid.UUID {
	return p.id
}

// Permission returns the requested permission.
func (p *Pending) Permission() string {
	return p.permission
}

// Done is closed when the request completes.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the request completes and returns its outcome.
func (p *Pending) Wait() (GrantResult, error) {
	<-p.done
	return p.Result()
}

// Result returns the outcome without blocking. Before completion it returns a
// zero GrantResult and a nil error; check Done first.
func (p *Pending) Result() (GrantResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

// Cancel abandons the request with platform.ErrCanceled and removes its
// listener. A prompt already on screen is not dismissed.
func (p *Pending) Cancel() {
	p.complete(GrantResult{}, platform.ErrCanceled)
}

func (p *Pending) complete(result GrantResult, err error) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.closed = true
	p.result, p.err = result, err
	stop := p.stop
	p.stop = nil
	p.mu.Unlock()

	if stop != nil {
		stop()
	}
	close(p.done)
	return true
}

// setStop records the listener teardown. If the request already completed,
// the listener is removed immediately.
func (p *Pending) setStop(stop func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		stop()
		return
	}
	p.stop = stop
	p.mu.Unlock()
}

// RequestPermissionAsync requests permission and returns without waiting for
// the user.
//
// If the permission is already granted, a granted result is published to all
// listeners and the returned Pending is already complete. Otherwise a host must
// be attached; without one the Pending fails with ErrNotAttached and the
// Requester is not called. The Pending completes with the first published
// result for permission, or the first granted one when waitForGranted is set.
// There is no built-in timeout: canceling ctx fails the Pending with
// platform.ErrCanceled, and a ctx deadline fails it with platform.ErrTimeout.
func (c *Coordinator) RequestPermissionAsync(ctx context.Context, permission string, waitForGranted bool) *Pending {
	p := newPending(permission)
	log := c.logger.With(slog.String("request", p.id.String()), slog.String("permission", permission))
	log.Debug("requesting permission", slog.Bool("waitForGranted", waitForGranted))

	if c.HasPermission(permission) {
		log.Debug("already granted")
		result := GrantResult{Permission: permission, Granted: true}
		c.relay.publish(result)
		p.complete(result, nil)
		return p
	}

	host := c.AttachedHost()
	if host == nil {
		p.complete(GrantResult{}, &errors.Error{
			Op:         "permissions.request",
			Kind:       errors.KindState,
			Permission: permission,
			Err:        ErrNotAttached,
		})
		return p
	}

	// Listen before prompting so a synchronous answer is not lost.
	p.setStop(c.relay.listen(func(result GrantResult) {
		if result.Permission != permission {
			return
		}
		if waitForGranted && !result.Granted {
			return
		}
		if p.complete(result, nil) {
			log.Debug("request resolved", slog.Bool("granted", result.Granted))
		}
	}))

	if err := c.requester.RequestPermissions(host, []string{permission}, c.requestCode); err != nil {
		p.complete(GrantResult{}, &errors.Error{
			Op:         "permissions.request",
			Kind:       errors.KindPlatform,
			Permission: permission,
			Err:        err,
		})
		return p
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				err := platform.ErrCanceled
				if ctx.Err() == context.DeadlineExceeded {
					err = platform.ErrTimeout
				}
				if p.complete(GrantResult{}, err) {
					log.Debug("request abandoned", slog.Any("err", err))
				}
			case <-p.done:
			}
		}()
	}
	return p
}

// RequestPermission requests permission and blocks until the request completes.
// See RequestPermissionAsync for the completion rules.
func (c *Coordinator) RequestPermission(ctx context.Context, permission string, waitForGranted bool) (GrantResult, error) {
	return c.RequestPermissionAsync(ctx, permission, waitForGranted).Wait()
}

// RequestStoragePermission requests the storage permission and blocks until
// the request completes.
func (c *Coordinator) RequestStoragePermission(ctx context.Context, waitForGranted bool) (GrantResult, error) {
	return c.RequestPermission(ctx, c.storage, waitForGranted)
}
