package permissions

import (
	"log/slog"
	"sync"

	"github.com/go-drift/permissions/pkg/errors"
	"github.com/go-drift/permissions/pkg/platform"
)

// Coordinator tracks the attached host, requests permissions through it and
// broadcasts every grant result. Construct one per application and hand it to
// whatever owns the host lifecycle.
type Coordinator struct {
	checker     Checker
	requester   Requester
	requestCode int
	storage     string
	logger      *slog.Logger
	relay       *relay

	mu   sync.Mutex
	host Host
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRequestCode sets the request code passed to the Requester.
// The default is RequestCodeStorage.
func WithRequestCode(code int) Option {
	return func(c *Coordinator) {
		c.requestCode = code
	}
}

// WithDispatcher sets the function that delivers results to listeners.
// It must run callbacks in the order it receives them. The default schedules
// onto the UI thread with platform.DispatchOrRun.
func WithDispatcher(dispatch func(func())) Option {
	return func(c *Coordinator) {
		if dispatch != nil {
			c.relay.dispatch = dispatch
		}
	}
}

// WithLogger sets the logger for debug output. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStoragePermission overrides the permission used by the storage helpers.
func WithStoragePermission(permission string) Option {
	return func(c *Coordinator) {
		if permission != "" {
			c.storage = permission
		}
	}
}

// New creates a Coordinator backed by checker and requester.
func New(checker Checker, requester Requester, opts ...Option) *Coordinator {
	c := &Coordinator{
		checker:     checker,
		requester:   requester,
		requestCode: RequestCodeStorage,
		storage:     StoragePermission,
		logger:      slog.Default(),
		relay:       newRelay(platform.DispatchOrRun),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestCode returns the request code attached to this coordinator's prompts.
func (c *Coordinator) RequestCode() int {
	return c.requestCode
}

// Attach makes host the target of future prompts, replacing any previous host.
// A nil host is ignored; use Detach to clear.
func (c *Coordinator) Attach(host Host) {
	if host == nil {
		return
	}
	c.logger.Debug("attach", slog.Int64("host", host.HostID()))
	c.mu.Lock()
	c.host = host
	c.mu.Unlock()
}

// Detach clears the attached host if it is host. A detach from a host that has
// already been replaced is ignored. Outstanding requests are not canceled.
func (c *Coordinator) Detach(host Host) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.host == nil || c.host != host {
		return
	}
	c.logger.Debug("detach", slog.Int64("host", host.HostID()))
	c.host = nil
}

// AttachedHost returns the attached host, or nil.
func (c *Coordinator) AttachedHost() Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// HasPermission reports whether permission is currently granted.
func (c *Coordinator) HasPermission(permission string) bool {
	return c.checker.CheckPermission(permission)
}

// HasStoragePermission reports whether the storage permission is granted.
func (c *Coordinator) HasStoragePermission() bool {
	return c.HasPermission(c.storage)
}

// Listen subscribes handler to every grant result published from now on.
// Handlers run on the dispatcher in publish order. Call the returned function
// to unsubscribe.
func (c *Coordinator) Listen(handler func(GrantResult)) (unsubscribe func()) {
	return c.relay.listen(handler)
}

// DeliverCallbackResult publishes the platform's answer to a permission request.
// Every permission is published in order regardless of requestCode. A callback
// whose arrays differ in length is rejected with a *MalformedCallbackError and
// nothing is published.
func (c *Coordinator) DeliverCallbackResult(requestCode int, permissions []string, grantResults []int) error {
	c.logger.Debug("process result",
		slog.Int("requestCode", requestCode),
		slog.Any("permissions", permissions),
		slog.Any("grantResults", grantResults))

	if len(permissions) != len(grantResults) {
		err := &MalformedCallbackError{
			RequestCode:  requestCode,
			Permissions:  len(permissions),
			GrantResults: len(grantResults),
		}
		errors.Report(&errors.Error{
			Op:   "permissions.deliver",
			Kind: errors.KindCallback,
			Err:  err,
		})
		return err
	}
	if requestCode != c.requestCode {
		c.logger.Debug("result for foreign request code", slog.Int("requestCode", requestCode))
	}

	for i, permission := range permissions {
		result := GrantResult{Permission: permission, Granted: grantResults[i] == Granted}
		c.logger.Debug("permission grant result", slog.Any("result", result))
		c.relay.publish(result)
	}
	return nil
}
