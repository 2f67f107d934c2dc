// Package permissions coordinates Android runtime permission requests.
//
// A Coordinator checks whether a permission is granted, asks the attached host
// to prompt the user when it is not, and re-publishes every answer the platform
// delivers on a broadcast stream. A request is matched to its answer by
// permission name, so at most one outstanding request per permission is
// meaningful at a time.
//
// Typical wiring:
//
//	c := permissions.New(permissions.NewPlatformChecker(appID), permissions.NewPlatformRequester())
//	b := permissions.Bind(c)
//	defer b.Close()
//
//	result, err := c.RequestStoragePermission(ctx, false)
package permissions

import (
	"errors"
	"fmt"
)

// Android request codes and grant flags.
const (
	// RequestCodeStorage tags storage permission requests in the shared
	// permission result callback.
	RequestCodeStorage = 69

	// Granted is the grant flag the platform reports for an allowed permission
	// (PackageManager.PERMISSION_GRANTED).
	Granted = 0

	// Denied is the grant flag the platform reports for a refused permission
	// (PackageManager.PERMISSION_DENIED).
	Denied = -1
)

// StoragePermission is the Android permission for writing to shared storage.
const StoragePermission = "android.permission.WRITE_EXTERNAL_STORAGE"

// GrantResult records whether a named permission was allowed.
// Results are plain values; repeated results for one permission are separate events.
type GrantResult struct {
	Permission string
	Granted    bool
}

func (r GrantResult) String() string {
	return fmt.Sprintf("GrantResult(permission=%s, granted=%t)", r.Permission, r.Granted)
}

// Host is the UI context able to show a permission prompt and receive the
// platform's answer. The coordinator borrows hosts; it never creates or
// destroys them. Hosts are compared by interface equality, so implementations
// should be pointer types.
type Host interface {
	HostID() int64
}

// Checker answers whether a permission is currently granted.
type Checker interface {
	CheckPermission(permission string) bool
}

// Requester asks the platform to prompt the user through host.
// The answer arrives later through Coordinator.DeliverCallbackResult.
type Requester interface {
	RequestPermissions(host Host, permissions []string, requestCode int) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(permission string) bool

// CheckPermission calls f(permission).
func (f CheckerFunc) CheckPermission(permission string) bool {
	return f(permission)
}

// RequesterFunc adapts a function to the Requester interface.
type RequesterFunc func(host Host, permissions []string, requestCode int) error

// RequestPermissions calls f(host, permissions, requestCode).
func (f RequesterFunc) RequestPermissions(host Host, permissions []string, requestCode int) error {
	return f(host, permissions, requestCode)
}

var (
	// ErrNotAttached is returned when a prompt is needed but no host is attached.
	ErrNotAttached = errors.New("permissions: not attached")

	// ErrMalformedCallback is matched by MalformedCallbackError.
	ErrMalformedCallback = errors.New("permissions: malformed callback")
)

// MalformedCallbackError reports a permission callback whose permission and
// grant arrays differ in length. Nothing from such a callback is published.
type MalformedCallbackError struct {
	RequestCode  int
	Permissions  int
	GrantResults int
}

func (e *MalformedCallbackError) Error() string {
	return fmt.Sprintf("permissions: malformed callback for request code %d: %d permissions, %d grant results",
		e.RequestCode, e.Permissions, e.GrantResults)
}

// Is reports whether target is ErrMalformedCallback.
func (e *MalformedCallbackError) Is(target error) bool {
	return target == ErrMalformedCallback
}
