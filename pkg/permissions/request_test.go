package permissions

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/go-drift/permissions/pkg/errors"
	"github.com/go-drift/permissions/pkg/platform"
)

func TestRequestPermission_AlreadyGranted(t *testing.T) {
	for _, perm := range []string{StoragePermission, camera, "com.example.CUSTOM"} {
		t.Run(perm, func(t *testing.T) {
			c, _, requester := newTestCoordinator(t, perm)
			seen, unsubscribe := collect(c)
			defer unsubscribe()

			p := c.RequestPermissionAsync(context.Background(), perm, false)
			select {
			case <-p.Done():
			default:
				t.Fatal("request for a granted permission should complete immediately")
			}
			result, err := p.Result()
			if err != nil {
				t.Fatalf("Result: %v", err)
			}
			if result != (GrantResult{perm, true}) {
				t.Errorf("result = %v, want granted", result)
			}
			if requester.callCount() != 0 {
				t.Errorf("requester called %d times, want 0", requester.callCount())
			}
			if got := seen(); len(got) != 1 || got[0] != result {
				t.Errorf("listeners saw %v, want the synthetic grant", got)
			}
		})
	}
}

func TestRequestPermission_NotAttached(t *testing.T) {
	c, _, requester := newTestCoordinator(t)

	_, err := c.RequestPermission(context.Background(), StoragePermission, false)
	if !stderrors.Is(err, ErrNotAttached) {
		t.Fatalf("error = %v, want ErrNotAttached", err)
	}
	var driftErr *errors.Error
	if !stderrors.As(err, &driftErr) || driftErr.Kind != errors.KindState {
		t.Errorf("error = %#v, want a state error", err)
	}
	if requester.callCount() != 0 {
		t.Errorf("requester called %d times, want 0", requester.callCount())
	}
}

func TestRequestPermission_NotAttachedAfterDetach(t *testing.T) {
	c, _, requester := newTestCoordinator(t)
	h := &testHost{id: 1}
	c.Attach(h)
	c.Detach(h)

	_, err := c.RequestStoragePermission(context.Background(), false)
	if !stderrors.Is(err, ErrNotAttached) {
		t.Fatalf("error = %v, want ErrNotAttached", err)
	}
	if requester.callCount() != 0 {
		t.Errorf("requester called %d times, want 0", requester.callCount())
	}
}

func TestRequestPermission_InvokesRequesterOnce(t *testing.T) {
	c, _, requester := newTestCoordinator(t)
	h := &testHost{id: 7}
	c.Attach(h)

	p := c.RequestPermissionAsync(context.Background(), StoragePermission, false)
	defer p.Cancel()

	if requester.callCount() != 1 {
		t.Fatalf("requester called %d times, want 1", requester.callCount())
	}
	call := requester.calls[0]
	if call.host != Host(h) {
		t.Errorf("host = %v, want %v", call.host, h)
	}
	if len(call.permissions) != 1 || call.permissions[0] != StoragePermission {
		t.Errorf("permissions = %v, want [%s]", call.permissions, StoragePermission)
	}
	if call.requestCode != 69 {
		t.Errorf("requestCode = %d, want 69", call.requestCode)
	}
	select {
	case <-p.Done():
		t.Fatal("request completed before any callback")
	default:
	}
}

func TestRequestPermission_CustomRequestCode(t *testing.T) {
	requester := &fakeRequester{}
	c := New(&fakeChecker{}, requester, WithRequestCode(4242), WithDispatcher(func(cb func()) { cb() }))
	c.Attach(&testHost{id: 1})

	p := c.RequestPermissionAsync(context.Background(), camera, false)
	defer p.Cancel()
	if requester.calls[0].requestCode != 4242 {
		t.Errorf("requestCode = %d, want 4242", requester.calls[0].requestCode)
	}
	if c.RequestCode() != 4242 {
		t.Errorf("RequestCode() = %d, want 4242", c.RequestCode())
	}
}

func TestRequestPermission_WaitForGranted(t *testing.T) {
	tests := []struct {
		name           string
		waitForGranted bool
		want           GrantResult
		completesAfter int
	}{
		{"first result", false, GrantResult{StoragePermission, false}, 1},
		{"wait for granted", true, GrantResult{StoragePermission, true}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestCoordinator(t)
			c.Attach(&testHost{id: 1})

			p := c.RequestPermissionAsync(context.Background(), StoragePermission, tt.waitForGranted)

			deliveries := [][]int{{Denied}, {Granted}}
			for i, flags := range deliveries {
				select {
				case <-p.Done():
					t.Fatalf("completed after %d deliveries, want %d", i, tt.completesAfter)
				default:
				}
				if err := c.DeliverCallbackResult(RequestCodeStorage, []string{StoragePermission}, flags); err != nil {
					t.Fatalf("DeliverCallbackResult: %v", err)
				}
				if i+1 == tt.completesAfter {
					break
				}
			}

			result, err := p.Wait()
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			if result != tt.want {
				t.Errorf("result = %v, want %v", result, tt.want)
			}
		})
	}
}

func TestRequestPermission_IgnoresOtherPermissions(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.Attach(&testHost{id: 1})

	p := c.RequestPermissionAsync(context.Background(), StoragePermission, false)
	_ = c.DeliverCallbackResult(RequestCodeStorage, []string{camera}, []int{Granted})
	select {
	case <-p.Done():
		t.Fatal("request completed on another permission's result")
	default:
	}

	_ = c.DeliverCallbackResult(RequestCodeStorage, []string{camera, StoragePermission}, []int{Denied, Granted})
	result, err := p.Wait()
	if err != nil || result != (GrantResult{StoragePermission, true}) {
		t.Errorf("Wait = %v, %v; want granted storage", result, err)
	}
}

func TestRequestPermission_SynchronousAnswer(t *testing.T) {
	c, _, requester := newTestCoordinator(t)
	c.Attach(&testHost{id: 1})
	requester.onRequest = func(call requestCall) {
		// Auto-denied without a prompt: native answers inside the request call.
		_ = c.DeliverCallbackResult(call.requestCode, call.permissions, []int{Denied})
	}

	result, err := c.RequestPermission(context.Background(), camera, false)
	if err != nil {
		t.Fatalf("RequestPermission: %v", err)
	}
	if result != (GrantResult{camera, false}) {
		t.Errorf("result = %v, want denied", result)
	}
	if c.relay.len() != 0 {
		t.Errorf("listener left behind after completion: %d", c.relay.len())
	}
}

func TestRequestPermission_RequesterError(t *testing.T) {
	c, _, requester := newTestCoordinator(t)
	c.Attach(&testHost{id: 1})
	requester.err = platform.ErrPlatformUnavailable

	_, err := c.RequestPermission(context.Background(), camera, false)
	if !stderrors.Is(err, platform.ErrPlatformUnavailable) {
		t.Fatalf("error = %v, want ErrPlatformUnavailable", err)
	}
	if c.relay.len() != 0 {
		t.Errorf("listener left behind after failure: %d", c.relay.len())
	}
}

func TestRequestPermission_SharedAnswer(t *testing.T) {
	c, _, requester := newTestCoordinator(t)
	c.Attach(&testHost{id: 1})

	p1 := c.RequestPermissionAsync(context.Background(), camera, false)
	p2 := c.RequestPermissionAsync(context.Background(), camera, false)
	if requester.callCount() != 2 {
		t.Fatalf("requester called %d times, want 2", requester.callCount())
	}
	if p1.ID() == p2.ID() {
		t.Error("requests should have distinct correlation ids")
	}

	_ = c.DeliverCallbackResult(RequestCodeStorage, []string{camera}, []int{Granted})

	for _, p := range []*Pending{p1, p2} {
		result, err := p.Wait()
		if err != nil || !result.Granted {
			t.Errorf("request %s: %v, %v; want granted", p.ID(), result, err)
		}
	}
}

func TestRequestPermission_DetachDoesNotCancel(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	h := &testHost{id: 1}
	c.Attach(h)

	p := c.RequestPermissionAsync(context.Background(), camera, false)
	c.Detach(h)
	_ = c.DeliverCallbackResult(RequestCodeStorage, []string{camera}, []int{Granted})

	if result, err := p.Wait(); err != nil || !result.Granted {
		t.Errorf("Wait = %v, %v; want granted", result, err)
	}
}

func TestRequestPermission_Cancel(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.Attach(&testHost{id: 1})

	p := c.RequestPermissionAsync(context.Background(), camera, false)
	if c.relay.len() != 1 {
		t.Fatalf("listeners = %d, want 1", c.relay.len())
	}
	p.Cancel()
	p.Cancel()

	if _, err := p.Wait(); !stderrors.Is(err, platform.ErrCanceled) {
		t.Errorf("error = %v, want ErrCanceled", err)
	}
	if c.relay.len() != 0 {
		t.Errorf("listeners = %d after cancel, want 0", c.relay.len())
	}

	// A later answer is still published to other listeners.
	seen, unsubscribe := collect(c)
	defer unsubscribe()
	_ = c.DeliverCallbackResult(RequestCodeStorage, []string{camera}, []int{Granted})
	if len(seen()) != 1 {
		t.Error("result after cancel was not published")
	}
	if result, err := p.Result(); err == nil || result.Granted {
		t.Errorf("canceled request changed outcome: %v, %v", result, err)
	}
}

func TestRequestPermission_ContextCanceled(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.Attach(&testHost{id: 1})

	ctx, cancel := context.WithCancel(context.Background())
	p := c.RequestPermissionAsync(ctx, camera, false)
	cancel()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete after context cancel")
	}
	if _, err := p.Result(); !stderrors.Is(err, platform.ErrCanceled) {
		t.Errorf("error = %v, want ErrCanceled", err)
	}
	if c.relay.len() != 0 {
		t.Errorf("listeners = %d after cancel, want 0", c.relay.len())
	}
}

func TestRequestPermission_ContextDeadline(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.Attach(&testHost{id: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.RequestPermission(ctx, camera, true)
	if !stderrors.Is(err, platform.ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
}

func TestRequestPermission_AsyncDispatcher(t *testing.T) {
	queue := make(chan func(), 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for cb := range queue {
			cb()
		}
	}()
	defer func() {
		close(queue)
		<-done
	}()

	requester := &fakeRequester{}
	c := New(&fakeChecker{}, requester, WithDispatcher(func(cb func()) { queue <- cb }))
	c.Attach(&testHost{id: 3})

	p := c.RequestPermissionAsync(context.Background(), StoragePermission, true)
	go func() {
		_ = c.DeliverCallbackResult(RequestCodeStorage, []string{StoragePermission}, []int{Denied})
		_ = c.DeliverCallbackResult(RequestCodeStorage, []string{StoragePermission}, []int{Granted})
	}()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}
	if result, err := p.Result(); err != nil || result != (GrantResult{StoragePermission, true}) {
		t.Errorf("Result = %v, %v; want granted storage", result, err)
	}
}

func TestRequestStoragePermission_UsesConfiguredPermission(t *testing.T) {
	const legacy = "android.permission.READ_EXTERNAL_STORAGE"
	var c *Coordinator
	requester := &fakeRequester{}
	requester.onRequest = func(call requestCall) {
		_ = c.DeliverCallbackResult(call.requestCode, call.permissions, []int{Granted})
	}
	c = New(&fakeChecker{}, requester, WithStoragePermission(legacy), WithDispatcher(func(cb func()) { cb() }))
	c.Attach(&testHost{id: 1})

	if c.HasStoragePermission() {
		t.Fatal("storage permission should not be granted yet")
	}
	got, err := c.RequestStoragePermission(context.Background(), false)
	if err != nil {
		t.Fatalf("RequestStoragePermission: %v", err)
	}
	if got != (GrantResult{legacy, true}) {
		t.Errorf("result = %v, want %s granted", got, legacy)
	}
	if p := requester.calls[0].permissions; len(p) != 1 || p[0] != legacy {
		t.Errorf("requested %v, want [%s]", p, legacy)
	}
}
