package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-drift/permissions/cmd/permissions/internal/config"
	"github.com/go-drift/permissions/pkg/errors"
	"github.com/go-drift/permissions/pkg/permissions"
	"github.com/go-drift/permissions/pkg/platform"
)

func init() {
	RegisterCommand(&Command{
		Name:  "request",
		Short: "Simulate a permission request",
		Long: `Request a runtime permission through the coordinator against a simulated
Android host.

The simulated host answers the prompt with a grant unless --deny is given.
With --deny and --wait-granted the host denies first and grants on the
re-prompt, so the request resolves on the second answer.

Without a permission argument the configured storage permission is used.

Flags:
  --granted        Treat the permission as already granted (no prompt)
  --deny           Deny the prompt
  --wait-granted   Keep waiting until a granted answer arrives
  --no-host        Do not attach a host before requesting
  --timeout DUR    Give up after DUR (default: wait forever)
  --dir DIR        Project directory holding permissions.yaml`,
		Usage: "permissions request [flags] [permission]",
		Run:   runRequest,
	})
}

func runRequest(args []string) error {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	granted := fs.Bool("granted", false, "")
	deny := fs.Bool("deny", false, "")
	waitGranted := fs.Bool("wait-granted", false, "")
	noHost := fs.Bool("no-host", false, "")
	timeout := fs.Duration("timeout", 0, "")
	dir := fs.String("dir", "", "")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*dir)
	if err != nil {
		return err
	}

	permission := cfg.StoragePermission
	if fs.NArg() > 0 {
		permission = fs.Arg(0)
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	errors.SetHandler(&errors.LogHandler{Logger: logger, Verbose: cfg.Verbose})
	defer errors.SetHandler(nil)

	answers := []int{permissions.Granted}
	if *deny {
		answers = []int{permissions.Denied}
		if *waitGranted {
			answers = append(answers, permissions.Granted)
		}
	}
	var alreadyGranted []string
	if *granted {
		alreadyGranted = append(alreadyGranted, permission)
	}

	sim := newSimBridge(answers, alreadyGranted...)
	loop := startUILoop()
	platform.SetNativeBridge(sim)
	platform.RegisterDispatch(loop.post)
	defer func() {
		platform.RegisterDispatch(nil)
		platform.SetNativeBridge(nil)
	}()

	c := permissions.New(
		permissions.NewPlatformChecker(cfg.AppID),
		permissions.NewPlatformRequester(),
		permissions.WithRequestCode(cfg.RequestCode),
		permissions.WithStoragePermission(cfg.StoragePermission),
		permissions.WithLogger(logger),
	)
	binding := permissions.Bind(c)

	unsubscribe := c.Listen(func(r permissions.GrantResult) {
		fmt.Fprintf(stdout, "event: %s granted=%t\n", r.Permission, r.Granted)
	})

	const hostID = 1
	if !*noHost {
		if err := sim.setHost("attach", hostID); err != nil {
			binding.Close()
			loop.stop()
			return err
		}
	}

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	result, reqErr := c.RequestPermission(ctx, permission, *waitGranted)

	sim.wait()
	if !*noHost {
		_ = sim.setHost("detach", hostID)
	}
	binding.Close()
	loop.stop()
	unsubscribe()

	if reqErr != nil {
		return fmt.Errorf("request %s: %w", permission, reqErr)
	}
	fmt.Fprintf(stdout, "result: %s granted=%t (prompts shown: %d)\n", result.Permission, result.Granted, sim.requests)
	return nil
}

// loadConfig resolves configuration from dir, or from the enclosing project.
// Outside any project the built-in defaults are used.
func loadConfig(dir string) (*config.Resolved, error) {
	if dir == "" {
		root, err := config.FindProjectRoot()
		if err != nil {
			return defaultConfig(), nil
		}
		dir = root
	}
	return config.Resolve(dir)
}

func defaultConfig() *config.Resolved {
	return &config.Resolved{
		AppName:           "app",
		AppID:             "com.example.app",
		RequestCode:       permissions.RequestCodeStorage,
		StoragePermission: permissions.StoragePermission,
		LogLevel:          slog.LevelInfo,
	}
}
