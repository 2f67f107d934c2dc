package cmd

import (
	"flag"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/go-drift/permissions/cmd/permissions/internal/config"
)

func init() {
	RegisterCommand(&Command{
		Name:  "config",
		Short: "Show resolved configuration",
		Long: `Print the effective permissions.yaml after defaults are applied.

The app id defaults to a package name derived from the go.mod module path.

Flags:
  --dir DIR        Project directory (default: nearest go.mod or permissions.yaml)`,
		Usage: "permissions config [--dir DIR]",
		Run:   runConfig,
	})
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	dir := fs.String("dir", "", "")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*dir)
	if err != nil {
		return err
	}

	requestCode := cfg.RequestCode
	effective := config.Config{
		App: config.AppConfig{Name: cfg.AppName, ID: cfg.AppID},
		Permissions: config.PermissionsConfig{
			RequestCode: &requestCode,
			Storage:     cfg.StoragePermission,
		},
		Log: config.LogConfig{Level: cfg.LogLevel.String(), Verbose: cfg.Verbose},
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(effective); err != nil {
		return err
	}
	return enc.Close()
}
