package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"

	"github.com/go-drift/permissions/pkg/permissions"
)

// FileName is the optional configuration file looked up in the project root.
const FileName = "permissions.yaml"

// Config represents the optional permissions.yaml configuration.
type Config struct {
	App         AppConfig         `yaml:"app"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Log         LogConfig         `yaml:"log"`
}

// AppConfig contains application metadata.
type AppConfig struct {
	Name string `yaml:"name,omitempty"`
	ID   string `yaml:"id,omitempty"`
}

// PermissionsConfig contains coordinator settings.
type PermissionsConfig struct {
	RequestCode *int   `yaml:"request_code,omitempty"`
	Storage     string `yaml:"storage,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `yaml:"level,omitempty"`
	Verbose bool   `yaml:"verbose,omitempty"`
}

// Resolved contains resolved configuration values.
type Resolved struct {
	Root              string
	ModulePath        string
	AppName           string
	AppID             string
	RequestCode       int
	StoragePermission string
	LogLevel          slog.Level
	Verbose           bool
}

// LoadOptional reads permissions.yaml from dir if present.
func LoadOptional(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	return &cfg, nil
}

// Resolve loads permissions.yaml (if present) and resolves defaults.
// The module path from go.mod seeds the app name and id when they are not set;
// go.mod may be absent only if app.id is configured.
func Resolve(dir string) (*Resolved, error) {
	cfg, err := LoadOptional(dir)
	if err != nil {
		return nil, err
	}

	appID := strings.TrimSpace(cfg.App.ID)
	modPath, err := modulePath(dir)
	if err != nil && appID == "" {
		return nil, err
	}

	appName := strings.TrimSpace(cfg.App.Name)
	if appName == "" {
		appName = defaultAppName(modPath, dir)
	}
	if appID == "" {
		appID = defaultAppID(modPath, appName)
	}
	if err := validateAppID(appID); err != nil {
		return nil, err
	}

	requestCode := permissions.RequestCodeStorage
	if cfg.Permissions.RequestCode != nil {
		requestCode = *cfg.Permissions.RequestCode
	}
	// Android only routes the lower 16 bits back to the activity.
	if requestCode < 0 || requestCode > 0xffff {
		return nil, fmt.Errorf("permissions.request_code must be within 0..65535 (got %d)", requestCode)
	}

	storage := strings.TrimSpace(cfg.Permissions.Storage)
	if storage == "" {
		storage = permissions.StoragePermission
	}

	level := slog.LevelInfo
	if s := strings.TrimSpace(cfg.Log.Level); s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
	}

	return &Resolved{
		Root:              dir,
		ModulePath:        modPath,
		AppName:           appName,
		AppID:             appID,
		RequestCode:       requestCode,
		StoragePermission: storage,
		LogLevel:          level,
		Verbose:           cfg.Log.Verbose,
	}, nil
}

// FindProjectRoot walks up from the current directory to the nearest
// directory holding go.mod or permissions.yaml.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, marker := range []string{"go.mod", FileName} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no go.mod or %s found", FileName)
		}
		dir = parent
	}
}

func modulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("could not determine module path from go.mod")
	}
	if err := module.CheckImportPath(path); err != nil {
		return "", fmt.Errorf("invalid module path in go.mod: %w", err)
	}
	return path, nil
}

func defaultAppName(modulePath, dir string) string {
	base := filepath.Base(dir)
	if modulePath != "" {
		// Strip a trailing major version (example.com/app/v2 -> app).
		prefix, _, ok := module.SplitPathVersion(modulePath)
		if ok {
			base = prefix[strings.LastIndex(prefix, "/")+1:]
		}
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "app"
	}
	return base
}

// defaultAppID maps a module path to an Android package name:
// github.com/acme/photo-sync -> com.github.acme.photo_sync.
func defaultAppID(modulePath, appName string) string {
	parts := strings.Split(modulePath, "/")
	if len(parts) < 2 || !strings.Contains(parts[0], ".") {
		return "com.example." + sanitizeSegment(appName)
	}

	host := strings.Split(parts[0], ".")
	for i, j := 0, len(host)-1; i < j; i, j = i+1, j-1 {
		host[i], host[j] = host[j], host[i]
	}

	segments := host
	for _, p := range parts[1:] {
		if p != "" && !isMajorVersion(p) {
			segments = append(segments, p)
		}
	}
	for i, segment := range segments {
		segments[i] = sanitizeSegment(segment)
	}
	return strings.Join(segments, ".")
}

func isMajorVersion(segment string) bool {
	if len(segment) < 2 || segment[0] != 'v' {
		return false
	}
	for _, r := range segment[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// sanitizeSegment lowercases a segment, maps '-' to '_', drops anything else
// Android rejects, and prefixes a letter when the segment would start with a
// digit or underscore.
func sanitizeSegment(segment string) string {
	var out []rune
	for _, r := range strings.TrimSpace(segment) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == '-':
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "app"
	}
	if out[0] == '_' || (out[0] >= '0' && out[0] <= '9') {
		out = append([]rune{'a'}, out...)
	}
	return string(out)
}

func validateAppID(appID string) error {
	if !strings.Contains(appID, ".") {
		return fmt.Errorf("app.id must contain at least one '.' (got %q)", appID)
	}
	for _, segment := range strings.Split(appID, ".") {
		if segment == "" {
			return fmt.Errorf("app.id contains an empty segment (%q)", appID)
		}
		first := segment[0]
		if !(first >= 'a' && first <= 'z' || first >= 'A' && first <= 'Z') {
			return fmt.Errorf("app.id segments must start with a letter (%q)", appID)
		}
		for _, r := range segment {
			if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return fmt.Errorf("app.id contains invalid character %q in %q", r, appID)
			}
		}
	}
	return nil
}
