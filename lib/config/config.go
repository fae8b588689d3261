// Copyright 2026 The Strata Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the configuration file for [Load].
const EnvironmentVariable = "STRATA_CONFIG"

// Config is the master configuration for Strata.
type Config struct {
	// Helper configures the helper processes that serve forwarded
	// filesystems.
	Helper HelperConfig `yaml:"helper"`

	// Archive configures archive filesystems.
	Archive ArchiveConfig `yaml:"archive"`

	// Search configures incremental search delivery.
	Search SearchConfig `yaml:"search"`

	// Metrics configures the Prometheus endpoint of the helper.
	Metrics MetricsConfig `yaml:"metrics"`

	// Log configures process logging.
	Log LogConfig `yaml:"log"`
}

// HelperConfig configures the remote and root helpers.
type HelperConfig struct {
	// Binary is the strata-helper executable. A bare name is resolved
	// next to the running binary first, then through PATH.
	// Default: strata-helper
	Binary string `yaml:"binary"`

	// RuntimeDir holds the helper sockets. Created with mode 0700 by
	// EnsurePaths.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/strata
	RuntimeDir string `yaml:"runtime_dir"`

	// RemoteSocket is the socket of the normal-privilege helper.
	// Default: ${STRATA_RUNTIME}/remote.sock
	RemoteSocket string `yaml:"remote_socket"`

	// RootSocket is the socket of the root helper.
	// Default: ${STRATA_RUNTIME}/root.sock
	RootSocket string `yaml:"root_socket"`

	// PrivilegeCommand is prepended to the helper command line to start
	// the root helper. It must not prompt: the helper's stdin carries
	// the session token.
	// Default: [sudo, -n]
	PrivilegeCommand []string `yaml:"privilege_command"`

	// SpawnRemote starts the remote helper when its socket is not
	// already served. When false the CLI only dials RemoteSocket.
	// Default: true
	SpawnRemote bool `yaml:"spawn_remote"`

	// StartTimeout bounds how long a spawned helper may take to create
	// its socket.
	// Default: 10s
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// ArchiveConfig configures archive filesystems.
type ArchiveConfig struct {
	// MaxSymlinkDepth bounds symbolic link chains followed inside one
	// archive.
	// Default: 40
	MaxSymlinkDepth int `yaml:"max_symlink_depth"`

	// ReadBuffer is the buffer size strata cat uses to copy file
	// contents; through a helper it is the size of one forwarded read.
	// Default: 65536
	ReadBuffer int `yaml:"read_buffer"`
}

// SearchConfig configures search.
type SearchConfig struct {
	// PollInterval is the minimum spacing between result batches.
	// Default: 200ms
	PollInterval time.Duration `yaml:"poll_interval"`
}

// MetricsConfig configures the helper's metrics endpoint.
type MetricsConfig struct {
	// Address is the listen address of the /metrics endpoint. Empty
	// disables it.
	Address string `yaml:"address"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`
}

// Default returns the default configuration. It is the base every
// file is merged into, and the whole configuration when no file is
// given.
func Default() *Config {
	return &Config{
		Helper: HelperConfig{
			Binary:           "strata-helper",
			RuntimeDir:       "${XDG_RUNTIME_DIR:-/tmp}/strata",
			RemoteSocket:     "${STRATA_RUNTIME}/remote.sock",
			RootSocket:       "${STRATA_RUNTIME}/root.sock",
			PrivilegeCommand: []string{"sudo", "-n"},
			SpawnRemote:      true,
			StartTimeout:     10 * time.Second,
		},
		Archive: ArchiveConfig{
			MaxSymlinkDepth: 40,
			ReadBuffer:      64 * 1024,
		},
		Search: SearchConfig{
			PollInterval: 200 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the file named by STRATA_CONFIG. If
// the variable is not set, Load returns the expanded defaults.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merged over
// [Default], and validates it.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

// loadFile decodes one configuration file into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is YAML; stripping comments and trailing commas is all
		// that is needed to reuse the yaml decoder and its tags.
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		// An empty file leaves every default in place.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parsing configuration %s: %w", path, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Helper.RuntimeDir = expandVars(c.Helper.RuntimeDir, vars)
	vars["STRATA_RUNTIME"] = c.Helper.RuntimeDir

	c.Helper.Binary = expandVars(c.Helper.Binary, vars)
	c.Helper.RemoteSocket = expandVars(c.Helper.RemoteSocket, vars)
	c.Helper.RootSocket = expandVars(c.Helper.RootSocket, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided
// vars win over the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Every problem is
// reported, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Helper.Binary == "" {
		errs = append(errs, errors.New("helper.binary is required"))
	}
	if c.Helper.RemoteSocket == "" {
		errs = append(errs, errors.New("helper.remote_socket is required"))
	}
	if c.Helper.RootSocket == "" {
		errs = append(errs, errors.New("helper.root_socket is required"))
	}
	if c.Helper.RemoteSocket != "" && c.Helper.RemoteSocket == c.Helper.RootSocket {
		errs = append(errs, errors.New("helper.remote_socket and helper.root_socket must differ"))
	}
	if c.Helper.StartTimeout <= 0 {
		errs = append(errs, fmt.Errorf("helper.start_timeout must be positive, got %v", c.Helper.StartTimeout))
	}

	if c.Archive.MaxSymlinkDepth < 1 {
		errs = append(errs, fmt.Errorf("archive.max_symlink_depth must be at least 1, got %d", c.Archive.MaxSymlinkDepth))
	}
	if c.Archive.ReadBuffer < 512 {
		errs = append(errs, fmt.Errorf("archive.read_buffer must be at least 512 bytes, got %d", c.Archive.ReadBuffer))
	}

	if c.Search.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("search.poll_interval must not be negative, got %v", c.Search.PollInterval))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: must be one of debug, info, warn, error", c.Log.Level)
	}
	return level, nil
}

// EnsurePaths creates the runtime directory and the directories of both
// helper sockets. The runtime directory holds sockets that accept a
// session token, so it is private to the user.
func (c *Config) EnsurePaths() error {
	directories := []string{
		c.Helper.RuntimeDir,
		filepath.Dir(c.Helper.RemoteSocket),
		filepath.Dir(c.Helper.RootSocket),
	}

	for _, directory := range directories {
		if directory == "" || directory == "." {
			continue
		}
		if err := os.MkdirAll(directory, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}

// HelperPath returns the full path to the helper binary. An absolute
// or relative path with a separator is used as is. A bare name is
// looked up next to the running executable first, then in PATH, so an
// installed strata finds its own helper.
func (c *Config) HelperPath() (string, error) {
	name := c.Helper.Binary
	if strings.ContainsRune(name, filepath.Separator) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("helper binary: %w", err)
		}
		return name, nil
	}

	if executable, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(executable), name)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found next to the executable or in PATH", name)
	}
	return path, nil
}
