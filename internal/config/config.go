// Package config loads the offsync configuration file.
//
// The file is YAML. It is checked against an embedded CUE schema before it
// is decoded, so mistakes are reported with their line and column. Keys that
// are absent keep their Default value.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete offsync configuration.
type Config struct {
	Remote       Remote       `yaml:"remote"`
	Auth         Auth         `yaml:"auth"`
	Store        Store        `yaml:"store"`
	Connectivity Connectivity `yaml:"connectivity"`
	Replay       Replay       `yaml:"replay"`
	Reconcile    Reconcile    `yaml:"reconcile"`
}

// Remote locates the authoritative REST service.
type Remote struct {
	BaseURL    string   `yaml:"base_url"`
	Collection string   `yaml:"collection"`
	Timeout    Duration `yaml:"timeout"`
}

// Auth configures bearer credentials. When TokenCommand is set its output
// replaces Token on every refresh.
type Auth struct {
	Token        string `yaml:"token"`
	TokenCommand string `yaml:"token_command"`
}

// Store configures the durable store. ":memory:" keeps nothing on disk.
type Store struct {
	Path string `yaml:"path"`
}

// Connectivity configures reachability detection. Without a ProbeURL the
// service is assumed reachable unless the offline file exists.
type Connectivity struct {
	PollInterval Duration `yaml:"poll_interval"`
	ProbeURL     string   `yaml:"probe_url"`
	OfflineFile  string   `yaml:"offline_file"`
}

// Replay configures the retry policy of the replay engine.
type Replay struct {
	RetryDelay          Duration `yaml:"retry_delay"`
	DiscardClientErrors bool     `yaml:"discard_client_errors"`
	MaxAttempts         int      `yaml:"max_attempts"`
}

// Reconcile configures the reconciliation trigger.
type Reconcile struct {
	Interval Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Remote: Remote{
			BaseURL:    "http://localhost:8080",
			Collection: "items",
			Timeout:    Duration(10 * time.Second),
		},
		Store: Store{Path: "offsync.db"},
		Connectivity: Connectivity{
			PollInterval: Duration(time.Second),
			OfflineFile:  "offsync.offline",
		},
		Replay:    Replay{RetryDelay: Duration(2 * time.Second)},
		Reconcile: Reconcile{Interval: Duration(time.Second)},
	}
}

// Load reads the file at path on top of Default. An empty path returns
// Default unchanged. Schema violations are returned as ValidationErrors.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(path, data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse validates data and decodes it into cfg. filename is only used in
// error positions.
func Parse(filename string, data []byte, cfg *Config) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ValidationErrors{{Message: err.Error()}}
	}
	if doc == nil {
		return nil
	}
	if err := validate(filename, data); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", filename, err)
	}
	return nil
}

// Duration is a time.Duration written as a Go duration string, e.g. "2s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string like \"2s\"", node.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("invalid configuration")
