package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sigreer/pvsync/internal/reconcile"
)

// DefaultHistoryPath is the default run history database location
const DefaultHistoryPath = "/var/lib/pvsync/history.db"

type Config struct {
	PVs       []string `yaml:"pvs"`
	PVOptions string   `yaml:"pv_options,omitempty"`
	// PVArgs is an alias of PVOptions
	PVArgs    string `yaml:"pv_args,omitempty"`
	State     string `yaml:"state,omitempty"`
	Force     bool   `yaml:"force"`
	CheckMode bool   `yaml:"check_mode"`

	// CommandTimeout bounds pvs and dmsetup; zero waits indefinitely
	CommandTimeout time.Duration `yaml:"command_timeout,omitempty"`

	Log     Log               `yaml:"log"`
	History History           `yaml:"history"`
	Tools   map[string]string `yaml:"tools,omitempty"`
}

type Log struct {
	// Level is a logrus level name
	Level string `yaml:"level"`
	// Format is "auto", "text" or "json"
	Format string `yaml:"format"`
}

type History struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// defaultConfig provides baseline settings; devices come from the file or flags
var defaultConfig = Config{
	State: string(reconcile.StatePresent),
	Log: Log{
		Level:  "warn",
		Format: "auto",
	},
	History: History{
		Path: DefaultHistoryPath,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads the config file at path. With an empty path the default
// locations are tried in order; if none exists the defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		candidates := []string{
			"/etc/pvsync/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/pvsync/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := defaultConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.State == "" {
		c.State = defaultConfig.State
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultConfig.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultConfig.Log.Format
	}
	if c.History.Path == "" {
		c.History.Path = defaultConfig.History.Path
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if _, err := reconcile.ParseState(c.State); err != nil {
		errs = append(errs, err)
	}
	if c.PVOptions != "" && c.PVArgs != "" {
		errs = append(errs, errors.New("pv_options and pv_args are mutually exclusive"))
	}
	if c.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("command_timeout must not be negative: %s", c.CommandTimeout))
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// CreateOptions returns the extra pvcreate options split on whitespace.
func (c *Config) CreateOptions() []string {
	opts := c.PVOptions
	if opts == "" {
		opts = c.PVArgs
	}
	return strings.Fields(opts)
}

// Request builds the reconcile request described by the config.
func (c *Config) Request() (reconcile.Request, error) {
	state, err := reconcile.ParseState(c.State)
	if err != nil {
		return reconcile.Request{}, err
	}

	return reconcile.Request{
		Devices:   append([]string(nil), c.PVs...),
		Options:   c.CreateOptions(),
		State:     state,
		Force:     c.Force,
		CheckMode: c.CheckMode,
	}, nil
}
