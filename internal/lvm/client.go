// Package lvm wraps the LVM2 and device-mapper command line tools used to
// inspect and change physical volumes on the host.
//
// All inspection goes through a single pvs invocation per run; kernel
// device-mapper nodes (/dev/dm-N) are rewritten to their stable
// /dev/mapper/<name> aliases so that requested devices and inventory keys
// compare equal.
package lvm

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/pvsync/internal/cache"
)

// Tool names located in PATH.
const (
	ToolPVs      = "pvs"
	ToolPVCreate = "pvcreate"
	ToolPVRemove = "pvremove"
	ToolDMSetup  = "dmsetup"
)

// Client runs LVM commands through a Runner.
type Client struct {
	runner   Runner
	lookPath func(string) (string, error)
	logger   *logrus.Logger
	timeout  time.Duration

	mu        sync.Mutex
	overrides map[string]string
	resolved  map[string]string

	names *cache.Cache[string]
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRunner replaces the host command runner.
func WithRunner(r Runner) ClientOption {
	return func(c *Client) {
		c.runner = r
	}
}

// WithLogger sets the logger used by the client and its default runner.
func WithLogger(logger *logrus.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithLookPath replaces exec.LookPath for tool discovery.
func WithLookPath(fn func(string) (string, error)) ClientOption {
	return func(c *Client) {
		c.lookPath = fn
	}
}

// WithToolPath pins a tool to an explicit binary. The path is still checked
// when the tool is first required.
func WithToolPath(tool, path string) ClientOption {
	return func(c *Client) {
		if path != "" {
			c.overrides[tool] = path
		}
	}
}

// WithCommandTimeout bounds read-only commands (pvs, dmsetup). Zero waits
// indefinitely. Mutating commands are never bounded.
func WithCommandTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient constructs a client. Without options it runs real commands
// located via exec.LookPath.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		lookPath:  exec.LookPath,
		logger:    logrus.New(),
		overrides: make(map[string]string),
		resolved:  make(map[string]string),
		names:     cache.New[string](cache.TTLMapperName),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.runner == nil {
		c.runner = NewExecRunner(c.logger)
	}

	return c
}

// Require locates every named tool, failing on the first one missing.
func (c *Client) Require(tools ...string) error {
	for _, tool := range tools {
		if _, err := c.bin(tool); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) bin(tool string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.resolved[tool]; ok {
		return p, nil
	}

	candidate := tool
	if p, ok := c.overrides[tool]; ok {
		candidate = p
	}

	p, err := c.lookPath(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrToolNotFound, candidate, err)
	}

	c.logger.WithFields(logrus.Fields{
		"tool": tool,
		"path": p,
	}).Debug("located tool")

	c.resolved[tool] = p
	return p, nil
}

// readContext applies the read-only command timeout.
func (c *Client) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}
