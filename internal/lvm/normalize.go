package lvm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// DMNodePrefix is the kernel device-mapper node prefix.
	DMNodePrefix = "/dev/dm-"

	// MapperDir holds the stable device-mapper aliases.
	MapperDir = "/dev/mapper/"
)

// IsMapperNode reports whether path is a kernel device-mapper node.
func IsMapperNode(path string) bool {
	return strings.HasPrefix(path, DMNodePrefix)
}

// CanonicalPath returns device as an absolute path with symlinks resolved.
// LVM always reports real paths, so requested devices must be compared in
// the same form. A path that does not exist is returned absolute and cleaned.
func CanonicalPath(device string) (string, error) {
	if strings.TrimSpace(device) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidDevice)
	}

	abs, err := filepath.Abs(device)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidDevice, device, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, nil
	}
	return resolved, nil
}

// MapperDevice asks dmsetup for the mapper name of a /dev/dm-N node and
// returns /dev/mapper/<name>.
func (c *Client) MapperDevice(ctx context.Context, node string) (string, error) {
	if mapped, ok := c.names.Get(node); ok {
		return mapped, nil
	}

	dmsetup, err := c.bin(ToolDMSetup)
	if err != nil {
		return "", err
	}

	ctx, cancel := c.readContext(ctx)
	defer cancel()

	out, err := c.runner.Run(ctx, dmsetup, "info", "-C", "--noheadings", "-o", "name", node)
	if err != nil {
		return "", fmt.Errorf("failed executing dmsetup command: %w", err)
	}

	name := strings.TrimSpace(string(out))
	if name == "" {
		return "", fmt.Errorf("dmsetup returned no name for %s", node)
	}

	mapped := MapperDir + name
	c.names.Set(node, mapped)

	c.logger.WithFields(logrus.Fields{
		"node":   node,
		"mapper": mapped,
	}).Debug("resolved device-mapper node")

	return mapped, nil
}
