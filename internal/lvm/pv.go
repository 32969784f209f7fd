package lvm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// CreatePhysicalVolume runs pvcreate with the extra options followed by device.
// Once started the command runs to completion regardless of ctx.
func (c *Client) CreatePhysicalVolume(ctx context.Context, device string, options []string) error {
	pvcreate, err := c.bin(ToolPVCreate)
	if err != nil {
		return err
	}

	args := make([]string, 0, len(options)+1)
	args = append(args, options...)
	args = append(args, device)

	c.logger.WithFields(logrus.Fields{
		"device":  device,
		"options": options,
	}).Info("creating physical volume")

	if _, err := c.runner.Run(context.WithoutCancel(ctx), pvcreate, args...); err != nil {
		return fmt.Errorf("creating physical volume %s failed: %w", device, err)
	}
	return nil
}

// RemovePhysicalVolume runs pvremove on device. With force the LVM in-use
// checks are overridden (-ff -y).
func (c *Client) RemovePhysicalVolume(ctx context.Context, device string, force bool) error {
	pvremove, err := c.bin(ToolPVRemove)
	if err != nil {
		return err
	}

	args := []string{device}
	if force {
		args = []string{"-ff", "-y", device}
	}

	c.logger.WithFields(logrus.Fields{
		"device": device,
		"force":  force,
	}).Info("removing physical volume")

	if _, err := c.runner.Run(context.WithoutCancel(ctx), pvremove, args...); err != nil {
		return fmt.Errorf("failed to remove physical volume %s: %w", device, err)
	}
	return nil
}
