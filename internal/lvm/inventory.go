package lvm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// pvs output contract: --noheadings, fields in this order, separated by
// fieldSeparator, sizes in bytes with an optional trailing "B".
const fieldSeparator = ";"

const (
	fieldPVName = iota
	fieldVGName
	fieldPVSize
	fieldPVFree
	fieldCount
)

var listArgs = []string{
	"--noheadings",
	"-o", "pv_name,vg_name,pv_size,pv_free",
	"--units", "b",
	"--separator", fieldSeparator,
}

// PhysicalVolume is the observed state of one PV at inventory time.
type PhysicalVolume struct {
	Name   string `json:"pv_name"`
	VGName string `json:"vg_name"`
	Size   int64  `json:"pv_size"`
	Free   int64  `json:"pv_free"`
}

// InUse reports whether the PV belongs to a volume group or has allocated extents.
func (pv PhysicalVolume) InUse() bool {
	return pv.VGName != "" || pv.Size != pv.Free
}

// Inventory maps canonical device paths to their physical volume.
type Inventory map[string]PhysicalVolume

// Get returns the PV recorded for device, or nil.
func (inv Inventory) Get(device string) *PhysicalVolume {
	pv, ok := inv[device]
	if !ok {
		return nil
	}
	return &pv
}

// Sorted returns the PVs ordered by device path.
func (inv Inventory) Sorted() []PhysicalVolume {
	out := make([]PhysicalVolume, 0, len(inv))
	for _, pv := range inv {
		out = append(out, pv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParseInventory parses pvs output in the listArgs format. Device names are
// returned as printed by pvs.
func ParseInventory(data []byte) ([]PhysicalVolume, error) {
	var pvs []PhysicalVolume

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, fieldSeparator)
		if len(fields) != fieldCount {
			return nil, &ParseError{
				Line:   lineNo,
				Text:   line,
				Reason: fmt.Sprintf("expected %d fields, got %d", fieldCount, len(fields)),
			}
		}

		name := strings.TrimSpace(fields[fieldPVName])
		if name == "" {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "empty pv_name"}
		}

		size, err := parseBytes(fields[fieldPVSize])
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "pv_size: " + err.Error()}
		}
		free, err := parseBytes(fields[fieldPVFree])
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Reason: "pv_free: " + err.Error()}
		}

		pvs = append(pvs, PhysicalVolume{
			Name:   name,
			VGName: strings.TrimSpace(fields[fieldVGName]),
			Size:   size,
			Free:   free,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pvs output: %w", err)
	}

	return pvs, nil
}

func parseBytes(s string) (int64, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "B")
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	return strconv.ParseInt(s, 10, 64)
}

// ListPhysicalVolumes snapshots every PV on the host. Device-mapper nodes in
// the output are rewritten to their /dev/mapper alias.
func (c *Client) ListPhysicalVolumes(ctx context.Context) (Inventory, error) {
	pvsBin, err := c.bin(ToolPVs)
	if err != nil {
		return nil, err
	}

	readCtx, cancel := c.readContext(ctx)
	out, err := c.runner.Run(readCtx, pvsBin, listArgs...)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed executing pvs command: %w", err)
	}

	pvs, err := ParseInventory(out)
	if err != nil {
		return nil, err
	}

	inv := make(Inventory, len(pvs))
	for _, pv := range pvs {
		if IsMapperNode(pv.Name) {
			mapped, err := c.MapperDevice(ctx, pv.Name)
			if err != nil {
				return nil, err
			}
			pv.Name = mapped
		}
		inv[pv.Name] = pv
	}

	c.logger.WithField("count", len(inv)).Debug("read physical volume inventory")
	return inv, nil
}
