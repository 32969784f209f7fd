// Package reconcile converges LVM physical volumes to a requested state.
//
// A run snapshots the inventory once, decides an action per requested
// device, and applies mutating commands in request order. Decisions for
// later devices use the snapshot taken before any mutation.
package reconcile

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/sigreer/pvsync/internal/lvm"
)

// Backend is the set of LVM operations a run needs. *lvm.Client implements it.
type Backend interface {
	Require(tools ...string) error
	MapperDevice(ctx context.Context, node string) (string, error)
	ListPhysicalVolumes(ctx context.Context) (lvm.Inventory, error)
	CreatePhysicalVolume(ctx context.Context, device string, options []string) error
	RemovePhysicalVolume(ctx context.Context, device string, force bool) error
}

// Reconciler drives a Backend towards a Request.
type Reconciler struct {
	backend Backend
	logger  *logrus.Logger
	exists  func(string) bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithExistsFunc replaces the filesystem existence check for devices.
func WithExistsFunc(fn func(string) bool) Option {
	return func(r *Reconciler) {
		r.exists = fn
	}
}

// New creates a reconciler over backend.
func New(backend Backend, opts ...Option) *Reconciler {
	r := &Reconciler{
		backend: backend,
		logger:  logrus.New(),
		exists:  pathExists,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Reconcile runs req to completion or to the first failure. The returned
// Result is never nil and lists the steps taken so far; on failure the error
// is a *Failure.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	result := &Result{CheckMode: req.CheckMode}

	state, err := ParseState(string(req.State))
	if err != nil {
		return result, newFailure(KindPrecondition, "", "", err)
	}

	if len(req.Devices) == 0 {
		if state == StatePresent {
			return result, newFailure(KindPrecondition, "", "no physical volumes given", nil)
		}
		return result, nil
	}

	devices, err := canonicalDevices(req.Devices)
	if err != nil {
		return result, newFailure(KindPrecondition, "", "", err)
	}

	if state == StatePresent {
		for _, dev := range devices {
			if !r.exists(dev) {
				return result, newFailure(KindPrecondition, dev, fmt.Sprintf("device %s not found", dev), nil)
			}
		}
	}

	if err := r.backend.Require(lvm.ToolPVs, lvm.ToolPVCreate, lvm.ToolPVRemove); err != nil {
		return result, newFailure(KindTool, "", "", err)
	}

	for i, dev := range devices {
		if !lvm.IsMapperNode(dev) {
			continue
		}
		mapped, err := r.backend.MapperDevice(ctx, dev)
		if err != nil {
			return result, newFailure(KindTool, dev, "", err)
		}
		devices[i] = mapped
	}
	devices = dedupe(devices)

	inv, err := r.backend.ListPhysicalVolumes(ctx)
	if err != nil {
		return result, newFailure(KindTool, "", "", err)
	}

	for _, dev := range devices {
		pv := inv.Get(dev)
		action := Decide(state, req.Force, pv)

		step := Step{Device: dev, Action: action}
		if pv != nil {
			step.VGName = pv.VGName
		}

		logger := r.logger.WithFields(logrus.Fields{
			"device": dev,
			"action": action,
			"vg":     step.VGName,
		})

		if action == ActionNone {
			logger.Debug("physical volume already in desired state")
			continue
		}

		if req.CheckMode {
			logger.Info("check mode: change pending")
			result.Actions = append(result.Actions, step)
			result.Changed = true
			return result, nil
		}

		if err := r.apply(ctx, req, step); err != nil {
			result.Actions = append(result.Actions, step)
			return result, err
		}

		logger.Info("physical volume changed")
		step.Applied = true
		result.Actions = append(result.Actions, step)
		result.Changed = true
	}

	return result, nil
}

func (r *Reconciler) apply(ctx context.Context, req Request, step Step) error {
	var err error
	switch step.Action {
	case ActionCreate:
		err = r.backend.CreatePhysicalVolume(ctx, step.Device, req.Options)
	case ActionRemove, ActionForceRemove:
		err = r.backend.RemovePhysicalVolume(ctx, step.Device, step.Action == ActionForceRemove)
	case ActionRefuse:
		return newFailure(KindPolicy, step.Device, fmt.Sprintf(
			"refusing to remove physical volume %s in use by volume group %q without force", step.Device, step.VGName), nil)
	}
	if err != nil {
		return newFailure(KindMutation, step.Device, "", err)
	}
	return nil
}

func canonicalDevices(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, dev := range raw {
		resolved, err := lvm.CanonicalPath(dev)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return dedupe(out), nil
}

// dedupe drops repeated devices, keeping first-seen order.
func dedupe(devices []string) []string {
	seen := make(map[string]struct{}, len(devices))
	out := devices[:0]
	for _, dev := range devices {
		if _, ok := seen[dev]; ok {
			continue
		}
		seen[dev] = struct{}{}
		out = append(out, dev)
	}
	return out
}
