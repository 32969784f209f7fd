package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/pvsync/internal/lvm"
)

// fakeBackend is an in-memory LVM whose inventory follows applied mutations.
type fakeBackend struct {
	pvs    lvm.Inventory
	mapper map[string]string

	requireErr error
	listErr    error
	createErr  map[string]error
	removeErr  map[string]error

	requireCalls int
	listCalls    int
	calls        []string
}

func newFakeBackend(pvs ...lvm.PhysicalVolume) *fakeBackend {
	f := &fakeBackend{
		pvs:       make(lvm.Inventory),
		mapper:    make(map[string]string),
		createErr: make(map[string]error),
		removeErr: make(map[string]error),
	}
	for _, pv := range pvs {
		f.pvs[pv.Name] = pv
	}
	return f
}

func (f *fakeBackend) Require(tools ...string) error {
	f.requireCalls++
	return f.requireErr
}

func (f *fakeBackend) MapperDevice(ctx context.Context, node string) (string, error) {
	if m, ok := f.mapper[node]; ok {
		return m, nil
	}
	return "", &lvm.CommandError{Name: "dmsetup", ExitCode: 1, Stderr: "Device does not exist."}
}

func (f *fakeBackend) ListPhysicalVolumes(ctx context.Context) (lvm.Inventory, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	inv := make(lvm.Inventory, len(f.pvs))
	for k, v := range f.pvs {
		inv[k] = v
	}
	return inv, nil
}

func (f *fakeBackend) CreatePhysicalVolume(ctx context.Context, device string, options []string) error {
	cmd := append([]string{"create"}, options...)
	f.calls = append(f.calls, strings.Join(append(cmd, device), " "))
	if err := f.createErr[device]; err != nil {
		return err
	}
	f.pvs[device] = lvm.PhysicalVolume{Name: device, Size: 1 << 30, Free: 1 << 30}
	return nil
}

func (f *fakeBackend) RemovePhysicalVolume(ctx context.Context, device string, force bool) error {
	verb := "remove"
	if force {
		verb = "force-remove"
	}
	f.calls = append(f.calls, verb+" "+device)
	if err := f.removeErr[device]; err != nil {
		return err
	}
	delete(f.pvs, device)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestReconciler(b Backend, missing ...string) *Reconciler {
	return New(b, WithLogger(quietLogger()), WithExistsFunc(func(p string) bool {
		for _, m := range missing {
			if m == p {
				return false
			}
		}
		return true
	}))
}

func requireFailure(t *testing.T, err error, kind Kind) *Failure {
	t.Helper()
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, kind, f.Kind)
	return f
}

func TestDecide(t *testing.T) {
	free := &lvm.PhysicalVolume{Name: "/dev/sda1", Size: 100, Free: 100}
	grouped := &lvm.PhysicalVolume{Name: "/dev/sda1", VGName: "vg0", Size: 100, Free: 100}
	allocated := &lvm.PhysicalVolume{Name: "/dev/sda1", Size: 100, Free: 40}

	tests := []struct {
		name  string
		state State
		force bool
		pv    *lvm.PhysicalVolume
		want  Action
	}{
		{"present_absent_creates", StatePresent, false, nil, ActionCreate},
		{"present_present_noop", StatePresent, false, free, ActionNone},
		{"present_present_force_noop", StatePresent, true, grouped, ActionNone},
		{"absent_unused_removes", StateAbsent, false, free, ActionRemove},
		{"absent_grouped_refuses", StateAbsent, false, grouped, ActionRefuse},
		{"absent_allocated_refuses", StateAbsent, false, allocated, ActionRefuse},
		{"absent_grouped_force_removes", StateAbsent, true, grouped, ActionForceRemove},
		{"absent_unused_force_removes", StateAbsent, true, free, ActionForceRemove},
		{"absent_absent_noop", StateAbsent, false, nil, ActionNone},
		{"absent_absent_force_noop", StateAbsent, true, nil, ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.state, tt.force, tt.pv))
		})
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState("")
	require.NoError(t, err)
	assert.Equal(t, StatePresent, s)

	s, err = ParseState("absent")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, s)

	_, err = ParseState("gone")
	assert.Error(t, err)
}

func TestReconcilePresent(t *testing.T) {
	ctx := context.Background()

	t.Run("existing_pv_is_noop", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/sda1", Size: 10, Free: 10})
		res, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sda1"}, State: StatePresent})

		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Empty(t, b.calls)
	})

	t.Run("missing_pv_is_created_once", func(t *testing.T) {
		b := newFakeBackend()
		res, err := newTestReconciler(b).Reconcile(ctx, Request{
			Devices: []string{"/dev/sda1"},
			Options: []string{"--metadatacopies", "2"},
		})

		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, []string{"create --metadatacopies 2 /dev/sda1"}, b.calls)
		assert.Equal(t, []Step{{Device: "/dev/sda1", Action: ActionCreate, Applied: true}}, res.Actions)
	})

	t.Run("second_run_is_unchanged", func(t *testing.T) {
		b := newFakeBackend()
		r := newTestReconciler(b)
		req := Request{Devices: []string{"/dev/sda1"}, State: StatePresent}

		first, err := r.Reconcile(ctx, req)
		require.NoError(t, err)
		second, err := r.Reconcile(ctx, req)
		require.NoError(t, err)

		assert.True(t, first.Changed)
		assert.False(t, second.Changed)
		assert.Len(t, b.calls, 1)
	})

	t.Run("empty_list_fails", func(t *testing.T) {
		b := newFakeBackend()
		_, err := newTestReconciler(b).Reconcile(ctx, Request{State: StatePresent})

		f := requireFailure(t, err, KindPrecondition)
		assert.Equal(t, "no physical volumes given", f.Error())
		assert.Zero(t, b.requireCalls)
		assert.Zero(t, b.listCalls)
	})

	t.Run("missing_device_fails_before_any_command", func(t *testing.T) {
		b := newFakeBackend()
		_, err := newTestReconciler(b, "/dev/sdc").Reconcile(ctx, Request{
			Devices: []string{"/dev/sdb", "/dev/sdc"},
		})

		f := requireFailure(t, err, KindPrecondition)
		assert.Equal(t, "/dev/sdc", f.Device)
		assert.Contains(t, f.Error(), "device /dev/sdc not found")
		assert.Equal(t, -1, f.ExitCode)
		assert.Zero(t, b.requireCalls)
		assert.Zero(t, b.listCalls)
		assert.Empty(t, b.calls)
	})

	t.Run("create_failure_stops_remaining_devices", func(t *testing.T) {
		b := newFakeBackend()
		b.createErr["/dev/sdc"] = &lvm.CommandError{Name: "pvcreate", ExitCode: 5, Stderr: "Device /dev/sdc excluded by a filter."}
		res, err := newTestReconciler(b).Reconcile(ctx, Request{
			Devices: []string{"/dev/sdb", "/dev/sdc", "/dev/sdd"},
		})

		f := requireFailure(t, err, KindMutation)
		assert.Equal(t, "/dev/sdc", f.Device)
		assert.Equal(t, 5, f.ExitCode)
		assert.Equal(t, "Device /dev/sdc excluded by a filter.", f.Stderr)
		assert.Equal(t, []string{"create /dev/sdb", "create /dev/sdc"}, b.calls)
		assert.Contains(t, b.pvs, "/dev/sdb", "earlier mutations are kept")
		require.Len(t, res.Actions, 2)
		assert.True(t, res.Actions[0].Applied)
		assert.False(t, res.Actions[1].Applied)
	})
}

func TestReconcileAbsent(t *testing.T) {
	ctx := context.Background()

	t.Run("unused_pv_is_removed", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/sda1", Size: 100, Free: 100})
		res, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sda1"}, State: StateAbsent})

		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, []string{"remove /dev/sda1"}, b.calls)
	})

	t.Run("grouped_pv_is_refused_without_force", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/sda1", VGName: "vg0", Size: 100, Free: 100})
		_, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sda1"}, State: StateAbsent})

		f := requireFailure(t, err, KindPolicy)
		assert.Contains(t, f.Error(), `"vg0"`)
		assert.Contains(t, f.Error(), "/dev/sda1")
		assert.Empty(t, b.calls)
	})

	t.Run("allocated_pv_is_refused_without_force", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/sda1", VGName: "vg0", Size: 100, Free: 20})
		_, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sda1"}, State: StateAbsent})

		requireFailure(t, err, KindPolicy)
		assert.Empty(t, b.calls)
	})

	t.Run("force_removes_in_use_pv", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/sda1", VGName: "vg0", Size: 100, Free: 20})
		res, err := newTestReconciler(b).Reconcile(ctx, Request{
			Devices: []string{"/dev/sda1"},
			State:   StateAbsent,
			Force:   true,
		})

		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, []string{"force-remove /dev/sda1"}, b.calls)
	})

	t.Run("unknown_device_is_noop_without_existence_check", func(t *testing.T) {
		b := newFakeBackend()
		res, err := newTestReconciler(b, "/dev/sdq").Reconcile(ctx, Request{Devices: []string{"/dev/sdq"}, State: StateAbsent})

		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Empty(t, b.calls)
	})

	t.Run("empty_list_is_silent_noop", func(t *testing.T) {
		b := newFakeBackend()
		res, err := newTestReconciler(b).Reconcile(ctx, Request{State: StateAbsent})

		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Zero(t, b.requireCalls)
		assert.Zero(t, b.listCalls)
	})

	t.Run("refusal_keeps_earlier_removals", func(t *testing.T) {
		b := newFakeBackend(
			lvm.PhysicalVolume{Name: "/dev/sdb", Size: 10, Free: 10},
			lvm.PhysicalVolume{Name: "/dev/sdc", VGName: "data", Size: 10, Free: 10},
		)
		_, err := newTestReconciler(b).Reconcile(ctx, Request{
			Devices: []string{"/dev/sdb", "/dev/sdc"},
			State:   StateAbsent,
		})

		requireFailure(t, err, KindPolicy)
		assert.Equal(t, []string{"remove /dev/sdb"}, b.calls)
		assert.NotContains(t, b.pvs, "/dev/sdb")
	})

	t.Run("remove_failure_reports_exit_code", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/sdb", Size: 10, Free: 10})
		b.removeErr["/dev/sdb"] = fmt.Errorf("failed to remove physical volume /dev/sdb: %w",
			&lvm.CommandError{Name: "pvremove", ExitCode: 5, Stderr: "Can't open /dev/sdb exclusively."})
		_, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sdb"}, State: StateAbsent})

		f := requireFailure(t, err, KindMutation)
		assert.Equal(t, 5, f.ExitCode)
		assert.Equal(t, "Can't open /dev/sdb exclusively.", f.Stderr)
		assert.Contains(t, f.Error(), "failed to remove physical volume /dev/sdb")
	})
}

func TestReconcileCheckMode(t *testing.T) {
	ctx := context.Background()

	t.Run("pending_create_runs_nothing", func(t *testing.T) {
		b := newFakeBackend()
		res, err := newTestReconciler(b).Reconcile(ctx, Request{
			Devices:   []string{"/dev/sdb", "/dev/sdc"},
			CheckMode: true,
		})

		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.True(t, res.CheckMode)
		assert.Empty(t, b.calls)
		require.Len(t, res.Actions, 1, "scan stops at the first pending change")
		assert.Equal(t, "/dev/sdb", res.Actions[0].Device)
		assert.False(t, res.Actions[0].Applied)
	})

	t.Run("all_matching_is_unchanged", func(t *testing.T) {
		b := newFakeBackend(
			lvm.PhysicalVolume{Name: "/dev/sdb", Size: 1, Free: 1},
			lvm.PhysicalVolume{Name: "/dev/sdc", Size: 1, Free: 1},
		)
		res, err := newTestReconciler(b).Reconcile(ctx, Request{
			Devices:   []string{"/dev/sdb", "/dev/sdc"},
			CheckMode: true,
		})

		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Empty(t, res.Actions)
	})

	t.Run("in_use_removal_reports_change", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/sdb", VGName: "vg0", Size: 1, Free: 0})
		res, err := newTestReconciler(b).Reconcile(ctx, Request{
			Devices:   []string{"/dev/sdb"},
			State:     StateAbsent,
			CheckMode: true,
		})

		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, ActionRefuse, res.Actions[0].Action)
		assert.Empty(t, b.calls)
	})
}

func TestReconcileNormalization(t *testing.T) {
	ctx := context.Background()

	t.Run("symlink_matches_inventory_entry", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "sdb")
		require.NoError(t, os.WriteFile(target, nil, 0o600))
		link := filepath.Join(dir, "wwn-0x5000c500d006891c")
		require.NoError(t, os.Symlink(target, link))
		canonical, err := filepath.EvalSymlinks(target)
		require.NoError(t, err)

		b := newFakeBackend(lvm.PhysicalVolume{Name: canonical, Size: 1, Free: 1})
		res, err := New(b, WithLogger(quietLogger())).Reconcile(ctx, Request{Devices: []string{link, target}})

		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Empty(t, b.calls)
	})

	t.Run("relative_path_matches_inventory_entry", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "sdb"), nil, 0o600))
		canonical, err := filepath.EvalSymlinks(filepath.Join(dir, "sdb"))
		require.NoError(t, err)
		chdir(t, dir)

		b := newFakeBackend(lvm.PhysicalVolume{Name: canonical, VGName: "vg0", Size: 1 << 30, Free: 1 << 29})
		r := New(b, WithLogger(quietLogger()))

		res, err := r.Reconcile(ctx, Request{Devices: []string{"sdb"}})
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Empty(t, b.calls)

		_, err = r.Reconcile(ctx, Request{Devices: []string{"sdb"}, State: StateAbsent})
		f := requireFailure(t, err, KindPolicy)
		assert.Equal(t, canonical, f.Device)
		assert.Empty(t, b.calls)

		res, err = r.Reconcile(ctx, Request{Devices: []string{"sdb"}, State: StateAbsent, Force: true})
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, []string{"force-remove " + canonical}, b.calls)
	})

	t.Run("dm_node_matches_mapper_alias", func(t *testing.T) {
		b := newFakeBackend(lvm.PhysicalVolume{Name: "/dev/mapper/vg0-crypt", Size: 1, Free: 1})
		b.mapper["/dev/dm-4"] = "/dev/mapper/vg0-crypt"
		res, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/dm-4"}, State: StateAbsent})

		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, []string{"remove /dev/mapper/vg0-crypt"}, b.calls)
	})

	t.Run("dm_lookup_failure_is_tool_failure", func(t *testing.T) {
		b := newFakeBackend()
		_, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/dm-9"}, State: StateAbsent})

		f := requireFailure(t, err, KindTool)
		assert.Equal(t, 1, f.ExitCode)
		assert.Zero(t, b.listCalls)
	})
}

func TestReconcileToolFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing_tool", func(t *testing.T) {
		b := newFakeBackend()
		b.requireErr = fmt.Errorf("%w: pvcreate", lvm.ErrToolNotFound)
		_, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sdb"}})

		requireFailure(t, err, KindTool)
		assert.True(t, errors.Is(err, lvm.ErrToolNotFound))
		assert.Zero(t, b.listCalls)
	})

	t.Run("inventory_failure", func(t *testing.T) {
		b := newFakeBackend()
		b.listErr = fmt.Errorf("failed executing pvs command: %w",
			&lvm.CommandError{Name: "pvs", ExitCode: 3, Stderr: "locking failed"})
		_, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sdb"}})

		f := requireFailure(t, err, KindTool)
		assert.Equal(t, 3, f.ExitCode)
		assert.Equal(t, "locking failed", f.Stderr)
		assert.Empty(t, b.calls)
	})

	t.Run("invalid_state", func(t *testing.T) {
		b := newFakeBackend()
		_, err := newTestReconciler(b).Reconcile(ctx, Request{Devices: []string{"/dev/sdb"}, State: "gone"})

		requireFailure(t, err, KindPrecondition)
	})
}

func TestReconcileWithClient(t *testing.T) {
	ctx := context.Background()

	runner := lvm.NewFakeRunner()
	runner.Responses["pvs"] = lvm.FakeResponse{Stdout: "  /dev/sdb;vg0;100B;100B\n"}
	client := lvm.NewClient(lvm.WithRunner(runner), lvm.WithLookPath(lvm.FakeLookPath), lvm.WithLogger(quietLogger()))

	res, err := newTestReconciler(client).Reconcile(ctx, Request{
		Devices: []string{"/dev/sda1", "/dev/sdb"},
		Options: []string{"--dataalignment", "1m"},
	})

	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{
		"pvs --noheadings -o pv_name,vg_name,pv_size,pv_free --units b --separator ;",
		"pvcreate --dataalignment 1m /dev/sda1",
	}, runner.Commands())
}

// chdir is a Go 1.21-compatible stand-in for testing.T.Chdir (Go 1.24+):
// it changes the working directory and restores it when the test ends.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
