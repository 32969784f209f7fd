package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/pvsync/internal/reconcile"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("full_file", func(t *testing.T) {
		path := writeConfig(t, `
pvs:
  - /dev/sdb
  - /dev/disk/by-id/wwn-0x5000c500d006891c
pv_options: "--metadatacopies 2 --metadatasize=32m"
state: present
check_mode: true
command_timeout: 30s
log:
  level: debug
  format: json
history:
  enabled: true
  path: /tmp/pvsync.db
tools:
  pvs: /opt/lvm/sbin/pvs
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, []string{"/dev/sdb", "/dev/disk/by-id/wwn-0x5000c500d006891c"}, cfg.PVs)
		assert.Equal(t, []string{"--metadatacopies", "2", "--metadatasize=32m"}, cfg.CreateOptions())
		assert.True(t, cfg.CheckMode)
		assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.True(t, cfg.History.Enabled)
		assert.Equal(t, "/tmp/pvsync.db", cfg.History.Path)
		assert.Equal(t, "/opt/lvm/sbin/pvs", cfg.Tools["pvs"])
	})

	t.Run("defaults_fill_missing_values", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "pvs: [/dev/sdb]\n"))
		require.NoError(t, err)

		assert.Equal(t, "present", cfg.State)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, "auto", cfg.Log.Format)
		assert.Equal(t, DefaultHistoryPath, cfg.History.Path)
		assert.False(t, cfg.History.Enabled)
		assert.Zero(t, cfg.CommandTimeout)
	})

	t.Run("pv_args_alias", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "pvs: [/dev/sdb]\npv_args: --dataalignment 1m\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"--dataalignment", "1m"}, cfg.CreateOptions())
	})

	t.Run("pv_options_and_pv_args_conflict", func(t *testing.T) {
		_, err := Load(writeConfig(t, "pv_options: -a\npv_args: -b\n"))
		assert.ErrorContains(t, err, "mutually exclusive")
	})

	t.Run("invalid_state", func(t *testing.T) {
		_, err := Load(writeConfig(t, "state: removed\n"))
		assert.ErrorContains(t, err, `invalid state "removed"`)
	})

	t.Run("invalid_log_format", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log:\n  format: xml\n"))
		assert.ErrorContains(t, err, "invalid log format")
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "pvs: [/dev/sdb\n"))
		assert.ErrorContains(t, err, "failed to parse config")
	})

	t.Run("missing_explicit_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorContains(t, err, "failed to read config")
	})
}

func TestRequest(t *testing.T) {
	cfg := Default()
	cfg.PVs = []string{"/dev/sdb"}
	cfg.State = "absent"
	cfg.Force = true

	req, err := cfg.Request()
	require.NoError(t, err)
	assert.Equal(t, reconcile.Request{
		Devices: []string{"/dev/sdb"},
		Options: []string{},
		State:   reconcile.StateAbsent,
		Force:   true,
	}, req)
}
