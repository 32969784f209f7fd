package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunRecord is one recorded apply invocation
type RunRecord struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Force     bool      `json:"force"`
	CheckMode bool      `json:"check_mode"`
	Devices   []string  `json:"devices"`
	Options   []string  `json:"options,omitempty"`
	Changed   bool      `json:"changed"`
	Failed    bool      `json:"failed"`
	Kind      string    `json:"failure_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"finished_at"`

	Actions []ActionRecord `json:"actions,omitempty"`
}

// ActionRecord is the decision taken for one device in a run
type ActionRecord struct {
	Seq     int    `json:"seq"`
	Device  string `json:"device"`
	Action  string `json:"action"`
	VGName  string `json:"vg_name,omitempty"`
	Applied bool   `json:"applied"`
}

// Duration returns how long the run took
func (r *RunRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// RecordRun stores a run and its actions. An empty ID is filled with a new UUID.
func (d *DB) RecordRun(run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	devices, err := json.Marshal(run.Devices)
	if err != nil {
		return fmt.Errorf("failed to encode devices: %w", err)
	}
	options, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}

	var exitCode sql.NullInt64
	if run.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*run.ExitCode), Valid: true}
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (
			id, state, force, check_mode, devices, options,
			changed, failed, failure_kind, message, exit_code, stderr,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.State, run.Force, run.CheckMode, string(devices), string(options),
		run.Changed, run.Failed, nullString(run.Kind), nullString(run.Message), exitCode, nullString(run.Stderr),
		run.StartedAt.UTC(), run.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	for i := range run.Actions {
		a := &run.Actions[i]
		a.Seq = i + 1
		_, err := tx.Exec(`
			INSERT INTO run_actions (run_id, seq, device, action, vg_name, applied)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, a.Seq, a.Device, a.Action, nullString(a.VGName), a.Applied)
		if err != nil {
			return fmt.Errorf("failed to record action for %s: %w", a.Device, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `
	id, state, force, check_mode, devices, options,
	changed, failed, failure_kind, message, exit_code, stderr,
	started_at, finished_at
`

// RecentRuns returns the most recent runs without their actions
func (d *DB) RecentRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with its actions, or nil if it does not exist
func (d *DB) GetRun(id string) (*RunRecord, error) {
	row := d.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	run.Actions, err = d.RunActions(id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// RunActions returns the actions of a run in request order
func (d *DB) RunActions(runID string) ([]ActionRecord, error) {
	rows, err := d.conn.Query(`
		SELECT seq, device, action, vg_name, applied
		FROM run_actions
		WHERE run_id = ?
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run actions: %w", err)
	}
	defer rows.Close()

	var actions []ActionRecord
	for rows.Next() {
		var a ActionRecord
		var vgName sql.NullString
		if err := rows.Scan(&a.Seq, &a.Device, &a.Action, &vgName, &a.Applied); err != nil {
			return nil, fmt.Errorf("failed to scan run action: %w", err)
		}
		a.VGName = vgName.String
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var run RunRecord
	var devices, options, kind, message, stderr sql.NullString
	var exitCode sql.NullInt64

	err := s.Scan(
		&run.ID, &run.State, &run.Force, &run.CheckMode, &devices, &options,
		&run.Changed, &run.Failed, &kind, &message, &exitCode, &stderr,
		&run.StartedAt, &run.EndedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if devices.Valid && devices.String != "" {
		if err := json.Unmarshal([]byte(devices.String), &run.Devices); err != nil {
			return nil, fmt.Errorf("failed to decode devices of run %s: %w", run.ID, err)
		}
	}
	if options.Valid && options.String != "" {
		if err := json.Unmarshal([]byte(options.String), &run.Options); err != nil {
			return nil, fmt.Errorf("failed to decode options of run %s: %w", run.ID, err)
		}
	}

	run.Kind = kind.String
	run.Message = message.String
	run.Stderr = stderr.String
	if exitCode.Valid {
		ec := int(exitCode.Int64)
		run.ExitCode = &ec
	}

	return &run, nil
}
