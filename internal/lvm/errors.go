package lvm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound is returned when a required LVM or device-mapper
	// binary cannot be located.
	ErrToolNotFound = errors.New("required tool not found")

	// ErrInvalidDevice is returned for device paths that cannot name a block device.
	ErrInvalidDevice = errors.New("invalid device path")
)

// CommandError describes an external command that exited unsuccessfully.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command(), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Command returns the command line that was run.
func (e *CommandError) Command() string {
	return strings.TrimSpace(e.Name + " " + strings.Join(e.Args, " "))
}

// ParseError reports a malformed line in pvs output.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed pvs output on line %d (%q): %s", e.Line, e.Text, e.Reason)
}

// ExitCode extracts the exit code carried by err, or -1 if err did not come
// from a command.
func ExitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

// Stderr extracts captured standard error carried by err.
func Stderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return ""
}
