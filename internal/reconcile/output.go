package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Document is the structured result of a run as printed to the caller.
// A failed run reports only the failure.
type Document struct {
	Changed   *bool  `json:"changed,omitempty"`
	CheckMode bool   `json:"check_mode,omitempty"`
	Actions   []Step `json:"actions,omitempty"`

	Failed bool   `json:"failed,omitempty"`
	Kind   Kind   `json:"kind,omitempty"`
	Msg    string `json:"msg,omitempty"`
	Device string `json:"device,omitempty"`
	RC     *int   `json:"rc,omitempty"`
	Err    string `json:"err,omitempty"`
}

// NewDocument builds the output document for a run outcome.
func NewDocument(result *Result, runErr error) Document {
	if runErr != nil {
		doc := Document{Failed: true, Msg: runErr.Error()}
		var f *Failure
		if errors.As(runErr, &f) {
			doc.Kind = f.Kind
			doc.Device = f.Device
			doc.Err = f.Stderr
			if f.ExitCode >= 0 {
				rc := f.ExitCode
				doc.RC = &rc
			}
		}
		return doc
	}

	changed := result != nil && result.Changed
	doc := Document{Changed: &changed}
	if result != nil {
		doc.CheckMode = result.CheckMode
		doc.Actions = result.Actions
	}
	return doc
}

// PrintJSON outputs the run outcome as JSON
func PrintJSON(w io.Writer, result *Result, runErr error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(result, runErr))
}

// PrintText outputs the run outcome for humans
func PrintText(w io.Writer, result *Result, runErr error) {
	doc := NewDocument(result, runErr)

	if doc.Failed {
		fmt.Fprintf(w, "FAILED: %s\n", doc.Msg)
		if doc.RC != nil {
			fmt.Fprintf(w, "  exit code: %d\n", *doc.RC)
		}
		if doc.Err != "" {
			fmt.Fprintf(w, "  stderr:    %s\n", doc.Err)
		}
		return
	}

	prefix := ""
	if doc.CheckMode {
		prefix = "(check mode) "
	}

	if !*doc.Changed {
		fmt.Fprintf(w, "%sok: physical volumes already in desired state\n", prefix)
		return
	}

	fmt.Fprintf(w, "%schanged:\n", prefix)
	for _, step := range doc.Actions {
		line := fmt.Sprintf("  %-14s %s", step.Action, step.Device)
		if step.VGName != "" {
			line += fmt.Sprintf(" (vg %s)", step.VGName)
		}
		fmt.Fprintln(w, line)
	}
}
