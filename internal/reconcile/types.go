package reconcile

import (
	"fmt"

	"github.com/sigreer/pvsync/internal/lvm"
)

// State is the desired state of the requested physical volumes.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
)

// ParseState validates s; an empty string selects StatePresent.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "", StatePresent:
		return StatePresent, nil
	case StateAbsent:
		return StateAbsent, nil
	default:
		return "", fmt.Errorf("invalid state %q: must be %q or %q", s, StatePresent, StateAbsent)
	}
}

// Action is the decision taken for one device.
type Action string

const (
	ActionNone        Action = "none"
	ActionCreate      Action = "create"
	ActionRemove      Action = "remove"
	ActionForceRemove Action = "force-remove"
	ActionRefuse      Action = "refuse"
)

// Request describes the desired physical volume configuration.
type Request struct {
	Devices []string
	// Options are passed verbatim to pvcreate before the device.
	Options   []string
	State     State
	Force     bool
	CheckMode bool
}

// Step records the decision for one device.
type Step struct {
	Device  string `json:"device"`
	Action  Action `json:"action"`
	VGName  string `json:"vg_name,omitempty"`
	Applied bool   `json:"applied"`
}

// Result is the aggregate outcome of a run.
type Result struct {
	Changed   bool   `json:"changed"`
	CheckMode bool   `json:"check_mode,omitempty"`
	Actions   []Step `json:"actions,omitempty"`
}

// Decide maps desired and observed state to an action. pv is nil when the
// device is absent from the inventory.
func Decide(state State, force bool, pv *lvm.PhysicalVolume) Action {
	switch state {
	case StatePresent:
		if pv == nil {
			return ActionCreate
		}
		return ActionNone
	case StateAbsent:
		if pv == nil {
			return ActionNone
		}
		if force {
			return ActionForceRemove
		}
		if pv.Size == pv.Free && pv.VGName == "" {
			return ActionRemove
		}
		return ActionRefuse
	}
	return ActionNone
}
