package reconcile

import (
	"github.com/sigreer/pvsync/internal/lvm"
)

// Kind classifies a failed run.
type Kind string

const (
	// KindPrecondition covers bad input found before any command ran.
	KindPrecondition Kind = "precondition"
	// KindTool covers missing tools and failed read-only commands.
	KindTool Kind = "tool"
	// KindPolicy covers refusing to remove an in-use volume without force.
	KindPolicy Kind = "policy"
	// KindMutation covers a failed pvcreate or pvremove.
	KindMutation Kind = "mutation"
)

// Failure is the terminal error of a run. Mutations applied before it are
// left in place.
type Failure struct {
	Kind     Kind
	Msg      string
	Device   string
	ExitCode int
	Stderr   string
	Err      error
}

func newFailure(kind Kind, device, msg string, err error) *Failure {
	f := &Failure{
		Kind:     kind,
		Msg:      msg,
		Device:   device,
		ExitCode: -1,
		Err:      err,
	}
	if err != nil {
		f.ExitCode = lvm.ExitCode(err)
		f.Stderr = lvm.Stderr(err)
	}
	return f
}

func (f *Failure) Error() string {
	switch {
	case f.Msg != "" && f.Err != nil:
		return f.Msg + ": " + f.Err.Error()
	case f.Err != nil:
		return f.Err.Error()
	}
	return f.Msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}
