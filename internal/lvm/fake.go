package lvm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// FakeResponse is a canned result for one command in FakeRunner.
type FakeResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// FakeRunner records invocations and replays canned responses keyed by the
// command's base name. It is used by tests in place of ExecRunner.
type FakeRunner struct {
	mu        sync.Mutex
	calls     [][]string
	Responses map[string]FakeResponse
	// Handler, when set, takes precedence over Responses.
	Handler func(name string, args []string) FakeResponse
}

// NewFakeRunner creates a fake runner with no canned responses. Unknown
// commands succeed with empty output.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Responses: make(map[string]FakeResponse)}
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	base := filepath.Base(name)
	f.calls = append(f.calls, append([]string{base}, args...))

	var resp FakeResponse
	if f.Handler != nil {
		resp = f.Handler(base, args)
	} else {
		resp = f.Responses[base]
	}

	if resp.ExitCode != 0 {
		return nil, &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: resp.ExitCode,
			Stderr:   resp.Stderr,
			Err:      fmt.Errorf("exit status %d", resp.ExitCode),
		}
	}
	return []byte(resp.Stdout), nil
}

// Commands returns every recorded invocation as a space-joined command line
// using the base name of the binary.
func (f *FakeRunner) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// CommandsNamed returns the recorded invocations of one binary.
func (f *FakeRunner) CommandsNamed(name string) []string {
	var out []string
	for _, c := range f.Commands() {
		if c == name || strings.HasPrefix(c, name+" ") {
			out = append(out, c)
		}
	}
	return out
}

// FakeLookPath resolves every tool to /usr/sbin.
func FakeLookPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	return "/usr/sbin/" + name, nil
}
