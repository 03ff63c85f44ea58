package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/labarlab/func-archival/pkg/logger"
)

// CommandRunner is an interface for executing commands and getting the output/error
type CommandRunner interface {
	RunCommand(ctx context.Context, args ...string) (string, error)
	// RunCommandEnv runs the command with env appended to the current process environment.
	RunCommandEnv(ctx context.Context, env []string, args ...string) (string, error)
}

type DefaultCommandRunner struct{}

var _ CommandRunner = &DefaultCommandRunner{}

func (d *DefaultCommandRunner) RunCommand(ctx context.Context, args ...string) (string, error) {
	return d.RunCommandEnv(ctx, nil, args...)
}

func (d *DefaultCommandRunner) RunCommandEnv(ctx context.Context, env []string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command given")
	}
	logger.Debugf("Running command: %s", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	out, err := cmd.CombinedOutput()
	logger.Debugf("Command output: %s", string(out))
	if err != nil {
		return string(out), fmt.Errorf("%s: %w", args[0], err)
	}
	return string(out), nil
}

// Call is one recorded invocation of a FakeCommandRunner.
type Call struct {
	Args []string
	Env  []string
}

// FakeCommandRunner records calls instead of executing them. When FailOn is set,
// only commands whose executable matches it fail with ErrStr.
type FakeCommandRunner struct {
	Output string
	ErrStr string
	FailOn string

	mu    sync.Mutex
	calls []Call
}

var _ CommandRunner = &FakeCommandRunner{}

func (f *FakeCommandRunner) RunCommand(ctx context.Context, args ...string) (string, error) {
	return f.RunCommandEnv(ctx, nil, args...)
}

func (f *FakeCommandRunner) RunCommandEnv(_ context.Context, env []string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{
		Args: append([]string(nil), args...),
		Env:  append([]string(nil), env...),
	})
	f.mu.Unlock()

	if f.ErrStr != "" && (f.FailOn == "" || (len(args) > 0 && args[0] == f.FailOn)) {
		return f.Output, errors.New(f.ErrStr)
	}
	return f.Output, nil
}

// Calls returns a copy of every invocation seen so far, in order.
func (f *FakeCommandRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
