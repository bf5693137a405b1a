package infra

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/rheahq/rhea/internal/domain"
)

// ExecLauncher implements domain.Launcher with os/exec. Spawned children
// run in their own session so they survive the orchestrator exiting.
type ExecLauncher struct{}

// NewExecLauncher creates a launcher.
func NewExecLauncher() domain.Launcher {
	return &ExecLauncher{}
}

// Run starts the process, inherits stdio, waits for completion, and returns
// the exit code. A non-zero child exit is not an error here; callers decide.
func (l *ExecLauncher) Run(ctx context.Context, spec domain.LaunchSpec) (int, error) {
	if len(spec.Argv) == 0 {
		return -1, fmt.Errorf("empty argv for %s", spec.Name)
	}
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnv(spec.Env)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Spawn starts the process detached (new session, no stdio) and returns its
// PID without waiting.
func (l *ExecLauncher) Spawn(spec domain.LaunchSpec) (int, error) {
	if len(spec.Argv) == 0 {
		return 0, fmt.Errorf("empty argv for %s", spec.Name)
	}
	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = mergedEnv(spec.Env)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap the child when it exits so spawned daemons never zombie while
	// the orchestrator is still alive (serve mode).
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// mergedEnv layers the overrides on top of the current process environment.
func mergedEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Ensure ExecLauncher implements domain.Launcher.
var _ domain.Launcher = (*ExecLauncher)(nil)
