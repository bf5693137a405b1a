// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
)

const (
	defaultInterpreter = "python3"
	defaultStopGrace   = 5 * time.Second
	// secretPrefix marks env values resolved from the secret store.
	secretPrefix = "secret:"
	// watchFlag asks a cooperating daemon to run in a loop instead of once.
	watchFlag = "--watch"
)

// LaunchResult reports what the supervisor did (or would do) for a launch.
type LaunchResult struct {
	Daemon   string
	Argv     []string
	Planned  bool
	ExitCode int
	PID      int
}

// Supervisor starts, stops, and tracks child OS processes keyed by daemon
// name. All mutating operations honor the SafetyContext: under dry-run only
// the side-effect-free half runs and nothing is spawned.
type Supervisor struct {
	registry    domain.RegistryStore
	events      domain.EventLog
	launcher    domain.Launcher
	pm          domain.ProcessManager
	secrets     domain.SecretStore // may be nil; secret refs then fail the launch
	daemonsRoot string
	interpreter string
	stopGrace   time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	running map[string]int // lowercase daemon name -> pid
}

// NewSupervisor creates a process supervisor.
func NewSupervisor(
	registry domain.RegistryStore,
	events domain.EventLog,
	launcher domain.Launcher,
	pm domain.ProcessManager,
	secrets domain.SecretStore,
	daemonsRoot string,
	logger *zap.Logger,
) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		registry:    registry,
		events:      events,
		launcher:    launcher,
		pm:          pm,
		secrets:     secrets,
		daemonsRoot: daemonsRoot,
		interpreter: defaultInterpreter,
		stopGrace:   defaultStopGrace,
		logger:      logger,
	}
}

// lookup loads the registry and resolves a runnable record.
func (s *Supervisor) lookup(name string) (*domain.DaemonRecord, error) {
	state, err := s.registry.Load()
	if err != nil {
		return nil, err
	}
	_, rec := state.Lookup(name)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s is not in the registry (run scan first)", domain.ErrNotRunnable, name)
	}
	if !rec.Enabled {
		return nil, fmt.Errorf("%w: %s is disabled", domain.ErrNotRunnable, rec.Name)
	}
	if rec.Status != domain.StatusReady {
		return nil, fmt.Errorf("%w: %s has no executable entry point (status %s)", domain.ErrNotRunnable, rec.Name, rec.Status)
	}
	return rec, nil
}

// resolveEnv materializes the record's env overrides, resolving
// "secret:KEY" references from the secret store. An unresolvable reference
// fails the launch; an empty value is never silently exported.
func (s *Supervisor) resolveEnv(rec *domain.DaemonRecord) (map[string]string, error) {
	if len(rec.Env) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(rec.Env))
	for k, v := range rec.Env {
		if !strings.HasPrefix(v, secretPrefix) {
			env[k] = v
			continue
		}
		key := strings.TrimPrefix(v, secretPrefix)
		if s.secrets == nil {
			return nil, fmt.Errorf("env %s references secret %q but no secret store is configured", k, key)
		}
		secret, err := s.secrets.GetSecret(key)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		env[k] = secret
	}
	return env, nil
}

// Start launches a daemon and waits for it, returning the exit code in the
// result. With watch true the cooperative watch flag is appended so daemons
// supporting continuous operation loop instead of running once.
func (s *Supervisor) Start(ctx context.Context, sc domain.SafetyContext, name string, extraArgs []string, watch bool) (*LaunchResult, error) {
	action := domain.ActionLaunch
	if watch {
		action = domain.ActionWatch
	}

	rec, err := s.lookup(name)
	if err != nil {
		s.record(domain.NewEvent(name, action, "", domain.OutcomeError).WithError(err))
		return nil, err
	}

	spec, err := s.buildSpec(rec, extraArgs, watch)
	if err != nil {
		s.record(domain.NewEvent(rec.Name, action, rec.Path, domain.OutcomeError).WithError(err))
		return nil, err
	}

	result := &LaunchResult{Daemon: rec.Name, Argv: spec.Argv}

	if sc.DryRun {
		result.Planned = true
		s.logger.Info("planned launch", zap.String("daemon", rec.Name), zap.Strings("argv", spec.Argv))
		s.record(domain.NewEvent(rec.Name, action, rec.Path, domain.OutcomePlanned))
		return result, nil
	}

	s.record(domain.NewEvent(rec.Name, action, rec.Path, domain.OutcomeOK))
	code, err := s.launcher.Run(ctx, *spec)
	if err != nil {
		s.record(domain.NewEvent(rec.Name, action, rec.Path, domain.OutcomeError).WithError(err))
		return nil, fmt.Errorf("launch %s: %w", rec.Name, err)
	}

	result.ExitCode = code
	s.record(domain.NewEvent(rec.Name, action, rec.Path, fmt.Sprintf("exit:%d", code)))
	return result, nil
}

// StartDetached spawns a daemon without waiting and tracks its PID.
// Used by the task scheduler; honors the same safety gating as Start.
func (s *Supervisor) StartDetached(sc domain.SafetyContext, name string, extraArgs []string) (*LaunchResult, error) {
	rec, err := s.lookup(name)
	if err != nil {
		s.record(domain.NewEvent(name, domain.ActionLaunch, "", domain.OutcomeError).WithError(err))
		return nil, err
	}

	spec, err := s.buildSpec(rec, extraArgs, false)
	if err != nil {
		s.record(domain.NewEvent(rec.Name, domain.ActionLaunch, rec.Path, domain.OutcomeError).WithError(err))
		return nil, err
	}

	result := &LaunchResult{Daemon: rec.Name, Argv: spec.Argv}

	if sc.DryRun {
		result.Planned = true
		s.record(domain.NewEvent(rec.Name, domain.ActionLaunch, rec.Path, domain.OutcomePlanned))
		return result, nil
	}

	pid, err := s.launcher.Spawn(*spec)
	if err != nil {
		s.record(domain.NewEvent(rec.Name, domain.ActionLaunch, rec.Path, domain.OutcomeError).WithError(err))
		return nil, fmt.Errorf("spawn %s: %w", rec.Name, err)
	}

	s.mu.Lock()
	if s.running == nil {
		s.running = make(map[string]int)
	}
	s.running[rec.Key()] = pid
	s.mu.Unlock()

	result.PID = pid
	s.record(domain.NewEvent(rec.Name, domain.ActionLaunch, rec.Path, domain.OutcomeOK).WithExtra("pid", pid))
	return result, nil
}

// buildSpec resolves the record into a concrete launch spec.
func (s *Supervisor) buildSpec(rec *domain.DaemonRecord, extraArgs []string, watch bool) (*domain.LaunchSpec, error) {
	env, err := s.resolveEnv(rec)
	if err != nil {
		return nil, err
	}
	args := append([]string{}, extraArgs...)
	if watch {
		args = append(args, watchFlag)
	}
	argv := domain.BuildArgv(s.interpreter, s.daemonsRoot, *rec, args)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty start descriptor", domain.ErrNotRunnable, rec.Name)
	}
	return &domain.LaunchSpec{
		Name: rec.Name,
		Argv: argv,
		Dir:  filepath.Dir(filepath.Join(s.daemonsRoot, rec.Path)),
		Env:  env,
	}, nil
}

// Stop terminates a tracked daemon: graceful signal, bounded grace wait,
// then force kill. Stopping a daemon that is not running is a logged no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	key := strings.ToLower(name)

	s.mu.Lock()
	pid, tracked := s.running[key]
	s.mu.Unlock()

	pids := []int{}
	if tracked && s.pm.IsRunning(pid) {
		pids = append(pids, pid)
	} else if rec, err := s.lookup(name); err == nil {
		// Not tracked in this invocation; fall back to a process scan for
		// the daemon's script name.
		found, err := s.pm.FindByName(filepath.Base(rec.Path))
		if err == nil {
			pids = found
		}
	}

	if len(pids) == 0 {
		s.logger.Info("stop: daemon not running", zap.String("daemon", name))
		s.record(domain.NewEvent(name, domain.ActionStop, "", domain.OutcomeSkipped))
		return nil
	}

	var lastErr error
	for _, pid := range pids {
		if err := s.terminateWithGrace(ctx, pid); err != nil {
			lastErr = err
			s.record(domain.NewEvent(name, domain.ActionStop, fmt.Sprintf("pid:%d", pid), domain.OutcomeError).WithError(err))
			continue
		}
		s.record(domain.NewEvent(name, domain.ActionStop, fmt.Sprintf("pid:%d", pid), domain.OutcomeOK))
	}

	s.mu.Lock()
	delete(s.running, key)
	s.mu.Unlock()
	return lastErr
}

// terminateWithGrace sends SIGTERM, polls for exit within the grace period,
// then escalates to SIGKILL.
func (s *Supervisor) terminateWithGrace(ctx context.Context, pid int) error {
	if err := s.pm.Terminate(pid); err != nil {
		return err
	}

	deadline := time.Now().Add(s.stopGrace)
	for time.Now().Before(deadline) {
		if !s.pm.IsRunning(pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	s.logger.Warn("grace period elapsed, force killing", zap.Int("pid", pid))
	return s.pm.Kill(pid)
}

// StopAll terminates every tracked child. Called during orderly shutdown of
// serve mode so interrupts do not leave tracked children behind.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	names := make([]string, 0, len(s.running))
	for name := range s.running {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.Stop(ctx, name); err != nil {
			s.logger.Warn("failed to stop daemon during shutdown", zap.String("daemon", name), zap.Error(err))
		}
	}
}

// Running returns a snapshot of tracked children.
func (s *Supervisor) Running() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.running))
	for k, v := range s.running {
		out[k] = v
	}
	return out
}

// record appends to the event log; failures are logged, never propagated.
func (s *Supervisor) record(e domain.EventEntry) {
	if err := s.events.Record(e); err != nil {
		s.logger.Warn("failed to record event", zap.Error(err))
	}
}
