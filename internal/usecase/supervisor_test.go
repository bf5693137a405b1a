package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
)

func newTestSupervisor(reg *mockRegistry, events *mockEventLog, launcher *mockLauncher, pm *mockProcessManager, secrets domain.SecretStore) *Supervisor {
	s := NewSupervisor(reg, events, launcher, pm, secrets, "/daemons", zap.NewNop())
	s.stopGrace = 20 * time.Millisecond
	return s
}

// TestStart_DryRunNeverLaunches verifies dry-run produces a plan only
func TestStart_DryRunNeverLaunches(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	events := &mockEventLog{}
	launcher := &mockLauncher{}
	s := newTestSupervisor(reg, events, launcher, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", true, false)
	result, err := s.Start(context.Background(), sc, "echo", nil, false)

	require.NoError(t, err)
	assert.True(t, result.Planned)
	assert.Empty(t, launcher.ran)
	assert.Equal(t, []string{domain.OutcomePlanned}, events.outcomes(domain.ActionLaunch))
}

// TestStart_UnconfirmedContextIsDryRun verifies the gate downgrade reaches the launcher
func TestStart_UnconfirmedContextIsDryRun(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	launcher := &mockLauncher{}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", false, false)
	result, err := s.Start(context.Background(), sc, "echo", nil, false)

	require.NoError(t, err)
	assert.True(t, sc.Downgraded())
	assert.True(t, result.Planned)
	assert.Empty(t, launcher.ran)
}

// TestStart_UnknownDaemon verifies the not-runnable error for unregistered names
func TestStart_UnknownDaemon(t *testing.T) {
	s := newTestSupervisor(&mockRegistry{}, &mockEventLog{}, &mockLauncher{}, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("ghost", false, true)
	_, err := s.Start(context.Background(), sc, "ghost", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotRunnable))
}

// TestStart_DisabledDaemonRefused verifies disabled records never launch
func TestStart_DisabledDaemonRefused(t *testing.T) {
	rec := readyRecord("echo")
	rec.Enabled = false
	reg := &mockRegistry{state: stateWith(rec)}
	launcher := &mockLauncher{}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", false, true)
	_, err := s.Start(context.Background(), sc, "echo", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotRunnable))
	assert.Empty(t, launcher.ran)
}

// TestStart_MetaOnlyRefused verifies records without an entry point never launch
func TestStart_MetaOnlyRefused(t *testing.T) {
	rec := readyRecord("echo")
	rec.Status = domain.StatusMetaOnly
	reg := &mockRegistry{state: stateWith(rec)}
	s := newTestSupervisor(reg, &mockEventLog{}, &mockLauncher{}, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", false, true)
	_, err := s.Start(context.Background(), sc, "echo", nil, false)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotRunnable))
}

// TestStart_CaseInsensitiveLookup verifies names match regardless of casing
func TestStart_CaseInsensitiveLookup(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("Echo"))}
	launcher := &mockLauncher{}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", false, true)
	result, err := s.Start(context.Background(), sc, "ECHO", nil, false)

	require.NoError(t, err)
	assert.Equal(t, "Echo", result.Daemon)
	require.Len(t, launcher.ran, 1)
}

// TestStart_RunsAndRecordsExit verifies the exit code lands in the event log
func TestStart_RunsAndRecordsExit(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	events := &mockEventLog{}
	launcher := &mockLauncher{runCode: 3}
	s := newTestSupervisor(reg, events, launcher, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", false, true)
	result, err := s.Start(context.Background(), sc, "echo", nil, false)

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	require.Len(t, launcher.ran, 1)
	assert.Contains(t, events.outcomes(domain.ActionLaunch), "exit:3")
}

// TestStart_WatchAppendsFlag verifies watch mode forwards the cooperative flag
func TestStart_WatchAppendsFlag(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	launcher := &mockLauncher{}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", false, true)
	_, err := s.Start(context.Background(), sc, "echo", []string{"--scope", "inbox"}, true)

	require.NoError(t, err)
	require.Len(t, launcher.ran, 1)
	argv := launcher.ran[0].Argv
	assert.Contains(t, argv, "--watch")
	assert.Contains(t, argv, "--scope")
}

// TestStart_SecretEnvResolved verifies secret references resolve at launch
func TestStart_SecretEnvResolved(t *testing.T) {
	rec := readyRecord("prmerge")
	rec.Env = map[string]string{"GITHUB_TOKEN": "secret:github", "MODE": "fast"}
	reg := &mockRegistry{state: stateWith(rec)}
	launcher := &mockLauncher{}
	secrets := &mockSecretStore{secrets: map[string]string{"github": "tok-123"}}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, &mockProcessManager{}, secrets)

	sc := domain.NewSafetyContext("prmerge", false, true)
	_, err := s.Start(context.Background(), sc, "prmerge", nil, false)

	require.NoError(t, err)
	require.Len(t, launcher.ran, 1)
	assert.Equal(t, "tok-123", launcher.ran[0].Env["GITHUB_TOKEN"])
	assert.Equal(t, "fast", launcher.ran[0].Env["MODE"])
}

// TestStart_MissingSecretFailsLaunch verifies an unresolvable secret aborts
func TestStart_MissingSecretFailsLaunch(t *testing.T) {
	rec := readyRecord("prmerge")
	rec.Env = map[string]string{"GITHUB_TOKEN": "secret:github"}
	reg := &mockRegistry{state: stateWith(rec)}
	launcher := &mockLauncher{}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, &mockProcessManager{}, &mockSecretStore{})

	sc := domain.NewSafetyContext("prmerge", false, true)
	_, err := s.Start(context.Background(), sc, "prmerge", nil, false)

	require.Error(t, err)
	assert.Empty(t, launcher.ran)
}

// TestStartDetached_TracksPID verifies spawned children are tracked
func TestStartDetached_TracksPID(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	launcher := &mockLauncher{spawnPID: 4242}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, &mockProcessManager{}, nil)

	sc := domain.NewSafetyContext("echo", false, true)
	result, err := s.StartDetached(sc, "echo", nil)

	require.NoError(t, err)
	assert.Equal(t, 4242, result.PID)
	assert.Equal(t, map[string]int{"echo": 4242}, s.Running())
}

// TestStop_NotRunningIsNoOp verifies stopping an idle daemon succeeds quietly
func TestStop_NotRunningIsNoOp(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	events := &mockEventLog{}
	pm := &mockProcessManager{}
	s := newTestSupervisor(reg, events, &mockLauncher{}, pm, nil)

	err := s.Stop(context.Background(), "echo")

	require.NoError(t, err)
	assert.Empty(t, pm.terminated)
	assert.Equal(t, []string{domain.OutcomeSkipped}, events.outcomes(domain.ActionStop))
}

// TestStop_TerminatesTrackedChild verifies graceful termination of a spawn
func TestStop_TerminatesTrackedChild(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	launcher := &mockLauncher{spawnPID: 4242}
	pm := &mockProcessManager{running: map[int]bool{4242: true}}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, pm, nil)

	sc := domain.NewSafetyContext("echo", false, true)
	_, err := s.StartDetached(sc, "echo", nil)
	require.NoError(t, err)

	err = s.Stop(context.Background(), "echo")

	require.NoError(t, err)
	assert.Equal(t, []int{4242}, pm.terminated)
	assert.Empty(t, pm.killed)
	assert.Empty(t, s.Running())
}

// TestStop_EscalatesToKill verifies the force kill after the grace period
func TestStop_EscalatesToKill(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"))}
	launcher := &mockLauncher{spawnPID: 4242}
	pm := &stubbornProcessManager{pid: 4242}
	s := NewSupervisor(reg, &mockEventLog{}, launcher, pm, nil, "/daemons", zap.NewNop())
	s.stopGrace = 20 * time.Millisecond

	sc := domain.NewSafetyContext("echo", false, true)
	_, err := s.StartDetached(sc, "echo", nil)
	require.NoError(t, err)

	err = s.Stop(context.Background(), "echo")

	require.NoError(t, err)
	assert.True(t, pm.killCalled)
}

// stubbornProcessManager ignores Terminate so stops must escalate.
type stubbornProcessManager struct {
	pid        int
	killCalled bool
}

func (m *stubbornProcessManager) FindByName(pattern string) ([]int, error) { return nil, nil }
func (m *stubbornProcessManager) Terminate(pid int) error                  { return nil }
func (m *stubbornProcessManager) Kill(pid int) error {
	m.killCalled = true
	return nil
}
func (m *stubbornProcessManager) IsRunning(pid int) bool { return !m.killCalled && pid == m.pid }

// TestStopAll_StopsEveryTrackedChild verifies shutdown drains the tracked set
func TestStopAll_StopsEveryTrackedChild(t *testing.T) {
	reg := &mockRegistry{state: stateWith(readyRecord("echo"), readyRecord("mirror"))}
	launcher := &mockLauncher{spawnPID: 4242}
	pm := &mockProcessManager{running: map[int]bool{4242: true}}
	s := newTestSupervisor(reg, &mockEventLog{}, launcher, pm, nil)

	sc := domain.NewSafetyContext("rhea", false, true)
	_, err := s.StartDetached(sc, "echo", nil)
	require.NoError(t, err)
	_, err = s.StartDetached(sc, "mirror", nil)
	require.NoError(t, err)

	s.StopAll(context.Background())

	assert.Empty(t, s.Running())
}
