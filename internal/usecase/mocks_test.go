package usecase

import (
	"context"
	"fmt"

	"github.com/rheahq/rhea/internal/domain"
)

// mockRegistry implements domain.RegistryStore for testing
type mockRegistry struct {
	state       *domain.RegistryState
	loadErr     error
	changes     []string
	saveErr     error
	saved       bool
	savedBackup bool
}

func (m *mockRegistry) Load() (*domain.RegistryState, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.state == nil {
		return domain.NewRegistryState(), nil
	}
	return m.state, nil
}

func (m *mockRegistry) Reconcile(state *domain.RegistryState, discovered []domain.DaemonRecord) []string {
	return m.changes
}

func (m *mockRegistry) Save(state *domain.RegistryState, backup bool) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = true
	m.savedBackup = backup
	return nil
}

func (m *mockRegistry) Path() string {
	return "/tmp/registry.json"
}

// mockEventLog implements domain.EventLog for testing
type mockEventLog struct {
	recorded  []domain.EventEntry
	entries   []domain.EventEntry
	recordErr error
}

func (m *mockEventLog) Record(e domain.EventEntry) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.recorded = append(m.recorded, e)
	return nil
}

func (m *mockEventLog) Entries(filter domain.EventFilter) ([]domain.EventEntry, error) {
	return m.entries, nil
}

func (m *mockEventLog) Follow(ctx context.Context, filter domain.EventFilter, fn func(domain.EventEntry)) error {
	return nil
}

func (m *mockEventLog) Path() string {
	return "/tmp/events.jsonl"
}

// outcomes returns the recorded outcomes for an action, in order.
func (m *mockEventLog) outcomes(action string) []string {
	var out []string
	for _, e := range m.recorded {
		if e.Action == action {
			out = append(out, e.Outcome)
		}
	}
	return out
}

// mockLauncher implements domain.Launcher for testing
type mockLauncher struct {
	runCode  int
	runErr   error
	ran      []domain.LaunchSpec
	spawnPID int
	spawnErr error
	spawned  []domain.LaunchSpec
}

func (m *mockLauncher) Run(ctx context.Context, spec domain.LaunchSpec) (int, error) {
	if m.runErr != nil {
		return -1, m.runErr
	}
	m.ran = append(m.ran, spec)
	return m.runCode, nil
}

func (m *mockLauncher) Spawn(spec domain.LaunchSpec) (int, error) {
	if m.spawnErr != nil {
		return 0, m.spawnErr
	}
	m.spawned = append(m.spawned, spec)
	return m.spawnPID, nil
}

// mockProcessManager implements domain.ProcessManager for testing
type mockProcessManager struct {
	findResult map[string][]int
	running    map[int]bool
	terminated []int
	killed     []int
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	if m.findResult != nil {
		return m.findResult[pattern], nil
	}
	return nil, nil
}

func (m *mockProcessManager) Terminate(pid int) error {
	m.terminated = append(m.terminated, pid)
	if m.running != nil {
		m.running[pid] = false
	}
	return nil
}

func (m *mockProcessManager) Kill(pid int) error {
	m.killed = append(m.killed, pid)
	if m.running != nil {
		m.running[pid] = false
	}
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	if m.running != nil {
		return m.running[pid]
	}
	return false
}

// mockSecretStore implements domain.SecretStore for testing
type mockSecretStore struct {
	secrets map[string]string
}

func (m *mockSecretStore) GetSecret(key string) (string, error) {
	v, ok := m.secrets[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return v, nil
}

func (m *mockSecretStore) SetSecret(key, value string) error {
	if m.secrets == nil {
		m.secrets = make(map[string]string)
	}
	m.secrets[key] = value
	return nil
}

func (m *mockSecretStore) ListSecrets() ([]string, error) {
	keys := make([]string, 0, len(m.secrets))
	for k := range m.secrets {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *mockSecretStore) Close() error {
	return nil
}

// mockSource implements domain.DaemonSource for testing
type mockSource struct {
	records     []domain.DaemonRecord
	discoverErr error
}

func (m *mockSource) Discover() ([]domain.DaemonRecord, error) {
	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	return m.records, nil
}

func (m *mockSource) Describe(name string) (*domain.DaemonRecord, error) {
	for i := range m.records {
		if m.records[i].Key() == name {
			return &m.records[i], nil
		}
	}
	return nil, nil
}

// mockFileSystemManager implements domain.FileSystemManager for testing
type mockFileSystemManager struct {
	dirs      map[string][]string // dir path -> entries
	removeErr map[string]error
	removed   []string
}

func (m *mockFileSystemManager) Exists(path string) bool {
	_, ok := m.dirs[path]
	return ok
}

func (m *mockFileSystemManager) IsDir(path string) bool {
	_, ok := m.dirs[path]
	return ok
}

func (m *mockFileSystemManager) ListDir(path string) ([]string, error) {
	return m.dirs[path], nil
}

func (m *mockFileSystemManager) Remove(path string) error {
	if err := m.removeErr[path]; err != nil {
		return err
	}
	m.removed = append(m.removed, path)
	return nil
}

func (m *mockFileSystemManager) ExpandHome(path string) string {
	return path // No expansion in tests
}

// mockProber implements domain.CapabilityProber for testing
type mockProber struct {
	caps   map[string]domain.CapabilitySet
	health map[string]domain.HealthReport
}

func (m *mockProber) Capabilities(rec domain.DaemonRecord) domain.CapabilitySet {
	return m.caps[rec.Key()]
}

func (m *mockProber) Healthcheck(ctx context.Context, rec domain.DaemonRecord) domain.HealthReport {
	if r, ok := m.health[rec.Key()]; ok {
		return r
	}
	return domain.HealthReport{Daemon: rec.Name, Status: domain.HealthUnknown}
}

func (m *mockProber) SelfDescribe(ctx context.Context, rec domain.DaemonRecord) (map[string]any, error) {
	return nil, nil
}

// readyRecord builds a minimal runnable record for tests.
func readyRecord(name string) domain.DaemonRecord {
	return domain.DaemonRecord{
		Name:        name,
		Path:        name + "/" + name + ".py",
		Role:        "Test",
		SafetyLevel: domain.SafetyNormal,
		Status:      domain.StatusReady,
		Enabled:     true,
		Tags:        []string{},
		Env:         map[string]string{},
		Start: domain.StartSpec{
			Type: domain.StartInterpreter,
			Args: []string{name + "/" + name + ".py"},
		},
	}
}

// stateWith builds a registry state holding the given records.
func stateWith(records ...domain.DaemonRecord) *domain.RegistryState {
	state := domain.NewRegistryState()
	for _, rec := range records {
		state.Daemons[rec.Key()] = rec
	}
	return state
}
