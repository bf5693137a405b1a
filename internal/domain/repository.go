package domain

import (
	"context"
	"errors"
)

// ErrNotRunnable is returned when a launch is refused because the daemon is
// unknown, disabled, or has no usable entry point.
var ErrNotRunnable = errors.New("daemon not runnable")

// DaemonSource discovers daemons from the filesystem.
// Implementation: metadata extraction from directory and sidecar manifests;
// never executes candidate scripts.
type DaemonSource interface {
	// Discover returns records for every daemon directory under the daemons
	// root, sorted by name. Case-insensitive directory collisions keep the
	// first directory in sort order.
	Discover() ([]DaemonRecord, error)

	// Describe looks up a single daemon by case-insensitive name.
	// Returns (nil, nil) when no matching directory exists.
	Describe(name string) (*DaemonRecord, error)
}

// RegistryStore persists the registry document.
// Implementation: single JSON file with schema validation and timestamped
// backups; load self-heals corrupt substructures to empty defaults.
type RegistryStore interface {
	// Load reads the registry file, substituting well-typed empty defaults
	// for any corrupt top-level substructure. A missing file yields an empty
	// state, never an error.
	Load() (*RegistryState, error)

	// Reconcile merges freshly discovered records into the state without
	// discarding user-set fields, disables records whose script vanished,
	// and recomputes the derived team/group views. Returns human-readable
	// change-log lines; idempotent when nothing changed.
	Reconcile(state *RegistryState, discovered []DaemonRecord) []string

	// Save validates the full state against the schema and writes it
	// atomically. With backup true an existing file is copied to a
	// timestamped backup first. A validation failure aborts the write.
	Save(state *RegistryState, backup bool) error

	// Path returns the registry file path.
	Path() string
}

// EventFilter selects event log entries by substring match.
type EventFilter struct {
	Daemon string
	Action string
}

// EventLog is the append-only JSONL audit trail. Every lifecycle action
// writes one line to the shared bus and one to the per-daemon mirror.
type EventLog interface {
	// Record appends the entry; failures are returned but callers treat
	// them as non-fatal.
	Record(e EventEntry) error

	// Entries reads the shared bus from the start, skipping unparseable
	// lines, and returns entries matching the filter in file order.
	Entries(filter EventFilter) ([]EventEntry, error)

	// Follow streams matching entries, then polls for new lines until the
	// context is canceled.
	Follow(ctx context.Context, filter EventFilter, fn func(EventEntry)) error

	// Path returns the shared bus file path.
	Path() string
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// FindByName returns PIDs of processes matching the pattern.
	FindByName(pattern string) ([]int, error)

	// Terminate sends a graceful termination signal.
	Terminate(pid int) error

	// Kill force-kills a process by PID.
	Kill(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool
}

// LaunchSpec is a fully resolved child process invocation.
type LaunchSpec struct {
	Name string
	Argv []string
	Dir  string
	Env  map[string]string // overrides merged on top of the current environment
}

// Launcher spawns child processes.
type Launcher interface {
	// Run starts the process, waits for it, and returns the exit code.
	Run(ctx context.Context, spec LaunchSpec) (int, error)

	// Spawn starts the process detached and returns its PID.
	Spawn(spec LaunchSpec) (int, error)
}

// FileSystemManager handles the filesystem primitives the janitor needs.
type FileSystemManager interface {
	// Exists checks if a path exists.
	Exists(path string) bool

	// IsDir checks if a path is a directory.
	IsDir(path string) bool

	// ListDir returns the names of a directory's immediate entries.
	ListDir(path string) ([]string, error)

	// Remove deletes a single file or empty directory. It never recurses.
	Remove(path string) error

	// ExpandHome expands ~ to the user's home directory.
	ExpandHome(path string) string
}

// CapabilityProber checks which optional entry points a daemon exposes and
// invokes them as subprocesses. No in-process loading of daemon code.
type CapabilityProber interface {
	// Capabilities reads the daemon's sidecar capability manifest. A missing
	// or unparseable manifest yields the zero set.
	Capabilities(rec DaemonRecord) CapabilitySet

	// Healthcheck invokes the daemon's healthcheck entry point under a
	// timeout. A daemon without the capability reports HealthUnknown; an
	// invocation failure reports HealthWarn with the error as notes.
	Healthcheck(ctx context.Context, rec DaemonRecord) HealthReport

	// SelfDescribe invokes the daemon's describe entry point and returns
	// the parsed JSON object.
	SelfDescribe(ctx context.Context, rec DaemonRecord) (map[string]any, error)
}

// KeyProvider abstracts the source of encryption keys for the secret store.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// SecretStore provides encrypted persistent storage for launch-time secrets
// referenced from registry env maps as "secret:KEY".
type SecretStore interface {
	// GetSecret retrieves a secret by key.
	GetSecret(key string) (string, error)

	// SetSecret stores a secret.
	SetSecret(key, value string) error

	// ListSecrets returns all stored secret keys (never values).
	ListSecrets() ([]string, error)

	// Close releases resources (e.g., database connection).
	Close() error
}
