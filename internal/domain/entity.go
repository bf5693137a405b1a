// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// SafetyLevel classifies the side-effect risk of a daemon.
type SafetyLevel string

const (
	SafetyNormal      SafetyLevel = "normal"
	SafetyMutating    SafetyLevel = "mutating"
	SafetyDestructive SafetyLevel = "destructive"
)

// DaemonStatus describes what discovery found for a daemon directory.
type DaemonStatus string

const (
	// StatusReady means an executable entry point was found.
	StatusReady DaemonStatus = "ready"
	// StatusMetaOnly means only sidecar manifest files exist.
	StatusMetaOnly DaemonStatus = "meta-only"
	// StatusMissing means neither a script nor manifests were found.
	StatusMissing DaemonStatus = "missing"
)

// Start descriptor types.
const (
	StartInterpreter = "interpreter"
	StartShell       = "shell"
)

// StartSpec describes how to launch a daemon process.
type StartSpec struct {
	Type string   `json:"type"`
	Args []string `json:"args"`
}

// DaemonRecord represents one discoverable unit of automation.
// Name is case-preserved but compared case-insensitively everywhere.
type DaemonRecord struct {
	Name        string            `json:"name"`
	Path        string            `json:"path"` // relative to the daemons root
	Role        string            `json:"role"`
	SafetyLevel SafetyLevel       `json:"safety_level"`
	Status      DaemonStatus      `json:"status"`
	Enabled     bool              `json:"enabled"`
	Tags        []string          `json:"tags"`
	Team        string            `json:"team,omitempty"`
	Group       string            `json:"group,omitempty"`
	Env         map[string]string `json:"env"`
	Start       StartSpec         `json:"start"`
}

// Key returns the case-insensitive identity of the record.
func (r DaemonRecord) Key() string {
	return strings.ToLower(r.Name)
}

// Task is a scheduled command descriptor stored in the registry.
// Cron is a 5-field cron expression; empty means the task never fires
// automatically.
type Task struct {
	Name   string `json:"name"`
	Target string `json:"target"` // daemon name the task runs against
	Cmd    string `json:"cmd"`
	Cron   string `json:"cron,omitempty"`
}

// RegistryState is the aggregate root persisted as a single JSON document.
// Teams and Groups are derived views recomputed on every reconcile; they are
// never edited independently.
type RegistryState struct {
	Version int                     `json:"version"`
	Daemons map[string]DaemonRecord `json:"daemons"`
	Teams   map[string][]string     `json:"teams"`
	Groups  map[string][]string     `json:"groups"`
	Pairs   [][]string              `json:"pairs"`
	Tasks   []Task                  `json:"tasks"`
}

// NewRegistryState returns a well-typed empty state.
func NewRegistryState() *RegistryState {
	return &RegistryState{
		Version: 1,
		Daemons: make(map[string]DaemonRecord),
		Teams:   make(map[string][]string),
		Groups:  make(map[string][]string),
		Pairs:   [][]string{},
		Tasks:   []Task{},
	}
}

// Lookup finds a record by case-insensitive name. The returned string is the
// map key under which the record is stored.
func (s *RegistryState) Lookup(name string) (string, *DaemonRecord) {
	want := strings.ToLower(name)
	for key, rec := range s.Daemons {
		if strings.ToLower(key) == want {
			r := rec
			return key, &r
		}
	}
	return "", nil
}

// Event actions recorded in the event log.
const (
	ActionLaunch     = "launch"
	ActionWatch      = "watch"
	ActionStop       = "stop"
	ActionDelete     = "delete"
	ActionPlanDelete = "plan_delete"
	ActionScan       = "scan"
	ActionHeartbeat  = "heartbeat"
	ActionTask       = "task"
)

// Event outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomePlanned  = "planned"
	OutcomeNonEmpty = "non_empty"
	OutcomeSkipped  = "skipped"
)

// EventEntry is one immutable line of the append-only event log.
// Extra keys are merged into the top-level JSON object on serialization.
type EventEntry struct {
	Timestamp string         `json:"ts"`
	Daemon    string         `json:"daemon"`
	Action    string         `json:"action"`
	Target    string         `json:"target"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Extra     map[string]any `json:"-"`
}

// NewEvent builds an entry stamped with the current UTC time.
func NewEvent(daemon, action, target, outcome string) EventEntry {
	return EventEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Daemon:    daemon,
		Action:    action,
		Target:    target,
		Outcome:   outcome,
	}
}

// WithError attaches an error message to the entry.
func (e EventEntry) WithError(err error) EventEntry {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithExtra attaches a free-form key to the entry.
func (e EventEntry) WithExtra(key string, value any) EventEntry {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = value
	return e
}

// reservedEventKeys are the fixed entry fields; extra keys never shadow them.
var reservedEventKeys = map[string]bool{
	"ts": true, "daemon": true, "action": true,
	"target": true, "outcome": true, "error": true,
}

// MarshalJSON flattens Extra into the top-level object.
func (e EventEntry) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"ts":      e.Timestamp,
		"daemon":  e.Daemon,
		"action":  e.Action,
		"target":  e.Target,
		"outcome": e.Outcome,
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	for k, v := range e.Extra {
		if !reservedEventKeys[k] {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON collects unknown top-level keys back into Extra.
func (e *EventEntry) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	str := func(key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}
	e.Timestamp = str("ts")
	e.Daemon = str("daemon")
	e.Action = str("action")
	e.Target = str("target")
	e.Outcome = str("outcome")
	e.Error = str("error")
	e.Extra = nil
	for k, v := range m {
		if reservedEventKeys[k] {
			continue
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[k] = v
	}
	return nil
}

// HealthStatus is a daemon's self-reported health.
type HealthStatus string

const (
	HealthOK      HealthStatus = "ok"
	HealthWarn    HealthStatus = "warn"
	HealthFail    HealthStatus = "fail"
	HealthUnknown HealthStatus = "unknown"
)

// HealthReport is the result of one capability-probe health check.
type HealthReport struct {
	Daemon string       `json:"daemon"`
	Status HealthStatus `json:"status"`
	Notes  string       `json:"notes,omitempty"`
}

// CapabilitySet declares which optional entry points a daemon supports,
// as read from its sidecar capability manifest.
type CapabilitySet struct {
	Describe    bool     `json:"describe"`
	Healthcheck bool     `json:"healthcheck"`
	Run         bool     `json:"run"`
	Flags       []string `json:"flags,omitempty"`
}
