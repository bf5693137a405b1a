package infra

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/rheahq/rhea/internal/domain"
)

const (
	registryFileName = "registry.json"
	backupTimeFormat = "20060102-150405"
)

// FileRegistry implements domain.RegistryStore using a single JSON document.
// Every save validates the full state against the embedded schema and copies
// the prior file to a timestamped backup first; load self-heals corrupt
// substructures to well-typed empty defaults.
type FileRegistry struct {
	path        string
	daemonsRoot string
	schema      *jsonschema.Schema
	logger      *zap.Logger
}

// NewFileRegistry creates a registry store under the work root.
func NewFileRegistry(workRoot, daemonsRoot string, logger *zap.Logger) (*FileRegistry, error) {
	return NewFileRegistryWithPath(filepath.Join(workRoot, registryFileName), daemonsRoot, logger)
}

// NewFileRegistryWithPath creates a registry store at a specific path (for testing).
func NewFileRegistryWithPath(path, daemonsRoot string, logger *zap.Logger) (*FileRegistry, error) {
	schema, err := compileRegistrySchema()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileRegistry{
		path:        path,
		daemonsRoot: daemonsRoot,
		schema:      schema,
		logger:      logger,
	}, nil
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Load reads the registry file if present. Parse failures and type
// mismatches never fail the load: the offending substructure is replaced by
// a well-typed empty default.
func (r *FileRegistry) Load() (*domain.RegistryState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewRegistryState(), nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("registry file is not a JSON object, starting empty", zap.Error(err))
		return domain.NewRegistryState(), nil
	}
	return r.sanitize(raw), nil
}

// sanitize is the dedicated pass between raw deserialization and domain
// construction: each top-level key is type-checked independently and
// replaced with its empty default on mismatch.
func (r *FileRegistry) sanitize(raw map[string]json.RawMessage) *domain.RegistryState {
	state := domain.NewRegistryState()

	if v, ok := raw["version"]; ok {
		var version int
		if err := json.Unmarshal(v, &version); err == nil && version > 0 {
			state.Version = version
		} else {
			r.logger.Warn("registry version malformed, resetting to 1")
		}
	}

	if v, ok := raw["daemons"]; ok {
		var daemons map[string]json.RawMessage
		if err := json.Unmarshal(v, &daemons); err != nil {
			r.logger.Warn("registry daemons key malformed, resetting", zap.Error(err))
		} else {
			for name, rawRec := range daemons {
				var rec domain.DaemonRecord
				if err := json.Unmarshal(rawRec, &rec); err != nil {
					r.logger.Warn("dropping malformed daemon record", zap.String("name", name), zap.Error(err))
					continue
				}
				if rec.Name == "" {
					rec.Name = name
				}
				if rec.Tags == nil {
					rec.Tags = []string{}
				}
				if rec.Env == nil {
					rec.Env = map[string]string{}
				}
				state.Daemons[name] = rec
			}
		}
	}

	sanitizeGroups := func(key string, dst map[string][]string) {
		v, ok := raw[key]
		if !ok {
			return
		}
		var groups map[string][]string
		if err := json.Unmarshal(v, &groups); err != nil {
			r.logger.Warn("registry key malformed, resetting", zap.String("key", key), zap.Error(err))
			return
		}
		for name, members := range groups {
			if members == nil {
				members = []string{}
			}
			dst[name] = members
		}
	}
	sanitizeGroups("teams", state.Teams)
	sanitizeGroups("groups", state.Groups)

	if v, ok := raw["pairs"]; ok {
		var pairs [][]string
		if err := json.Unmarshal(v, &pairs); err != nil {
			r.logger.Warn("registry pairs key malformed, resetting", zap.Error(err))
		} else {
			for _, pair := range pairs {
				if len(pair) == 2 {
					state.Pairs = append(state.Pairs, pair)
				}
			}
		}
	}

	if v, ok := raw["tasks"]; ok {
		var tasks []domain.Task
		if err := json.Unmarshal(v, &tasks); err != nil {
			r.logger.Warn("registry tasks key malformed, resetting", zap.Error(err))
		} else {
			for _, task := range tasks {
				if task.Name != "" && task.Target != "" && task.Cmd != "" {
					state.Tasks = append(state.Tasks, task)
				}
			}
		}
	}

	return state
}

// Reconcile merges freshly discovered records into the state without
// discarding user-set fields. It returns human-readable change-log lines;
// an unchanged state returns none, so reconcile is idempotent.
//
// Collision policy: discovery returns records sorted by directory name, and
// the first record for a case-insensitive name wins; later collisions are
// logged and skipped.
func (r *FileRegistry) Reconcile(state *domain.RegistryState, discovered []domain.DaemonRecord) []string {
	var changes []string

	seen := make(map[string]bool, len(discovered))
	for _, disc := range discovered {
		if seen[disc.Key()] {
			// Not a change line: the skip repeats on every run and would
			// break reconcile idempotency if reported as one.
			r.logger.Warn("case-insensitive name collision, first directory wins",
				zap.String("skipped", disc.Name))
			continue
		}
		seen[disc.Key()] = true

		key, existing := state.Lookup(disc.Name)
		if existing == nil {
			state.Daemons[disc.Name] = disc
			changes = append(changes, fmt.Sprintf("added %s", disc.Name))
			continue
		}

		updated := *existing
		var fields []string
		if existing.Path != disc.Path && disc.Path != "" {
			updated.Path = disc.Path
			updated.Start = disc.Start
			fields = append(fields, "path", "start")
		}
		if existing.Role != disc.Role && disc.Role != "Unknown" {
			updated.Role = disc.Role
			fields = append(fields, "role")
		}
		if existing.SafetyLevel != disc.SafetyLevel {
			updated.SafetyLevel = disc.SafetyLevel
			fields = append(fields, "safety_level")
		}
		if existing.Status != disc.Status {
			updated.Status = disc.Status
			fields = append(fields, "status")
		}
		if existing.Team != disc.Team && disc.Team != "" {
			updated.Team = disc.Team
			fields = append(fields, "team")
		}
		if existing.Group != disc.Group && disc.Group != "" {
			updated.Group = disc.Group
			fields = append(fields, "group")
		}
		if len(fields) > 0 {
			state.Daemons[key] = updated
			changes = append(changes, fmt.Sprintf("updated %s: %s", existing.Name, strings.Join(fields, ", ")))
		}
	}

	// Disable (never delete) records whose script vanished from disk.
	for key, rec := range state.Daemons {
		if rec.Path == "" {
			continue
		}
		if fileExists(filepath.Join(r.daemonsRoot, rec.Path)) {
			continue
		}
		if rec.Enabled {
			rec.Enabled = false
			state.Daemons[key] = rec
			changes = append(changes, fmt.Sprintf("disabled %s: script %s missing", rec.Name, rec.Path))
		}
	}

	r.recomputeCohorts(state)
	return changes
}

// recomputeCohorts derives the teams and groups mappings from the current
// record fields, dropping cohorts with zero members.
func (r *FileRegistry) recomputeCohorts(state *domain.RegistryState) {
	teams := make(map[string][]string)
	groups := make(map[string][]string)
	for _, rec := range state.Daemons {
		if rec.Team != "" {
			teams[rec.Team] = append(teams[rec.Team], rec.Name)
		}
		if rec.Group != "" {
			groups[rec.Group] = append(groups[rec.Group], rec.Name)
		}
	}
	for _, members := range teams {
		sort.Strings(members)
	}
	for _, members := range groups {
		sort.Strings(members)
	}
	state.Teams = teams
	state.Groups = groups
}

// Save validates the state and persists it atomically. Validation failure
// aborts the write and surfaces every violation; the on-disk file is left
// untouched. With backup true an existing file is first copied to
// registry.json.bak-<timestamp>.
func (r *FileRegistry) Save(state *domain.RegistryState, backup bool) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := r.validate(data); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}

	if backup && fileExists(r.path) {
		backupPath := fmt.Sprintf("%s.bak-%s", r.path, time.Now().Format(backupTimeFormat))
		if err := copyFile(r.path, backupPath); err != nil {
			return fmt.Errorf("backup registry: %w", err)
		}
		r.logger.Info("registry backed up", zap.String("backup", backupPath))
	}

	return atomicWrite(r.path, append(data, '\n'))
}

// validate runs the serialized document through the registry schema.
func (r *FileRegistry) validate(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reparse registry for validation: %w", err)
	}
	if err := r.schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &SchemaViolations{Violations: flattenValidationError(verr)}
		}
		return err
	}
	return nil
}

// atomicWrite writes data via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// copyFile copies src to dst, creating dst's directory if needed.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Ensure FileRegistry implements domain.RegistryStore.
var _ domain.RegistryStore = (*FileRegistry)(nil)
