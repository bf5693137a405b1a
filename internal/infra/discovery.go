package infra

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rheahq/rhea/internal/domain"
)

// infraFolders are skipped during discovery: version control, virtualenvs,
// caches, tooling-self, and staging folders.
var infraFolders = map[string]bool{
	".git":          true,
	".hg":           true,
	".venv":         true,
	"venv":          true,
	"__pycache__":   true,
	".mypy_cache":   true,
	".pytest_cache": true,
	"node_modules":  true,
	".rhea":         true,
	"_staging":      true,
	"_incoming":     true,
}

// sidecarSuffixes are the recognized manifest file suffixes, checked in
// order for a role/description field.
var sidecarSuffixes = []string{"role", "function", "mirror", "voice"}

// safetyTable classifies known daemons by side-effect risk. Anything not
// listed defaults to normal.
var safetyTable = map[string]domain.SafetyLevel{
	"filemover":  domain.SafetyMutating,
	"inboxsweep": domain.SafetyMutating,
	"prmerge":    domain.SafetyMutating,
	"vpnkeeper":  domain.SafetyMutating,
	"reaper":     domain.SafetyDestructive,
	"vaultpurge": domain.SafetyDestructive,
}

// FilesystemSource implements domain.DaemonSource by reading directory and
// sidecar-manifest metadata. It never executes candidate scripts.
type FilesystemSource struct {
	daemonsRoot string
}

// NewFilesystemSource creates a source rooted at the daemons directory.
func NewFilesystemSource(daemonsRoot string) *FilesystemSource {
	return &FilesystemSource{daemonsRoot: daemonsRoot}
}

// Root returns the daemons directory this source scans.
func (s *FilesystemSource) Root() string {
	return s.daemonsRoot
}

// Discover scans immediate subdirectories of the daemons root and extracts
// one record per daemon, sorted by directory name.
func (s *FilesystemSource) Discover() ([]domain.DaemonRecord, error) {
	entries, err := os.ReadDir(s.daemonsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || infraFolders[strings.ToLower(entry.Name())] {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	records := make([]domain.DaemonRecord, 0, len(names))
	for _, name := range names {
		records = append(records, s.extract(name))
	}
	return records, nil
}

// Describe looks up a single daemon by case-insensitive name match.
// Returns (nil, nil) when no matching directory exists.
func (s *FilesystemSource) Describe(name string) (*domain.DaemonRecord, error) {
	entries, err := os.ReadDir(s.daemonsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() || infraFolders[strings.ToLower(entry.Name())] {
			continue
		}
		if strings.EqualFold(entry.Name(), name) {
			rec := s.extract(entry.Name())
			return &rec, nil
		}
	}
	return nil, nil
}

// extract builds the record for one daemon directory.
func (s *FilesystemSource) extract(dirName string) domain.DaemonRecord {
	dir := filepath.Join(s.daemonsRoot, dirName)
	lower := strings.ToLower(dirName)

	rec := domain.DaemonRecord{
		Name:        dirName,
		Role:        "Unknown",
		SafetyLevel: domain.SafetyNormal,
		Status:      domain.StatusMissing,
		Tags:        []string{},
		Env:         map[string]string{},
	}

	if level, ok := safetyTable[lower]; ok {
		rec.SafetyLevel = level
	}

	if script := s.findPrimaryScript(dir, lower); script != "" {
		rel, err := filepath.Rel(s.daemonsRoot, script)
		if err != nil {
			rel = script
		}
		rec.Path = rel
		rec.Status = domain.StatusReady
		rec.Start = domain.StartSpec{
			Type: domain.StartInterpreter,
			Args: []string{rel},
		}
	} else {
		// No entry point. The record still carries a non-empty path (the
		// daemon directory) so it validates; enabled stays false and the
		// supervisor refuses to launch non-ready records.
		rec.Path = dirName
		rec.Start = domain.StartSpec{
			Type: domain.StartInterpreter,
			Args: []string{dirName},
		}
	}

	if role, found := s.readSidecarRole(dir, lower); found {
		rec.Role = role
		if rec.Status == domain.StatusMissing {
			rec.Status = domain.StatusMetaOnly
		}
	}

	rec.Enabled = rec.Status == domain.StatusReady
	return rec
}

// findPrimaryScript resolves the daemon's entry point: the eponymous script
// in scripts/ or the directory itself, then any single script present, then
// the first script whose stem contains the directory name.
func (s *FilesystemSource) findPrimaryScript(dir, lower string) string {
	// scripts/ takes priority over the directory itself.
	scripts := listScripts(filepath.Join(dir, secondaryDaemonFolder))
	scripts = append(scripts, listScripts(dir)...)

	for _, script := range scripts {
		stem, _ := splitScript(filepath.Base(script))
		if stem == lower || stem == lower+"-main" {
			return script
		}
	}
	if len(scripts) == 1 {
		return scripts[0]
	}
	for _, script := range scripts {
		stem, _ := splitScript(filepath.Base(script))
		if strings.Contains(stem, lower) {
			return script
		}
	}
	return ""
}

// readSidecarRole checks the manifest files <name>.<suffix>.json for a
// role, description, or name field. Unparseable JSON is treated as absent
// metadata, not an error.
func (s *FilesystemSource) readSidecarRole(dir, lower string) (string, bool) {
	anyManifest := false
	for _, suffix := range sidecarSuffixes {
		path := filepath.Join(dir, lower+"."+suffix+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		anyManifest = true

		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		for _, field := range []string{"role", "description", "name"} {
			if v, ok := m[field].(string); ok && v != "" {
				return v, true
			}
		}
	}
	if anyManifest {
		return "Unknown", true
	}
	return "", false
}

// listScripts returns recognized script files directly inside dir, sorted.
func listScripts(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ext := splitScript(entry.Name()); ext != "" {
			scripts = append(scripts, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(scripts)
	return scripts
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Ensure FilesystemSource implements domain.DaemonSource.
var _ domain.DaemonSource = (*FilesystemSource)(nil)
