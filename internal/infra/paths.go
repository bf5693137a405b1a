// Package infra implements infrastructure concerns (paths, discovery,
// registry, event log, processes, secrets).
package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment overrides honored by the path resolver.
const (
	EnvRoot       = "RHEA_ROOT"
	EnvWorkRoot   = "RHEA_WORK"
	EnvDaemonsDir = "RHEA_DAEMONS"
)

// Conventional folder names tried when no override is set.
const (
	primaryDaemonFolder   = "daemons"
	secondaryDaemonFolder = "scripts"
	defaultWorkFolder     = ".rhea"
)

// scriptExtensions are the recognized daemon entry point extensions.
var scriptExtensions = []string{".py", ".sh"}

// ResolveRoot determines the workspace root. Resolution order: explicit env
// override if the path exists, upward walk from the executable location,
// upward walk from the working directory, then the working directory itself.
// Never fails; a bad override degrades to the fallback with a printed
// warning.
func ResolveRoot() string {
	if v := os.Getenv(EnvRoot); v != "" {
		if dirExists(v) {
			return filepath.Clean(v)
		}
		fmt.Fprintf(os.Stderr, "warning: %s=%s does not exist, falling back\n", EnvRoot, v)
	}

	if exe, err := os.Executable(); err == nil {
		if root := ascendToRoot(filepath.Dir(exe)); root != "" {
			return root
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root := ascendToRoot(wd); root != "" {
		return root
	}
	return wd
}

// ResolveWorkRoot determines where mutable runtime artifacts (registry,
// logs, secrets) live, independent of where source scripts live.
func ResolveWorkRoot(root string) string {
	if v := os.Getenv(EnvWorkRoot); v != "" {
		return filepath.Clean(v)
	}
	return filepath.Join(root, defaultWorkFolder)
}

// ResolveDaemonDir determines the daemon-scripts directory. Candidates are
// tried in priority order; the first that exists and looks populated wins.
// If none look populated the first existing candidate is returned rather
// than failing outright.
func ResolveDaemonDir(root string) string {
	candidates := []string{}
	if v := os.Getenv(EnvDaemonsDir); v != "" {
		candidates = append(candidates, filepath.Clean(v))
	}
	candidates = append(candidates,
		filepath.Join(root, primaryDaemonFolder),
		filepath.Join(root, secondaryDaemonFolder),
		root,
	)

	firstExisting := ""
	for _, c := range candidates {
		if !dirExists(c) {
			continue
		}
		if firstExisting == "" {
			firstExisting = c
		}
		if looksLikeDaemonHome(c) {
			return c
		}
	}
	if firstExisting != "" {
		return firstExisting
	}
	return candidates[len(candidates)-1]
}

// ascendToRoot walks upward from start looking for a directory that
// contains the conventional daemons subfolder.
func ascendToRoot(start string) string {
	dir := filepath.Clean(start)
	for {
		if dirExists(filepath.Join(dir, primaryDaemonFolder)) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// looksLikeDaemonHome checks that at least one immediate subdirectory
// contains a script named after the subdirectory (case-insensitive) or a
// recognized "-main" variant.
func looksLikeDaemonHome(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if hasEponymousScript(filepath.Join(dir, entry.Name()), entry.Name()) {
			return true
		}
	}
	return false
}

// hasEponymousScript reports whether dir directly contains a script named
// after name, e.g. "Echo/echo.py" or "Echo/echo-main.py".
func hasEponymousScript(dir, name string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	want := strings.ToLower(name)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		stem, ext := splitScript(entry.Name())
		if ext == "" {
			continue
		}
		if stem == want || stem == want+"-main" {
			return true
		}
	}
	return false
}

// splitScript lowercases the stem and returns the matched script extension,
// or "" when the file is not a recognized script.
func splitScript(filename string) (stem, ext string) {
	lower := strings.ToLower(filename)
	for _, e := range scriptExtensions {
		if strings.HasSuffix(lower, e) {
			return strings.TrimSuffix(lower, e), e
		}
	}
	return "", ""
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
