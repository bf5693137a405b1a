package infra

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rheahq/rhea/internal/domain"
)

// FileSystemManagerImpl implements domain.FileSystemManager.
// Remove never recurses; a populated directory is an error.
type FileSystemManagerImpl struct {
	homeDir string
}

// NewFileSystemManager creates a new filesystem manager.
func NewFileSystemManager() domain.FileSystemManager {
	home, _ := os.UserHomeDir()
	return &FileSystemManagerImpl{homeDir: home}
}

// NewFileSystemManagerWithHome creates a filesystem manager with custom home (for testing).
func NewFileSystemManagerWithHome(home string) domain.FileSystemManager {
	return &FileSystemManagerImpl{homeDir: home}
}

// Exists checks if a path exists.
func (fm *FileSystemManagerImpl) Exists(path string) bool {
	_, err := os.Stat(fm.ExpandHome(path))
	return err == nil
}

// IsDir checks if a path is a directory.
func (fm *FileSystemManagerImpl) IsDir(path string) bool {
	info, err := os.Stat(fm.ExpandHome(path))
	return err == nil && info.IsDir()
}

// ListDir returns the names of a directory's immediate entries.
func (fm *FileSystemManagerImpl) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(fm.ExpandHome(path))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// Remove deletes a single file or empty directory.
func (fm *FileSystemManagerImpl) Remove(path string) error {
	return os.Remove(fm.ExpandHome(path))
}

// ExpandHome expands ~ to the user's home directory.
func (fm *FileSystemManagerImpl) ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(fm.homeDir, path[2:])
	}
	if path == "~" {
		return fm.homeDir
	}
	return path
}

// Ensure FileSystemManagerImpl implements domain.FileSystemManager.
var _ domain.FileSystemManager = (*FileSystemManagerImpl)(nil)
