package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for repository paths that would land outside the
// storage root.
var ErrUnsafePath = errors.New("path escapes storage root")

// Manager writes downloaded content under one root directory
type Manager struct {
	root string
}

// NewManager creates a manager rooted at root. The directory is created on
// the first write.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// RepoPath maps a slash-separated repository path to its local location,
// root/owner/repo/relPath. Leading slashes are dropped and any ".." segment
// is rejected.
func (m *Manager) RepoPath(owner, repo, relPath string) (string, error) {
	for _, part := range []string{owner, repo} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, owner+"/"+repo)
		}
	}

	rel := strings.ReplaceAll(relPath, `\`, "/")
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrUnsafePath, relPath)
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if clean == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	return filepath.Join(m.root, owner, repo, filepath.FromSlash(clean)), nil
}

// Save writes r to target through a temporary file and an atomic rename.
// It returns the number of bytes written.
func (m *Manager) Save(target string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := target + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	n, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}
	// a stale marker from an earlier failed attempt no longer applies
	os.Remove(ErrorMarkerPath(target))

	return n, nil
}

// ErrorMarkerPath is where a failed download leaves its marker.
func ErrorMarkerPath(target string) string {
	return target + ".error"
}

// MarkFailed records cause next to target so a later look at the tree shows
// which files are missing and why.
func (m *Manager) MarkFailed(target string, cause error) error {
	marker := ErrorMarkerPath(target)
	if err := os.MkdirAll(filepath.Dir(marker), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(marker, []byte("Error downloading: "+cause.Error()), 0644); err != nil {
		return fmt.Errorf("failed to write error marker: %w", err)
	}
	return nil
}
