package envforge

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

////////////////////////////////////////////////////////////////////////////////
// Workspace store (disk): one dir per acquired repo + provisioning artifacts
////////////////////////////////////////////////////////////////////////////////

type WorkspaceStore interface {
	Root() string
	RepoDir(name string) string
	EnsureRoot() (string, error)
	WriteFile(relPath string, data []byte) (string, error) // returns relative path
	WriteExecutable(relPath string, data []byte) (string, error)
	ListFiles() ([]string, error) // returns relative paths
	ReadFile(relPath string) ([]byte, error)
}

type FSWorkspace struct {
	root string
}

func NewFSWorkspace(root string) *FSWorkspace {
	return &FSWorkspace{root: root}
}

func (w *FSWorkspace) Root() string {
	return w.root
}

func (w *FSWorkspace) RepoDir(name string) string {
	return filepath.Join(w.root, name)
}

func (w *FSWorkspace) EnsureRoot() (string, error) {
	if err := os.MkdirAll(w.root, dirModePrivateRead); err != nil {
		return "", err
	}
	return w.root, nil
}

func (w *FSWorkspace) WriteFile(relPath string, data []byte) (string, error) {
	return w.writeFileMode(relPath, data, fileModePrivate)
}

// WriteExecutable writes a file with the permission bits an entrypoint script
// needs before it can be handed to the container runtime.
func (w *FSWorkspace) WriteExecutable(relPath string, data []byte) (string, error) {
	rel, err := w.writeFileMode(relPath, data, fileModeEntrypoint)
	if err != nil {
		return "", err
	}
	chmodErr := os.Chmod(filepath.Join(w.root, filepath.FromSlash(rel)), fileModeEntrypoint)
	if chmodErr != nil {
		return "", chmodErr
	}
	return rel, nil
}

func (w *FSWorkspace) writeFileMode(relPath string, data []byte, mode os.FileMode) (string, error) {
	if _, err := w.EnsureRoot(); err != nil {
		return "", err
	}
	relPath = filepath.Clean(relPath)
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", errors.New("invalid relPath")
	}
	full := filepath.Join(w.root, relPath)
	mkdirErr := os.MkdirAll(filepath.Dir(full), dirModePrivateRead)
	if mkdirErr != nil {
		return "", mkdirErr
	}
	writeErr := os.WriteFile(full, data, mode)
	if writeErr != nil {
		return "", writeErr
	}
	return filepath.ToSlash(relPath), nil
}

func (w *FSWorkspace) ListFiles() ([]string, error) {
	var files []string
	_, err := os.Stat(w.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	err = filepath.WalkDir(w.root, func(p string, d fs.DirEntry, _ error) error {
		if d == nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, relPath(w.root, p))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (w *FSWorkspace) ReadFile(relPath string) ([]byte, error) {
	relPath = filepath.Clean(relPath)
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return nil, errors.New("invalid relPath")
	}
	full, err := securejoin.SecureJoin(w.root, relPath)
	if err != nil {
		return nil, errors.New("invalid relPath")
	}
	// #nosec G703 -- full path is constrained by relPath guards and securejoin above.
	return os.ReadFile(full)
}
