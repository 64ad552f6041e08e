package vault

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"chatvault/internal/arc"
	"chatvault/internal/fs"
)

// FileSystemVault is a filesystem-based implementation of arc.Vault,
// typically pointed at a mounted backup disk. Layout:
//
//	<root>/
//	  snapshots/
//	    <instanceID>/
//	      <name>          (snapshot bytes)
//	      <name>.version  (decimal run id)
type FileSystemVault struct {
	name         string
	root         string
	snapshotsDir string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	snapshotsDir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	return &FileSystemVault{
		name:         name,
		root:         root,
		snapshotsDir: snapshotsDir,
	}, nil
}

func (v *FileSystemVault) path(instanceID, name string) (string, error) {
	key, err := snapshotKey(instanceID, name)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.snapshotsDir, filepath.FromSlash(key)), nil
}

// PutSnapshot writes the snapshot atomically, then its version file. A reader
// that sees the new version therefore always finds the new bytes.
func (v *FileSystemVault) PutSnapshot(instanceID, name string, r io.Reader, size int64, version int64) error {
	destPath, err := v.path(instanceID, name)
	if err != nil {
		return err
	}

	if err := fs.WriteAtomicSized(destPath, r, size); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", name, err)
	}

	versionData := strconv.FormatInt(version, 10)
	if err := fs.WriteFileAtomic(destPath+versionSuffix, []byte(versionData)); err != nil {
		return fmt.Errorf("writing snapshot version: %w", err)
	}
	return nil
}

// GetSnapshotVersion returns the snapshot version, 0 if no version file exists.
func (v *FileSystemVault) GetSnapshotVersion(instanceID, name string) (int64, error) {
	p, err := v.path(instanceID, name)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(p + versionSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// GetSnapshot writes the named snapshot to w.
func (v *FileSystemVault) GetSnapshot(instanceID, name string, w io.Writer) error {
	p, err := v.path(instanceID, name)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("snapshot %q for %s: %w", name, instanceID, arc.ErrNotFound)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	for _, dir := range []string{v.root, v.snapshotsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", dir)
		}
	}
	return nil
}

// Compile-time check that FileSystemVault implements arc.Vault
var _ arc.Vault = (*FileSystemVault)(nil)
