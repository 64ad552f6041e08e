package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"chatvault/internal/arc"
)

// MemoryVault is an in-memory implementation of arc.Vault, useful for tests.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	data     map[string][]byte // "instanceID/name" -> snapshot
	versions map[string]int64  // "instanceID/name" -> version
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		data:     make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

// PutSnapshot stores a named snapshot and its version.
func (m *MemoryVault) PutSnapshot(instanceID, name string, r io.Reader, size int64, version int64) error {
	key, err := snapshotKey(instanceID, name)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	m.versions[key] = version
	return nil
}

// GetSnapshotVersion returns the stored version, 0 when absent.
func (m *MemoryVault) GetSnapshotVersion(instanceID, name string) (int64, error) {
	key, err := snapshotKey(instanceID, name)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[key], nil
}

// GetSnapshot writes the named snapshot to w.
func (m *MemoryVault) GetSnapshot(instanceID, name string, w io.Writer) error {
	key, err := snapshotKey(instanceID, name)
	if err != nil {
		return err
	}
	m.mu.RLock()
	data, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("snapshot %q for %s: %w", name, instanceID, arc.ErrNotFound)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Names returns the stored snapshot keys.
func (m *MemoryVault) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements arc.Vault interface
var _ arc.Vault = (*MemoryVault)(nil)
