package storage

import (
	"fmt"
	"path/filepath"
	"time"

	"chatvault/internal/arc"
)

const (
	indexFile     = "index.json"
	hierarchyFile = "hierarchy-index.json"
)

// newEntry builds the index entry for a freshly written conversation.
func newEntry(conv *arc.Conversation, relPath string, now time.Time) arc.IndexEntry {
	e := arc.IndexEntry{
		ID:           conv.ID,
		Title:        conv.Title,
		Provider:     conv.Provider,
		MessageCount: len(conv.Messages),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
		ArchivedAt:   now,
		HasMedia:     conv.Metadata.MediaCount > 0,
		MediaCount:   conv.Metadata.MediaCount,
		Path:         relPath,
		ContentHash:  arc.ContentHash(conv),
	}
	if h := conv.Hierarchy; h != nil {
		e.WorkspaceID, e.WorkspaceName = h.WorkspaceID, h.WorkspaceName
		e.ProjectID, e.ProjectName = h.ProjectID, h.ProjectName
	}
	return e
}

// readIndex loads the provider's index from disk, empty when absent.
func (s *Store) readIndex(provider string) (*arc.Index, error) {
	idx := arc.NewIndex(provider)
	if _, err := readJSONArtifact(filepath.Join(s.providerDir(provider), indexFile), idx); err != nil {
		return nil, fmt.Errorf("reading index for %s: %w", provider, err)
	}
	if idx.Conversations == nil {
		idx.Conversations = make(map[string]arc.IndexEntry)
	}
	idx.Provider = provider
	return idx, nil
}

func (s *Store) writeIndex(idx *arc.Index) error {
	data, err := marshalJSON(idx)
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := writeArtifact(filepath.Join(s.providerDir(idx.Provider), indexFile), data, s.compress); err != nil {
		return fmt.Errorf("writing index for %s: %w", idx.Provider, err)
	}
	return nil
}

// readHierarchy loads the provider's hierarchy index, empty when absent.
func (s *Store) readHierarchy(provider string) (*arc.HierarchyIndex, error) {
	hi := arc.NewHierarchyIndex()
	if _, err := readJSONArtifact(filepath.Join(s.providerDir(provider), hierarchyFile), hi); err != nil {
		return nil, fmt.Errorf("reading hierarchy index for %s: %w", provider, err)
	}
	if hi.Workspaces == nil {
		hi.Workspaces = make(map[string]*arc.WorkspaceNode)
	}
	return hi, nil
}

// writeHierarchy always writes the uncompressed form.
func (s *Store) writeHierarchy(provider string, hi *arc.HierarchyIndex) error {
	data, err := marshalJSON(hi)
	if err != nil {
		return fmt.Errorf("encoding hierarchy index: %w", err)
	}
	if err := writeArtifact(filepath.Join(s.providerDir(provider), hierarchyFile), data, false); err != nil {
		return fmt.Errorf("writing hierarchy index for %s: %w", provider, err)
	}
	return nil
}

// mergeIndex applies entries and hierarchy placements to the provider's
// on-disk indexes with a read-modify-write under the store lock.
func (s *Store) mergeIndex(provider string, entries map[string]arc.IndexEntry, placements map[string]*arc.Hierarchy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex(provider)
	if err != nil {
		return err
	}
	for id, e := range entries {
		idx.Conversations[id] = e
	}
	now := s.clock.Now()
	idx.UpdatedAt = now
	if err := s.writeIndex(idx); err != nil {
		return err
	}
	s.indexes[provider] = idx

	hi, err := s.readHierarchy(provider)
	if err != nil {
		return err
	}
	for id, h := range placements {
		hi.Place(id, h)
	}
	hi.UpdatedAt = now
	return s.writeHierarchy(provider, hi)
}

// cachedIndexLocked returns the in-memory copy of the provider index,
// loading it on first use. s.mu must be held.
func (s *Store) cachedIndexLocked(provider string) (*arc.Index, error) {
	if idx, ok := s.indexes[provider]; ok {
		return idx, nil
	}
	idx, err := s.readIndex(provider)
	if err != nil {
		return nil, err
	}
	s.indexes[provider] = idx
	return idx, nil
}

// indexedPath returns the stored relative path of a conversation, or "" when
// it is not indexed.
func (s *Store) indexedPath(provider, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.cachedIndexLocked(provider)
	if err != nil {
		return "", err
	}
	return idx.Conversations[id].Path, nil
}
