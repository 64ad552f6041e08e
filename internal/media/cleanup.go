package media

import (
	"fmt"
	"path/filepath"

	"chatvault/internal/fs"
)

// Stats summarizes a provider's media registry. TotalFiles counts
// references, UniqueFiles counts blobs. DedupSavings is the bytes duplicate
// references would have cost without deduplication, summed per blob as
// size x (references - 1). The coarser TotalSize x (TotalFiles -
// UniqueFiles) charges every duplicate at the combined size of all blobs
// and overstates it whenever blob sizes differ.
type Stats struct {
	TotalFiles   int
	UniqueFiles  int
	TotalSize    int64
	DedupSavings int64
}

// Stats returns registry statistics for provider.
func (s *Store) Stats(provider string) (Stats, error) {
	reg, err := s.registry(provider)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range reg.snapshot() {
		refs := len(e.References)
		st.UniqueFiles++
		st.TotalFiles += refs
		st.TotalSize += e.Size
		if refs > 1 {
			st.DedupSavings += e.Size * int64(refs-1)
		}
	}
	return st, nil
}

// Entries returns the provider's registry entries sorted by hash.
func (s *Store) Entries(provider string) ([]Entry, error) {
	reg, err := s.registry(provider)
	if err != nil {
		return nil, err
	}
	return reg.snapshot(), nil
}

// RegistryPath returns where provider's registry is stored. The file may not
// exist yet.
func (s *Store) RegistryPath(provider string) string {
	return filepath.Join(s.providerDir(provider), registryFile)
}

// CleanupResult reports what Cleanup removed.
type CleanupResult struct {
	FilesRemoved      int
	BytesFreed        int64
	ReferencesRemoved int
}

// Cleanup narrows every entry's references to existingIDs. Entries left
// without references have their file deleted (a missing file is not an
// error) and are dropped from the registry.
func (s *Store) Cleanup(provider string, existingIDs []string) (CleanupResult, error) {
	reg, err := s.registry(provider)
	if err != nil {
		return CleanupResult{}, err
	}
	keep := make(map[string]struct{}, len(existingIDs))
	for _, id := range existingIDs {
		keep[id] = struct{}{}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	var res CleanupResult
	changed := false
	for hash, e := range reg.entries {
		kept := e.References[:0:0]
		for _, id := range e.References {
			if _, ok := keep[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) == len(e.References) && len(kept) > 0 {
			continue
		}
		res.ReferencesRemoved += len(e.References) - len(kept)
		changed = true

		if len(kept) > 0 {
			e.References = kept
			continue
		}
		p := filepath.Join(s.providerDir(provider), filepath.FromSlash(e.Path))
		if err := fs.RemoveIfExists(p); err != nil {
			s.logger.Warn("removing media file failed", "provider", provider, "hash", hash, "error", err)
			e.References = kept
			continue
		}
		delete(reg.entries, hash)
		res.FilesRemoved++
		res.BytesFreed += e.Size
	}

	if changed {
		if err := reg.saveLocked(); err != nil {
			return res, fmt.Errorf("saving media registry: %w", err)
		}
	}
	s.logger.Info("media cleanup finished", "provider", provider, "files_removed", res.FilesRemoved, "bytes_freed", res.BytesFreed)
	return res, nil
}
