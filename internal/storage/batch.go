package storage

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"chatvault/internal/arc"
)

// Batch defers index and hierarchy-index writes for one archive run.
// Conversation files are written immediately; Flush merges the pending
// entries into each provider's on-disk indexes exactly once.
type Batch struct {
	store *Store

	mu         sync.Mutex
	entries    map[string]map[string]arc.IndexEntry // provider -> id -> entry
	placements map[string]map[string]*arc.Hierarchy // provider -> id -> hierarchy
}

func newBatch(s *Store) *Batch {
	return &Batch{
		store:      s,
		entries:    make(map[string]map[string]arc.IndexEntry),
		placements: make(map[string]map[string]*arc.Hierarchy),
	}
}

// SaveConversation writes the conversation files and queues its index
// update. Safe for concurrent use.
func (b *Batch) SaveConversation(conv *arc.Conversation) error {
	prev, err := b.previousPath(conv.Provider, conv.ID)
	if err != nil {
		return err
	}
	entry, err := b.store.writeConversation(conv, prev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries[conv.Provider] == nil {
		b.entries[conv.Provider] = make(map[string]arc.IndexEntry)
		b.placements[conv.Provider] = make(map[string]*arc.Hierarchy)
	}
	b.entries[conv.Provider][conv.ID] = entry
	b.placements[conv.Provider][conv.ID] = copyHierarchy(conv.Hierarchy)
	return nil
}

// previousPath prefers a path queued in this batch over the indexed one.
func (b *Batch) previousPath(provider, id string) (string, error) {
	b.mu.Lock()
	e, ok := b.entries[provider][id]
	b.mu.Unlock()
	if ok {
		return e.Path, nil
	}
	return b.store.indexedPath(provider, id)
}

// Pending returns the number of queued index entries.
func (b *Batch) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.entries {
		n += len(m)
	}
	return n
}

// Flush merges every pending provider into its on-disk indexes. Providers
// are flushed independently; a provider whose flush fails stays pending so
// a later Flush can retry it, and the failures are returned joined.
func (b *Batch) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	providers := make([]string, 0, len(b.entries))
	for p := range b.entries {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	var errs []error
	for _, p := range providers {
		if err := b.store.mergeIndex(p, b.entries[p], b.placements[p]); err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", p, err))
			continue
		}
		b.store.logger.Debug("index flushed", "provider", p, "entries", len(b.entries[p]))
		delete(b.entries, p)
		delete(b.placements, p)
	}
	return errors.Join(errs...)
}

var _ arc.ConversationBatch = (*Batch)(nil)
