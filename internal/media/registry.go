package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"chatvault/internal/fs"
)

const registryFile = "media-registry.json"

// Entry is one content-addressed blob. Path is relative to the provider
// directory. A blob is deleted only when References becomes empty.
type Entry struct {
	Hash       string    `json:"hash"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mimeType"`
	FirstSeen  time.Time `json:"firstSeen"`
	References []string  `json:"references"`
}

func (e *Entry) addReference(id string) bool {
	i := sort.SearchStrings(e.References, id)
	if i < len(e.References) && e.References[i] == id {
		return false
	}
	e.References = append(e.References, "")
	copy(e.References[i+1:], e.References[i:])
	e.References[i] = id
	return true
}

type registryData struct {
	Version int               `json:"version"`
	Entries map[string]*Entry `json:"entries"`
}

// registry is the persisted hash -> Entry map of one provider. Every
// mutation is written through to disk before the lock is released.
type registry struct {
	path string

	mu      sync.Mutex
	entries map[string]*Entry
}

func loadRegistry(path string) (*registry, error) {
	r := &registry{path: path, entries: make(map[string]*Entry)}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading media registry: %w", err)
	}
	var rd registryData
	if err := json.Unmarshal(data, &rd); err != nil {
		return nil, fmt.Errorf("decoding media registry: %w", err)
	}
	for hash, e := range rd.Entries {
		if e == nil {
			continue
		}
		e.Hash = hash
		sort.Strings(e.References)
		r.entries[hash] = e
	}
	return r, nil
}

// saveLocked persists the registry. r.mu must be held.
func (r *registry) saveLocked() error {
	data, err := json.MarshalIndent(registryData{Version: 1, Entries: r.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding media registry: %w", err)
	}
	if err := fs.WriteFileAtomic(r.path, append(data, '\n')); err != nil {
		return fmt.Errorf("writing media registry: %w", err)
	}
	return nil
}

// get returns a copy of the entry for hash.
func (r *registry) get(hash string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[hash]
	if !ok {
		return Entry{}, false
	}
	c := *e
	c.References = append([]string(nil), e.References...)
	return c, true
}

// reference adds conversationID to an existing entry. It is a no-op when
// the reference is already present.
func (r *registry) reference(hash, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[hash]
	if !ok {
		return fmt.Errorf("media %s not registered", hash)
	}
	if !e.addReference(conversationID) {
		return nil
	}
	return r.saveLocked()
}

// register adds a new entry.
func (r *registry) register(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Hash] = e
	if err := r.saveLocked(); err != nil {
		delete(r.entries, e.Hash)
		return err
	}
	return nil
}

// snapshot returns copies of all entries sorted by hash.
func (r *registry) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		c := *e
		c.References = append([]string(nil), e.References...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}
