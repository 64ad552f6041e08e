// Package storage is the on-disk Content Store: conversation files in one or
// more export formats, the per-provider conversation index and the hierarchy
// index. Layout, per provider under the base directory:
//
//	<provider>/
//	  index.json[.gz]
//	  hierarchy-index.json
//	  conversations/<id>/conversation.{json,md}[.gz]
//	  conversations/YYYY/MM/<id>/...               (date layout)
//	  workspaces/<ws>[/<project>]/conversations/<id>/...
//	  workspaces/workspaces.json
//	  assets/assets.json
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatvault/internal/arc"
	"chatvault/internal/fs"
)

// Options configures a Store.
type Options struct {
	BaseDir  string
	Formats  []Format
	Compress bool
	Layout   Layout
}

// Store is a filesystem implementation of arc.ContentStore.
// It is safe for concurrent use within one process.
type Store struct {
	baseDir  string
	formats  []Format
	compress bool
	layout   Layout
	logger   arc.Logger
	clock    arc.Clock

	mu      sync.Mutex            // serializes index read-modify-write
	indexes map[string]*arc.Index // last written or read index per provider
}

// New creates a Store rooted at opts.BaseDir, creating the directory.
func New(opts Options, logger arc.Logger, clock arc.Clock) (*Store, error) {
	if opts.BaseDir == "" {
		return nil, errors.New("storage base directory is required")
	}
	if err := os.MkdirAll(opts.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON}
	}
	layout := opts.Layout
	if layout == "" {
		layout = LayoutFlat
	}
	return &Store{
		baseDir:  opts.BaseDir,
		formats:  formats,
		compress: opts.Compress,
		layout:   layout,
		logger:   logger,
		clock:    clock,
		indexes:  make(map[string]*arc.Index),
	}, nil
}

// BaseDir returns the archive root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) providerDir(provider string) string {
	return filepath.Join(s.baseDir, Sanitize(provider))
}

// conversationDir resolves where a conversation lives: its indexed path when
// known, else the flat default.
func (s *Store) conversationDir(provider, id string) (string, error) {
	rel, err := s.indexedPath(provider, id)
	if err != nil {
		return "", err
	}
	if rel == "" {
		rel = filepath.Join("conversations", Sanitize(id))
	}
	return filepath.Join(s.providerDir(provider), filepath.FromSlash(rel)), nil
}

// ConversationExists reports whether the conversation's JSON file exists.
func (s *Store) ConversationExists(provider, id string) (bool, error) {
	dir, err := s.conversationDir(provider, id)
	if err != nil {
		return false, err
	}
	return artifactExists(filepath.Join(dir, FormatJSON.fileName()))
}

// GetConversation reads the stored conversation, compressed form first.
func (s *Store) GetConversation(provider, id string) (*arc.Conversation, error) {
	dir, err := s.conversationDir(provider, id)
	if err != nil {
		return nil, err
	}
	var conv arc.Conversation
	found, err := readJSONArtifact(filepath.Join(dir, FormatJSON.fileName()), &conv)
	if err != nil {
		return nil, fmt.Errorf("reading conversation %s/%s: %w", provider, id, err)
	}
	if !found {
		return nil, fmt.Errorf("conversation %s/%s: %w", provider, id, arc.ErrNotFound)
	}
	return &conv, nil
}

// SaveConversation writes the conversation and updates both indexes on disk.
func (s *Store) SaveConversation(conv *arc.Conversation) error {
	prev, err := s.indexedPath(conv.Provider, conv.ID)
	if err != nil {
		return err
	}
	entry, err := s.writeConversation(conv, prev)
	if err != nil {
		return err
	}
	return s.mergeIndex(conv.Provider,
		map[string]arc.IndexEntry{conv.ID: entry},
		map[string]*arc.Hierarchy{conv.ID: copyHierarchy(conv.Hierarchy)})
}

// BeginBatch starts a batch whose index writes are deferred to Flush.
func (s *Store) BeginBatch() arc.ConversationBatch {
	return newBatch(s)
}

// writeConversation writes every export format and inline attachment of conv
// and returns its fresh index entry. When the conversation moved (its
// hierarchy or layout changed) the directory at prevPath is removed.
func (s *Store) writeConversation(conv *arc.Conversation, prevPath string) (arc.IndexEntry, error) {
	if conv.ID == "" || conv.Provider == "" {
		return arc.IndexEntry{}, errors.New("conversation id and provider are required")
	}
	assignAttachmentIDs(conv)
	conv.FillMetadata()

	rel := conversationPath(conv, s.layout)
	dir := filepath.Join(s.providerDir(conv.Provider), filepath.FromSlash(rel))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return arc.IndexEntry{}, fmt.Errorf("creating conversation directory: %w", err)
	}

	for _, f := range s.formats {
		data, err := f.encode(conv)
		if err != nil {
			return arc.IndexEntry{}, fmt.Errorf("encoding %s: %w", f, err)
		}
		if err := writeArtifact(filepath.Join(dir, f.fileName()), data, s.compress); err != nil {
			return arc.IndexEntry{}, fmt.Errorf("writing conversation %s: %w", conv.ID, err)
		}
	}

	for _, m := range conv.Messages {
		for _, a := range m.Attachments {
			if !a.IsInline() {
				continue
			}
			if err := fs.WriteFileAtomic(filepath.Join(dir, attachmentFileName(a)), []byte(a.Content)); err != nil {
				return arc.IndexEntry{}, fmt.Errorf("writing attachment %s: %w", a.ID, err)
			}
		}
	}

	if prevPath != "" && prevPath != rel && isSafeRelPath(prevPath) {
		if err := s.removeConversationFiles(conv.Provider, prevPath); err != nil {
			s.logger.Warn("removing moved conversation failed", "provider", conv.Provider, "id", conv.ID, "path", prevPath, "error", err)
		} else {
			s.logger.Debug("conversation moved", "provider", conv.Provider, "id", conv.ID, "from", prevPath, "to", rel)
		}
	}

	return newEntry(conv, rel, s.clock.Now()), nil
}

// removeConversationFiles deletes the artifacts a conversation left at rel,
// then prunes directories emptied by that toward the provider directory.
// Anything else under rel, such as date buckets holding other
// conversations, is left in place.
func (s *Store) removeConversationFiles(provider, rel string) error {
	root := s.providerDir(provider)
	dir := filepath.Join(root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !isConversationArtifact(e.Name()) {
			continue
		}
		if err := fs.RemoveIfExists(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	for d := dir; strings.HasPrefix(d, root+string(filepath.Separator)); d = filepath.Dir(d) {
		// fails once a directory still holds something
		if os.Remove(d) != nil {
			break
		}
	}
	return nil
}

// isConversationArtifact reports file names writeConversation produces.
func isConversationArtifact(name string) bool {
	base := strings.TrimSuffix(name, gzSuffix)
	return base == FormatJSON.fileName() || base == FormatMarkdown.fileName() || strings.HasPrefix(name, "attachment-")
}

// assignAttachmentIDs gives id-less attachments a name-based UUID derived
// from the conversation, message and position, so re-saves reuse the same
// side file names.
func assignAttachmentIDs(conv *arc.Conversation) {
	for i := range conv.Messages {
		m := &conv.Messages[i]
		for j := range m.Attachments {
			if m.Attachments[j].ID != "" {
				continue
			}
			name := fmt.Sprintf("%s/%s/%d/%d", conv.ID, m.ID, i, j)
			m.Attachments[j].ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
		}
	}
}

// isSafeRelPath rejects index paths that would escape the provider directory.
func isSafeRelPath(rel string) bool {
	if rel == "" || filepath.IsAbs(rel) {
		return false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." || seg == "" {
			return false
		}
	}
	return true
}

// GetIndex returns a copy of the provider's on-disk conversation index.
func (s *Store) GetIndex(provider string) (*arc.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex(provider)
	if err != nil {
		return nil, err
	}
	s.indexes[provider] = idx
	return cloneIndex(idx), nil
}

// GetHierarchyIndex returns the provider's hierarchy index.
func (s *Store) GetHierarchyIndex(provider string) (*arc.HierarchyIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readHierarchy(provider)
}

// Providers lists provider directories that hold an index.
func (s *Store) Providers() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ok, err := artifactExists(filepath.Join(s.baseDir, e.Name(), indexFile))
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// MetadataFiles returns the paths of the provider's index and hierarchy
// index that exist on disk, in whichever variant was last written.
func (s *Store) MetadataFiles(provider string) ([]string, error) {
	var paths []string
	for _, name := range []string{indexFile, hierarchyFile} {
		base := filepath.Join(s.providerDir(provider), name)
		for _, p := range []string{base + gzSuffix, base} {
			_, err := os.Stat(p)
			if err == nil {
				paths = append(paths, p)
				break
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("checking %s: %w", p, err)
			}
		}
	}
	return paths, nil
}

type assetsFile struct {
	Provider string      `json:"provider"`
	SavedAt  time.Time   `json:"savedAt"`
	Assets   []arc.Asset `json:"assets"`
}

type workspacesFile struct {
	Provider   string          `json:"provider"`
	SavedAt    time.Time       `json:"savedAt"`
	Workspaces []arc.Workspace `json:"workspaces"`
}

// SaveAssets writes <provider>/assets/assets.json.
func (s *Store) SaveAssets(provider string, assets []arc.Asset) error {
	data, err := marshalJSON(assetsFile{Provider: provider, SavedAt: s.clock.Now(), Assets: assets})
	if err != nil {
		return fmt.Errorf("encoding assets: %w", err)
	}
	if err := fs.WriteFileAtomic(filepath.Join(s.providerDir(provider), "assets", "assets.json"), data); err != nil {
		return fmt.Errorf("writing assets: %w", err)
	}
	return nil
}

// SaveWorkspaces writes <provider>/workspaces/workspaces.json.
func (s *Store) SaveWorkspaces(provider string, workspaces []arc.Workspace) error {
	data, err := marshalJSON(workspacesFile{Provider: provider, SavedAt: s.clock.Now(), Workspaces: workspaces})
	if err != nil {
		return fmt.Errorf("encoding workspaces: %w", err)
	}
	if err := fs.WriteFileAtomic(filepath.Join(s.providerDir(provider), "workspaces", "workspaces.json"), data); err != nil {
		return fmt.Errorf("writing workspaces: %w", err)
	}
	return nil
}

func cloneIndex(idx *arc.Index) *arc.Index {
	out := &arc.Index{
		Provider:      idx.Provider,
		UpdatedAt:     idx.UpdatedAt,
		Conversations: make(map[string]arc.IndexEntry, len(idx.Conversations)),
	}
	for id, e := range idx.Conversations {
		out.Conversations[id] = e
	}
	return out
}

func copyHierarchy(h *arc.Hierarchy) *arc.Hierarchy {
	if h == nil {
		return nil
	}
	c := *h
	return &c
}

var _ arc.ContentStore = (*Store)(nil)
