package arc

import (
	"sort"
	"time"
)

// IndexEntry is the lightweight per-conversation record kept in a provider's
// conversation index. ArchivedAt is stamped when the entry is written and is
// only ever replaced together with the whole entry.
type IndexEntry struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Provider      string    `json:"provider"`
	MessageCount  int       `json:"messageCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	ArchivedAt    time.Time `json:"archivedAt"`
	HasMedia      bool      `json:"hasMedia"`
	MediaCount    int       `json:"mediaCount"`
	Path          string    `json:"path"`
	ContentHash   string    `json:"contentHash"`
	WorkspaceID   string    `json:"workspaceId,omitempty"`
	WorkspaceName string    `json:"workspaceName,omitempty"`
	ProjectID     string    `json:"projectId,omitempty"`
	ProjectName   string    `json:"projectName,omitempty"`
}

// Index maps conversation id to IndexEntry for one provider.
type Index struct {
	Provider      string                `json:"provider"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	Conversations map[string]IndexEntry `json:"conversations"`
}

// NewIndex returns an empty index for provider.
func NewIndex(provider string) *Index {
	return &Index{Provider: provider, Conversations: make(map[string]IndexEntry)}
}

// IDs returns the conversation ids in the index, sorted.
func (idx *Index) IDs() []string {
	ids := make([]string, 0, len(idx.Conversations))
	for id := range idx.Conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HierarchyIndex groups conversation ids by workspace and project.
// A conversation id lives in exactly one bucket: a workspace's own set,
// one of its projects, or Unorganized.
type HierarchyIndex struct {
	Workspaces  map[string]*WorkspaceNode `json:"workspaces"`
	Unorganized []string                  `json:"unorganized"`
	UpdatedAt   time.Time                 `json:"updatedAt"`
}

// WorkspaceNode is one workspace in the hierarchy index.
type WorkspaceNode struct {
	Name            string                  `json:"name"`
	ConversationIDs []string                `json:"conversationIds"`
	Projects        map[string]*ProjectNode `json:"projects"`
}

// ProjectNode is one project inside a workspace.
type ProjectNode struct {
	Name            string   `json:"name"`
	ConversationIDs []string `json:"conversationIds"`
}

// NewHierarchyIndex returns an empty hierarchy index.
func NewHierarchyIndex() *HierarchyIndex {
	return &HierarchyIndex{Workspaces: make(map[string]*WorkspaceNode)}
}

// Place moves id into the bucket described by h, removing it from wherever it
// was before. A nil or unorganized h places it in Unorganized.
func (hi *HierarchyIndex) Place(id string, h *Hierarchy) {
	hi.Remove(id)
	if !h.IsOrganized() {
		hi.Unorganized = insertSorted(hi.Unorganized, id)
		return
	}
	ws, ok := hi.Workspaces[h.WorkspaceID]
	if !ok {
		ws = &WorkspaceNode{Projects: make(map[string]*ProjectNode)}
		hi.Workspaces[h.WorkspaceID] = ws
	}
	if h.WorkspaceName != "" {
		ws.Name = h.WorkspaceName
	}
	if h.ProjectID == "" {
		ws.ConversationIDs = insertSorted(ws.ConversationIDs, id)
		return
	}
	if ws.Projects == nil {
		ws.Projects = make(map[string]*ProjectNode)
	}
	p, ok := ws.Projects[h.ProjectID]
	if !ok {
		p = &ProjectNode{}
		ws.Projects[h.ProjectID] = p
	}
	if h.ProjectName != "" {
		p.Name = h.ProjectName
	}
	p.ConversationIDs = insertSorted(p.ConversationIDs, id)
}

// Remove deletes id from every bucket.
func (hi *HierarchyIndex) Remove(id string) {
	hi.Unorganized = removeString(hi.Unorganized, id)
	for _, ws := range hi.Workspaces {
		ws.ConversationIDs = removeString(ws.ConversationIDs, id)
		for _, p := range ws.Projects {
			p.ConversationIDs = removeString(p.ConversationIDs, id)
		}
	}
}

// Locate returns the bucket holding id: workspace and project ids, with
// found=false when id is not indexed. Unorganized ids return empty ids.
func (hi *HierarchyIndex) Locate(id string) (workspaceID, projectID string, found bool) {
	for _, u := range hi.Unorganized {
		if u == id {
			return "", "", true
		}
	}
	for wsID, ws := range hi.Workspaces {
		for _, c := range ws.ConversationIDs {
			if c == id {
				return wsID, "", true
			}
		}
		for pID, p := range ws.Projects {
			for _, c := range p.ConversationIDs {
				if c == id {
					return wsID, pID, true
				}
			}
		}
	}
	return "", "", false
}

func insertSorted(s []string, v string) []string {
	i := sort.SearchStrings(s, v)
	if i < len(s) && s[i] == v {
		return s
	}
	s = append(s, "")
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
