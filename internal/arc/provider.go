package arc

import (
	"context"
	"encoding/json"
	"time"
)

// ListOptions narrows a provider listing. Zero values mean "no bound".
type ListOptions struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// Provider turns a remote AI platform into conversations. Implementations
// live outside this package; every call may be slow or fail.
//
// FetchConversation should fail with an error matching ErrNotFound,
// ErrAuthentication or ErrRateLimit (see RateLimitError) so the archiver can
// tell the kinds apart.
type Provider interface {
	// Name is the provider tag used for on-disk layout and index scoping.
	Name() string

	// ListConversations returns candidate summaries, newest first by convention.
	ListConversations(ctx context.Context, opts ListOptions) ([]ConversationSummary, error)

	// FetchConversation returns the full conversation with messages.
	FetchConversation(ctx context.Context, id string) (*Conversation, error)
}

// Asset is a provider-level item that is not a conversation (uploaded files,
// custom instructions, generated artifacts). Data is kept verbatim.
type Asset struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"createdAt,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Workspace describes a provider workspace and its projects.
type Workspace struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Projects []Project `json:"projects,omitempty"`
}

// Project is a sub-grouping inside a Workspace.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssetLister is implemented by providers that expose provider-level assets.
type AssetLister interface {
	ListAssets(ctx context.Context) ([]Asset, error)
}

// WorkspaceLister is implemented by providers that organize conversations
// into workspaces and projects.
type WorkspaceLister interface {
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
}

// ConcurrencyHinter is implemented by providers that advertise an upper
// bound on parallel requests.
type ConcurrencyHinter interface {
	MaxConcurrent() int
}

// Cleaner is implemented by providers holding resources (browser sessions,
// connections) that must be released after a run.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
