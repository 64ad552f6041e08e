package arc

import (
	"context"
	"time"

	"chatvault/internal/model"
)

// ContentStore persists conversations, their per-provider index and the
// hierarchy index. All methods must be safe for concurrent use.
type ContentStore interface {
	// ConversationExists is a path-existence check; content is not validated.
	ConversationExists(provider, id string) (bool, error)

	// GetConversation reads the stored JSON copy, compressed form first.
	// Returns an error matching ErrNotFound when no copy exists.
	GetConversation(provider, id string) (*Conversation, error)

	// SaveConversation writes the conversation and updates both indexes
	// immediately. Repeated calls for the same id overwrite in place.
	SaveConversation(conv *Conversation) error

	// BeginBatch returns a batch that defers index and hierarchy-index
	// writes until Flush. The caller owns the batch for one run.
	BeginBatch() ConversationBatch

	// SaveAssets stores provider-level assets.
	SaveAssets(provider string, assets []Asset) error

	// SaveWorkspaces stores the provider's workspace listing.
	SaveWorkspaces(provider string, workspaces []Workspace) error

	// GetIndex returns the provider's conversation index (empty if none).
	GetIndex(provider string) (*Index, error)

	// GetHierarchyIndex returns the provider's hierarchy index (empty if none).
	GetHierarchyIndex(provider string) (*HierarchyIndex, error)
}

// ConversationBatch collects index updates in memory for one archive run.
type ConversationBatch interface {
	// SaveConversation writes conversation files immediately and queues the
	// index and hierarchy updates.
	SaveConversation(conv *Conversation) error

	// Flush merges every pending provider index into its on-disk copy and
	// writes each hierarchy index once. Providers are flushed independently;
	// a failure for one does not undo the others.
	Flush() error
}

// MediaProgressFunc is called after each attachment download attempt.
// It must not block.
type MediaProgressFunc func(current, total int)

// MediaStore downloads and deduplicates attachment bytes.
type MediaStore interface {
	// DownloadConversationMedia downloads every remote attachment of conv.
	// Individual failures are reported in the result and never abort the batch.
	DownloadConversationMedia(ctx context.Context, conv *Conversation, onProgress MediaProgressFunc) MediaReport
}

// MediaReport summarizes one conversation's attachment downloads.
type MediaReport struct {
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	Errors     []MediaError
}

// MediaError records a single failed attachment download.
type MediaError struct {
	AttachmentID string
	URL          string
	Message      string
}

// RunStore records archive runs for the history command.
type RunStore interface {
	// CreateRun inserts a new run record and returns it with its ID set.
	CreateRun(provider, operation, parameters string) (*model.ArchiveRun, error)

	// FinishRun stamps the run as finished with the given status and counters.
	FinishRun(id int64, status string, counts model.RunCounts) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(limit int) ([]*model.ArchiveRun, error)

	// MaxRunID returns the highest run ID, or 0 when no runs exist.
	MaxRunID() (int64, error)

	// BackupTo writes a consistent copy of the store to destPath.
	BackupTo(destPath string) error

	// CheckMigrations verifies the schema is current.
	CheckMigrations() error

	Close() error
}

// Metrics receives run-level measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ConversationDone(provider string, outcome Outcome)
	MediaDone(provider string, report MediaReport)
	ConcurrencyChanged(provider string, n int)
	CircuitOpened(provider string)
	RunFinished(provider string, d time.Duration)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) ConversationDone(string, Outcome)  {}
func (NopMetrics) MediaDone(string, MediaReport)     {}
func (NopMetrics) ConcurrencyChanged(string, int)    {}
func (NopMetrics) CircuitOpened(string)              {}
func (NopMetrics) RunFinished(string, time.Duration) {}
