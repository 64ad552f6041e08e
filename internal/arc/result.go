package arc

import (
	"time"

	"chatvault/internal/model"
)

// Outcome is the terminal state of one conversation task.
type Outcome int

const (
	OutcomeArchived Outcome = iota
	OutcomeSkipped
	OutcomeRateLimited
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeArchived:
		return "archived"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorType classifies an ArchiveError.
type ErrorType string

const (
	ErrorTypeConversation ErrorType = "conversation"
	ErrorTypeMedia        ErrorType = "media"
	ErrorTypeProvider     ErrorType = "provider"
)

// maxResultErrors bounds ArchiveResult.Errors; the overflow is counted.
const maxResultErrors = 500

// ArchiveOptions controls a single archive run.
type ArchiveOptions struct {
	Since *time.Time
	Until *time.Time
	Limit int

	// IDs restricts the run to these conversation ids.
	IDs []string
	// Search keeps only summaries whose title or preview contains it,
	// case-insensitively.
	Search string

	DryRun        bool
	DownloadMedia bool
	SkipExisting  bool

	// Concurrency overrides the computed worker count (clamped 1-20).
	Concurrency int

	// OnProgress receives progress events. Calls are serialized; it must
	// not block.
	OnProgress func(ProgressEvent)
}

// ProgressEvent reports run progress to the caller.
type ProgressEvent struct {
	ConversationID string
	// Completed and Total count conversation tasks.
	Completed int
	Total     int
	// Outcome is set when a conversation task finishes.
	Outcome Outcome
	Done    bool
	// MediaCurrent and MediaTotal are set for attachment progress.
	MediaCurrent int
	MediaTotal   int
}

// ArchiveError is one per-item failure surfaced in the run summary.
type ArchiveError struct {
	ConversationID string    `json:"id,omitempty"`
	Type           ErrorType `json:"type"`
	Message        string    `json:"message"`
	URL            string    `json:"url,omitempty"`
}

// ArchiveResult summarizes a run. It is returned even when the run fails.
type ArchiveResult struct {
	Provider    string
	Candidates  int
	Concurrency int

	Archived    int
	Skipped     int
	RateLimited int
	Failed      int

	MediaDownloaded int
	MediaSkipped    int
	MediaFailed     int
	MediaBytes      int64

	AssetsSaved     int
	WorkspacesSaved int

	Duration time.Duration
	Errors   []ArchiveError
	// ErrorsDropped counts errors beyond the Errors cap.
	ErrorsDropped int
}

func (r *ArchiveResult) addError(e ArchiveError) {
	if len(r.Errors) >= maxResultErrors {
		r.ErrorsDropped++
		return
	}
	r.Errors = append(r.Errors, e)
}

// Status condenses the result into a run-history status.
func (r *ArchiveResult) Status() string {
	switch {
	case r.Failed == 0 && r.RateLimited == 0 && r.MediaFailed == 0 && len(r.Errors) == 0:
		return model.StatusSuccess
	case r.Archived > 0 || r.Skipped > 0:
		return model.StatusPartial
	default:
		return model.StatusError
	}
}

// Counts converts the result into persisted run counters.
func (r *ArchiveResult) Counts() model.RunCounts {
	return model.RunCounts{
		Archived:        r.Archived,
		Skipped:         r.Skipped,
		RateLimited:     r.RateLimited,
		Failed:          r.Failed,
		MediaDownloaded: r.MediaDownloaded,
		MediaSkipped:    r.MediaSkipped,
		MediaFailed:     r.MediaFailed,
		MediaBytes:      r.MediaBytes,
	}
}
