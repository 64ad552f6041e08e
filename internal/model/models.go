package model

import (
	"database/sql"
	"time"
)

// ArchiveRun is one recorded invocation of a mutating command
// (an archive pass or a media cleanup).
type ArchiveRun struct {
	ID         int64  // auto-increment, doubles as the snapshot version
	Provider   string // provider tag the run targeted
	Operation  string // e.g. "Archive", "MediaCleanup"
	Parameters string // free-form description of the options used
	StartedAt  time.Time
	FinishedAt sql.NullTime // unset while the run is in progress
	Status     string       // "running", "success", "partial" or "error"
	Counts     RunCounts
}

// RunCounts are the summary counters stored with a finished run.
type RunCounts struct {
	Archived        int
	Skipped         int
	RateLimited     int
	Failed          int
	MediaDownloaded int
	MediaSkipped    int
	MediaFailed     int
	MediaBytes      int64
	FilesRemoved    int
	BytesFreed      int64
}

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)
