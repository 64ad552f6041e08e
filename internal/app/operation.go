package app

import "chatvault/internal/model"

// Operation names recorded in run history.
const (
	OpArchive         = "Archive"
	OpMediaCleanup    = "MediaCleanup"
	OpMediaStats      = "MediaStats"
	OpHistory         = "History"
	OpRestoreSnapshot = "RestoreSnapshot"
)

// Operation tracks a CLI command that may mutate the run database.
// Operations are created in memory with ID=0. Only mutating commands
// persist them (giving them an auto-increment ID from the database).
type Operation struct {
	ID         int64
	Provider   string
	Operation  string
	Parameters string
	Status     string
	Counts     model.RunCounts
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation string) *Operation {
	return &Operation{
		Operation: operation,
		Status:    model.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}
