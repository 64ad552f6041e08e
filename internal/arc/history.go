package arc

import (
	"errors"
	"fmt"

	"chatvault/internal/model"
)

// History returns the most recent archive runs, ordered newest first.
func (a *Archiver) History(limit int) ([]*model.ArchiveRun, error) {
	if a.runs == nil {
		return nil, errors.New("run history is not configured")
	}
	runs, err := a.runs.ListRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("listing archive runs: %w", err)
	}
	return runs, nil
}
