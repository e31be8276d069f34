package app

import (
	"context"

	"tiersched/internal/storage"
	"tiersched/internal/task/engine"
)

// storeRecorder persists each outcome of one run.
type storeRecorder struct {
	store storage.Store
	runID string
}

func (r storeRecorder) Record(ctx context.Context, o engine.Outcome) error {
	return r.store.AppendOutcome(ctx, storage.Record{
		RunID:       r.runID,
		JobID:       o.JobID,
		Description: o.Description,
		Priority:    o.Priority,
		State:       o.State.String(),
		Line:        o.String(),
		Error:       o.Err,
		StartedAt:   o.Started,
		FinishedAt:  o.Finished,
	})
}
