package services

import (
	"context"
	"fmt"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/utils"
)

// RunStore persists run lifecycle rows.
type RunStore interface {
	CreateRun(ctx context.Context, platformID int64, window models.DateRange) (int64, error)
	FinishRun(ctx context.Context, runID int64, status models.RunStatus, recordsCreated int, errorMessage string) error
}

// RunFailure is the reason a run ended failed.
type RunFailure struct {
	Reason string
	Err    error
}

func (e *RunFailure) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *RunFailure) Unwrap() error { return e.Err }

// RunTracker opens a run before login and closes it exactly once.
type RunTracker struct {
	store  RunStore
	logger *utils.Logger
}

func NewRunTracker(store RunStore, logger *utils.Logger) *RunTracker {
	return &RunTracker{store: store, logger: logger}
}

// Start records a running run for the platform and window.
func (t *RunTracker) Start(ctx context.Context, platformID int64, window models.DateRange) (int64, error) {
	id, err := t.store.CreateRun(ctx, platformID, window)
	if err != nil {
		return 0, err
	}
	t.logger.Info("[run] Started run %d for platform %d (%s to %s)", id, platformID,
		window.Start.Format(models.DateLayout), window.End.Format(models.DateLayout))
	return id, nil
}

// Finish moves the run to a terminal status. A second call for the same run
// fails with storage.ErrRunFinalized.
func (t *RunTracker) Finish(ctx context.Context, runID int64, status models.RunStatus, recordsCreated int, errorMessage string) error {
	if err := t.store.FinishRun(ctx, runID, status, recordsCreated, errorMessage); err != nil {
		return err
	}
	if status == models.RunFailed {
		t.logger.Warn("[run] Run %d failed: %s", runID, errorMessage)
	} else {
		t.logger.Info("[run] Run %d %s with %d records", runID, status, recordsCreated)
	}
	return nil
}
