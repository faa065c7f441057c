package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rms-pricing-scraper/models"
)

// CreateRun inserts a run in the running state and returns its id.
func (s *Store) CreateRun(ctx context.Context, platformID int64, window models.DateRange) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scraping_runs (platform_id, status, start_date, end_date, days_scraped, started_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id
	`, platformID, string(models.RunRunning),
		window.Start.Format(models.DateLayout), window.End.Format(models.DateLayout), window.Days(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("runs: create: %w", err)
	}
	return id, nil
}

// FinishRun moves a running run to a terminal status. The update only
// matches rows still running, so a second call returns ErrRunFinalized.
func (s *Store) FinishRun(ctx context.Context, runID int64, status models.RunStatus, recordsCreated int, errorMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("runs: %q is not a terminal status", status)
	}

	var msg sql.NullString
	if errorMessage != "" {
		msg = sql.NullString{String: errorMessage, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scraping_runs
		SET status = $1,
		    completed_at = CURRENT_TIMESTAMP,
		    records_created = $2,
		    error_message = $3
		WHERE id = $4 AND status = $5
	`, string(status), recordsCreated, msg, runID, string(models.RunRunning))
	if err != nil {
		return fmt.Errorf("runs: finish %d: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("runs: finish %d: %w", runID, err)
	}
	if n == 0 {
		return fmt.Errorf("runs: finish %d: %w", runID, ErrRunFinalized)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID int64) (*models.ScrapingRun, error) {
	run := &models.ScrapingRun{ID: runID}
	var status, start, end string
	var msg sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT platform_id, status, start_date, end_date, records_created, error_message
		FROM scraping_runs WHERE id = $1
	`, runID).Scan(&run.PlatformID, &status, &start, &end, &run.RecordsCreated, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("runs: get %d: %w", runID, err)
	}

	run.Status = models.RunStatus(status)
	run.ErrorMessage = msg.String
	if run.DateRange.Start, err = parseStoredDate(start); err != nil {
		return nil, err
	}
	if run.DateRange.End, err = parseStoredDate(end); err != nil {
		return nil, err
	}
	return run, nil
}
