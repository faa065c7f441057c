package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rms-pricing-scraper/models"
)

// SnapshotOn returns last year's closed-out figures for exactly one date.
func (s *Store) SnapshotOn(ctx context.Context, propertyID int64, date time.Time) (*models.HistoricalSnapshot, error) {
	snap := &models.HistoricalSnapshot{PropertyID: propertyID, Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT occupancy, adr, revenue
		FROM historical_snapshots
		WHERE property_id = $1 AND snapshot_date = $2
		LIMIT 1
	`, propertyID, date.Format(models.DateLayout)).Scan(&snap.Occupancy, &snap.ADR, &snap.Revenue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshots: %d/%s: %w", propertyID, date.Format(models.DateLayout), err)
	}
	return snap, nil
}
