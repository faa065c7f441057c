package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Statistics summarises the database for the operator.
type Statistics struct {
	TotalProperties int
	TotalPlatforms  int
	ActivePlatforms int
	TotalRuns       int
	SuccessfulRuns  int
	FailedRuns      int
	TotalRecords    int
	LastRunStarted  string
	LastRunStatus   string
}

// Statistics collects row counts and the most recent run.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	st := &Statistics{}
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM properties`, &st.TotalProperties},
		{`SELECT COUNT(*) FROM platforms`, &st.TotalPlatforms},
		{`SELECT COUNT(*) FROM platforms WHERE status = 'active'`, &st.ActivePlatforms},
		{`SELECT COUNT(*) FROM scraping_runs`, &st.TotalRuns},
		{`SELECT COUNT(*) FROM scraping_runs WHERE status = 'completed'`, &st.SuccessfulRuns},
		{`SELECT COUNT(*) FROM scraping_runs WHERE status = 'failed'`, &st.FailedRuns},
		{`SELECT COUNT(*) FROM pricing_records`, &st.TotalRecords},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}

	var started, status sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at, status FROM scraping_runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	).Scan(&started, &status)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stats: last run: %w", err)
	}
	st.LastRunStarted = started.String
	st.LastRunStatus = status.String
	return st, nil
}
