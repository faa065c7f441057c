package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rms-pricing-scraper/models"
)

const upsertPricingSQL = `
	INSERT INTO pricing_records (
		property_id, scraping_run_id, record_timestamp, record_date, day_of_week,
		algo_output_price, standard_price, standard_previous_price, standard_price_change,
		competitor_set_avg_price,
		occupancy, forecasted_occupancy, on_the_books_occ, ly_occupancy,
		adr, ly_adr, revenue, ly_revenue, revenue_per_room,
		total_rooms, ooo, otb_rooms, avl_rooms,
		arrivals_forecast, departure_forecast, updated_by_rm,
		created_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		$21, $22, $23, $24, $25, $26,
		CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
	)
	ON CONFLICT (property_id, record_date) DO UPDATE SET
		scraping_run_id          = excluded.scraping_run_id,
		record_timestamp         = excluded.record_timestamp,
		day_of_week              = excluded.day_of_week,
		algo_output_price        = excluded.algo_output_price,
		standard_price           = excluded.standard_price,
		standard_previous_price  = excluded.standard_previous_price,
		standard_price_change    = excluded.standard_price_change,
		competitor_set_avg_price = excluded.competitor_set_avg_price,
		occupancy                = excluded.occupancy,
		forecasted_occupancy     = excluded.forecasted_occupancy,
		on_the_books_occ         = excluded.on_the_books_occ,
		ly_occupancy             = excluded.ly_occupancy,
		adr                      = excluded.adr,
		ly_adr                   = excluded.ly_adr,
		revenue                  = excluded.revenue,
		ly_revenue               = excluded.ly_revenue,
		revenue_per_room         = excluded.revenue_per_room,
		total_rooms              = excluded.total_rooms,
		ooo                      = excluded.ooo,
		otb_rooms                = excluded.otb_rooms,
		avl_rooms                = excluded.avl_rooms,
		arrivals_forecast        = excluded.arrivals_forecast,
		departure_forecast       = excluded.departure_forecast,
		updated_by_rm            = excluded.updated_by_rm,
		updated_at               = CURRENT_TIMESTAMP
`

const selectPricingColumns = `
	property_id, scraping_run_id,
	algo_output_price, standard_price, standard_previous_price, standard_price_change,
	competitor_set_avg_price,
	occupancy, forecasted_occupancy, on_the_books_occ, ly_occupancy,
	adr, ly_adr, revenue, ly_revenue, revenue_per_room,
	total_rooms, ooo, otb_rooms, avl_rooms,
	arrivals_forecast, departure_forecast, updated_by_rm
`

// UpsertPricing inserts the record or overwrites every column of the existing
// row for (property_id, record_date). It reports whether a new row was created.
func (s *Store) UpsertPricing(ctx context.Context, r *models.PricingRecord) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("pricing: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pricing_records WHERE property_id = $1 AND record_date = $2`,
		r.PropertyID, r.DateKey()).Scan(&existing)
	if err != nil {
		return false, fmt.Errorf("pricing: check existing: %w", err)
	}

	ts := r.RecordTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, upsertPricingSQL,
		r.PropertyID, r.RunID, ts, r.DateKey(), r.DayOfWeek(),
		r.AlgoOutputPrice, r.StandardPrice, r.StandardPreviousPrice, r.StandardPriceChange,
		r.CompetitorSetAvgPrice,
		r.Occupancy, r.ForecastedOccupancy, r.OnTheBooksOcc, r.LYOccupancy,
		r.ADR, r.LYADR, r.Revenue, r.LYRevenue, r.RevenuePerRoom,
		r.TotalRooms, r.OutOfOrder, r.OnTheBooks, r.AvailableRooms,
		r.ArrivalsForecast, r.DepartureForecast, r.UpdatedByRM,
	)
	if err != nil {
		return false, fmt.Errorf("pricing: upsert %d/%s: %w", r.PropertyID, r.DateKey(), err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("pricing: commit: %w", err)
	}
	return existing == 0, nil
}

// PreviousStandardPrice returns the standard_price of the most recent stored
// record strictly before date that has a non-null price.
func (s *Store) PreviousStandardPrice(ctx context.Context, propertyID int64, date time.Time) (decimal.NullDecimal, error) {
	var price decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT standard_price
		FROM pricing_records
		WHERE property_id = $1
		  AND record_date < $2
		  AND standard_price IS NOT NULL
		ORDER BY record_date DESC
		LIMIT 1
	`, propertyID, date.Format(models.DateLayout)).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.NullDecimal{}, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("pricing: previous price: %w", err)
	}
	return price, nil
}

// GetPricing loads the stored record for one property and date.
func (s *Store) GetPricing(ctx context.Context, propertyID int64, date time.Time) (*models.PricingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectPricingColumns+` FROM pricing_records WHERE property_id = $1 AND record_date = $2`,
		propertyID, date.Format(models.DateLayout))

	r, err := scanPricing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pricing: get: %w", err)
	}
	r.RecordDate = date
	return r, nil
}

// PricingByRun lists the records last written by a run, ordered by property and date.
func (s *Store) PricingByRun(ctx context.Context, runID int64) ([]*models.PricingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_date, `+selectPricingColumns+`
		 FROM pricing_records WHERE scraping_run_id = $1
		 ORDER BY property_id, record_date`, runID)
	if err != nil {
		return nil, fmt.Errorf("pricing: by run: %w", err)
	}
	defer rows.Close()

	var out []*models.PricingRecord
	for rows.Next() {
		var date string
		r, err := scanPricing(rows, &date)
		if err != nil {
			return nil, fmt.Errorf("pricing: scan row: %w", err)
		}
		r.RecordDate, err = parseStoredDate(date)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountPricing returns the number of stored pricing rows.
func (s *Store) CountPricing(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pricing_records`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPricing(row rowScanner, leading ...any) (*models.PricingRecord, error) {
	r := &models.PricingRecord{}
	var runID sql.NullInt64
	var total, ooo, otb, avl, arrivals, departures sql.NullInt64

	dest := append(leading,
		&r.PropertyID, &runID,
		&r.AlgoOutputPrice, &r.StandardPrice, &r.StandardPreviousPrice, &r.StandardPriceChange,
		&r.CompetitorSetAvgPrice,
		&r.Occupancy, &r.ForecastedOccupancy, &r.OnTheBooksOcc, &r.LYOccupancy,
		&r.ADR, &r.LYADR, &r.Revenue, &r.LYRevenue, &r.RevenuePerRoom,
		&total, &ooo, &otb, &avl,
		&arrivals, &departures, &r.UpdatedByRM,
	)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if runID.Valid {
		id := runID.Int64
		r.RunID = &id
	}
	r.TotalRooms = intPtr(total)
	r.OutOfOrder = intPtr(ooo)
	r.OnTheBooks = intPtr(otb)
	r.AvailableRooms = intPtr(avl)
	r.ArrivalsForecast = intPtr(arrivals)
	r.DepartureForecast = intPtr(departures)
	return r, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// parseStoredDate accepts both the sqlite text form and the RFC 3339 form
// database/sql produces when a PostgreSQL DATE is scanned into a string.
func parseStoredDate(s string) (time.Time, error) {
	if len(s) >= len(models.DateLayout) {
		if t, err := time.Parse(models.DateLayout, s[:len(models.DateLayout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("pricing: unparsable stored date %q", s)
}
