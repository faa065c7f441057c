package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/utils"
)

// PricingStore is the storage the gateway writes through.
type PricingStore interface {
	PreviousStandardPrice(ctx context.Context, propertyID int64, date time.Time) (decimal.NullDecimal, error)
	UpsertPricing(ctx context.Context, r *models.PricingRecord) (bool, error)
}

// PersistenceError reports one record that could not be written.
type PersistenceError struct {
	PropertyID int64
	Date       string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist property %d date %s: %v", e.PropertyID, e.Date, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// UpsertResult tells whether the write created the row.
type UpsertResult struct {
	Inserted bool
}

// BatchResult counts the outcome of SaveBatch.
type BatchResult struct {
	Inserted int
	Updated  int
	Failed   int
	Saved    []*models.PricingRecord
	Errors   []error
}

// SavedCount is inserted plus updated.
func (b BatchResult) SavedCount() int { return b.Inserted + b.Updated }

// PersistenceGateway owns the derived fields that depend on stored history.
type PersistenceGateway struct {
	store  PricingStore
	logger *utils.Logger
}

func NewPersistenceGateway(store PricingStore, logger *utils.Logger) *PersistenceGateway {
	return &PersistenceGateway{store: store, logger: logger}
}

// Upsert writes r keyed by (property, date). When an earlier price is
// stored the price change is recomputed from it and the payload delta is
// discarded.
func (g *PersistenceGateway) Upsert(ctx context.Context, r *models.PricingRecord) (UpsertResult, error) {
	prev, err := g.store.PreviousStandardPrice(ctx, r.PropertyID, r.RecordDate)
	if err != nil {
		return UpsertResult{}, &PersistenceError{PropertyID: r.PropertyID, Date: r.DateKey(), Err: err}
	}
	if prev.Valid {
		r.StandardPreviousPrice = prev
		if r.StandardPrice.Valid {
			r.StandardPriceChange = decimal.NewNullDecimal(r.StandardPrice.Decimal.Sub(prev.Decimal))
		} else {
			r.StandardPriceChange = decimal.NullDecimal{}
		}
	}
	r.RevenuePerRoom = RevenuePerRoom(r.Revenue, r.AvailableRooms)

	inserted, err := g.store.UpsertPricing(ctx, r)
	if err != nil {
		return UpsertResult{}, &PersistenceError{PropertyID: r.PropertyID, Date: r.DateKey(), Err: err}
	}
	return UpsertResult{Inserted: inserted}, nil
}

// SaveBatch upserts every record; a failure is logged and counted and the
// rest of the batch continues.
func (g *PersistenceGateway) SaveBatch(ctx context.Context, records []*models.PricingRecord) BatchResult {
	var res BatchResult
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, &PersistenceError{PropertyID: r.PropertyID, Date: r.DateKey(), Err: err})
			continue
		}
		out, err := g.Upsert(ctx, r)
		if err != nil {
			g.logger.Error("[persist] %v", err)
			res.Failed++
			res.Errors = append(res.Errors, err)
			continue
		}
		if out.Inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
		res.Saved = append(res.Saved, r)
	}
	g.logger.Info("[persist] Saved %d records (%d new, %d updated, %d failed)",
		res.SavedCount(), res.Inserted, res.Updated, res.Failed)
	return res
}

// RevenuePerRoom is revenue / available rooms rounded to cents, or null.
func RevenuePerRoom(revenue decimal.NullDecimal, availableRooms *int) decimal.NullDecimal {
	if !revenue.Valid || availableRooms == nil || *availableRooms <= 0 {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(revenue.Decimal.Div(decimal.NewFromInt(int64(*availableRooms))).Round(2))
}
