package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/storage"
	"rms-pricing-scraper/utils"
)

// SnapshotStore reads last year's closed-out figures.
type SnapshotStore interface {
	SnapshotOn(ctx context.Context, propertyID int64, date time.Time) (*models.HistoricalSnapshot, error)
}

// Closest first; before wins over after at equal distance.
var lastYearOffsets = []int{0, -1, 1, -2, 2, -3, 3}

// HistoricalMatcher finds the comparable date one year back.
type HistoricalMatcher struct {
	store  SnapshotStore
	logger *utils.Logger
}

func NewHistoricalMatcher(store SnapshotStore, logger *utils.Logger) *HistoricalMatcher {
	return &HistoricalMatcher{store: store, logger: logger}
}

// FindLastYear looks up target-365 days and then up to three days either
// side of it. It returns (nil, nil) when nothing is stored in that week.
func (h *HistoricalMatcher) FindLastYear(ctx context.Context, propertyID int64, target time.Time) (*models.HistoricalSnapshot, error) {
	anchor := target.AddDate(0, 0, -365)
	for _, off := range lastYearOffsets {
		snap, err := h.store.SnapshotOn(ctx, propertyID, anchor.AddDate(0, 0, off))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if snap != nil {
			return snap, nil
		}
	}
	return nil, nil
}

// Enrich fills the record's null last-year fields from the matched snapshot.
// Values already present win. It reports whether a snapshot was used.
func (h *HistoricalMatcher) Enrich(ctx context.Context, r *models.PricingRecord) (bool, error) {
	if r.LYOccupancy.Valid && r.LYADR.Valid && r.LYRevenue.Valid {
		return false, nil
	}
	snap, err := h.FindLastYear(ctx, r.PropertyID, r.RecordDate)
	if err != nil || snap == nil {
		return false, err
	}

	r.LYOccupancy = coalesce(r.LYOccupancy, snap.Occupancy)
	r.LYRevenue = coalesce(r.LYRevenue, snap.Revenue)
	if !r.LYADR.Valid && snap.ADR.Valid {
		r.LYADR = decimal.NewNullDecimal(snap.ADR.Decimal.Round(2))
	}
	h.logger.Debug("[historical] %s: last year from %s", r.DateKey(), snap.Date.Format(models.DateLayout))
	return true, nil
}

func coalesce(have, fallback decimal.NullDecimal) decimal.NullDecimal {
	if have.Valid {
		return have
	}
	return fallback
}
