package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/storage"
	"rms-pricing-scraper/storage/storagetest"
)

type snapshotStoreFunc func(ctx context.Context, propertyID int64, date time.Time) (*models.HistoricalSnapshot, error)

func (f snapshotStoreFunc) SnapshotOn(ctx context.Context, propertyID int64, date time.Time) (*models.HistoricalSnapshot, error) {
	return f(ctx, propertyID, date)
}

func TestFindLastYearPrefersClosestEarlierDate(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "p-1", "Quality Inn")

	target := storagetest.Date(t, "2026-07-15")
	anchor := target.AddDate(0, 0, -365)
	storagetest.SeedSnapshot(t, s, pid, anchor.AddDate(0, 0, 2), "0.9", "150", "13500")
	storagetest.SeedSnapshot(t, s, pid, anchor.AddDate(0, 0, -1), "0.6", "110", "6600")

	h := NewHistoricalMatcher(s, newTestLogger())
	snap, err := h.FindLastYear(ctx, pid, target)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, anchor.AddDate(0, 0, -1).Format(models.DateLayout), snap.Date.Format(models.DateLayout))
	requireDec(t, "0.6", snap.Occupancy)
}

func TestFindLastYearExactAnchorWins(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "p-1", "Quality Inn")

	target := storagetest.Date(t, "2026-07-15")
	anchor := target.AddDate(0, 0, -365)
	storagetest.SeedSnapshot(t, s, pid, anchor, "0.7", "", "")
	storagetest.SeedSnapshot(t, s, pid, anchor.AddDate(0, 0, -1), "0.6", "", "")

	snap, err := NewHistoricalMatcher(s, newTestLogger()).FindLastYear(ctx, pid, target)
	require.NoError(t, err)
	requireDec(t, "0.7", snap.Occupancy)
}

func TestFindLastYearOutsideWindow(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "p-1", "Quality Inn")

	target := storagetest.Date(t, "2026-07-15")
	storagetest.SeedSnapshot(t, s, pid, target.AddDate(0, 0, -365-4), "0.6", "", "")

	snap, err := NewHistoricalMatcher(s, newTestLogger()).FindLastYear(ctx, pid, target)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFindLastYearProbeOrder(t *testing.T) {
	target := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	anchor := target.AddDate(0, 0, -365)
	var probed []int

	store := snapshotStoreFunc(func(_ context.Context, _ int64, d time.Time) (*models.HistoricalSnapshot, error) {
		probed = append(probed, int(d.Sub(anchor).Hours()/24))
		return nil, storage.ErrNotFound
	})
	snap, err := NewHistoricalMatcher(store, newTestLogger()).FindLastYear(context.Background(), 1, target)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Equal(t, []int{0, -1, 1, -2, 2, -3, 3}, probed)
}

func TestFindLastYearStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	store := snapshotStoreFunc(func(context.Context, int64, time.Time) (*models.HistoricalSnapshot, error) {
		return nil, boom
	})
	_, err := NewHistoricalMatcher(store, newTestLogger()).FindLastYear(context.Background(), 1, time.Now())
	require.ErrorIs(t, err, boom)
}

func TestEnrichFillsOnlyMissingFields(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "p-1", "Quality Inn")
	target := storagetest.Date(t, "2026-07-15")
	storagetest.SeedSnapshot(t, s, pid, target.AddDate(0, 0, -365), "0.8", "123.456", "9876.5")

	r := &models.PricingRecord{
		PropertyID:  pid,
		RecordDate:  target,
		LYOccupancy: dec("0.55"),
	}
	used, err := NewHistoricalMatcher(s, newTestLogger()).Enrich(ctx, r)
	require.NoError(t, err)
	assert.True(t, used)

	requireDec(t, "0.55", r.LYOccupancy)
	requireDec(t, "123.46", r.LYADR)
	requireDec(t, "9876.5", r.LYRevenue)
}

func TestEnrichSkipsCompleteRecords(t *testing.T) {
	calls := 0
	store := snapshotStoreFunc(func(context.Context, int64, time.Time) (*models.HistoricalSnapshot, error) {
		calls++
		return nil, storage.ErrNotFound
	})
	r := &models.PricingRecord{LYOccupancy: dec("0.5"), LYADR: dec("100"), LYRevenue: dec("5000")}

	used, err := NewHistoricalMatcher(store, newTestLogger()).Enrich(context.Background(), r)
	require.NoError(t, err)
	assert.False(t, used)
	assert.Zero(t, calls)
}
