package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/storage"
	"rms-pricing-scraper/storage/storagetest"
)

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func intp(n int) *int { return &n }

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := storage.Open(context.Background(), "mysql", "", nil)
	require.Error(t, err)
}

func TestUpsertPricingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "2e38cbf4-9693-486b-8d5a-54fb62e91a52", "Comfort Inn")
	day := storagetest.Date(t, "2026-02-10")

	rec := &models.PricingRecord{
		PropertyID:     pid,
		RecordDate:     day,
		StandardPrice:  dec("85.5"),
		Occupancy:      dec("0.2"),
		TotalRooms:     intp(100),
		AvailableRooms: intp(15),
		UpdatedByRM:    true,
	}

	inserted, err := s.UpsertPricing(ctx, rec)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = s.UpsertPricing(ctx, rec)
	require.NoError(t, err)
	require.False(t, inserted)

	n, err := s.CountPricing(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.GetPricing(ctx, pid, day)
	require.NoError(t, err)
	require.True(t, got.StandardPrice.Decimal.Equal(decimal.RequireFromString("85.5")))
	require.True(t, got.Occupancy.Decimal.Equal(decimal.RequireFromString("0.2")))
	require.Equal(t, 15, *got.AvailableRooms)
	require.Nil(t, got.OutOfOrder)
	require.False(t, got.LYADR.Valid)
	require.True(t, got.UpdatedByRM)
	require.Nil(t, got.RunID)
}

func TestUpsertPricingOverwritesEveryColumn(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "u-1", "Hotel")
	day := storagetest.Date(t, "2026-03-01")

	_, err := s.UpsertPricing(ctx, &models.PricingRecord{
		PropertyID: pid, RecordDate: day,
		StandardPrice: dec("100"), ADR: dec("90"), OnTheBooks: intp(40),
	})
	require.NoError(t, err)

	_, err = s.UpsertPricing(ctx, &models.PricingRecord{
		PropertyID: pid, RecordDate: day,
		StandardPrice: dec("110"),
	})
	require.NoError(t, err)

	got, err := s.GetPricing(ctx, pid, day)
	require.NoError(t, err)
	require.True(t, got.StandardPrice.Decimal.Equal(decimal.NewFromInt(110)))
	require.False(t, got.ADR.Valid)
	require.Nil(t, got.OnTheBooks)
}

func TestGetPricingNotFound(t *testing.T) {
	s := storagetest.Open(t)
	_, err := s.GetPricing(context.Background(), 1, storagetest.Date(t, "2026-01-01"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPreviousStandardPrice(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "u-1", "Hotel")

	prev, err := s.PreviousStandardPrice(ctx, pid, storagetest.Date(t, "2026-02-10"))
	require.NoError(t, err)
	require.False(t, prev.Valid)

	for _, row := range []struct {
		date  string
		price decimal.NullDecimal
	}{
		{"2026-02-07", dec("95")},
		{"2026-02-08", dec("100.00")},
		{"2026-02-09", decimal.NullDecimal{}},
		{"2026-02-10", dec("120")},
	} {
		_, err := s.UpsertPricing(ctx, &models.PricingRecord{
			PropertyID: pid, RecordDate: storagetest.Date(t, row.date), StandardPrice: row.price,
		})
		require.NoError(t, err)
	}

	prev, err = s.PreviousStandardPrice(ctx, pid, storagetest.Date(t, "2026-02-10"))
	require.NoError(t, err)
	require.True(t, prev.Valid)
	require.True(t, prev.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	window := models.NewDateRange(storagetest.Date(t, "2026-01-15"), 30)

	id, err := s.CreateRun(ctx, 7, window)
	require.NoError(t, err)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.RunRunning, run.Status)
	require.Equal(t, int64(7), run.PlatformID)
	require.Equal(t, "2026-02-13", run.DateRange.End.Format(models.DateLayout))

	require.NoError(t, s.FinishRun(ctx, id, models.RunCompleted, 12, ""))

	err = s.FinishRun(ctx, id, models.RunFailed, 0, "late failure")
	require.ErrorIs(t, err, storage.ErrRunFinalized)

	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.RunCompleted, run.Status)
	require.Equal(t, 12, run.RecordsCreated)
	require.Empty(t, run.ErrorMessage)
}

func TestFinishRunRejectsRunningStatus(t *testing.T) {
	s := storagetest.Open(t)
	err := s.FinishRun(context.Background(), 1, models.RunRunning, 0, "")
	require.Error(t, err)
}

func TestGetRunNotFound(t *testing.T) {
	s := storagetest.Open(t)
	_, err := s.GetRun(context.Background(), 404)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSnapshotOn(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "u-1", "Hotel")
	day := storagetest.Date(t, "2025-02-10")
	storagetest.SeedSnapshot(t, s, pid, day, "0.75", "120.5", "")

	snap, err := s.SnapshotOn(ctx, pid, day)
	require.NoError(t, err)
	require.True(t, snap.Occupancy.Decimal.Equal(decimal.RequireFromString("0.75")))
	require.True(t, snap.ADR.Decimal.Equal(decimal.RequireFromString("120.5")))
	require.False(t, snap.Revenue.Valid)

	_, err = s.SnapshotOn(ctx, pid, day.AddDate(0, 0, 1))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActivePlatformsGroupsProperties(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	a := storagetest.SeedProperty(t, s, "uuid-a", "Alpha Inn")
	b := storagetest.SeedProperty(t, s, "uuid-b", "Beta Suites")
	c := storagetest.SeedProperty(t, s, "uuid-c", "Gamma Lodge")

	choice := storagetest.SeedPlatform(t, s, "Choice MAX", "user1", "pw1",
		models.PlatformConfig{LastFourDigits: "1234"}, a, b)
	storagetest.SeedPlatform(t, s, "Wyndham RevIQ", "user2", "pw2", models.PlatformConfig{}, c)
	storagetest.SeedPlatform(t, s, "choice max (spare)", "user3", "pw3", models.PlatformConfig{})

	platforms, err := s.ActivePlatforms(ctx, "CHOICE")
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	require.Equal(t, choice, platforms[0].ID)
	require.Equal(t, "1234", platforms[0].Config.LastFourDigits)
	require.Len(t, platforms[0].Properties, 2)
	require.Equal(t, "Alpha Inn", platforms[0].Properties[0].HotelName)

	id, err := s.PropertyIDByUUID(ctx, "uuid-b")
	require.NoError(t, err)
	require.Equal(t, b, id)

	_, err = s.PropertyIDByUUID(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.TouchPlatform(ctx, choice))
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	s := storagetest.Open(t)
	pid := storagetest.SeedProperty(t, s, "u-1", "Hotel")
	storagetest.SeedPlatform(t, s, "Choice MAX", "u", "p", models.PlatformConfig{}, pid)

	window := models.NewDateRange(storagetest.Date(t, "2026-01-01"), 5)
	ok, err := s.CreateRun(ctx, 1, window)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, ok, models.RunCompleted, 5, ""))
	bad, err := s.CreateRun(ctx, 1, window)
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(ctx, bad, models.RunFailed, 0, "capture timeout"))

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.TotalProperties)
	require.Equal(t, 1, st.ActivePlatforms)
	require.Equal(t, 2, st.TotalRuns)
	require.Equal(t, 1, st.SuccessfulRuns)
	require.Equal(t, 1, st.FailedRuns)
	require.Equal(t, models.RunFailed, models.RunStatus(st.LastRunStatus))
}

func TestCSVWriterAppendsWithSingleHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.csv")
	rec := &models.PricingRecord{
		PropertyUUID:  "u-1",
		RecordDate:    time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		StandardPrice: dec("85.5"),
		OnTheBooks:    intp(80),
	}

	for i := 0; i < 2; i++ {
		w, err := storage.NewCSVWriter(path)
		require.NoError(t, err)
		require.NoError(t, w.WriteRecords([]*models.PricingRecord{rec}))
		require.NoError(t, w.Close())
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "property_uuid,record_date"))
	require.True(t, strings.HasPrefix(lines[1], "u-1,2026-02-10,Tuesday,85.5,,"))
}

func TestPayloadFileIndentsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.json")
	p := storage.NewPayloadFile(path)

	require.NoError(t, p.WritePayload([]byte(`[{"id":"x","dates":[]}]`)))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "\n  {")

	require.NoError(t, p.WritePayload([]byte(`not json`)))
	raw, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "not json", string(raw))
}
