// Package storagetest opens throwaway in-memory stores and seeds the
// registry tables the pipeline only reads.
package storagetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/storage"
)

// Open returns a fresh in-memory sqlite store closed at test cleanup.
func Open(t testing.TB) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), "sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// SeedProperty inserts a property and returns its id.
func SeedProperty(t testing.TB, s *storage.Store, uuid, hotelName string) int64 {
	t.Helper()
	var id int64
	err := s.DB().QueryRow(
		`INSERT INTO properties (uuid, property_code, hotel_name) VALUES ($1, $2, $3) RETURNING id`,
		uuid, "", hotelName,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

// SeedPlatform inserts an active credential group linked to propertyIDs.
func SeedPlatform(t testing.TB, s *storage.Store, name, username, password string, cfg models.PlatformConfig, propertyIDs ...int64) int64 {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)

	var id int64
	err = s.DB().QueryRow(
		`INSERT INTO platforms (platform_name, username, password, status, config) VALUES ($1, $2, $3, 'active', $4) RETURNING id`,
		name, username, password, string(raw),
	).Scan(&id)
	require.NoError(t, err)

	for _, pid := range propertyIDs {
		_, err := s.DB().Exec(
			`INSERT INTO property_platforms (property_id, platform_id) VALUES ($1, $2)`, pid, id)
		require.NoError(t, err)
	}
	return id
}

// SeedSnapshot stores last year's figures for one date. Empty strings are NULL.
func SeedSnapshot(t testing.TB, s *storage.Store, propertyID int64, date time.Time, occupancy, adr, revenue string) {
	t.Helper()
	_, err := s.DB().Exec(
		`INSERT INTO historical_snapshots (property_id, snapshot_date, occupancy, adr, revenue) VALUES ($1, $2, $3, $4, $5)`,
		propertyID, date.Format(models.DateLayout), nullable(occupancy), nullable(adr), nullable(revenue),
	)
	require.NoError(t, err)
}

// Date parses a DateLayout string or fails the test.
func Date(t testing.TB, s string) time.Time {
	t.Helper()
	d, err := time.Parse(models.DateLayout, s)
	require.NoError(t, err)
	return d
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
