package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"rms-pricing-scraper/models"
)

// ActivePlatforms returns active credential groups whose name contains
// portalName (case-insensitive), each with its linked properties. Groups
// without a username/password or without properties are not returned.
func (s *Store) ActivePlatforms(ctx context.Context, portalName string) ([]*models.Platform, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pl.id, pl.platform_name, pl.username, pl.password, COALESCE(pl.config, ''),
		       p.id, p.uuid, p.property_code, p.hotel_name
		FROM platforms pl
		JOIN property_platforms pp ON pp.platform_id = pl.id
		JOIN properties p          ON p.id = pp.property_id
		WHERE LOWER(pl.platform_name) LIKE $1
		  AND pl.status = 'active'
		  AND pl.username IS NOT NULL
		  AND pl.password IS NOT NULL
		ORDER BY pl.id, p.hotel_name
	`, "%"+strings.ToLower(portalName)+"%")
	if err != nil {
		return nil, fmt.Errorf("platforms: query: %w", err)
	}
	defer rows.Close()

	var platforms []*models.Platform
	byID := make(map[int64]*models.Platform)
	for rows.Next() {
		var (
			pl      models.Platform
			rawConf string
			prop    models.PropertyIdentity
		)
		if err := rows.Scan(&pl.ID, &pl.Name, &pl.Username, &pl.Password, &rawConf,
			&prop.ID, &prop.UUID, &prop.Code, &prop.HotelName); err != nil {
			return nil, fmt.Errorf("platforms: scan: %w", err)
		}

		existing, ok := byID[pl.ID]
		if !ok {
			if rawConf != "" {
				if err := json.Unmarshal([]byte(rawConf), &pl.Config); err != nil {
					return nil, fmt.Errorf("platforms: config of %d: %w", pl.ID, err)
				}
			}
			existing = &pl
			byID[pl.ID] = existing
			platforms = append(platforms, existing)
		}
		existing.Properties = append(existing.Properties, prop)
	}
	return platforms, rows.Err()
}

// PropertyIDByUUID resolves a portal UUID to the internal property id.
func (s *Store) PropertyIDByUUID(ctx context.Context, uuid string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM properties WHERE LOWER(uuid) = LOWER($1) LIMIT 1`, uuid).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("properties: by uuid %s: %w", uuid, err)
	}
	return id, nil
}

// TouchPlatform records that a platform was scraped just now.
func (s *Store) TouchPlatform(ctx context.Context, platformID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE platforms SET last_scraped_at = CURRENT_TIMESTAMP WHERE id = $1`, platformID)
	if err != nil {
		return fmt.Errorf("platforms: touch %d: %w", platformID, err)
	}
	return nil
}
