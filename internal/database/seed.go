package database

import (
	"context"
	"fmt"

	"dockqueue-backend/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

func strPtr(s string) *string { return &s }

// DefaultWaypoints is the destination reference table loaded on first boot.
var DefaultWaypoints = []models.Waypoint{
	{ID: "c2b0a7a4-6f0e-4b8e-9a51-0d1f6c1e0001", City: "Santiago", Code: "XPT-STGO", Latitude: -33.4489, Longitude: -70.6693, RadiusMeters: 800},
	{ID: "c2b0a7a4-6f0e-4b8e-9a51-0d1f6c1e0002", City: "Valparaíso", Code: "XPT-VAP", Latitude: -33.0472, Longitude: -71.6127, RadiusMeters: 600, Origin: strPtr("SCL")},
	{ID: "c2b0a7a4-6f0e-4b8e-9a51-0d1f6c1e0003", City: "Rancagua", Code: "XPT-RAN", Latitude: -34.1708, Longitude: -70.7444, RadiusMeters: 500},
	{ID: "c2b0a7a4-6f0e-4b8e-9a51-0d1f6c1e0004", City: "Concepción", Code: "XPT-CCP", Latitude: -36.8201, Longitude: -73.0444, RadiusMeters: 700},
	{ID: "c2b0a7a4-6f0e-4b8e-9a51-0d1f6c1e0005", City: "Antofagasta", Code: "XPT-ANF", Latitude: -23.6509, Longitude: -70.3975, RadiusMeters: 700},
}

// SeedWaypoints inserts waypoints when the table is empty.
func SeedWaypoints(ctx context.Context, db *sqlx.DB, waypoints []models.Waypoint) error {
	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM waypoints"); err != nil {
		return fmt.Errorf("count waypoints: %w", err)
	}
	if count > 0 {
		log.Info().Int("count", count).Msg("✓ Waypoints already seeded, skipping...")
		return nil
	}

	log.Info().Int("count", len(waypoints)).Msg("🌱 Seeding waypoints...")
	query := `
		INSERT INTO waypoints (id, city, code, latitude, longitude, radius_meters, origin)
		VALUES (:id, :city, :code, :latitude, :longitude, :radius_meters, :origin)
		ON CONFLICT (code) DO NOTHING
	`
	for _, wp := range waypoints {
		if _, err := db.NamedExecContext(ctx, query, wp); err != nil {
			return fmt.Errorf("seed waypoint %s: %w", wp.Code, err)
		}
	}
	log.Info().Msg("✓ Successfully seeded waypoints")
	return nil
}
