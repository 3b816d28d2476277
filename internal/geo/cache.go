package geo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache keeps the configured place name's coordinates in SQLite, so a daemon
// restart computes sunrise and sunset without a Nominatim round trip.
// Place names are matched case-insensitively with surrounding space trimmed.
type Cache struct {
	db  *sql.DB
	now func() time.Time
}

func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db, now: time.Now}
}

func cacheKey(place string) string {
	return strings.ToLower(strings.TrimSpace(place))
}

// Get reports a miss on any read error; the caller falls back to geocoding.
func (c *Cache) Get(ctx context.Context, place string) (*Location, bool) {
	key := cacheKey(place)

	var loc Location
	row := c.db.QueryRowContext(ctx,
		`SELECT display_name, latitude, longitude FROM geocache WHERE query = ?`, key)
	switch err := row.Scan(&loc.Name, &loc.Latitude, &loc.Longitude); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false
	case err != nil:
		log.Warn().Err(err).Str("place", key).Msg("Geocache read failed, will geocode")
		return nil, false
	}

	log.Debug().
		Str("place", key).
		Str("resolved", loc.Name).
		Msg("Location loaded from geocache")
	return &loc, true
}

// Put overwrites any earlier entry for place.
func (c *Cache) Put(ctx context.Context, place string, loc *Location) error {
	key := cacheKey(place)

	if _, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO geocache (query, display_name, latitude, longitude, created_at) VALUES (?, ?, ?, ?, ?)`,
		key, loc.Name, loc.Latitude, loc.Longitude, c.now().Unix(),
	); err != nil {
		log.Warn().Err(err).Str("place", key).Msg("Geocache write failed")
		return err
	}

	log.Info().
		Str("place", key).
		Str("resolved", loc.Name).
		Float64("lat", loc.Latitude).
		Float64("lon", loc.Longitude).
		Msg("Location saved to geocache")
	return nil
}
