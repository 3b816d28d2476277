// Package geo computes daily sunrise and sunset for the configured location.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const nominatimURL = "https://nominatim.openstreetmap.org/search"

// Standard refraction-corrected altitude of the sun's upper limb at sunrise/sunset.
const horizonAngle = -0.833

var (
	// ErrLocationNotFound is returned when geocoding finds nothing.
	ErrLocationNotFound = errors.New("location not found")

	// ErrNoSunEvent is returned on polar days and nights.
	ErrNoSunEvent = errors.New("sun does not rise or set on this date")
)

// Default HTTP client (timeout set per-request via context)
var httpClient = &http.Client{}

// AstroTimes contains astronomical times for a day
type AstroTimes struct {
	Sunrise time.Time `json:"sunrise"`
	Sunset  time.Time `json:"sunset"`
}

// Location represents a geocoded location
type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Calculator calculates astronomical times
type Calculator struct {
	mu    sync.RWMutex
	cache map[string]*AstroTimes // cache by "lat,lon,date"

	// Geocoded location cache (in-memory)
	locationCache map[string]*Location

	// Persistent geocache (optional, backed by SQLite)
	persistentCache *Cache

	// Pre-configured location (optional, avoids geocoding)
	defaultLocation *Location

	// Name to geocode when no coordinates are configured
	locationName string

	// HTTP timeout for geocoding requests
	httpTimeout time.Duration
	geocodeURL  string
}

// NewCalculatorWithCache creates a calculator that geocodes name, caching the
// result in SQLite.
func NewCalculatorWithCache(name string, httpTimeout time.Duration, persistentCache *Cache) *Calculator {
	if httpTimeout == 0 {
		httpTimeout = 10 * time.Second
	}
	return &Calculator{
		cache:           make(map[string]*AstroTimes),
		locationCache:   make(map[string]*Location),
		persistentCache: persistentCache,
		locationName:    name,
		httpTimeout:     httpTimeout,
		geocodeURL:      nominatimURL,
	}
}

// NewCalculatorWithLocation creates a calculator with pre-configured coordinates
// This avoids external geocoding calls entirely
func NewCalculatorWithLocation(name string, lat, lon float64) *Calculator {
	loc := &Location{
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
	}

	log.Info().
		Str("name", name).
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("Geo calculator initialized with pre-configured coordinates")

	return &Calculator{
		cache:           make(map[string]*AstroTimes),
		locationCache:   make(map[string]*Location),
		defaultLocation: loc,
		locationName:    name,
	}
}

// GetTimes returns sunrise and sunset on the calendar day of date, in date's location.
func (c *Calculator) GetTimes(ctx context.Context, date time.Time) (*AstroTimes, error) {
	loc, err := c.getLocation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get location: %w", err)
	}

	// Check cache
	cacheKey := fmt.Sprintf("%.4f,%.4f,%s,%s", loc.Latitude, loc.Longitude, date.Format("2006-01-02"), date.Location())
	c.mu.RLock()
	cached, ok := c.cache[cacheKey]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	times, err := calculate(loc.Latitude, loc.Longitude, date)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[cacheKey] = times
	c.mu.Unlock()

	return times, nil
}

// getLocation returns coordinates for the configured location
// Priority: pre-configured > in-memory cache > persistent cache > geocode
func (c *Calculator) getLocation(ctx context.Context) (*Location, error) {
	if c.defaultLocation != nil {
		return c.defaultLocation, nil
	}

	name := c.locationName

	c.mu.RLock()
	cached, ok := c.locationCache[name]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if c.persistentCache != nil {
		if loc, found := c.persistentCache.Get(ctx, name); found {
			c.mu.Lock()
			c.locationCache[name] = loc
			c.mu.Unlock()
			return loc, nil
		}
	}

	loc, err := c.geocode(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.locationCache[name] = loc
	c.mu.Unlock()

	if c.persistentCache != nil {
		// Already logged; the in-memory copy still serves this process.
		_ = c.persistentCache.Put(ctx, name, loc)
	}

	return loc, nil
}

// geocode performs geocoding via Nominatim with proper timeout
func (c *Calculator) geocode(ctx context.Context, name string) (*Location, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no name or coordinates configured", ErrLocationNotFound)
	}

	timeout := c.httpTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	apiURL := fmt.Sprintf("%s?q=%s&format=json&limit=1", c.geocodeURL, url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "insteond/1.0")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoding failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var results []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, name)
	}

	var lat, lon float64
	if _, err := fmt.Sscanf(results[0].Lat, "%f", &lat); err != nil {
		return nil, fmt.Errorf("bad latitude %q: %w", results[0].Lat, err)
	}
	if _, err := fmt.Sscanf(results[0].Lon, "%f", &lon); err != nil {
		return nil, fmt.Errorf("bad longitude %q: %w", results[0].Lon, err)
	}

	loc := &Location{
		Name:      results[0].DisplayName,
		Latitude:  lat,
		Longitude: lon,
	}

	log.Info().
		Str("query", name).
		Str("resolved", loc.Name).
		Float64("lat", lat).
		Float64("lon", lon).
		Msg("Location geocoded via Nominatim")

	return loc, nil
}

// calculate computes sunrise and sunset with the NOAA sunrise equation
func calculate(lat, lon float64, date time.Time) (*AstroTimes, error) {
	// Julian day - add 0.5 because the NOAA sunrise equation expects JD at noon, not midnight
	jd := toJulianDay(date) + 0.5

	sunrise, ok := sunTime(jd, lat, lon, date.Location(), horizonAngle, true)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %.4f,%.4f", ErrNoSunEvent, date.Format("2006-01-02"), lat, lon)
	}
	sunset, ok := sunTime(jd, lat, lon, date.Location(), horizonAngle, false)
	if !ok {
		return nil, fmt.Errorf("%w: %s at %.4f,%.4f", ErrNoSunEvent, date.Format("2006-01-02"), lat, lon)
	}

	return &AstroTimes{Sunrise: sunrise, Sunset: sunset}, nil
}

// toJulianDay converts a date to Julian day number
func toJulianDay(t time.Time) float64 {
	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())

	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	return math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
}

// sunTime calculates sunrise or sunset time. ok is false when the sun stays
// above or below angle all day.
func sunTime(jd, lat, lon float64, tz *time.Location, angle float64, rising bool) (time.Time, bool) {
	// Approximate solar noon
	n := jd - 2451545.0 + 0.0008
	jStar := n - lon/360.0

	// Solar mean anomaly
	m := math.Mod(357.5291+0.98560028*jStar, 360.0)
	mRad := m * math.Pi / 180.0

	// Equation of center
	c := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude
	lambda := math.Mod(m+c+180+102.9372, 360.0)
	lambdaRad := lambda * math.Pi / 180.0

	// Solar transit
	jTransit := 2451545.0 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lambdaRad)

	// Declination of the sun
	sinDec := math.Sin(lambdaRad) * math.Sin(23.44*math.Pi/180.0)
	dec := math.Asin(sinDec)

	// Hour angle
	latRad := lat * math.Pi / 180.0
	angleRad := angle * math.Pi / 180.0

	cosOmega := (math.Sin(angleRad) - math.Sin(latRad)*math.Sin(dec)) / (math.Cos(latRad) * math.Cos(dec))
	if cosOmega > 1 || cosOmega < -1 {
		return time.Time{}, false
	}

	omega := math.Acos(cosOmega) * 180.0 / math.Pi

	var jTime float64
	if rising {
		jTime = jTransit - omega/360.0
	} else {
		jTime = jTransit + omega/360.0
	}

	return julianToTime(jTime, tz), true
}

// julianToTime converts Julian day to time.Time in tz
func julianToTime(jd float64, tz *time.Location) time.Time {
	unixTime := (jd - 2440587.5) * 86400.0
	sec := math.Floor(unixTime)
	return time.Unix(int64(sec), 0).In(tz)
}
