package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"odpbot/internal/httpx"
)

// ErrNotFound is returned when no valid coordinate pair can be extracted
var ErrNotFound = errors.New("coordinates not found")

const earthRadiusKm = 6371.0088

var (
	// Patterns tried on URLs, in order of preference
	urlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`@(-?\d+(?:\.\d+)?),\s*(-?\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)[?&](?:q|query|ll|destination)=(?:loc:)?(-?\d+(?:\.\d+)?)(?:,|%2C)\s*(?:\+|%20)?(-?\d+(?:\.\d+)?)`),
		regexp.MustCompile(`!3d(-?\d+(?:\.\d+)?)!4d(-?\d+(?:\.\d+)?)`),
	}

	// A plain "lat,lon" message
	barePair = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*$`)

	// Last resort for resolved page bodies
	loosePair = regexp.MustCompile(`(-?\d+\.\d+),\s*(-?\d+\.\d+)`)

	urlInText = regexp.MustCompile(`(?i)https?://\S+`)
)

// Valid reports whether lat/lon are inside the WGS84 range
func Valid(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) &&
		lat >= -90 && lat <= 90 &&
		lon >= -180 && lon <= 180
}

// DistanceKm returns the great-circle distance between two points
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// MapsLink builds a Google Maps link pointing at lat/lon
func MapsLink(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%s,%s",
		strconv.FormatFloat(lat, 'f', -1, 64), strconv.FormatFloat(lon, 'f', -1, 64))
}

// ParseCoordinates extracts the first valid pair from a maps URL or a plain
// "lat,lon" text without any network access
func ParseCoordinates(input string) (float64, float64, bool) {
	for _, re := range urlPatterns {
		if lat, lon, ok := firstValid(re, input); ok {
			return lat, lon, true
		}
	}
	return firstValid(barePair, input)
}

func firstValid(re *regexp.Regexp, s string) (float64, float64, bool) {
	for _, m := range re.FindAllStringSubmatch(s, -1) {
		lat, errLat := strconv.ParseFloat(m[1], 64)
		lon, errLon := strconv.ParseFloat(m[2], 64)
		if errLat == nil && errLon == nil && Valid(lat, lon) {
			return lat, lon, true
		}
	}
	return 0, 0, false
}

// Extractor resolves coordinates from free text, following shortened maps
// links over HTTP when the text itself carries no pair
type Extractor struct {
	client *httpx.Client
	logger *zap.Logger
}

// NewExtractor creates an extractor; client may be nil to disable link resolution
func NewExtractor(client *httpx.Client, logger *zap.Logger) *Extractor {
	return &Extractor{client: client, logger: logger}
}

// ExtractCoordinates returns the coordinates embedded in input or ErrNotFound.
// Resolution failures are logged and reported as ErrNotFound.
func (e *Extractor) ExtractCoordinates(ctx context.Context, input string) (float64, float64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return 0, 0, ErrNotFound
	}

	if lat, lon, ok := ParseCoordinates(input); ok {
		return lat, lon, nil
	}

	link := urlInText.FindString(input)
	if link == "" || e.client == nil {
		return 0, 0, ErrNotFound
	}

	finalURL, body, err := e.client.Get(ctx, link)
	if err != nil {
		e.logger.Warn("Failed to resolve maps link",
			zap.String("link", link),
			zap.Error(err),
		)
		// A redirect chain may still have landed on a URL with coordinates
		if lat, lon, ok := ParseCoordinates(finalURL); ok {
			return lat, lon, nil
		}
		return 0, 0, ErrNotFound
	}

	if lat, lon, ok := ParseCoordinates(finalURL); ok {
		return lat, lon, nil
	}
	page := string(body)
	if lat, lon, ok := ParseCoordinates(page); ok {
		return lat, lon, nil
	}
	if lat, lon, ok := firstValid(loosePair, page); ok {
		return lat, lon, nil
	}

	e.logger.Debug("No coordinates in resolved link", zap.String("final_url", finalURL))
	return 0, 0, ErrNotFound
}
