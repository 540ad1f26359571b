package odp

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"odpbot/internal/geo"
	"odpbot/internal/models"
	"odpbot/internal/storage"
)

// DefaultNearestCount is used when no count is configured
const DefaultNearestCount = 5

// Match is an ODP with its distance from the query point
type Match struct {
	Entry      models.ODPEntry
	DistanceKm float64
}

// Locator ranks ODPs by distance. Entries are read from the store on every
// call since the sheet may change between calls.
type Locator struct {
	store        storage.RecordStore
	defaultCount int
	logger       *zap.Logger
}

// NewLocator creates a locator returning defaultCount matches when FindNearest gets k <= 0
func NewLocator(store storage.RecordStore, defaultCount int, logger *zap.Logger) *Locator {
	if defaultCount <= 0 {
		defaultCount = DefaultNearestCount
	}
	return &Locator{store: store, defaultCount: defaultCount, logger: logger}
}

// DefaultCount returns the number of matches FindNearest returns by default
func (l *Locator) DefaultCount() int {
	return l.defaultCount
}

// FindNearest returns up to k entries ordered by distance, ties keeping sheet
// order. Entries with invalid coordinates are skipped; no valid entries yields
// an empty slice.
func (l *Locator) FindNearest(ctx context.Context, lat, lon float64, k int) ([]Match, error) {
	if k <= 0 {
		k = l.defaultCount
	}

	entries, err := l.store.ListODPEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ODP entries: %w", err)
	}

	matches := Rank(entries, lat, lon)
	skipped := len(entries) - len(matches)
	if skipped > 0 {
		l.logger.Debug("Skipped ODP entries with invalid coordinates", zap.Int("count", skipped))
	}

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// DetectSTO returns the nearest entry, or storage.ErrNotFound when there is
// none or it carries no STO code
func (l *Locator) DetectSTO(ctx context.Context, lat, lon float64) (Match, error) {
	matches, err := l.FindNearest(ctx, lat, lon, 1)
	if err != nil {
		return Match{}, err
	}
	if len(matches) == 0 || matches[0].Entry.STO == "" {
		return Match{}, storage.ErrNotFound
	}
	return matches[0], nil
}

// Rank computes distances for every valid entry and sorts them ascending
func Rank(entries []models.ODPEntry, lat, lon float64) []Match {
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		if !e.Valid() {
			continue
		}
		matches = append(matches, Match{
			Entry:      e,
			DistanceKm: geo.DistanceKm(lat, lon, e.Latitude, e.Longitude),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].DistanceKm < matches[j].DistanceKm
	})
	return matches
}
