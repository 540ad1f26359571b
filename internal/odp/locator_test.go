package odp

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"odpbot/internal/models"
	"odpbot/internal/storage"
	"odpbot/internal/storage/stubs"
)

func entry(sto, name string, lat, lon float64) models.ODPEntry {
	return models.ODPEntry{STO: sto, Name: name, Latitude: lat, Longitude: lon, Available: "1", HasCoordinates: true}
}

func newLocator(t *testing.T, entries []models.ODPEntry) *Locator {
	t.Helper()
	db := stubs.NewMockDB()
	db.SetODPs(entries)
	return NewLocator(db, 0, zap.NewNop())
}

func TestFindNearest_BandungScenario(t *testing.T) {
	l := newLocator(t, []models.ODPEntry{
		entry("BDG", "ODP-FAR", -6.95, 107.70),
		{STO: "BDG", Name: "ODP-NOCOORD", Available: "3"},
		entry("BDG", "ODP-NEAR", -6.9145, 107.6095),
		entry("BDG", "ODP-BAD", 123.0, 107.6),
		entry("BDG", "ODP-MID", -6.92, 107.62),
	})

	matches, err := l.FindNearest(context.Background(), -6.914, 107.609, 0)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "ODP-NEAR", matches[0].Entry.Name)
	assert.Equal(t, "ODP-MID", matches[1].Entry.Name)
	assert.Equal(t, "ODP-FAR", matches[2].Entry.Name)
}

func TestFindNearest_SortedAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var entries []models.ODPEntry
	for i := 0; i < 200; i++ {
		entries = append(entries, entry("STO", "ODP", -8+rng.Float64()*4, 105+rng.Float64()*4))
	}
	l := newLocator(t, entries)

	for _, k := range []int{1, 5, 17, 200, 500} {
		matches, err := l.FindNearest(context.Background(), -6.2, 106.8, k)
		require.NoError(t, err)
		want := k
		if want > len(entries) {
			want = len(entries)
		}
		require.Len(t, matches, want)
		for i := 1; i < len(matches); i++ {
			assert.LessOrEqual(t, matches[i-1].DistanceKm, matches[i].DistanceKm)
		}
	}
}

func TestFindNearest_DefaultCount(t *testing.T) {
	var entries []models.ODPEntry
	for i := 0; i < 8; i++ {
		entries = append(entries, entry("S", "ODP", -6+float64(i)*0.01, 106))
	}
	l := newLocator(t, entries)

	matches, err := l.FindNearest(context.Background(), -6, 106, 0)
	require.NoError(t, err)
	assert.Len(t, matches, DefaultNearestCount)

	custom := NewLocator(stubs.NewMockDB(), 3, zap.NewNop())
	assert.Equal(t, 3, custom.DefaultCount())
}

func TestFindNearest_TiesKeepSheetOrder(t *testing.T) {
	l := newLocator(t, []models.ODPEntry{
		entry("A", "first", -6.0, 106.0),
		entry("B", "second", -6.0, 106.0),
		entry("C", "third", -6.0, 106.0),
	})

	matches, err := l.FindNearest(context.Background(), -6.1, 106.1, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "first", matches[0].Entry.Name)
	assert.Equal(t, "second", matches[1].Entry.Name)
	assert.Equal(t, "third", matches[2].Entry.Name)
}

func TestFindNearest_NoValidEntries(t *testing.T) {
	l := newLocator(t, []models.ODPEntry{
		{STO: "X", Name: "missing"},
		entry("X", "out of range", -100, 500),
	})

	matches, err := l.FindNearest(context.Background(), -6.2, 106.8, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = l.DetectSTO(context.Background(), -6.2, 106.8)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDetectSTO(t *testing.T) {
	l := newLocator(t, []models.ODPEntry{
		entry("GMR", "ODP-GMR-01", -6.1754, 106.8272),
		entry("KBB", "ODP-KBB-01", -6.2010, 106.8150),
	})

	m, err := l.DetectSTO(context.Background(), -6.200, 106.816)
	require.NoError(t, err)
	assert.Equal(t, "KBB", m.Entry.STO)
	assert.Equal(t, "ODP-KBB-01", m.Entry.Name)

	blank := newLocator(t, []models.ODPEntry{entry("", "ODP-NOSTO", -6.2, 106.8)})
	_, err = blank.DetectSTO(context.Background(), -6.2, 106.8)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindNearest_StoreUnavailable(t *testing.T) {
	db := stubs.NewMockDB()
	db.Err = errors.New("sheets down")
	l := NewLocator(db, 5, zap.NewNop())

	_, err := l.FindNearest(context.Background(), -6.2, 106.8, 5)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}
