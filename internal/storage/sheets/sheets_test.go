package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"odpbot/internal/models"
	"odpbot/internal/storage"
)

// fakeSheets emulates the subset of the Sheets v4 values API the store uses
type fakeSheets struct {
	mu       sync.Mutex
	tabs     map[string][][]string
	appended [][]interface{}
	updated  [][]interface{}

	// failures counts down; while positive every request gets failStatus
	failures   int32
	failStatus int
	requests   int32
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.requests, 1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.failStatus)
		io.WriteString(w, `{"error":{"code":401,"message":"Request had invalid authentication credentials."}}`)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// /v4/spreadsheets/{id}/values/{range}[:append]
	idx := strings.Index(r.URL.Path, "/values/")
	rng := r.URL.Path[idx+len("/values/"):]
	tab := strings.Trim(strings.SplitN(strings.TrimSuffix(rng, ":append"), "!", 2)[0], "'")

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(rng, ":append"):
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.appended = append(f.appended, body.Values...)
		for _, row := range body.Values {
			cells := make([]string, len(row))
			for i, c := range row {
				cells[i], _ = c.(string)
			}
			f.tabs[tab] = append(f.tabs[tab], cells)
		}
		n := len(f.tabs[tab])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"updates": map[string]interface{}{"updatedRange": tab + "!A" + strconv.Itoa(n) + ":K" + strconv.Itoa(n)},
		})
	case r.Method == http.MethodPut:
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.updated = append(f.updated, body.Values...)
		json.NewEncoder(w).Encode(map[string]interface{}{"updatedRows": 1})
	default:
		rows := f.tabs[tab]
		if strings.Contains(rng, "A1:K1") && len(rows) > 1 {
			rows = rows[:1]
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"range": rng, "values": rows})
	}
}

func setup(t *testing.T, tabs map[string][][]string) (*SheetsDB, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{tabs: tabs, failStatus: http.StatusUnauthorized}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	db, err := NewSheetsDB(context.Background(), Config{
		SpreadsheetID:    "sheet-id",
		DataSheet:        "Data",
		CredentialsSheet: "Credentials",
		ODPSheet:         "ODP",
		Location:         time.UTC,
		Timeout:          5 * time.Second,
		Endpoint:         srv.URL + "/",
	}, zap.NewNop())
	require.NoError(t, err)
	return db, fake
}

func TestSheetsDB_GetCredentials(t *testing.T) {
	db, _ := setup(t, map[string][][]string{
		"Credentials": {
			{"Telegram ID", "Nama", "Witel", "STO", "Permission"},
			{"111", "Budi", "Bandung", "BDG", "TRUE"},
			{"222", "Sari", "Jakarta", "GMR", "no"},
		},
	})
	ctx := context.Background()

	creds, err := db.GetCredentials(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "Budi", creds.DisplayName)
	assert.Equal(t, "BDG", creds.STO)
	assert.Equal(t, "Bandung", creds.Witel)
	assert.True(t, creds.Permitted)

	creds, err = db.GetCredentials(ctx, "222")
	require.NoError(t, err)
	assert.False(t, creds.Permitted)

	_, err = db.GetCredentials(ctx, "333")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSheetsDB_AppendAndListRecords(t *testing.T) {
	db, fake := setup(t, map[string][][]string{
		"Data": {models.DataColumnHeaders[:]},
	})
	ctx := context.Background()

	lat, lon := -6.2, 106.816
	for _, addr := range []string{"Jl. Merdeka 1", "Jl. Sudirman 2"} {
		_, err := db.AppendRecord(ctx, models.UserData{
			Identity:     "111",
			BusinessType: "Retail",
			Address:      addr,
			Latitude:     &lat,
			Longitude:    &lon,
			Package:      "50Mbps",
			STO:          "KBB",
			PhotoURL:     "https://blob/x.jpg",
			SubmittedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	_, err := db.AppendRecord(ctx, models.UserData{Identity: "999", Address: "other"})
	require.NoError(t, err)

	require.Len(t, fake.appended, 3)
	first := fake.appended[0]
	require.Len(t, first, models.DataColumnCount)
	assert.Equal(t, "2024-05-01 10:00:00", first[models.ColTimestamp])
	assert.Equal(t, "111", first[models.ColIdentity])
	assert.Equal(t, "Retail", first[models.ColBusinessType])
	assert.Equal(t, "Jl. Merdeka 1", first[models.ColAddress])
	assert.Equal(t, "-6.200000", first[models.ColLatitude])
	assert.Equal(t, "106.816000", first[models.ColLongitude])
	assert.Equal(t, "50Mbps", first[models.ColPackage])
	assert.Equal(t, "KBB", first[models.ColSTO])
	assert.Equal(t, "https://blob/x.jpg", first[models.ColPhotoURL])

	records, err := db.ListRecords(ctx, "111", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Jl. Sudirman 2", records[0].Address)
	assert.Equal(t, 3, records[0].Row)
	assert.Equal(t, "Jl. Merdeka 1", records[1].Address)
	require.True(t, records[1].HasCoordinates())
	assert.Equal(t, -6.2, *records[1].Latitude)

	limited, err := db.ListRecords(ctx, "111", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSheetsDB_ListODPEntries(t *testing.T) {
	db, _ := setup(t, map[string][][]string{
		"ODP": {
			{"STO", "ODP", "LATITUDE", "LONGITUDE", "AVAI"},
			{"BDG", "ODP-BDG-01", "-6.9147", "107.6098", "5"},
			{"BDG", "ODP-BDG-02", "-6,92", "107,61"},
			{"BDG", "ODP-BDG-03", "", "107.61", "2"},
			{"BDG", "", "-6.9", "107.6", "1"},
		},
	})

	entries, err := db.ListODPEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "ODP-BDG-01", entries[0].Name)
	assert.True(t, entries[0].Valid())
	assert.Equal(t, "5", entries[0].Available)
	assert.Equal(t, 2, entries[0].Row)

	assert.InDelta(t, -6.92, entries[1].Latitude, 1e-9)
	assert.Equal(t, "N/A", entries[1].Available)
	assert.True(t, entries[1].Valid())

	assert.False(t, entries[2].Valid())
}

func TestSheetsDB_ODPMissingColumns(t *testing.T) {
	db, _ := setup(t, map[string][][]string{
		"ODP": {{"STO", "NAME"}, {"BDG", "x"}},
	})

	_, err := db.ListODPEntries(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestSheetsDB_ReauthenticatesOnce(t *testing.T) {
	db, fake := setup(t, map[string][][]string{
		"Credentials": {{"Telegram ID", "Nama", "STO"}, {"111", "Budi", "BDG"}},
	})
	ctx := context.Background()

	fake.failures = 1
	creds, err := db.GetCredentials(ctx, "111")
	require.NoError(t, err)
	assert.Equal(t, "Budi", creds.DisplayName)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fake.requests))

	fake.failures = 5
	atomic.StoreInt32(&fake.requests, 0)
	_, err = db.GetCredentials(ctx, "111")
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.EqualValues(t, 2, atomic.LoadInt32(&fake.requests))
}

func TestSheetsDB_ServerErrorIsUnavailable(t *testing.T) {
	db, fake := setup(t, map[string][][]string{})
	fake.failStatus = http.StatusInternalServerError
	fake.failures = 10

	_, err := db.ListODPEntries(context.Background())
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
}

func TestSheetsDB_InitializeWritesHeaders(t *testing.T) {
	db, fake := setup(t, map[string][][]string{})
	require.NoError(t, db.Initialize(context.Background()))
	require.Len(t, fake.updated, 1)
	assert.Equal(t, "Timestamp", fake.updated[0][0])

	db2, fake2 := setup(t, map[string][][]string{"Data": {models.DataColumnHeaders[:]}})
	require.NoError(t, db2.Initialize(context.Background()))
	assert.Empty(t, fake2.updated)
}
