package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"odpbot/internal/models"
	"odpbot/internal/storage"
)

// Config describes the spreadsheet and its tabs
type Config struct {
	SpreadsheetID    string
	CredentialsJSON  []byte // service account key; empty disables auth (tests only)
	DataSheet        string
	CredentialsSheet string
	ODPSheet         string
	Location         *time.Location
	Timeout          time.Duration

	// Endpoint overrides the Sheets API base URL
	Endpoint string
}

// SheetsDB is a storage.RecordStore on top of Google Sheets
type SheetsDB struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.RWMutex
	svc *sheets.Service
}

// NewSheetsDB authorizes against the Sheets API
func NewSheetsDB(ctx context.Context, cfg Config, logger *zap.Logger) (*SheetsDB, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	db := &SheetsDB{cfg: cfg, logger: logger}
	svc, err := db.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}
	db.svc = svc
	return db, nil
}

func (db *SheetsDB) connect(ctx context.Context) (*sheets.Service, error) {
	var opts []option.ClientOption
	if db.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(db.cfg.Endpoint))
	}
	if len(db.cfg.CredentialsJSON) > 0 {
		opts = append(opts,
			option.WithCredentialsJSON(db.cfg.CredentialsJSON),
			option.WithScopes(sheets.SpreadsheetsScope),
		)
	} else {
		opts = append(opts, option.WithoutAuthentication())
	}
	return sheets.NewService(ctx, opts...)
}

func (db *SheetsDB) service() *sheets.Service {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.svc
}

// reauthenticate replaces the service unless another caller already did
func (db *SheetsDB) reauthenticate(ctx context.Context, stale *sheets.Service) (*sheets.Service, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.svc != stale {
		return db.svc, nil
	}
	svc, err := db.connect(ctx)
	if err != nil {
		return nil, err
	}
	db.svc = svc
	return svc, nil
}

// call runs fn with a bounded timeout. An auth rejection triggers a single
// re-authentication and retry; every remaining failure is ErrStoreUnavailable.
func (db *SheetsDB) call(ctx context.Context, op string, fn func(ctx context.Context, svc *sheets.Service) error) error {
	ctx, cancel := context.WithTimeout(ctx, db.cfg.Timeout)
	defer cancel()

	svc := db.service()
	err := fn(ctx, svc)
	if err == nil {
		return nil
	}

	if isAuthError(err) {
		db.logger.Warn("Sheets rejected credentials, re-authenticating",
			zap.String("op", op),
			zap.Error(err),
		)
		fresh, authErr := db.reauthenticate(ctx, svc)
		if authErr != nil {
			return fmt.Errorf("%w: %s: re-authenticate: %v", storage.ErrStoreUnavailable, op, authErr)
		}
		if err = fn(ctx, fresh); err == nil {
			return nil
		}
	}

	db.logger.Error("Sheets call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", storage.ErrStoreUnavailable, op, err)
}

func isAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401
	}
	var retrieveErr *oauth2.RetrieveError
	return errors.As(err, &retrieveErr)
}

// a1 quotes a sheet name for A1 notation
func a1(sheet, cells string) string {
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if cells == "" {
		return quoted
	}
	return quoted + "!" + cells
}

func (db *SheetsDB) readSheet(ctx context.Context, op, rng string) ([][]string, error) {
	var values [][]interface{}
	err := db.call(ctx, op, func(ctx context.Context, svc *sheets.Service) error {
		resp, err := svc.Spreadsheets.Values.Get(db.cfg.SpreadsheetID, rng).Context(ctx).Do()
		if err != nil {
			return err
		}
		values = resp.Values
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toStrings(values), nil
}

func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			if cell != nil {
				rows[i][j] = strings.TrimSpace(fmt.Sprint(cell))
			}
		}
	}
	return rows
}

// Initialize writes the data sheet header row when the sheet is empty
func (db *SheetsDB) Initialize(ctx context.Context) error {
	lastCol := string(rune('A' + models.DataColumnCount - 1))
	headerRange := a1(db.cfg.DataSheet, "A1:"+lastCol+"1")

	rows, err := db.readSheet(ctx, "read headers", headerRange)
	if err != nil {
		return err
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		return nil
	}

	header := make([]interface{}, models.DataColumnCount)
	for i, h := range models.DataColumnHeaders {
		header[i] = h
	}
	err = db.call(ctx, "write headers", func(ctx context.Context, svc *sheets.Service) error {
		_, err := svc.Spreadsheets.Values.Update(db.cfg.SpreadsheetID, headerRange, &sheets.ValueRange{
			Values: [][]interface{}{header},
		}).ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}
	db.logger.Info("Wrote data sheet headers", zap.String("sheet", db.cfg.DataSheet))
	return nil
}

// GetCredentials looks the identity up in the credentials tab
func (db *SheetsDB) GetCredentials(ctx context.Context, identity string) (models.UserCredentials, error) {
	rows, err := db.readSheet(ctx, "get credentials", a1(db.cfg.CredentialsSheet, ""))
	if err != nil {
		return models.UserCredentials{}, err
	}
	if len(rows) < 2 {
		return models.UserCredentials{}, storage.ErrNotFound
	}

	h := newHeader(rows[0])
	idCol := h.index("Telegram ID", "ID", "Identity")
	if idCol < 0 {
		return models.UserCredentials{}, fmt.Errorf("%w: credentials sheet has no identity column", storage.ErrStoreUnavailable)
	}
	permCol := h.index("Permission", "Izin", "Allowed")

	for _, row := range rows[1:] {
		if cellAt(row, idCol) != identity {
			continue
		}
		creds := models.UserCredentials{
			Identity:    identity,
			DisplayName: h.get(row, "Nama", "Name"),
			STO:         h.get(row, "STO"),
			Permitted:   permCol < 0 || parseFlag(cellAt(row, permCol)),
			Witel:       h.get(row, "Witel"),
			Telda:       h.get(row, "Telda"),
			Cluster:     h.get(row, "Cluster"),
		}
		return creds, nil
	}
	return models.UserCredentials{}, storage.ErrNotFound
}

// AppendRecord appends the record as a new data sheet row
func (db *SheetsDB) AppendRecord(ctx context.Context, data models.UserData) (storage.RowRef, error) {
	cells := data.ToRow()
	row := make([]interface{}, len(cells))
	for i, c := range cells {
		row[i] = c
	}

	var ref storage.RowRef
	err := db.call(ctx, "append record", func(ctx context.Context, svc *sheets.Service) error {
		resp, err := svc.Spreadsheets.Values.Append(db.cfg.SpreadsheetID, a1(db.cfg.DataSheet, "A1"), &sheets.ValueRange{
			Values: [][]interface{}{row},
		}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return err
		}
		if resp.Updates != nil {
			ref = storage.RowRef(resp.Updates.UpdatedRange)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	db.logger.Info("Appended record",
		zap.String("identity", data.Identity),
		zap.String("range", string(ref)),
	)
	return ref, nil
}

// ListRecords scans the data sheet bottom-up for the identity's rows
func (db *SheetsDB) ListRecords(ctx context.Context, identity string, limit int) ([]models.UserRecord, error) {
	rows, err := db.readSheet(ctx, "list records", a1(db.cfg.DataSheet, ""))
	if err != nil {
		return nil, err
	}

	var records []models.UserRecord
	// rows[0] is the header row
	for i := len(rows) - 1; i >= 1; i-- {
		if cellAt(rows[i], models.ColIdentity) != identity {
			continue
		}
		records = append(records, models.RecordFromRow(rows[i], i+1, db.cfg.Location))
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}

// ListODPEntries reads the ODP tab; rows with bad coordinates are kept but
// marked so the locator can skip them
func (db *SheetsDB) ListODPEntries(ctx context.Context) ([]models.ODPEntry, error) {
	rows, err := db.readSheet(ctx, "list ODP entries", a1(db.cfg.ODPSheet, ""))
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	h := newHeader(rows[0])
	nameCol, latCol, lonCol := h.index("ODP"), h.index("LATITUDE", "LAT"), h.index("LONGITUDE", "LON", "LONG")
	if nameCol < 0 || latCol < 0 || lonCol < 0 {
		return nil, fmt.Errorf("%w: ODP sheet must have ODP, LATITUDE and LONGITUDE columns", storage.ErrStoreUnavailable)
	}

	entries := make([]models.ODPEntry, 0, len(rows)-1)
	for i, row := range rows[1:] {
		name := cellAt(row, nameCol)
		if name == "" {
			continue
		}
		lat, latOK := parseCoordinate(cellAt(row, latCol))
		lon, lonOK := parseCoordinate(cellAt(row, lonCol))
		available := h.get(row, "AVAI", "AVAILABLE")
		if available == "" {
			available = "N/A"
		}
		entries = append(entries, models.ODPEntry{
			STO:            h.get(row, "STO"),
			Name:           name,
			Latitude:       lat,
			Longitude:      lon,
			Available:      available,
			HasCoordinates: latOK && lonOK,
			Row:            i + 2,
		})
	}
	return entries, nil
}

// Close does nothing; the API client holds no connection of its own
func (db *SheetsDB) Close() error {
	return nil
}

type header map[string]int

func newHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		key := strings.ToUpper(strings.TrimSpace(name))
		if _, dup := h[key]; !dup {
			h[key] = i
		}
	}
	return h
}

func (h header) index(names ...string) int {
	for _, n := range names {
		if i, ok := h[strings.ToUpper(n)]; ok {
			return i
		}
	}
	return -1
}

func (h header) get(row []string, names ...string) string {
	return cellAt(row, h.index(names...))
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "ya", "1", "aktif", "active":
		return true
	}
	return false
}

// parseCoordinate accepts "-6.91" as well as the comma-decimal "-6,91"
func parseCoordinate(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
