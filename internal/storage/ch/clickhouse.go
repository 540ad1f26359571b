package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"odpbot/internal/models"
	"odpbot/internal/storage"
	"odpbot/migrations"
)

// Config holds the ClickHouse connection settings
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseTLS   bool
	Timeout  time.Duration
}

// Options builds the native protocol client options
func (c Config) Options() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", c.Host, c.Port)},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
		DialTimeout: c.Timeout,
	}
	if c.UseTLS {
		options.TLS = &tls.Config{}
	}
	return options
}

// ClickHouseDB implements storage.RecordStore on three ClickHouse tables:
// credentials, records and odp_entries
type ClickHouseDB struct {
	conn    clickhouse.Conn
	timeout time.Duration
	logger  *zap.Logger
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, cfg Config, logger *zap.Logger) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(cfg.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ClickHouseDB{conn: conn, timeout: timeout, logger: logger}, nil
}

// Migrate applies the embedded goose migrations
func Migrate(ctx context.Context, cfg Config) error {
	db := clickhouse.OpenDB(cfg.Options())
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Initialize is a no-op - tables are managed via migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	return nil
}

func (db *ClickHouseDB) unavailable(op string, err error) error {
	db.logger.Error("ClickHouse call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s: %v", storage.ErrStoreUnavailable, op, err)
}

// GetCredentials looks up an agent by identity
func (db *ClickHouseDB) GetCredentials(ctx context.Context, identity string) (models.UserCredentials, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	rows, err := db.conn.Query(ctx, `SELECT identity, display_name, sto, permitted, witel, telda, cluster
		FROM credentials FINAL WHERE identity = ? LIMIT 1`, identity)
	if err != nil {
		return models.UserCredentials{}, db.unavailable("get credentials", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return models.UserCredentials{}, db.unavailable("get credentials", err)
		}
		return models.UserCredentials{}, storage.ErrNotFound
	}

	var c models.UserCredentials
	if err := rows.Scan(&c.Identity, &c.DisplayName, &c.STO, &c.Permitted, &c.Witel, &c.Telda, &c.Cluster); err != nil {
		return models.UserCredentials{}, db.unavailable("scan credentials", err)
	}
	return c, nil
}

// AppendRecord inserts a submission
func (db *ClickHouseDB) AppendRecord(ctx context.Context, data models.UserData) (storage.RowRef, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	err := db.conn.Exec(ctx, `INSERT INTO records
		(submitted_at, identity, business_type, address, latitude, longitude, package, sto, photo_url, odp_name, maps_link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		data.SubmittedAt, data.Identity, data.BusinessType, data.Address,
		data.Latitude, data.Longitude, data.Package, data.STO, data.PhotoURL,
		data.ODPName, data.MapsLink)
	if err != nil {
		return "", db.unavailable("append record", err)
	}
	return storage.RowRef(fmt.Sprintf("records/%s/%s", data.Identity, data.SubmittedAt.Format(models.TimestampLayout))), nil
}

// ListRecords returns the identity's submissions, newest first
func (db *ClickHouseDB) ListRecords(ctx context.Context, identity string, limit int) ([]models.UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	query := `SELECT submitted_at, identity, business_type, address, latitude, longitude, package, sto, photo_url, odp_name, maps_link
		FROM records WHERE identity = ? ORDER BY submitted_at DESC`
	args := []interface{}{identity}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, db.unavailable("list records", err)
	}
	defer rows.Close()

	var records []models.UserRecord
	for rows.Next() {
		var r models.UserRecord
		if err := rows.Scan(&r.SubmittedAt, &r.Identity, &r.BusinessType, &r.Address,
			&r.Latitude, &r.Longitude, &r.Package, &r.STO, &r.PhotoURL, &r.ODPName, &r.MapsLink); err != nil {
			return nil, db.unavailable("scan record", err)
		}
		r.Row = len(records) + 1
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, db.unavailable("list records", err)
	}
	return records, nil
}

// ListODPEntries returns every ODP row in row order
func (db *ClickHouseDB) ListODPEntries(ctx context.Context) ([]models.ODPEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	rows, err := db.conn.Query(ctx, `SELECT row, sto, name, latitude, longitude, available FROM odp_entries ORDER BY row`)
	if err != nil {
		return nil, db.unavailable("list odp entries", err)
	}
	defer rows.Close()

	var entries []models.ODPEntry
	for rows.Next() {
		var (
			row      uint32
			lat, lon *float64
			e        models.ODPEntry
		)
		if err := rows.Scan(&row, &e.STO, &e.Name, &lat, &lon, &e.Available); err != nil {
			return nil, db.unavailable("scan odp entry", err)
		}
		e.Row = int(row)
		if lat != nil && lon != nil {
			e.Latitude, e.Longitude, e.HasCoordinates = *lat, *lon, true
		}
		if strings.TrimSpace(e.Available) == "" {
			e.Available = "N/A"
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.unavailable("list odp entries", err)
	}
	return entries, nil
}

// AddCredentials registers or replaces an agent row
func (db *ClickHouseDB) AddCredentials(ctx context.Context, c models.UserCredentials) error {
	err := db.conn.Exec(ctx, `INSERT INTO credentials (identity, display_name, sto, permitted, witel, telda, cluster)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Identity, c.DisplayName, c.STO, c.Permitted, c.Witel, c.Telda, c.Cluster)
	if err != nil {
		return db.unavailable("add credentials", err)
	}
	return nil
}

// ReplaceODPEntries swaps the ODP table contents for entries, numbering rows
// from 2 the way a sheet export would
func (db *ClickHouseDB) ReplaceODPEntries(ctx context.Context, entries []models.ODPEntry) error {
	if err := db.conn.Exec(ctx, `TRUNCATE TABLE odp_entries`); err != nil {
		return db.unavailable("truncate odp entries", err)
	}

	batch, err := db.conn.PrepareBatch(ctx, `INSERT INTO odp_entries (row, sto, name, latitude, longitude, available)`)
	if err != nil {
		return db.unavailable("prepare odp batch", err)
	}
	for i, e := range entries {
		var lat, lon *float64
		if e.HasCoordinates {
			lat, lon = &e.Latitude, &e.Longitude
		}
		if err := batch.Append(uint32(i+2), e.STO, e.Name, lat, lon, e.Available); err != nil {
			return db.unavailable("append odp batch", err)
		}
	}
	if err := batch.Send(); err != nil {
		return db.unavailable("send odp batch", err)
	}
	db.logger.Info("Replaced ODP entries", zap.Int("count", len(entries)))
	return nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
