package storage

import (
	"context"
	"errors"

	"odpbot/internal/models"
)

var (
	// ErrNotFound is returned when a lookup yields nothing
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps any transport or auth failure of a record store
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrUploadFailed wraps any transport failure or non-2xx answer of a blob store
	ErrUploadFailed = errors.New("upload failed")
)

// RowRef identifies an appended row, e.g. "Data!A42:K42" or a row number
type RowRef string

// RecordStore defines the tabular store holding credentials, submissions and ODP rows
type RecordStore interface {
	// GetCredentials returns ErrNotFound when the identity has no row
	GetCredentials(ctx context.Context, identity string) (models.UserCredentials, error)

	// AppendRecord writes a new row in data sheet column order
	AppendRecord(ctx context.Context, data models.UserData) (RowRef, error)

	// ListRecords returns up to limit rows of the identity, most recent first.
	// limit <= 0 means no limit.
	ListRecords(ctx context.Context, identity string, limit int) ([]models.UserRecord, error)

	// ListODPEntries reads every ODP row in sheet order, including rows with
	// invalid coordinates
	ListODPEntries(ctx context.Context) ([]models.ODPEntry, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}

// BlobStore stores photos and hands back a public URL
type BlobStore interface {
	UploadPhoto(ctx context.Context, data []byte, filenameHint string) (string, error)
}
