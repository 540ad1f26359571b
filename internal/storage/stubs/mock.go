package stubs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"odpbot/internal/models"
	"odpbot/internal/storage"
)

// MockDB is an in-memory implementation of storage.RecordStore for testing
// and for running the bot without a spreadsheet
type MockDB struct {
	mu          sync.RWMutex
	credentials map[string]models.UserCredentials
	records     []models.UserData
	odps        []models.ODPEntry

	// Err, when set, is returned (wrapped in storage.ErrStoreUnavailable) by every call
	Err error
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		credentials: make(map[string]models.UserCredentials),
	}
}

// Initialize seeds a demo agent and a handful of ODPs around Jakarta and Bandung
func (m *MockDB) Initialize(ctx context.Context) error {
	m.AddCredentials(models.UserCredentials{
		Identity:    "123",
		DisplayName: "Demo Agent",
		STO:         "GMR",
		Permitted:   true,
		Witel:       "Jakarta Pusat",
	})
	m.SetODPs([]models.ODPEntry{
		{STO: "GMR", Name: "ODP-GMR-FA/01", Latitude: -6.1754, Longitude: 106.8272, Available: "4", HasCoordinates: true},
		{STO: "KBB", Name: "ODP-KBB-FB/12", Latitude: -6.2088, Longitude: 106.8170, Available: "2", HasCoordinates: true},
		{STO: "BDG", Name: "ODP-BDG-FC/03", Latitude: -6.9147, Longitude: 107.6098, Available: "7", HasCoordinates: true},
	})
	return nil
}

// AddCredentials registers an agent
func (m *MockDB) AddCredentials(c models.UserCredentials) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[c.Identity] = c
}

// SetODPs replaces the ODP rows; row numbers are assigned in slice order
func (m *MockDB) SetODPs(entries []models.ODPEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.odps = make([]models.ODPEntry, len(entries))
	for i, e := range entries {
		e.Row = i + 2
		m.odps[i] = e
	}
}

// Records returns a copy of every appended record
func (m *MockDB) Records() []models.UserData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.UserData, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MockDB) fail() error {
	if m.Err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, m.Err)
	}
	return nil
}

// GetCredentials returns the agent registered under identity
func (m *MockDB) GetCredentials(ctx context.Context, identity string) (models.UserCredentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(); err != nil {
		return models.UserCredentials{}, err
	}

	c, ok := m.credentials[identity]
	if !ok {
		return models.UserCredentials{}, storage.ErrNotFound
	}
	return c, nil
}

// AppendRecord stores a copy of the record
func (m *MockDB) AppendRecord(ctx context.Context, data models.UserData) (storage.RowRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return "", err
	}

	m.records = append(m.records, data)
	// Row 1 holds the headers
	return storage.RowRef(fmt.Sprintf("%d", len(m.records)+1)), nil
}

// ListRecords returns the identity's records, newest first
func (m *MockDB) ListRecords(ctx context.Context, identity string, limit int) ([]models.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(); err != nil {
		return nil, err
	}

	var out []models.UserRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Identity != identity {
			continue
		}
		out = append(out, models.UserRecord{Row: i + 2, UserData: m.records[i]})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListODPEntries returns the ODP rows in insertion order
func (m *MockDB) ListODPEntries(ctx context.Context) ([]models.ODPEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(); err != nil {
		return nil, err
	}

	out := make([]models.ODPEntry, len(m.odps))
	copy(out, m.odps)
	return out, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}

// MockBlobs is an in-memory storage.BlobStore
type MockBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte

	// Err, when set, makes every upload fail with storage.ErrUploadFailed
	Err error
}

// NewMockBlobs creates an empty blob store
func NewMockBlobs() *MockBlobs {
	return &MockBlobs{objects: make(map[string][]byte)}
}

// UploadPhoto keeps the bytes and returns a fake public URL
func (b *MockBlobs) UploadPhoto(ctx context.Context, data []byte, filenameHint string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrUploadFailed, b.Err)
	}

	name := uuid.NewString() + filepath.Ext(filenameHint)
	b.objects[name] = append([]byte(nil), data...)
	return "https://blobs.local/photo/" + name, nil
}

// Count returns the number of stored objects
func (b *MockBlobs) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
