package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/org/integrationbroker/pkg/models"
)

// MemoryBackend is an in-process Backend used by tests and dev mode.
// Like PostgresBackend it also implements the vault secret methods.
type MemoryBackend struct {
	mu             sync.Mutex
	nextID         map[models.Kind]int64
	authorizations map[models.RecordKey]models.AuthorizationRecord
	integrations   map[models.RecordKey]models.IntegrationRecord
	audit          []*models.AuditEntry
	secrets        map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nextID:         map[models.Kind]int64{},
		authorizations: map[models.RecordKey]models.AuthorizationRecord{},
		integrations:   map[models.RecordKey]models.IntegrationRecord{},
		secrets:        map[string][]byte{},
	}
}

func (m *MemoryBackend) AllocateKey(_ context.Context, kind models.Kind) (models.RecordKey, error) {
	if kind != models.KindAuthorization && kind != models.KindIntegration {
		return models.RecordKey{}, fmt.Errorf("unknown record kind %q", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID[kind]++
	return models.NumericKey(m.nextID[kind]), nil
}

func (m *MemoryBackend) PutAuthorization(_ context.Context, rec *models.AuthorizationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizations[rec.Key] = *rec
	return nil
}

func (m *MemoryBackend) GetAuthorization(_ context.Context, key models.RecordKey) (*models.AuthorizationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.authorizations[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryBackend) DeleteAuthorization(_ context.Context, key models.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.authorizations, key)
	return nil
}

func (m *MemoryBackend) TakeAuthorization(_ context.Context, key models.RecordKey) (*models.AuthorizationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.authorizations[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.authorizations, key)
	return &rec, nil
}

func (m *MemoryBackend) PutIntegration(_ context.Context, rec *models.IntegrationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrations[rec.Key] = *rec
	return nil
}

func (m *MemoryBackend) GetIntegration(_ context.Context, key models.RecordKey) (*models.IntegrationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.integrations[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryBackend) TouchIntegration(_ context.Context, key models.RecordKey, accessDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.integrations[key]
	if !ok {
		return ErrNotFound
	}
	rec.AccessDate = accessDate
	m.integrations[key] = rec
	return nil
}

func (m *MemoryBackend) DeleteIntegration(_ context.Context, key models.RecordKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.integrations, key)
	return nil
}

func (m *MemoryBackend) WriteAuditEntry(_ context.Context, e *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = int64(len(m.audit) + 1)
	m.audit = append(m.audit, &cp)
	return nil
}

func (m *MemoryBackend) QueryAuditLog(_ context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range m.audit {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Event != "" && e.Event != filter.Event {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryBackend) CountIntegrations(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.integrations)), nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() {}

// GetSecret returns the named vault entry or ErrNotFound.
func (m *MemoryBackend) GetSecret(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.secrets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// PutSecret creates the named vault entry, or returns ErrAlreadyExists.
func (m *MemoryBackend) PutSecret(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[name]; ok {
		return ErrAlreadyExists
	}
	m.secrets[name] = append([]byte(nil), data...)
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
