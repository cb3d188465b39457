package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/org/integrationbroker/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a record that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrConnection wraps any I/O failure talking to the backing store.
// Callers may retry; the broker itself never does.
var ErrConnection = errors.New("store connection error")

// connErr wraps err as an ErrConnection keeping the cause in the message.
func connErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrConnection, op, err)
}

// Backend defines the persistence interface for the broker.
type Backend interface {
	// Keys
	AllocateKey(ctx context.Context, kind models.Kind) (models.RecordKey, error)

	// Authorization records
	PutAuthorization(ctx context.Context, rec *models.AuthorizationRecord) error
	GetAuthorization(ctx context.Context, key models.RecordKey) (*models.AuthorizationRecord, error)
	DeleteAuthorization(ctx context.Context, key models.RecordKey) error
	// TakeAuthorization deletes the record and returns its prior value in
	// one step, so at most one caller can consume it.
	TakeAuthorization(ctx context.Context, key models.RecordKey) (*models.AuthorizationRecord, error)

	// Integration records
	PutIntegration(ctx context.Context, rec *models.IntegrationRecord) error
	GetIntegration(ctx context.Context, key models.RecordKey) (*models.IntegrationRecord, error)
	TouchIntegration(ctx context.Context, key models.RecordKey, accessDate time.Time) error
	DeleteIntegration(ctx context.Context, key models.RecordKey) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Metrics helpers
	CountIntegrations(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Kind   models.Kind
	Event  string
	Since  *time.Time
	Limit  int
	Offset int
}
