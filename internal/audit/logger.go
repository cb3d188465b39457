package audit

import (
	"context"
	"time"

	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey struct{}

// WithRequestID attaches the request ID that audit entries are tagged with.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Writer is the persistence side of the audit trail.
type Writer interface {
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Logger writes lifecycle audit entries.
type Logger struct {
	store  Writer
	logger zerolog.Logger
	now    func() time.Time
}

// NewLogger creates an audit Logger.
func NewLogger(store Writer) *Logger {
	return &Logger{store: store, logger: log.Logger, now: time.Now}
}

// Record writes one lifecycle event. Secret values must never be passed in detail.
// A failed write is logged and does not fail the operation being audited.
func (l *Logger) Record(ctx context.Context, kind models.Kind, key models.RecordKey, event, outcome string, detail map[string]any) {
	if l == nil {
		return
	}
	entry := &models.AuditEntry{
		RequestID: RequestID(ctx),
		Timestamp: l.now().UTC(),
		Kind:      kind,
		Key:       key.String(),
		Event:     event,
		Outcome:   outcome,
		Detail:    detail,
	}
	if err := l.store.WriteAuditEntry(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("event", event).Str("key", entry.Key).Msg("audit write failed")
	}
}

// Query retrieves paginated audit log entries, newest first.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, filter)
}
