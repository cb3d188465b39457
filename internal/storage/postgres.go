package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/integrationbroker/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL. It also serves as the
// secret vault's storage via GetSecret and PutSecret.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, connErr("connecting to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, connErr("pinging postgres", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// Ping checks the database is reachable.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return connErr("ping", err)
	}
	return nil
}

// keyColumns splits a RecordKey into its (key_type, key_id, key_name) columns.
func keyColumns(key models.RecordKey) (int16, int64, string) {
	if key.Type == models.KeyTypeNumeric {
		return int16(key.Type), key.ID, ""
	}
	return int16(key.Type), 0, key.Name
}

func scanKey(keyType int16, id int64, name string) models.RecordKey {
	if models.KeyType(keyType) == models.KeyTypeNumeric {
		return models.NumericKey(id)
	}
	return models.StringKey(name)
}

// --- Keys ---

func (p *PostgresBackend) AllocateKey(ctx context.Context, kind models.Kind) (models.RecordKey, error) {
	var seq string
	switch kind {
	case models.KindAuthorization:
		seq = "authorization_key_seq"
	case models.KindIntegration:
		seq = "integration_key_seq"
	default:
		return models.RecordKey{}, fmt.Errorf("unknown record kind %q", kind)
	}
	var id int64
	if err := p.pool.QueryRow(ctx, `SELECT nextval('`+seq+`')`).Scan(&id); err != nil {
		return models.RecordKey{}, connErr("allocating key", err)
	}
	return models.NumericKey(id), nil
}

// --- Authorizations ---

func (p *PostgresBackend) PutAuthorization(ctx context.Context, rec *models.AuthorizationRecord) error {
	kt, id, name := keyColumns(rec.Key)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO authorizations (key_type, key_id, key_name, secret_hash, state, expires)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key_type, key_id, key_name) DO UPDATE
		 SET secret_hash = EXCLUDED.secret_hash,
		     state = EXCLUDED.state,
		     expires = EXCLUDED.expires`,
		kt, id, name, rec.SecretHash, rec.State, rec.ExpiresAt,
	)
	if err != nil {
		return connErr("writing authorization", err)
	}
	return nil
}

func (p *PostgresBackend) GetAuthorization(ctx context.Context, key models.RecordKey) (*models.AuthorizationRecord, error) {
	kt, id, name := keyColumns(key)
	row := p.pool.QueryRow(ctx,
		`SELECT key_type, key_id, key_name, secret_hash, state, expires
		 FROM authorizations WHERE key_type = $1 AND key_id = $2 AND key_name = $3`,
		kt, id, name,
	)
	return scanAuthorization(row)
}

func (p *PostgresBackend) TakeAuthorization(ctx context.Context, key models.RecordKey) (*models.AuthorizationRecord, error) {
	kt, id, name := keyColumns(key)
	row := p.pool.QueryRow(ctx,
		`DELETE FROM authorizations WHERE key_type = $1 AND key_id = $2 AND key_name = $3
		 RETURNING key_type, key_id, key_name, secret_hash, state, expires`,
		kt, id, name,
	)
	return scanAuthorization(row)
}

func scanAuthorization(row pgx.Row) (*models.AuthorizationRecord, error) {
	var (
		rec     models.AuthorizationRecord
		keyType int16
		keyID   int64
		keyName string
	)
	err := row.Scan(&keyType, &keyID, &keyName, &rec.SecretHash, &rec.State, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, connErr("reading authorization", err)
	}
	rec.Key = scanKey(keyType, keyID, keyName)
	return &rec, nil
}

func (p *PostgresBackend) DeleteAuthorization(ctx context.Context, key models.RecordKey) error {
	kt, id, name := keyColumns(key)
	_, err := p.pool.Exec(ctx,
		`DELETE FROM authorizations WHERE key_type = $1 AND key_id = $2 AND key_name = $3`,
		kt, id, name,
	)
	if err != nil {
		return connErr("deleting authorization", err)
	}
	return nil
}

// --- Integrations ---

func (p *PostgresBackend) PutIntegration(ctx context.Context, rec *models.IntegrationRecord) error {
	kt, id, name := keyColumns(rec.Key)
	_, err := p.pool.Exec(ctx,
		`INSERT INTO integrations (key_type, key_id, key_name, secret_hash, data, creation_date, access_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (key_type, key_id, key_name) DO UPDATE
		 SET secret_hash = EXCLUDED.secret_hash,
		     data = EXCLUDED.data,
		     creation_date = EXCLUDED.creation_date,
		     access_date = EXCLUDED.access_date`,
		kt, id, name, rec.SecretHash, rec.Data, rec.CreationDate, rec.AccessDate,
	)
	if err != nil {
		return connErr("writing integration", err)
	}
	return nil
}

func (p *PostgresBackend) GetIntegration(ctx context.Context, key models.RecordKey) (*models.IntegrationRecord, error) {
	kt, id, name := keyColumns(key)
	row := p.pool.QueryRow(ctx,
		`SELECT key_type, key_id, key_name, secret_hash, data, creation_date, access_date
		 FROM integrations WHERE key_type = $1 AND key_id = $2 AND key_name = $3`,
		kt, id, name,
	)
	var (
		rec     models.IntegrationRecord
		keyType int16
		keyID   int64
		keyName string
	)
	err := row.Scan(&keyType, &keyID, &keyName, &rec.SecretHash, &rec.Data, &rec.CreationDate, &rec.AccessDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, connErr("reading integration", err)
	}
	rec.Key = scanKey(keyType, keyID, keyName)
	return &rec, nil
}

func (p *PostgresBackend) TouchIntegration(ctx context.Context, key models.RecordKey, accessDate time.Time) error {
	kt, id, name := keyColumns(key)
	tag, err := p.pool.Exec(ctx,
		`UPDATE integrations SET access_date = $4 WHERE key_type = $1 AND key_id = $2 AND key_name = $3`,
		kt, id, name, accessDate,
	)
	if err != nil {
		return connErr("touching integration", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) DeleteIntegration(ctx context.Context, key models.RecordKey) error {
	kt, id, name := keyColumns(key)
	_, err := p.pool.Exec(ctx,
		`DELETE FROM integrations WHERE key_type = $1 AND key_id = $2 AND key_name = $3`,
		kt, id, name,
	)
	if err != nil {
		return connErr("deleting integration", err)
	}
	return nil
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil || entry.Detail == nil {
		detailJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, kind, record_key, event, outcome, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RequestID, entry.Timestamp, string(entry.Kind), entry.Key, entry.Event, entry.Outcome, detailJSON,
	)
	if err != nil {
		return connErr("writing audit entry", err)
	}
	return nil
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, kind, record_key, event, outcome, detail FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.Kind != "" {
		fmt.Fprintf(&query, ` AND kind = $%d`, n)
		args = append(args, string(filter.Kind))
		n++
	}
	if filter.Event != "" {
		fmt.Fprintf(&query, ` AND event = $%d`, n)
		args = append(args, filter.Event)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, *filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC, id DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, connErr("querying audit log", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var kind string
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &kind, &e.Key,
			&e.Event, &e.Outcome, &detailJSON); err != nil {
			return nil, connErr("scanning audit log", err)
		}
		e.Kind = models.Kind(kind)
		json.Unmarshal(detailJSON, &e.Detail) //nolint:errcheck
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, connErr("iterating audit log", err)
	}
	return entries, nil
}

// --- Metrics ---

func (p *PostgresBackend) CountIntegrations(ctx context.Context) (int64, error) {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM integrations`).Scan(&count); err != nil {
		return 0, connErr("counting integrations", err)
	}
	return count, nil
}

// --- Vault secrets ---

// GetSecret returns the named vault entry or ErrNotFound.
func (p *PostgresBackend) GetSecret(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM vault_secrets WHERE name = $1`, name).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, connErr("reading vault secret", err)
	}
	return data, nil
}

// PutSecret creates the named vault entry. An existing entry is never
// overwritten; ErrAlreadyExists is returned instead.
func (p *PostgresBackend) PutSecret(ctx context.Context, name string, data []byte) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO vault_secrets (name, data, created_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO NOTHING`,
		name, data,
	)
	if err != nil {
		return connErr("writing vault secret", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

var _ Backend = (*PostgresBackend)(nil)
