package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/org/integrationbroker/pkg/models"
)

// newTestPostgres connects to TEST_DATABASE_URL and applies migrations,
// skipping the test when no database is configured.
func newTestPostgres(t *testing.T) *PostgresBackend {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	if err := RunMigrations(dbURL, "../../migrations"); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	p, err := NewPostgresBackend(context.Background(), dbURL)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestPostgresAuthorizationTake(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()

	key, err := p.AllocateKey(ctx, models.KindAuthorization)
	if err != nil {
		t.Fatalf("AllocateKey failed: %v", err)
	}
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	rec := &models.AuthorizationRecord{Key: key, SecretHash: "salt$sum", State: "csrf", ExpiresAt: expires}
	if err := p.PutAuthorization(ctx, rec); err != nil {
		t.Fatalf("PutAuthorization failed: %v", err)
	}

	got, err := p.TakeAuthorization(ctx, key)
	if err != nil {
		t.Fatalf("TakeAuthorization failed: %v", err)
	}
	if got.Key != key || got.State != "csrf" || !got.ExpiresAt.Equal(expires) {
		t.Errorf("unexpected record: %+v", got)
	}
	if _, err := p.TakeAuthorization(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("second take: expected ErrNotFound, got %v", err)
	}
}

func TestPostgresIntegrationStringKey(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()
	key := models.StringKey("it-" + time.Now().Format("150405.000000"))
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := p.PutIntegration(ctx, &models.IntegrationRecord{
		Key: key, SecretHash: "h", Data: "Y2lwaGVy", CreationDate: now, AccessDate: now,
	})
	if err != nil {
		t.Fatalf("PutIntegration failed: %v", err)
	}
	t.Cleanup(func() { p.DeleteIntegration(context.Background(), key) }) //nolint:errcheck

	later := now.Add(time.Minute)
	if err := p.TouchIntegration(ctx, key, later); err != nil {
		t.Fatalf("TouchIntegration failed: %v", err)
	}
	got, err := p.GetIntegration(ctx, key)
	if err != nil {
		t.Fatalf("GetIntegration failed: %v", err)
	}
	if got.Key != key || got.Data != "Y2lwaGVy" || !got.AccessDate.Equal(later) {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestPostgresSecretCreateOnly(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()
	name := "test/" + time.Now().Format("150405.000000")

	if _, err := p.GetSecret(ctx, name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := p.PutSecret(ctx, name, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := p.PutSecret(ctx, name, []byte("b")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}
