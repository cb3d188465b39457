package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/org/integrationbroker/internal/crypto"
	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/internal/vault"
	"github.com/rs/zerolog"
)

// countingStore records vault traffic and slows reads so concurrent callers overlap.
type countingStore struct {
	*storage.MemoryBackend
	gets atomic.Int32
	puts atomic.Int32
}

func (c *countingStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	c.gets.Add(1)
	time.Sleep(10 * time.Millisecond)
	return c.MemoryBackend.GetSecret(ctx, name)
}

func (c *countingStore) PutSecret(ctx context.Context, name string, data []byte) error {
	c.puts.Add(1)
	return c.MemoryBackend.PutSecret(ctx, name, data)
}

type brokenStore struct{}

func (brokenStore) GetSecret(context.Context, string) ([]byte, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func (brokenStore) PutSecret(context.Context, string, []byte) error {
	return errors.New("dial tcp: connection refused")
}

// racingStore reports a missing entry once, then loses the create race.
type racingStore struct {
	winner []byte
	missed bool
}

func (r *racingStore) GetSecret(context.Context, string) ([]byte, error) {
	if !r.missed {
		r.missed = true
		return nil, storage.ErrNotFound
	}
	return r.winner, nil
}

func (r *racingStore) PutSecret(context.Context, string, []byte) error {
	return storage.ErrAlreadyExists
}

// gatedStore holds reads until release is closed, honoring the read context.
type gatedStore struct {
	*storage.MemoryBackend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		MemoryBackend: storage.NewMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (g *gatedStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MemoryBackend.GetSecret(ctx, name)
}

// malformedStore returns an entry the vault could not decode.
type malformedStore struct{}

func (malformedStore) GetSecret(_ context.Context, name string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %q has no \"value\" field", vault.ErrMalformedEntry, name)
}

func (malformedStore) PutSecret(context.Context, string, []byte) error {
	return errors.New("unexpected put")
}

func newTestKeyring(store vault.SecretStore, opts ...KeyringOption) *Keyring {
	return NewKeyring(store, append([]KeyringOption{WithKeyringLogger(zerolog.Nop())}, opts...)...)
}

func TestKeyringEncryptDecrypt(t *testing.T) {
	k := newTestKeyring(storage.NewMemoryBackend())
	ctx := context.Background()

	if !k.IsSealed() {
		t.Fatal("new keyring should be sealed")
	}
	ct, err := k.Encrypt(ctx, []byte("token-type secret123"), []byte("ad"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if k.IsSealed() {
		t.Error("keyring should be loaded after first use")
	}
	pt, err := k.Decrypt(ctx, ct, []byte("ad"))
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(pt) != "token-type secret123" {
		t.Errorf("got %q", pt)
	}
}

func TestKeyringAssociatedDataMismatch(t *testing.T) {
	k := newTestKeyring(storage.NewMemoryBackend())
	ctx := context.Background()

	ct, err := k.Encrypt(ctx, []byte("payload"), []byte("secret-a"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := k.Decrypt(ctx, ct, []byte("secret-b")); !errors.Is(err, crypto.ErrSecurity) {
		t.Errorf("expected ErrSecurity, got %v", err)
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := k.Decrypt(ctx, ct, []byte("secret-a")); !errors.Is(err, crypto.ErrSecurity) {
		t.Errorf("expected ErrSecurity for tampered ciphertext, got %v", err)
	}
}

func TestKeyringConcurrentBootstrap(t *testing.T) {
	store := &countingStore{MemoryBackend: storage.NewMemoryBackend()}
	var boots atomic.Int32
	k := newTestKeyring(store, WithBootstrapHook(func(string) { boots.Add(1) }))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := k.Encrypt(ctx, []byte("x"), nil); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Encrypt failed: %v", err)
	}

	if n := store.puts.Load(); n != 1 {
		t.Errorf("expected exactly one vault write, got %d", n)
	}
	if n := boots.Load(); n != 1 {
		t.Errorf("expected one bootstrap, got %d", n)
	}
	if _, err := store.MemoryBackend.GetSecret(ctx, DefaultKeysetName); err != nil {
		t.Errorf("keyset not persisted: %v", err)
	}
}

func TestKeyringReloadsPersistedKeyset(t *testing.T) {
	store := storage.NewMemoryBackend()
	ctx := context.Background()

	first := newTestKeyring(store)
	ct, err := first.Encrypt(ctx, []byte("payload"), []byte("ad"))
	if err != nil {
		t.Fatal(err)
	}

	var source string
	second := newTestKeyring(store, WithBootstrapHook(func(s string) { source = s }))
	pt, err := second.Decrypt(ctx, ct, []byte("ad"))
	if err != nil {
		t.Fatalf("second keyring could not decrypt: %v", err)
	}
	if !bytes.Equal(pt, []byte("payload")) {
		t.Errorf("got %q", pt)
	}
	if source != SourceVault {
		t.Errorf("source = %q, want %q", source, SourceVault)
	}
}

func TestKeyringUsesWinningKeyset(t *testing.T) {
	winner, err := newKeyset(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	store := &racingStore{winner: winner}
	k := newTestKeyring(store)
	ctx := context.Background()

	ct, err := k.Encrypt(ctx, []byte("payload"), nil)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	other := newTestKeyring(&racingStore{winner: winner, missed: true})
	if _, err := other.Decrypt(ctx, ct, nil); err != nil {
		t.Errorf("keyring did not adopt the stored keyset: %v", err)
	}
}

func TestKeyringVaultFailure(t *testing.T) {
	k := newTestKeyring(brokenStore{})
	ctx := context.Background()

	if _, err := k.Encrypt(ctx, []byte("x"), nil); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
	if _, err := k.Decrypt(ctx, []byte("whatever-ciphertext-bytes-here"), nil); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
	if !k.IsSealed() {
		t.Error("failed bootstrap must not leave a key loaded")
	}
}

func TestKeyringMalformedEntry(t *testing.T) {
	k := newTestKeyring(malformedStore{})

	_, err := k.Encrypt(context.Background(), []byte("x"), nil)
	if !errors.Is(err, vault.ErrMalformedEntry) {
		t.Fatalf("expected ErrMalformedEntry, got %v", err)
	}
	if errors.Is(err, storage.ErrConnection) {
		t.Errorf("malformed entry reported as connection failure: %v", err)
	}
	if !k.IsSealed() {
		t.Error("failed bootstrap must not leave a key loaded")
	}
}

func TestKeyringCallerCancelDoesNotAbortBootstrap(t *testing.T) {
	store := newGatedStore()
	k := newTestKeyring(store)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := k.Encrypt(ctx, []byte("first"), nil)
		first <- err
	}()
	<-store.entered

	second := make(chan error, 1)
	go func() {
		_, err := k.Encrypt(context.Background(), []byte("second"), nil)
		second <- err
	}()

	cancel()
	select {
	case err := <-first:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting on bootstrap")
	}

	close(store.release)
	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("concurrent caller failed after first caller cancelled: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent caller never finished")
	}
	if k.IsSealed() {
		t.Error("bootstrap should have completed")
	}
}

func TestKeyringSeal(t *testing.T) {
	store := storage.NewMemoryBackend()
	k := newTestKeyring(store)
	ctx := context.Background()

	ct, err := k.Encrypt(ctx, []byte("payload"), nil)
	if err != nil {
		t.Fatal(err)
	}
	k.Seal()
	if !k.IsSealed() {
		t.Fatal("expected sealed after Seal")
	}
	if _, err := k.Decrypt(ctx, ct, nil); err != nil {
		t.Errorf("decrypt after reseal should bootstrap from vault: %v", err)
	}
}

func TestParseKeysetRejectsGarbage(t *testing.T) {
	for _, in := range []string{
		`not json`,
		`{"version":2,"primary":"AAAA"}`,
		`{"version":1,"primary":"!!!"}`,
		`{"version":1,"primary":"AAAA"}`,
	} {
		if _, err := parseKeyset([]byte(in)); err == nil {
			t.Errorf("parseKeyset(%q) should fail", in)
		}
	}
}
