package core

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/org/integrationbroker/internal/crypto"
	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/internal/vault"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultKeysetName is the vault entry holding the keyset.
const DefaultKeysetName = "integration-broker/keyset"

// payloadContext binds the derived AEAD key to integration payloads.
const payloadContext = "integration-payload-v1"

// Keyset sources reported to the bootstrap hook.
const (
	SourceVault     = "vault"
	SourceGenerated = "generated"
)

// Keyring is the authenticated-encryption service. Its key is loaded from
// (or first generated into) the secret vault on first use and then held in
// memory until Seal.
type Keyring struct {
	store       vault.SecretStore
	name        string
	logger      zerolog.Logger
	now         func() time.Time
	onBootstrap func(source string)

	group singleflight.Group
	mu    sync.RWMutex
	key   []byte
	aead  cipher.AEAD
}

// KeyringOption configures a Keyring.
type KeyringOption func(*Keyring)

// WithKeysetName overrides DefaultKeysetName.
func WithKeysetName(name string) KeyringOption {
	return func(k *Keyring) {
		if name != "" {
			k.name = name
		}
	}
}

// WithKeyringLogger sets the logger.
func WithKeyringLogger(l zerolog.Logger) KeyringOption {
	return func(k *Keyring) { k.logger = l }
}

// WithBootstrapHook is called once per successful bootstrap with the keyset source.
func WithBootstrapHook(fn func(source string)) KeyringOption {
	return func(k *Keyring) { k.onBootstrap = fn }
}

// NewKeyring creates a sealed Keyring backed by store.
func NewKeyring(store vault.SecretStore, opts ...KeyringOption) *Keyring {
	k := &Keyring{
		store:  store,
		name:   DefaultKeysetName,
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// IsSealed reports whether no key is currently loaded.
func (k *Keyring) IsSealed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.aead == nil
}

// Encrypt seals plaintext bound to associatedData.
func (k *Keyring) Encrypt(ctx context.Context, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.Seal(aead, plaintext, associatedData)
}

// Decrypt opens ciphertext; it fails with crypto.ErrSecurity when the
// ciphertext or associatedData differ from what Encrypt saw.
func (k *Keyring) Decrypt(ctx context.Context, ciphertext, associatedData []byte) ([]byte, error) {
	aead, err := k.load(ctx)
	if err != nil {
		return nil, err
	}
	return crypto.Open(aead, ciphertext, associatedData)
}

// Seal wipes the key from memory. The next Encrypt or Decrypt bootstraps again.
func (k *Keyring) Seal() {
	k.mu.Lock()
	defer k.mu.Unlock()
	crypto.Zero(k.key)
	k.key = nil
	k.aead = nil
}

// bootstrapTimeout bounds one shared bootstrap, which no single caller's
// context may cancel.
const bootstrapTimeout = 30 * time.Second

// load returns the cached AEAD or runs the bootstrap. Concurrent first
// callers share a single bootstrap; failures are not cached. A caller whose
// context ends stops waiting, but the bootstrap continues for the others.
func (k *Keyring) load(ctx context.Context) (cipher.AEAD, error) {
	if aead := k.cached(); aead != nil {
		return aead, nil
	}
	ch := k.group.DoChan(k.name, func() (any, error) {
		if aead := k.cached(); aead != nil {
			return aead, nil
		}
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bootstrapTimeout)
		defer cancel()
		return k.bootstrap(bctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(cipher.AEAD), nil
	}
}

func (k *Keyring) cached() cipher.AEAD {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.aead
}

func (k *Keyring) bootstrap(ctx context.Context) (cipher.AEAD, error) {
	source := SourceVault
	data, err := k.store.GetSecret(ctx, k.name)
	if errors.Is(err, vault.ErrNotFound) {
		source = SourceGenerated
		data, err = k.generate(ctx)
	}
	if err != nil {
		k.logger.Error().Err(err).Str("keyset", k.name).Msg("keyset bootstrap failed")
		if !errors.Is(err, storage.ErrConnection) && !errors.Is(err, vault.ErrMalformedEntry) {
			err = fmt.Errorf("%w: keyset bootstrap: %v", storage.ErrConnection, err)
		}
		return nil, err
	}

	primary, err := parseKeyset(data)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey(primary, payloadContext)
	crypto.Zero(primary)
	if err != nil {
		return nil, err
	}
	aead, err := crypto.NewAEAD(key)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.key = key
	k.aead = aead
	k.mu.Unlock()

	k.logger.Info().Str("keyset", k.name).Str("source", source).Msg("keyset loaded")
	if k.onBootstrap != nil {
		k.onBootstrap(source)
	}
	return aead, nil
}

// generate creates a keyset and persists it. If another process created the
// entry first, that keyset is used instead.
func (k *Keyring) generate(ctx context.Context) ([]byte, error) {
	data, err := newKeyset(k.now())
	if err != nil {
		return nil, err
	}
	err = k.store.PutSecret(ctx, k.name, data)
	if errors.Is(err, vault.ErrAlreadyExists) {
		return k.store.GetSecret(ctx, k.name)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
