// Package vault is the broker's view of the managed secret vault: a named,
// create-once blob store that holds the encryption keyset.
package vault

import (
	"context"
	"errors"

	"github.com/org/integrationbroker/internal/storage"
)

// ErrNotFound is returned when the named entry does not exist.
var ErrNotFound = storage.ErrNotFound

// ErrAlreadyExists is returned by PutSecret when the entry was created first
// by someone else.
var ErrAlreadyExists = storage.ErrAlreadyExists

// ErrMalformedEntry is returned when an entry exists but its payload cannot
// be read. It is not a connection failure and is never treated as absent.
var ErrMalformedEntry = errors.New("malformed vault entry")

// SecretStore reads and creates named vault entries. Transport failures are
// reported wrapping storage.ErrConnection.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) ([]byte, error)
	PutSecret(ctx context.Context, name string, data []byte) error
}

var (
	_ SecretStore = (*storage.PostgresBackend)(nil)
	_ SecretStore = (*storage.MemoryBackend)(nil)
	_ SecretStore = (*HTTPStore)(nil)
)
