package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// KeyType tags how a record is identified in the record store.
type KeyType uint8

const (
	// KeyTypeNumeric identifies records by a store-allocated int64 id.
	KeyTypeNumeric KeyType = 0
	// KeyTypeString identifies records by a caller-supplied name.
	KeyTypeString KeyType = 1
)

// Valid reports whether t is one of the known key types.
func (t KeyType) Valid() bool {
	return t == KeyTypeNumeric || t == KeyTypeString
}

func (t KeyType) String() string {
	switch t {
	case KeyTypeNumeric:
		return "numeric"
	case KeyTypeString:
		return "string"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// ErrInvalidKey is returned when key bytes cannot form a RecordKey.
var ErrInvalidKey = errors.New("invalid record key")

// RecordKey identifies one record inside a record kind.
type RecordKey struct {
	Type KeyType
	ID   int64
	Name string
}

// NumericKey returns a store-allocated numeric key.
func NumericKey(id int64) RecordKey {
	return RecordKey{Type: KeyTypeNumeric, ID: id}
}

// StringKey returns a caller-named key.
func StringKey(name string) RecordKey {
	return RecordKey{Type: KeyTypeString, Name: name}
}

// Bytes returns the key's wire form: 8 bytes big-endian for numeric keys,
// the UTF-8 name for string keys.
func (k RecordKey) Bytes() []byte {
	if k.Type == KeyTypeNumeric {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(k.ID))
		return b
	}
	return []byte(k.Name)
}

func (k RecordKey) String() string {
	if k.Type == KeyTypeNumeric {
		return strconv.FormatInt(k.ID, 10)
	}
	return strconv.Quote(k.Name)
}

// RecordKeyFromBytes reverses RecordKey.Bytes.
func RecordKeyFromBytes(t KeyType, b []byte) (RecordKey, error) {
	switch t {
	case KeyTypeNumeric:
		if len(b) != 8 {
			return RecordKey{}, fmt.Errorf("%w: numeric key must be 8 bytes, got %d", ErrInvalidKey, len(b))
		}
		return NumericKey(int64(binary.BigEndian.Uint64(b))), nil
	case KeyTypeString:
		if len(b) == 0 {
			return RecordKey{}, fmt.Errorf("%w: empty string key", ErrInvalidKey)
		}
		return StringKey(string(b)), nil
	default:
		return RecordKey{}, fmt.Errorf("%w: unknown key type %d", ErrInvalidKey, t)
	}
}

// Kind partitions the record store.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindIntegration   Kind = "integration"
)

// AuthorizationRecord is the single-use record of a pending OAuth handshake.
type AuthorizationRecord struct {
	Key        RecordKey
	SecretHash string
	State      string
	ExpiresAt  time.Time
}

// IsExpired returns true once now is past ExpiresAt.
func (a *AuthorizationRecord) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// IntegrationRecord is the durable record of a completed integration.
// Data holds the base64 AEAD ciphertext of the downstream credential.
type IntegrationRecord struct {
	Key          RecordKey
	SecretHash   string
	Data         string
	CreationDate time.Time
	AccessDate   time.Time
}
