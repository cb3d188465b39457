package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/org/integrationbroker/pkg/models"
)

const (
	// SecretLen is the size of a freshly generated possession secret.
	SecretLen = 32
	saltLen   = 16
)

// GenerateSecret returns SecretLen random bytes.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretLen)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}
	return secret, nil
}

// HashSecret returns hex(salt) + "$" + hex(SHA-256(salt || secret)) with a fresh salt.
// Only this value is ever persisted.
func HashSecret(secret []byte) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(digest(salt, secret)), nil
}

// VerifySecret reports whether secret matches a hash produced by HashSecret.
// Malformed hashes never verify.
func VerifySecret(secret []byte, hash string) bool {
	saltHex, sumHex, ok := strings.Cut(hash, "$")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := hex.DecodeString(sumHex)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(digest(salt, secret), want) == 1
}

func digest(salt, secret []byte) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(secret)
	return h.Sum(nil)
}

// Issued is a freshly minted credential: the compact token for the caller
// and the hash for the record store.
type Issued struct {
	Compact string
	Secret  []byte
	Hash    string
}

// Issue generates a secret for key, hashes it and encodes the compact token.
func Issue(key models.RecordKey) (*Issued, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return nil, err
	}
	compact, err := Encode(key.Type, key.Bytes(), secret)
	if err != nil {
		return nil, err
	}
	return &Issued{Compact: compact, Secret: secret, Hash: hash}, nil
}
