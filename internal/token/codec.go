// Package token implements the compact bearer token handed to integration
// callers and the possession secret it carries.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/org/integrationbroker/pkg/models"
)

// ErrInvalidToken is returned for any malformed compact token.
var ErrInvalidToken = errors.New("invalid token")

// MaxKeyLen is the largest key a compact token can carry.
const MaxKeyLen = 255

// headerLen covers the key-type tag and the key-length byte.
const headerLen = 2

var encoding = base64.RawURLEncoding.Strict()

// Encode packs a key type, key and secret as
// [tag:1][keyLen:1][key][secret], base64url without padding.
func Encode(keyType models.KeyType, key, secret []byte) (string, error) {
	if !keyType.Valid() {
		return "", fmt.Errorf("%w: unknown key type %d", ErrInvalidToken, keyType)
	}
	if len(key) > MaxKeyLen {
		return "", fmt.Errorf("%w: key is %d bytes, max %d", ErrInvalidToken, len(key), MaxKeyLen)
	}
	if len(key) == 0 || len(secret) == 0 {
		return "", fmt.Errorf("%w: key and secret must not be empty", ErrInvalidToken)
	}

	buf := make([]byte, headerLen+len(key)+len(secret))
	buf[0] = byte(keyType)
	buf[1] = byte(len(key))
	copy(buf[headerLen:], key)
	copy(buf[headerLen+len(key):], secret)
	return encoding.EncodeToString(buf), nil
}

// Decode reverses Encode. It never returns partial results.
func Decode(s string) (models.KeyType, []byte, []byte, error) {
	if s == "" {
		return 0, nil, nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	buf, err := encoding.DecodeString(s)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(buf) < headerLen+2 {
		return 0, nil, nil, fmt.Errorf("%w: too short", ErrInvalidToken)
	}

	keyType := models.KeyType(buf[0])
	if !keyType.Valid() {
		return 0, nil, nil, fmt.Errorf("%w: unknown key type %d", ErrInvalidToken, buf[0])
	}
	keyLen := int(buf[1])
	if keyLen == 0 || keyLen > len(buf)-headerLen-1 {
		return 0, nil, nil, fmt.Errorf("%w: key length %d out of range", ErrInvalidToken, keyLen)
	}

	key := make([]byte, keyLen)
	copy(key, buf[headerLen:headerLen+keyLen])
	secret := make([]byte, len(buf)-headerLen-keyLen)
	copy(secret, buf[headerLen+keyLen:])
	return keyType, key, secret, nil
}

// Token is a decoded compact token.
type Token struct {
	Key    models.RecordKey
	Secret []byte
}

// Parse decodes s and resolves its record key.
func Parse(s string) (Token, error) {
	keyType, keyBytes, secret, err := Decode(s)
	if err != nil {
		return Token{}, err
	}
	key, err := models.RecordKeyFromBytes(keyType, keyBytes)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return Token{Key: key, Secret: secret}, nil
}

// Format encodes t back into its compact form.
func (t Token) Format() (string, error) {
	return Encode(t.Key.Type, t.Key.Bytes(), t.Secret)
}
