package core

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/org/integrationbroker/internal/crypto"
)

const keysetVersion = 1

// keyset is the serialized key material kept in the secret vault.
type keyset struct {
	Version   int       `json:"version"`
	Primary   string    `json:"primary"`
	CreatedAt time.Time `json:"created_at"`
}

func newKeyset(now time.Time) ([]byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(key)
	return json.Marshal(keyset{
		Version:   keysetVersion,
		Primary:   base64.StdEncoding.EncodeToString(key),
		CreatedAt: now.UTC(),
	})
}

// parseKeyset returns the primary key of a serialized keyset.
func parseKeyset(data []byte) ([]byte, error) {
	var ks keyset
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parsing keyset: %w", err)
	}
	if ks.Version != keysetVersion {
		return nil, fmt.Errorf("unsupported keyset version %d", ks.Version)
	}
	primary, err := base64.StdEncoding.DecodeString(ks.Primary)
	if err != nil {
		return nil, fmt.Errorf("decoding keyset primary: %w", err)
	}
	if len(primary) != crypto.KeySize {
		return nil, errors.New("keyset primary has wrong size")
	}
	return primary, nil
}
