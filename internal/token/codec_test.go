package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/org/integrationbroker/pkg/models"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		keyType models.KeyType
		key     []byte
		secret  []byte
	}{
		{"numeric", models.KeyTypeNumeric, models.NumericKey(42).Bytes(), []byte("s")},
		{"string", models.KeyTypeString, []byte("installation-7"), bytes.Repeat([]byte{0xff}, 32)},
		{"max key", models.KeyTypeString, bytes.Repeat([]byte("k"), MaxKeyLen), []byte{0, 1, 2}},
		{"binary secret", models.KeyTypeNumeric, []byte{0, 0, 0, 0, 0, 0, 0, 1}, []byte{0, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Encode(tc.keyType, tc.key, tc.secret)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if strings.ContainsAny(s, "=+/") {
				t.Errorf("token %q is not unpadded base64url", s)
			}
			kt, key, secret, err := Decode(s)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if kt != tc.keyType {
				t.Errorf("key type: got %v want %v", kt, tc.keyType)
			}
			if !bytes.Equal(key, tc.key) {
				t.Errorf("key: got %x want %x", key, tc.key)
			}
			if !bytes.Equal(secret, tc.secret) {
				t.Errorf("secret: got %x want %x", secret, tc.secret)
			}
		})
	}
}

func TestEncodeRejectsOversizedKey(t *testing.T) {
	_, err := Encode(models.KeyTypeString, bytes.Repeat([]byte("k"), MaxKeyLen+1), []byte("s"))
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, err := Encode(models.KeyTypeString, []byte("abc"), []byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := encoding.DecodeString(valid)

	cases := map[string]string{
		"empty":           "",
		"not base64":      "!!!!",
		"padded":          valid + "==",
		"header only":     encoding.EncodeToString([]byte{1, 0}),
		"unknown tag":     encoding.EncodeToString(append([]byte{7}, raw[1:]...)),
		"zero key length": encoding.EncodeToString(append([]byte{1, 0}, raw[2:]...)),
		"key overruns":    encoding.EncodeToString(append([]byte{1, 200}, raw[2:]...)),
		"no secret":       encoding.EncodeToString([]byte{1, 3, 'a', 'b', 'c'}),
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			kt, key, secret, err := Decode(s)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if kt != 0 || key != nil || secret != nil {
				t.Error("decode returned partial results")
			}
		})
	}
}

func TestDecodeBitFlipNeverYieldsSameBytes(t *testing.T) {
	s, err := Encode(models.KeyTypeNumeric, models.NumericKey(9001).Bytes(), bytes.Repeat([]byte{0xab}, 32))
	if err != nil {
		t.Fatal(err)
	}
	origType, origKey, origSecret, _ := Decode(s)

	for i := 0; i < len(s); i++ {
		for bit := 0; bit < 8; bit++ {
			mutated := []byte(s)
			mutated[i] ^= 1 << bit
			if string(mutated) == s {
				continue
			}
			kt, key, secret, err := Decode(string(mutated))
			if err != nil {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("pos %d bit %d: unexpected error %v", i, bit, err)
				}
				continue
			}
			if kt == origType && bytes.Equal(key, origKey) && bytes.Equal(secret, origSecret) {
				t.Fatalf("pos %d bit %d: mutated token decoded to the original bytes", i, bit)
			}
		}
	}
}

func TestParseResolvesRecordKey(t *testing.T) {
	tok := Token{Key: models.NumericKey(77), Secret: []byte("xyz")}
	s, err := tok.Format()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.Key != tok.Key {
		t.Errorf("key: got %v want %v", got.Key, tok.Key)
	}

	// A numeric tag with a non 8-byte key cannot become a record key.
	bad, _ := Encode(models.KeyTypeNumeric, []byte("abc"), []byte("s"))
	if _, err := Parse(bad); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}
