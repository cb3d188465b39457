package token

import (
	"bytes"
	"testing"

	"github.com/org/integrationbroker/pkg/models"
)

func TestHashSecretIsSalted(t *testing.T) {
	secret, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if len(secret) != SecretLen {
		t.Errorf("expected %d bytes, got %d", SecretLen, len(secret))
	}

	h1, _ := HashSecret(secret)
	h2, _ := HashSecret(secret)
	if h1 == h2 {
		t.Error("two hashes of the same secret should differ by salt")
	}
	if !VerifySecret(secret, h1) || !VerifySecret(secret, h2) {
		t.Error("secret should verify against both hashes")
	}
}

func TestVerifySecretRejects(t *testing.T) {
	secret, _ := GenerateSecret()
	hash, _ := HashSecret(secret)

	other := bytes.Clone(secret)
	other[0] ^= 1
	if VerifySecret(other, hash) {
		t.Error("different secret should not verify")
	}
	for _, h := range []string{"", "nodollar", "zz$00", "00$zz", "$abcd"} {
		if VerifySecret(secret, h) {
			t.Errorf("malformed hash %q should not verify", h)
		}
	}
}

func TestIssue(t *testing.T) {
	key := models.StringKey("acme")
	issued, err := Issue(key)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	parsed, err := Parse(issued.Compact)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Key != key {
		t.Errorf("key: got %v want %v", parsed.Key, key)
	}
	if !bytes.Equal(parsed.Secret, issued.Secret) {
		t.Error("secret mismatch")
	}
	if !VerifySecret(parsed.Secret, issued.Hash) {
		t.Error("issued hash should verify the embedded secret")
	}
}
