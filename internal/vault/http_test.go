package vault

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/org/integrationbroker/internal/storage"
)

// fakeKV is a minimal KV-v2 style server with check-and-set on create.
type fakeKV struct {
	mu      sync.Mutex
	entries map[string]map[string]any
	token   string
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	switch r.Method {
	case http.MethodGet:
		data, ok := f.entries[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": data}}) //nolint:errcheck
	case http.MethodPost:
		var req struct {
			Data map[string]any `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		if _, ok := f.entries[r.URL.Path]; ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.entries[r.URL.Path] = req.Data
		w.WriteHeader(http.StatusOK)
	}
}

func newTestHTTPStore(t *testing.T) (*HTTPStore, *fakeKV) {
	t.Helper()
	kv := &fakeKV{entries: map[string]map[string]any{}, token: "t0k"}
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)
	store, err := NewHTTPStore(HTTPConfig{Addr: srv.URL, Token: "t0k"})
	if err != nil {
		t.Fatalf("NewHTTPStore failed: %v", err)
	}
	return store, kv
}

func TestHTTPStoreRoundTrip(t *testing.T) {
	store, kv := newTestHTTPStore(t)
	ctx := context.Background()

	if _, err := store.GetSecret(ctx, "broker/keyset"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.PutSecret(ctx, "broker/keyset", []byte{0, 1, 2}); err != nil {
		t.Fatalf("PutSecret failed: %v", err)
	}
	kv.mu.Lock()
	_, ok := kv.entries["/v1/secret/data/broker/keyset"]
	kv.mu.Unlock()
	if !ok {
		t.Error("entry not written under the KV data path")
	}
	got, err := store.GetSecret(ctx, "broker/keyset")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if string(got) != "\x00\x01\x02" {
		t.Errorf("got %x", got)
	}
	if err := store.PutSecret(ctx, "broker/keyset", []byte{9}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestHTTPStoreConnectionErrors(t *testing.T) {
	store, kv := newTestHTTPStore(t)
	kv.mu.Lock()
	kv.token = "rotated"
	kv.mu.Unlock()
	if _, err := store.GetSecret(context.Background(), "x"); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("expected ErrConnection on HTTP 403, got %v", err)
	}

	down, _ := NewHTTPStore(HTTPConfig{Addr: "http://127.0.0.1:1"})
	if err := down.PutSecret(context.Background(), "x", []byte("y")); !errors.Is(err, storage.ErrConnection) {
		t.Errorf("expected ErrConnection for unreachable vault, got %v", err)
	}
}

func TestHTTPStoreMalformedEntry(t *testing.T) {
	store, kv := newTestHTTPStore(t)
	ctx := context.Background()

	kv.mu.Lock()
	kv.entries["/v1/secret/data/broker/keyset"] = map[string]any{"other": "AAEC"}
	kv.entries["/v1/secret/data/broker/garbled"] = map[string]any{"value": "not base64!"}
	kv.mu.Unlock()

	for _, name := range []string{"broker/keyset", "broker/garbled"} {
		_, err := store.GetSecret(ctx, name)
		if !errors.Is(err, ErrMalformedEntry) {
			t.Errorf("%s: expected ErrMalformedEntry, got %v", name, err)
		}
		if errors.Is(err, ErrNotFound) {
			t.Errorf("%s: malformed entry reported as missing", name)
		}
	}
}

func TestHTTPStoreTransportKeepsDefaults(t *testing.T) {
	store, err := NewHTTPStore(HTTPConfig{Addr: "https://vault.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	tr, ok := store.http.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport type %T", store.http.Transport)
	}
	if tr.Proxy == nil {
		t.Error("transport dropped the environment proxy")
	}
	if tr.TLSHandshakeTimeout == 0 {
		t.Error("transport dropped the TLS handshake timeout")
	}
	if tr.TLSClientConfig == nil || tr.TLSClientConfig.MinVersion != tls.VersionTLS12 {
		t.Error("transport must require TLS 1.2")
	}
}
