package vault

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/org/integrationbroker/internal/storage"
)

// dataField is the KV field holding the base64 entry payload.
const dataField = "value"

// HTTPConfig configures an HTTPStore.
type HTTPConfig struct {
	Addr      string
	Token     string
	Mount     string
	TLSCACert string
}

// HTTPStore talks to a KV-v2 style secret vault over HTTP
// (GET/POST <mount>/data/<name>, X-Vault-Token auth).
type HTTPStore struct {
	addr  string
	token string
	mount string
	http  *http.Client
}

// NewHTTPStore creates an HTTPStore from cfg.
func NewHTTPStore(cfg HTTPConfig) (*HTTPStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "v1/secret"
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSCACert != "" {
		data, err := os.ReadFile(cfg.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("reading vault CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(data)
		tlsCfg.RootCAs = pool
	}

	return &HTTPStore{
		addr:  strings.TrimRight(cfg.Addr, "/"),
		token: cfg.Token,
		mount: mount,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport(tlsCfg),
		},
	}, nil
}

// transport clones the default transport so proxy and timeout settings carry over.
func transport(tlsCfg *tls.Config) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = tlsCfg
	return t
}

func (c *HTTPStore) url(name string) string {
	return c.addr + "/" + c.mount + "/data/" + strings.TrimLeft(name, "/")
}

func (c *HTTPStore) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Vault-Token", c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: vault request: %v", storage.ErrConnection, err)
	}
	return resp, nil
}

// GetSecret fetches the named entry.
func (c *HTTPStore) GetSecret(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(name), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: vault returned HTTP %d", storage.ErrConnection, resp.StatusCode)
	}

	var result struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decoding vault response: %v", storage.ErrConnection, err)
	}
	encoded, ok := result.Data.Data[dataField].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no %q field", ErrMalformedEntry, name, dataField)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %q: %v", ErrMalformedEntry, name, err)
	}
	return data, nil
}

// PutSecret creates the named entry using check-and-set version 0, so an
// entry written by another process is never replaced.
func (c *HTTPStore) PutSecret(ctx context.Context, name string, data []byte) error {
	body := map[string]any{
		"options": map[string]any{"cas": 0},
		"data":    map[string]any{dataField: base64.StdEncoding.EncodeToString(data)},
	}
	resp, err := c.do(ctx, http.MethodPost, c.url(name), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		return ErrAlreadyExists
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: vault returned HTTP %d", storage.ErrConnection, resp.StatusCode)
	}
	return nil
}
