package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client is an HTTP client for the broker API.
type Client struct {
	addr       string
	adminToken string
	http       *http.Client
}

// newClient creates a Client from the current config.
func newClient() *Client {
	c := cfg.withEnv()

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.TLSCACert != "" {
		data, err := os.ReadFile(c.TLSCACert)
		if err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		}
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	httpClient := &http.Client{Timeout: 30 * time.Second, Transport: tr}

	return &Client{addr: strings.TrimRight(c.Address, "/"), adminToken: c.AdminToken, http: httpClient}
}

func (c *Client) do(method, path string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequest(method, c.addr+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.http.Do(req)
}

func (c *Client) call(method, path string, header http.Header) (map[string]any, error) {
	resp, err := c.do(method, path, header)
	if err != nil {
		return nil, err
	}
	return parseResponse(resp)
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func (c *Client) admin() http.Header {
	return http.Header{"X-Broker-Admin-Token": []string{c.adminToken}}
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		if errs, ok := result["errors"].([]any); ok && len(errs) > 0 {
			return nil, fmt.Errorf("HTTP %d: %v", resp.StatusCode, errs[0])
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return result, nil
}
