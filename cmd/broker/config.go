package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultAddress = "http://127.0.0.1:8300"

// CLIConfig is what `broker login` remembers between runs.
type CLIConfig struct {
	Address    string `yaml:"address"`
	AdminToken string `yaml:"admin_token,omitempty"`
	TLSCACert  string `yaml:"tls_ca_cert,omitempty"`
}

var cfg CLIConfig

// configPath returns BROKER_CLI_CONFIG or ~/.integrationbroker/config.yaml.
func configPath() string {
	if v := os.Getenv("BROKER_CLI_CONFIG"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".integrationbroker", "config.yaml")
}

// loadConfig reads the saved config. A missing file yields the defaults; an
// unreadable or invalid one is an error so a typo is not silently ignored.
func loadConfig() (CLIConfig, error) {
	c := CLIConfig{Address: defaultAddress}
	path := configPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	if c.Address == "" {
		c.Address = defaultAddress
	}
	if c.Address, err = normalizeAddress(c.Address); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// withEnv applies BROKER_ADDR, BROKER_ADMIN_TOKEN and BROKER_CACERT.
func (c CLIConfig) withEnv() CLIConfig {
	if v := os.Getenv("BROKER_ADDR"); v != "" {
		c.Address = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("BROKER_ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}
	if v := os.Getenv("BROKER_CACERT"); v != "" {
		c.TLSCACert = v
	}
	return c
}

// normalizeAddress accepts an http(s) base URL and strips trailing slashes.
func normalizeAddress(addr string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("invalid broker address %q: %w", addr, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid broker address %q: scheme must be http or https", addr)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid broker address %q: missing host", addr)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid broker address %q: query and fragment are not allowed", addr)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

// saveConfig validates c and replaces the config file atomically. The file
// holds the admin token, so it is written 0600.
func saveConfig(c CLIConfig) error {
	addr, err := normalizeAddress(c.Address)
	if err != nil {
		return err
	}
	c.Address = addr
	if c.TLSCACert != "" {
		if c.TLSCACert, err = filepath.Abs(c.TLSCACert); err != nil {
			return fmt.Errorf("resolving CA cert path: %w", err)
		}
	}

	path := configPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
