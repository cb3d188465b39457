// Package oauth talks to the downstream OAuth authorization server on behalf
// of integrations.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/org/integrationbroker/pkg/models"
	"golang.org/x/oauth2"
)

// ErrExchange is returned when the authorization code could not be redeemed.
var ErrExchange = errors.New("oauth code exchange failed")

// Provider is the downstream OAuth collaborator.
type Provider interface {
	// Descriptor describes where to send the user to grant access.
	Descriptor(state, redirectURI string) models.RedirectDescriptor
	// Exchange redeems an authorization code for a credential string.
	Exchange(ctx context.Context, code, redirectURI string) (string, error)
}

// Config is the downstream client registration.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	Timeout      time.Duration
}

// Client is a Provider backed by golang.org/x/oauth2.
type Client struct {
	cfg  oauth2.Config
	http *http.Client
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Descriptor(state, redirectURI string) models.RedirectDescriptor {
	return models.RedirectDescriptor{
		AuthorizationURL: c.cfg.Endpoint.AuthURL,
		ClientID:         c.cfg.ClientID,
		Scope:            strings.Join(c.cfg.Scopes, " "),
		State:            state,
		RedirectURI:      redirectURI,
	}
}

// Exchange redeems code and returns "<token_type> <access_token>".
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}
	tok, err := c.cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchange, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrExchange)
	}
	return tok.Type() + " " + tok.AccessToken, nil
}
