package models

import (
	"net/url"
	"strings"
)

// RedirectDescriptor is what a caller needs to send a user to the
// downstream authorization endpoint.
type RedirectDescriptor struct {
	AuthorizationURL string `json:"authorization_url"`
	ClientID         string `json:"client_id"`
	Scope            string `json:"scope"`
	State            string `json:"state"`
	RedirectURI      string `json:"redirect_uri"`
}

// URL renders the full authorization URL with the descriptor's parameters
// appended to any query already present on AuthorizationURL.
func (d RedirectDescriptor) URL() string {
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", d.ClientID)
	if d.Scope != "" {
		v.Set("scope", d.Scope)
	}
	v.Set("state", d.State)
	v.Set("redirect_uri", d.RedirectURI)

	sep := "?"
	if strings.Contains(d.AuthorizationURL, "?") {
		sep = "&"
	}
	return d.AuthorizationURL + sep + v.Encode()
}
