// Package auth attaches OAuth2 bearer tokens to platform API requests.
package auth

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Credentials holds the token source used to authorize requests.
type Credentials struct {
	Source oauth2.TokenSource
}

// New wraps src so that tokens are cached until they expire.
func New(src oauth2.TokenSource) *Credentials {
	if src == nil {
		return nil
	}
	return &Credentials{Source: oauth2.ReuseTokenSource(nil, src)}
}

// NewStatic returns credentials that always present the given access token.
func NewStatic(accessToken string) *Credentials {
	if accessToken == "" {
		return nil
	}
	return &Credentials{Source: oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})}
}

// Apply adds the Authorization header to an HTTP request.
func (c *Credentials) Apply(req *http.Request) error {
	if c == nil || c.Source == nil {
		return nil
	}
	tok, err := c.Source.Token()
	if err != nil {
		return fmt.Errorf("obtaining access token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// Valid reports whether credentials are configured.
func (c *Credentials) Valid() bool {
	return c != nil && c.Source != nil
}
