// Package auth decides which admin API callers may observe the bridge and
// which may also drive it.
//
// The bridge knows two grants: read (streams, routes, runs, events) and
// control (engine and host actions). Control includes read. The configured
// api_key holds every grant.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes accepted in api.auth.tokens.
const (
	ScopeRead    = "read"
	ScopeControl = "control"
	ScopeAll     = "*"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Grant is what an authenticated caller may do.
type Grant struct {
	Read    bool
	Control bool
}

// Allows reports whether g covers scope. Unknown scopes are never allowed.
func (g Grant) Allows(scope string) bool {
	switch scope {
	case ScopeRead:
		return g.Read
	case ScopeControl:
		return g.Control
	case ScopeAll:
		return g.Read && g.Control
	}
	return false
}

func grantFor(scopes []string) Grant {
	var g Grant
	for _, s := range scopes {
		switch strings.TrimSpace(s) {
		case ScopeRead:
			g.Read = true
		case ScopeControl, ScopeAll:
			g.Read, g.Control = true, true
		}
	}
	return g
}

type entry struct {
	token []byte
	grant Grant
}

// Keyring holds the configured tokens.
type Keyring struct {
	entries []entry
}

// NewKeyring builds a keyring from the api key and scoped tokens. Empty
// tokens are ignored.
func NewKeyring(apiKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if apiKey != "" {
		k.entries = append(k.entries, entry{token: []byte(apiKey), grant: Grant{Read: true, Control: true}})
	}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		k.entries = append(k.entries, entry{token: []byte(t.Token), grant: grantFor(t.Scopes)})
	}
	return k
}

// Enabled reports whether any token is configured. Without one the API is
// open.
func (k *Keyring) Enabled() bool {
	return len(k.entries) > 0
}

// Lookup returns the grant of a presented token. Every entry is compared so
// the time taken does not depend on which one matched.
func (k *Keyring) Lookup(token string) (Grant, bool) {
	if token == "" {
		return Grant{}, false
	}
	presented := []byte(token)
	var grant Grant
	found := false
	for _, e := range k.entries {
		if subtle.ConstantTimeCompare(presented, e.token) == 1 && !found {
			grant, found = e.grant, true
		}
	}
	return grant, found
}

// Authenticate reads the bearer token of r and looks it up.
func (k *Keyring) Authenticate(r *http.Request) (Grant, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return Grant{}, ErrMissingToken
	}
	grant, found := k.Lookup(token)
	if !found {
		return Grant{}, ErrInvalidToken
	}
	return grant, nil
}

type grantKey struct{}

func WithGrant(ctx context.Context, g Grant) context.Context {
	return context.WithValue(ctx, grantKey{}, g)
}

func GrantFromContext(ctx context.Context) (Grant, bool) {
	g, ok := ctx.Value(grantKey{}).(Grant)
	return g, ok
}
