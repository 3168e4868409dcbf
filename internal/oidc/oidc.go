// Package oidc verifies the id tokens the identity provider (Keycloak) issues
// at sign-in. A verified id token is exchanged for our own access and refresh
// tokens by the auth handler.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/carecoord/carecoord/pkg/middleware"
)

// Verifier checks id tokens against the realm's published keys.
type Verifier struct {
	issuer   string
	verifier *oidc.IDTokenVerifier
}

// NewVerifier discovers the realm at issuer. Only tokens whose audience is
// clientID are accepted.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover realm %s: %w", issuer, err)
	}
	return &Verifier{issuer: issuer, verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// idToken exposes the subject of a verified id token, which becomes the
// user's id in every record stamp.
type idToken struct {
	*oidc.IDToken
}

func (t idToken) Subject() string { return t.IDToken.Subject }

// Verify checks signature, issuer, audience and expiry. Tokens without a
// subject cannot identify a user and are rejected.
func (v *Verifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("id token from %s: %w", v.issuer, err)
	}
	if tok.Subject == "" {
		return nil, errNoSubject
	}
	return idToken{tok}, nil
}
