package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carecoord/carecoord/pkg/middleware"
)

var errNoSubject = errors.New("id token has no subject")

// InsecureVerifier trusts the claims of an id token without checking its
// signature. main enables it only under ALLOW_INSECURE_TOKEN=true, for local
// runs without a reachable Keycloak.
type InsecureVerifier struct {
	parser *jwt.Parser
}

func NewInsecureVerifier() *InsecureVerifier {
	return &InsecureVerifier{parser: jwt.NewParser()}
}

type unverifiedToken struct {
	sub    string
	claims jwt.MapClaims
}

func (t unverifiedToken) Subject() string { return t.sub }

func (t unverifiedToken) Claims(v interface{}) error {
	m, ok := v.(*map[string]interface{})
	if !ok {
		return fmt.Errorf("unsupported claims target %T", v)
	}
	*m = map[string]interface{}(t.claims)
	return nil
}

func (v *InsecureVerifier) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse id token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("parse id token: %w", err)
	}
	if sub == "" {
		return nil, errNoSubject
	}
	return unverifiedToken{sub: sub, claims: claims}, nil
}
