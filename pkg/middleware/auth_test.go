package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/carecoord/carecoord/internal/identity"
)

// fakeToken implements Token
type fakeToken struct {
	data map[string]interface{}
}

func (t *fakeToken) Subject() string {
	sub, _ := t.data["sub"].(string)
	return sub
}

func (t *fakeToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier accepts exactly one token.
type fakeVerifier struct {
	good string
	sub  string
}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	if raw == f.good {
		return &fakeToken{data: map[string]interface{}{"sub": f.sub, "email": "test@example.com"}}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(_ context.Context, token string) (bool, error) {
	return r[token], nil
}

type brokenRevoker struct{}

func (brokenRevoker) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func serve(t *testing.T, mw gin.HandlerFunc, header string) *httptest.ResponseRecorder {
	t.Helper()
	g := gin.New()
	g.GET("/", mw, func(c *gin.Context) {
		uid, _ := identity.FromContext(c.Request.Context())
		claims, _ := c.Get("claims")
		c.JSON(http.StatusOK, gin.H{"uid": uid, "claims": claims})
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func TestAuthMiddleware_NoHeader(t *testing.T) {
	rw := serve(t, AuthMiddleware(&fakeVerifier{good: "goodtoken", sub: "user1"}, nil), "")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_InvalidHeader(t *testing.T) {
	rw := serve(t, AuthMiddleware(&fakeVerifier{good: "goodtoken", sub: "user1"}, nil), "BadHeader")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_ValidTokenSetsIdentity(t *testing.T) {
	rw := serve(t, AuthMiddleware(&fakeVerifier{good: "goodtoken", sub: "user1"}, nil), "Bearer goodtoken")
	require.Equal(t, http.StatusOK, rw.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Equal(t, "user1", got["uid"])
	require.Contains(t, got, "claims")
}

func TestAuthMiddleware_RejectsTokenWithoutSubject(t *testing.T) {
	rw := serve(t, AuthMiddleware(&fakeVerifier{good: "goodtoken"}, nil), "Bearer goodtoken")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_RejectsRevokedToken(t *testing.T) {
	ver := &fakeVerifier{good: "black-token", sub: "user1"}
	rw := serve(t, AuthMiddleware(ver, revokedSet{"black-token": true}), "Bearer black-token")
	require.Equal(t, http.StatusUnauthorized, rw.Code)

	rw = serve(t, AuthMiddleware(ver, brokenRevoker{}), "Bearer black-token")
	require.Equal(t, http.StatusServiceUnavailable, rw.Code)
}

func TestVerifiersChain(t *testing.T) {
	chain := Verifiers{
		&fakeVerifier{good: "a", sub: "from-a"},
		&fakeVerifier{good: "b", sub: "from-b"},
	}
	rw := serve(t, AuthMiddleware(chain, nil), "Bearer b")
	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), "from-b")

	_, err := chain.Verify(context.Background(), "c")
	require.Error(t, err)

	_, err = Verifiers{}.Verify(context.Background(), "a")
	require.Error(t, err)
}
