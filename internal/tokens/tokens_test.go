package tokens

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/carecoord/carecoord/internal/models"
)

func seg(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func TestGenerateAccessToken_ValidAndClaims(t *testing.T) {
	secret := "test-secret-32-bytes-should-be-long-enough"
	u := &models.User{Sub: "user-123", Name: "Test User", Email: "test@example.com"}
	tokenStr, err := GenerateAccessToken(secret, u, 2*time.Minute)
	require.NoError(t, err)

	tok, err := NewVerifier(secret).Verify(context.Background(), tokenStr)
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, tok.Claims(&claims))
	require.Equal(t, u.Sub, claims["sub"])
	require.Equal(t, u.Sub, tok.Subject())
	require.NotEmpty(t, claims["jti"])

	rem := Remaining(tokenStr)
	require.Greater(t, rem, time.Minute)
	require.LessOrEqual(t, rem, 2*time.Minute)
}

func TestGenerateAccessToken_RequiresSecret(t *testing.T) {
	_, err := GenerateAccessToken("", &models.User{Sub: "x"}, time.Minute)
	require.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	secret := "another-secret-32-bytes-longgggg"
	tokenStr, err := GenerateAccessToken(secret, &models.User{Sub: "u2"}, -time.Second)
	require.NoError(t, err)
	_, err = NewVerifier(secret).Verify(context.Background(), tokenStr)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)
	require.LessOrEqual(t, Remaining(tokenStr), time.Duration(0))
}

func TestVerify_WrongSecretFails(t *testing.T) {
	tokenStr, err := GenerateAccessToken("secret-one-32-bytes-xxxxxxxxxxxxxxxx", &models.User{Sub: "u3"}, 2*time.Minute)
	require.NoError(t, err)
	_, err = NewVerifier("different-secret-xxxxxxxxxxxxxxxx").Verify(context.Background(), tokenStr)
	require.Error(t, err)
}

func TestVerify_Malformed(t *testing.T) {
	_, err := NewVerifier("x").Verify(context.Background(), "not.a.jwt")
	require.Error(t, err)
	require.Zero(t, Remaining("not.a.jwt"))
}

// Rejected when alg=none (unsigned token)
func TestVerify_AlgNoneRejected(t *testing.T) {
	headerEnc := seg([]byte(`{"alg":"none"}`))
	payloadEnc := seg([]byte(`{"sub":"u-none","exp":9999999999}`))
	_, err := NewVerifier("x").Verify(context.Background(), headerEnc+"."+payloadEnc+".")
	require.Error(t, err)
}

// Tampering with payload must fail signature verification
func TestVerify_TamperedPayload(t *testing.T) {
	secret := "tamper-test-secret-32-bytes-xxxxxxx"
	tokenStr, err := GenerateAccessToken(secret, &models.User{Sub: "user-t"}, 5*time.Minute)
	require.NoError(t, err)

	parts := strings.Split(tokenStr, ".")
	require.Len(t, parts, 3)
	payloadBytes, err := jwt.NewParser().DecodeSegment(parts[1])
	require.NoError(t, err)
	parts[1] = seg([]byte(strings.Replace(string(payloadBytes), "user-t", "attacker", 1)))

	_, err = NewVerifier(secret).Verify(context.Background(), strings.Join(parts, "."))
	require.Error(t, err)
}
