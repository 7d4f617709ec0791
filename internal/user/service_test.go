package user

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, username string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "peerchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	})
	ss, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return ss
}

func TestService_VerifyToken_ResolvesIdentity(t *testing.T) {
	req := require.New(t)
	svc := NewService(nil, testSecret)

	ss := signToken(t, testSecret, "user-1", "alice", time.Hour)

	ident, err := svc.VerifyToken(ss)
	req.NoError(err)
	req.Equal("user-1", ident.ID)
	req.Equal("alice", ident.Name)
}

func TestService_VerifyToken_RejectsBadTokens(t *testing.T) {
	req := require.New(t)
	svc := NewService(nil, testSecret)

	// Garbage
	_, err := svc.VerifyToken("not-a-token")
	req.Error(err)

	// Wrong signing key
	_, err = svc.VerifyToken(signToken(t, "other-secret", "user-1", "alice", time.Hour))
	req.Error(err)

	// Expired
	_, err = svc.VerifyToken(signToken(t, testSecret, "user-1", "alice", -time.Minute))
	req.Error(err)

	// Valid signature but no subject
	_, err = svc.VerifyToken(signToken(t, testSecret, "", "alice", time.Hour))
	req.Error(err)
}
