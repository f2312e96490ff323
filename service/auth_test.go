package service_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/sharekeeper/service"
)

func signedClaims(t *testing.T, secret string, claims *service.Claims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestGenerateToken(t *testing.T) {
	auth := service.NewAuthService("secret-key-for-testing")

	token, err := auth.GenerateToken("wallet-app")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "wallet-app", claims.Subject)
	assert.True(t, claims.ExpiresAt > time.Now().Unix())

	_, err = auth.GenerateToken("")
	assert.Error(t, err)
}

func TestValidateToken(t *testing.T) {
	secret := "test-secret-key"

	testCases := []struct {
		name       string
		setupToken func(t *testing.T) string
		secret     string
	}{
		{
			name: "Expired token",
			setupToken: func(t *testing.T) string {
				return signedClaims(t, secret, &service.Claims{StandardClaims: jwt.StandardClaims{
					Subject:   "wallet-app",
					ExpiresAt: time.Now().Add(-time.Hour).Unix(),
				}})
			},
			secret: secret,
		},
		{
			name: "Missing subject",
			setupToken: func(t *testing.T) string {
				return signedClaims(t, secret, &service.Claims{StandardClaims: jwt.StandardClaims{
					ExpiresAt: time.Now().Add(time.Hour).Unix(),
				}})
			},
			secret: secret,
		},
		{
			name: "None signing method",
			setupToken: func(t *testing.T) string {
				claims := &service.Claims{StandardClaims: jwt.StandardClaims{
					Subject:   "wallet-app",
					ExpiresAt: time.Now().Add(time.Hour).Unix(),
				}}
				token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
				s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return s
			},
			secret: secret,
		},
		{
			name: "Wrong secret",
			setupToken: func(t *testing.T) string {
				token, err := service.NewAuthService(secret).GenerateToken("wallet-app")
				require.NoError(t, err)
				return token
			},
			secret: "wrong-secret-key",
		},
		{
			name:       "Malformed token",
			setupToken: func(t *testing.T) string { return "not-a-valid-token" },
			secret:     secret,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := service.NewAuthService(tc.secret).ValidateToken(tc.setupToken(t))
			assert.ErrorIs(t, err, service.ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestRefreshToken(t *testing.T) {
	secret := "refresh-test-secret"
	auth := service.NewAuthService(secret)

	old := signedClaims(t, secret, &service.Claims{StandardClaims: jwt.StandardClaims{
		Subject:   "wallet-app",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}})
	fresh, err := auth.RefreshToken(old)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	claims, err := auth.ValidateToken(fresh)
	require.NoError(t, err)
	assert.Equal(t, "wallet-app", claims.Subject)
	assert.True(t, claims.ExpiresAt > time.Now().Add(time.Hour).Unix())

	expired := signedClaims(t, secret, &service.Claims{StandardClaims: jwt.StandardClaims{
		Subject:   "wallet-app",
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}})
	_, err = auth.RefreshToken(expired)
	assert.ErrorIs(t, err, service.ErrInvalidToken)
}
