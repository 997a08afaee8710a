package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "docgen-test-secret"

func signClaims(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestGenerateToken(t *testing.T) {
	before := time.Now().Truncate(time.Second)
	token, err := GenerateToken(42, testSecret, 2)
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)

	assert.Equal(t, int64(42), claims.OwnerID)
	assert.Equal(t, "docgen", claims.Issuer)
	require.NotNil(t, claims.NotBefore)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.False(t, claims.NotBefore.Time.Before(before))
	assert.Equal(t, claims.IssuedAt.Time, claims.NotBefore.Time)
	assert.Equal(t, 2*time.Hour, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestGenerateToken_RejectsMissingOwner(t *testing.T) {
	for _, owner := range []int64{0, -1} {
		_, err := GenerateToken(owner, testSecret, 1)
		assert.ErrorIs(t, err, ErrInvalidOwner)
	}
}

func TestGenerateToken_OwnerClaimOnTheWire(t *testing.T) {
	token, err := GenerateToken(7, testSecret, 1)
	require.NoError(t, err)

	raw := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, raw)
	require.NoError(t, err)
	assert.Equal(t, float64(7), raw["owner_id"])
	assert.NotContains(t, raw, "user_id")
	assert.Equal(t, "docgen", raw["iss"])
}

func TestParseToken(t *testing.T) {
	now := time.Now()
	valid := func(owner int64, iss string) Claims {
		return Claims{
			OwnerID: owner,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    iss,
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
			},
		}
	}

	notYetValid := valid(9, issuer)
	notYetValid.NotBefore = jwt.NewNumericDate(now.Add(time.Hour))
	notYetValid.ExpiresAt = jwt.NewNumericDate(now.Add(2 * time.Hour))

	expired := valid(9, issuer)
	expired.IssuedAt = jwt.NewNumericDate(now.Add(-2 * time.Hour))
	expired.NotBefore = expired.IssuedAt
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, valid(9, issuer)).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		secret  string
		wantErr error
	}{
		{"empty", "", testSecret, ErrInvalidToken},
		{"garbage", "not.a.jwt", testSecret, ErrInvalidToken},
		{"wrong secret", signClaims(t, jwt.SigningMethodHS256, valid(9, issuer), "other-secret"), testSecret, ErrInvalidToken},
		{"foreign issuer", signClaims(t, jwt.SigningMethodHS256, valid(9, "someone-else"), testSecret), testSecret, ErrInvalidToken},
		{"missing issuer", signClaims(t, jwt.SigningMethodHS256, valid(9, ""), testSecret), testSecret, ErrInvalidToken},
		{"no owner", signClaims(t, jwt.SigningMethodHS256, valid(0, issuer), testSecret), testSecret, ErrInvalidToken},
		{"not yet valid", signClaims(t, jwt.SigningMethodHS256, notYetValid, testSecret), testSecret, ErrInvalidToken},
		{"expired", signClaims(t, jwt.SigningMethodHS256, expired, testSecret), testSecret, ErrExpiredToken},
		{"alg none", noneToken, testSecret, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseToken(tt.token, tt.secret)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, claims)
		})
	}
}

func TestParseToken_AcceptsHS512(t *testing.T) {
	now := time.Now()
	token := signClaims(t, jwt.SigningMethodHS512, Claims{
		OwnerID: 3,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}, testSecret)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.OwnerID)
}

func TestParseToken_ExpiredByLifetime(t *testing.T) {
	token, err := GenerateToken(5, testSecret, -1)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
