package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildops/backend/internal/infrastructure/config"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestJWTService() *JWTService {
	return NewJWTService(config.JWTConfig{
		Secret:                testSecret,
		Issuer:                "test-issuer",
		AccessTokenExpiration: 15 * time.Minute,
	})
}

func newTestInput() GenerateTokenInput {
	return GenerateTokenInput{
		TenantID:    uuid.New(),
		UserID:      uuid.New(),
		Username:    "estimator",
		Permissions: []string{PermissionXeroSync, PermissionAccountingWrite},
	}
}

// signClaims signs arbitrary claims with the test secret
func signClaims(t *testing.T, claims *Claims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(input GenerateTokenInput) *Claims {
	now := time.Now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		TenantID:  input.TenantID.String(),
		UserID:    input.UserID.String(),
		TokenType: TokenTypeAccess,
	}
}

func TestNewJWTService_DefaultExpiration(t *testing.T) {
	svc := NewJWTService(config.JWTConfig{Secret: "s"})
	assert.Equal(t, 15*time.Minute, svc.accessExpiration)
}

func TestValidateAccessToken_Success(t *testing.T) {
	svc := newTestJWTService()
	input := newTestInput()

	token, expiresAt, err := svc.GenerateAccessToken(input)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), expiresAt, time.Second)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, input.TenantID.String(), claims.TenantID)
	assert.Equal(t, input.UserID.String(), claims.UserID)
	assert.Equal(t, "estimator", claims.Username)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
	assert.WithinDuration(t, expiresAt, claims.GetExpiresAtTime(), time.Second)

	tenantID, err := claims.GetTenantUUID()
	require.NoError(t, err)
	assert.Equal(t, input.TenantID, tenantID)
	userID, err := claims.GetUserUUID()
	require.NoError(t, err)
	assert.Equal(t, input.UserID, userID)
}

func TestValidateAccessToken_Failures(t *testing.T) {
	svc := newTestJWTService()
	input := newTestInput()

	expired := validClaims(input)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	notYet := validClaims(input)
	notYet.NotBefore = jwt.NewNumericDate(time.Now().Add(time.Hour))

	wrongType := validClaims(input)
	wrongType.TokenType = "refresh"

	noTenant := validClaims(input)
	noTenant.TenantID = ""

	noUser := validClaims(input)
	noUser.UserID = ""

	badTenant := validClaims(input)
	badTenant.TenantID = "not-a-uuid"

	wrongIssuer := validClaims(input)
	wrongIssuer.Issuer = "someone-else"

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not.a.token", ErrInvalidToken},
		{"expired", signClaims(t, expired, testSecret), ErrExpiredToken},
		{"not yet valid", signClaims(t, notYet, testSecret), ErrTokenNotYetValid},
		{"wrong type", signClaims(t, wrongType, testSecret), ErrInvalidTokenType},
		{"missing tenant", signClaims(t, noTenant, testSecret), ErrMissingTenantID},
		{"missing user", signClaims(t, noUser, testSecret), ErrMissingUserID},
		{"tenant not uuid", signClaims(t, badTenant, testSecret), ErrInvalidClaims},
		{"wrong issuer", signClaims(t, wrongIssuer, testSecret), ErrInvalidToken},
		{"different secret", signClaims(t, validClaims(input), "another-secret-key-of-32-characters"), ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateAccessToken_RejectsOtherAlgorithms(t *testing.T) {
	svc := newTestJWTService()
	claims := validClaims(newTestInput())
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestClaims_Permissions(t *testing.T) {
	c := &Claims{Permissions: []string{PermissionXeroSync, PermissionAccountingRead}}

	assert.True(t, c.HasPermission(PermissionXeroSync))
	assert.False(t, c.HasPermission(PermissionXeroConnect))
	assert.True(t, c.HasAnyPermission(PermissionXeroConnect, PermissionAccountingRead))
	assert.False(t, c.HasAnyPermission(PermissionXeroConflicts))
}
