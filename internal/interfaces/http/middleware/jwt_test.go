package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildops/backend/internal/infrastructure/auth"
	"github.com/buildops/backend/internal/infrastructure/config"
	"github.com/buildops/backend/internal/infrastructure/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestJWTService() *auth.JWTService {
	return auth.NewJWTService(config.JWTConfig{
		Secret:                "test-secret-key-at-least-32-chars",
		Issuer:                "test-issuer",
		AccessTokenExpiration: 15 * time.Minute,
	})
}

func newTestToken(t *testing.T, svc *auth.JWTService, perms ...string) (string, auth.GenerateTokenInput) {
	t.Helper()
	input := auth.GenerateTokenInput{
		TenantID:    uuid.New(),
		UserID:      uuid.New(),
		Username:    "bookkeeper",
		Permissions: perms,
	}
	token, _, err := svc.GenerateAccessToken(input)
	require.NoError(t, err)
	return token, input
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	svc := newTestJWTService()
	token, input := newTestToken(t, svc, auth.PermissionXeroSync)

	router := gin.New()
	router.Use(JWTAuthMiddleware(svc))
	router.GET("/api/v1/xero/status", func(c *gin.Context) {
		assert.Equal(t, input.UserID.String(), GetJWTUserID(c))
		assert.Equal(t, input.TenantID.String(), GetJWTTenantID(c))
		assert.Equal(t, []string{auth.PermissionXeroSync}, GetJWTPermissions(c))
		assert.Equal(t, input.TenantID.String(), logger.GetTenantID(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/xero/status", nil)
	req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuthMiddleware_Rejections(t *testing.T) {
	svc := newTestJWTService()
	other := auth.NewJWTService(config.JWTConfig{Secret: "another-secret-key-of-32-characters", Issuer: "test-issuer"})
	foreign, _ := newTestToken(t, other)

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "ERR_UNAUTHORIZED"},
		{"wrong scheme", "Basic abc", "ERR_UNAUTHORIZED"},
		{"empty token", "Bearer ", "ERR_UNAUTHORIZED"},
		{"garbage", "Bearer not-a-jwt", "ERR_TOKEN_INVALID"},
		{"wrong secret", "Bearer " + foreign, "ERR_TOKEN_INVALID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(JWTAuthMiddleware(svc))
			router.GET("/api/v1/xero/status", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/api/v1/xero/status", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			if tt.code != "ERR_UNAUTHORIZED" {
				assert.Contains(t, w.Body.String(), tt.code)
			}
		})
	}
}

func TestJWTAuthMiddleware_PublicPathsSkipAuth(t *testing.T) {
	router := gin.New()
	router.Use(JWTAuthMiddleware(newTestJWTService()))
	router.POST("/api/v1/xero/webhooks", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/v1/xero/callback", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/xero/webhooks"},
		{http.MethodGet, "/api/v1/xero/callback"},
		{http.MethodGet, "/health"},
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(r.method, r.path, nil))
		assert.Equal(t, http.StatusOK, w.Code, r.path)
	}
}

func TestRequirePermission(t *testing.T) {
	svc := newTestJWTService()
	allowed, _ := newTestToken(t, svc, auth.PermissionXeroConflicts)
	denied, _ := newTestToken(t, svc, auth.PermissionAccountingRead)

	router := gin.New()
	router.Use(JWTAuthMiddleware(svc))
	router.POST("/api/v1/xero/conflicts/bulk-resolve",
		RequirePermission(auth.PermissionXeroConflicts),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	for token, want := range map[string]int{allowed: http.StatusOK, denied: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/xero/conflicts/bulk-resolve", nil)
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code)
	}
}

func TestRequireAnyPermission_WithoutClaims(t *testing.T) {
	router := gin.New()
	router.GET("/x", RequireAnyPermission(auth.PermissionXeroSync, auth.PermissionXeroConnect),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "ERR_FORBIDDEN")
	assert.Contains(t, w.Body.String(), auth.PermissionXeroConnect)
}
