package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/quindar/refdata-api/internal/auth"
)

func newProtectedRouter(t *testing.T) (*gin.Engine, *auth.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authService := auth.NewService("test-secret")
	authService.RegisterAPICredentials("reader", "secret", auth.ScopeRead)
	authService.RegisterAPICredentials("writer", "secret", auth.ScopeRead, auth.ScopeMetadataWrite)

	router := gin.New()
	instruments := router.Group("/api/v1/instruments")
	instruments.Use(JWTAuth(authService))
	instruments.GET("", RequireScope(auth.ScopeRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	instruments.POST("", RequireScope(auth.ScopeMetadataWrite), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return router, authService
}

func bearerToken(t *testing.T, authService *auth.Service, apiKey string) string {
	t.Helper()
	token, err := authService.GenerateToken(auth.Credentials{APIKey: apiKey, APISecret: "secret"})
	require.NoError(t, err)
	return token.Token
}

func TestJWTAuthAndScopes(t *testing.T) {
	router, authService := newProtectedRouter(t)
	readerToken := bearerToken(t, authService, "reader")
	writerToken := bearerToken(t, authService, "writer")

	tests := []struct {
		name   string
		method string
		token  string
		want   int
	}{
		{name: "read with read scope", method: http.MethodGet, token: readerToken, want: http.StatusOK},
		{name: "write with write scope", method: http.MethodPost, token: writerToken, want: http.StatusCreated},
		{name: "write without write scope", method: http.MethodGet, token: readerToken, want: http.StatusOK},
		{name: "write denied for reader", method: http.MethodPost, token: readerToken, want: http.StatusForbidden},
		{name: "missing token", method: http.MethodGet, token: "", want: http.StatusUnauthorized},
		{name: "garbage token", method: http.MethodGet, token: "garbage", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/instruments", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireScopeWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/guarded", RequireScope(auth.ScopeRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetLimiterEnforcesAuthBurst(t *testing.T) {
	limiter := getLimiter("/api/v1/auth/token", "10.0.0.1")

	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow() {
			allowed++
		}
	}
	require.Equal(t, 5, allowed)
}

func TestGetLimiterUnlimitedByDefault(t *testing.T) {
	limiter := getLimiter("/healthz", "10.0.0.2")

	for i := 0; i < 100; i++ {
		require.True(t, limiter.Allow())
	}
}
