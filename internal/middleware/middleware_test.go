package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kindergarten-admission-api/internal/models"
	"github.com/noah-isme/kindergarten-admission-api/internal/service"
	appErrors "github.com/noah-isme/kindergarten-admission-api/pkg/errors"
)

func newAuth() *service.AuthService {
	return service.NewAuthService(nil, service.AuthConfig{AccessTokenSecret: "test-secret", Issuer: "admission-test"})
}

func protectedRouter(auth *service.AuthService, roles ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/secure", JWT(auth), RequireRoles(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).UserID)
	})
	return r
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	r := protectedRouter(newAuth(), models.RoleAdmin)

	for _, header := range []string{"", "Token abc", "Bearer ", "Bearer not-a-jwt"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestRequireRoles(t *testing.T) {
	auth := newAuth()
	r := protectedRouter(auth, models.RoleReviewer)

	cases := []struct {
		role models.UserRole
		want int
	}{
		{models.RoleReviewer, http.StatusOK},
		{models.RoleSuperAdmin, http.StatusOK},
		{models.RoleParent, http.StatusForbidden},
	}
	for _, tc := range cases {
		token, err := auth.IssueToken("user-1", tc.role, time.Minute)
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.role)
		if tc.want == http.StatusOK {
			assert.Equal(t, "user-1", rec.Body.String())
		}
	}
}

func TestOptionalJWTAttachesClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newAuth()
	r := gin.New()
	r.GET("/open", OptionalJWT(auth), func(c *gin.Context) {
		if claims := Claims(c); claims != nil {
			c.String(http.StatusOK, string(claims.Role))
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, "anonymous", rec.Body.String())

	token, err := auth.IssueToken("parent-1", models.RoleParent, time.Minute)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(rec, req)
	assert.Equal(t, "PARENT", rec.Body.String())
}

func TestRateLimiterPerClientIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(1, 2, nil)
	clock := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	r := gin.New()
	r.POST("/submit", limiter.Handler(), func(c *gin.Context) { c.Status(http.StatusOK) })
	call := func(ip string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.RemoteAddr = ip + ":4000"
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)
	blocked := call("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "1", blocked.Header().Get("Retry-After"))
	assert.Contains(t, blocked.Body.String(), appErrors.ErrTooManyRequests.Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.2").Code)

	clock = clock.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1").Code)

	clock = clock.Add(time.Hour)
	assert.Equal(t, 2, limiter.Sweep())
}
