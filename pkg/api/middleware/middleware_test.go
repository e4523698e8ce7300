package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjscal/pkg/api/middleware"
	"sjscal/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func protectedRouter(t *testing.T, cfg middleware.AuthConfig) *gin.Engine {
	t.Helper()
	r := gin.New()
	r.Use(middleware.AuthMiddleware(cfg))
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/runs", middleware.RequireRole(auth.RoleViewer, true), func(c *gin.Context) {
		c.String(http.StatusOK, middleware.Actor(c))
	})
	r.POST("/dispatch", middleware.RequireRole(auth.RoleOperator, true), func(c *gin.Context) {
		c.String(http.StatusAccepted, middleware.Actor(c))
	})
	return r
}

func serve(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_JWTRoles(t *testing.T) {
	jwtSvc, err := auth.NewJWTService(auth.DefaultJWTConfig("secret"))
	require.NoError(t, err)
	r := protectedRouter(t, middleware.AuthConfig{JWTService: jwtSvc, SkipPaths: []string{"/health"}})

	viewer, err := jwtSvc.GenerateToken("vic", auth.RoleViewer, 0)
	require.NoError(t, err)
	operator, err := jwtSvc.GenerateToken("olga", auth.RoleOperator, 0)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(r, "GET", "/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "GET", "/runs", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "GET", "/runs", map[string]string{"Authorization": "Bearer garbage"}).Code)

	w := serve(r, "GET", "/runs", map[string]string{"Authorization": "Bearer " + viewer})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "vic", w.Body.String())

	assert.Equal(t, http.StatusForbidden, serve(r, "POST", "/dispatch", map[string]string{"Authorization": "Bearer " + viewer}).Code)

	w = serve(r, "POST", "/dispatch", map[string]string{"Authorization": "bearer " + operator})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "olga", w.Body.String())
}

func TestAuthMiddleware_APIKey(t *testing.T) {
	keys := auth.NewMemoryAPIKeyStore()
	key, err := keys.CreateKey(context.Background(), auth.APIKeyInfo{Name: "ci", OwnerID: "ops", Role: auth.RoleOperator})
	require.NoError(t, err)
	r := protectedRouter(t, middleware.AuthConfig{APIKeyStore: keys})

	w := serve(r, "POST", "/dispatch", map[string]string{"X-API-Key": key})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ops/ci", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, "POST", "/dispatch", map[string]string{"X-API-Key": "sk_wrong"}).Code)
}

func TestRequireRole_DisabledAuthPassesThrough(t *testing.T) {
	r := gin.New()
	r.POST("/dispatch", middleware.RequireRole(auth.RoleOperator, false), func(c *gin.Context) {
		c.String(http.StatusAccepted, middleware.Actor(c))
	})
	w := serve(r, "POST", "/dispatch", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "anonymous", w.Body.String())
}

func TestValidator(t *testing.T) {
	v := middleware.NewValidator(middleware.DefaultValidatorConfig())

	assert.NoError(t, v.ValidateName("workflow", "Scrape and Publish Calendars"))
	assert.NoError(t, v.ValidateName("artifact", "generated-output"))
	assert.Error(t, v.ValidateName("workflow", ""))
	assert.Error(t, v.ValidateName("workflow", "../etc"))
	assert.Error(t, v.ValidateName("workflow", strings.Repeat("a", 300)))

	n, err := v.ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	n, err = v.ParseLimit("10")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	for _, bad := range []string{"0", "-1", "x", "501"} {
		_, err := v.ParseLimit(bad)
		var verr *middleware.ValidationError
		assert.ErrorAs(t, err, &verr, bad)
	}

	_, err = v.ParseRunID("not-a-uuid")
	assert.Error(t, err)
}

func TestRequestIDAndSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestIDMiddleware(), middleware.SecurityHeadersMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(middleware.ContextRequestIDKey)) })

	w := serve(r, "GET", "/x", nil)
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = serve(r, "GET", "/x", map[string]string{"X-Request-ID": "abc"})
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(middleware.BodySizeLimitMiddleware(4))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest("POST", "/x", strings.NewReader("too large"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
