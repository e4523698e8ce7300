package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sjscal/pkg/auth"
)

// Context and header keys shared by the middleware chain.
const (
	APIKeyHeaderKey     = "X-API-Key"
	ContextUserKey      = "user"
	ContextRequestIDKey = "request_id"
)

// AuthConfig selects the credential sources for AuthMiddleware. Paths in
// SkipPaths are served without credentials; a trailing * matches a prefix.
type AuthConfig struct {
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	SkipPaths   []string
}

// Enabled reports whether any credential source is configured.
func (c AuthConfig) Enabled() bool {
	return c.JWTService != nil || c.APIKeyStore != nil
}

// credential resolves the caller from one request header, or returns nil.
type credential func(c *gin.Context) *auth.Claims

func (c AuthConfig) credentials() []credential {
	var chain []credential
	if c.JWTService != nil {
		chain = append(chain, bearer(c.JWTService))
	}
	if c.APIKeyStore != nil {
		chain = append(chain, apiKey(c.APIKeyStore))
	}
	return chain
}

// AuthMiddleware accepts a Bearer token first, then an X-API-Key, and stores
// the resolved claims under ContextUserKey.
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	chain := config.credentials()
	return func(c *gin.Context) {
		if skipped(c.Request.URL.Path, config.SkipPaths) {
			c.Next()
			return
		}
		for _, resolve := range chain {
			if claims := resolve(c); claims != nil {
				c.Set(ContextUserKey, claims)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "authentication required",
			"hint":  "send Authorization: Bearer <token> or " + APIKeyHeaderKey,
		})
	}
}

func bearer(svc *auth.JWTService) credential {
	return func(c *gin.Context) *auth.Claims {
		scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return nil
		}
		claims, err := svc.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			return nil
		}
		return claims
	}
}

func apiKey(store auth.APIKeyStore) credential {
	return func(c *gin.Context) *auth.Claims {
		key := c.GetHeader(APIKeyHeaderKey)
		if key == "" {
			return nil
		}
		info, err := store.ValidateKey(c.Request.Context(), key)
		if err != nil {
			return nil
		}
		claims := &auth.Claims{Role: info.Role}
		claims.Subject = info.OwnerID + "/" + info.Name
		return claims
	}
}

// GetUserFromContext returns the claims AuthMiddleware stored, if any.
func GetUserFromContext(c *gin.Context) (*auth.Claims, bool) {
	value, ok := c.Get(ContextUserKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// Actor names the caller for run records.
func Actor(c *gin.Context) string {
	if claims, ok := GetUserFromContext(c); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "anonymous"
}

// RequireRole rejects callers below required. When auth is disabled for the
// server every request passes.
func RequireRole(required auth.Role, enabled bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		claims, ok := GetUserFromContext(c)
		switch {
		case !ok:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		case !claims.Role.HasPermission(required):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": required,
				"current":  claims.Role,
			})
		default:
			c.Next()
		}
	}
}

func skipped(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if prefix, wild := strings.CutSuffix(pattern, "*"); wild {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		} else if path == pattern {
			return true
		}
	}
	return false
}
