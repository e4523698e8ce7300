package middleware

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds validation configuration
type ValidatorConfig struct {
	MaxNameLength int // Maximum workflow or artifact name length
	DefaultLimit  int // Page size when ?limit is absent
	MaxLimit      int // Largest accepted ?limit
}

// DefaultValidatorConfig returns safe defaults
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxNameLength: 256,
		DefaultLimit:  50,
		MaxLimit:      500,
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 ._-]*$`)

// Validator checks path and query parameters.
type Validator struct {
	config ValidatorConfig
}

func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// ValidateName checks a workflow or artifact name from the path.
func (v *Validator) ValidateName(field, name string) error {
	if len(name) == 0 {
		return &ValidationError{
			Field:   field,
			Message: "name is required",
		}
	}
	if len(name) > v.config.MaxNameLength {
		return &ValidationError{
			Field:   field,
			Message: "name exceeds maximum length",
		}
	}
	if !namePattern.MatchString(name) {
		return &ValidationError{
			Field:   field,
			Message: "name contains invalid characters",
		}
	}
	return nil
}

// ParseLimit reads a page size, defaulting when empty.
func (v *Validator) ParseLimit(raw string) (int, error) {
	if raw == "" {
		return v.config.DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > v.config.MaxLimit {
		return 0, &ValidationError{
			Field:   "limit",
			Message: "limit must be between 1 and " + strconv.Itoa(v.config.MaxLimit),
		}
	}
	return n, nil
}

// ParseRunID parses a run ID path parameter.
func (v *Validator) ParseRunID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ValidationError{
			Field:   "id",
			Message: "invalid run ID",
		}
	}
	return id, nil
}

// ValidationError represents a validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware limits request body size
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// RequestIDMiddleware tags each request with the caller's X-Request-ID or a
// fresh one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
