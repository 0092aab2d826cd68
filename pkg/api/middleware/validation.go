package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds validation configuration for the admin API's
// enqueue endpoint.
type ValidatorConfig struct {
	MaxBodySize     int64 // Maximum request body size in bytes
	MaxPayloadBytes int   // Maximum job payload size
	MaxNameLength   int   // Maximum tenant/queue/id length
}

// DefaultValidatorConfig returns safe defaults
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:     1 << 20, // 1MB
		MaxPayloadBytes: 256 << 10,
		MaxNameLength:   256,
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// Validator performs request validation for job identity fields and
// payload size. Job payloads are opaque to duraq, so unlike a job
// runner's command-blacklist validator, this one only enforces shape:
// tenant/queue/id character set and length, and payload size caps.
type Validator struct {
	config ValidatorConfig
}

// NewValidator creates a new validator with the given config
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// ValidateIdentifier checks a tenant, queue, or job ID field.
func (v *Validator) ValidateIdentifier(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	if len(value) > v.config.MaxNameLength {
		return &ValidationError{Field: field, Message: "exceeds maximum length"}
	}
	if !identifierPattern.MatchString(value) {
		return &ValidationError{Field: field, Message: "contains characters outside [A-Za-z0-9_.:-]"}
	}
	return nil
}

// ValidatePayloadSize checks the raw payload byte length.
func (v *Validator) ValidatePayloadSize(n int) error {
	if n > v.config.MaxPayloadBytes {
		return &ValidationError{Field: "payload", Message: "exceeds maximum payload size"}
	}
	return nil
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
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// RequestIDMiddleware adds a request ID for correlating logs and traces
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}
