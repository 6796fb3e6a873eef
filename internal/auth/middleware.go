// Package auth guards operator-only routes with a static bearer token.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const operatorContextKey = "auth_operator"

// Service validates the operator token.
type Service struct {
	token      string
	headerName string
}

// NewService returns nil when token is empty; callers treat that as "operator
// routes disabled".
func NewService(token string) *Service {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &Service{token: token, headerName: "Authorization"}
}

func (s *Service) Enabled() bool {
	return s != nil && s.token != ""
}

// Validate compares in constant time.
func (s *Service) Validate(token string) error {
	if !s.Enabled() {
		return errors.New("operator access disabled")
	}
	if token == "" {
		return errors.New("token required")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return errors.New("invalid token")
	}
	return nil
}

// Middleware rejects requests that do not carry the operator bearer token.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.Validate(s.extractToken(c)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(operatorContextKey, true)
		c.Next()
	}
}

// IsOperator reports whether the middleware authenticated this request.
func IsOperator(c *gin.Context) bool {
	val, ok := c.Get(operatorContextKey)
	if !ok {
		return false
	}
	b, ok := val.(bool)
	return ok && b
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
