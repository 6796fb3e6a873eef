package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CORS allows the portfolio front-end origins. Credentials are only allowed
// for explicitly listed origins.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		explicit := false
		for _, o := range allowedOrigins {
			if o == "*" {
				allowed = true
			}
			if o == origin && origin != "" {
				allowed = true
				explicit = true
				break
			}
		}

		if allowed && origin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
			if explicit {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
