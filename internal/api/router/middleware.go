package router

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trihoang/offloadq/internal/api/handler"
)

// PrincipalHeader carries the caller's identity. The deployment layer in
// front of this service is trusted to authenticate it.
const PrincipalHeader = "X-Principal-ID"

// LoggerMiddleware logs each request with method, path, status and latency
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
		}
		if query != "" {
			attrs = append(attrs, slog.String("query", query))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// CORSMiddleware handles cross-origin requests
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Content-Length, Accept-Encoding, Authorization, X-Principal-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// PrincipalMiddleware copies the principal header into the request context
// for the handlers. Endpoints that require identity reject requests where
// it is absent.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal := c.GetHeader(PrincipalHeader); principal != "" {
			c.Set(handler.PrincipalContextKey, principal)
		}
		c.Next()
	}
}
