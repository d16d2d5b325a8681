package handlers

import (
	"bytes"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/ulule/limiter/v3"

	"github.com/4xmen/payveil/internal/metrics"
	"github.com/4xmen/payveil/internal/partner"
)

func setRateLimitHeaders(c *gin.Context, lc limiter.Context) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(lc.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(lc.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(lc.Reset, 10))
}

func tooManyRequests(c *gin.Context, scope string, lc limiter.Context) {
	retry := partner.RetryAfter(lc, time.Now())
	metrics.RateLimited.WithLabelValues(scope).Inc()
	c.Header("Retry-After", strconv.FormatInt(retry, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "retry_after": retry})
}

// rateLimitMiddleware limits a route per client IP.
func rateLimitMiddleware(scope string, l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		lc, err := l.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate limiter error"})
			return
		}

		setRateLimitHeaders(c, lc)
		if lc.Reached {
			tooManyRequests(c, scope, lc)
			return
		}
		c.Next()
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w responseBodyWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w responseBodyWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// serverErrorLogger logs every 5xx with the errors handlers attached and the
// response body.
func serverErrorLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		blw := &responseBodyWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			log.WithFields(logrus.Fields{
				"status":   c.Writer.Status(),
				"method":   c.Request.Method,
				"path":     c.Request.URL.Path,
				"ip":       c.ClientIP(),
				"duration": time.Since(start).Truncate(time.Millisecond).String(),
				"errors":   c.Errors.ByType(gin.ErrorTypeAny).String(),
				"response": strings.TrimSpace(blw.body.String()),
			}).Error("server error")
		}
	}
}

func panicRecovery(log logrus.FieldLogger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"ip":     c.ClientIP(),
			"error":  recovered,
			"stack":  string(debug.Stack()),
		}).Error("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// cors answers preflights. The partner API under /v1 is open to any origin;
// everything else is restricted to the dashboard origins.
func cors(dashboardOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/v1/") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", dashboardOrigins)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Stripe-Signature")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
