package server

import (
	"crypto/subtle"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	logx "kvpush/pkg/logx"
)

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// requireKey guards /run with ?key=. An empty secret leaves it open.
func (s *Server) requireKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := s.options().Secret
		if secret == "" {
			c.Next()
			return
		}
		key := c.Query("key")
		if key == "" {
			key = c.GetHeader("X-Trigger-Key")
		}
		if !secretEqual(key, secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := s.options().AdminPassword
		if want == "" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Admin password not configured"})
			return
		}
		if !secretEqual(c.GetHeader("x-admin-password"), want) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// triggerLimit is a single shared bucket: every /run caller hits the same
// upstream API and chat.
func (s *Server) triggerLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.RLock()
		lim := s.limiter
		rps := s.opt.TriggerRPS
		s.mu.RUnlock()
		if lim == nil {
			c.Next()
			return
		}
		r := lim.Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			c.Header("X-RateLimit-Limit", formatRate(rps))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}
		c.Header("X-RateLimit-Limit", formatRate(rps))
		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}

func observe(m HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveHTTP(c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []logx.Field{
			logx.Int("status", status),
			logx.Duration("latency", time.Since(start)),
			logx.String("client_ip", c.ClientIP()),
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, logx.String("error", msg))
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics":
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

func recovery(log logx.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error("panic recovered",
			logx.String("panic", fmt.Sprint(recovered)),
			logx.String("path", c.Request.URL.Path),
			logx.String("method", c.Request.Method),
			logx.Stack(logx.StackTrace(3, 32)),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "internal server error",
			"error_code": "INTERNAL_ERROR",
		})
	})
}
