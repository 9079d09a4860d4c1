package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/v1truv1us/fleettools-sub002/internal/metrics"
)

const (
	headerRequestID   = "X-Request-Id"
	headerCausationID = "X-Causation-Id"
	headerPrincipal   = "X-Fleet-Principal"

	ctxKeyRequestID = "request_id"
)

// requestIDMiddleware assigns every request an id, honoring one the caller
// already carries so ids survive proxy hops. The id rides on the response
// header, the access log, and 5xx envelopes.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(ctxKeyRequestID)
}

// causation returns the X-Causation-Id header when present. Write handlers
// thread it into the events they append so cross-process chains stay intact.
func causation(c *gin.Context) *string {
	if v := c.GetHeader(headerCausationID); v != "" {
		return &v
	}
	return nil
}

// actor resolves the acting specialist for a write: the explicit body field
// wins, then the principal header an auth proxy may inject.
func actor(c *gin.Context, explicit *string) *string {
	if explicit != nil && *explicit != "" {
		return explicit
	}
	if v := c.GetHeader(headerPrincipal); v != "" {
		return &v
	}
	return nil
}

// actorString is actor for service calls taking the specialist by value.
func actorString(c *gin.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return c.GetHeader(headerPrincipal)
}

// loggingMiddleware writes one access log line per request.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		evt := s.lg.Info()
		if status >= 500 {
			evt = s.lg.Error()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", requestID(c)).
			Msg("request")
	}
}

// metricsMiddleware records the per-route counter and latency histogram.
// Unmatched paths collapse into one label to keep cardinality bounded.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.RequestDuration.WithLabelValues(
			c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
