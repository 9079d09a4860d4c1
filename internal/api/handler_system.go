package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthResponse is the liveness contract: overall status plus the store's
// view, WAL pressure, and probe latency.
type healthResponse struct {
	Status       string `json:"status"`
	Store        string `json:"store"`
	ReadOnly     bool   `json:"read_only"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
	LatencyMS    int64  `json:"latency_ms"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.core.Store.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if h.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, healthResponse{
		Status:       h.Status,
		Store:        h.Status,
		ReadOnly:     h.ReadOnly,
		WALSizeBytes: h.WALSizeBytes,
		LatencyMS:    h.LatencyMS,
		Error:        h.Error,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.core.CollectStats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
