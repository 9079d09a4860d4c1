// Package api is the HTTP face of the coordination core: a gin server whose
// handlers translate between wire shapes and the core services, one file per
// resource. Handlers hold no state of their own; everything authoritative
// lives behind the Core handle.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/v1truv1us/fleettools-sub002/internal/core"
)

// Server serves the coordination API for one opened Core.
type Server struct {
	core *core.Core
	lg   zerolog.Logger
	http *http.Server
}

// NewServer builds the HTTP layer. The core must already be open; the
// server does not manage its lifecycle.
func NewServer(c *core.Core, logger zerolog.Logger) *Server {
	return &Server{
		core: c,
		lg:   logger.With().Str("component", "api").Logger(),
	}
}

// Router assembles the engine and full route table. Exposed separately from
// Start so tests can drive the handlers through httptest.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), s.loggingMiddleware(), metricsMiddleware())

	// Prometheus stays outside the versioned prefix; scrapers expect the
	// conventional path.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	v1.GET("/health", s.handleHealth)
	v1.GET("/stats", s.handleStats)

	v1.POST("/missions", s.handleCreateMission)
	v1.GET("/missions", s.handleListMissions)
	v1.GET("/missions/:id", s.handleGetMission)
	v1.POST("/missions/:id/start", s.handleStartMission)
	v1.POST("/missions/:id/review", s.handleReviewMission)
	v1.POST("/missions/:id/complete", s.handleCompleteMission)
	v1.POST("/missions/:id/cancel", s.handleCancelMission)
	v1.POST("/missions/:id/sorties", s.handleCreateMissionSortie)
	v1.GET("/missions/:id/sorties", s.handleListMissionSorties)
	v1.POST("/missions/:id/checkpoints", s.handleCreateCheckpoint)
	v1.GET("/missions/:id/checkpoints", s.handleListMissionCheckpoints)

	v1.POST("/sorties", s.handleCreateSortie)
	v1.GET("/sorties", s.handleListSorties)
	v1.GET("/sorties/:id", s.handleGetSortie)
	v1.POST("/sorties/:id/assign", s.handleAssignSortie)
	v1.POST("/sorties/:id/start", s.handleStartSortie)
	v1.POST("/sorties/:id/progress", s.handleProgressSortie)
	v1.POST("/sorties/:id/block", s.handleBlockSortie)
	v1.POST("/sorties/:id/unblock", s.handleUnblockSortie)
	v1.POST("/sorties/:id/review", s.handleReviewSortie)
	v1.POST("/sorties/:id/complete", s.handleCompleteSortie)
	v1.POST("/sorties/:id/fail", s.handleFailSortie)
	v1.POST("/sorties/:id/cancel", s.handleCancelSortie)

	v1.POST("/specialists", s.handleRegisterSpecialist)
	v1.GET("/specialists", s.handleListSpecialists)
	v1.GET("/specialists/:id", s.handleGetSpecialist)
	v1.POST("/specialists/:id/heartbeat", s.handleHeartbeat)

	v1.POST("/locks/acquire", s.handleAcquireLock)
	v1.GET("/locks", s.handleListLocks)
	v1.GET("/locks/:id", s.handleGetLock)
	v1.POST("/locks/:id/release", s.handleReleaseLock)
	v1.POST("/locks/:id/force-release", s.handleForceReleaseLock)
	v1.POST("/locks/:id/extend", s.handleExtendLock)

	v1.POST("/messages", s.handleSendMessage)
	v1.GET("/messages/:id", s.handleGetMessage)
	v1.POST("/messages/:id/read", s.handleReadMessage)
	v1.POST("/messages/:id/ack", s.handleAckMessage)
	v1.GET("/mailboxes/:id/messages", s.handleListMailbox)

	v1.POST("/cursors", s.handleAdvanceCursor)
	v1.GET("/cursors/:id", s.handleGetCursor)

	v1.GET("/events", s.handleQueryEvents)
	v1.POST("/events", s.handleAppendEvents)

	v1.GET("/checkpoints/:id", s.handleGetCheckpoint)
	v1.POST("/checkpoints/:id/restore", s.handleRestoreCheckpoint)
	v1.DELETE("/checkpoints", s.handlePruneCheckpoints)

	return r
}

// Start serves until the listener fails or Shutdown runs. A clean shutdown
// returns nil.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.lg.Info().Str("addr", addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
