package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func (s *Server) handleRegisterSpecialist(c *gin.Context) {
	var req registerSpecialistRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	specialist, err := s.core.Fleet.RegisterSpecialist(c.Request.Context(), fleet.RegisterSpecialistRequest{
		ID:           req.ID,
		Name:         req.Name,
		Capabilities: req.Capabilities,
		Status:       req.Status,
		Metadata:     req.Metadata,
		CausationID:  causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, specialist)
}

func (s *Server) handleListSpecialists(c *gin.Context) {
	specialists, err := s.core.Fleet.ListSpecialists(c.Request.Context(), fleet.SpecialistFilter{
		Status:         types.SpecialistStatus(c.Query("status")),
		StaleOnly:      boolQuery(c, "stale"),
		StaleThreshold: s.core.Config.HeartbeatThreshold,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"specialists": specialists, "count": len(specialists)})
}

func (s *Server) handleGetSpecialist(c *gin.Context) {
	specialist, err := s.core.Fleet.GetSpecialist(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, specialist)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	specialist, err := s.core.Fleet.Heartbeat(c.Request.Context(), c.Param("id"),
		req.Status, req.CurrentSortie, causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, specialist)
}
