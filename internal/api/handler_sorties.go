package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func (s *Server) handleCreateSortie(c *gin.Context) {
	var req createSortieRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	s.createSortie(c, req)
}

// createSortie is shared by the flat and mission-scoped create routes.
func (s *Server) createSortie(c *gin.Context, req createSortieRequest) {
	sortie, err := s.core.Fleet.CreateSortie(c.Request.Context(), fleet.CreateSortieRequest{
		MissionID:   req.MissionID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Files:       req.Files,
		CreatedBy:   actor(c, req.CreatedBy),
		Metadata:    req.Metadata,
		CausationID: causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sortie)
}

func (s *Server) handleListSorties(c *gin.Context) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	sorties, err := s.core.Fleet.ListSorties(c.Request.Context(), fleet.SortieFilter{
		MissionID:  c.Query("mission_id"),
		Status:     types.SortieStatus(c.Query("status")),
		AssignedTo: c.Query("assigned_to"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sorties": sorties, "count": len(sorties)})
}

func (s *Server) handleGetSortie(c *gin.Context) {
	sortie, err := s.core.Fleet.GetSortie(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleAssignSortie(c *gin.Context) {
	var req assignSortieRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	sortie, err := s.core.Fleet.AssignSortie(c.Request.Context(), c.Param("id"),
		req.SpecialistID, actor(c, req.AssignedBy), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleStartSortie(c *gin.Context) {
	var req startSortieRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	sortie, err := s.core.Fleet.StartSortie(c.Request.Context(), c.Param("id"),
		actorString(c, req.SpecialistID), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleProgressSortie(c *gin.Context) {
	var req progressSortieRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	sortie, err := s.core.Fleet.ProgressSortie(c.Request.Context(), c.Param("id"),
		req.Progress, req.Notes, causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleBlockSortie(c *gin.Context) {
	var req blockSortieRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	sortie, err := s.core.Fleet.BlockSortie(c.Request.Context(), c.Param("id"),
		actor(c, req.SpecialistID), req.Reason, causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleUnblockSortie(c *gin.Context) {
	sortie, err := s.core.Fleet.UnblockSortie(c.Request.Context(), c.Param("id"), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleReviewSortie(c *gin.Context) {
	sortie, err := s.core.Fleet.RequestSortieReview(c.Request.Context(), c.Param("id"), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleCompleteSortie(c *gin.Context) {
	var req completeSortieRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	sortie, err := s.core.Fleet.CompleteSortie(c.Request.Context(), c.Param("id"),
		req.Result, actor(c, req.SpecialistID), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleFailSortie(c *gin.Context) {
	var req failSortieRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	sortie, err := s.core.Fleet.FailSortie(c.Request.Context(), c.Param("id"),
		req.Reason, causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}

func (s *Server) handleCancelSortie(c *gin.Context) {
	var req cancelSortieRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	sortie, err := s.core.Fleet.CancelSortie(c.Request.Context(), c.Param("id"),
		req.Reason, causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sortie)
}
