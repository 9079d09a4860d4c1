package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

func (s *Server) handleCreateMission(c *gin.Context) {
	var req createMissionRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	mission, err := s.core.Fleet.CreateMission(c.Request.Context(), fleet.CreateMissionRequest{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		CreatedBy:   actor(c, req.CreatedBy),
		Metadata:    req.Metadata,
		CausationID: causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mission)
}

func (s *Server) handleListMissions(c *gin.Context) {
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
	missions, err := s.core.Fleet.ListMissions(c.Request.Context(), fleet.MissionFilter{
		Status:   types.MissionStatus(c.Query("status")),
		Priority: types.Priority(c.Query("priority")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"missions": missions, "count": len(missions)})
}

func (s *Server) handleGetMission(c *gin.Context) {
	mission, err := s.core.Fleet.GetMission(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mission)
}

func (s *Server) handleStartMission(c *gin.Context) {
	var req startMissionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	mission, err := s.core.Fleet.StartMission(c.Request.Context(), c.Param("id"),
		actor(c, req.SpecialistID), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mission)
}

func (s *Server) handleReviewMission(c *gin.Context) {
	var req reviewMissionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	mission, err := s.core.Fleet.RequestMissionReview(c.Request.Context(), c.Param("id"),
		actor(c, req.SpecialistID), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mission)
}

func (s *Server) handleCompleteMission(c *gin.Context) {
	var req completeMissionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	mission, err := s.core.Fleet.CompleteMission(c.Request.Context(), c.Param("id"),
		req.Result, actor(c, req.SpecialistID), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mission)
}

func (s *Server) handleCancelMission(c *gin.Context) {
	var req cancelMissionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	mission, err := s.core.Fleet.CancelMission(c.Request.Context(), c.Param("id"),
		req.Reason, actor(c, req.SpecialistID), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mission)
}

// handleCreateMissionSortie creates a sortie under the path mission. A body
// that names a different mission is a contradiction, not a tiebreak.
func (s *Server) handleCreateMissionSortie(c *gin.Context) {
	var req createSortieRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	missionID := c.Param("id")
	if req.MissionID != nil && *req.MissionID != missionID {
		s.writeError(c, types.Validationf("mission_id in body conflicts with path"))
		return
	}
	req.MissionID = &missionID
	s.createSortie(c, req)
}

func (s *Server) handleListMissionSorties(c *gin.Context) {
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
		MissionID:  c.Param("id"),
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
