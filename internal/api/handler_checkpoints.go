package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/checkpoint"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// handleCreateCheckpoint cuts a checkpoint for the path mission. Progress
// checkpoints are refused: the core fires those itself on threshold
// crossings, and a manual one would burn the threshold's uniqueness slot.
func (s *Server) handleCreateCheckpoint(c *gin.Context) {
	var req createCheckpointRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = types.TriggerManual
	}
	if trigger == types.TriggerProgress {
		s.writeError(c, types.Validationf("progress checkpoints are created by the core on threshold crossings"))
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		if p := actor(c, nil); p != nil {
			createdBy = *p
		}
	}
	cp, err := s.core.Checkpoints.Create(c.Request.Context(), checkpoint.CreateRequest{
		MissionID:       c.Param("id"),
		Trigger:         trigger,
		TriggerDetails:  req.TriggerDetails,
		CreatedBy:       createdBy,
		ProgressPercent: req.ProgressPercent,
		TTLHours:        req.TTLHours,
		CausationID:     causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (s *Server) handleListMissionCheckpoints(c *gin.Context) {
	cps, err := s.core.Checkpoints.ListByMission(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkpoints": cps, "count": len(cps)})
}

func (s *Server) handleGetCheckpoint(c *gin.Context) {
	cp, err := s.core.Checkpoints.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (s *Server) handleRestoreCheckpoint(c *gin.Context) {
	result, err := s.core.Recovery.Restore(c.Request.Context(), c.Param("id"),
		boolQuery(c, "dry_run"), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handlePruneCheckpoints applies retention. Query parameters override the
// configured defaults.
func (s *Server) handlePruneCheckpoints(c *gin.Context) {
	olderThan, err := intQuery(c, "older_than_days", s.core.Config.Retention.OlderThanDays)
	if err != nil {
		s.writeError(c, err)
		return
	}
	keep, err := intQuery(c, "keep_per_mission", s.core.Config.Retention.KeepPerMission)
	if err != nil {
		s.writeError(c, err)
		return
	}
	pruned, err := s.core.Checkpoints.Prune(c.Request.Context(), checkpoint.PruneRequest{
		OlderThanDays:    olderThan,
		KeepPerMission:   keep,
		IncludeCompleted: boolQuery(c, "include_completed"),
		CausationID:      causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pruned": pruned})
}
