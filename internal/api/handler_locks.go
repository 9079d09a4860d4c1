package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/locks"
)

func (s *Server) handleAcquireLock(c *gin.Context) {
	var req acquireLockRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	res, err := s.core.Locks.Acquire(c.Request.Context(), locks.AcquireRequest{
		File:         req.File,
		SpecialistID: actorString(c, req.SpecialistID),
		TimeoutMS:    req.TimeoutMS,
		Purpose:      req.Purpose,
		Checksum:     req.Checksum,
		CausationID:  causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if res.Conflict {
		s.writeConflict(c, res.ExistingLock)
		return
	}
	if res.Reused {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// handleListLocks lists active locks by default; file= and specialist=
// switch to per-file and per-holder views, where active=0 widens to history.
func (s *Server) handleListLocks(c *gin.Context) {
	ctx := c.Request.Context()
	activeOnly := true
	if v := c.Query("active"); v != "" {
		activeOnly = boolQuery(c, "active")
	}

	switch {
	case c.Query("file") != "":
		all, err := s.core.Locks.GetByFile(ctx, c.Query("file"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"locks": all, "count": len(all)})
	case c.Query("specialist") != "":
		all, err := s.core.Locks.GetBySpecialist(ctx, c.Query("specialist"), activeOnly)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"locks": all, "count": len(all)})
	default:
		all, err := s.core.Locks.GetActive(ctx)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"locks": all, "count": len(all)})
	}
}

func (s *Server) handleGetLock(c *gin.Context) {
	lock, err := s.core.Locks.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

func (s *Server) handleReleaseLock(c *gin.Context) {
	var req releaseLockRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	lock, err := s.core.Locks.Release(c.Request.Context(), c.Param("id"),
		actorString(c, req.SpecialistID), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

func (s *Server) handleForceReleaseLock(c *gin.Context) {
	var req forceReleaseLockRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	lock, err := s.core.Locks.ForceRelease(c.Request.Context(), c.Param("id"),
		req.Reason, causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}

func (s *Server) handleExtendLock(c *gin.Context) {
	var req extendLockRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	lock, err := s.core.Locks.Extend(c.Request.Context(), c.Param("id"),
		actorString(c, req.SpecialistID), req.AdditionalMS, causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lock)
}
