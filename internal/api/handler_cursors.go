package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/fleet"
)

func (s *Server) handleAdvanceCursor(c *gin.Context) {
	var req advanceCursorRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	cursor, err := s.core.Fleet.AdvanceCursor(c.Request.Context(), fleet.AdvanceCursorRequest{
		CursorID:    req.CursorID,
		StreamType:  req.StreamType,
		StreamID:    req.StreamID,
		Position:    req.Position,
		ConsumerID:  actor(c, req.ConsumerID),
		CausationID: causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cursor)
}

func (s *Server) handleGetCursor(c *gin.Context) {
	cursor, err := s.core.Fleet.GetCursor(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cursor)
}
