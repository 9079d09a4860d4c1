package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/eventlog"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// defaultEventLimit bounds unqualified event queries.
const defaultEventLimit = 100

func (s *Server) handleQueryEvents(c *gin.Context) {
	afterSeq, err := int64Query(c, "after_sequence")
	if err != nil {
		s.writeError(c, err)
		return
	}
	afterGlobal, err := int64Query(c, "after_global")
	if err != nil {
		s.writeError(c, err)
		return
	}
	limit, err := intQuery(c, "limit", defaultEventLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	events, err := s.core.Events.Query(c.Request.Context(), eventlog.Filter{
		StreamType:    types.StreamType(c.Query("stream_type")),
		StreamID:      c.Query("stream_id"),
		EventType:     c.Query("type"),
		CausationID:   c.Query("causation_id"),
		CorrelationID: c.Query("correlation_id"),
		AfterSequence: afterSeq,
		AfterGlobal:   afterGlobal,
		Limit:         limit,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// handleAppendEvents appends a batch of foreign events atomically. Event
// types the core owns are refused here: their state machines live behind the
// resource endpoints, and bypassing them would desynchronize projections
// from reality. Unknown types are exactly what this endpoint is for:
// annotations and tooling markers that projections tolerate and skip.
func (s *Server) handleAppendEvents(c *gin.Context) {
	var req appendEventsRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}

	headerCause := causation(c)
	inputs := make([]types.AppendInput, 0, len(req.Events))
	for _, in := range req.Events {
		if types.KnownEventType(in.EventType) {
			s.writeError(c, types.Ownershipf(
				"event type %s is owned by the core; use its resource endpoint", in.EventType))
			return
		}
		cause := in.CausationID
		if cause == nil {
			cause = headerCause
		}
		inputs = append(inputs, types.AppendInput{
			EventType:     in.EventType,
			StreamType:    in.StreamType,
			StreamID:      in.StreamID,
			Data:          in.Data,
			CausationID:   cause,
			CorrelationID: in.CorrelationID,
		})
	}

	events, err := s.core.Events.AppendBatch(c.Request.Context(), inputs)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"events": events, "count": len(events)})
}
