package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// errorBody is the wire form of one failure. Code is the error kind
// verbatim; details carry whatever structured context the failing layer
// attached. RequestID appears on 5xx so a caller can quote the log line.
type errorBody struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// errorEnvelope wraps every non-2xx response body.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// writeError renders err through the kind-to-status table and aborts the
// request. Failures that map to 5xx are logged here with the request and
// causation ids; 4xx outcomes are the caller's problem and only surface in
// the access log.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := types.KindOf(err)
	status := kind.HTTPStatus()

	body := errorBody{Code: string(kind), Message: err.Error()}
	var ce *types.CoreError
	if errors.As(err, &ce) {
		body.Message = ce.Message
		if len(ce.Details) > 0 {
			body.Details = ce.Details
		}
	}
	if status >= http.StatusInternalServerError {
		body.RequestID = requestID(c)
		evt := s.lg.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("request_id", body.RequestID)
		if cid := causation(c); cid != nil {
			evt = evt.Str("causation_id", *cid)
		}
		evt.Msg("request failed")
	}
	c.AbortWithStatusJSON(status, errorEnvelope{Error: body})
}

// writeConflict renders a lock acquire conflict: same envelope as an error,
// carrying the standing lock so the caller can decide to wait, extend, or
// escalate. Conflicts come back from the manager as results, not errors.
func (s *Server) writeConflict(c *gin.Context, existing *types.Lock) {
	c.AbortWithStatusJSON(http.StatusConflict, errorEnvelope{Error: errorBody{
		Code:    string(types.KindConflict),
		Message: "file is locked by " + existing.ReservedBy,
		Details: map[string]interface{}{
			"existing_lock": existing,
		},
	}})
}
