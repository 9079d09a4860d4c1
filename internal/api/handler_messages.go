package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/v1truv1us/fleettools-sub002/internal/mailbox"
	"github.com/v1truv1us/fleettools-sub002/internal/types"
)

// defaultMailboxLimit bounds unqualified mailbox listings; the manager
// treats zero as unbounded and leaves the default to this layer.
const defaultMailboxLimit = 100

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		s.writeError(c, err)
		return
	}
	msg, err := s.core.Mail.Send(c.Request.Context(), mailbox.SendRequest{
		MailboxID:   req.MailboxID,
		SenderID:    actor(c, req.SenderID),
		ThreadID:    req.ThreadID,
		MessageType: req.MessageType,
		Content:     req.Content,
		Priority:    req.Priority,
		CausationID: causation(c),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) handleGetMessage(c *gin.Context) {
	msg, err := s.core.Mail.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleReadMessage(c *gin.Context) {
	msg, err := s.core.Mail.MarkRead(c.Request.Context(), c.Param("id"), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleAckMessage(c *gin.Context) {
	msg, err := s.core.Mail.Acknowledge(c.Request.Context(), c.Param("id"), causation(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) handleListMailbox(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultMailboxLimit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		s.writeError(c, err)
		return
	}
	msgs, err := s.core.Mail.GetByMailbox(c.Request.Context(), c.Param("id"), mailbox.QueryOptions{
		Status: types.MessageStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}
