package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// sendOneWay handles POST /api/v1/messages.
func (s *Server) sendOneWay(c *gin.Context) {
	var req sendOneWayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ids, err := s.coord.Messenger.Send(c.Request.Context(), req.SenderID, req.Recipients, req.Content, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message_ids": ids})
}

// sendAndWait handles POST /api/v1/conversations/send-and-wait.
func (s *Server) sendAndWait(c *gin.Context) {
	var req sendConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	reply, err := s.coord.Conversations.SendAndWait(c.Request.Context(),
		req.SenderID, req.RecipientID, req.Content, timeout, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// sendNoWait handles POST /api/v1/conversations/send.
func (s *Server) sendNoWait(c *gin.Context) {
	var req sendConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.coord.Conversations.SendNoWait(c.Request.Context(),
		req.SenderID, req.RecipientID, req.Content, req.Metadata)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// getOrWaitForResponse handles POST /api/v1/conversations/receive.
func (s *Server) getOrWaitForResponse(c *gin.Context) {
	var req receiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	msg, err := s.coord.Conversations.GetOrWaitForResponse(c.Request.Context(),
		req.ReceiverID, req.SenderID, timeout)
	if err != nil {
		respondError(c, err)
		return
	}
	if msg == nil {
		c.JSON(http.StatusOK, gin.H{"message": nil})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// endConversation handles POST /api/v1/conversations/end.
func (s *Server) endConversation(c *gin.Context) {
	var req endConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coord.Conversations.EndConversation(c.Request.Context(), req.AgentA, req.AgentB); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

// getConversationTranscript handles GET /api/v1/conversations/transcript.
func (s *Server) getConversationTranscript(c *gin.Context) {
	a := c.Query("agent_a")
	b := c.Query("agent_b")
	if a == "" || b == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_a and agent_b are required"})
		return
	}

	messages, err := s.coord.History.GetConversationTranscript(c.Request.Context(), a, b)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// getUnreadMessages handles GET /api/v1/agents/:id/messages/unread.
func (s *Server) getUnreadMessages(c *gin.Context) {
	messages, err := s.coord.History.GetUnreadMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// searchMessages handles GET /api/v1/messages/search.
func (s *Server) searchMessages(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in [1, 100]"})
			return
		}
		limit = n
	}

	messages, err := s.coord.History.SearchMessages(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
