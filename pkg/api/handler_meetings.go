package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// meetingID parses the :id path parameter.
func meetingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting id"})
		return uuid.Nil, false
	}
	return id, true
}

// createMeeting handles POST /api/v1/meetings.
func (s *Server) createMeeting(c *gin.Context) {
	var req createMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	turnDuration := time.Duration(req.TurnDurationSeconds) * time.Second
	meeting, err := s.coord.Meetings.CreateMeeting(c.Request.Context(), req.HostID, req.Participants, turnDuration)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meeting)
}

// getMeeting handles GET /api/v1/meetings/:id.
func (s *Server) getMeeting(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	meeting, err := s.coord.Meetings.GetMeeting(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meeting)
}

// listParticipants handles GET /api/v1/meetings/:id/participants.
func (s *Server) listParticipants(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	participants, err := s.coord.Meetings.ListParticipants(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

// attendMeeting handles POST /api/v1/meetings/:id/attend.
func (s *Server) attendMeeting(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var req agentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coord.Meetings.AttendMeeting(c.Request.Context(), req.AgentID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "attending"})
}

// startMeeting handles POST /api/v1/meetings/:id/start.
func (s *Server) startMeeting(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var req hostActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coord.Meetings.StartMeeting(c.Request.Context(), req.HostID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// speak handles POST /api/v1/meetings/:id/speak.
func (s *Server) speak(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var req speakRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.coord.Meetings.Speak(c.Request.Context(), req.AgentID, id, req.Content, req.Metadata, req.WaitForTurn)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":  result.Message,
		"buffered": result.Buffered,
	})
}

// leaveMeeting handles POST /api/v1/meetings/:id/leave.
func (s *Server) leaveMeeting(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var req agentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coord.Meetings.LeaveMeeting(c.Request.Context(), req.AgentID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

// endMeeting handles POST /api/v1/meetings/:id/end.
func (s *Server) endMeeting(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	var req hostActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coord.Meetings.EndMeeting(c.Request.Context(), req.HostID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

// getMeetingTranscript handles GET /api/v1/meetings/:id/messages.
func (s *Server) getMeetingTranscript(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	messages, err := s.coord.History.GetMeetingTranscript(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// getMeetingEvents handles GET /api/v1/meetings/:id/events.
func (s *Server) getMeetingEvents(c *gin.Context) {
	id, ok := meetingID(c)
	if !ok {
		return
	}
	events, err := s.coord.History.GetMeetingEvents(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
