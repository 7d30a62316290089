package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// createOrganization handles POST /api/v1/organizations.
func (s *Server) createOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, err := s.coord.Directory.RegisterOrganization(c.Request.Context(), req.ExternalID, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

// deleteOrganization handles DELETE /api/v1/organizations/:id.
func (s *Server) deleteOrganization(c *gin.Context) {
	if err := s.coord.Directory.DeleteOrganization(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createAgent handles POST /api/v1/organizations/:id/agents.
func (s *Server) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agent, err := s.coord.Directory.RegisterAgent(c.Request.Context(), c.Param("id"), req.ExternalID, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// listAgents handles GET /api/v1/organizations/:id/agents.
func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.coord.Directory.ListAgents(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// deleteAgent handles DELETE /api/v1/agents/:id.
func (s *Server) deleteAgent(c *gin.Context) {
	if err := s.coord.Directory.DeleteAgent(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
