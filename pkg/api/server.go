// Package api exposes the coordinator over HTTP. It is a thin layer:
// request decoding, coordinator calls, error mapping. All semantics
// live in pkg/coordinator.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/database"
)

// Server is the HTTP front of the coordinator.
type Server struct {
	db    *database.Client
	coord *coordinator.Coordinator

	httpSrv *http.Server
}

// NewServer creates the API server and its routes.
func NewServer(db *database.Client, coord *coordinator.Coordinator) *Server {
	return &Server{db: db, coord: coord}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/organizations", s.createOrganization)
		v1.DELETE("/organizations/:id", s.deleteOrganization)
		v1.GET("/organizations/:id/agents", s.listAgents)
		v1.POST("/organizations/:id/agents", s.createAgent)
		v1.DELETE("/agents/:id", s.deleteAgent)
		v1.GET("/agents/:id/messages/unread", s.getUnreadMessages)

		v1.POST("/messages", s.sendOneWay)
		v1.GET("/messages/search", s.searchMessages)

		v1.POST("/conversations/send-and-wait", s.sendAndWait)
		v1.POST("/conversations/send", s.sendNoWait)
		v1.POST("/conversations/receive", s.getOrWaitForResponse)
		v1.POST("/conversations/end", s.endConversation)
		v1.GET("/conversations/transcript", s.getConversationTranscript)

		v1.POST("/meetings", s.createMeeting)
		v1.GET("/meetings/:id", s.getMeeting)
		v1.GET("/meetings/:id/participants", s.listParticipants)
		v1.GET("/meetings/:id/messages", s.getMeetingTranscript)
		v1.GET("/meetings/:id/events", s.getMeetingEvents)
		v1.POST("/meetings/:id/attend", s.attendMeeting)
		v1.POST("/meetings/:id/start", s.startMeeting)
		v1.POST("/meetings/:id/speak", s.speak)
		v1.POST("/meetings/:id/leave", s.leaveMeeting)
		v1.POST("/meetings/:id/end", s.endMeeting)
	}

	return router
}

// Start runs the HTTP server on addr. Blocks until Shutdown or error.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// health reports database reachability and coordinator load.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := s.db.Health(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"database":       dbHealth,
		"active_waiters": s.coord.ActiveWaiters(),
		"active_timers":  s.coord.ActiveTimers(),
	})
}
