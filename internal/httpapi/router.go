package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/genbi-gateway/internal/common"
	"github.com/suPer8Hu/genbi-gateway/internal/httpapi/handlers"
	"github.com/suPer8Hu/genbi-gateway/internal/httpapi/middleware"
	"go.uber.org/zap"
)

func NewRouter(h *handlers.Handler, jwtSecret string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.Recovery(logger))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// everything else requires a token once JWT_SECRET is set
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(jwtSecret))

	// sessions
	authGroup.GET("/sessions", h.ListSessions)
	authGroup.POST("/sessions", h.CreateSession)
	authGroup.POST("/sessions/sync", h.SyncSessions)
	authGroup.DELETE("/sessions/:id", h.DeleteSession)
	authGroup.PUT("/sessions/:id/active", h.SelectSession)
	authGroup.GET("/sessions/:id/messages", h.ListMessages)
	authGroup.DELETE("/sessions/:id/messages", h.ClearMessages)
	authGroup.GET("/sessions/:id/status", h.SessionStatus)

	// queries
	authGroup.POST("/queries", h.PostQuery)

	// settings
	authGroup.GET("/config", h.GetConfig)
	authGroup.PUT("/config", h.PutConfig)

	// backend catalog + feedback
	authGroup.GET("/options", h.Options)
	authGroup.GET("/questions", h.Questions)
	authGroup.POST("/feedback", h.PostFeedback)

	// live state
	authGroup.GET("/events", h.Events)
	authGroup.GET("/state", h.State)
	return r
}
