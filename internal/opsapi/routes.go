package opsapi

import (
	"callbridge/internal/auth"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires HTTP routes to handlers.
// Keep this file free of business logic.
func RegisterRoutes(r *gin.Engine, h Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.POST("/auth/token", h.IssueToken)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(h.Auth))
	{
		v1.GET("/sessions", h.GetSessions)
		v1.GET("/sessions/:call_id", h.GetSession)
		v1.GET("/stats", h.GetStats)

		v1.GET("/deadletters", h.ListDeadLetters)
		v1.POST("/deadletters/:id/requeue", h.RequeueDeadLetter)

		v1.GET("/reports/calls", h.GetCallSummary)
	}
}
