package main

import (
	"github.com/gin-gonic/gin"

	"coparent-platform/internal/httpapi"
	"coparent-platform/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireFamily())
	{
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleParent, rbac.RoleMediator))
		{
			calls.POST("/schedule", h.ScheduleCall)
			calls.GET("/pending", h.ListPendingInvitations)
			calls.GET("/scheduled", h.ListScheduledCalls)
			calls.GET("/history", h.CallHistory)
			calls.POST("/:id/respond", h.RespondToInvitation)
			calls.POST("/:id/join", h.JoinCall)
			calls.POST("/:id/end", h.EndCall)
			calls.POST("/:id/transcription", h.SubmitTranscription)
			calls.GET("/:id/transcription", h.GetTranscription)
			calls.GET("/:id/transcription/stream", h.StreamTranscription)
			calls.POST("/:id/report", h.ReportIncident)
			calls.GET("/:id/analysis", h.GetAnalysis)
		}

		// Incident ledger reads are for oversight, not the participants.
		// The hidden case_auditor role must be named explicitly.
		audit := v1.Group("/audit")
		audit.Use(rbac.RequireAnyRole(rbac.RoleMediator, rbac.RoleCaseAuditor))
		{
			audit.GET("/calls/:id/incidents", h.ListIncidents)
		}
	}
}
