package main

import (
	"context"
	"net/http"

	"settlement-crm/internal/httpapi"
	"settlement-crm/internal/metrics"
	"settlement-crm/internal/rbac"
	"settlement-crm/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Handlers httpapi.Handlers
	AuthMW   gin.HandlerFunc
	Webhook  telephony.StatusCallbackHandler
	Metrics  *metrics.Metrics
	Ready    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if d.Ready != nil {
			if err := d.Ready(c.Request.Context()); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))

	// Provider webhooks are authenticated by signature, not JWT.
	r.POST("/webhooks/twilio/status", d.Webhook.Handle)

	h := d.Handlers
	v1 := r.Group("/v1")
	v1.Use(d.AuthMW)
	v1.Use(rbac.RequireAnyRole(rbac.RoleAgent, rbac.RoleManager))
	{
		sessions := v1.Group("/dialer/sessions")
		{
			sessions.POST("", h.StartSession)
			sessions.GET("", h.ListSessions)
			sessions.GET("/:session_id", h.GetSession)
			sessions.POST("/:session_id/stop", h.StopSession)
			sessions.POST("/:session_id/next", h.NextContact)
			sessions.POST("/:session_id/skip", h.SkipContact)
			sessions.POST("/:session_id/calls", h.InitiateCall)
		}

		callsGroup := v1.Group("/dialer/calls")
		{
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.POST("/:call_id/poll", h.PollCallStatus)
			callsGroup.POST("/:call_id/hangup", h.HangUp)
			callsGroup.POST("/:call_id/disposition", h.SubmitDisposition)
		}

		v1.GET("/dialer/dispositions", h.Dispositions)

		// Supervisor views. admin passes RequireAnyRole implicitly.
		sup := v1.Group("")
		sup.Use(rbac.RequireAnyRole(rbac.RoleManager))
		{
			sup.GET("/dialer/sids/:sid", h.CallBySID)
			sup.GET("/campaigns/:campaign_id/progress", h.CampaignProgress)
			sup.GET("/campaigns/:campaign_id/report", h.CampaignReport)
			sup.GET("/audit", h.ListAudit)
		}
	}
}
