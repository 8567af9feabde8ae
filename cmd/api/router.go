package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notification-service/internal/infrastructure/ratelimit"
	"notification-service/internal/shared/middleware"
	"notification-service/internal/shared/response"
	"notification-service/pkg/container"
)

func SetupRouter(c *container.Container) *gin.Engine {
	router := gin.New()

	// Global middlewares
	router.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
	)

	// Prometheus scrape endpoint, outside the API group
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheckHandler(c))

		setupCallbackRoutes(v1, c)
		setupDeliveryRoutes(v1, c)
		setupInboxRoutes(v1, c)
		setupPreferenceRoutes(v1, c)
		setupAdminRoutes(v1, c)
	}

	return router
}

// ========================================
// CALLBACK ROUTES (unauthenticated)
// ========================================
func setupCallbackRoutes(v1 *gin.RouterGroup, c *container.Container) {
	callbacks := v1.Group("/callbacks")
	callbacks.Use(middleware.RateLimit(c.Limiter, ratelimit.ClassPublic))
	{
		callbacks.POST("/email", c.DeliveryHandler.TransportCallback)
	}
}

// ========================================
// DELIVERY ROUTES
// ========================================
func setupDeliveryRoutes(v1 *gin.RouterGroup, c *container.Container) {
	notifications := v1.Group("/notifications")
	notifications.Use(middleware.AuthMiddleware(c.Config.JWT.Secret, c.Audit))
	{
		notifications.POST("",
			middleware.RateLimit(c.Limiter, ratelimit.ClassWrite),
			c.DeliveryHandler.Enqueue)
		notifications.POST("/batch",
			middleware.RateLimit(c.Limiter, ratelimit.ClassWrite),
			c.DeliveryHandler.EnqueueBatch)
		notifications.GET("/:tracking_id/status",
			middleware.RateLimit(c.Limiter, ratelimit.ClassRead),
			c.DeliveryHandler.GetStatus)
	}
}

// ========================================
// INBOX ROUTES (in-app notifications)
// ========================================
func setupInboxRoutes(v1 *gin.RouterGroup, c *container.Container) {
	inbox := v1.Group("/notifications/inbox")
	inbox.Use(
		middleware.AuthMiddleware(c.Config.JWT.Secret, c.Audit),
		middleware.RateLimit(c.Limiter, ratelimit.ClassRead),
	)
	{
		inbox.GET("", c.NotificationHandler.ListNotifications)
		inbox.GET("/unread-count", c.NotificationHandler.GetUnreadCount)
		inbox.POST("/read", c.NotificationHandler.MarkAsRead)
		inbox.POST("/read-all", c.NotificationHandler.MarkAllAsRead)
		inbox.POST("/:id/archive", c.NotificationHandler.ArchiveNotification)
	}

	digest := v1.Group("/notifications/digest")
	digest.Use(
		middleware.AuthMiddleware(c.Config.JWT.Secret, c.Audit),
		middleware.RateLimit(c.Limiter, ratelimit.ClassRead),
	)
	{
		digest.GET("/summary", c.NotificationHandler.GetDigestSummary)
	}
}

// ========================================
// PREFERENCE ROUTES
// ========================================
func setupPreferenceRoutes(v1 *gin.RouterGroup, c *container.Container) {
	preferences := v1.Group("/preferences")
	preferences.Use(middleware.AuthMiddleware(c.Config.JWT.Secret, c.Audit))
	{
		preferences.GET("",
			middleware.RateLimit(c.Limiter, ratelimit.ClassRead),
			c.PreferencesHandler.ListPreferences)
		preferences.GET("/:type",
			middleware.RateLimit(c.Limiter, ratelimit.ClassRead),
			c.PreferencesHandler.GetPreference)
		preferences.PUT("/:type",
			middleware.RateLimit(c.Limiter, ratelimit.ClassWrite),
			c.PreferencesHandler.UpdatePreference)
		preferences.DELETE("/:type",
			middleware.RateLimit(c.Limiter, ratelimit.ClassWrite),
			c.PreferencesHandler.DeletePreference)
	}
}

// ========================================
// ADMIN ROUTES
// ========================================
func setupAdminRoutes(v1 *gin.RouterGroup, c *container.Container) {
	admin := v1.Group("/admin")
	admin.Use(
		middleware.AuthMiddleware(c.Config.JWT.Secret, c.Audit),
		middleware.AdminMiddleware(),
		middleware.RateLimit(c.Limiter, ratelimit.ClassAdmin),
	)
	{
		admin.GET("/notifications/statistics", c.DeliveryHandler.GetStatistics)

		admin.PUT("/templates", c.TemplateHandler.UpsertTemplate)
		admin.GET("/templates", c.TemplateHandler.ListTemplates)
		admin.GET("/templates/warmup", c.TemplateHandler.WarmUpStatus)
		admin.GET("/templates/:type/:language", c.TemplateHandler.GetTemplate)
		admin.DELETE("/templates/:type/:language", c.TemplateHandler.DeactivateTemplate)

		admin.GET("/dead-letters", c.DeadLetterHandler.ListDeadLetters)
		admin.POST("/dead-letters/:id/retry", c.DeadLetterHandler.RetryDeadLetter)
		admin.POST("/dead-letters/:id/resolve", c.DeadLetterHandler.ResolveDeadLetter)
	}
}

// ========================================
// HEALTH CHECK
// ========================================
func healthCheckHandler(c *container.Container) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checks := gin.H{
			"database": "ok",
			"redis":    "ok",
			"queue":    gin.H{"depth": c.Pipeline.QueueDepth()},
		}
		healthy := true

		if err := c.DB.HealthCheck(ctx.Request.Context()); err != nil {
			checks["database"] = err.Error()
			healthy = false
		}
		if err := c.Redis.HealthCheck(ctx.Request.Context()); err != nil {
			// Redis is degraded-but-up: the limiter fails open.
			checks["redis"] = err.Error()
		}

		if !healthy {
			response.ErrorWithDetails(ctx, http.StatusServiceUnavailable, "UNHEALTHY", "dependency check failed", checks)
			return
		}
		response.Success(ctx, http.StatusOK, gin.H{
			"status":  "healthy",
			"version": c.Config.App.Version,
			"checks":  checks,
		})
	}
}
