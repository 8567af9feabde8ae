package handler

import "github.com/gin-gonic/gin"

// ================================================
// HANDLER INTERFACES
// ================================================

type DeliveryHandler interface {
	// Delivery endpoints
	Enqueue(c *gin.Context)
	EnqueueBatch(c *gin.Context)
	GetStatus(c *gin.Context)
	GetStatistics(c *gin.Context)
	TransportCallback(c *gin.Context)
}

type NotificationHandler interface {
	// User in-app endpoints
	ListNotifications(c *gin.Context)
	MarkAsRead(c *gin.Context)
	MarkAllAsRead(c *gin.Context)
	ArchiveNotification(c *gin.Context)
	GetUnreadCount(c *gin.Context)
	GetDigestSummary(c *gin.Context)
}

type PreferencesHandler interface {
	// User preference endpoints
	ListPreferences(c *gin.Context)
	GetPreference(c *gin.Context)
	UpdatePreference(c *gin.Context)
	DeletePreference(c *gin.Context)
}

type TemplateHandler interface {
	// Admin template endpoints
	UpsertTemplate(c *gin.Context)
	GetTemplate(c *gin.Context)
	ListTemplates(c *gin.Context)
	DeactivateTemplate(c *gin.Context)
	WarmUpStatus(c *gin.Context)
}

type DeadLetterHandler interface {
	// Admin dead letter endpoints
	ListDeadLetters(c *gin.Context)
	RetryDeadLetter(c *gin.Context)
	ResolveDeadLetter(c *gin.Context)
}
