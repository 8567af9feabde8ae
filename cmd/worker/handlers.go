package main

import (
	"github.com/hibiken/asynq"

	"notification-service/internal/domains/notification/job"
	"notification-service/internal/shared"
	"notification-service/pkg/container"
)

// HandlerRegistry holds all job handlers
type HandlerRegistry struct {
	// Digest sweeps
	digest *job.DigestHandler

	// Dead letter maintenance
	retryDeadLetters  *job.RetryDeadLettersHandler
	expireDeadLetters *job.ExpireDeadLettersHandler

	// Housekeeping
	cleanupOldRead *job.CleanupOldReadHandler
	warmTemplates  *job.WarmTemplatesHandler
}

// initializeHandlers creates all job handlers with their dependencies
func initializeHandlers(c *container.Container) *HandlerRegistry {
	return &HandlerRegistry{
		digest: job.NewDigestHandler(c.Digests),

		retryDeadLetters:  job.NewRetryDeadLettersHandler(c.DeadLetters),
		expireDeadLetters: job.NewExpireDeadLettersHandler(c.DeadLetters, c.Config.Jobs.DeadLetterExpiryDays),

		cleanupOldRead: job.NewCleanupOldReadHandler(c.NotificationService),
		warmTemplates:  job.NewWarmTemplatesHandler(c.Templates),
	}
}

// RegisterHandlers registers all handlers with the mux
func (h *HandlerRegistry) RegisterHandlers(mux *asynq.ServeMux) {
	// Digest tasks
	mux.HandleFunc(shared.TypeRunDailyDigests, h.digest.ProcessTask)
	mux.HandleFunc(shared.TypeRunWeeklyDigests, h.digest.ProcessTask)

	// Dead letter tasks
	mux.HandleFunc(shared.TypeRetryDeadLetters, h.retryDeadLetters.ProcessTask)
	mux.HandleFunc(shared.TypeExpireDeadLetters, h.expireDeadLetters.ProcessTask)

	// Housekeeping tasks
	mux.HandleFunc(shared.TypeCleanupOldRead, h.cleanupOldRead.ProcessTask)
	mux.HandleFunc(shared.TypeWarmTemplates, h.warmTemplates.ProcessTask)
}
