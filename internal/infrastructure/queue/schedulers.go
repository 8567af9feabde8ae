package queue

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/shared"
	"notification-service/pkg/logger"
)

type Scheduler struct {
	scheduler *asynq.Scheduler
	jobConfig config.JobConfig
}

func NewScheduler(redisAddress string, jobConfig config.JobConfig) *Scheduler {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddress},
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
		},
	)

	return &Scheduler{
		scheduler: scheduler,
		jobConfig: jobConfig,
	}
}

func (s *Scheduler) RegisterJobs() error {
	if err := s.registerDigestSweepJobs(); err != nil {
		return err
	}

	if err := s.registerRetryDeadLettersJob(); err != nil {
		return err
	}

	if err := s.registerExpireDeadLettersJob(); err != nil {
		return err
	}

	if err := s.registerCleanupOldReadJob(); err != nil {
		return err
	}

	if err := s.registerWarmTemplatesJob(); err != nil {
		return err
	}

	return nil
}

// ================================================
// JOB 1: Digest Sweeps (Hourly)
// ================================================
// The sweep runs every hour on the hour. Each run checks which users
// have just crossed their local digest time, so one cron line covers
// every timezone.
func (s *Scheduler) registerDigestSweepJobs() error {
	frequencies := []string{model.FrequencyDailyDigest, model.FrequencyWeeklyDigest}
	taskTypes := map[string]string{
		model.FrequencyDailyDigest:  shared.TypeRunDailyDigests,
		model.FrequencyWeeklyDigest: shared.TypeRunWeeklyDigests,
	}

	for _, frequency := range frequencies {
		payload, err := json.Marshal(shared.DigestPayload{Frequency: frequency})
		if err != nil {
			return err
		}

		task := asynq.NewTask(taskTypes[frequency], payload)

		_, err = s.scheduler.Register(
			"0 * * * *", // hourly, on the hour
			task,
			asynq.Queue(shared.QueueNotification),
			asynq.MaxRetry(2),
			asynq.Timeout(15*time.Minute),
		)

		if err != nil {
			logger.Error("Failed to register digest sweep job", err)
			return err
		}

		logger.Info("✓ Registered digest sweep: hourly", map[string]interface{}{
			"frequency": frequency,
		})
	}

	return nil
}

// ================================================
// JOB 2: Retry Dead Letters (Every 30 minutes)
// ================================================
func (s *Scheduler) registerRetryDeadLettersJob() error {
	payload, err := json.Marshal(shared.LimitPayload{
		Limit: s.jobConfig.RetryDeadLetterLimit,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeRetryDeadLetters, payload)

	_, err = s.scheduler.Register(
		"*/30 * * * *", // every 30 minutes
		task,
		asynq.Queue(shared.QueueNotification),
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register RetryDeadLetters job", err)
		return err
	}

	logger.Info("✓ Registered RetryDeadLetters: every 30 minutes", map[string]interface{}{
		"limit": s.jobConfig.RetryDeadLetterLimit,
	})
	return nil
}

// ================================================
// JOB 3: Expire Dead Letters (Daily at 2 AM)
// ================================================
func (s *Scheduler) registerExpireDeadLettersJob() error {
	task := asynq.NewTask(shared.TypeExpireDeadLetters, nil)

	_, err := s.scheduler.Register(
		"0 2 * * *", // daily at 2 AM
		task,
		asynq.Queue(shared.QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register ExpireDeadLetters job", err)
		return err
	}

	logger.Info("✓ Registered ExpireDeadLetters: daily at 2 AM", map[string]interface{}{
		"expiry_days": s.jobConfig.DeadLetterExpiryDays,
	})
	return nil
}

// ================================================
// JOB 4: Cleanup Old Read Notifications (Daily at 3 AM)
// ================================================
// Staggered an hour after dead letter expiry to avoid resource
// contention on the same tables.
func (s *Scheduler) registerCleanupOldReadJob() error {
	payload, err := json.Marshal(shared.CleanupPayload{
		OlderThanDays: s.jobConfig.CleanupRetentionDays,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(shared.TypeCleanupOldRead, payload)

	_, err = s.scheduler.Register(
		"0 3 * * *", // daily at 3 AM
		task,
		asynq.Queue(shared.QueueMaintenance),
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register CleanupOldRead job", err)
		return err
	}

	logger.Info("✓ Registered CleanupOldRead: daily at 3 AM", map[string]interface{}{
		"retention_days": s.jobConfig.CleanupRetentionDays,
	})
	return nil
}

// ================================================
// JOB 5: Warm Template Cache (Every 6 hours)
// ================================================
func (s *Scheduler) registerWarmTemplatesJob() error {
	task := asynq.NewTask(shared.TypeWarmTemplates, nil)

	_, err := s.scheduler.Register(
		"0 */6 * * *", // every 6 hours
		task,
		asynq.Queue(shared.QueueMaintenance),
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
	)

	if err != nil {
		logger.Error("Failed to register WarmTemplates job", err)
		return err
	}

	logger.Info("✓ Registered WarmTemplates: every 6 hours", map[string]interface{}{})
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Run()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
