package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/repository"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/infrastructure/breaker"
	"notification-service/internal/infrastructure/email"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/infrastructure/push"
)

// ================================================
// DEAD LETTER SERVICE
// ================================================

// DeadLetterService is the admin and scheduled-job surface over the
// dead letter queue. Retries replay the preserved payload straight
// through the transport; the original render is not repeated.
type DeadLetterService interface {
	List(ctx context.Context, status *string, page, pageSize int) (*model.DeadLetterListResponse, error)
	Retry(ctx context.Context, subject string, id uuid.UUID) error
	Resolve(ctx context.Context, subject string, id uuid.UUID) error
	RetrySweep(ctx context.Context, limit int) (retried int, err error)
	ExpireOld(ctx context.Context, olderThan time.Duration) (int, error)
}

type deadLetterService struct {
	repo    repository.DeadLetterRepository
	email   email.Sender
	push    push.Provider
	breaker *breaker.MailBreaker
	metrics *metrics.Collector
	audit   *audit.Logger
}

func NewDeadLetterService(
	repo repository.DeadLetterRepository,
	sender email.Sender,
	pushProvider push.Provider,
	mailBreaker *breaker.MailBreaker,
	m *metrics.Collector,
	a *audit.Logger,
) DeadLetterService {
	return &deadLetterService{
		repo:    repo,
		email:   sender,
		push:    pushProvider,
		breaker: mailBreaker,
		metrics: m,
		audit:   a,
	}
}

// List pages through the queue.
func (s *deadLetterService) List(ctx context.Context, status *string, page, pageSize int) (*model.DeadLetterListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	records, total, err := s.repo.List(ctx, status, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	s.refreshDepth(ctx)

	return &model.DeadLetterListResponse{
		Records: records,
		Total:   total,
		Page:    page,
	}, nil
}

// Retry claims the record and replays it. Records that spent their
// retry budget or are already resolved are rejected.
func (s *deadLetterService) Retry(ctx context.Context, subject string, id uuid.UUID) error {
	rec, err := s.repo.Claim(ctx, id)
	if err != nil {
		return err
	}

	s.audit.AdminAction(subject, "deadletter.retry", id.String())

	if err := s.replay(ctx, rec); err != nil {
		if markErr := s.repo.MarkRetryFailed(ctx, id, err.Error()); markErr != nil {
			log.Error().Err(markErr).
				Str("dead_letter_id", id.String()).
				Msg("[DeadLetter] Cannot record retry failure")
		}
		return err
	}

	if err := s.repo.MarkRetried(ctx, id); err != nil {
		return err
	}

	s.metrics.RecordRetried()
	s.refreshDepth(ctx)

	log.Info().
		Str("dead_letter_id", id.String()).
		Str("channel", rec.Channel).
		Msg("[DeadLetter] Retry succeeded")
	return nil
}

// replay pushes the preserved payload through the original channel.
func (s *deadLetterService) replay(ctx context.Context, rec *model.DeadLetterRecord) error {
	switch rec.Channel {
	case model.ChannelEmail:
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			_, err := s.email.Send(ctx, email.Message{
				TrackingID: rec.TrackingID,
				To:         rec.Recipient,
				Subject:    rec.Subject,
				BodyText:   rec.Content,
			})
			return err
		})
	case model.ChannelPush:
		_, err := s.push.Send(ctx, push.Message{
			TrackingID:  rec.TrackingID,
			DeviceToken: rec.Recipient,
			Title:       rec.Subject,
			Body:        rec.Content,
		})
		return err
	default:
		return model.ErrInvalidChannel
	}
}

// Resolve closes a record without retrying.
func (s *deadLetterService) Resolve(ctx context.Context, subject string, id uuid.UUID) error {
	if err := s.repo.MarkResolved(ctx, id); err != nil {
		return err
	}

	s.audit.AdminAction(subject, "deadletter.resolve", id.String())
	s.refreshDepth(ctx)
	return nil
}

// RetrySweep replays a batch of retryable records. Runs on a schedule;
// individual failures are recorded on the row and do not stop the
// sweep.
func (s *deadLetterService) RetrySweep(ctx context.Context, limit int) (int, error) {
	records, err := s.repo.ListRetryable(ctx, limit)
	if err != nil {
		return 0, err
	}

	var retried int
	for _, rec := range records {
		if err := s.Retry(ctx, "scheduler", rec.ID); err != nil {
			log.Warn().Err(err).
				Str("dead_letter_id", rec.ID.String()).
				Msg("[DeadLetter] Scheduled retry failed")
			continue
		}
		retried++
	}

	return retried, nil
}

// ExpireOld closes unresolved records past the retention window.
func (s *deadLetterService) ExpireOld(ctx context.Context, olderThan time.Duration) (int, error) {
	expired, err := s.repo.ExpireOld(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		log.Info().Int("expired", expired).Msg("[DeadLetter] Old records expired")
	}
	s.refreshDepth(ctx)
	return expired, nil
}

func (s *deadLetterService) refreshDepth(ctx context.Context) {
	if count, err := s.repo.CountUnresolved(ctx); err == nil {
		s.metrics.SetDeadLetterDepth(count)
	}
}
