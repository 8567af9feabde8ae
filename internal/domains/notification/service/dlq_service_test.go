package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/infrastructure/breaker"
	"notification-service/internal/infrastructure/email"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/infrastructure/push"
)

// fakeDeadLetterRepo mirrors the claim semantics of the Postgres
// repository: claiming consumes one retry and only retryable rows can
// be claimed.
type fakeDeadLetterRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.DeadLetterRecord
}

func newFakeDeadLetterRepo() *fakeDeadLetterRepo {
	return &fakeDeadLetterRepo{rows: make(map[uuid.UUID]*model.DeadLetterRecord)}
}

func (r *fakeDeadLetterRepo) add(rec *model.DeadLetterRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.rows[rec.ID] = &cp
}

func (r *fakeDeadLetterRepo) Create(_ context.Context, rec *model.DeadLetterRecord) error {
	r.add(rec)
	return nil
}

func (r *fakeDeadLetterRepo) GetByID(_ context.Context, id uuid.UUID) (*model.DeadLetterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, model.ErrDeadLetterNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeDeadLetterRepo) List(_ context.Context, status *string, limit, offset int) ([]model.DeadLetterRecord, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DeadLetterRecord
	for _, rec := range r.rows {
		if status == nil || rec.Status == *status {
			out = append(out, *rec)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeDeadLetterRepo) Claim(_ context.Context, id uuid.UUID) (*model.DeadLetterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, model.ErrDeadLetterNotFound
	}
	if !rec.CanRetry() {
		return nil, model.ErrDeadLetterNotRetry
	}
	now := time.Now()
	rec.Status = model.DeadLetterStatusProcessing
	rec.RetryCount++
	rec.RetriedAt = &now
	cp := *rec
	return &cp, nil
}

func (r *fakeDeadLetterRepo) MarkRetried(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return model.ErrDeadLetterNotFound
	}
	rec.Status = model.DeadLetterStatusRetried
	return nil
}

func (r *fakeDeadLetterRepo) MarkRetryFailed(_ context.Context, id uuid.UUID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return model.ErrDeadLetterNotFound
	}
	if rec.RetryCount >= rec.MaxRetries {
		rec.Status = model.DeadLetterStatusMaxRetriesExceeded
	} else {
		rec.Status = model.DeadLetterStatusRetryFailed
	}
	rec.ErrorMessage = errorMessage
	return nil
}

func (r *fakeDeadLetterRepo) MarkResolved(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return model.ErrDeadLetterNotFound
	}
	now := time.Now()
	rec.Status = model.DeadLetterStatusResolved
	rec.ResolvedAt = &now
	return nil
}

func (r *fakeDeadLetterRepo) ExpireOld(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired int
	for _, rec := range r.rows {
		retryable := rec.Status == model.DeadLetterStatusPending || rec.Status == model.DeadLetterStatusRetryFailed
		if retryable && rec.CreatedAt.Before(before) {
			rec.Status = model.DeadLetterStatusExpired
			expired++
		}
	}
	return expired, nil
}

func (r *fakeDeadLetterRepo) CountUnresolved(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int
	for _, rec := range r.rows {
		switch rec.Status {
		case model.DeadLetterStatusPending, model.DeadLetterStatusProcessing, model.DeadLetterStatusRetryFailed:
			count++
		}
	}
	return count, nil
}

func (r *fakeDeadLetterRepo) ListRetryable(_ context.Context, limit int) ([]model.DeadLetterRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.DeadLetterRecord
	for _, rec := range r.rows {
		if rec.CanRetry() && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// fakeEmailSender records outbound messages and fails for chosen
// recipients.
type fakeEmailSender struct {
	mu      sync.Mutex
	sent    []email.Message
	failFor map[string]error
}

func newFakeEmailSender() *fakeEmailSender {
	return &fakeEmailSender{failFor: make(map[string]error)}
}

func (s *fakeEmailSender) Send(_ context.Context, msg email.Message) (*email.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[msg.To]; ok {
		return nil, err
	}
	s.sent = append(s.sent, msg)
	return &email.Result{ProviderMessageID: "fake-" + msg.TrackingID.String()}, nil
}

func newTestDeadLetterService(repo *fakeDeadLetterRepo, sender email.Sender) DeadLetterService {
	m := metrics.NewCollector(prometheus.NewRegistry())
	a := audit.NewLoggerWithSink(zerolog.Nop())
	mailBreaker := breaker.NewMailBreaker("smtp-test", config.BreakerConfig{
		WindowSize:     20,
		WindowDuration: time.Minute,
		MinCalls:       10,
		FailureRate:    0.5,
		SlowRate:       0.5,
		SlowThreshold:  time.Second,
		Cooldown:       time.Minute,
		HalfOpenProbes: 2,
	}, m, a, nil)
	return NewDeadLetterService(repo, sender, push.NewLogProvider(), mailBreaker, m, a)
}

func deadLetter(channel string) *model.DeadLetterRecord {
	return &model.DeadLetterRecord{
		ID:           uuid.New(),
		TrackingID:   uuid.New(),
		UserID:       uuid.New(),
		Type:         model.TypeSecurityAlert,
		Channel:      channel,
		Recipient:    "user@example.com",
		Subject:      "Security alert",
		Content:      "A new login was detected.",
		ErrorMessage: "smtp: connection refused",
		MaxRetries:   3,
		Status:       model.DeadLetterStatusPending,
		CreatedAt:    time.Now(),
	}
}

func TestDeadLetterRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("replays the preserved payload", func(t *testing.T) {
		repo := newFakeDeadLetterRepo()
		sender := newFakeEmailSender()
		svc := newTestDeadLetterService(repo, sender)

		rec := deadLetter(model.ChannelEmail)
		repo.add(rec)

		require.NoError(t, svc.Retry(ctx, "admin-1", rec.ID))

		require.Len(t, sender.sent, 1)
		assert.Equal(t, rec.Recipient, sender.sent[0].To)
		assert.Equal(t, rec.Content, sender.sent[0].BodyText)

		got, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeadLetterStatusRetried, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("failed replay keeps the record retryable", func(t *testing.T) {
		repo := newFakeDeadLetterRepo()
		sender := newFakeEmailSender()
		sender.failFor["user@example.com"] = errors.New("smtp: still down")
		svc := newTestDeadLetterService(repo, sender)

		rec := deadLetter(model.ChannelEmail)
		repo.add(rec)

		require.Error(t, svc.Retry(ctx, "admin-1", rec.ID))

		got, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeadLetterStatusRetryFailed, got.Status)
		assert.Equal(t, "smtp: still down", got.ErrorMessage)
		assert.True(t, got.CanRetry())
	})

	t.Run("spent retry budget", func(t *testing.T) {
		repo := newFakeDeadLetterRepo()
		svc := newTestDeadLetterService(repo, newFakeEmailSender())

		rec := deadLetter(model.ChannelEmail)
		rec.RetryCount = rec.MaxRetries
		repo.add(rec)

		assert.ErrorIs(t, svc.Retry(ctx, "admin-1", rec.ID), model.ErrDeadLetterNotRetry)
	})

	t.Run("already resolved", func(t *testing.T) {
		repo := newFakeDeadLetterRepo()
		svc := newTestDeadLetterService(repo, newFakeEmailSender())

		rec := deadLetter(model.ChannelEmail)
		rec.Status = model.DeadLetterStatusResolved
		repo.add(rec)

		assert.ErrorIs(t, svc.Retry(ctx, "admin-1", rec.ID), model.ErrDeadLetterNotRetry)
	})

	t.Run("unknown record", func(t *testing.T) {
		svc := newTestDeadLetterService(newFakeDeadLetterRepo(), newFakeEmailSender())
		assert.ErrorIs(t, svc.Retry(ctx, "admin-1", uuid.New()), model.ErrDeadLetterNotFound)
	})

	t.Run("push channel replays through the push provider", func(t *testing.T) {
		repo := newFakeDeadLetterRepo()
		svc := newTestDeadLetterService(repo, newFakeEmailSender())

		rec := deadLetter(model.ChannelPush)
		rec.Recipient = "device-token-1"
		repo.add(rec)

		require.NoError(t, svc.Retry(ctx, "admin-1", rec.ID))

		got, err := repo.GetByID(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeadLetterStatusRetried, got.Status)
	})
}

func TestDeadLetterResolve(t *testing.T) {
	repo := newFakeDeadLetterRepo()
	svc := newTestDeadLetterService(repo, newFakeEmailSender())
	ctx := context.Background()

	rec := deadLetter(model.ChannelEmail)
	repo.add(rec)

	require.NoError(t, svc.Resolve(ctx, "admin-1", rec.ID))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStatusResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)

	assert.ErrorIs(t, svc.Resolve(ctx, "admin-1", uuid.New()), model.ErrDeadLetterNotFound)
}

func TestDeadLetterRetrySweep(t *testing.T) {
	repo := newFakeDeadLetterRepo()
	sender := newFakeEmailSender()
	sender.failFor["broken@example.com"] = errors.New("smtp: mailbox unavailable")
	svc := newTestDeadLetterService(repo, sender)
	ctx := context.Background()

	good1 := deadLetter(model.ChannelEmail)
	good2 := deadLetter(model.ChannelEmail)
	bad := deadLetter(model.ChannelEmail)
	bad.Recipient = "broken@example.com"
	resolved := deadLetter(model.ChannelEmail)
	resolved.Status = model.DeadLetterStatusResolved
	for _, rec := range []*model.DeadLetterRecord{good1, good2, bad, resolved} {
		repo.add(rec)
	}

	retried, err := svc.RetrySweep(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, retried)

	// The failing row stays in the queue for the next sweep.
	got, err := repo.GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStatusRetryFailed, got.Status)

	got, err = repo.GetByID(ctx, resolved.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStatusResolved, got.Status)
}

func TestDeadLetterExpireOld(t *testing.T) {
	repo := newFakeDeadLetterRepo()
	svc := newTestDeadLetterService(repo, newFakeEmailSender())
	ctx := context.Background()

	old := deadLetter(model.ChannelEmail)
	old.CreatedAt = time.Now().Add(-40 * 24 * time.Hour)
	fresh := deadLetter(model.ChannelEmail)
	oldResolved := deadLetter(model.ChannelEmail)
	oldResolved.CreatedAt = old.CreatedAt
	oldResolved.Status = model.DeadLetterStatusResolved
	for _, rec := range []*model.DeadLetterRecord{old, fresh, oldResolved} {
		repo.add(rec)
	}

	expired, err := svc.ExpireOld(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := repo.GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStatusExpired, got.Status)

	got, err = repo.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeadLetterStatusPending, got.Status)
}

func TestDeadLetterList(t *testing.T) {
	repo := newFakeDeadLetterRepo()
	svc := newTestDeadLetterService(repo, newFakeEmailSender())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		repo.add(deadLetter(model.ChannelEmail))
	}

	resp, err := svc.List(ctx, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 1, resp.Page)
	assert.Len(t, resp.Records, 3)

	t.Run("status filter", func(t *testing.T) {
		status := model.DeadLetterStatusResolved
		resp, err := svc.List(ctx, &status, 1, 50)
		require.NoError(t, err)
		assert.Zero(t, resp.Total)
	})
}
