package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/infrastructure/breaker"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/infrastructure/push"
	"notification-service/internal/infrastructure/ratelimit"
	"notification-service/internal/infrastructure/userinfo"
)

// pipelineHarness wires a pipeline over in-memory collaborators and a
// miniredis-backed rate limiter.
type pipelineHarness struct {
	pipeline   DeliveryPipeline
	tracker    StatusTracker
	deliveries *fakeDeliveryRepo
	notifs     *fakeNotificationRepo
	deadRepo   *fakeDeadLetterRepo
	tplRepo    *fakeTemplateRepo
	prefRepo   *fakePreferenceRepo
	prefs      PreferenceService
	sender     *fakeEmailSender
	source     *userinfo.StaticSource
	userID     uuid.UUID
}

type harnessConfig struct {
	pipeline config.PipelineConfig
	retry    config.RetryConfig
	limits   config.RateLimitConfig
}

func defaultHarnessConfig() harnessConfig {
	return harnessConfig{
		pipeline: config.PipelineConfig{
			Workers:       2,
			QueueCapacity: 16,
			AcceptTimeout: 200 * time.Millisecond,
			RenderTimeout: time.Second,
			DrainTimeout:  2 * time.Second,
		},
		retry: config.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    50 * time.Millisecond,
			Jitter:      0,
		},
		limits: config.RateLimitConfig{
			Window:         time.Minute,
			ReadLimit:      100,
			WriteLimit:     100,
			AdminLimit:     100,
			PublicLimit:    100,
			ViolationLimit: 100,
			ViolationTTL:   time.Minute,
			BlockTTL:       time.Minute,
			CheckTimeout:   time.Second,
		},
	}
}

func newPipelineHarness(t *testing.T, mutate func(*harnessConfig)) *pipelineHarness {
	t.Helper()

	cfg := defaultHarnessConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	m := metrics.NewCollector(prometheus.NewRegistry())
	a := audit.NewLoggerWithSink(zerolog.Nop())

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })
	limiter := ratelimit.NewLimiter(redisClient, cfg.limits, m, a, nil)

	mailBreaker := breaker.NewMailBreaker("smtp-test", config.BreakerConfig{
		WindowSize:     100,
		WindowDuration: time.Minute,
		MinCalls:       50,
		FailureRate:    0.9,
		SlowRate:       0.9,
		SlowThreshold:  time.Second,
		Cooldown:       time.Minute,
		HalfOpenProbes: 2,
	}, m, a, nil)

	h := &pipelineHarness{
		deliveries: newFakeDeliveryRepo(),
		notifs:     newFakeNotificationRepo(),
		deadRepo:   newFakeDeadLetterRepo(),
		tplRepo:    newFakeTemplateRepo(),
		prefRepo:   newFakePreferenceRepo(),
		sender:     newFakeEmailSender(),
		source:     userinfo.NewStaticSource(),
		userID:     uuid.New(),
	}
	h.tracker = NewStatusTracker(h.deliveries, m, nil)
	h.prefs = newTestPreferenceService(h.prefRepo)

	renderer := NewTemplateRenderer(testCacheConfig(), nil)
	templates := NewTemplateStore(h.tplRepo, renderer, testCacheConfig(), a)
	h.tplRepo.put(securityAlertTemplate("en"))

	h.source.Put(model.UserInfo{
		UserID:      h.userID,
		Email:       "user@example.com",
		Timezone:    "UTC",
		DeviceToken: "device-token-1",
	})

	h.pipeline = NewDeliveryPipeline(cfg.pipeline, cfg.retry, PipelineDeps{
		Preferences:   h.prefs,
		Templates:     templates,
		Renderer:      renderer,
		Tracker:       h.tracker,
		Limiter:       limiter,
		Breaker:       mailBreaker,
		Email:         h.sender,
		Push:          push.NewLogProvider(),
		Users:         userinfo.NewProvider(h.source, testCacheConfig()),
		Notifications: h.notifs,
		DeadLetters:   h.deadRepo,
		Metrics:       m,
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		h.pipeline.Shutdown(ctx)
	})

	return h
}

func (h *pipelineHarness) request(channels ...string) model.NotificationRequest {
	return model.NotificationRequest{
		ID:                uuid.New(),
		UserID:            h.userID,
		Type:              model.TypeSecurityAlert,
		Language:          "en",
		Priority:          model.PriorityNormal,
		Variables:         model.JSONB{"name": "Ada"},
		RequestedChannels: channels,
		CreatedAt:         time.Now(),
	}
}

// waitForState polls until the delivery record reaches the state.
func (h *pipelineHarness) waitForState(t *testing.T, trackingID uuid.UUID, state string) *model.DeliveryRecord {
	t.Helper()
	var rec *model.DeliveryRecord
	require.Eventually(t, func() bool {
		got, err := h.deliveries.GetByTrackingID(context.Background(), trackingID)
		if err != nil {
			return false
		}
		rec = got
		return got.State == state
	}, 3*time.Second, 5*time.Millisecond, "waiting for state %s", state)
	return rec
}

func TestPipelineDeliversInApp(t *testing.T) {
	h := newPipelineHarness(t, nil)

	ids, err := h.pipeline.Enqueue(context.Background(), h.request(model.ChannelInApp))
	require.NoError(t, err)
	require.Contains(t, ids, model.ChannelInApp)

	rec := h.waitForState(t, ids[model.ChannelInApp], model.DeliveryStateDelivered)
	assert.Equal(t, "in_app", rec.Recipient)
	assert.NotNil(t, rec.NotificationID)
	assert.Equal(t, 1, rec.Attempts)

	// The rendered notification landed in the inbox.
	count, err := h.notifs.GetUnreadCount(context.Background(), h.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipelineDeliversEmail(t *testing.T) {
	h := newPipelineHarness(t, nil)

	ids, err := h.pipeline.Enqueue(context.Background(), h.request(model.ChannelEmail))
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateSent)
	assert.Equal(t, "user@example.com", rec.Recipient)
	require.NotNil(t, rec.ProviderMessageID)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "Security alert", h.sender.sent[0].Subject)

	t.Run("transport callback completes the record", func(t *testing.T) {
		require.NoError(t, h.tracker.OnTransportCallback(context.Background(), *rec.ProviderMessageID, CallbackDelivered))
		got, err := h.deliveries.GetByTrackingID(context.Background(), rec.TrackingID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStateDelivered, got.State)
	})
}

func TestPipelineDeliversPush(t *testing.T) {
	h := newPipelineHarness(t, nil)

	ids, err := h.pipeline.Enqueue(context.Background(), h.request(model.ChannelPush))
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelPush], model.DeliveryStateDelivered)
	assert.NotNil(t, rec.ProviderMessageID)
}

func TestPipelineSuppressedByPreference(t *testing.T) {
	h := newPipelineHarness(t, nil)
	ctx := context.Background()

	_, err := h.prefs.Update(ctx, h.userID, model.TypeSecurityAlert, model.UpdatePreferenceRequest{
		EmailEnabled: boolPtr(false),
	})
	require.NoError(t, err)

	ids, err := h.pipeline.Enqueue(ctx, h.request(model.ChannelEmail))
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateFailed)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, model.ReasonSuppressed, *rec.Reason)
	assert.Empty(t, h.sender.sent)
}

func TestPipelineDefersEmailToDigest(t *testing.T) {
	h := newPipelineHarness(t, nil)
	ctx := context.Background()

	_, err := h.prefs.Update(ctx, h.userID, model.TypeSecurityAlert, model.UpdatePreferenceRequest{
		Frequency: strPtr(model.FrequencyDailyDigest),
	})
	require.NoError(t, err)

	ids, err := h.pipeline.Enqueue(ctx, h.request(model.ChannelEmail))
	require.NoError(t, err)

	// The content is stored for the next digest; no email goes out.
	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateScheduled)
	assert.NotNil(t, rec.NotificationID)
	assert.Empty(t, h.sender.sent)

	count, err := h.notifs.GetUnreadCount(ctx, h.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipelineQuietHours(t *testing.T) {
	h := newPipelineHarness(t, nil)
	ctx := context.Background()

	// A window covering the whole day keeps the test clock-independent.
	_, err := h.prefs.Update(ctx, h.userID, model.TypeSecurityAlert, model.UpdatePreferenceRequest{
		QuietHoursStart: strPtr("00:00"),
		QuietHoursEnd:   strPtr("23:59"),
	})
	require.NoError(t, err)

	t.Run("normal priority email is parked", func(t *testing.T) {
		ids, err := h.pipeline.Enqueue(ctx, h.request(model.ChannelEmail))
		require.NoError(t, err)

		rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateScheduled)
		assert.NotNil(t, rec.ScheduledFor)
		assert.Empty(t, h.sender.sent)
	})

	t.Run("in-app ignores quiet hours", func(t *testing.T) {
		ids, err := h.pipeline.Enqueue(ctx, h.request(model.ChannelInApp))
		require.NoError(t, err)
		h.waitForState(t, ids[model.ChannelInApp], model.DeliveryStateDelivered)
	})

	t.Run("critical priority goes out immediately", func(t *testing.T) {
		req := h.request(model.ChannelEmail)
		req.Priority = model.PriorityCritical
		ids, err := h.pipeline.Enqueue(ctx, req)
		require.NoError(t, err)
		h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateSent)
	})
}

func TestPipelineRetriesThenDeadLetters(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.sender.failFor["user@example.com"] = model.NewTransientTransportError("SMTP_4XX", "greylisted", nil)

	ids, err := h.pipeline.Enqueue(context.Background(), h.request(model.ChannelEmail))
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateDeadLetter)
	assert.Equal(t, 3, rec.Attempts)
	require.NotNil(t, rec.LastError)

	records, total, err := h.deadRepo.List(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, ids[model.ChannelEmail], records[0].TrackingID)
	assert.Equal(t, model.ChannelEmail, records[0].Channel)
}

func TestPipelinePermanentFailureSkipsRetry(t *testing.T) {
	h := newPipelineHarness(t, nil)
	h.sender.failFor["user@example.com"] = model.NewPermanentTransportError("SMTP_5XX", "no such user", nil)

	ids, err := h.pipeline.Enqueue(context.Background(), h.request(model.ChannelEmail))
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateFailed)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, model.ReasonInvalidRecipient, *rec.Reason)
	assert.Equal(t, 1, rec.Attempts)
}

func TestPipelineRateLimited(t *testing.T) {
	h := newPipelineHarness(t, func(cfg *harnessConfig) {
		cfg.limits.WriteLimit = 0
	})

	ids, err := h.pipeline.Enqueue(context.Background(), h.request(model.ChannelEmail))
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateFailed)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, model.ReasonRateLimited, *rec.Reason)
}

func TestPipelineTemplateMissing(t *testing.T) {
	h := newPipelineHarness(t, nil)

	req := h.request(model.ChannelEmail)
	req.Type = model.TypeMarketing
	ids, err := h.pipeline.Enqueue(context.Background(), req)
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateFailed)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, model.ReasonTemplateMissing, *rec.Reason)
}

func TestPipelineMissingVariables(t *testing.T) {
	h := newPipelineHarness(t, nil)

	req := h.request(model.ChannelEmail)
	req.Variables = model.JSONB{}
	ids, err := h.pipeline.Enqueue(context.Background(), req)
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateFailed)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, model.ReasonMissingVariables, *rec.Reason)
}

func TestPipelineUnknownUser(t *testing.T) {
	h := newPipelineHarness(t, nil)

	req := h.request(model.ChannelEmail)
	req.UserID = uuid.New()
	ids, err := h.pipeline.Enqueue(context.Background(), req)
	require.NoError(t, err)

	rec := h.waitForState(t, ids[model.ChannelEmail], model.DeliveryStateFailed)
	require.NotNil(t, rec.Reason)
	assert.Equal(t, model.ReasonUnknownUser, *rec.Reason)
}

func TestPipelineRejectsInvalidChannel(t *testing.T) {
	h := newPipelineHarness(t, nil)

	req := h.request("sms")
	_, err := h.pipeline.Enqueue(context.Background(), req)
	assert.ErrorIs(t, err, model.ErrInvalidChannel)

	// Nothing was recorded for the rejected request.
	_, total, err := h.deliveries.ListByUser(context.Background(), h.userID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestPipelineOverload(t *testing.T) {
	h := newPipelineHarness(t, func(cfg *harnessConfig) {
		// No workers, a one-slot queue: the second request cannot be
		// accepted within the timeout.
		cfg.pipeline.Workers = 0
		cfg.pipeline.QueueCapacity = 1
		cfg.pipeline.AcceptTimeout = 50 * time.Millisecond
	})
	ctx := context.Background()

	_, err := h.pipeline.Enqueue(ctx, h.request(model.ChannelEmail))
	require.NoError(t, err)

	_, err = h.pipeline.Enqueue(ctx, h.request(model.ChannelEmail))
	assert.ErrorIs(t, err, model.ErrOverloaded)

	// The rejected delivery fails rather than vanishing.
	counts, err := h.deliveries.CountByState(ctx, time.Now().Add(-time.Minute), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.DeliveryStateFailed])
}

func TestPipelineEnqueueBatch(t *testing.T) {
	h := newPipelineHarness(t, nil)

	reqs := []model.NotificationRequest{
		h.request(model.ChannelInApp),
		h.request(model.ChannelInApp),
	}
	ids, err := h.pipeline.EnqueueBatch(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, m := range ids {
		h.waitForState(t, m[model.ChannelInApp], model.DeliveryStateDelivered)
	}
}

func TestPipelineShutdown(t *testing.T) {
	h := newPipelineHarness(t, nil)
	ctx := context.Background()

	ids, err := h.pipeline.Enqueue(ctx, h.request(model.ChannelInApp))
	require.NoError(t, err)
	h.waitForState(t, ids[model.ChannelInApp], model.DeliveryStateDelivered)

	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, h.pipeline.Shutdown(shutdownCtx))

	// Intake is closed; a second shutdown is a no-op.
	_, err = h.pipeline.Enqueue(ctx, h.request(model.ChannelInApp))
	assert.ErrorIs(t, err, model.ErrPipelineClosed)
	require.NoError(t, h.pipeline.Shutdown(shutdownCtx))
}
