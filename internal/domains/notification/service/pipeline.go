package service

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/repository"
	"notification-service/internal/infrastructure/breaker"
	"notification-service/internal/infrastructure/email"
	"notification-service/internal/infrastructure/metrics"
	"notification-service/internal/infrastructure/push"
	"notification-service/internal/infrastructure/ratelimit"
	"notification-service/internal/infrastructure/userinfo"
	"notification-service/internal/shared"
)

// ================================================
// DELIVERY PIPELINE
// ================================================

// DeliveryPipeline accepts notification requests and drives each
// (request, channel) pair through the delivery state machine.
type DeliveryPipeline interface {
	Enqueue(ctx context.Context, req model.NotificationRequest) (map[string]uuid.UUID, error)
	EnqueueBatch(ctx context.Context, reqs []model.NotificationRequest) ([]map[string]uuid.UUID, error)
	Status(ctx context.Context, trackingID uuid.UUID) (*model.DeliveryRecord, error)
	QueueDepth() int
	Shutdown(ctx context.Context) error
}

// deliveryTask is one unit of work flowing through the worker pool.
type deliveryTask struct {
	req        model.NotificationRequest
	channel    string
	trackingID uuid.UUID
	attempt    int

	// gatesPassed is set once the preference and quiet-hour gates have
	// been cleared, so deferred and retried tasks skip them.
	gatesPassed bool
	notBefore   time.Time
	retry       *backoff.ExponentialBackOff
}

type pipeline struct {
	cfg      config.PipelineConfig
	retryCfg config.RetryConfig

	prefs     PreferenceService
	templates TemplateStore
	renderer  *TemplateRenderer
	tracker   StatusTracker
	limiter   *ratelimit.Limiter
	breaker   *breaker.MailBreaker
	email     email.Sender
	push      push.Provider
	users     *userinfo.Provider
	notifRepo repository.NotificationRepository
	dlqRepo   repository.DeadLetterRepository
	metrics   *metrics.Collector
	clock     shared.Clock

	queue  chan *deliveryTask
	delay  *delayQueue
	wg     sync.WaitGroup
	closed atomic.Bool
	abort  atomic.Bool
}

// PipelineDeps bundles the pipeline collaborators.
type PipelineDeps struct {
	Preferences   PreferenceService
	Templates     TemplateStore
	Renderer      *TemplateRenderer
	Tracker       StatusTracker
	Limiter       *ratelimit.Limiter
	Breaker       *breaker.MailBreaker
	Email         email.Sender
	Push          push.Provider
	Users         *userinfo.Provider
	Notifications repository.NotificationRepository
	DeadLetters   repository.DeadLetterRepository
	Metrics       *metrics.Collector
	Clock         shared.Clock
}

// NewDeliveryPipeline builds the pipeline and starts its worker pool.
func NewDeliveryPipeline(cfg config.PipelineConfig, retryCfg config.RetryConfig, deps PipelineDeps) DeliveryPipeline {
	clock := deps.Clock
	if clock == nil {
		clock = shared.SystemClock()
	}

	p := &pipeline{
		cfg:       cfg,
		retryCfg:  retryCfg,
		prefs:     deps.Preferences,
		templates: deps.Templates,
		renderer:  deps.Renderer,
		tracker:   deps.Tracker,
		limiter:   deps.Limiter,
		breaker:   deps.Breaker,
		email:     deps.Email,
		push:      deps.Push,
		users:     deps.Users,
		notifRepo: deps.Notifications,
		dlqRepo:   deps.DeadLetters,
		metrics:   deps.Metrics,
		clock:     clock,
		queue:     make(chan *deliveryTask, cfg.QueueCapacity),
	}
	p.delay = newDelayQueue(p.queue, clock)

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.delay.run()

	log.Info().
		Int("workers", cfg.Workers).
		Int("queue_capacity", cfg.QueueCapacity).
		Msg("[Pipeline] Started")

	return p
}

// ================================================
// INTAKE
// ================================================

// Enqueue fans the request out into one delivery per channel and hands
// the tasks to the worker pool. It blocks at most AcceptTimeout; a
// full queue fails the whole call with ErrOverloaded.
func (p *pipeline) Enqueue(ctx context.Context, req model.NotificationRequest) (map[string]uuid.UUID, error) {
	if p.closed.Load() {
		return nil, model.ErrPipelineClosed
	}

	start := p.clock.Now()
	defer func() { p.metrics.ObserveAccept(p.clock.Since(start)) }()

	for _, ch := range req.RequestedChannels {
		if !model.IsValidChannel(ch) {
			return nil, fmt.Errorf("%q: %w", ch, model.ErrInvalidChannel)
		}
	}

	trackingIDs := make(map[string]uuid.UUID, len(req.RequestedChannels))
	for _, ch := range req.RequestedChannels {
		id, err := p.enqueueChannel(ctx, req, ch)
		if err != nil {
			return nil, err
		}
		trackingIDs[ch] = id
	}

	return trackingIDs, nil
}

func (p *pipeline) enqueueChannel(ctx context.Context, req model.NotificationRequest, channel string) (uuid.UUID, error) {
	now := p.clock.Now()
	rec := &model.DeliveryRecord{
		TrackingID:  uuid.New(),
		UserID:      req.UserID,
		Type:        req.Type,
		Channel:     channel,
		State:       model.DeliveryStatePending,
		MaxAttempts: p.retryCfg.MaxAttempts,
		QueuedAt:    &now,
	}

	if err := p.tracker.Begin(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("begin delivery record: %w", err)
	}

	task := &deliveryTask{
		req:        req,
		channel:    channel,
		trackingID: rec.TrackingID,
	}

	timer := time.NewTimer(p.cfg.AcceptTimeout)
	defer timer.Stop()

	select {
	case p.queue <- task:
		p.metrics.SetQueueDepth(len(p.queue))
		return rec.TrackingID, nil
	case <-ctx.Done():
		p.failRecord(task, model.ReasonCancelled, ctx.Err())
		return uuid.Nil, ctx.Err()
	case <-timer.C:
		p.failRecord(task, model.ReasonInternal, model.ErrOverloaded)
		return uuid.Nil, model.ErrOverloaded
	}
}

// EnqueueBatch accepts a set of requests. Requests are independent; a
// rejected request does not undo already-accepted ones.
func (p *pipeline) EnqueueBatch(ctx context.Context, reqs []model.NotificationRequest) ([]map[string]uuid.UUID, error) {
	out := make([]map[string]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		ids, err := p.Enqueue(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, ids)
	}
	return out, nil
}

// Status reports the current delivery record.
func (p *pipeline) Status(ctx context.Context, trackingID uuid.UUID) (*model.DeliveryRecord, error) {
	return p.tracker.Get(ctx, trackingID)
}

// QueueDepth reports entries waiting in the in-memory queue.
func (p *pipeline) QueueDepth() int {
	return len(p.queue)
}

// ================================================
// WORKERS
// ================================================

func (p *pipeline) worker() {
	defer p.wg.Done()

	for task := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))

		if p.abort.Load() {
			p.flushToDeadLetter(task, "shutdown drain timeout")
			continue
		}

		start := p.clock.Now()
		p.process(context.Background(), task)
		p.metrics.ObserveProcess(p.clock.Since(start))
	}
}

// process runs one delivery attempt through the gate sequence:
// preference gate, digest deferral, quiet hours, template render, rate
// gate, then the channel transport.
func (p *pipeline) process(ctx context.Context, task *deliveryTask) {
	req := task.req

	if !task.gatesPassed {
		enabled, err := p.prefs.IsEnabled(ctx, req.UserID, req.Type, task.channel)
		if err != nil {
			p.failRecord(task, model.ReasonInternal, err)
			return
		}
		if !enabled {
			p.failRecord(task, model.ReasonSuppressed, nil)
			return
		}

		// Digest frequencies defer email delivery to the scheduler; the
		// notification is stored now and folded into the next digest.
		if task.channel == model.ChannelEmail {
			freq, err := p.prefs.Frequency(ctx, req.UserID, req.Type)
			if err != nil {
				p.failRecord(task, model.ReasonInternal, err)
				return
			}
			if model.IsDigestFrequency(freq) {
				p.deferToDigest(ctx, task)
				return
			}
		}

		// Quiet hours defer everything below critical priority until
		// the window ends in the user's timezone.
		if req.Priority < model.PriorityCritical && task.channel != model.ChannelInApp {
			quiet, until, err := p.prefs.InQuietHours(ctx, req.UserID, req.Type, p.clock.Now())
			if err != nil {
				p.failRecord(task, model.ReasonInternal, err)
				return
			}
			if quiet {
				p.deferUntil(task, until)
				return
			}
		}

		task.gatesPassed = true
	}

	renderCtx, cancel := context.WithTimeout(ctx, p.cfg.RenderTimeout)
	tpl, err := p.templates.Get(renderCtx, req.Type, req.Language)
	cancel()
	if err != nil {
		if errors.Is(err, model.ErrTemplateNotFound) {
			p.failRecord(task, model.ReasonTemplateMissing, err)
			return
		}
		p.handleSendFailure(task, err)
		return
	}

	msg, err := p.renderer.Render(tpl, req.Variables)
	if err != nil {
		var missing *model.MissingVariablesError
		if errors.As(err, &missing) {
			p.failRecord(task, model.ReasonMissingVariables, err)
			return
		}
		p.failRecord(task, model.ReasonInternal, err)
		return
	}

	decision := p.limiter.Allow(ctx, req.UserID.String(), ratelimit.ClassWrite)
	if !decision.Allowed {
		p.failRecord(task, model.ReasonRateLimited, model.ErrRateLimited)
		return
	}

	task.attempt++
	now := p.clock.Now()
	_, err = p.tracker.Record(ctx, task.trackingID, model.DeliveryStateSending, func(r *model.DeliveryRecord) {
		r.Attempts = task.attempt
		r.SendingAt = &now
	})
	if err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot enter sending state")
		return
	}

	if err := p.send(ctx, task, msg); err != nil {
		if !errors.Is(err, errHandled) {
			p.handleSendFailure(task, err)
		}
		return
	}

	p.metrics.RecordSent()
}

// errHandled signals that the sender already moved the record to a
// terminal state and no further failure handling applies.
var errHandled = errors.New("delivery already resolved")

// send dispatches through the channel transport and moves the record
// to sent on success.
func (p *pipeline) send(ctx context.Context, task *deliveryTask, msg *model.RenderedMessage) error {
	switch task.channel {
	case model.ChannelInApp:
		return p.sendInApp(ctx, task, msg)
	case model.ChannelEmail:
		return p.sendEmail(ctx, task, msg)
	case model.ChannelPush:
		return p.sendPush(ctx, task, msg)
	}
	return model.ErrInvalidChannel
}

// sendInApp persists the notification row. In-app delivery has no
// transport leg, so the record lands in delivered immediately.
func (p *pipeline) sendInApp(ctx context.Context, task *deliveryTask, msg *model.RenderedMessage) error {
	n := &model.Notification{
		UserID:  task.req.UserID,
		Type:    task.req.Type,
		Title:   msg.Subject,
		Content: msg.BodyText,
		Status:  model.StatusUnread,
	}
	if err := p.notifRepo.Create(ctx, n); err != nil {
		return model.NewTransientTransportError("STORE_UNAVAILABLE", "cannot persist in-app notification", err)
	}

	now := p.clock.Now()
	if _, err := p.tracker.Record(ctx, task.trackingID, model.DeliveryStateSent, func(r *model.DeliveryRecord) {
		r.NotificationID = &n.ID
		r.Recipient = "in_app"
		r.SentAt = &now
	}); err != nil {
		return err
	}
	_, err := p.tracker.Record(ctx, task.trackingID, model.DeliveryStateDelivered, func(r *model.DeliveryRecord) {
		r.DeliveredAt = &now
	})
	return err
}

func (p *pipeline) sendEmail(ctx context.Context, task *deliveryTask, msg *model.RenderedMessage) error {
	info, err := p.users.Resolve(ctx, task.req.UserID)
	if err != nil {
		p.failRecord(task, model.ReasonUnknownUser, err)
		return errHandled
	}
	if info.Email == "" {
		p.failRecord(task, model.ReasonInvalidRecipient, model.ErrInvalidRecipient)
		return errHandled
	}

	var result *email.Result
	err = p.breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = p.email.Send(ctx, email.Message{
			TrackingID: task.trackingID,
			To:         info.Email,
			Subject:    msg.Subject,
			BodyText:   msg.BodyText,
			BodyHTML:   msg.BodyHTML,
		})
		return sendErr
	})
	if err != nil {
		return err
	}

	now := p.clock.Now()
	_, err = p.tracker.Record(ctx, task.trackingID, model.DeliveryStateSent, func(r *model.DeliveryRecord) {
		r.Recipient = info.Email
		r.ProviderMessageID = &result.ProviderMessageID
		r.EstimatedCost = &result.EstimatedCost
		r.SentAt = &now
	})
	return err
}

func (p *pipeline) sendPush(ctx context.Context, task *deliveryTask, msg *model.RenderedMessage) error {
	info, err := p.users.Resolve(ctx, task.req.UserID)
	if err != nil {
		p.failRecord(task, model.ReasonUnknownUser, err)
		return errHandled
	}

	messageID, err := p.push.Send(ctx, push.Message{
		TrackingID:  task.trackingID,
		DeviceToken: info.DeviceToken,
		Title:       msg.Subject,
		Body:        msg.BodyText,
	})
	if err != nil {
		return err
	}

	now := p.clock.Now()
	if _, err := p.tracker.Record(ctx, task.trackingID, model.DeliveryStateSent, func(r *model.DeliveryRecord) {
		r.Recipient = "push"
		r.ProviderMessageID = &messageID
		r.SentAt = &now
	}); err != nil {
		return err
	}
	// Push gateways acknowledge synchronously; no delivery callback.
	_, err = p.tracker.Record(ctx, task.trackingID, model.DeliveryStateDelivered, func(r *model.DeliveryRecord) {
		r.DeliveredAt = &now
	})
	return err
}

// ================================================
// FAILURE HANDLING
// ================================================

// handleSendFailure routes a failed attempt: retryable failures go
// back through the delay queue with exponential backoff until the
// attempt budget is spent, then to the dead letter queue. Everything
// else is terminal.
func (p *pipeline) handleSendFailure(task *deliveryTask, err error) {
	if !model.IsRetryable(err) {
		reason := model.ReasonInternal
		var te *model.TransportError
		if errors.As(err, &te) && !te.Temporary {
			reason = model.ReasonInvalidRecipient
		}
		p.failRecord(task, reason, err)
		return
	}

	if task.attempt >= p.retryCfg.MaxAttempts {
		p.deadLetter(task, err)
		return
	}

	if task.retry == nil {
		task.retry = p.newBackoff()
	}
	delay := task.retry.NextBackOff()
	due := p.clock.Now().Add(delay)
	errText := err.Error()

	_, recErr := p.tracker.Record(context.Background(), task.trackingID, model.DeliveryStateScheduled, func(r *model.DeliveryRecord) {
		r.ScheduledFor = &due
		r.LastError = &errText
	})
	if recErr != nil {
		log.Error().Err(recErr).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot schedule retry")
		return
	}

	p.metrics.RecordRetried()
	task.notBefore = due
	p.delay.push(task)

	log.Warn().
		Str("tracking_id", task.trackingID.String()).
		Int("attempt", task.attempt).
		Dur("delay", delay).
		Str("error", errText).
		Msg("[Pipeline] Attempt failed, retry scheduled")
}

// newBackoff builds the retry curve: base delay, exponential growth,
// a hard cap, and jitter so synchronized failures spread out.
func (p *pipeline) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retryCfg.BaseDelay
	b.Multiplier = p.retryCfg.Multiplier
	b.MaxInterval = p.retryCfg.MaxDelay
	b.RandomizationFactor = p.retryCfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// failRecord moves the record to the failed terminal state.
func (p *pipeline) failRecord(task *deliveryTask, reason string, cause error) {
	now := p.clock.Now()
	_, err := p.tracker.Record(context.Background(), task.trackingID, model.DeliveryStateFailed, func(r *model.DeliveryRecord) {
		r.Reason = &reason
		r.FailedAt = &now
		if cause != nil {
			text := cause.Error()
			r.LastError = &text
		}
	})
	if err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Str("reason", reason).
			Msg("[Pipeline] Cannot fail delivery record")
		return
	}

	p.metrics.RecordFailed(reason)
}

// deadLetter preserves the exhausted delivery for manual retry.
func (p *pipeline) deadLetter(task *deliveryTask, cause error) {
	ctx := context.Background()

	dl := &model.DeadLetterRecord{
		TrackingID:   task.trackingID,
		UserID:       task.req.UserID,
		Type:         task.req.Type,
		Channel:      task.channel,
		ErrorMessage: cause.Error(),
		MaxRetries:   p.retryCfg.MaxAttempts,
		Status:       model.DeadLetterStatusPending,
	}
	if rec, err := p.tracker.Get(ctx, task.trackingID); err == nil {
		dl.Recipient = rec.Recipient
	}

	if err := p.dlqRepo.Create(ctx, dl); err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot persist dead letter")
	}

	now := p.clock.Now()
	text := cause.Error()
	if _, err := p.tracker.Record(ctx, task.trackingID, model.DeliveryStateDeadLetter, func(r *model.DeliveryRecord) {
		r.LastError = &text
		r.FailedAt = &now
	}); err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot enter dead letter state")
	}

	p.metrics.RecordDeadLetter()
	p.metrics.RecordFailed("retries_exhausted")
}

// ================================================
// DEFERRALS
// ================================================

// deferToDigest stores the notification for the digest scheduler and
// parks the record in scheduled. The digest run delivers the content
// as part of a batch email.
func (p *pipeline) deferToDigest(ctx context.Context, task *deliveryTask) {
	tpl, err := p.templates.Get(ctx, task.req.Type, task.req.Language)
	if err != nil {
		p.failRecord(task, model.ReasonTemplateMissing, err)
		return
	}
	msg, err := p.renderer.Render(tpl, task.req.Variables)
	if err != nil {
		var missing *model.MissingVariablesError
		if errors.As(err, &missing) {
			p.failRecord(task, model.ReasonMissingVariables, err)
			return
		}
		p.failRecord(task, model.ReasonInternal, err)
		return
	}

	n := &model.Notification{
		UserID:  task.req.UserID,
		Type:    task.req.Type,
		Title:   msg.Subject,
		Content: msg.BodyText,
		Status:  model.StatusUnread,
	}
	if err := p.notifRepo.Create(ctx, n); err != nil {
		p.handleSendFailure(task, model.NewTransientTransportError("STORE_UNAVAILABLE", "cannot persist digest notification", err))
		return
	}

	if _, err := p.tracker.Record(ctx, task.trackingID, model.DeliveryStateScheduled, func(r *model.DeliveryRecord) {
		r.NotificationID = &n.ID
	}); err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot park digest delivery")
	}
}

// deferUntil parks the task until the quiet window ends.
func (p *pipeline) deferUntil(task *deliveryTask, until time.Time) {
	_, err := p.tracker.Record(context.Background(), task.trackingID, model.DeliveryStateScheduled, func(r *model.DeliveryRecord) {
		r.ScheduledFor = &until
	})
	if err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot defer delivery")
		return
	}

	task.gatesPassed = true
	task.notBefore = until
	p.delay.push(task)

	log.Debug().
		Str("tracking_id", task.trackingID.String()).
		Time("until", until).
		Msg("[Pipeline] Deferred for quiet hours")
}

// ================================================
// SHUTDOWN
// ================================================

// Shutdown stops intake, drains in-flight work for DrainTimeout, then
// flushes whatever is still queued to the dead letter queue so nothing
// is silently lost.
func (p *pipeline) Shutdown(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	log.Info().Msg("[Pipeline] Shutting down, draining queue")

	// Pending retries cannot run after the workers stop; flush them.
	for _, task := range p.delay.drain() {
		p.flushToDeadLetter(task, "shutdown with retry pending")
	}
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-ctx.Done():
		p.abort.Store(true)
		<-done
	case <-timer.C:
		p.abort.Store(true)
		<-done
	}

	log.Info().Msg("[Pipeline] Shutdown complete")
	return nil
}

// flushToDeadLetter preserves an unprocessed task during shutdown.
func (p *pipeline) flushToDeadLetter(task *deliveryTask, why string) {
	ctx := context.Background()

	dl := &model.DeadLetterRecord{
		TrackingID:   task.trackingID,
		UserID:       task.req.UserID,
		Type:         task.req.Type,
		Channel:      task.channel,
		ErrorMessage: why,
		MaxRetries:   p.retryCfg.MaxAttempts,
		Status:       model.DeadLetterStatusPending,
	}
	if err := p.dlqRepo.Create(ctx, dl); err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot flush task to dead letter")
		return
	}

	if _, err := p.tracker.Record(ctx, task.trackingID, model.DeliveryStateDeadLetter, func(r *model.DeliveryRecord) {
		text := why
		r.LastError = &text
	}); err != nil {
		log.Error().Err(err).
			Str("tracking_id", task.trackingID.String()).
			Msg("[Pipeline] Cannot mark flushed task")
	}

	p.metrics.RecordDeadLetter()
}

// ================================================
// DELAY QUEUE
// ================================================

// delayQueue holds deferred tasks in a min-heap by due time and feeds
// them back to the worker queue when due. Workers never sleep on a
// backoff; the single timer goroutine owns all waiting.
type delayQueue struct {
	mu    sync.Mutex
	items delayHeap
	wake  chan struct{}
	stop  chan struct{}
	out   chan<- *deliveryTask
	clock shared.Clock
}

func newDelayQueue(out chan<- *deliveryTask, clock shared.Clock) *delayQueue {
	return &delayQueue{
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		out:   out,
		clock: clock,
	}
}

func (q *delayQueue) push(task *deliveryTask) {
	q.mu.Lock()
	heap.Push(&q.items, task)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *delayQueue) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.mu.Lock()
		var wait time.Duration = time.Hour
		now := q.clock.Now()
		for len(q.items) > 0 {
			next := q.items[0]
			if next.notBefore.After(now) {
				wait = next.notBefore.Sub(now)
				break
			}
			heap.Pop(&q.items)
			q.mu.Unlock()
			select {
			case q.out <- next:
			case <-q.stop:
				return
			}
			q.mu.Lock()
			now = q.clock.Now()
		}
		q.mu.Unlock()

		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-q.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-q.stop:
			return
		}
	}
}

// drain stops the feeder and returns everything still pending.
func (q *delayQueue) drain() []*deliveryTask {
	close(q.stop)

	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*deliveryTask, len(q.items))
	copy(out, q.items)
	q.items = nil
	return out
}

type delayHeap []*deliveryTask

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].notBefore.Before(h[j].notBefore) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x interface{}) { *h = append(*h, x.(*deliveryTask)) }
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
