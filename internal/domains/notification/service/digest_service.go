package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/repository"
	"notification-service/internal/infrastructure/userinfo"
	"notification-service/internal/shared"
)

// ================================================
// DIGEST SERVICE
// ================================================

// DigestService batches deferred notifications into periodic summary
// emails. The sweep runs hourly; each user is processed when their
// local time passes the configured digest point, so an 08:00 digest
// means 08:00 wherever the user lives.
type DigestService interface {
	RunDaily(ctx context.Context) error
	RunWeekly(ctx context.Context) error
	ProcessUser(ctx context.Context, userID uuid.UUID, frequency string) error
	Summary(ctx context.Context, userID uuid.UUID, frequency string) (*model.DigestSummary, error)
}

type digestService struct {
	db        *pgxpool.Pool
	notifRepo repository.NotificationRepository
	prefRepo  repository.PreferenceRepository
	prefs     PreferenceService
	pipeline  DeliveryPipeline
	users     *userinfo.Provider
	cfg       config.DigestConfig
	clock     shared.Clock

	dailySchedule  cron.Schedule
	weeklySchedule cron.Schedule
}

func NewDigestService(
	db *pgxpool.Pool,
	notifRepo repository.NotificationRepository,
	prefRepo repository.PreferenceRepository,
	prefs PreferenceService,
	pipeline DeliveryPipeline,
	users *userinfo.Provider,
	cfg config.DigestConfig,
	clock shared.Clock,
) (DigestService, error) {
	if clock == nil {
		clock = shared.SystemClock()
	}

	daily, err := cron.ParseStandard(cfg.DailyCron)
	if err != nil {
		return nil, fmt.Errorf("daily digest cron %q: %w", cfg.DailyCron, err)
	}
	weekly, err := cron.ParseStandard(cfg.WeeklyCron)
	if err != nil {
		return nil, fmt.Errorf("weekly digest cron %q: %w", cfg.WeeklyCron, err)
	}

	return &digestService{
		db:             db,
		notifRepo:      notifRepo,
		prefRepo:       prefRepo,
		prefs:          prefs,
		pipeline:       pipeline,
		users:          users,
		cfg:            cfg,
		clock:          clock,
		dailySchedule:  daily,
		weeklySchedule: weekly,
	}, nil
}

// RunDaily sweeps users on the daily digest.
func (s *digestService) RunDaily(ctx context.Context) error {
	return s.run(ctx, model.FrequencyDailyDigest, s.dailySchedule)
}

// RunWeekly sweeps users on the weekly digest.
func (s *digestService) RunWeekly(ctx context.Context) error {
	return s.run(ctx, model.FrequencyWeeklyDigest, s.weeklySchedule)
}

// run processes every user subscribed to the frequency whose local
// digest point fell inside the last sweep interval. One user's failure
// never stops the sweep.
func (s *digestService) run(ctx context.Context, frequency string, schedule cron.Schedule) error {
	userIDs, err := s.prefRepo.ListUserIDsByFrequency(ctx, frequency)
	if err != nil {
		return fmt.Errorf("digest sweep: %w", err)
	}

	var processed, failed, skipped int
	for _, userID := range userIDs {
		due, err := s.isDue(ctx, userID, schedule)
		if err != nil {
			failed++
			log.Error().Err(err).
				Str("user_id", userID.String()).
				Msg("[Digest] Cannot determine schedule")
			continue
		}
		if !due {
			skipped++
			continue
		}

		userCtx, cancel := context.WithTimeout(ctx, s.cfg.PerUserTime)
		err = s.ProcessUser(userCtx, userID, frequency)
		cancel()

		if err != nil {
			failed++
			log.Error().Err(err).
				Str("user_id", userID.String()).
				Str("frequency", frequency).
				Msg("[Digest] User processing failed")
			continue
		}
		processed++
	}

	log.Info().
		Str("frequency", frequency).
		Int("processed", processed).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("[Digest] Sweep finished")
	return nil
}

// isDue reports whether the user's local digest point passed within
// the last hour, matching the hourly sweep cadence.
func (s *digestService) isDue(ctx context.Context, userID uuid.UUID, schedule cron.Schedule) (bool, error) {
	info, err := s.users.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}

	loc, err := time.LoadLocation(info.Timezone)
	if err != nil {
		loc = time.UTC
	}

	localNow := s.clock.Now().In(loc)
	lastFire := schedule.Next(localNow.Add(-time.Hour))
	return !lastFire.After(localNow), nil
}

// ProcessUser folds the user's pending notifications into one digest
// email. Included rows are stamped in a single transaction before the
// email is enqueued; a concurrent run claims nothing and sends nothing.
func (s *digestService) ProcessUser(ctx context.Context, userID uuid.UUID, frequency string) error {
	quiet, _, err := s.prefs.InQuietHours(ctx, userID, model.TypeDigest, s.clock.Now())
	if err != nil {
		return err
	}
	if quiet {
		log.Debug().
			Str("user_id", userID.String()).
			Msg("[Digest] User in quiet hours, deferred to next sweep")
		return nil
	}

	cutoff := s.cutoff(frequency)
	notifications, err := s.notifRepo.ListUndigested(ctx, userID, cutoff)
	if err != nil {
		return err
	}
	if len(notifications) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(notifications))
	for i, n := range notifications {
		ids[i] = n.ID
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin digest claim: %w", err)
	}
	defer tx.Rollback(ctx)

	claimed, err := s.notifRepo.MarkDigestProcessed(ctx, tx, ids, s.clock.Now())
	if err != nil {
		return err
	}
	if claimed == 0 {
		// Another run already took these rows.
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit digest claim: %w", err)
	}

	req := model.NotificationRequest{
		ID:       uuid.New(),
		UserID:   userID,
		Type:     model.TypeDigest,
		Language: model.DefaultLanguage,
		Priority: model.PriorityNormal,
		Variables: model.JSONB{
			"summary": s.summaryText(notifications),
			"total":   float64(len(notifications)),
			"period":  periodLabel(frequency),
		},
		RequestedChannels: []string{model.ChannelEmail},
		CreatedAt:         s.clock.Now(),
	}

	if _, err := s.pipeline.Enqueue(ctx, req); err != nil {
		// Rows are already claimed; the content survives in-app, only
		// the batch email is lost until the user is enqueued again.
		return fmt.Errorf("enqueue digest email: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("frequency", frequency).
		Int("items", len(notifications)).
		Msg("[Digest] Digest enqueued")
	return nil
}

// Summary is the read-only view of what a digest run would include.
func (s *digestService) Summary(ctx context.Context, userID uuid.UUID, frequency string) (*model.DigestSummary, error) {
	if !model.IsDigestFrequency(frequency) {
		return nil, model.ErrInvalidFrequency
	}

	cutoff := s.cutoff(frequency)
	notifications, err := s.notifRepo.ListUndigested(ctx, userID, cutoff)
	if err != nil {
		return nil, err
	}

	breakdown := make(map[string]int)
	for _, n := range notifications {
		breakdown[n.Type]++
	}

	return &model.DigestSummary{
		UserID:        userID,
		Frequency:     frequency,
		TotalCount:    len(notifications),
		TypeBreakdown: breakdown,
		Cutoff:        cutoff,
	}, nil
}

// ================================================
// CONTENT
// ================================================

// summaryText groups notifications by type and keeps the newest ones
// per group, with an overflow line when a group is larger.
func (s *digestService) summaryText(notifications []model.Notification) string {
	groups := make(map[string][]model.Notification)
	var order []string
	for _, n := range notifications {
		if _, ok := groups[n.Type]; !ok {
			order = append(order, n.Type)
		}
		groups[n.Type] = append(groups[n.Type], n)
	}

	var b strings.Builder
	for _, t := range order {
		group := groups[t]
		fmt.Fprintf(&b, "%s (%d)\n", t, len(group))

		shown := group
		if len(shown) > s.cfg.TopPerType {
			shown = shown[:s.cfg.TopPerType]
		}
		for _, n := range shown {
			fmt.Fprintf(&b, "  - %s\n", n.Title)
		}
		if more := len(group) - len(shown); more > 0 {
			fmt.Fprintf(&b, "  ... and %d more\n", more)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func (s *digestService) cutoff(frequency string) time.Time {
	now := s.clock.Now()
	if frequency == model.FrequencyWeeklyDigest {
		return now.Add(-7 * 24 * time.Hour)
	}
	return now.Add(-24 * time.Hour)
}

func periodLabel(frequency string) string {
	if frequency == model.FrequencyWeeklyDigest {
		return "weekly"
	}
	return "daily"
}
