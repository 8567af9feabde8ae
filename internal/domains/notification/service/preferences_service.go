package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
	"notification-service/internal/domains/notification/repository"
	"notification-service/internal/infrastructure/audit"
	"notification-service/internal/shared"
)

// ================================================
// PREFERENCE SERVICE
// ================================================

// PreferenceService resolves and mutates per (user, type) delivery
// settings. A user with no stored row gets the built-in defaults; rows
// are only materialized on the first mutation.
type PreferenceService interface {
	Get(ctx context.Context, userID uuid.UUID, notificationType string) (*model.NotificationPreference, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.NotificationPreference, error)
	Update(ctx context.Context, userID uuid.UUID, notificationType string, req model.UpdatePreferenceRequest) (*model.NotificationPreference, error)
	Delete(ctx context.Context, userID uuid.UUID, notificationType string) error
	SeedDefaults(ctx context.Context, userID uuid.UUID) error

	// Pipeline gates
	IsEnabled(ctx context.Context, userID uuid.UUID, notificationType, channel string) (bool, error)
	Frequency(ctx context.Context, userID uuid.UUID, notificationType string) (string, error)
	InQuietHours(ctx context.Context, userID uuid.UUID, notificationType string, at time.Time) (bool, time.Time, error)
}

type preferenceService struct {
	repo  repository.PreferenceRepository
	audit *audit.Logger
	clock shared.Clock
}

func NewPreferenceService(repo repository.PreferenceRepository, a *audit.Logger, clock shared.Clock) PreferenceService {
	if clock == nil {
		clock = shared.SystemClock()
	}
	return &preferenceService{repo: repo, audit: a, clock: clock}
}

// defaultPreference is the behavior of a user who never touched their
// settings: everything on, immediate delivery, no quiet hours.
func defaultPreference(userID uuid.UUID, notificationType string) *model.NotificationPreference {
	return &model.NotificationPreference{
		UserID:       userID,
		Type:         notificationType,
		InAppEnabled: true,
		EmailEnabled: true,
		PushEnabled:  true,
		Frequency:    model.FrequencyImmediate,
		Timezone:     "UTC",
	}
}

// Get returns the stored preference, or the defaults when absent.
// Reading never persists anything.
func (s *preferenceService) Get(ctx context.Context, userID uuid.UUID, notificationType string) (*model.NotificationPreference, error) {
	if !model.IsValidType(notificationType) {
		return nil, model.ErrInvalidNotificationType
	}

	pref, err := s.repo.GetByUserAndType(ctx, userID, notificationType)
	if err != nil {
		if errors.Is(err, model.ErrPreferenceNotFound) {
			return defaultPreference(userID, notificationType), nil
		}
		return nil, err
	}
	return pref, nil
}

// ListForUser returns a full preference set, one entry per known type,
// merging stored rows over the defaults.
func (s *preferenceService) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.NotificationPreference, error) {
	stored, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	byType := make(map[string]model.NotificationPreference, len(stored))
	for _, p := range stored {
		byType[p.Type] = p
	}

	out := make([]model.NotificationPreference, 0, len(model.ValidTypes))
	for _, t := range model.ValidTypes {
		if p, ok := byType[t]; ok {
			out = append(out, p)
		} else {
			out = append(out, *defaultPreference(userID, t))
		}
	}
	return out, nil
}

// Update applies a partial patch on top of the current effective
// preference and persists the result. The audit event carries only the
// fields that actually changed.
func (s *preferenceService) Update(ctx context.Context, userID uuid.UUID, notificationType string, req model.UpdatePreferenceRequest) (*model.NotificationPreference, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	current, err := s.Get(ctx, userID, notificationType)
	if err != nil {
		return nil, err
	}

	next := *current
	diff := make(map[string]interface{})

	if req.InAppEnabled != nil && *req.InAppEnabled != current.InAppEnabled {
		next.InAppEnabled = *req.InAppEnabled
		diff["in_app_enabled"] = *req.InAppEnabled
	}
	if req.EmailEnabled != nil && *req.EmailEnabled != current.EmailEnabled {
		next.EmailEnabled = *req.EmailEnabled
		diff["email_enabled"] = *req.EmailEnabled
	}
	if req.PushEnabled != nil && *req.PushEnabled != current.PushEnabled {
		next.PushEnabled = *req.PushEnabled
		diff["push_enabled"] = *req.PushEnabled
	}
	if req.Frequency != nil && *req.Frequency != current.Frequency {
		next.Frequency = *req.Frequency
		diff["frequency"] = *req.Frequency
	}
	if req.Timezone != nil && *req.Timezone != current.Timezone {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return nil, fmt.Errorf("timezone %q: %w", *req.Timezone, model.ErrInvalidQuietHours)
		}
		next.Timezone = *req.Timezone
		diff["timezone"] = *req.Timezone
	}
	if req.QuietHoursStart != nil {
		t, err := parseClock(*req.QuietHoursStart)
		if err != nil {
			return nil, err
		}
		next.QuietHoursStart = t
		diff["quiet_hours_start"] = *req.QuietHoursStart
	}
	if req.QuietHoursEnd != nil {
		t, err := parseClock(*req.QuietHoursEnd)
		if err != nil {
			return nil, err
		}
		next.QuietHoursEnd = t
		diff["quiet_hours_end"] = *req.QuietHoursEnd
	}

	// Quiet hours are all-or-nothing.
	if (next.QuietHoursStart == nil) != (next.QuietHoursEnd == nil) {
		return nil, model.ErrInvalidQuietHours
	}

	if len(diff) == 0 {
		return current, nil
	}

	created, err := s.repo.Upsert(ctx, &next)
	if err != nil {
		return nil, err
	}

	s.audit.PreferenceChanged(userID.String(), notificationType, diff, created)
	return &next, nil
}

// Delete removes the stored row, restoring the defaults.
func (s *preferenceService) Delete(ctx context.Context, userID uuid.UUID, notificationType string) error {
	if err := s.repo.Delete(ctx, userID, notificationType); err != nil {
		return err
	}
	s.audit.PreferenceDeleted(userID.String(), notificationType)
	return nil
}

// SeedDefaults materializes one row per type for a new user. Marketing
// email starts off, weekly summaries batch into the weekly digest, and
// security-relevant types stay immediate. Existing rows are preserved.
func (s *preferenceService) SeedDefaults(ctx context.Context, userID uuid.UUID) error {
	existing, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[p.Type] = true
	}

	for _, t := range model.ValidTypes {
		if have[t] {
			continue
		}

		pref := defaultPreference(userID, t)
		switch t {
		case model.TypeMarketing:
			pref.EmailEnabled = false
		case model.TypeWeeklySummary:
			pref.Frequency = model.FrequencyWeeklyDigest
		}

		if _, err := s.repo.Upsert(ctx, pref); err != nil {
			return fmt.Errorf("seed defaults for %s: %w", t, err)
		}
	}

	log.Info().
		Str("user_id", userID.String()).
		Msg("[PreferenceService] Default preferences seeded")
	return nil
}

// ================================================
// PIPELINE GATES
// ================================================

// IsEnabled reports whether the channel is open for this (user, type).
// A frequency of off suppresses every channel.
func (s *preferenceService) IsEnabled(ctx context.Context, userID uuid.UUID, notificationType, channel string) (bool, error) {
	pref, err := s.Get(ctx, userID, notificationType)
	if err != nil {
		return false, err
	}
	if pref.Frequency == model.FrequencyOff {
		return false, nil
	}
	return pref.ChannelEnabled(channel), nil
}

// Frequency returns the effective delivery frequency.
func (s *preferenceService) Frequency(ctx context.Context, userID uuid.UUID, notificationType string) (string, error) {
	pref, err := s.Get(ctx, userID, notificationType)
	if err != nil {
		return "", err
	}
	return pref.Frequency, nil
}

// InQuietHours reports whether at falls inside the user's quiet window
// and, when it does, when the window ends in the user's timezone. A
// window wrapping midnight (22:00 to 07:00) covers both the late
// evening and the early morning.
func (s *preferenceService) InQuietHours(ctx context.Context, userID uuid.UUID, notificationType string, at time.Time) (bool, time.Time, error) {
	pref, err := s.Get(ctx, userID, notificationType)
	if err != nil {
		return false, time.Time{}, err
	}
	if pref.QuietHoursStart == nil || pref.QuietHoursEnd == nil {
		return false, time.Time{}, nil
	}

	loc, err := time.LoadLocation(pref.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)

	now := local.Hour()*60 + local.Minute()
	start := pref.QuietHoursStart.Hour()*60 + pref.QuietHoursStart.Minute()
	end := pref.QuietHoursEnd.Hour()*60 + pref.QuietHoursEnd.Minute()

	var quiet bool
	if start <= end {
		quiet = now >= start && now < end
	} else {
		quiet = now >= start || now < end
	}
	if !quiet {
		return false, time.Time{}, nil
	}

	endToday := time.Date(local.Year(), local.Month(), local.Day(),
		pref.QuietHoursEnd.Hour(), pref.QuietHoursEnd.Minute(), 0, 0, loc)
	if !endToday.After(local) {
		endToday = endToday.AddDate(0, 0, 1)
	}

	return true, endToday, nil
}

// parseClock converts "HH:MM" into a time-of-day value.
func parseClock(s string) (*time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", s, model.ErrInvalidQuietHours)
	}
	return &t, nil
}
