package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
	"notification-service/internal/infrastructure/userinfo"
	"notification-service/internal/shared"
)

// fakeNotificationRepo keeps in-app notifications in memory and counts
// digest reads per user.
type fakeNotificationRepo struct {
	mu            sync.Mutex
	rows          map[uuid.UUID]*model.Notification
	undigestedFor map[uuid.UUID]int
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{
		rows:          make(map[uuid.UUID]*model.Notification),
		undigestedFor: make(map[uuid.UUID]int),
	}
}

func (r *fakeNotificationRepo) add(n *model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *n
	r.rows[n.ID] = &cp
}

func (r *fakeNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	r.add(n)
	return nil
}

func (r *fakeNotificationRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rows[id]
	if !ok {
		return nil, model.ErrNotificationNotFound
	}
	cp := *n
	return &cp, nil
}

func (r *fakeNotificationRepo) ListByUserID(_ context.Context, userID uuid.UUID, status *string, limit, offset int) ([]model.Notification, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.rows {
		if n.UserID == userID && (status == nil || n.Status == *status) {
			out = append(out, *n)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeNotificationRepo) MarkAsRead(_ context.Context, ids []uuid.UUID, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var updated int
	for _, id := range ids {
		n, ok := r.rows[id]
		if !ok || n.UserID != userID || n.Status != model.StatusUnread {
			continue
		}
		n.Status = model.StatusRead
		n.ReadAt = &now
		updated++
	}
	return updated, nil
}

func (r *fakeNotificationRepo) MarkAllAsRead(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var updated int
	for _, n := range r.rows {
		if n.UserID == userID && n.Status == model.StatusUnread {
			n.Status = model.StatusRead
			n.ReadAt = &now
			updated++
		}
	}
	return updated, nil
}

func (r *fakeNotificationRepo) Archive(_ context.Context, id uuid.UUID, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.rows[id]
	if !ok || n.UserID != userID {
		return model.ErrNotificationNotFound
	}
	n.Status = model.StatusArchived
	return nil
}

func (r *fakeNotificationRepo) GetUnreadCount(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int
	for _, n := range r.rows {
		if n.UserID == userID && n.Status == model.StatusUnread {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) ListUndigested(_ context.Context, userID uuid.UUID, since time.Time) ([]model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.undigestedFor[userID]++
	var out []model.Notification
	for _, n := range r.rows {
		if n.UserID == userID && n.DigestProcessedAt == nil && n.CreatedAt.After(since) {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (r *fakeNotificationRepo) MarkDigestProcessed(_ context.Context, _ pgx.Tx, ids []uuid.UUID, processedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed int
	for _, id := range ids {
		n, ok := r.rows[id]
		if !ok || n.DigestProcessedAt != nil {
			continue
		}
		at := processedAt
		n.DigestProcessedAt = &at
		claimed++
	}
	return claimed, nil
}

func (r *fakeNotificationRepo) DeleteOldRead(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int
	for id, n := range r.rows {
		if n.Status == model.StatusRead && n.CreatedAt.Before(before) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

// fixedClock pins Now for schedule tests.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time                  { return c.now }
func (c fixedClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func testDigestConfig() config.DigestConfig {
	return config.DigestConfig{
		DailyCron:   "0 8 * * *",
		WeeklyCron:  "0 8 * * 1",
		PerUserTime: 5 * time.Second,
		TopPerType:  5,
	}
}

func newTestDigestService(t *testing.T, notifRepo *fakeNotificationRepo, prefRepo *fakePreferenceRepo, users *userinfo.Provider, clock shared.Clock) DigestService {
	t.Helper()
	svc, err := NewDigestService(
		nil,
		notifRepo,
		prefRepo,
		newTestPreferenceService(prefRepo),
		nil,
		users,
		testDigestConfig(),
		clock,
	)
	require.NoError(t, err)
	return svc
}

func inAppNotification(userID uuid.UUID, notificationType, title string, age time.Duration) *model.Notification {
	return &model.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      notificationType,
		Title:     title,
		Content:   "body",
		Status:    model.StatusUnread,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestDigestSummary(t *testing.T) {
	notifRepo := newFakeNotificationRepo()
	prefRepo := newFakePreferenceRepo()
	svc := newTestDigestService(t, notifRepo, prefRepo, nil, nil)
	ctx := context.Background()
	userID := uuid.New()

	notifRepo.add(inAppNotification(userID, model.TypeHiveActivity, "New post", time.Hour))
	notifRepo.add(inAppNotification(userID, model.TypeHiveActivity, "New reply", 2*time.Hour))
	notifRepo.add(inAppNotification(userID, model.TypeSessionReminder, "Session soon", 3*time.Hour))

	// Outside the daily window.
	notifRepo.add(inAppNotification(userID, model.TypeHiveActivity, "Old post", 48*time.Hour))

	// Already included in a previous digest.
	digested := inAppNotification(userID, model.TypeHiveActivity, "Digested", time.Hour)
	now := time.Now()
	digested.DigestProcessedAt = &now
	notifRepo.add(digested)

	summary, err := svc.Summary(ctx, userID, model.FrequencyDailyDigest)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalCount)
	assert.Equal(t, 2, summary.TypeBreakdown[model.TypeHiveActivity])
	assert.Equal(t, 1, summary.TypeBreakdown[model.TypeSessionReminder])

	t.Run("weekly window reaches further back", func(t *testing.T) {
		summary, err := svc.Summary(ctx, userID, model.FrequencyWeeklyDigest)
		require.NoError(t, err)
		assert.Equal(t, 4, summary.TotalCount)
	})

	t.Run("rejects non-digest frequencies", func(t *testing.T) {
		_, err := svc.Summary(ctx, userID, model.FrequencyImmediate)
		assert.ErrorIs(t, err, model.ErrInvalidFrequency)
	})
}

func TestDigestSummaryText(t *testing.T) {
	svc := newTestDigestService(t, newFakeNotificationRepo(), newFakePreferenceRepo(), nil, nil)
	ds := svc.(*digestService)
	userID := uuid.New()

	var notifications []model.Notification
	for i := 0; i < 7; i++ {
		notifications = append(notifications, *inAppNotification(userID, model.TypeHiveActivity, "Hive post", time.Hour))
	}
	notifications = append(notifications, *inAppNotification(userID, model.TypeSessionReminder, "Session soon", time.Hour))

	text := ds.summaryText(notifications)
	assert.Contains(t, text, model.TypeHiveActivity+" (7)")
	assert.Contains(t, text, "... and 2 more")
	assert.Contains(t, text, model.TypeSessionReminder+" (1)")
	assert.NotContains(t, text, "... and 0 more")
}

func TestDigestRunRespectsLocalSchedule(t *testing.T) {
	notifRepo := newFakeNotificationRepo()
	prefRepo := newFakePreferenceRepo()
	ctx := context.Background()

	// 08:30 UTC: past the 08:00 digest point in UTC, not yet in Tokyo
	// terms (17:30 local, fired hours ago) and long past in Samoa.
	clock := fixedClock{now: time.Date(2026, 7, 10, 8, 30, 0, 0, time.UTC)}

	dueUser := uuid.New()
	notDueUser := uuid.New()

	source := userinfo.NewStaticSource()
	source.Put(model.UserInfo{UserID: dueUser, Email: "due@example.com", Timezone: "UTC"})
	source.Put(model.UserInfo{UserID: notDueUser, Email: "later@example.com", Timezone: "Asia/Tokyo"})
	users := userinfo.NewProvider(source, testCacheConfig())

	for _, id := range []uuid.UUID{dueUser, notDueUser} {
		pref := defaultPreference(id, model.TypeHiveActivity)
		pref.Frequency = model.FrequencyDailyDigest
		_, err := prefRepo.Upsert(ctx, pref)
		require.NoError(t, err)
	}

	svc := newTestDigestService(t, notifRepo, prefRepo, users, clock)
	require.NoError(t, svc.RunDaily(ctx))

	// Only the due user was examined; with nothing undigested the run
	// stops before claiming anything.
	assert.Equal(t, 1, notifRepo.undigestedFor[dueUser])
	assert.Zero(t, notifRepo.undigestedFor[notDueUser])
}

func TestNotificationServiceInbox(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := NewNotificationService(repo)
	ctx := context.Background()
	userID := uuid.New()

	first := inAppNotification(userID, model.TypeHiveActivity, "one", time.Hour)
	second := inAppNotification(userID, model.TypeHiveActivity, "two", time.Hour)
	repo.add(first)
	repo.add(second)

	count, err := svc.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	updated, err := svc.MarkAsRead(ctx, userID, []uuid.UUID{first.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	t.Run("empty id list is a no-op", func(t *testing.T) {
		updated, err := svc.MarkAsRead(ctx, userID, nil)
		require.NoError(t, err)
		assert.Zero(t, updated)
	})

	t.Run("another user cannot mark or archive", func(t *testing.T) {
		updated, err := svc.MarkAsRead(ctx, uuid.New(), []uuid.UUID{second.ID})
		require.NoError(t, err)
		assert.Zero(t, updated)

		err = svc.Archive(ctx, uuid.New(), second.ID)
		assert.ErrorIs(t, err, model.ErrNotificationNotFound)
	})

	updated, err = svc.MarkAllAsRead(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	require.NoError(t, svc.Archive(ctx, userID, second.ID))

	count, err = svc.UnreadCount(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotificationServiceCleanupOldRead(t *testing.T) {
	repo := newFakeNotificationRepo()
	svc := NewNotificationService(repo)
	ctx := context.Background()
	userID := uuid.New()

	oldRead := inAppNotification(userID, model.TypeHiveActivity, "old", 60*24*time.Hour)
	oldRead.Status = model.StatusRead
	repo.add(oldRead)

	oldUnread := inAppNotification(userID, model.TypeHiveActivity, "unread", 60*24*time.Hour)
	repo.add(oldUnread)

	freshRead := inAppNotification(userID, model.TypeHiveActivity, "fresh", time.Hour)
	freshRead.Status = model.StatusRead
	repo.add(freshRead)

	deleted, err := svc.CleanupOldRead(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.GetByID(ctx, oldRead.ID)
	assert.ErrorIs(t, err, model.ErrNotificationNotFound)
	_, err = repo.GetByID(ctx, oldUnread.ID)
	assert.NoError(t, err)
}
